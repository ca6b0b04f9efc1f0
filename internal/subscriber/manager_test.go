package subscriber

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
)

// fakeNtfy simulates the remote service: poll requests answer immediately,
// streaming requests optionally replay canned lines and then hold the
// connection open until the client goes away or the server closes.
type fakeNtfy struct {
	mu          sync.Mutex
	subscribes  int32
	polls       int32
	streamLines []string
	holdOpen    bool
	status      int // non-zero forces this status on subscribe
}

func (f *fakeNtfy) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("poll") == "1" {
			atomic.AddInt32(&f.polls, 1)
			return // empty poll window
		}
		f.mu.Lock()
		status := f.status
		lines := append([]string(nil), f.streamLines...)
		hold := f.holdOpen
		f.mu.Unlock()

		if status != 0 {
			http.Error(w, "limit reached", status)
			return
		}
		atomic.AddInt32(&f.subscribes, 1)
		fl, _ := w.(http.Flusher)
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
		if fl != nil {
			fl.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	})
}

func (f *fakeNtfy) subscribeCount() int32 { return atomic.LoadInt32(&f.subscribes) }

func newTestManager(t *testing.T, url string) (*Manager, *inbox.Inbox) {
	t.Helper()
	b := inbox.New(inbox.Options{})
	mgr := New(Config{
		Client: ntfy.New(ntfy.Config{BaseURL: url, Timeout: 2 * time.Second}),
		Inbox:  b,
		Topic:  "test-topic",
	})
	return mgr, b
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func TestEnsureSubscriptionIsIdempotent(t *testing.T) {
	fake := &fakeNtfy{holdOpen: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	mgr, _ := newTestManager(t, srv.URL)
	defer mgr.StopSubscription()

	if err := mgr.EnsureSubscription(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := mgr.EnsureSubscription(); err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if !waitUntil(t, 2*time.Second, func() bool { return fake.subscribeCount() == 1 }) {
		t.Fatalf("want exactly 1 stream, got %d", fake.subscribeCount())
	}
	if !mgr.Active() {
		t.Fatalf("subscription should be active")
	}
	// still one after a settle period
	time.Sleep(100 * time.Millisecond)
	if got := fake.subscribeCount(); got != 1 {
		t.Fatalf("second ensure started another stream: %d", got)
	}
}

func TestEnsureSubscriptionRequiresTopic(t *testing.T) {
	mgr := New(Config{
		Client: ntfy.New(ntfy.Config{BaseURL: "http://127.0.0.1:0"}),
		Inbox:  inbox.New(inbox.Options{}),
	})
	if err := mgr.EnsureSubscription(); err != ErrNoTopic {
		t.Fatalf("want ErrNoTopic, got %v", err)
	}
}

func TestStreamFeedsInboxAndDoesNotReconnect(t *testing.T) {
	fake := &fakeNtfy{streamLines: []string{
		`{"id":"m1","event":"message","time":100}`,
		`{"event":"keepalive"}`,
		`not json at all`,
		`{"id":"m2","event":"message","time":200}`,
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	mgr, b := newTestManager(t, srv.URL)
	if err := mgr.EnsureSubscription(); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	if !waitUntil(t, 2*time.Second, func() bool { return b.Version() == 2 }) {
		t.Fatalf("want 2 cached messages, got version %d", b.Version())
	}
	snap := b.Snapshot()
	if *snap[0].ID != "m2" || *snap[1].ID != "m1" {
		t.Fatalf("unexpected order: %+v", snap)
	}
	if b.LastCursor() != "m2" {
		t.Fatalf("cursor: want m2, got %q", b.LastCursor())
	}

	// the stream closed naturally; the task must exit without reconnecting
	if !waitUntil(t, 2*time.Second, func() bool { return !mgr.Active() }) {
		t.Fatalf("subscription should be inactive after stream closure")
	}
	time.Sleep(100 * time.Millisecond)
	if got := fake.subscribeCount(); got != 1 {
		t.Fatalf("no automatic reconnect expected, got %d streams", got)
	}

	// a caller re-arms it explicitly
	if err := mgr.EnsureSubscription(); err != nil {
		t.Fatalf("re-arm: %v", err)
	}
	if !waitUntil(t, 2*time.Second, func() bool { return fake.subscribeCount() == 2 }) {
		t.Fatalf("re-arm did not open a new stream")
	}
	mgr.StopSubscription()
}

func TestStreamPanicReachesCrashHook(t *testing.T) {
	fake := &fakeNtfy{streamLines: []string{
		`{"id":"m1","event":"message","time":100}`,
	}}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b := inbox.New(inbox.Options{})
	b.SetCursor("m0") // concrete cursor, no bootstrap poll
	b.SetOnStored(func(ntfy.Message) { panic("archive exploded") })

	crashed := make(chan any, 1)
	mgr := New(Config{
		Client:  ntfy.New(ntfy.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}),
		Inbox:   b,
		Topic:   "test-topic",
		OnPanic: func(r any) { crashed <- r },
	})
	if err := mgr.EnsureSubscription(); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	select {
	case r := <-crashed:
		if r != "archive exploded" {
			t.Fatalf("unexpected panic value: %v", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("panic on the streaming task never reached the crash hook")
	}
	// the task torn down by the panic must not pin the active handle
	if !waitUntil(t, 2*time.Second, func() bool { return !mgr.Active() }) {
		t.Fatalf("subscription still active after task panic")
	}
}

func TestRateLimitSetsBackoffDeadline(t *testing.T) {
	fake := &fakeNtfy{status: http.StatusTooManyRequests}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	b := inbox.New(inbox.Options{})
	// a concrete cursor skips the bootstrap poll so the 429 comes from the
	// streaming request itself
	b.SetCursor("m1")
	mgr := New(Config{
		Client:  ntfy.New(ntfy.Config{BaseURL: srv.URL, Timeout: 2 * time.Second}),
		Inbox:   b,
		Topic:   "test-topic",
		Backoff: time.Minute,
	})

	if err := mgr.EnsureSubscription(); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !waitUntil(t, 2*time.Second, func() bool { return !mgr.BackoffUntil().IsZero() }) {
		t.Fatalf("429 should set a backoff deadline")
	}
	if until := mgr.BackoffUntil(); time.Until(until) < 30*time.Second {
		t.Fatalf("deadline too near: %v", until)
	}
}

func TestSwitchTopicIsFullReset(t *testing.T) {
	fake := &fakeNtfy{holdOpen: true}
	srv := httptest.NewServer(fake.handler())
	defer srv.Close()

	mgr, b := newTestManager(t, srv.URL)
	defer mgr.StopSubscription()

	b.Store(ntfy.Message{ID: sp("old"), Time: ip(1)})
	if b.Version() != 1 {
		t.Fatalf("setup: version %d", b.Version())
	}

	if err := mgr.SwitchTopic("other-topic", ""); err != nil {
		t.Fatalf("switch: %v", err)
	}
	if mgr.Topic() != "other-topic" {
		t.Fatalf("topic: got %q", mgr.Topic())
	}
	if b.Len() != 0 || b.Version() != 0 {
		t.Fatalf("switch must clear cache: len=%d version=%d", b.Len(), b.Version())
	}
	if got := b.MessagesSince("", 0); len(got) != 0 {
		t.Fatalf("after switch MessagesSince must be empty, got %d", len(got))
	}
	if !waitUntil(t, 2*time.Second, func() bool { return mgr.Active() }) {
		t.Fatalf("switch must start a new subscription")
	}
}

func TestSwitchTopicRequiresTopic(t *testing.T) {
	mgr, _ := newTestManager(t, "http://127.0.0.1:0")
	if err := mgr.SwitchTopic("", ""); err != ErrNoTopic {
		t.Fatalf("want ErrNoTopic, got %v", err)
	}
}

func sp(s string) *string { return &s }
func ip(v int64) *int64   { return &v }
