// Package subscriber owns the single live streaming subscription to the
// remote topic: starting it, stopping it, switching topics, and the
// rate-limit backoff guard for hydration fetches.
package subscriber

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/metrics"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
)

// ErrNoTopic is returned by operations that require a configured topic.
var ErrNoTopic = errors.New("subscriber: no topic configured")

// ErrRateLimited is returned when a hydration attempt falls inside the
// backoff window set by a prior 429 response.
var ErrRateLimited = errors.New("subscriber: rate limited by remote service")

// Config configures a Manager.
type Config struct {
	Client       *ntfy.Client
	Inbox        *inbox.Inbox
	Topic        string
	InitialSince string        // backlog token used on first subscribe and after topic switch
	Backoff      time.Duration // refusal window after a 429, default 30s
	MinRehydrate time.Duration // minimum interval between bootstrap polls, default 10s
	Logger       *slog.Logger

	// OnPanic, when set, receives any panic recovered from the streaming
	// task. The process owner uses it to finalize its journal entry before
	// dying. When nil the panic propagates and kills the process untracked.
	OnPanic func(any)
}

// Manager keeps at most one streaming subscription alive. The zero-or-one
// invariant is held by a single guarded subscription id: the streaming
// goroutine only clears state that still carries its own id, so a stale
// subscription's teardown cannot clobber a newer one.
type Manager struct {
	mu sync.Mutex

	client *ntfy.Client
	inbox  *inbox.Inbox
	logger *slog.Logger

	topic        string
	initialSince string
	backoff      time.Duration
	minRehydrate time.Duration

	onPanic func(any)

	subID           string
	cancel          context.CancelFunc
	done            chan struct{}
	noHydrateBefore time.Time
	lastHydrate     time.Time
}

// New creates a Manager. No subscription is started.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 30 * time.Second
	}
	if cfg.MinRehydrate <= 0 {
		cfg.MinRehydrate = 10 * time.Second
	}
	if cfg.InitialSince == "" {
		cfg.InitialSince = "all"
	}
	return &Manager{
		client:       cfg.Client,
		inbox:        cfg.Inbox,
		logger:       cfg.Logger,
		onPanic:      cfg.OnPanic,
		topic:        cfg.Topic,
		initialSince: cfg.InitialSince,
		backoff:      cfg.Backoff,
		minRehydrate: cfg.MinRehydrate,
	}
}

// Topic returns the currently configured topic, "" when none.
func (m *Manager) Topic() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.topic
}

// Active reports whether a subscription task is currently running.
func (m *Manager) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subID != ""
}

// BackoffUntil returns the current no-hydrate deadline (zero when clear).
func (m *Manager) BackoffUntil() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.noHydrateBefore
}

// EnsureSubscription starts the streaming task unless one is already active
// for the current topic. It is idempotent and returns without waiting for
// the stream to connect. When the stream later closes naturally there is no
// automatic reconnect; the next EnsureSubscription call re-arms it.
func (m *Manager) EnsureSubscription() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.topic == "" {
		return ErrNoTopic
	}
	if m.subID != "" {
		return nil
	}
	if m.cancel != nil {
		// stale handle from a task that has not finished clearing itself
		m.cancel()
		m.cancel = nil
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.subID = id
	m.cancel = cancel
	m.done = done
	topic := m.topic

	go m.stream(ctx, id, topic, done)
	return nil
}

// StopSubscription signals cancellation to the active streaming task, if
// any, and clears the active handle. It does not block on the task's full
// teardown; use AwaitTeardown on shutdown.
func (m *Manager) StopSubscription() {
	m.mu.Lock()
	if m.cancel != nil {
		m.cancel()
	}
	m.subID = ""
	m.cancel = nil
	m.mu.Unlock()
}

// AwaitTeardown blocks until the most recently started streaming task has
// exited or ctx is done.
func (m *Manager) AwaitTeardown(ctx context.Context) {
	m.mu.Lock()
	done := m.done
	m.mu.Unlock()
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
}

// SwitchTopic performs a full reset onto a new topic: stop the current
// subscription, clear the cache and version counter, reset the cursor to the
// initial backlog token, clear any backoff deadline, optionally swap the
// base URL, and start a new subscription.
func (m *Manager) SwitchTopic(topic, baseURL string) error {
	if topic == "" {
		return ErrNoTopic
	}
	m.StopSubscription()

	m.mu.Lock()
	m.topic = topic
	m.noHydrateBefore = time.Time{}
	m.lastHydrate = time.Time{}
	initial := m.initialSince
	m.mu.Unlock()

	if baseURL != "" {
		m.client.SetBaseURL(baseURL)
	}
	m.inbox.Reset(initial)
	m.logger.Info("topic switched", "topic", topic, "base_url", m.client.BaseURL())
	return m.EnsureSubscription()
}

// checkHydrate enforces the rate-limit backoff and the minimum rehydration
// interval for one-shot fetches.
func (m *Manager) checkHydrate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	if now.Before(m.noHydrateBefore) {
		return fmt.Errorf("%w: retry after %s", ErrRateLimited, time.Until(m.noHydrateBefore).Round(time.Second))
	}
	if !m.lastHydrate.IsZero() && now.Sub(m.lastHydrate) < m.minRehydrate {
		return fmt.Errorf("subscriber: hydrated %s ago, minimum interval %s", now.Sub(m.lastHydrate).Round(time.Second), m.minRehydrate)
	}
	m.lastHydrate = now
	return nil
}

func (m *Manager) setBackoff() {
	m.mu.Lock()
	until := time.Now().Add(m.backoff)
	m.noHydrateBefore = until
	m.mu.Unlock()
	m.logger.Warn("rate limited, backing off", "until", until)
}

// clearIf resets the active handle only when it still belongs to id. A task
// from a previous subscription must not clobber the state of a newer one.
func (m *Manager) clearIf(id string) {
	m.mu.Lock()
	if m.subID == id {
		m.subID = ""
		m.cancel = nil
	}
	m.mu.Unlock()
}

// stream is the asynchronous subscription task. It bootstraps a concrete
// cursor when needed, opens the streaming connection, and feeds each decoded
// line to the inbox. On natural closure it exits without reconnecting; on
// cancellation it exits silently without further cache mutations.
func (m *Manager) stream(ctx context.Context, id, topic string, done chan struct{}) {
	// Declared first so it runs after the handle is cleared and done is
	// closed. A panic here would otherwise kill the process with no journal
	// finalization, since no recover sits above a goroutine's root frame.
	defer func() {
		if r := recover(); r != nil {
			if m.onPanic != nil {
				m.onPanic(r)
				return
			}
			panic(r)
		}
	}()
	defer close(done)
	defer m.clearIf(id)

	since := m.inbox.LastCursor()
	if since == "" {
		since = m.initialSince
	}

	// A relative backlog token would replay the whole backlog once the
	// stream opens. When the cache is empty, poll once for the newest
	// message purely to obtain a concrete starting cursor.
	if (since == m.initialSince || ntfy.IsRelativeSince(since)) && m.inbox.Len() == 0 {
		if err := m.checkHydrate(); err != nil {
			m.logger.Warn("cursor bootstrap skipped", "error", err)
		} else if latest, err := m.client.PollLatest(ctx, topic, since); err != nil {
			if ntfy.IsRateLimited(err) {
				m.setBackoff()
			}
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("cursor bootstrap failed", "topic", topic, "error", err)
		} else if latest != nil {
			if c := latest.Cursor(); c != "" {
				since = c
				m.inbox.SetCursor(c)
			}
		}
	}

	body, err := m.client.Subscribe(ctx, topic, since)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if ntfy.IsRateLimited(err) {
			m.setBackoff()
		}
		metrics.StreamClosures.WithLabelValues("connect_error").Inc()
		m.logger.Error("subscribe failed", "topic", topic, "error", err)
		return
	}
	defer func() { _ = body.Close() }()
	metrics.StreamConnects.WithLabelValues(topic).Inc()
	m.logger.Info("subscription started", "topic", topic, "since", since, "subscription", id)

	// Close the body when cancelled so a blocked read unblocks promptly.
	// The watcher is released on natural exit via watchCancel.
	watchCtx, watchCancel := context.WithCancel(ctx)
	defer watchCancel()
	go func() {
		<-watchCtx.Done()
		_ = body.Close()
	}()

	m.consume(ctx, body, topic)
	if ctx.Err() != nil {
		metrics.StreamClosures.WithLabelValues("cancelled").Inc()
		return
	}
	metrics.StreamClosures.WithLabelValues("closed").Inc()
	m.logger.Info("subscription stream closed", "topic", topic, "subscription", id)
}

// consume decodes the byte stream line by line. bufio retains any trailing
// partial line across reads; each complete line is one JSON record.
// Malformed lines are logged and skipped, never fatal.
func (m *Manager) consume(ctx context.Context, body io.Reader, topic string) {
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := m.inbox.HandleIncoming(line); err != nil {
			m.logger.Warn("discarding malformed line", "topic", topic, "error", err)
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		m.logger.Warn("stream read error", "topic", topic, "error", err)
	}
}
