package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
)

func newTestRouter(t *testing.T) (*Router, *inbox.Inbox) {
	t.Helper()
	b := inbox.New(inbox.Options{})
	mgr := subscriber.New(subscriber.Config{
		Client: ntfy.New(ntfy.Config{BaseURL: "http://127.0.0.1:0", Timeout: time.Second}),
		Inbox:  b,
		Topic:  "alerts",
	})
	return NewRouter(b, mgr), b
}

func TestHealthz(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}

func TestInboxEndpoint(t *testing.T) {
	r, b := newTestRouter(t)
	id := "m1"
	var ts int64 = 100
	b.Store(ntfy.Message{ID: &id, Time: &ts})

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/inbox")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Version    int64          `json:"version"`
		LastCursor string         `json:"lastCursor"`
		Messages   []ntfy.Message `json:"messages"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Version != 1 || out.LastCursor != "m1" || len(out.Messages) != 1 {
		t.Fatalf("unexpected payload: %+v", out)
	}
}

func TestStatusEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var out struct {
		Topic      string `json:"topic"`
		Subscribed bool   `json:"subscribed"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Topic != "alerts" || out.Subscribed {
		t.Fatalf("unexpected status: %+v", out)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r, _ := newTestRouter(t)
	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
}
