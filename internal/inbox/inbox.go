// Package inbox holds the in-memory message cache: a bounded, newest-first
// buffer of recent messages with a monotonic version counter, the current
// resumption cursor, best-effort JSON file persistence, and a bounded-wait
// primitive for callers blocking on new messages.
package inbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/ntfy-mcp/internal/metrics"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
)

// Capacity is the maximum number of cached messages. Inserts beyond it
// silently drop the oldest entries.
const Capacity = 50

// Options configures an Inbox.
type Options struct {
	Path       string // cache file location; empty disables persistence
	Logger     *slog.Logger
	LogInbound bool // log every stored message
}

// Inbox is safe for concurrent use. One mutex guards the message slice, the
// version counter, the cursor, and the broadcast channel; persistence and
// the stored-message hook run outside the lock.
type Inbox struct {
	mu         sync.Mutex
	messages   []ntfy.Message // newest first, len <= Capacity
	version    int64
	lastCursor string
	notify     chan struct{} // closed and replaced on every version bump

	path       string
	logger     *slog.Logger
	logInbound bool
	onStored   func(ntfy.Message)

	// persistMu serializes cache file writes; persistSeq (under mu) stamps
	// each snapshot and persistedSeq (under persistMu) rejects stale ones,
	// so a slow Store write cannot land after a Reset already persisted.
	persistMu    sync.Mutex
	persistSeq   int64
	persistedSeq int64
}

// New creates an empty Inbox.
func New(opts Options) *Inbox {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Inbox{
		notify:     make(chan struct{}),
		path:       opts.Path,
		logger:     opts.Logger,
		logInbound: opts.LogInbound,
	}
}

// SetOnStored registers a hook invoked after every successfully stored
// message, outside the inbox lock. Used for archival and change
// notifications; must not call back into HandleIncoming.
func (b *Inbox) SetOnStored(fn func(ntfy.Message)) {
	b.mu.Lock()
	b.onStored = fn
	b.mu.Unlock()
}

// HandleIncoming decodes one raw stream record and stores it. Records with a
// non-"message" event kind are ignored without error. A decode failure is
// returned so the caller can log and skip the line; it never aborts the
// stream.
func (b *Inbox) HandleIncoming(raw []byte) error {
	ev, err := ntfy.DecodeEvent(raw)
	if err != nil {
		metrics.DecodeErrors.Inc()
		return fmt.Errorf("inbox: decode record: %w", err)
	}
	if !ev.IsMessage() {
		return nil
	}
	b.Store(ev.Message)
	return nil
}

// Store prepends msg to the cache, truncates to Capacity, advances the
// version counter, updates the cursor when msg can derive one, wakes all
// waiters, and persists the cache best-effort. Duplicates are not detected;
// an identical message id arriving twice is stored twice.
func (b *Inbox) Store(msg ntfy.Message) {
	b.mu.Lock()
	if c := msg.Cursor(); c != "" {
		b.lastCursor = c
	}
	b.messages = append([]ntfy.Message{msg}, b.messages...)
	if len(b.messages) > Capacity {
		b.messages = b.messages[:Capacity]
	}
	b.version++
	close(b.notify)
	b.notify = make(chan struct{})
	snapshot := append([]ntfy.Message(nil), b.messages...)
	version := b.version
	hook := b.onStored
	b.persistSeq++
	seq := b.persistSeq
	b.mu.Unlock()

	metrics.MessagesReceived.Inc()
	metrics.CacheSize.Set(float64(len(snapshot)))
	metrics.CacheVersion.Set(float64(version))

	if b.logInbound {
		b.logger.Info("message received",
			"id", strPtr(msg.ID), "title", strPtr(msg.Title), "version", version)
	}
	b.persist(seq, snapshot)
	if hook != nil {
		hook(msg)
	}
}

// MessagesSince returns a copy of all cached messages strictly newer than
// cursor. When cursor is empty or not found in the cache the entire cache is
// returned: a miss means "no known baseline", not an error. sinceTime > 0
// further filters to messages whose time is >= sinceTime.
func (b *Inbox) MessagesSince(cursor string, sinceTime int64) []ntfy.Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	end := len(b.messages)
	if cursor != "" {
		for i, m := range b.messages {
			if m.Cursor() == cursor {
				end = i
				break
			}
		}
	}
	out := make([]ntfy.Message, 0, end)
	for _, m := range b.messages[:end] {
		if sinceTime > 0 && (m.Time == nil || *m.Time < sinceTime) {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Snapshot returns a copy of the whole cache, newest first.
func (b *Inbox) Snapshot() []ntfy.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]ntfy.Message(nil), b.messages...)
}

// Len returns the number of cached messages.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Version returns the current version counter.
func (b *Inbox) Version() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.version
}

// LastCursor returns the current resumption cursor, "" when none is known.
func (b *Inbox) LastCursor() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastCursor
}

// SetCursor overrides the resumption cursor.
func (b *Inbox) SetCursor(c string) {
	b.mu.Lock()
	b.lastCursor = c
	b.mu.Unlock()
}

// Reset clears the cache, resets the version counter to zero, and sets the
// cursor to the given value. Waiters are woken so they re-check against the
// new counter. Used on topic switch; the cache file is overwritten too.
func (b *Inbox) Reset(cursor string) {
	b.mu.Lock()
	b.messages = nil
	b.version = 0
	b.lastCursor = cursor
	close(b.notify)
	b.notify = make(chan struct{})
	b.persistSeq++
	seq := b.persistSeq
	b.mu.Unlock()

	metrics.CacheSize.Set(0)
	metrics.CacheVersion.Set(0)
	b.persist(seq, nil)
}

// Hydrate loads the cache file from disk. The cursor is set from the newest
// cached entry so a restarted process resumes without re-fetching history it
// already holds. A missing file is not an error; the version counter is not
// advanced by hydration.
func (b *Inbox) Hydrate() error {
	if b.path == "" {
		return nil
	}
	data, err := os.ReadFile(b.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("inbox: read cache file: %w", err)
	}
	var msgs []ntfy.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return fmt.Errorf("inbox: parse cache file %s: %w", b.path, err)
	}
	if len(msgs) > Capacity {
		msgs = msgs[:Capacity]
	}

	b.mu.Lock()
	b.messages = msgs
	if len(msgs) > 0 {
		if c := msgs[0].Cursor(); c != "" {
			b.lastCursor = c
		}
	}
	b.mu.Unlock()

	metrics.CacheSize.Set(float64(len(msgs)))
	return nil
}

// persist rewrites the cache file wholesale. Writes are serialized and a
// snapshot older than one already on disk is dropped. Failures are logged
// and never interrupt the in-memory state machine.
func (b *Inbox) persist(seq int64, snapshot []ntfy.Message) {
	if b.path == "" {
		return
	}
	b.persistMu.Lock()
	defer b.persistMu.Unlock()
	if seq <= b.persistedSeq {
		return
	}
	b.persistedSeq = seq
	if snapshot == nil {
		snapshot = []ntfy.Message{}
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Warn("cache marshal failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0o755); err != nil {
		b.logger.Warn("cache dir create failed", "path", b.path, "error", err)
		return
	}
	if err := os.WriteFile(b.path, data, 0o644); err != nil {
		b.logger.Warn("cache write failed", "path", b.path, "error", err)
	}
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
