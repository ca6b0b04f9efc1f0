// Package history archives every inbound message to a SQLite database.
// Unlike the bounded inbox cache, the archive keeps everything; writes are
// best-effort and never interrupt message handling.
package history

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/loykin/ntfy-mcp/internal/ntfy"
)

// Sink writes messages to a SQLite database.
type Sink struct {
	db *sql.DB
}

// Record is one archived message row.
type Record struct {
	ReceivedAt time.Time
	ID         string
	Time       int64
	Topic      string
	Title      string
	Body       string
	Priority   int
	Tags       string // comma-joined
}

// New creates a SQLite history sink.
// DSN format:
//   - "sqlite:///path/to/file.db"
//   - "sqlite://:memory:"
//   - "/path/to/file.db" (without prefix)
//   - ":memory:" (in-memory database)
func New(dsn string) (*Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("history: empty SQLite DSN")
	}
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		dsn = strings.TrimPrefix(dsn, "sqlite://")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	sink := &Sink{db: db}
	if err := sink.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sink, nil
}

func (s *Sink) ensureSchema(ctx context.Context) error {
	// Append-only archive table, no primary key; duplicates from the
	// stream are archived twice just like they are cached twice.
	stmt := `CREATE TABLE IF NOT EXISTS messages(
		received_at TIMESTAMP NOT NULL DEFAULT (CURRENT_TIMESTAMP),
		id TEXT,
		time INTEGER,
		topic TEXT,
		title TEXT,
		body TEXT,
		priority INTEGER,
		tags TEXT
	);`
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

// Append archives one message.
func (s *Sink) Append(ctx context.Context, m ntfy.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(id, time, topic, title, body, priority, tags)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		deref(m.ID), derefInt(m.Time), deref(m.Topic), deref(m.Title),
		deref(m.Body), derefPrio(m.Priority), strings.Join(m.Tags, ","))
	return err
}

// Recent returns the most recent limit records, newest first, optionally
// filtered by topic.
func (s *Sink) Recent(ctx context.Context, topic string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	q := `SELECT received_at, id, time, topic, title, body, priority, tags
	      FROM messages`
	args := []any{}
	if topic != "" {
		q += ` WHERE topic = ?`
		args = append(args, topic)
	}
	q += ` ORDER BY rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ReceivedAt, &r.ID, &r.Time, &r.Topic, &r.Title, &r.Body, &r.Priority, &r.Tags); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *Sink) Close() error { return s.db.Close() }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefInt(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func derefPrio(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
