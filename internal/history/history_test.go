package history

import (
	"context"
	"testing"

	"github.com/loykin/ntfy-mcp/internal/ntfy"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }
func intp(v int) *int       { return &v }

func TestAppendAndRecent(t *testing.T) {
	sink, err := New("sqlite://:memory:")
	if err != nil {
		t.Fatalf("new sink: %v", err)
	}
	defer func() { _ = sink.Close() }()

	ctx := context.Background()
	msgs := []ntfy.Message{
		{ID: strp("m1"), Time: i64p(100), Topic: strp("alerts"), Title: strp("first"), Body: strp("a"), Priority: intp(3), Tags: []string{"one", "two"}},
		{ID: strp("m2"), Time: i64p(200), Topic: strp("alerts"), Body: strp("b")},
		{ID: strp("m3"), Time: i64p(300), Topic: strp("other"), Body: strp("c")},
	}
	for _, m := range msgs {
		if err := sink.Append(ctx, m); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	recs, err := sink.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("want 3 records, got %d", len(recs))
	}
	if recs[0].ID != "m3" {
		t.Fatalf("newest first: got %s", recs[0].ID)
	}

	alerts, err := sink.Recent(ctx, "alerts", 10)
	if err != nil {
		t.Fatalf("recent filtered: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("want 2 alert records, got %d", len(alerts))
	}
	if alerts[1].Tags != "one,two" {
		t.Fatalf("tags: got %q", alerts[1].Tags)
	}
}

func TestEmptyDSNFails(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected error for empty DSN")
	}
}
