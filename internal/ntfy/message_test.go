package ntfy

import (
	"encoding/json"
	"testing"
)

func strp(s string) *string { return &s }
func i64p(v int64) *int64   { return &v }

func TestCursorDerivation(t *testing.T) {
	m := Message{ID: strp("m1"), Time: i64p(1000)}
	if got := m.Cursor(); got != "m1" {
		t.Fatalf("cursor with id: want m1, got %q", got)
	}
	m = Message{Time: i64p(1000)}
	if got := m.Cursor(); got != "1000" {
		t.Fatalf("cursor with time only: want 1000, got %q", got)
	}
	m = Message{Title: strp("no anchor")}
	if got := m.Cursor(); got != "" {
		t.Fatalf("cursor without id/time: want empty, got %q", got)
	}
}

func TestDecodeEvent(t *testing.T) {
	raw := []byte(`{"id":"msg-1","event":"message","time":1700000000,"title":"note","message":"hello from ntfy","priority":3,"tags":["demo"],"topic":"test-topic","extra":"dropped"}`)
	ev, err := DecodeEvent(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !ev.IsMessage() {
		t.Fatalf("expected message event")
	}
	if ev.ID == nil || *ev.ID != "msg-1" {
		t.Fatalf("id: got %+v", ev.ID)
	}
	if ev.Body == nil || *ev.Body != "hello from ntfy" {
		t.Fatalf("body: got %+v", ev.Body)
	}
	if ev.Priority == nil || *ev.Priority != 3 {
		t.Fatalf("priority: got %+v", ev.Priority)
	}
	if len(ev.Tags) != 1 || ev.Tags[0] != "demo" {
		t.Fatalf("tags: got %+v", ev.Tags)
	}
}

func TestDecodeEventRejectsNonObjects(t *testing.T) {
	for _, raw := range []string{"", "   ", "null", `"str"`, "not json", "[1,2]"} {
		if _, err := DecodeEvent([]byte(raw)); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestDecodeEventNonMessageKind(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"event":"keepalive","id":"ka-1"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.IsMessage() {
		t.Fatalf("keepalive must not be a message")
	}
}

func TestMessageMarshalNullsAbsentFields(t *testing.T) {
	data, err := json.Marshal(Message{ID: strp("m1")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"id", "time", "title", "message", "priority", "tags", "topic"} {
		if _, ok := m[key]; !ok {
			t.Fatalf("key %q missing from marshaled message", key)
		}
	}
	if string(m["time"]) != "null" {
		t.Fatalf("absent time should marshal as null, got %s", m["time"])
	}
}

func TestIsRelativeSince(t *testing.T) {
	for _, s := range []string{"all", "latest", "30m", "12h", "90s", "7d"} {
		if !IsRelativeSince(s) {
			t.Fatalf("%q should be relative", s)
		}
	}
	for _, s := range []string{"", "m1", "1700000000", "xGz3T", "30x", "m"} {
		if IsRelativeSince(s) {
			t.Fatalf("%q should be concrete", s)
		}
	}
}
