package ntfy

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
)

// Message is one observed event from a topic. Every field is optional on the
// wire; nil means absent and marshals to JSON null so consumers always see
// all seven keys.
type Message struct {
	ID       *string  `json:"id"`
	Time     *int64   `json:"time"`
	Title    *string  `json:"title"`
	Body     *string  `json:"message"`
	Priority *int     `json:"priority"`
	Tags     []string `json:"tags"`
	Topic    *string  `json:"topic"`
}

// Cursor derives the resumption token for m: its id when present, the
// stringified unix time as fallback, or "" when neither exists. A message
// with an empty cursor can be cached but cannot anchor resumption.
func (m Message) Cursor() string {
	if m.ID != nil && *m.ID != "" {
		return *m.ID
	}
	if m.Time != nil {
		return strconv.FormatInt(*m.Time, 10)
	}
	return ""
}

// Event is one decoded record from the subscription stream. The remote
// service interleaves keepalive/open records with message records; only
// records whose event kind is "message" (or absent) carry a message.
type Event struct {
	Kind string `json:"event"`
	Message
}

// IsMessage reports whether the event carries a message payload.
func (e Event) IsMessage() bool {
	return e.Kind == "" || e.Kind == "message"
}

var errNotObject = errors.New("record is not a JSON object")

// DecodeEvent parses one newline-delimited stream record. Unknown fields are
// dropped. Non-object input (including JSON null) is rejected so a malformed
// line is skipped by the caller instead of producing an empty message.
func DecodeEvent(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return Event{}, errNotObject
	}
	var ev Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}
