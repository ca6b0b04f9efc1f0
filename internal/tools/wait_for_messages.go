package tools

import (
	"context"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
)

// callBudget caps the total wait so the tool call stays under the host's
// ~60s budget with some margin.
const callBudget = 55 * time.Second

// WaitTool handles the ntfy_wait_for_messages MCP tool: bounded-wait polling
// for new messages without a busy loop.
type WaitTool struct {
	mgr   *subscriber.Manager
	inbox *inbox.Inbox
}

// NewWaitTool creates a WaitTool with its dependencies.
func NewWaitTool(mgr *subscriber.Manager, b *inbox.Inbox) *WaitTool {
	return &WaitTool{mgr: mgr, inbox: b}
}

// Definition returns the MCP tool definition for registration.
func (t *WaitTool) Definition() mcp.Tool {
	return mcp.NewTool("ntfy_wait_for_messages",
		mcp.WithDescription(
			"Wait for new messages to arrive on the subscribed topic. Blocks in "+
				"rounds of delay_seconds up to max_tries rounds, returning as soon as "+
				"something arrives. A timeout with no messages is a normal outcome.",
		),
		mcp.WithNumber("delay_seconds",
			mcp.Description("Length of one wait round in seconds (default 5)."),
		),
		mcp.WithNumber("max_tries",
			mcp.Description("Maximum number of wait rounds (default 6)."),
		),
		mcp.WithString("since",
			mcp.Description("Return messages newer than this cursor (message id or unix time). "+
				"An unknown cursor returns the whole cached inbox."),
		),
		mcp.WithNumber("since_time",
			mcp.Description("Only return messages with time >= this unix timestamp."),
		),
		mcp.WithBoolean("since_now",
			mcp.Description("When true (default), only messages arriving after this call "+
				"started are returned."),
		),
	)
}

type waitResult struct {
	Attempts   int            `json:"attempts"`
	NewCount   int            `json:"newCount"`
	LastCursor string         `json:"lastCursor"`
	Messages   []ntfy.Message `json:"messages"`
}

// Handle processes the ntfy_wait_for_messages tool call.
func (t *WaitTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	delay := time.Duration(req.GetFloat("delay_seconds", 5)) * time.Second
	if delay <= 0 {
		delay = 5 * time.Second
	}
	maxTries := int(req.GetFloat("max_tries", 6))
	if maxTries <= 0 {
		maxTries = 6
	}
	// Clamp the total wait to the call budget.
	if time.Duration(maxTries)*delay > callBudget {
		maxTries = int(callBudget / delay)
		if maxTries < 1 {
			maxTries = 1
			delay = callBudget
		}
	}
	since := req.GetString("since", "")
	sinceTime := int64(req.GetFloat("since_time", 0))
	sinceNow := req.GetBool("since_now", true)

	if err := t.mgr.EnsureSubscription(); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	baseline := t.inbox.Version()
	cursorAtStart := t.inbox.LastCursor()

	attempts := 0
	changed := false
	for attempts < maxTries && !changed {
		attempts++
		_, changed = t.inbox.WaitForNew(ctx, baseline, delay)
		if ctx.Err() != nil {
			break
		}
	}

	cursor := since
	if cursor == "" && sinceNow {
		cursor = cursorAtStart
	}
	msgs := t.inbox.MessagesSince(cursor, sinceTime)
	if sinceNow && since == "" && !changed {
		// Nothing arrived during the wait; don't replay old history.
		msgs = []ntfy.Message{}
	}

	return jsonResult(waitResult{
		Attempts:   attempts,
		NewCount:   len(msgs),
		LastCursor: t.inbox.LastCursor(),
		Messages:   msgs,
	})
}
