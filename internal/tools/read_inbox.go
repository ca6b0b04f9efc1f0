package tools

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
)

// ReadInboxTool handles the ntfy_read_inbox MCP tool. Reading the inbox
// opportunistically re-arms the streaming subscription when it is not
// active, since a naturally closed stream is only revived by a caller.
type ReadInboxTool struct {
	client *ntfy.Client
	mgr    *subscriber.Manager
	inbox  *inbox.Inbox
}

// NewReadInboxTool creates a ReadInboxTool with its dependencies.
func NewReadInboxTool(client *ntfy.Client, mgr *subscriber.Manager, b *inbox.Inbox) *ReadInboxTool {
	return &ReadInboxTool{client: client, mgr: mgr, inbox: b}
}

// Definition returns the MCP tool definition for registration.
func (t *ReadInboxTool) Definition() mcp.Tool {
	return mcp.NewTool("ntfy_read_inbox",
		mcp.WithDescription(
			"Read the cached inbox of recent messages for the subscribed topic, "+
				"newest first. Also (re)starts the streaming subscription if it is "+
				"not currently running.",
		),
	)
}

type readInboxResult struct {
	Topic    string         `json:"topic"`
	BaseURL  string         `json:"baseUrl"`
	Messages []ntfy.Message `json:"messages"`
}

// Handle processes the ntfy_read_inbox tool call.
func (t *ReadInboxTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := t.mgr.EnsureSubscription(); err != nil && !errors.Is(err, subscriber.ErrNoTopic) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	msgs := t.inbox.Snapshot()
	if msgs == nil {
		msgs = []ntfy.Message{}
	}
	return jsonResult(readInboxResult{
		Topic:    t.mgr.Topic(),
		BaseURL:  t.client.BaseURL(),
		Messages: msgs,
	})
}
