package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loykin/ntfy-mcp/internal/metrics"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
)

// PublishTool handles the ntfy_publish MCP tool: a fire-and-forget post of
// one message to the remote topic.
type PublishTool struct {
	client *ntfy.Client
	mgr    *subscriber.Manager
}

// NewPublishTool creates a PublishTool with its dependencies.
func NewPublishTool(client *ntfy.Client, mgr *subscriber.Manager) *PublishTool {
	return &PublishTool{client: client, mgr: mgr}
}

// Definition returns the MCP tool definition for registration.
func (t *PublishTool) Definition() mcp.Tool {
	return mcp.NewTool("ntfy_publish",
		mcp.WithDescription(
			"Publish a message to an ntfy topic. The message body is plain text; "+
				"title, priority, tags and an attachment URL travel as metadata.",
		),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("The message body to publish."),
		),
		mcp.WithString("topic",
			mcp.Description("Target topic. Defaults to the currently subscribed topic."),
		),
		mcp.WithString("title",
			mcp.Description("Message title."),
		),
		mcp.WithNumber("priority",
			mcp.Description("Priority 1 (min) to 5 (max)."),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated list of tags."),
		),
		mcp.WithString("attach",
			mcp.Description("URL of an attachment to include."),
		),
	)
}

// Handle processes the ntfy_publish tool call.
func (t *PublishTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := req.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("'message' is required"), nil
	}
	topic := req.GetString("topic", "")
	if topic == "" {
		topic = t.mgr.Topic()
	}
	if topic == "" {
		return mcp.NewToolResultError("no topic: pass 'topic' or switch to one first"), nil
	}

	var tags []string
	if raw := req.GetString("tags", ""); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	receipt, err := t.client.Publish(ctx, ntfy.PublishRequest{
		Topic:    topic,
		Message:  message,
		Title:    req.GetString("title", ""),
		Priority: int(req.GetFloat("priority", 0)),
		Tags:     tags,
		Attach:   req.GetString("attach", ""),
	})
	if err != nil {
		metrics.Publishes.WithLabelValues("error").Inc()
		return mcp.NewToolResultError("publish failed: " + err.Error()), nil
	}
	metrics.Publishes.WithLabelValues("ok").Inc()
	return jsonResult(receipt)
}
