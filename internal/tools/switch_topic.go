package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loykin/ntfy-mcp/internal/ntfy"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
)

// SwitchTopicTool handles the ntfy_switch_topic MCP tool: a full reset onto
// a new topic (cache cleared, cursor reset, subscription restarted).
type SwitchTopicTool struct {
	client *ntfy.Client
	mgr    *subscriber.Manager
}

// NewSwitchTopicTool creates a SwitchTopicTool with its dependencies.
func NewSwitchTopicTool(client *ntfy.Client, mgr *subscriber.Manager) *SwitchTopicTool {
	return &SwitchTopicTool{client: client, mgr: mgr}
}

// Definition returns the MCP tool definition for registration.
func (t *SwitchTopicTool) Definition() mcp.Tool {
	return mcp.NewTool("ntfy_switch_topic",
		mcp.WithDescription(
			"Switch the subscription to a different topic. This clears the cached "+
				"inbox, resets the resumption cursor, and restarts streaming against "+
				"the new topic.",
		),
		mcp.WithString("topic",
			mcp.Required(),
			mcp.Description("The topic to subscribe to."),
		),
		mcp.WithString("base_url",
			mcp.Description("Server base URL. Defaults to the current one."),
		),
	)
}

// Handle processes the ntfy_switch_topic tool call.
func (t *SwitchTopicTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	topic := req.GetString("topic", "")
	if topic == "" {
		return mcp.NewToolResultError("'topic' is required"), nil
	}
	if err := t.mgr.SwitchTopic(topic, req.GetString("base_url", "")); err != nil {
		return mcp.NewToolResultError("switch failed: " + err.Error()), nil
	}
	return jsonResult(map[string]string{
		"topic":   topic,
		"baseUrl": t.client.BaseURL(),
	})
}
