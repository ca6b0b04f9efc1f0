package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/loykin/ntfy-mcp/internal/inbox"
)

// InboxResourceURI addresses the cached inbox as an MCP resource. A
// resource-updated notification is sent for it whenever a message arrives.
const InboxResourceURI = "ntfy://inbox"

// InboxResource serves the cached inbox as a readable MCP resource.
type InboxResource struct {
	inbox *inbox.Inbox
}

// NewInboxResource creates an InboxResource.
func NewInboxResource(b *inbox.Inbox) *InboxResource {
	return &InboxResource{inbox: b}
}

// Definition returns the MCP resource definition for registration.
func (r *InboxResource) Definition() mcp.Resource {
	return mcp.NewResource(
		InboxResourceURI,
		"ntfy inbox",
		mcp.WithResourceDescription("Recent messages from the subscribed topic, newest first"),
		mcp.WithMIMEType("application/json"),
	)
}

// Handle returns the current inbox contents as JSON.
func (r *InboxResource) Handle(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	payload := map[string]any{
		"version":    r.inbox.Version(),
		"lastCursor": r.inbox.LastCursor(),
		"messages":   r.inbox.Snapshot(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling inbox: %w", err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
