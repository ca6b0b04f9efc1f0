// Package ntfy implements the HTTP client for an ntfy-compatible pub/sub
// service: fire-and-forget publishing, one-shot polling, and the long-lived
// JSON streaming subscription.
package ntfy

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultBaseURL is used when no base URL is configured.
const DefaultBaseURL = "https://ntfy.sh"

// Config holds client configuration.
type Config struct {
	BaseURL  string
	Token    string // bearer token; takes precedence over basic auth
	Username string
	Password string
	Timeout  time.Duration // applies to publish and poll, never to streaming
	Logger   *slog.Logger
}

// Client talks to one ntfy-compatible server. The base URL may be swapped at
// runtime by a topic switch; everything else is fixed at construction.
type Client struct {
	mu      sync.Mutex
	baseURL string

	auth    string // precomputed Authorization header value, "" when unauthenticated
	httpc   *http.Client
	streamc *http.Client
	logger  *slog.Logger
}

// New creates a Client. Missing fields fall back to defaults.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	var auth string
	switch {
	case cfg.Token != "":
		auth = "Bearer " + cfg.Token
	case cfg.Username != "":
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		auth:    auth,
		httpc:   &http.Client{Timeout: cfg.Timeout},
		// The streaming connection is expected to stay open indefinitely;
		// no client-side timeout is applied.
		streamc: &http.Client{},
		logger:  cfg.Logger,
	}
}

// BaseURL returns the current base URL.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// SetBaseURL swaps the server this client talks to.
func (c *Client) SetBaseURL(u string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.baseURL = strings.TrimRight(u, "/")
}

func (c *Client) topicURL(topic string) string {
	return c.BaseURL() + "/" + url.PathEscape(topic)
}

// StatusError is a non-2xx response from the remote service.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ntfy: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a 429-class response.
func IsRateLimited(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// PublishRequest describes one outbound message.
type PublishRequest struct {
	Topic    string
	Message  string
	Title    string
	Priority int // 1..5, 0 means unset
	Tags     []string
	Attach   string // attachment URL
}

// PublishReceipt is the remote service's acknowledgement of a publish.
type PublishReceipt struct {
	ID     *string `json:"id"`
	Time   *int64  `json:"time"`
	Status string  `json:"status"`
}

// Publish posts one message to a topic. The body is the plain-text message;
// metadata travels in headers. A non-2xx response is a hard failure carrying
// the status code and response body.
func (c *Client) Publish(ctx context.Context, pr PublishRequest) (PublishReceipt, error) {
	if pr.Topic == "" {
		return PublishReceipt{}, fmt.Errorf("ntfy: publish requires a topic")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.topicURL(pr.Topic), strings.NewReader(pr.Message))
	if err != nil {
		return PublishReceipt{}, err
	}
	c.setAuth(req)
	if pr.Title != "" {
		req.Header.Set("Title", pr.Title)
	}
	if pr.Priority != 0 {
		req.Header.Set("Priority", strconv.Itoa(pr.Priority))
	}
	if len(pr.Tags) > 0 {
		req.Header.Set("Tags", strings.Join(pr.Tags, ","))
	}
	if pr.Attach != "" {
		req.Header.Set("Attach", pr.Attach)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return PublishReceipt{}, fmt.Errorf("ntfy: publish to %q: %w", pr.Topic, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PublishReceipt{}, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	receipt := PublishReceipt{Status: "published"}
	// The response body is the stored message as JSON; id/time extraction is
	// best-effort since the publish itself already succeeded.
	var msg Message
	if err := json.Unmarshal(body, &msg); err == nil {
		receipt.ID = msg.ID
		receipt.Time = msg.Time
	}
	return receipt, nil
}

// Subscribe opens the streaming JSON endpoint for topic and returns the
// response body. The caller owns the body and must close it; lines arrive as
// the remote service pushes them, not on a poll interval. since may be empty.
func (c *Client) Subscribe(ctx context.Context, topic, since string) (io.ReadCloser, error) {
	u := c.topicURL(topic) + "/json"
	if since != "" {
		u += "?since=" + url.QueryEscape(since)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.streamc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ntfy: subscribe to %q: %w", topic, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp.Body, nil
}

// PollLatest performs one non-streaming fetch against topic and returns the
// newest message record, or nil when the poll window holds none. It is used
// to turn a relative since token into a concrete resumption cursor without
// replaying the whole backlog over the streaming connection.
func (c *Client) PollLatest(ctx context.Context, topic, since string) (*Message, error) {
	u := c.topicURL(topic) + "/json?poll=1"
	if since != "" {
		u += "&since=" + url.QueryEscape(since)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	c.setAuth(req)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ntfy: poll %q: %w", topic, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var latest *Message
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		ev, err := DecodeEvent(sc.Bytes())
		if err != nil || !ev.IsMessage() {
			continue
		}
		m := ev.Message
		latest = &m
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("ntfy: poll %q: %w", topic, err)
	}
	return latest, nil
}

func (c *Client) setAuth(req *http.Request) {
	if c.auth != "" {
		req.Header.Set("Authorization", c.auth)
	}
}
