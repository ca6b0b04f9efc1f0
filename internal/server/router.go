// Package server provides an optional embeddable HTTP server for
// observability: health, Prometheus metrics, an inbox snapshot, and
// subscription status. It is never required for MCP operation.
package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/metrics"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
)

// Router provides embeddable HTTP handlers.
// Endpoints:
//
//	GET /healthz        liveness probe
//	GET /metrics        Prometheus metrics
//	GET /api/inbox      cached messages, version, cursor
//	GET /api/status     topic, base URL, subscription and backoff state
type Router struct {
	inbox *inbox.Inbox
	mgr   *subscriber.Manager
}

// NewRouter constructs a Router over the daemon's inbox and manager.
func NewRouter(b *inbox.Inbox, mgr *subscriber.Manager) *Router {
	return &Router{inbox: b, mgr: mgr}
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/healthz", r.handleHealth)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
	g.GET("/api/inbox", r.handleInbox)
	g.GET("/api/status", r.handleStatus)
	return g
}

func (r *Router) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleInbox(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version":    r.inbox.Version(),
		"lastCursor": r.inbox.LastCursor(),
		"messages":   r.inbox.Snapshot(),
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	var backoff string
	if until := r.mgr.BackoffUntil(); !until.IsZero() && time.Now().Before(until) {
		backoff = until.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, gin.H{
		"topic":        r.mgr.Topic(),
		"subscribed":   r.mgr.Active(),
		"backoffUntil": backoff,
	})
}

// NewServer starts a standalone HTTP server on addr using this router. The
// caller shuts it down via http.Server.Close or Shutdown.
func NewServer(addr string, b *inbox.Inbox, mgr *subscriber.Manager) *http.Server {
	r := NewRouter(b, mgr)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
