// Package app wires configuration, logging, the process supervisor, the
// inbox, the subscription manager, the history archive, and the MCP server
// into one runnable daemon. No business logic lives here, only wiring and
// shutdown ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/ntfy-mcp/internal/config"
	"github.com/loykin/ntfy-mcp/internal/history"
	"github.com/loykin/ntfy-mcp/internal/inbox"
	"github.com/loykin/ntfy-mcp/internal/logger"
	"github.com/loykin/ntfy-mcp/internal/metrics"
	"github.com/loykin/ntfy-mcp/internal/ntfy"
	httpserver "github.com/loykin/ntfy-mcp/internal/server"
	"github.com/loykin/ntfy-mcp/internal/subscriber"
	"github.com/loykin/ntfy-mcp/internal/supervisor"
	"github.com/loykin/ntfy-mcp/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// teardownGrace bounds how long shutdown waits for the streaming task.
const teardownGrace = 3 * time.Second

// App is the assembled daemon.
type App struct {
	cfg    config.Config
	logger *slog.Logger
	logC   io.Closer

	sup     *supervisor.Supervisor
	inbox   *inbox.Inbox
	client  *ntfy.Client
	mgr     *subscriber.Manager
	hist    *history.Sink
	mcp     *server.MCPServer
	httpSrv *http.Server
}

// New builds the daemon. Startup is gated by the supervisor: when another
// live instance holds the lock, the returned error wraps
// supervisor.ErrAnotherInstance and the process must exit non-zero.
func New(cfg config.Config) (*App, error) {
	log, logC := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Color:      cfg.Log.Color,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		_ = logC.Close()
		return nil, fmt.Errorf("registering metrics: %w", err)
	}

	sup := supervisor.New(supervisor.Config{
		DataDir:        cfg.DataDir,
		LockFile:       cfg.LockFile(),
		JournalFile:    cfg.JournalFile(),
		StartupCleanup: cfg.StartupCleanup,
		KillExisting:   cfg.KillExisting,
		Logger:         log,
	})
	if err := sup.Startup(); err != nil {
		_ = logC.Close()
		return nil, err
	}

	a := &App{cfg: cfg, logger: log, logC: logC, sup: sup}

	a.inbox = inbox.New(inbox.Options{
		Path:       cfg.CacheFile,
		Logger:     log,
		LogInbound: cfg.LogInbound,
	})
	if err := a.inbox.Hydrate(); err != nil {
		log.Warn("cache hydration failed, starting empty", "error", err)
	}

	a.client = ntfy.New(ntfy.Config{
		BaseURL:  cfg.BaseURL,
		Token:    cfg.Token,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.FetchTimeout,
		Logger:   log,
	})
	a.mgr = subscriber.New(subscriber.Config{
		Client:       a.client,
		Inbox:        a.inbox,
		Topic:        cfg.Topic,
		InitialSince: cfg.Since,
		Backoff:      cfg.RateLimitBackoff,
		MinRehydrate: cfg.MinRehydrateInterval,
		Logger:       log,
		// A fault on the streaming goroutine must still finalize this run's
		// journal entry; re-panicking kills the process non-zero with the
		// original stack.
		OnPanic: func(r any) {
			log.Error("streaming task panicked", "panic", r)
			sup.Shutdown(supervisor.StatusCrashed)
			_ = logC.Close()
			panic(r)
		},
	})

	if cfg.History.DSN != "" {
		sink, err := history.New(cfg.History.DSN)
		if err != nil {
			// The archive is a supplement; a broken DSN must not keep the
			// daemon from starting.
			log.Warn("history archive disabled", "error", err)
		} else {
			a.hist = sink
		}
	}

	a.mcp = server.NewMCPServer(
		"ntfy-mcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)
	a.registerHandlers()
	a.inbox.SetOnStored(a.onStored)

	if cfg.HTTP.Enabled {
		a.httpSrv = httpserver.NewServer(cfg.HTTP.Listen, a.inbox, a.mgr)
		log.Info("http server listening", "addr", cfg.HTTP.Listen)
	}

	return a, nil
}

func (a *App) registerHandlers() {
	publish := tools.NewPublishTool(a.client, a.mgr)
	a.mcp.AddTool(publish.Definition(), publish.Handle)

	switchTopic := tools.NewSwitchTopicTool(a.client, a.mgr)
	a.mcp.AddTool(switchTopic.Definition(), switchTopic.Handle)

	wait := tools.NewWaitTool(a.mgr, a.inbox)
	a.mcp.AddTool(wait.Definition(), wait.Handle)

	readInbox := tools.NewReadInboxTool(a.client, a.mgr, a.inbox)
	a.mcp.AddTool(readInbox.Definition(), readInbox.Handle)

	res := tools.NewInboxResource(a.inbox)
	a.mcp.AddResource(res.Definition(), res.Handle)
}

// onStored runs after every cached message: archive it and tell connected
// clients the inbox resource changed. Both are best-effort.
func (a *App) onStored(msg ntfy.Message) {
	if a.hist != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.hist.Append(ctx, msg); err != nil {
			a.logger.Warn("history append failed", "error", err)
		}
		cancel()
	}
	a.mcp.SendNotificationToAllClients("notifications/resources/updated",
		map[string]any{"uri": tools.InboxResourceURI})
}

// Run serves MCP over stdio until the client disconnects or a termination
// signal arrives, then shuts down with the matching journal status.
func (a *App) Run() error {
	defer func() {
		if r := recover(); r != nil {
			a.shutdown(supervisor.StatusCrashed)
			panic(r)
		}
	}()

	// Arm the subscription eagerly when a topic is configured; a caller's
	// first read would otherwise have an empty window.
	if a.cfg.Topic != "" {
		if err := a.mgr.EnsureSubscription(); err != nil {
			a.logger.Warn("initial subscription failed", "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	serveErr := make(chan error, 1)
	go func() { serveErr <- server.ServeStdio(a.mcp) }()

	select {
	case sig := <-sigCh:
		a.logger.Info("signal received, shutting down", "signal", sig.String())
		a.shutdown(supervisor.StatusStopped)
		return nil
	case err := <-serveErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error("stdio server failed", "error", err)
			a.shutdown(supervisor.StatusCrashed)
			return err
		}
		a.logger.Info("client disconnected, shutting down")
		a.shutdown(supervisor.StatusExited)
		return nil
	}
}

// shutdown stops the subscription, awaits its teardown, closes the external
// surfaces, and finalizes the journal entry. Safe to call once per cause;
// the supervisor guards double finalization.
func (a *App) shutdown(status supervisor.Status) {
	a.mgr.StopSubscription()
	ctx, cancel := context.WithTimeout(context.Background(), teardownGrace)
	a.mgr.AwaitTeardown(ctx)
	cancel()

	if a.httpSrv != nil {
		_ = a.httpSrv.Close()
	}
	if a.hist != nil {
		_ = a.hist.Close()
	}
	a.sup.Shutdown(status)
	_ = a.logC.Close()
}
