// Package app assembles and runs the Yukari application.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bdobrica/Yukari/internal/yukari/llm"
	"github.com/bdobrica/Yukari/internal/yukari/server"
	"github.com/bdobrica/Yukari/internal/yukari/session"
	"github.com/bdobrica/Yukari/internal/yukari/store"
	"github.com/bdobrica/Yukari/internal/yukari/watchdog"
	"github.com/bdobrica/Yukari/internal/yukari/worlds"
)

// Config holds application configuration.
type Config struct {
	// HTTPAddr is the main listen address, e.g. ":3000".
	HTTPAddr string

	// LockAddr is a loopback address held for the lifetime of the process
	// as a single-instance guard, e.g. "127.0.0.1:2999". The game launcher
	// starts the server eagerly; a second copy must fail fast instead of
	// fighting over the database. Empty disables the guard.
	LockAddr string

	// DatabasePath is the SQLite file. Defaults to "./yukari.db".
	DatabasePath string

	// WorldsPath is an optional YAML world catalog overriding the built-in
	// one.
	WorldsPath string

	// LLM configures the text-generation backend. An empty APIKey leaves
	// the backend unconfigured and the chat answers with a canned notice.
	LLM llm.Config

	// RefreshTimeout bounds the context-refresh wait before a reply.
	RefreshTimeout time.Duration

	// HeartbeatTolerance is how long the game may stay silent before the
	// process exits. Zero uses the watchdog default.
	HeartbeatTolerance time.Duration
}

// App owns the long-lived components.
type App struct {
	cfg      Config
	store    *store.Store
	sessions *session.Manager
	server   *server.Server
	watchdog *watchdog.Watchdog
	lock     net.Listener
	cancel   context.CancelFunc
}

// New builds the application: store, world catalog, LLM backend, session
// manager, watchdog, and HTTP server. Nothing is listening yet; call Run.
func New(cfg Config) (*App, error) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "./yukari.db"
	}

	var lock net.Listener
	if cfg.LockAddr != "" {
		var err error
		lock, err = net.Listen("tcp", cfg.LockAddr)
		if err != nil {
			return nil, fmt.Errorf("another instance appears to be running (lock %s): %w", cfg.LockAddr, err)
		}
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		if lock != nil {
			lock.Close()
		}
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	catalog := worlds.NewDefault()
	if cfg.WorldsPath != "" {
		loaded, err := worlds.Load(cfg.WorldsPath)
		if err != nil {
			slog.Warn("failed to load world catalog; using built-in defaults", "path", cfg.WorldsPath, "err", err)
		} else {
			catalog = loaded
		}
	}

	client := llm.New(cfg.LLM)
	if client.Ready() {
		slog.Info("llm backend configured", "model", cfg.LLM.Model, "endpoint", cfg.LLM.BaseURL)
	} else {
		slog.Warn("llm backend not configured; replies will be a canned notice")
	}

	sessions := session.NewManager(st, catalog, client,
		session.Config{RefreshTimeout: cfg.RefreshTimeout}, nil)

	wd := watchdog.New(watchdog.Config{Tolerance: cfg.HeartbeatTolerance}, nil)

	srv := server.New(server.Config{Addr: cfg.HTTPAddr}, sessions, st, client, wd, nil)

	return &App{
		cfg:      cfg,
		store:    st,
		sessions: sessions,
		server:   srv,
		watchdog: wd,
		lock:     lock,
	}, nil
}

// Run starts the watchdog and the HTTP server, then blocks until SIGINT or
// SIGTERM. The watchdog runs on its own goroutine so a wedged HTTP handler
// cannot keep a dead deployment alive.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel

	go a.watchdog.Run(ctx)

	if err := a.server.Start(ctx); err != nil {
		cancel()
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig.String())
	return nil
}

// Stop releases everything Run started.
func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.server.Stop()
	if a.lock != nil {
		a.lock.Close()
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("failed to close store", "err", err)
	}
}
