// Package app assembles the server from its components and owns their
// startup and shutdown order.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"classhub/internal/api"
	"classhub/internal/config"
	"classhub/internal/directory"
	"classhub/internal/transport"
	"classhub/pkg/database"
)

// Application wires the session directory, the connection registry,
// the websocket handler and the HTTP API into one runnable server.
type Application struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *directory.Store
	registry *transport.Registry
	server   *http.Server
}

// New builds the application in dependency order. Nothing is started;
// call Start.
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := newLogger(cfg)

	dbCfg := database.DefaultConfig()
	dbCfg.Path = cfg.DatabasePath
	dbCfg.BusyTimeout = cfg.DatabaseTimeout

	store, err := directory.Open(dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open session directory: %w", err)
	}

	registry := transport.NewRegistry(logger)

	wsHandler := transport.NewHandler(registry, transport.HandlerOptions{
		PingInterval:    cfg.PingInterval,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		PresenceTimeout: cfg.PresenceTimeout,
	}, logger)

	apiServer := api.NewServer(store, registry, logger)

	mux := http.NewServeMux()
	mux.Handle("/ws", wsHandler)
	mux.Handle("/", apiServer)

	return &Application{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: registry,
		server: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      mux,
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
		},
	}, nil
}

// Logger exposes the application logger for callers that wrap Run.
func (a *Application) Logger() *slog.Logger { return a.logger }

// Start serves HTTP until the listener fails or Stop is called.
func (a *Application) Start() error {
	a.logger.Info("server starting",
		"addr", a.cfg.Addr(), "database", a.cfg.DatabasePath)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the application down in reverse dependency order: stop
// accepting requests, drop live connections, then close the store.
func (a *Application) Stop(ctx context.Context) error {
	a.logger.Info("server stopping")

	var firstErr error
	if err := a.server.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("http shutdown: %w", err)
	}

	a.registry.Close()

	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("store close: %w", err)
	}

	a.logger.Info("server stopped")
	return firstErr
}

// ShutdownTimeout bounds graceful shutdown on signal.
const ShutdownTimeout = 10 * time.Second

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
