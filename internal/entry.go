// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/masail/internal/client"
	"github.com/starford/masail/internal/endpoint"
	"github.com/starford/masail/internal/mcpserver"
	"github.com/starford/masail/internal/orchestrator"
	"github.com/starford/masail/internal/session"
	"github.com/starford/masail/internal/sse"
	"github.com/starford/masail/internal/storage"
	"github.com/starford/masail/internal/watch"
	"github.com/starford/masail/internal/web"
)

// App is the wired client: persistence, transport, session and views.
type App struct {
	Config  *Config
	Log     *slog.Logger
	Session *session.Store
	Events  *sse.Broker
	Views   web.Views

	client  *client.Client
	store   storage.Provider
	version string
}

// New wires the application. The initial session check is not run; callers
// decide whether to wait for it (CLI) or let the gate defer (server).
func New(opts ...Option) (*App, error) {
	app := &application{logOutput: os.Stdout, version: "dev"}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("api_base_url", cfg.API.BaseURL),
		slog.String("storage_driver", cfg.Storage.Driver),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	reg, err := endpoint.New(cfg.API.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("init endpoints: %w", err)
	}

	store, err := storage.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	broker := sse.NewBroker(250 * time.Millisecond)

	base := client.New(reg, client.WithTimeout(cfg.API.Timeout), client.WithLogger(logger))
	sess := session.New(base, store,
		session.WithLogger(logger),
		session.WithOnChange(func(s session.Session) {
			broker.Publish(sse.Event{Type: sse.TypeSessionChanged, Data: s})
		}),
	)
	authed := base.WithTokens(sess)

	return &App{
		Config:  cfg,
		Log:     logger,
		Session: sess,
		Events:  broker,
		Views: web.Views{
			Search:    orchestrator.NewSearch(authed, cfg.Cache.FacetTTL, logger),
			Document:  orchestrator.NewDocumentView(authed, logger),
			Approval:  orchestrator.NewApproval(authed, logger),
			Dashboard: orchestrator.NewDashboard(authed, logger),
			Upload:    orchestrator.NewUpload(authed, cfg.Upload.AcceptedMIME, logger),
		},
		client:  authed,
		store:   store,
		version: app.version,
	}, nil
}

// Close stops the event broker and releases the persistence backend.
func (a *App) Close() error {
	a.Events.Close()
	return a.Session.Close()
}

// Watch uploads documents dropped into dir until ctx is cancelled. It uses
// its own upload view so it never competes with an interactive upload.
func (a *App) Watch(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watch dir: %w", err)
	}
	up := orchestrator.NewUpload(a.client, a.Config.Upload.AcceptedMIME, a.Log)
	return watch.Watch(ctx, dir, up, a.Session, a.store, a.Log, a.Events.PublishProgress)
}

// ServeMCP runs the MCP server on stdio.
func (a *App) ServeMCP(ctx context.Context) error {
	a.Session.CheckSession(ctx)
	up := orchestrator.NewUpload(a.client, a.Config.Upload.AcceptedMIME, a.Log)
	return mcpserver.New(a.Views.Search, a.Views.Document, a.version,
		mcpserver.WithUploads(up, a.Session)).ServeStdio()
}

// Run starts the front-end server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	a, err := New(opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			a.Log.Error("close failed", slog.String("error", err.Error()))
		}
	}()
	return a.Serve(ctx)
}

// Serve runs the HTTP front-end, the initial session check and, when
// configured, the drop-folder watcher until a signal or ctx cancellation.
func (a *App) Serve(ctx context.Context) error {
	cfg := a.Config
	logger := a.Log

	r := web.NewRouter(a.Session, a.Views, a.Events, logger)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           middleware.Logger(r),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Validate the persisted session; protected views defer until it settles.
	g.Go(func() error {
		s := a.Session.CheckSession(gCtx)
		logger.Info("Session checked", slog.Bool("authenticated", s.IsAuthenticated))
		return nil
	})

	if cfg.Upload.WatchDir != "" {
		g.Go(func() error {
			return a.Watch(gCtx, cfg.Upload.WatchDir)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Stop open SSE streams so Shutdown does not wait on them.
		a.Events.Close()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")
