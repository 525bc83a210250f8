// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/ansuz/internal/api"
	"github.com/starford/ansuz/internal/inbox"
	"github.com/starford/ansuz/internal/localmodel"
	"github.com/starford/ansuz/internal/mcpserver"
	"github.com/starford/ansuz/internal/presenter"
	"github.com/starford/ansuz/internal/router"
	"github.com/starford/ansuz/internal/settings"
	"github.com/starford/ansuz/internal/sse"
	"github.com/starford/ansuz/internal/storage"
	"github.com/starford/ansuz/internal/transport"
	pkgconfig "github.com/starford/ansuz/pkg/config"
)

func newApplication(opts []Option) (*application, error) {
	app := &application{stdout: os.Stdout}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// setupLogger installs the JSON logger. logs receives the stream; when a log
// file is configured the stream is duplicated into it with rotation.
func setupLogger(cfg *Config, logs io.Writer) (*slog.Logger, func()) {
	closeFn := func() {}
	if cfg.App.LogFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.App.LogFile,
			MaxSize:    50, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		logs = io.MultiWriter(logs, rotator)
		closeFn = func() { _ = rotator.Close() }
	}
	logger := slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger, closeFn
}

func newRouter(cfg *Config) *router.Router {
	backend := localmodel.NewOllama(cfg.Local.BaseURL, cfg.Local.Timeout)
	return router.New(transport.New(nil),
		router.WithLocalBackend(backend, cfg.Local.Resolver()),
		router.WithTranscriptionURL(cfg.Transcription.URL),
	)
}

// watchSettings keeps store in sync with the config file until ctx ends.
func watchSettings(ctx context.Context, store *settings.Store, path string, logger *slog.Logger) error {
	return store.Watch(ctx, path, func() (router.RoutingContext, error) {
		cfg := NewDefaultConfig()
		if err := pkgconfig.Load(path, cfg); err != nil {
			return router.RoutingContext{}, err
		}
		return cfg.Routing.Context(), nil
	}, logger)
}

// readyHandler reports whether the current routing settings are usable and
// when they were last loaded.
func readyHandler(store *settings.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		snap := store.Snapshot()
		body := map[string]any{
			"status":             "ok",
			"use_remote":         snap.Routing.UseRemote,
			"settings_loaded_at": snap.LoadedAt.UTC().Format(time.RFC3339),
		}
		status := http.StatusOK
		if err := snap.Routing.Validate(); err != nil {
			status = http.StatusServiceUnavailable
			body["status"] = "unavailable"
			body["error"] = err.Error()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// Run starts the HTTP gateway with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLogs := setupLogger(cfg, os.Stdout)
	defer closeLogs()

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.Bool("use_remote", cfg.Routing.UseRemote),
		slog.String("server_url", cfg.Routing.ServerURL),
		slog.String("transcription_url", cfg.Transcription.URL),
		slog.Bool("inbox_enabled", cfg.Inbox.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt := newRouter(cfg)
	store := settings.NewStore(cfg.Routing.Context())

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	handler := api.NewHandler(rt, store, broker)
	apiRouter := api.NewRouter(handler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", readyHandler(store))

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	g, gCtx := errgroup.WithContext(ctx)

	if app.configPath != "" {
		g.Go(func() error {
			if err := watchSettings(gCtx, store, app.configPath, logger); err != nil {
				logger.Warn("settings watcher disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	if cfg.Inbox.Enabled {
		vault, err := storage.NewFS(cfg.Inbox.VaultPath)
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
		proc := inbox.NewProcessor(rt, vault, store, broker, cfg.Inbox.InboxFolder, cfg.Inbox.Templates, logger)
		g.Go(func() error {
			if err := inbox.Watch(gCtx, proc, vault.Root(), logger); err != nil {
				return fmt.Errorf("inbox watcher: %w", err)
			}
			return nil
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

// errShutdown cancels the group's context so background watchers stop
// once the HTTP server is down.
var errShutdown = errors.New("shutdown")

// RunMCP serves the operation tools over stdio. Logs go to stderr since
// stdout carries the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	logger, closeLogs := setupLogger(cfg, os.Stderr)
	defer closeLogs()

	store := settings.NewStore(cfg.Routing.Context())
	srv := mcpserver.New(newRouter(cfg), store)

	g, gCtx := errgroup.WithContext(ctx)
	if app.configPath != "" {
		g.Go(func() error {
			if err := watchSettings(gCtx, store, app.configPath, logger); err != nil {
				logger.Warn("settings watcher disabled", slog.String("error", err.Error()))
			}
			return nil
		})
	}
	g.Go(func() error {
		logger.Info("MCP server starting on stdio")
		err := srv.ServeStdio()
		return errors.Join(err, errShutdown)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		return err
	}
	return nil
}

// Exec runs one operation with JSON inputs read from in and writes the
// canonical result as JSON.
func Exec(ctx context.Context, operation string, in io.Reader, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	_, closeLogs := setupLogger(cfg, os.Stderr)
	defer closeLogs()

	op, err := router.ParseOperation(operation)
	if err != nil {
		return err
	}

	var req router.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode inputs: %w", err)
	}

	res, err := newRouter(cfg).Execute(ctx, op, req, cfg.Routing.Context())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(app.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res.Value())
}

// Present renders the tool invocation read from in as plain text.
func Present(in io.Reader, out io.Writer) error {
	var req struct {
		Invocation presenter.Invocation `json:"invocation"`
		Results    presenter.ResultSet  `json:"results"`
	}
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("decode invocation: %w", err)
	}
	_, err := fmt.Fprintln(out, presenter.Present(req.Invocation, req.Results).String())
	return err
}
