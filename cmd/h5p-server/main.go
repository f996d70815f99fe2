package main

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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/tendant/chi-demo/app"
	"github.com/tendant/chi-demo/middleware"

	"github.com/tendant/simple-h5p/pkg/h5p/api"
	"github.com/tendant/simple-h5p/pkg/h5p/config"
	"github.com/tendant/simple-h5p/pkg/h5p/metadata"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.WithFile(os.Getenv("H5P_CONFIG_FILE")), config.WithEnv())
	if err != nil {
		slog.Error("Failed to load configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comps, err := cfg.Build(ctx, slog.Default())
	if err != nil {
		slog.Error("Failed to build engine", "err", err)
		os.Exit(1)
	}
	defer comps.Close()

	handler, err := routes(cfg, comps)
	if err != nil {
		slog.Error("Failed to set up routes", "err", err)
		os.Exit(1)
	}

	if cfg.MetadataInterval > 0 {
		go fetchMetadataPeriodically(ctx, comps.Metadata, cfg.MetadataInterval)
	}

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: handler,
	}

	go func() {
		slog.Info("H5P server starting", "port", cfg.Port, "env", cfg.Environment, "database", cfg.DatabaseType, "exports", cfg.ExportStore)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	}
	slog.Info("Server exiting")
}

// routes mounts the API under /api/v1 behind the optional API key and JWT checks.
func routes(cfg *config.ServerConfig, comps *config.Components) (http.Handler, error) {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	app.RoutesHealthz(r)
	app.RoutesHealthzReady(r)

	var opts []api.HandlerOption
	if cfg.JWTSecret != "" {
		opts = append(opts, api.WithJWTAuth(api.NewJWTAuth(cfg.JWTSecret)))
	}
	h5pHandler := api.NewHandler(comps.Engine, opts...)

	var apiKey func(http.Handler) http.Handler
	if cfg.APIKeySHA256 != "" {
		mw, err := middleware.ApiKeyMiddleware(middleware.ApiKeyConfig{
			APIKeys: map[string]string{"key1": cfg.APIKeySHA256},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize API key middleware: %w", err)
		}
		apiKey = mw
	}

	r.Route("/api/v1", func(r chi.Router) {
		if apiKey != nil {
			r.Use(apiKey)
		}
		r.Mount("/", h5pHandler.Routes())
	})
	return r, nil
}

func fetchMetadataPeriodically(ctx context.Context, fetcher *metadata.Fetcher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Failures are logged by the fetcher and retried on the next tick.
			if _, err := fetcher.Fetch(ctx, false); err == nil {
				slog.Info("Library metadata updated")
			}
		}
	}
}
