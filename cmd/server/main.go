package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sashko-guz/kvstore/internal/config"
	"github.com/sashko-guz/kvstore/internal/handler"
	"github.com/sashko-guz/kvstore/internal/kv"
	"github.com/sashko-guz/kvstore/internal/logger"
	"github.com/sashko-guz/kvstore/internal/metrics"
	"github.com/sashko-guz/kvstore/internal/storage"
)

var serverLog = logger.New("Server")

func main() {
	// Configure logging to stderr with timestamps
	logger.SetOutput(os.Stderr)
	logger.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file if it exists (optional)
	_ = godotenv.Load()

	cfg := config.Load()
	logger.SetLevelFromString(cfg.LogLevel)

	serverLog.Infof("Starting key-value server (storage backend: %s)", cfg.Storage.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var m *metrics.Metrics
	if cfg.EnableMetrics {
		m = metrics.New()
		cfg.Storage.Metrics = m
	}

	// Initialize storage (with cache layers if configured)
	store, err := storage.NewStorage(ctx, cfg.Storage)
	if err != nil {
		serverLog.Fatalf("Failed to initialize storage: %v", err)
	}

	service := kv.NewService(store, kv.Options{
		Backend: string(cfg.Storage.Driver),
		Timeout: cfg.StorageTimeout,
		Metrics: m,
	})
	kvHandler := handler.NewKVHandler(service, cfg.MaxValueBytes)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(kvHandler, m),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	serverErr := make(chan error, 1)
	go func() {
		serverLog.Infof("Server listening on %s", srv.Addr)
		serverLog.Infof("Endpoints: GET|PUT http://localhost%s/kv/{key}, GET /health", srv.Addr)
		if cfg.EnableMetrics {
			serverLog.Infof("Metrics: http://localhost%s/metrics", srv.Addr)
		}
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			closeStorage(store)
			serverLog.Fatalf("Server failed to start: %v", err)
		}
	case <-ctx.Done():
		serverLog.Infof("Shutting down (timeout %v)", cfg.ShutdownTimeout)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			serverLog.Errorf("Graceful shutdown failed: %v", err)
		}
		cancel()
	}

	closeStorage(store)
	serverLog.Infof("Stopped")
}

func closeStorage(store storage.Storage) {
	if closer, ok := store.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			serverLog.Errorf("Failed to close storage: %v", err)
		}
	}
}
