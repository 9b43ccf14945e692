/*
Package main is the entry point for the relay server.

It is responsible for loading configuration, initializing the global logging system, opening
the optional message archive and attachment storage, starting the Hub dispatcher, serving
HTTP and WebSocket traffic, and gracefully handling operating system interrupt signals
(SIGINT, SIGTERM) to ensure a smooth server shutdown.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relaychat/internal/app/archive"
	"relaychat/internal/app/chat"
	"relaychat/internal/app/storage"
	"relaychat/internal/configs"
	"relaychat/internal/handler"
	"relaychat/internal/pkg/logx"
)

func main() {
	// Load configuration from environment variables
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize global logger
	logx.InitGlobalLogger(cfg.IsDevelopment(), cfg.LogLevel)
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Int("history_limit", cfg.HistoryLimit).
		Dur("typing_timeout", cfg.TypingTimeout).
		Str("archive_driver", cfg.ArchiveDriver).
		Bool("storage_enabled", cfg.StorageEnabled()).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := &handler.AppDeps{
		Config:   cfg,
		Gatherer: registry,
	}

	// Optional message archive for evicted messages
	store, err := archive.Open(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open message archive", "driver", cfg.ArchiveDriver)
	}

	var worker *archive.Worker
	hubOpts := chat.Options{
		HistoryLimit:    cfg.HistoryLimit,
		TypingTimeout:   cfg.TypingTimeout,
		MaxContentBytes: cfg.MaxContentBytes,
		Metrics:         chat.NewMetrics(registry),
	}
	if store != nil {
		deps.Archive = store
		worker = archive.NewWorker(store, archive.DefaultQueueSize, registry)
		worker.Start()
		hubOpts.Archiver = worker
	}

	// Optional S3-compatible attachment storage
	if cfg.StorageEnabled() {
		deps.StorageService, err = storage.NewStorageService(ctx, storage.ConfigFrom(cfg))
		if err != nil {
			logx.Fatal(err, "Failed to initialize attachment storage")
		}
	}

	// Start the dispatcher
	hub := chat.NewHub(hubOpts)
	go hub.Run()
	deps.Hub = hub

	// Setup HTTP server and routes
	router, stopLimiters := handler.Router(deps)
	defer stopLimiters()

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Relay server starting on http://localhost%s", serverAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server with a timeout of 5 seconds.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	// Hijacked websocket connections are not tracked by the server; stopping the hub
	// closes their send queues, which makes every WritePump send a close frame.
	hub.Stop()

	if worker != nil {
		if err := worker.Stop(shutdownCtx); err != nil {
			logx.Error(err, "Archive queue was not fully drained")
		}
	}
	if store != nil {
		if err := store.Close(); err != nil {
			logx.Error(err, "Failed to close message archive")
		}
	}

	logx.Info("Server gracefully stopped.")
}
