package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/iconidentify/postgrabba/internal/api"
	"github.com/iconidentify/postgrabba/internal/api/handler"
	"github.com/iconidentify/postgrabba/internal/app"
	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/monitor"
	"github.com/iconidentify/postgrabba/internal/repository"
	"github.com/iconidentify/postgrabba/internal/service"
	"github.com/iconidentify/postgrabba/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("postgrabba-server %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger: text on a terminal, JSON otherwise
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var logHandler slog.Handler = slog.NewJSONHandler(os.Stdout, opts)
	if term.IsTerminal(int(os.Stdout.Fd())) {
		logHandler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting postgrabba",
		"version", Version,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
		logger.Error("invalid server config", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if !a.Graph.HasAccessToken() {
		logger.Warn("no upstream access token configured, fetch jobs will fail", "error", domain.ErrMissingAccessToken)
	}

	jobRepo := repository.NewInMemoryJobRepository()
	jobSvc := service.NewJobService(jobRepo, a.Fetch, a.Import, a.Comments, cfg.Worker.MaxRetries, logger)

	feedMonitor := monitor.New(cfg.Monitor, jobSvc, cfg.Media.Localize, a.Events, logger)

	// Initialize handlers
	router := api.NewRouter(api.Handlers{
		Posts:   handler.NewPostHandler(a.Posts, logger),
		Jobs:    handler.NewJobHandler(jobSvc, cfg.Media.Localize, logger),
		Events:  handler.NewEventHandler(a.Events, logger),
		Health:  handler.NewHealthHandler(jobRepo, a.Posts, a.Media, logger),
		Media:   handler.NewMediaHandler(a.Media, logger),
		Monitor: handler.NewMonitorHandler(feedMonitor, logger),
	}, cfg.Storage.MediaURLPrefix, cfg.Server.APIKey, logger)

	// Initialize worker pool
	pool := worker.NewPool(
		worker.Config{
			Workers:      cfg.Worker.Count,
			PollInterval: cfg.Worker.PollInterval,
		},
		jobRepo,
		jobSvc,
		a.Events,
		logger,
	)
	jobSvc.NotifyOnEnqueue(pool.Wake)

	// Start worker pool
	pool.Start()

	// Start periodic feed fetch in background
	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	go feedMonitor.Start(monitorCtx)

	a.Events.Emit(domain.Event{
		Severity: domain.EventSeverityInfo,
		Category: domain.EventCategorySystem,
		Message:  "server started",
		Metadata: domain.EventMetadata{"version": Version}.ToJSON(),
	})

	// Setup HTTP server
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Cancel background tasks
	cancelMonitor()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Stop workers (allow in-flight jobs to complete)
	if err := pool.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}
	if pending, err := jobRepo.ListPending(context.Background()); err == nil && len(pending) > 0 {
		logger.Warn("dropping queued jobs", "count", len(pending))
	}

	logger.Info("shutdown complete")
}
