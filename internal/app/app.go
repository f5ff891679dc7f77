// Package app wires the stores, clients and services both binaries share.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/dedup"
	"github.com/iconidentify/postgrabba/internal/downloader"
	"github.com/iconidentify/postgrabba/internal/media"
	"github.com/iconidentify/postgrabba/internal/normalize"
	"github.com/iconidentify/postgrabba/internal/repository"
	"github.com/iconidentify/postgrabba/internal/service"
	"github.com/iconidentify/postgrabba/pkg/ffmpeg"
	"github.com/iconidentify/postgrabba/pkg/graph"
)

// App holds the wired components.
type App struct {
	DB       *sql.DB
	Posts    *repository.SQLitePostRepository
	Graph    *graph.Client
	Media    *media.Materializer
	Events   *service.EventService
	Fetch    *service.FetchService
	Import   *service.ImportService
	Comments *service.CommentService
}

// New opens the database and builds every service from cfg. The caller
// must call Close.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	for _, dir := range []string{cfg.Storage.MediaPath, cfg.Storage.ImportPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}

	db, err := repository.OpenSQLite(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, err
	}
	posts := repository.NewSQLitePostRepository(db)

	// Thumbnails are optional; without ffmpeg the materializer reports
	// domain.ErrThumbnailUnavailable.
	var frames media.FrameExtractor
	if fp := newFrameProcessor(cfg.Media, logger); fp != nil {
		frames = fp
	}

	materializer := media.NewMaterializer(media.Options{
		Root:           cfg.Storage.MediaPath,
		URLPrefix:      cfg.Storage.MediaURLPrefix,
		MinFreeBytes:   cfg.Storage.MinFreeBytes,
		PhotoTimeout:   cfg.Download.PhotoTimeout,
		VideoTimeout:   cfg.Download.VideoTimeout,
		ThumbnailWidth: cfg.Media.ThumbnailWidth,
	}, downloader.NewHTTPDownloader(cfg.Download, logger), frames, logger)

	graphClient := graph.NewClient(cfg.Graph, logger)
	normalizer := normalize.NewNormalizer(graphClient, logger)
	engine := dedup.NewEngine(posts, cfg.Dedup.WindowDays, logger)
	events := service.NewEventService(service.DefaultEventBufferSize, logger)

	return &App{
		DB:     db,
		Posts:  posts,
		Graph:  graphClient,
		Media:  materializer,
		Events: events,
		Fetch: service.NewFetchService(
			graphClient, posts, normalizer, engine, materializer,
			cfg.Graph, cfg.Media, events, logger,
		),
		Import: service.NewImportService(
			posts, posts, normalizer, engine, materializer,
			cfg.Storage.ImportPath, events, logger,
		),
		Comments: service.NewCommentService(graphClient, posts, posts, events, logger),
	}, nil
}

// newFrameProcessor returns nil when no usable ffmpeg binary is found.
func newFrameProcessor(cfg config.MediaConfig, logger *slog.Logger) *ffmpeg.FrameProcessor {
	var fp *ffmpeg.FrameProcessor
	if cfg.FFmpegPath != "" {
		fp = ffmpeg.NewFrameProcessorAt(cfg.FFmpegPath)
	} else {
		var err error
		if fp, err = ffmpeg.NewFrameProcessor(); err != nil {
			logger.Warn("video thumbnails disabled", "error", err)
			return nil
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	version, err := fp.Version(ctx)
	if err != nil {
		logger.Warn("video thumbnails disabled", "error", err)
		return nil
	}
	logger.Info("video thumbnails enabled", "ffmpeg", version)
	return fp
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}
