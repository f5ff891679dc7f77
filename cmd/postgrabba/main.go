package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/iconidentify/postgrabba/internal/app"
	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/pkg/graph"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

const usage = `Usage: postgrabba [--config FILE] <command> [flags]

Commands:
  fetch     pull the authenticated user's feed into the post store
  import    load an extracted data export archive
  comments  re-fetch the comments of one post
  whoami    check the access token against the upstream API
  version   print the version
`

func main() {
	configPath := flag.String("config", "", "Path to config file")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cmd, args := flag.Arg(0), flag.Args()[1:]
	if cmd == "version" {
		fmt.Printf("postgrabba %s (built %s)\n", Version, BuildTime)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Setup context with cancellation
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var summary *domain.RunSummary
	switch cmd {
	case "fetch":
		summary, err = runFetch(ctx, cfg, args, logger)
	case "import":
		summary, err = runImport(ctx, cfg, args, logger)
	case "comments":
		err = runComments(ctx, cfg, args, logger)
	case "whoami":
		err = runWhoami(ctx, cfg, logger)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		if ctx.Err() != nil {
			logger.Info("cancelled")
			os.Exit(130)
		}
		logger.Error(cmd+" failed", "error", err)
		os.Exit(1)
	}
	if summary != nil {
		if err := printSummary(os.Stdout, summary); err != nil {
			logger.Error("failed to print summary", "error", err)
			os.Exit(1)
		}
		if ctx.Err() != nil {
			os.Exit(130)
		}
	}
}

func runFetch(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) (*domain.RunSummary, error) {
	fs := flag.NewFlagSet("fetch", flag.ExitOnError)
	since := fs.String("since", "", "Only posts on or after this date (YYYY-MM-DD)")
	until := fs.String("until", "", "Only posts on or before this date (YYYY-MM-DD)")
	postType := fs.String("type", "", "Only posts of this type")
	maxPages := fs.Int("pages", 0, "Feed pages to fetch (default from config)")
	localize := fs.Bool("localize", cfg.Media.Localize, "Download photos and videos")
	quality := fs.String("quality", "", "Photo quality: low, medium or high")
	comments := fs.Bool("comments", false, "Also fetch comments")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	req := domain.FetchRequest{
		PostType:     *postType,
		MaxPages:     *maxPages,
		Localize:     *localize,
		Quality:      *quality,
		WithComments: *comments,
	}
	var err error
	if req.Since, err = parseDate("since", *since); err != nil {
		return nil, err
	}
	if req.Until, err = parseDate("until", *until); err != nil {
		return nil, err
	}

	if err := ensureToken(cfg); err != nil {
		return nil, err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	return a.Fetch.Run(ctx, req), nil
}

func runImport(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) (*domain.RunSummary, error) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	thumbnails := fs.Bool("thumbnails", false, "Extract thumbnails for videos that lack one")
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: postgrabba import [--thumbnails] [ARCHIVE_DIR]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 1 {
		fs.Usage()
		os.Exit(2)
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	return a.Import.Run(ctx, domain.ImportRequest{
		Path:       fs.Arg(0),
		Thumbnails: *thumbnails,
	}), nil
}

func runComments(ctx context.Context, cfg *config.Config, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("comments", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: postgrabba comments POST_ID")
	}

	if err := ensureToken(cfg); err != nil {
		return err
	}

	a, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Comments.Refresh(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	fmt.Printf("stored %d comments for %s\n", n, fs.Arg(0))
	return nil
}

func runWhoami(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := ensureToken(cfg); err != nil {
		return err
	}

	profile, err := graph.NewClient(cfg.Graph, logger).Me(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("%s (%s)\n", profile.Name, profile.ID)
	return nil
}

func parseDate(name, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("--%s must be a YYYY-MM-DD date", name)
	}
	return t, nil
}

// ensureToken prompts for an access token when none is configured.
func ensureToken(cfg *config.Config) error {
	if cfg.Graph.AccessToken != "" {
		return nil
	}
	token, err := promptToken()
	if err != nil {
		return err
	}
	cfg.Graph.AccessToken = token
	return nil
}

// promptToken reads an access token from the terminal without echoing it.
func promptToken() (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", domain.ErrMissingAccessToken
	}
	fmt.Fprint(os.Stderr, "Access token: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", domain.ErrMissingAccessToken
	}
	return token, nil
}

func printSummary(w io.Writer, s *domain.RunSummary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}
