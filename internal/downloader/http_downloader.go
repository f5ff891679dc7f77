package downloader

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/iconidentify/postgrabba/internal/config"
	"github.com/iconidentify/postgrabba/internal/domain"
)

// maxFetchBytes bounds in-memory photo downloads.
const maxFetchBytes = 64 << 20

// StatusError is returned for an unexpected upstream HTTP status.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.Code)
}

// HTTPDownloader implements Downloader using HTTP requests.
type HTTPDownloader struct {
	// client is used for photo and poster fetches with an overall timeout
	client *http.Client
	// streamClient is used for video downloads, bounded per read instead
	streamClient *http.Client
	userAgent    string
	cfg          config.DownloadConfig
	logger       *slog.Logger
}

// NewHTTPDownloader creates a new HTTP-based media downloader.
func NewHTTPDownloader(cfg config.DownloadConfig, logger *slog.Logger) *HTTPDownloader {
	if logger == nil {
		logger = slog.Default()
	}
	streamTransport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		ResponseHeaderTimeout: 30 * time.Second,
	}

	return &HTTPDownloader{
		client: &http.Client{
			Timeout: cfg.PhotoTimeout,
		},
		streamClient: &http.Client{
			Transport: streamTransport,
		},
		userAgent: cfg.UserAgent,
		cfg:       cfg,
		logger:    logger,
	}
}

// Fetch downloads url into memory with retry.
func (d *HTTPDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, domain.ErrEmptyMediaURL
	}
	data, err := retry(ctx, d.cfg, d.logger, url, func() ([]byte, error) {
		return d.fetchOnce(ctx, url)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	return data, nil
}

func (d *HTTPDownloader) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	resp, err := d.get(ctx, d.client, url, "image/avif,image/webp,image/*,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if len(data) > maxFetchBytes {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", domain.ErrDownloadFailed, maxFetchBytes)
	}
	return data, nil
}

// Download opens url as a stream with retry. The returned reader fails
// once no data arrives for the configured read timeout.
func (d *HTTPDownloader) Download(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	if url == "" {
		return nil, 0, domain.ErrEmptyMediaURL
	}

	type stream struct {
		body io.ReadCloser
		size int64
	}
	s, err := retry(ctx, d.cfg, d.logger, url, func() (stream, error) {
		resp, err := d.get(ctx, d.streamClient, url, "video/mp4,video/*;q=0.9,*/*;q=0.8")
		if err != nil {
			return stream{}, err
		}
		size := resp.ContentLength
		if size < 0 {
			if cl := resp.Header.Get("Content-Length"); cl != "" {
				size, _ = strconv.ParseInt(cl, 10, 64)
			}
		}
		return stream{body: resp.Body, size: size}, nil
	})
	if err != nil {
		return nil, 0, fmt.Errorf("download %s: %w", url, err)
	}

	return newProgressReader(s.body, s.size, d.cfg.ReadTimeout, d.logger, url), s.size, nil
}

// get issues one GET and maps failure statuses to domain errors. On success
// the caller owns resp.Body.
func (d *HTTPDownloader) get(ctx context.Context, client *http.Client, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", d.userAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "en-US,en;q=0.5")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		resp.Body.Close()
		return nil, domain.ErrURLExpired
	case resp.StatusCode == http.StatusTooManyRequests:
		resp.Body.Close()
		return nil, domain.ErrRateLimited
	default:
		resp.Body.Close()
		return nil, &StatusError{Code: resp.StatusCode}
	}
}

// progressReader wraps a response body to log progress of long downloads
// and to detect stalls.
type progressReader struct {
	reader      io.ReadCloser
	total       int64
	downloaded  int64
	readTimeout time.Duration
	lastRead    time.Time
	lastLog     time.Time
	logger      *slog.Logger
	url         string
	mu          sync.Mutex
	closed      bool
}

func newProgressReader(r io.ReadCloser, total int64, readTimeout time.Duration, logger *slog.Logger, url string) *progressReader {
	now := time.Now()
	return &progressReader{
		reader:      r,
		total:       total,
		readTimeout: readTimeout,
		lastRead:    now,
		lastLog:     now,
		logger:      logger,
		url:         url,
	}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)

	p.mu.Lock()
	defer p.mu.Unlock()

	if n > 0 {
		p.downloaded += int64(n)
		p.lastRead = time.Now()
		if time.Since(p.lastLog) > 30*time.Second {
			p.logProgress()
			p.lastLog = time.Now()
		}
		return n, err
	}

	if err == nil && p.readTimeout > 0 && time.Since(p.lastRead) > p.readTimeout {
		return 0, fmt.Errorf("download stalled: no data received for %v", p.readTimeout)
	}
	return n, err
}

func (p *progressReader) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	return p.reader.Close()
}

func (p *progressReader) logProgress() {
	attrs := []any{"url", p.url, "downloaded_kb", p.downloaded / 1024}
	if p.total > 0 {
		attrs = append(attrs, "percent", fmt.Sprintf("%.1f%%", float64(p.downloaded)/float64(p.total)*100))
	}
	p.logger.Info("download progress", attrs...)
}
