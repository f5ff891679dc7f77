// Package media downloads remote post media into a date-partitioned local
// store and serves it back as root-relative paths.
package media

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/downloader"
	"github.com/iconidentify/postgrabba/pkg/ffmpeg"
)

const (
	chunkSize      = 64 * 1024
	hashLen        = 12
	fileTimeLayout = "20060102_150405"
)

// FrameExtractor grabs a still frame from a local video.
type FrameExtractor interface {
	ExtractFrame(ctx context.Context, videoPath, outputPath string, cfg ffmpeg.FrameConfig) error
}

// Options configures a Materializer.
type Options struct {
	Root           string
	URLPrefix      string
	MinFreeBytes   int64
	PhotoTimeout   time.Duration
	VideoTimeout   time.Duration
	ThumbnailWidth int
}

// Materializer writes downloaded media to {root}/{YYYY-MM}/{YYYY-MM-DD}/.
// Directories are keyed by the post's timestamp so all media for one post
// lands together.
type Materializer struct {
	opts   Options
	dl     downloader.Downloader
	frames FrameExtractor
	logger *slog.Logger
	now    func() time.Time
}

// NewMaterializer creates a materializer. frames may be nil, in which case
// ExtractThumbnail always fails with domain.ErrThumbnailUnavailable.
func NewMaterializer(opts Options, dl downloader.Downloader, frames FrameExtractor, logger *slog.Logger) *Materializer {
	if opts.URLPrefix == "" {
		opts.URLPrefix = "/media"
	}
	opts.URLPrefix = "/" + strings.Trim(opts.URLPrefix, "/")
	if opts.PhotoTimeout <= 0 {
		opts.PhotoTimeout = 30 * time.Second
	}
	if opts.VideoTimeout <= 0 {
		opts.VideoTimeout = 60 * time.Second
	}
	if opts.ThumbnailWidth <= 0 {
		opts.ThumbnailWidth = 320
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{
		opts:   opts,
		dl:     dl,
		frames: frames,
		logger: logger,
		now:    time.Now,
	}
}

// DownloadPhoto fetches url, re-encodes it at the given tier and stores it.
func (m *Materializer) DownloadPhoto(ctx context.Context, url string, postedAt time.Time, tier domain.QualityTier) (*domain.LocalMedia, error) {
	if url == "" {
		return nil, domain.ErrEmptyMediaURL
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.PhotoTimeout)
	defer cancel()

	data, err := m.dl.Fetch(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}

	encoded, w, h, err := transcodeImage(data, tier)
	if err != nil {
		return nil, err
	}

	rel := m.relPath(postedAt, url, ".jpg")
	abs, err := m.writeFile(rel, func(f *os.File) error {
		_, err := f.Write(encoded)
		return err
	})
	if err != nil {
		return nil, err
	}

	m.logger.Debug("photo stored", "src", rel, "width", w, "height", h, "tier", tier.Name)
	return &domain.LocalMedia{
		Src:    m.served(rel),
		Path:   abs,
		Width:  w,
		Height: h,
		Size:   int64(len(encoded)),
	}, nil
}

// DownloadVideo streams url to disk unmodified. When posterURL is set the
// poster is stored as the thumbnail; a poster failure only leaves the
// thumbnail empty.
func (m *Materializer) DownloadVideo(ctx context.Context, url string, postedAt time.Time, posterURL string) (*domain.LocalMedia, error) {
	if url == "" {
		return nil, domain.ErrEmptyMediaURL
	}

	vctx, cancel := context.WithTimeout(ctx, m.opts.VideoTimeout)
	defer cancel()

	body, _, err := m.dl.Download(vctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDownloadFailed, err)
	}
	defer body.Close()

	var written int64
	rel := m.relPath(postedAt, url, ".mp4")
	abs, err := m.writeFile(rel, func(f *os.File) error {
		buf := make([]byte, chunkSize)
		n, err := io.CopyBuffer(f, body, buf)
		written = n
		return err
	})
	if err != nil {
		return nil, err
	}

	result := &domain.LocalMedia{
		Src:  m.served(rel),
		Path: abs,
		Size: written,
	}

	if posterURL != "" {
		thumb, err := m.downloadPoster(ctx, posterURL, postedAt)
		if err != nil {
			m.logger.Warn("video poster download failed", "url", posterURL, "error", err)
		} else {
			result.Thumbnail = thumb
		}
	}

	m.logger.Debug("video stored", "src", rel, "bytes", written)
	return result, nil
}

func (m *Materializer) downloadPoster(ctx context.Context, posterURL string, postedAt time.Time) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.opts.PhotoTimeout)
	defer cancel()

	data, err := m.dl.Fetch(ctx, posterURL)
	if err != nil {
		return "", err
	}
	encoded, _, _, err := transcodeImage(data, domain.QualityHigh)
	if err != nil {
		return "", err
	}

	rel := m.relPath(postedAt, posterURL+"_thumb", ".jpg")
	if _, err := m.writeFile(rel, func(f *os.File) error {
		_, err := f.Write(encoded)
		return err
	}); err != nil {
		return "", err
	}
	return m.served(rel), nil
}

// ExtractThumbnail grabs the frame at one second of a local video, scaled to
// the configured width, and returns its served path.
func (m *Materializer) ExtractThumbnail(ctx context.Context, videoPath string, postedAt time.Time) (string, error) {
	if m.frames == nil {
		return "", domain.ErrThumbnailUnavailable
	}

	rel := m.relPath(postedAt, videoPath+"_thumb", ".jpg")
	abs := filepath.Join(m.opts.Root, filepath.FromSlash(rel))
	if err := m.ensureSpace(filepath.Dir(abs)); err != nil {
		return "", err
	}

	err := m.frames.ExtractFrame(ctx, videoPath, abs, ffmpeg.FrameConfig{
		AtSeconds: 1,
		Width:     m.opts.ThumbnailWidth,
	})
	if err != nil {
		return "", err
	}
	return m.served(rel), nil
}

// Resolve maps a served path back to its location on disk.
func (m *Materializer) Resolve(src string) (string, error) {
	rel, ok := strings.CutPrefix(src, m.opts.URLPrefix+"/")
	if !ok {
		return "", fmt.Errorf("%q is not a local media path", src)
	}
	rel = path.Clean(rel)
	if !filepath.IsLocal(filepath.FromSlash(rel)) {
		return "", fmt.Errorf("%q escapes the media root", src)
	}
	return filepath.Join(m.opts.Root, filepath.FromSlash(rel)), nil
}

// Root returns the media root directory.
func (m *Materializer) Root() string {
	return m.opts.Root
}

// URLPrefix returns the prefix served paths start with.
func (m *Materializer) URLPrefix() string {
	return m.opts.URLPrefix
}

// StorageStats summarizes the media store.
type StorageStats struct {
	Files     int   `json:"files"`
	Bytes     int64 `json:"bytes"`
	FreeBytes int64 `json:"free_bytes"`
}

// Stats walks the media root.
func (m *Materializer) Stats() (StorageStats, error) {
	stats := StorageStats{FreeBytes: freeDiskSpace(m.opts.Root)}
	err := filepath.WalkDir(m.opts.Root, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		stats.Files++
		stats.Bytes += info.Size()
		return nil
	})
	return stats, err
}

// relPath builds {YYYY-MM}/{YYYY-MM-DD}/{download time}_{hash}{ext}.
func (m *Materializer) relPath(postedAt time.Time, key, ext string) string {
	if postedAt.IsZero() {
		postedAt = m.now()
	}
	postedAt = postedAt.UTC()
	name := m.now().UTC().Format(fileTimeLayout) + "_" + urlHash(key) + ext
	return path.Join(postedAt.Format("2006-01"), postedAt.Format(domain.DateLayout), name)
}

func (m *Materializer) served(rel string) string {
	return m.opts.URLPrefix + "/" + rel
}

// writeFile writes through a temp file in the destination directory and
// renames it into place, so readers never observe partial files.
func (m *Materializer) writeFile(rel string, fill func(*os.File) error) (string, error) {
	abs := filepath.Join(m.opts.Root, filepath.FromSlash(rel))
	dir := filepath.Dir(abs)
	if err := m.ensureSpace(dir); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".partial-*")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if err := fill(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("write %s: %w", rel, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("close %s: %w", rel, err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("rename %s: %w", rel, err)
	}
	return abs, nil
}

func (m *Materializer) ensureSpace(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create media dir: %w", err)
	}
	if m.opts.MinFreeBytes <= 0 {
		return nil
	}
	if free := freeDiskSpace(dir); free >= 0 && free < m.opts.MinFreeBytes {
		return fmt.Errorf("%w: %d bytes free", domain.ErrStorageFull, free)
	}
	return nil
}

func urlHash(s string) string {
	sum := blake2b.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLen]
}
