package media

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/pkg/ffmpeg"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// mockDownloader serves canned bodies keyed by URL.
type mockDownloader struct {
	bodies map[string][]byte
	calls  []string
}

func (m *mockDownloader) Fetch(ctx context.Context, url string) ([]byte, error) {
	m.calls = append(m.calls, url)
	if b, ok := m.bodies[url]; ok {
		return b, nil
	}
	return nil, errors.New("connection refused")
}

func (m *mockDownloader) Download(ctx context.Context, url string) (io.ReadCloser, int64, error) {
	m.calls = append(m.calls, url)
	if b, ok := m.bodies[url]; ok {
		return io.NopCloser(bytes.NewReader(b)), int64(len(b)), nil
	}
	return nil, 0, errors.New("connection refused")
}

type mockFrames struct {
	err error
	cfg ffmpeg.FrameConfig
}

func (m *mockFrames) ExtractFrame(ctx context.Context, videoPath, outputPath string, cfg ffmpeg.FrameConfig) error {
	m.cfg = cfg
	if m.err != nil {
		return m.err
	}
	return os.WriteFile(outputPath, []byte("frame"), 0644)
}

func pngBytes(t *testing.T, w, h int, alpha bool) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	c := color.NRGBA{R: 200, G: 30, B: 30, A: 255}
	if alpha {
		c.A = 0
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newTestMaterializer(t *testing.T, dl *mockDownloader, frames FrameExtractor) *Materializer {
	t.Helper()
	m := NewMaterializer(Options{Root: t.TempDir(), URLPrefix: "/media"}, dl, frames, testLogger())
	m.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return m
}

func decodeJPEG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := jpeg.Decode(f)
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	return img
}

func TestFitWithin(t *testing.T) {
	tests := []struct {
		name         string
		w, h, max    int
		wantW, wantH int
	}{
		{"within bounds", 640, 480, 800, 640, 480},
		{"exactly max", 800, 600, 800, 800, 600},
		{"landscape", 3000, 2000, 800, 800, 533},
		{"portrait", 1000, 4000, 1200, 300, 1200},
		{"square", 2500, 2500, 1920, 1920, 1920},
		{"extreme aspect", 10000, 2, 800, 800, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h := fitWithin(tt.w, tt.h, tt.max)
			if w != tt.wantW || h != tt.wantH {
				t.Errorf("fitWithin(%d,%d,%d) = %dx%d, want %dx%d", tt.w, tt.h, tt.max, w, h, tt.wantW, tt.wantH)
			}
		})
	}
}

func TestDownloadPhoto_DownscalesToTier(t *testing.T) {
	url := "http://x/img.jpg"
	dl := &mockDownloader{bodies: map[string][]byte{url: pngBytes(t, 1600, 1000, false)}}
	m := newTestMaterializer(t, dl, nil)

	posted := time.Date(2023, 5, 10, 10, 0, 0, 0, time.UTC)
	got, err := m.DownloadPhoto(context.Background(), url, posted, domain.QualityLow)
	if err != nil {
		t.Fatalf("DownloadPhoto: %v", err)
	}

	if got.Width != 800 || got.Height != 500 {
		t.Errorf("size = %dx%d, want 800x500", got.Width, got.Height)
	}
	if !strings.HasPrefix(got.Src, "/media/2023-05/2023-05-10/20240102_030405_") {
		t.Errorf("Src = %q, want date-partitioned served path", got.Src)
	}
	if !strings.HasSuffix(got.Src, ".jpg") {
		t.Errorf("Src = %q, want .jpg", got.Src)
	}

	img := decodeJPEG(t, got.Path)
	if b := img.Bounds(); b.Dx() != 800 || b.Dy() != 500 {
		t.Errorf("file size = %dx%d, want 800x500", b.Dx(), b.Dy())
	}
}

func TestDownloadPhoto_NeverUpscales(t *testing.T) {
	url := "http://x/small.png"
	dl := &mockDownloader{bodies: map[string][]byte{url: pngBytes(t, 300, 200, false)}}
	m := newTestMaterializer(t, dl, nil)

	got, err := m.DownloadPhoto(context.Background(), url, time.Now(), domain.QualityHigh)
	if err != nil {
		t.Fatalf("DownloadPhoto: %v", err)
	}
	if got.Width != 300 || got.Height != 200 {
		t.Errorf("size = %dx%d, want 300x200", got.Width, got.Height)
	}
}

func TestDownloadPhoto_FlattensAlphaOntoWhite(t *testing.T) {
	url := "http://x/transparent.png"
	dl := &mockDownloader{bodies: map[string][]byte{url: pngBytes(t, 20, 20, true)}}
	m := newTestMaterializer(t, dl, nil)

	got, err := m.DownloadPhoto(context.Background(), url, time.Now(), domain.QualityHigh)
	if err != nil {
		t.Fatalf("DownloadPhoto: %v", err)
	}

	r, g, b, _ := decodeJPEG(t, got.Path).At(10, 10).RGBA()
	if r>>8 < 250 || g>>8 < 250 || b>>8 < 250 {
		t.Errorf("transparent pixel = (%d,%d,%d), want white", r>>8, g>>8, b>>8)
	}
}

func TestDownloadPhoto_Failures(t *testing.T) {
	dl := &mockDownloader{bodies: map[string][]byte{"http://x/text": []byte("not an image")}}
	m := newTestMaterializer(t, dl, nil)

	if _, err := m.DownloadPhoto(context.Background(), "", time.Now(), domain.QualityLow); !errors.Is(err, domain.ErrEmptyMediaURL) {
		t.Errorf("empty url err = %v", err)
	}
	if _, err := m.DownloadPhoto(context.Background(), "http://x/missing", time.Now(), domain.QualityLow); !errors.Is(err, domain.ErrDownloadFailed) {
		t.Errorf("network err = %v, want ErrDownloadFailed", err)
	}
	if _, err := m.DownloadPhoto(context.Background(), "http://x/text", time.Now(), domain.QualityLow); !errors.Is(err, domain.ErrUnsupportedMedia) {
		t.Errorf("decode err = %v, want ErrUnsupportedMedia", err)
	}
}

func TestDownloadVideo_StreamsUnmodified(t *testing.T) {
	video := bytes.Repeat([]byte("v"), 3*chunkSize+17)
	dl := &mockDownloader{bodies: map[string][]byte{
		"http://x/v.mp4":  video,
		"http://x/poster": pngBytes(t, 64, 36, false),
	}}
	m := newTestMaterializer(t, dl, nil)

	posted := time.Date(2022, 12, 31, 23, 0, 0, 0, time.UTC)
	got, err := m.DownloadVideo(context.Background(), "http://x/v.mp4", posted, "http://x/poster")
	if err != nil {
		t.Fatalf("DownloadVideo: %v", err)
	}

	data, err := os.ReadFile(got.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, video) {
		t.Error("video bytes were modified")
	}
	if got.Size != int64(len(video)) {
		t.Errorf("Size = %d, want %d", got.Size, len(video))
	}
	if !strings.HasPrefix(got.Src, "/media/2022-12/2022-12-31/") || !strings.HasSuffix(got.Src, ".mp4") {
		t.Errorf("Src = %q", got.Src)
	}
	if got.Thumbnail == "" || got.Thumbnail == got.Src {
		t.Errorf("Thumbnail = %q, want separate poster path", got.Thumbnail)
	}
}

func TestDownloadVideo_PosterFailureIsNonFatal(t *testing.T) {
	dl := &mockDownloader{bodies: map[string][]byte{"http://x/v.mp4": []byte("video")}}
	m := newTestMaterializer(t, dl, nil)

	got, err := m.DownloadVideo(context.Background(), "http://x/v.mp4", time.Now(), "http://x/gone")
	if err != nil {
		t.Fatalf("DownloadVideo: %v", err)
	}
	if got.Thumbnail != "" {
		t.Errorf("Thumbnail = %q, want empty", got.Thumbnail)
	}
}

func TestDownloadVideo_NoPartialFilesOnFailure(t *testing.T) {
	dl := &mockDownloader{}
	m := newTestMaterializer(t, dl, nil)

	if _, err := m.DownloadVideo(context.Background(), "http://x/missing.mp4", time.Now(), ""); err == nil {
		t.Fatal("expected error")
	}
	stats, err := m.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if stats.Files != 0 {
		t.Errorf("Files = %d, want 0", stats.Files)
	}
}

func TestExtractThumbnail(t *testing.T) {
	frames := &mockFrames{}
	m := newTestMaterializer(t, &mockDownloader{}, frames)
	m.opts.ThumbnailWidth = 320

	src, err := m.ExtractThumbnail(context.Background(), "/archive/videos/clip.mp4", time.Date(2021, 7, 4, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("ExtractThumbnail: %v", err)
	}
	if !strings.HasPrefix(src, "/media/2021-07/2021-07-04/") {
		t.Errorf("src = %q", src)
	}
	if frames.cfg.AtSeconds != 1 || frames.cfg.Width != 320 {
		t.Errorf("frame config = %+v, want 1s at width 320", frames.cfg)
	}

	abs, err := m.Resolve(src)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := os.Stat(abs); err != nil {
		t.Errorf("thumbnail not on disk: %v", err)
	}
}

func TestExtractThumbnail_Unavailable(t *testing.T) {
	m := newTestMaterializer(t, &mockDownloader{}, nil)
	if _, err := m.ExtractThumbnail(context.Background(), "/v.mp4", time.Now()); !errors.Is(err, domain.ErrThumbnailUnavailable) {
		t.Errorf("err = %v, want ErrThumbnailUnavailable", err)
	}

	m = newTestMaterializer(t, &mockDownloader{}, &mockFrames{err: errors.New("exit status 1")})
	if _, err := m.ExtractThumbnail(context.Background(), "/v.mp4", time.Now()); err == nil {
		t.Error("expected extractor error to surface")
	}
}

func TestResolve(t *testing.T) {
	m := newTestMaterializer(t, &mockDownloader{}, nil)

	abs, err := m.Resolve("/media/2023-05/2023-05-10/a.jpg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if want := filepath.Join(m.Root(), "2023-05", "2023-05-10", "a.jpg"); abs != want {
		t.Errorf("Resolve = %q, want %q", abs, want)
	}

	for _, bad := range []string{"http://x/a.jpg", "/media/../etc/passwd", "/other/a.jpg"} {
		if _, err := m.Resolve(bad); err == nil {
			t.Errorf("Resolve(%q) should fail", bad)
		}
	}
}

func TestEnsureSpace_StorageFull(t *testing.T) {
	m := newTestMaterializer(t, &mockDownloader{}, nil)
	m.opts.MinFreeBytes = 1 << 62

	err := m.ensureSpace(m.Root())
	if freeDiskSpace(m.Root()) >= 0 && !errors.Is(err, domain.ErrStorageFull) {
		t.Errorf("err = %v, want ErrStorageFull", err)
	}
}

func TestURLHash(t *testing.T) {
	a := urlHash("http://x/a.jpg")
	if len(a) != hashLen {
		t.Errorf("len = %d, want %d", len(a), hashLen)
	}
	if a != urlHash("http://x/a.jpg") {
		t.Error("hash should be deterministic")
	}
	if a == urlHash("http://x/b.jpg") {
		t.Error("different URLs should hash differently")
	}
}
