package normalize

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iconidentify/postgrabba/internal/domain"
)

func writeArchiveFile(t *testing.T, root, rel string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(abs, []byte("media"), 0644); err != nil {
		t.Fatal(err)
	}
}

func decodeArchivePost(t *testing.T, raw string) *domain.ArchivePost {
	t.Helper()
	var p domain.ArchivePost
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		t.Fatalf("decode archive post: %v", err)
	}
	return &p
}

func TestExtractArchivePost_MissingVideoIsSkipped(t *testing.T) {
	root := t.TempDir()
	post := decodeArchivePost(t, `{
		"timestamp": 1683712800,
		"data": [{"post": "Trip"}],
		"attachments": [{"data": [{"media": {"uri": "photos_and_videos/x.mp4"}}]}]
	}`)

	c, res := NewNormalizer(nil, testLogger()).ExtractArchivePost(context.Background(), post, ArchiveOptions{Root: root})

	if c.Videos != nil {
		t.Errorf("Videos = %v, want nil", c.Videos)
	}
	if res.MediaSkipped != 1 {
		t.Errorf("MediaSkipped = %d, want 1", res.MediaSkipped)
	}
}

func TestExtractArchivePost_ExistingMedia(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "posts/media/album/photo1.jpg")
	writeArchiveFile(t, root, "posts/media/videos/clip.mp4")
	writeArchiveFile(t, root, "posts/media/videos/clip_thumb.jpg")
	writeArchiveFile(t, root, "photos_and_videos/legacy.bin")

	post := decodeArchivePost(t, `{
		"timestamp": 1683712800,
		"data": [{"update_timestamp": 1}, {"post": "Beach day"}],
		"attachments": [
			{"data": [
				{"media": {"uri": "posts/media/album/photo1.jpg", "title": "Album"}},
				{"media": {"uri": "posts/media/videos/clip.mp4", "description": "waves", "thumbnail": {"uri": "posts/media/videos/clip_thumb.jpg"}}}
			]},
			{"data": [
				{"media": {"photo_image": {"uri": "photos_and_videos/legacy.bin"}}},
				{"external_context": {"url": "https://example.com/article", "name": "Article"}}
			]}
		]
	}`)

	c, res := NewNormalizer(nil, testLogger()).ExtractArchivePost(context.Background(), post, ArchiveOptions{Root: root})

	if res.MediaSkipped != 0 {
		t.Errorf("MediaSkipped = %d, want 0", res.MediaSkipped)
	}
	if len(c.Photos) != 2 {
		t.Fatalf("photos = %d, want 2", len(c.Photos))
	}
	if c.Photos[0].Src != "posts/media/album/photo1.jpg" || c.Photos[0].Title != "Album" {
		t.Errorf("photo = %+v", c.Photos[0])
	}
	if c.Photos[1].Src != "photos_and_videos/legacy.bin" {
		t.Errorf("legacy photo_image not honored: %+v", c.Photos[1])
	}
	if len(c.Videos) != 1 || c.Videos[0].Thumbnail != "posts/media/videos/clip_thumb.jpg" {
		t.Errorf("videos = %+v", c.Videos)
	}
	if len(c.Links) != 1 || c.Links[0].Domain != "example.com" || c.Links[0].Title != "Article" {
		t.Errorf("links = %+v", c.Links)
	}

	if c.Message != "Beach day" {
		t.Errorf("Message = %q", c.Message)
	}
	if c.CreatedTime != "2023-05-10T10:00:00+0000" {
		t.Errorf("CreatedTime = %q", c.CreatedTime)
	}
	if c.Provenance != domain.ProvenanceImport || c.Author != domain.ArchiveOwner {
		t.Errorf("provenance/author = %s/%+v", c.Provenance, c.Author)
	}
	if !strings.HasPrefix(c.SourcePostID, "import_1683712800_") {
		t.Errorf("SourcePostID = %q", c.SourcePostID)
	}
}

func TestExtractArchivePost_ThumbnailExtraction(t *testing.T) {
	root := t.TempDir()
	writeArchiveFile(t, root, "videos/a.mov")
	writeArchiveFile(t, root, "videos/b.mov")

	post := decodeArchivePost(t, `{
		"timestamp": 1683712800,
		"attachments": [{"data": [{"media": {"uri": "videos/a.mov"}}]}]
	}`)
	store := &mockStore{}
	c, _ := NewNormalizer(nil, testLogger()).ExtractArchivePost(context.Background(), post, ArchiveOptions{Root: root, Thumbnails: store})

	if c.Videos[0].Thumbnail != "/media/frame.jpg" {
		t.Errorf("Thumbnail = %q", c.Videos[0].Thumbnail)
	}
	if len(store.thumbs) != 1 || store.thumbs[0] != filepath.Join(root, "videos", "a.mov") {
		t.Errorf("extraction input = %v", store.thumbs)
	}

	failing := &mockStore{thumbErr: errors.New("ffmpeg missing")}
	post = decodeArchivePost(t, `{"attachments": [{"data": [{"media": {"uri": "videos/b.mov"}}]}]}`)
	c, _ = NewNormalizer(nil, testLogger()).ExtractArchivePost(context.Background(), post, ArchiveOptions{Root: root, Thumbnails: failing})
	if len(c.Videos) != 1 || c.Videos[0].Thumbnail != "" {
		t.Errorf("failed extraction should keep the video without a thumbnail: %+v", c.Videos)
	}
}

func TestExtractArchivePost_PathEscapeIsSkipped(t *testing.T) {
	root := t.TempDir()
	post := decodeArchivePost(t, `{"attachments": [{"data": [{"media": {"uri": "../../etc/passwd.jpg"}}]}]}`)

	c, res := NewNormalizer(nil, testLogger()).ExtractArchivePost(context.Background(), post, ArchiveOptions{Root: root})
	if c.Photos != nil || res.MediaSkipped != 1 {
		t.Errorf("photos = %v skipped = %d", c.Photos, res.MediaSkipped)
	}
}

func TestExtractArchivePost_RepairsMessageAndKeepsID(t *testing.T) {
	post := decodeArchivePost(t, `{"post_id": "987", "created_time": "2020-01-02T03:04:05+0000", "message": "CafÃ©"}`)

	c, _ := NewNormalizer(nil, testLogger()).ExtractArchivePost(context.Background(), post, ArchiveOptions{Root: t.TempDir()})

	if c.SourcePostID != "987" {
		t.Errorf("SourcePostID = %q", c.SourcePostID)
	}
	if c.Message != "Café" {
		t.Errorf("Message = %q", c.Message)
	}
	if c.CreatedTime != "2020-01-02T03:04:05+0000" {
		t.Errorf("CreatedTime = %q", c.CreatedTime)
	}
	if c.Photos != nil || c.Videos != nil || c.Links != nil {
		t.Error("empty extraction should yield nil lists")
	}
}

func TestSyntheticIDIsContentDerived(t *testing.T) {
	a := decodeArchivePost(t, `{"timestamp": 1, "data": [{"post": "a"}]}`)
	b := decodeArchivePost(t, `{"timestamp": 1, "data": [{"post": "a"}]}`)
	c := decodeArchivePost(t, `{"timestamp": 1, "data": [{"post": "b"}]}`)

	n := NewNormalizer(nil, testLogger())
	opts := ArchiveOptions{Root: t.TempDir()}
	ca, _ := n.ExtractArchivePost(context.Background(), a, opts)
	cb, _ := n.ExtractArchivePost(context.Background(), b, opts)
	cc, _ := n.ExtractArchivePost(context.Background(), c, opts)

	if ca.SourcePostID != cb.SourcePostID {
		t.Error("identical content should produce identical IDs")
	}
	if ca.SourcePostID == cc.SourcePostID {
		t.Error("different content should produce different IDs")
	}
	if ca.HasStableID() {
		t.Error("import IDs must not be treated as stable")
	}
}

func TestClassifyArchiveMedia(t *testing.T) {
	tests := []struct {
		name  string
		media domain.ArchiveMedia
		want  mediaKind
	}{
		{"mp4", domain.ArchiveMedia{URI: "a/b.MP4"}, kindVideo},
		{"jpeg", domain.ArchiveMedia{URI: "a/b.jpeg"}, kindPhoto},
		{"videos folder", domain.ArchiveMedia{URI: "posts/videos/123"}, kindVideo},
		{"photos folder", domain.ArchiveMedia{URI: "posts/photos/123"}, kindPhoto},
		{"video metadata", domain.ArchiveMedia{URI: "posts/x/123", MediaMetadata: json.RawMessage(`{"video_metadata":{}}`)}, kindVideo},
		{"photo metadata", domain.ArchiveMedia{URI: "posts/x/123", MediaMetadata: json.RawMessage(`{"photo_metadata":{}}`)}, kindPhoto},
		{"legacy video", domain.ArchiveMedia{VideoInfo: &domain.ArchiveURI{URI: "x"}}, kindVideo},
		{"unknown", domain.ArchiveMedia{URI: "posts/x/readme"}, kindNone},
		{"empty", domain.ArchiveMedia{}, kindNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyArchiveMedia(&tt.media, tt.media.Path()); got != tt.want {
				t.Errorf("classify = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCommentID(t *testing.T) {
	var c domain.ArchiveComment
	if err := json.Unmarshal([]byte(`{"timestamp": 1600000000, "comment": "hi"}`), &c); err != nil {
		t.Fatal(err)
	}
	id := CommentID(&c)
	if !strings.HasPrefix(id, "import_comment_1600000000_") {
		t.Errorf("CommentID = %q", id)
	}

	c.ID = "c1"
	if CommentID(&c) != "c1" {
		t.Error("explicit IDs should be kept")
	}
}
