package normalize

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/iconidentify/postgrabba/internal/domain"
)

var (
	videoExts = map[string]bool{
		".mp4": true, ".mov": true, ".m4v": true, ".webm": true,
		".avi": true, ".3gp": true, ".mkv": true,
	}
	photoExts = map[string]bool{
		".jpg": true, ".jpeg": true, ".png": true, ".gif": true,
		".webp": true, ".heic": true, ".bmp": true,
	}
)

type mediaKind int

const (
	kindNone mediaKind = iota
	kindPhoto
	kindVideo
)

// ArchiveOptions configures archive extraction.
type ArchiveOptions struct {
	// Root is the extracted archive directory media URIs are relative to.
	Root string
	// Thumbnails, when set, generates frames for videos without one.
	Thumbnails MediaStore
}

// ExtractArchivePost builds a candidate from one export archive post.
// Referenced media must exist under opts.Root; missing files are dropped and
// counted in Result.MediaSkipped.
func (n *Normalizer) ExtractArchivePost(ctx context.Context, raw *domain.ArchivePost, opts ArchiveOptions) (*domain.CandidatePost, *Result) {
	res := &Result{}

	created := archiveCreatedTime(raw)
	postedAt, _ := domain.ParseCreatedTime(created)

	id := raw.PostID
	if id == "" {
		id = syntheticID("import", postedAt, raw.Raw)
	}
	logger := n.logger.With("post_id", id)

	for _, group := range raw.Attachments {
		for _, item := range group.Data {
			if item.Media != nil {
				n.addArchiveMedia(ctx, res, &item, postedAt, opts, logger)
			}
			if item.ExternalContext != nil && item.ExternalContext.URL != "" {
				title := item.Title
				if title == "" {
					title = item.ExternalContext.Name
				}
				res.Links = append(res.Links, domain.Link{
					URL:         item.ExternalContext.URL,
					Title:       RepairText(title),
					Description: RepairText(item.Description),
					Domain:      LinkDomain(item.ExternalContext.URL),
				})
			}
		}
	}

	c := &domain.CandidatePost{
		SourcePostID: id,
		Message:      RepairText(archiveMessage(raw)),
		CreatedTime:  created,
		Author:       domain.ArchiveOwner,
		Provenance:   domain.ProvenanceImport,
	}
	res.Apply(c)
	return c, res
}

func (n *Normalizer) addArchiveMedia(ctx context.Context, res *Result, item *domain.ArchiveAttachmentItem, postedAt time.Time, opts ArchiveOptions, logger *slog.Logger) {
	m := item.Media
	uri := m.Path()
	kind := classifyArchiveMedia(m, uri)
	if kind == kindNone {
		logger.Debug("ignoring unclassifiable archive media", "uri", uri)
		return
	}

	abs, ok := archiveFile(opts.Root, uri)
	if !ok {
		res.MediaSkipped++
		logger.Debug("archive media missing on disk", "uri", uri)
		return
	}

	title := m.Title
	if title == "" {
		title = item.Title
	}
	description := m.Description
	if description == "" {
		description = item.Description
	}

	switch kind {
	case kindPhoto:
		res.Photos = append(res.Photos, domain.Photo{
			Src:   uri,
			Title: RepairText(title),
		})
	case kindVideo:
		v := domain.Video{
			Src:         uri,
			Title:       RepairText(title),
			Description: RepairText(description),
		}
		if m.Thumbnail != nil && m.Thumbnail.URI != "" {
			if _, ok := archiveFile(opts.Root, m.Thumbnail.URI); ok {
				v.Thumbnail = m.Thumbnail.URI
			}
		}
		if v.Thumbnail == "" && opts.Thumbnails != nil {
			thumb, err := opts.Thumbnails.ExtractThumbnail(ctx, abs, postedAt)
			if err != nil {
				logger.Warn("thumbnail extraction failed", "uri", uri, "error", err)
			} else {
				v.Thumbnail = thumb
			}
		}
		res.Videos = append(res.Videos, v)
	}
}

// classifyArchiveMedia infers the media kind. Exports carry no media type, so
// the legacy photo_image/video_info keys, the file extension and the folder
// name are consulted in that order.
func classifyArchiveMedia(m *domain.ArchiveMedia, uri string) mediaKind {
	switch {
	case m.VideoInfo != nil && m.VideoInfo.URI != "":
		return kindVideo
	case m.PhotoImage != nil && m.PhotoImage.URI != "":
		return kindPhoto
	}
	if uri == "" {
		return kindNone
	}

	lower := strings.ToLower(uri)
	ext := path.Ext(lower)
	switch {
	case videoExts[ext]:
		return kindVideo
	case photoExts[ext]:
		return kindPhoto
	case strings.Contains(lower, "/videos/"):
		return kindVideo
	case strings.Contains(lower, "/photos/"):
		return kindPhoto
	}

	if ct := mime.TypeByExtension(ext); ct != "" {
		switch {
		case strings.HasPrefix(ct, "video/"):
			return kindVideo
		case strings.HasPrefix(ct, "image/"):
			return kindPhoto
		}
	}

	meta := bytes.TrimSpace(m.MediaMetadata)
	switch {
	case bytes.Contains(meta, []byte(`"video_metadata"`)):
		return kindVideo
	case bytes.Contains(meta, []byte(`"photo_metadata"`)):
		return kindPhoto
	}
	return kindNone
}

// archiveFile resolves an archive-relative URI and reports whether it names
// an existing regular file inside root.
func archiveFile(root, uri string) (string, bool) {
	if root == "" || uri == "" {
		return "", false
	}
	rel := filepath.FromSlash(path.Clean(strings.TrimPrefix(uri, "/")))
	if !filepath.IsLocal(rel) {
		return "", false
	}
	abs := filepath.Join(root, rel)
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		return "", false
	}
	return abs, true
}

func archiveMessage(raw *domain.ArchivePost) string {
	for _, d := range raw.Data {
		if d.Post != "" {
			return d.Post
		}
	}
	return raw.Message
}

func archiveCreatedTime(raw *domain.ArchivePost) string {
	if sec, ok := raw.Epoch(); ok {
		return domain.FormatEpoch(sec)
	}
	if normalized, err := domain.NormalizeCreatedTime(raw.CreatedTime); err == nil {
		return normalized
	}
	return raw.CreatedTime
}

// syntheticID derives an identifier for records the export leaves unnamed:
// the timestamp plus a content hash. It is not guaranteed unique.
func syntheticID(prefix string, at time.Time, content json.RawMessage) string {
	sum := blake2b.Sum256(content)
	var ts int64
	if !at.IsZero() {
		ts = at.Unix()
	}
	return fmt.Sprintf("%s_%d_%s", prefix, ts, hex.EncodeToString(sum[:])[:16])
}

// CommentID returns the comment's own ID or a synthetic one.
func CommentID(c *domain.ArchiveComment) string {
	if c.ID != "" {
		return c.ID
	}
	at, _ := domain.ParseCreatedTime(c.CreatedTime())
	return syntheticID("import_comment", at, c.Raw)
}
