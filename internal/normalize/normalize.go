// Package normalize turns upstream post payloads of either source shape into
// uniform photo, video and link lists.
package normalize

import (
	"context"
	"log/slog"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// MaxAlbumPages caps how many pages of one album are read. The page embedded
// in the post is page 1, so at most MaxAlbumPages-1 continuation pages are
// fetched.
const MaxAlbumPages = 10

// PageFetcher follows an album continuation cursor.
type PageFetcher interface {
	FetchAttachmentPage(ctx context.Context, nextURL string) (*domain.AttachmentPage, error)
}

// MediaStore localizes remote media. It is the only network-facing
// dependency of normalization.
type MediaStore interface {
	DownloadPhoto(ctx context.Context, url string, postedAt time.Time, tier domain.QualityTier) (*domain.LocalMedia, error)
	DownloadVideo(ctx context.Context, url string, postedAt time.Time, posterURL string) (*domain.LocalMedia, error)
	ExtractThumbnail(ctx context.Context, videoPath string, postedAt time.Time) (string, error)
}

// Localize requests download mode. A nil *Localize means URLs pass through
// unmodified.
type Localize struct {
	Store MediaStore
	Tier  domain.QualityTier
}

// Result is the outcome of normalizing one post. The lists are nil when
// nothing was extracted.
type Result struct {
	Photos []domain.Photo
	Videos []domain.Video
	Links  []domain.Link

	MediaSkipped int // archive files missing on disk
	MediaFailed  int // downloads that produced no local copy
	PagesFetched int // album continuation pages read
}

// Apply copies the lists onto c.
func (r *Result) Apply(c *domain.CandidatePost) {
	c.Photos = r.Photos
	c.Videos = r.Videos
	c.Links = r.Links
}

// Normalizer classifies attachment trees.
type Normalizer struct {
	pages  PageFetcher
	logger *slog.Logger
}

// NewNormalizer creates a normalizer. pages may be nil, in which case album
// continuation pages are not followed.
func NewNormalizer(pages PageFetcher, logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{pages: pages, logger: logger}
}

// Normalize extracts photos, videos and links from a feed post, in upstream
// order, and localizes them when loc is non-nil.
func (n *Normalizer) Normalize(ctx context.Context, post *domain.FeedPost, loc *Localize) *Result {
	res := &Result{}
	logger := n.logger.With("post_id", post.ID)

	if post.Link != "" {
		res.Links = append(res.Links, domain.Link{
			URL:    post.Link,
			Domain: LinkDomain(post.Link),
		})
	}

	if post.Attachments != nil {
		for _, raw := range post.Attachments.Data {
			switch node := raw.Resolve().(type) {
			case domain.PhotoNode, domain.VideoNode:
				n.addMedia(res, node)
			case domain.AlbumNode:
				n.walkAlbum(ctx, res, node, logger)
			case domain.LinkNode:
				res.Links = append(res.Links, domain.Link{
					URL:         node.URL,
					Title:       node.Title,
					Description: node.Description,
					Thumbnail:   node.Thumbnail,
					Domain:      LinkDomain(node.URL),
				})
			case domain.RestrictedNode:
				logger.Debug("skipping restricted attachment", "title", node.Title)
			case domain.UnknownNode:
				logger.Debug("ignoring unknown attachment", "type", node.Type)
			}
		}
	}

	if loc != nil {
		postedAt, _ := domain.ParseCreatedTime(post.CreatedTime)
		n.Localize(ctx, res, postedAt, loc)
	}
	return res
}

// addMedia appends a leaf photo or video. Other node kinds are ignored.
func (n *Normalizer) addMedia(res *Result, node domain.Attachment) {
	switch node := node.(type) {
	case domain.PhotoNode:
		if node.Image == nil {
			return
		}
		res.Photos = append(res.Photos, domain.Photo{
			Src:    node.Image.Src,
			Width:  node.Image.Width,
			Height: node.Image.Height,
			URL:    node.URL,
			Title:  node.Title,
		})
	case domain.VideoNode:
		res.Videos = append(res.Videos, domain.Video{
			Src:         node.Source,
			Thumbnail:   node.Poster,
			URL:         node.URL,
			Title:       node.Title,
			Description: node.Description,
		})
	}
}

// walkAlbum merges the album's children across continuation pages. A page
// failure keeps what was already gathered.
func (n *Normalizer) walkAlbum(ctx context.Context, res *Result, album domain.AlbumNode, logger *slog.Logger) {
	children := album.Children
	next := album.Next
	seen := map[string]bool{}

	for page := 1; ; page++ {
		for _, child := range children {
			n.addMedia(res, child.Resolve())
		}

		if next == "" || n.pages == nil {
			return
		}
		if page >= MaxAlbumPages {
			logger.Warn("album page cap reached", "pages", page)
			return
		}
		if seen[next] {
			logger.Warn("album cursor repeated, stopping", "page", page)
			return
		}
		seen[next] = true

		p, err := n.pages.FetchAttachmentPage(ctx, next)
		if err != nil {
			logger.Warn("album page fetch failed, keeping partial album", "page", page+1, "error", err)
			return
		}
		res.PagesFetched++
		children = p.Data
		next = p.Next()
	}
}

// Localize downloads every photo and video of res into loc.Store and
// rewrites their sources to the local copies. Items whose download fails
// are dropped and counted in MediaFailed.
func (n *Normalizer) Localize(ctx context.Context, res *Result, postedAt time.Time, loc *Localize) {
	if loc == nil || loc.Store == nil {
		return
	}

	var photos []domain.Photo
	for _, p := range res.Photos {
		local, err := loc.Store.DownloadPhoto(ctx, p.Src, postedAt, loc.Tier)
		if err != nil {
			res.MediaFailed++
			n.logger.Warn("photo download failed", "url", p.Src, "error", err)
			continue
		}
		p.Src = local.Src
		p.Width = local.Width
		p.Height = local.Height
		photos = append(photos, p)
	}
	res.Photos = photos

	var videos []domain.Video
	for _, v := range res.Videos {
		local, err := loc.Store.DownloadVideo(ctx, v.Src, postedAt, v.Thumbnail)
		if err != nil {
			res.MediaFailed++
			n.logger.Warn("video download failed", "url", v.Src, "error", err)
			continue
		}
		v.Src = local.Src
		v.Thumbnail = local.Thumbnail
		videos = append(videos, v)
	}
	res.Videos = videos
}

// Candidate builds the candidate post for a feed post and its result.
func Candidate(post *domain.FeedPost, res *Result) *domain.CandidatePost {
	created := post.CreatedTime
	if normalized, err := domain.NormalizeCreatedTime(created); err == nil {
		created = normalized
	}
	c := &domain.CandidatePost{
		SourcePostID: post.ID,
		Message:      post.Message,
		CreatedTime:  created,
		Provenance:   domain.ProvenanceAPI,
	}
	if post.From != nil {
		c.Author = *post.From
	}
	res.Apply(c)
	return c
}
