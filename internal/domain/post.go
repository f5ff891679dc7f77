package domain

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the fixed textual form of every created_time we persist.
// Upstream feed timestamps already use it; epoch timestamps from export
// archives are converted to it in UTC.
const TimeLayout = "2006-01-02T15:04:05-0700"

// DateLayout is the date component of TimeLayout.
const DateLayout = "2006-01-02"

// Provenance tags where a post came from.
type Provenance string

const (
	ProvenanceAPI    Provenance = "api"
	ProvenanceImport Provenance = "import"
)

// SyntheticIDPrefix starts every identifier derived for archive records
// that carry none of their own.
const SyntheticIDPrefix = "import_"

// IsSyntheticID reports whether id was derived rather than assigned upstream.
func IsSyntheticID(id string) bool {
	return strings.HasPrefix(id, SyntheticIDPrefix)
}

// PostID is the synthetic persistent identity of a stored post.
type PostID string

// String returns the string representation of the PostID.
func (id PostID) String() string {
	return string(id)
}

// Photo is a normalized photo attachment. Src is either the upstream image
// URL or, after localization, a root-relative path to the local copy.
type Photo struct {
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
	Title  string `json:"title"`
}

// Video is a normalized video attachment. Thumbnail may be empty.
type Video struct {
	Src         string `json:"src"`
	Thumbnail   string `json:"thumbnail"`
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Link is a normalized shared link.
type Link struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Thumbnail   string `json:"thumbnail"`
	Domain      string `json:"domain"`
}

// Author identifies who wrote a post or comment.
type Author struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// ArchiveOwner is the author recorded for posts from a bulk export, which
// never names the account owner explicitly.
var ArchiveOwner = Author{ID: "self", Name: "You"}

// CandidatePost is the result of normalizing one upstream post. Photos,
// Videos and Links are nil when extraction produced nothing.
type CandidatePost struct {
	SourcePostID string     `json:"source_post_id"`
	Message      string     `json:"message"`
	CreatedTime  string     `json:"created_time"`
	Photos       []Photo    `json:"photos"`
	Videos       []Video    `json:"videos"`
	Links        []Link     `json:"links"`
	Author       Author     `json:"author"`
	Provenance   Provenance `json:"provenance"`
}

// CreatedAt parses CreatedTime.
func (p *CandidatePost) CreatedAt() (time.Time, error) {
	return ParseCreatedTime(p.CreatedTime)
}

// HasStableID reports whether SourcePostID came from the upstream feed and
// can be trusted as a cross-run identity. Import identifiers may be
// synthesized and are not.
func (p *CandidatePost) HasStableID() bool {
	return p.Provenance == ProvenanceAPI && p.SourcePostID != ""
}

// StoredPost is a persisted post.
type StoredPost struct {
	ID PostID `json:"id"`
	CandidatePost
	MediaQuality string    `json:"media_quality,omitempty"`
	Comments     []Comment `json:"comments,omitempty"`
	InsertedAt   time.Time `json:"inserted_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// HasMedia returns true if the post has at least one photo or video.
func (p *StoredPost) HasMedia() bool {
	return len(p.Photos) > 0 || len(p.Videos) > 0
}

// Enrich overwrites fields of an API-sourced post with non-empty values from
// an import candidate and marks the post as import-enriched.
func (p *StoredPost) Enrich(c *CandidatePost) {
	if c.Message != "" {
		p.Message = c.Message
	}
	if len(c.Photos) > 0 {
		p.Photos = c.Photos
	}
	if len(c.Videos) > 0 {
		p.Videos = c.Videos
	}
	if len(c.Links) > 0 {
		p.Links = c.Links
	}
	p.Provenance = ProvenanceImport
	p.UpdatedAt = time.Now().UTC()
}

// Comment belongs to exactly one post, referenced by the post's upstream ID.
type Comment struct {
	ID          string `json:"id"`
	PostID      string `json:"post_id"`
	Message     string `json:"message"`
	CreatedTime string `json:"created_time"`
	Author      Author `json:"author"`
	LikeCount   int    `json:"like_count"`
}

// FormatCreatedTime renders t in TimeLayout, always in UTC.
func FormatCreatedTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// FormatEpoch renders a Unix timestamp in TimeLayout.
func FormatEpoch(sec int64) string {
	return FormatCreatedTime(time.Unix(sec, 0))
}

// ParseCreatedTime accepts the upstream form (numeric offset without colon)
// as well as RFC 3339.
func ParseCreatedTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidTimestamp
	}
	for _, layout := range []string{TimeLayout, time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, s)
}

// NormalizeCreatedTime parses s and re-renders it in TimeLayout.
func NormalizeCreatedTime(s string) (string, error) {
	t, err := ParseCreatedTime(s)
	if err != nil {
		return "", err
	}
	return FormatCreatedTime(t), nil
}
