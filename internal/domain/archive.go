package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ArchivePost is one post object from an export archive. The export has no
// typed attachment tree: attachments are flat data[] items under grouping
// wrappers, and media kinds must be inferred from file names.
type ArchivePost struct {
	PostID      string              `json:"post_id"`
	Timestamp   json.RawMessage     `json:"timestamp"`
	CreatedTime string              `json:"created_time"`
	Message     string              `json:"message"`
	Title       string              `json:"title"`
	Data        []ArchivePostData   `json:"data"`
	Attachments []ArchiveAttachment `json:"attachments"`

	// Raw is the undecoded object, kept for content hashing.
	Raw json.RawMessage `json:"-"`
}

// ArchivePostData is an entry of a post's data[] list.
type ArchivePostData struct {
	Post string `json:"post"`
}

// ArchiveAttachment is a grouping wrapper around attachment items.
type ArchiveAttachment struct {
	Data []ArchiveAttachmentItem `json:"data"`
}

// ArchiveAttachmentItem is a single attachment entry.
type ArchiveAttachmentItem struct {
	Media           *ArchiveMedia           `json:"media,omitempty"`
	ExternalContext *ArchiveExternalContext `json:"external_context,omitempty"`
	Title           string                  `json:"title"`
	Description     string                  `json:"description"`
}

// ArchiveMedia references a media file relative to the archive root. Older
// exports name the file under photo_image or video_info instead of uri.
type ArchiveMedia struct {
	URI           string          `json:"uri"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Thumbnail     *ArchiveURI     `json:"thumbnail,omitempty"`
	PhotoImage    *ArchiveURI     `json:"photo_image,omitempty"`
	VideoInfo     *ArchiveURI     `json:"video_info,omitempty"`
	MediaMetadata json.RawMessage `json:"media_metadata,omitempty"`
}

// Path returns the archive-relative file the media entry points at.
func (m *ArchiveMedia) Path() string {
	switch {
	case m.URI != "":
		return m.URI
	case m.VideoInfo != nil && m.VideoInfo.URI != "":
		return m.VideoInfo.URI
	case m.PhotoImage != nil && m.PhotoImage.URI != "":
		return m.PhotoImage.URI
	}
	return ""
}

// ArchiveURI is a bare {uri} object.
type ArchiveURI struct {
	URI string `json:"uri"`
}

// ArchiveExternalContext carries a shared link.
type ArchiveExternalContext struct {
	URL  string `json:"url"`
	Name string `json:"name"`
}

// UnmarshalJSON keeps a copy of the raw bytes alongside the decoded fields.
func (p *ArchivePost) UnmarshalJSON(data []byte) error {
	type plain ArchivePost
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = ArchivePost(v)
	p.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Epoch returns the Unix timestamp of the post when the export carried a
// numeric one.
func (p *ArchivePost) Epoch() (int64, bool) {
	return rawEpoch(p.Timestamp)
}

// ArchiveComment is one comment record from comments/comments.json. Newer
// exports nest the payload in data[].comment.
type ArchiveComment struct {
	ID        string               `json:"id"`
	PostID    string               `json:"post_id"`
	Comment   string               `json:"comment"`
	Author    json.RawMessage      `json:"author"`
	Timestamp json.RawMessage      `json:"timestamp"`
	Title     string               `json:"title"`
	Data      []ArchiveCommentData `json:"data"`

	Raw json.RawMessage `json:"-"`
}

// ArchiveCommentData wraps the nested comment payload.
type ArchiveCommentData struct {
	Comment *struct {
		Comment   string          `json:"comment"`
		Author    json.RawMessage `json:"author"`
		Timestamp json.RawMessage `json:"timestamp"`
	} `json:"comment,omitempty"`
}

// UnmarshalJSON keeps a copy of the raw bytes alongside the decoded fields.
func (c *ArchiveComment) UnmarshalJSON(data []byte) error {
	type plain ArchiveComment
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*c = ArchiveComment(v)
	c.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// Flatten lifts a nested data[].comment payload into the top-level fields
// that are still empty.
func (c *ArchiveComment) Flatten() {
	for _, d := range c.Data {
		if d.Comment == nil {
			continue
		}
		if c.Comment == "" {
			c.Comment = d.Comment.Comment
		}
		if len(c.Author) == 0 {
			c.Author = d.Comment.Author
		}
		if len(c.Timestamp) == 0 {
			c.Timestamp = d.Comment.Timestamp
		}
		return
	}
}

// AuthorInfo decodes the author field, which exports write either as a
// bare name or as an object.
func (c *ArchiveComment) AuthorInfo() Author {
	raw := bytes.TrimSpace(c.Author)
	if len(raw) == 0 {
		return Author{}
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return Author{Name: name}
	}
	var a Author
	if err := json.Unmarshal(raw, &a); err == nil {
		return a
	}
	return Author{}
}

// CreatedTime renders the comment timestamp in TimeLayout, accepting an
// epoch number or an already formatted string.
func (c *ArchiveComment) CreatedTime() string {
	if sec, ok := rawEpoch(c.Timestamp); ok {
		return FormatEpoch(sec)
	}
	var s string
	if err := json.Unmarshal(c.Timestamp, &s); err == nil {
		if normalized, err := NormalizeCreatedTime(s); err == nil {
			return normalized
		}
		return s
	}
	return ""
}

func rawEpoch(raw json.RawMessage) (int64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] == '"' || bytes.Equal(raw, []byte("null")) {
		return 0, false
	}
	if sec, err := strconv.ParseInt(string(raw), 10, 64); err == nil {
		return sec, true
	}
	if f, err := strconv.ParseFloat(string(raw), 64); err == nil {
		return int64(f), true
	}
	return 0, false
}
