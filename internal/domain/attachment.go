package domain

// FeedPost is one post object as returned by the upstream feed.
type FeedPost struct {
	ID          string          `json:"id"`
	Message     string          `json:"message"`
	CreatedTime string          `json:"created_time"`
	Link        string          `json:"link"`
	From        *Author         `json:"from,omitempty"`
	Attachments *AttachmentPage `json:"attachments,omitempty"`
}

// AttachmentPage is a (possibly paginated) list of attachment nodes.
type AttachmentPage struct {
	Data   []RawAttachment `json:"data"`
	Paging *Paging         `json:"paging,omitempty"`
}

// Next returns the continuation URL, or "" when this is the last page.
func (p *AttachmentPage) Next() string {
	if p == nil || p.Paging == nil {
		return ""
	}
	return p.Paging.Next
}

// Paging carries the upstream continuation cursor.
type Paging struct {
	Next     string `json:"next,omitempty"`
	Previous string `json:"previous,omitempty"`
}

// RawAttachment is the wire shape of an upstream attachment node. It is
// resolved exactly once into an Attachment with Resolve.
type RawAttachment struct {
	Type           string          `json:"type"`
	MediaType      string          `json:"media_type"`
	Media          *RawMedia       `json:"media,omitempty"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Target         *RawTarget      `json:"target,omitempty"`
	Subattachments *AttachmentPage `json:"subattachments,omitempty"`
}

// RawMedia is the embedded media descriptor of an attachment.
type RawMedia struct {
	Image  *ImageDescriptor `json:"image,omitempty"`
	Source string           `json:"source,omitempty"`
}

// ImageDescriptor describes an upstream image.
type ImageDescriptor struct {
	Src    string `json:"src"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// RawTarget is the target of share-type attachments.
type RawTarget struct {
	URL string `json:"url"`
}

// Attachment is the resolved form of a RawAttachment. Exactly one of the
// concrete node types below implements it.
type Attachment interface {
	attachment()
}

// PhotoNode is a single photo. Image is nil when upstream sent no
// resolvable image, in which case no record is emitted.
type PhotoNode struct {
	Image *ImageDescriptor
	URL   string
	Title string
}

// VideoNode is a single video. Source is the playable video, Poster the
// optional preview image.
type VideoNode struct {
	Source      string
	Poster      string
	URL         string
	Title       string
	Description string
}

// AlbumNode groups child nodes, possibly spread over several pages.
type AlbumNode struct {
	Children []RawAttachment
	Next     string
}

// LinkNode is a shared link.
type LinkNode struct {
	URL         string
	Title       string
	Description string
	Thumbnail   string
}

// RestrictedNode is content the upstream declines to show.
type RestrictedNode struct {
	Title string
}

// UnknownNode is any kind this system does not recognize.
type UnknownNode struct {
	Type string
}

func (PhotoNode) attachment()      {}
func (VideoNode) attachment()      {}
func (AlbumNode) attachment()      {}
func (LinkNode) attachment()       {}
func (RestrictedNode) attachment() {}
func (UnknownNode) attachment()    {}

// Resolve classifies the node. Precedence: photo, video, album, link,
// restricted, unknown. media_type is consulted alongside type because the
// upstream often sets a generic type with a specific media_type.
func (a RawAttachment) Resolve() Attachment {
	switch {
	case a.Type == "photo" || a.MediaType == "photo":
		n := PhotoNode{URL: a.URL, Title: a.Title}
		if a.Media != nil {
			n.Image = a.Media.Image
		}
		return n
	case a.Type == "video" || a.Type == "video_inline" || a.MediaType == "video":
		n := VideoNode{URL: a.URL, Title: a.Title, Description: a.Description}
		if a.Media != nil {
			n.Source = a.Media.Source
			if a.Media.Image != nil {
				n.Poster = a.Media.Image.Src
			}
		}
		return n
	case a.Type == "album":
		n := AlbumNode{}
		if a.Subattachments != nil {
			n.Children = a.Subattachments.Data
			n.Next = a.Subattachments.Next()
		}
		return n
	case a.Type == "share" || a.Type == "link" || a.MediaType == "link":
		n := LinkNode{URL: a.URL, Title: a.Title, Description: a.Description}
		if a.Target != nil && a.Target.URL != "" {
			n.URL = a.Target.URL
		}
		if a.Media != nil && a.Media.Image != nil {
			n.Thumbnail = a.Media.Image.Src
		}
		return n
	case a.Type == "native_templates":
		return RestrictedNode{Title: a.Title}
	default:
		return UnknownNode{Type: a.Type}
	}
}
