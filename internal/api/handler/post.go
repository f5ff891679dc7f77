package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/repository"
)

// PostHandler serves the stored timeline.
type PostHandler struct {
	posts  repository.PostRepository
	logger *slog.Logger
}

// NewPostHandler creates a new post handler.
func NewPostHandler(posts repository.PostRepository, logger *slog.Logger) *PostHandler {
	return &PostHandler{posts: posts, logger: logger}
}

// PostListResponse contains a page of posts.
type PostListResponse struct {
	Posts   []*domain.StoredPost `json:"posts"`
	Total   int                  `json:"total"`
	Limit   int                  `json:"limit"`
	Offset  int                  `json:"offset"`
	HasMore bool                 `json:"has_more"`
}

// List handles GET /api/v1/posts
// Query parameters:
//   - from, to: date range (YYYY-MM-DD) on the post's created date
//   - q: case-insensitive keyword
//   - has_photo, has_video, has_links, has_tags: true or false
//   - min_length, max_length: message length bounds
//   - provenance: api or import
//   - limit (default 50, max 200), offset
func (h *PostHandler) List(w http.ResponseWriter, r *http.Request) {
	filter, err := parsePostFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	posts, total, err := h.posts.Query(r.Context(), filter)
	if err != nil {
		h.logger.Error("query posts failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to query posts")
		return
	}
	if posts == nil {
		posts = []*domain.StoredPost{}
	}

	writeJSON(w, http.StatusOK, PostListResponse{
		Posts:   posts,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
		HasMore: filter.Offset+len(posts) < total,
	})
}

// Get handles GET /api/v1/posts/{postID}
func (h *PostHandler) Get(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "missing post ID")
		return
	}

	post, err := h.posts.GetBySourceID(r.Context(), postID)
	if err != nil {
		if errors.Is(err, domain.ErrPostNotFound) {
			writeError(w, http.StatusNotFound, "post not found")
			return
		}
		h.logger.Error("get post failed", "post_id", postID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get post")
		return
	}

	writeJSON(w, http.StatusOK, post)
}

func parsePostFilter(r *http.Request) (repository.PostFilter, error) {
	q := r.URL.Query()
	var f repository.PostFilter
	f.Limit, f.Offset = parsePagination(r)

	for _, d := range []struct {
		key string
		dst *string
	}{{"from", &f.From}, {"to", &f.To}} {
		v := strings.TrimSpace(q.Get(d.key))
		if v == "" {
			continue
		}
		if _, err := time.Parse(domain.DateLayout, v); err != nil {
			return f, fmt.Errorf("%s must be a YYYY-MM-DD date", d.key)
		}
		*d.dst = v
	}
	if f.From != "" && f.To != "" && f.From > f.To {
		return f, errors.New("from must not be after to")
	}

	f.Keyword = strings.TrimSpace(q.Get("q"))

	for _, b := range []struct {
		key string
		dst **bool
	}{
		{"has_photo", &f.HasPhoto},
		{"has_video", &f.HasVideo},
		{"has_links", &f.HasLinks},
		{"has_tags", &f.HasTags},
	} {
		v := q.Get(b.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("%s must be true or false", b.key)
		}
		*b.dst = &parsed
	}

	for _, n := range []struct {
		key string
		dst *int
	}{{"min_length", &f.MinLength}, {"max_length", &f.MaxLength}} {
		v := q.Get(n.key)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer", n.key)
		}
		*n.dst = parsed
	}

	switch p := domain.Provenance(q.Get("provenance")); p {
	case "":
	case domain.ProvenanceAPI, domain.ProvenanceImport:
		f.Provenance = p
	default:
		return f, fmt.Errorf("unknown provenance %q", p)
	}

	return f, nil
}
