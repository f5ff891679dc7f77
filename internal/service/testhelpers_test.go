package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/repository"
	"github.com/iconidentify/postgrabba/pkg/graph"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memPostRepo implements repository.PostRepository and
// repository.CommentRepository in memory.
type memPostRepo struct {
	mu        sync.Mutex
	posts     map[string]*domain.StoredPost
	comments  map[string]domain.Comment
	insertErr error
	updates   int
}

func newMemPostRepo() *memPostRepo {
	return &memPostRepo{
		posts:    make(map[string]*domain.StoredPost),
		comments: make(map[string]domain.Comment),
	}
}

func (m *memPostRepo) Insert(ctx context.Context, post *domain.StoredPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		return m.insertErr
	}
	if _, ok := m.posts[post.SourcePostID]; ok {
		return domain.ErrDuplicatePost
	}
	for _, c := range post.Comments {
		if _, ok := m.comments[c.ID]; ok {
			return domain.ErrDuplicateComment
		}
	}
	cp := *post
	cp.Comments = nil
	m.posts[post.SourcePostID] = &cp
	for _, c := range post.Comments {
		c.PostID = post.SourcePostID
		m.comments[c.ID] = c
	}
	return nil
}

func (m *memPostRepo) Update(ctx context.Context, post *domain.StoredPost) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[post.SourcePostID]; !ok {
		return domain.ErrPostNotFound
	}
	cp := *post
	m.posts[post.SourcePostID] = &cp
	m.updates++
	return nil
}

func (m *memPostRepo) GetBySourceID(ctx context.Context, id string) (*domain.StoredPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, domain.ErrPostNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memPostRepo) ExistsBySourceID(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.posts[id]
	return ok, nil
}

func (m *memPostRepo) ListByDateRange(ctx context.Context, from, to string) ([]*domain.StoredPost, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StoredPost
	for _, p := range m.posts {
		if len(p.CreatedTime) < 10 {
			continue
		}
		if d := p.CreatedTime[:10]; d >= from && d <= to {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memPostRepo) Query(ctx context.Context, f repository.PostFilter) ([]*domain.StoredPost, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.StoredPost
	for _, p := range m.posts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedTime > out[j].CreatedTime })
	return out, len(out), nil
}

func (m *memPostRepo) Stats(ctx context.Context) (*repository.PostStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &repository.PostStats{Total: len(m.posts)}, nil
}

func (m *memPostRepo) InsertComment(ctx context.Context, c *domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.comments[c.ID]; ok {
		return domain.ErrDuplicateComment
	}
	if _, ok := m.posts[c.PostID]; !ok {
		return domain.ErrPostNotFound
	}
	m.comments[c.ID] = *c
	return nil
}

func (m *memPostRepo) CommentExists(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.comments[id]
	return ok, nil
}

func (m *memPostRepo) ReplaceComments(ctx context.Context, postID string, comments []domain.Comment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[postID]; !ok {
		return domain.ErrPostNotFound
	}
	for id, c := range m.comments {
		if c.PostID == postID {
			delete(m.comments, id)
		}
	}
	for _, c := range comments {
		c.PostID = postID
		m.comments[c.ID] = c
	}
	return nil
}

func (m *memPostRepo) ListComments(ctx context.Context, postID string) ([]domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Comment
	for _, c := range m.comments {
		if c.PostID == postID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memPostRepo) get(id string) *domain.StoredPost {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts[id]
}

// mockFeed serves canned feed pages keyed by continuation URL ("" for the
// first page).
type mockFeed struct {
	mu          sync.Mutex
	pages       map[string]*graph.FeedPage
	pageErr     map[string]error
	comments    map[string][]domain.Comment
	commentErr  error
	queries     []graph.FeedQuery
	commentReqs []string
}

func (m *mockFeed) FetchFeedPage(ctx context.Context, q graph.FeedQuery, next string) (*graph.FeedPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries = append(m.queries, q)
	if err := m.pageErr[next]; err != nil {
		return nil, err
	}
	p, ok := m.pages[next]
	if !ok {
		return &graph.FeedPage{}, nil
	}
	return p, nil
}

func (m *mockFeed) FetchComments(ctx context.Context, postID string) ([]domain.Comment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.commentReqs = append(m.commentReqs, postID)
	if m.commentErr != nil {
		return nil, m.commentErr
	}
	return m.comments[postID], nil
}

// mockMedia is a normalize.MediaStore that records downloads.
type mockMedia struct {
	mu       sync.Mutex
	photos   []string
	videos   []string
	photoErr error
	thumbs   []string
}

func (m *mockMedia) DownloadPhoto(ctx context.Context, url string, postedAt time.Time, tier domain.QualityTier) (*domain.LocalMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.photos = append(m.photos, url)
	if m.photoErr != nil {
		return nil, m.photoErr
	}
	return &domain.LocalMedia{Src: "/media/local.jpg", Width: 10, Height: 10}, nil
}

func (m *mockMedia) DownloadVideo(ctx context.Context, url string, postedAt time.Time, posterURL string) (*domain.LocalMedia, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.videos = append(m.videos, url)
	return &domain.LocalMedia{Src: "/media/local.mp4"}, nil
}

func (m *mockMedia) ExtractThumbnail(ctx context.Context, videoPath string, postedAt time.Time) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.thumbs = append(m.thumbs, videoPath)
	return "/media/thumb.jpg", nil
}

func (m *mockMedia) downloads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.photos) + len(m.videos)
}

// recorder is a domain.EventEmitter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recorder) Emit(e domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func photoPost(id, msg, created, src string) domain.FeedPost {
	return domain.FeedPost{
		ID:          id,
		Message:     msg,
		CreatedTime: created,
		Attachments: &domain.AttachmentPage{Data: []domain.RawAttachment{{
			Type:  "photo",
			Media: &domain.RawMedia{Image: &domain.ImageDescriptor{Src: src, Width: 100, Height: 50}},
		}}},
	}
}
