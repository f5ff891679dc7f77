package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/media"
	"github.com/iconidentify/postgrabba/internal/repository"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// withURLParam attaches a chi route parameter to r.
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// mockJobRepository is a test implementation of repository.JobRepository.
type mockJobRepository struct {
	stats    *repository.QueueStats
	statsErr error
	jobs     map[domain.JobID]*domain.Job
}

func newMockJobRepository() *mockJobRepository {
	return &mockJobRepository{
		stats: &repository.QueueStats{},
		jobs:  make(map[domain.JobID]*domain.Job),
	}
}

func (m *mockJobRepository) Enqueue(ctx context.Context, job *domain.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) Dequeue(ctx context.Context) (*domain.Job, error) {
	return nil, domain.ErrNoJobs
}

func (m *mockJobRepository) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	if job, ok := m.jobs[id]; ok {
		return job, nil
	}
	return nil, domain.ErrJobNotFound
}

func (m *mockJobRepository) Update(ctx context.Context, job *domain.Job) error {
	m.jobs[job.ID] = job
	return nil
}

func (m *mockJobRepository) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	var out []*domain.Job
	for _, j := range m.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (m *mockJobRepository) Stats(ctx context.Context) (*repository.QueueStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return m.stats, nil
}

// mockPostRepository is a test implementation of repository.PostRepository.
type mockPostRepository struct {
	posts     map[string]*domain.StoredPost
	queryErr  error
	statsErr  error
	lastQuery repository.PostFilter
}

func newMockPostRepository(posts ...*domain.StoredPost) *mockPostRepository {
	m := &mockPostRepository{posts: make(map[string]*domain.StoredPost)}
	for _, p := range posts {
		m.posts[p.SourcePostID] = p
	}
	return m
}

func (m *mockPostRepository) Insert(ctx context.Context, post *domain.StoredPost) error {
	m.posts[post.SourcePostID] = post
	return nil
}

func (m *mockPostRepository) Update(ctx context.Context, post *domain.StoredPost) error {
	m.posts[post.SourcePostID] = post
	return nil
}

func (m *mockPostRepository) GetBySourceID(ctx context.Context, id string) (*domain.StoredPost, error) {
	if p, ok := m.posts[id]; ok {
		return p, nil
	}
	return nil, domain.ErrPostNotFound
}

func (m *mockPostRepository) ExistsBySourceID(ctx context.Context, id string) (bool, error) {
	_, ok := m.posts[id]
	return ok, nil
}

func (m *mockPostRepository) ListByDateRange(ctx context.Context, from, to string) ([]*domain.StoredPost, error) {
	return nil, nil
}

func (m *mockPostRepository) Query(ctx context.Context, f repository.PostFilter) ([]*domain.StoredPost, int, error) {
	m.lastQuery = f
	if m.queryErr != nil {
		return nil, 0, m.queryErr
	}
	var out []*domain.StoredPost
	for _, p := range m.posts {
		if f.Keyword == "" || strings.Contains(strings.ToLower(p.Message), strings.ToLower(f.Keyword)) {
			out = append(out, p)
		}
	}
	total := len(out)
	if f.Offset >= len(out) {
		return nil, total, nil
	}
	out = out[f.Offset:]
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *mockPostRepository) Stats(ctx context.Context) (*repository.PostStats, error) {
	if m.statsErr != nil {
		return nil, m.statsErr
	}
	return &repository.PostStats{
		Total:        len(m.posts),
		ByProvenance: map[domain.Provenance]int{domain.ProvenanceAPI: len(m.posts)},
	}, nil
}

// mockStorage is a test implementation of StorageStatter.
type mockStorage struct {
	root  string
	stats media.StorageStats
}

func (m *mockStorage) Stats() (media.StorageStats, error) {
	return m.stats, nil
}

func (m *mockStorage) Root() string {
	return m.root
}

// mockJobService is a test implementation of JobService.
type mockJobService struct {
	repo       *mockJobRepository
	fetches    []domain.FetchRequest
	imports    []domain.ImportRequest
	refreshes  []string
	submitErr  error
	refreshErr error
}

func newMockJobService() *mockJobService {
	return &mockJobService{repo: newMockJobRepository()}
}

func (m *mockJobService) submit(kind domain.JobKind) (*domain.Job, error) {
	if m.submitErr != nil {
		return nil, m.submitErr
	}
	job := domain.NewJob(domain.JobID("job_"+string(kind)), kind, 0)
	m.repo.jobs[job.ID] = job
	return job, nil
}

func (m *mockJobService) SubmitFetch(ctx context.Context, req domain.FetchRequest) (*domain.Job, error) {
	m.fetches = append(m.fetches, req)
	return m.submit(domain.JobKindFetch)
}

func (m *mockJobService) SubmitImport(ctx context.Context, req domain.ImportRequest) (*domain.Job, error) {
	m.imports = append(m.imports, req)
	return m.submit(domain.JobKindImport)
}

func (m *mockJobService) SubmitCommentRefresh(ctx context.Context, id string) (*domain.Job, error) {
	m.refreshes = append(m.refreshes, id)
	if m.refreshErr != nil {
		return nil, m.refreshErr
	}
	return m.submit(domain.JobKindRefreshComments)
}

func (m *mockJobService) Get(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return m.repo.Get(ctx, id)
}

func (m *mockJobService) List(ctx context.Context, limit int) ([]*domain.Job, error) {
	return m.repo.List(ctx, limit)
}
