package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/postgrabba/internal/domain"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// JobService queues runs and reports on them.
type JobService interface {
	SubmitFetch(ctx context.Context, req domain.FetchRequest) (*domain.Job, error)
	SubmitImport(ctx context.Context, req domain.ImportRequest) (*domain.Job, error)
	SubmitCommentRefresh(ctx context.Context, sourcePostID string) (*domain.Job, error)
	Get(ctx context.Context, id domain.JobID) (*domain.Job, error)
	List(ctx context.Context, limit int) ([]*domain.Job, error)
}

// JobHandler submits fetch, import and comment-refresh runs.
type JobHandler struct {
	jobs         JobService
	localDefault bool
	logger       *slog.Logger
}

// NewJobHandler creates a job handler. localizeDefault applies to fetch
// requests that do not say whether to download media.
func NewJobHandler(jobs JobService, localizeDefault bool, logger *slog.Logger) *JobHandler {
	return &JobHandler{jobs: jobs, localDefault: localizeDefault, logger: logger}
}

// FetchRequest is the body of POST /api/v1/fetch. Dates are YYYY-MM-DD.
type FetchRequest struct {
	Since        string `json:"since"`
	Until        string `json:"until"`
	PostType     string `json:"post_type"`
	MaxPages     int    `json:"max_pages"`
	Localize     *bool  `json:"localize"`
	Quality      string `json:"quality"`
	WithComments bool   `json:"with_comments"`
}

// ImportRequest is the body of POST /api/v1/import.
type ImportRequest struct {
	// Path is relative to the configured import directory.
	Path       string `json:"path"`
	Thumbnails bool   `json:"thumbnails"`
}

// JobResponse is returned when a run is queued.
type JobResponse struct {
	JobID  string `json:"job_id"`
	Kind   string `json:"kind"`
	Status string `json:"status"`
}

// Fetch handles POST /api/v1/fetch
func (h *JobHandler) Fetch(w http.ResponseWriter, r *http.Request) {
	var body FetchRequest
	if !decodeBody(w, r, &body) {
		return
	}

	req, err := body.toDomain(h.localDefault)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.SubmitFetch(r.Context(), req)
	h.respondQueued(w, job, err)
}

func (b FetchRequest) toDomain(localizeDefault bool) (domain.FetchRequest, error) {
	req := domain.FetchRequest{
		PostType:     b.PostType,
		MaxPages:     b.MaxPages,
		Localize:     localizeDefault,
		Quality:      b.Quality,
		WithComments: b.WithComments,
	}
	if b.Localize != nil {
		req.Localize = *b.Localize
	}
	if b.MaxPages < 0 {
		return req, errors.New("max_pages must not be negative")
	}
	if b.Quality != "" {
		if _, err := domain.ParseQualityTier(b.Quality); err != nil {
			return req, err
		}
	}

	var err error
	if b.Since != "" {
		if req.Since, err = time.Parse(domain.DateLayout, b.Since); err != nil {
			return req, errors.New("since must be a YYYY-MM-DD date")
		}
	}
	if b.Until != "" {
		if req.Until, err = time.Parse(domain.DateLayout, b.Until); err != nil {
			return req, errors.New("until must be a YYYY-MM-DD date")
		}
	}
	if !req.Since.IsZero() && !req.Until.IsZero() && req.Since.After(req.Until) {
		return req, errors.New("since must not be after until")
	}
	return req, nil
}

// Import handles POST /api/v1/import
func (h *JobHandler) Import(w http.ResponseWriter, r *http.Request) {
	var body ImportRequest
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Path != "" && !filepath.IsLocal(body.Path) {
		writeError(w, http.StatusBadRequest, "path must be relative to the import directory")
		return
	}

	job, err := h.jobs.SubmitImport(r.Context(), domain.ImportRequest{
		Path:       body.Path,
		Thumbnails: body.Thumbnails,
	})
	h.respondQueued(w, job, err)
}

// RefreshComments handles POST /api/v1/posts/{postID}/comments/refresh
func (h *JobHandler) RefreshComments(w http.ResponseWriter, r *http.Request) {
	postID := chi.URLParam(r, "postID")
	if postID == "" {
		writeError(w, http.StatusBadRequest, "missing post ID")
		return
	}

	job, err := h.jobs.SubmitCommentRefresh(r.Context(), postID)
	if errors.Is(err, domain.ErrNoUpstreamID) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondQueued(w, job, err)
}

// Get handles GET /api/v1/jobs/{jobID}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := h.jobs.Get(r.Context(), domain.JobID(jobID))
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.logger.Error("get job failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to get job")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// List handles GET /api/v1/jobs
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	limit := defaultPageLimit
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = min(parsed, maxPageLimit)
		}
	}

	jobs, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		h.logger.Error("list jobs failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs})
}

func (h *JobHandler) respondQueued(w http.ResponseWriter, job *domain.Job, err error) {
	if err != nil {
		h.logger.Error("submit job failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue job")
		return
	}
	writeJSON(w, http.StatusAccepted, JobResponse{
		JobID:  job.ID.String(),
		Kind:   string(job.Kind),
		Status: string(job.Status),
	})
}

// decodeBody reads a JSON body. An empty body leaves dst unchanged.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}
