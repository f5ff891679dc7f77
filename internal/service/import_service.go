package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/iconidentify/postgrabba/internal/dedup"
	"github.com/iconidentify/postgrabba/internal/domain"
	"github.com/iconidentify/postgrabba/internal/normalize"
	"github.com/iconidentify/postgrabba/internal/repository"
)

// activityDir is where newer exports nest their content.
const activityDir = "your_facebook_activity"

// postListKeys are the object keys an export posts file may hold its list under.
var postListKeys = []string{"posts", "status_updates", "photos", "videos", "data"}

// ImportService loads an extracted export archive into the post store.
type ImportService struct {
	posts      repository.PostRepository
	comments   repository.CommentRepository
	normalizer *normalize.Normalizer
	dedup      *dedup.Engine
	thumbs     normalize.MediaStore
	importRoot string
	events     domain.EventEmitter
	logger     *slog.Logger
}

// NewImportService creates an import orchestrator. Relative archive paths
// resolve against importRoot. thumbs may be nil when frame extraction is
// unavailable.
func NewImportService(
	posts repository.PostRepository,
	comments repository.CommentRepository,
	normalizer *normalize.Normalizer,
	engine *dedup.Engine,
	thumbs normalize.MediaStore,
	importRoot string,
	events domain.EventEmitter,
	logger *slog.Logger,
) *ImportService {
	return &ImportService{
		posts:      posts,
		comments:   comments,
		normalizer: normalizer,
		dedup:      engine,
		thumbs:     thumbs,
		importRoot: importRoot,
		events:     events,
		logger:     logger,
	}
}

// Run imports every posts file and the comments file of the archive at
// req.Path. It never fails: problems are recorded in the summary.
func (s *ImportService) Run(ctx context.Context, req domain.ImportRequest) *domain.RunSummary {
	summary := domain.NewRunSummary(uuid.New().String(), domain.ProvenanceImport)
	ev := runEvents{emitter: s.events, category: domain.EventCategoryImport, runID: summary.RunID}
	root := s.resolveRoot(req.Path)
	logger := s.logger.With("run_id", summary.RunID, "archive", root)

	postsDir, contentDir, err := findPostsDir(root)
	if err != nil {
		summary.AddError("%v", err)
		ev.failed("import run rejected", err)
		logger.Warn("archive has no posts directory")
		return summary.Finish()
	}

	opts := normalize.ArchiveOptions{Root: root}
	if req.Thumbnails {
		if s.thumbs == nil {
			logger.Warn("thumbnail extraction requested but unavailable")
		} else {
			opts.Thumbnails = s.thumbs
		}
	}

	logger.Info("starting archive import", "posts_dir", postsDir, "thumbnails", opts.Thumbnails != nil)
	ev.started("import run started")

	entries, err := os.ReadDir(postsDir)
	if err != nil {
		summary.AddError("read %s: %v", postsDir, err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".json") {
			continue
		}
		if err := ctx.Err(); err != nil {
			summary.AddError("import cancelled: %v", err)
			break
		}
		s.importPostsFile(ctx, filepath.Join(postsDir, entry.Name()), opts, summary, logger)
	}

	if ctx.Err() == nil {
		s.importComments(ctx, contentDir, summary, logger)
	}

	summary.Finish()
	logger.Info("archive import finished",
		"seen", summary.PostsSeen,
		"imported", summary.PostsImported,
		"updated", summary.PostsUpdated,
		"skipped", summary.PostsSkipped,
		"comments", summary.CommentsImported,
		"media_skipped", summary.MediaSkipped,
		"errors", len(summary.Errors),
	)
	ev.finished(summary)
	return summary
}

func (s *ImportService) resolveRoot(path string) string {
	switch {
	case path == "":
		return s.importRoot
	case filepath.IsAbs(path) || s.importRoot == "":
		return filepath.Clean(path)
	default:
		return filepath.Join(s.importRoot, path)
	}
}

// findPostsDir locates the posts folder and returns it with the directory
// containing it, which also holds the comments folder.
func findPostsDir(root string) (postsDir, contentDir string, err error) {
	for _, dir := range []string{root, filepath.Join(root, activityDir)} {
		candidate := filepath.Join(dir, "posts")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate, dir, nil
		}
	}
	return "", "", domain.ErrArchiveNotFound
}

func (s *ImportService) importPostsFile(ctx context.Context, path string, opts normalize.ArchiveOptions, summary *domain.RunSummary, logger *slog.Logger) {
	name := filepath.Base(path)
	data, err := os.ReadFile(path)
	if err != nil {
		summary.AddError("read %s: %v", name, err)
		return
	}
	posts, err := decodeArchivePosts(data)
	if err != nil {
		summary.AddError("parse %s: %v", name, err)
		logger.Warn("skipping unparseable posts file", "file", name, "error", err)
		return
	}

	logger.Debug("importing posts file", "file", name, "posts", len(posts))
	for i := range posts {
		s.importPost(ctx, &posts[i], opts, summary, logger)
	}
}

// importPost applies the fingerprint check and the enrichment-on-conflict
// policy to one archive post.
func (s *ImportService) importPost(ctx context.Context, raw *domain.ArchivePost, opts normalize.ArchiveOptions, summary *domain.RunSummary, logger *slog.Logger) {
	summary.PostsSeen++

	candidate, res := s.normalizer.ExtractArchivePost(ctx, raw, opts)
	summary.MediaSkipped += res.MediaSkipped
	logger = logger.With("post_id", candidate.SourcePostID)

	verdict, err := s.dedup.Check(ctx, candidate)
	if err != nil {
		summary.AddError("post %s: %v", candidate.SourcePostID, err)
		return
	}
	if verdict.Duplicate {
		summary.PostsSkipped++
		logger.Debug("archive post already stored", "reason", verdict.Reason)
		return
	}

	existing, err := s.posts.GetBySourceID(ctx, candidate.SourcePostID)
	switch {
	case errors.Is(err, domain.ErrPostNotFound):
		s.insertImported(ctx, candidate, summary, logger)
	case err != nil:
		summary.AddError("post %s: %v", candidate.SourcePostID, err)
	case existing.Provenance == domain.ProvenanceAPI:
		existing.Enrich(candidate)
		if err := s.posts.Update(ctx, existing); err != nil {
			summary.AddError("enrich post %s: %v", candidate.SourcePostID, err)
			return
		}
		summary.PostsUpdated++
		logger.Info("enriched live post with archive data")
	default:
		// First import wins.
		summary.PostsSkipped++
	}
}

func (s *ImportService) insertImported(ctx context.Context, c *domain.CandidatePost, summary *domain.RunSummary, logger *slog.Logger) {
	err := s.posts.Insert(ctx, &domain.StoredPost{CandidatePost: *c})
	switch {
	case errors.Is(err, domain.ErrDuplicatePost):
		summary.PostsSkipped++
	case err != nil:
		summary.AddError("store post %s: %v", c.SourcePostID, err)
		logger.Error("failed to store archive post", "error", err)
	default:
		summary.PostsImported++
	}
}

// commentFiles lists where exports keep comments, relative to the content dir.
var commentFiles = []string{
	filepath.Join("comments", "comments.json"),
	filepath.Join("comments_and_reactions", "comments.json"),
}

func (s *ImportService) importComments(ctx context.Context, contentDir string, summary *domain.RunSummary, logger *slog.Logger) {
	var path string
	for _, rel := range commentFiles {
		if _, err := os.Stat(filepath.Join(contentDir, rel)); err == nil {
			path = filepath.Join(contentDir, rel)
			break
		}
	}
	if path == "" {
		logger.Debug("archive has no comments file")
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		summary.AddError("read comments: %v", err)
		return
	}
	records, err := decodeArchiveComments(data)
	if err != nil {
		summary.AddError("parse comments: %v", err)
		return
	}

	for i := range records {
		if ctx.Err() != nil {
			return
		}
		s.importComment(ctx, &records[i], summary)
	}
}

func (s *ImportService) importComment(ctx context.Context, rec *domain.ArchiveComment, summary *domain.RunSummary) {
	rec.Flatten()
	id := normalize.CommentID(rec)

	exists, err := s.comments.CommentExists(ctx, id)
	if err != nil {
		summary.AddError("comment %s: %v", id, err)
		return
	}
	if exists {
		return
	}
	if rec.PostID == "" {
		summary.AddError("comment %s: no owning post", id)
		return
	}

	err = s.comments.InsertComment(ctx, &domain.Comment{
		ID:          id,
		PostID:      rec.PostID,
		Message:     normalize.RepairText(rec.Comment),
		CreatedTime: rec.CreatedTime(),
		Author:      rec.AuthorInfo(),
	})
	switch {
	case errors.Is(err, domain.ErrDuplicateComment):
	case errors.Is(err, domain.ErrPostNotFound):
		summary.AddError("comment %s: post %s is not stored", id, rec.PostID)
	case err != nil:
		summary.AddError("comment %s: %v", id, err)
	default:
		summary.CommentsImported++
	}
}

// decodeArchivePosts accepts a bare list or an object holding the list
// under one of postListKeys. An object with none of them holds no posts.
func decodeArchivePosts(data []byte) ([]domain.ArchivePost, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var posts []domain.ArchivePost
		if err := json.Unmarshal(data, &posts); err != nil {
			return nil, err
		}
		return posts, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	for _, key := range postListKeys {
		raw, ok := obj[key]
		if !ok {
			continue
		}
		var posts []domain.ArchivePost
		if err := json.Unmarshal(raw, &posts); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		return posts, nil
	}
	return nil, nil
}

// decodeArchiveComments accepts a bare list, {comments: [...]} or
// {comments_v2: [...]}.
func decodeArchiveComments(data []byte) ([]domain.ArchiveComment, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var records []domain.ArchiveComment
		if err := json.Unmarshal(data, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var obj struct {
		Comments   []domain.ArchiveComment `json:"comments"`
		CommentsV2 []domain.ArchiveComment `json:"comments_v2"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj.Comments != nil {
		return obj.Comments, nil
	}
	return obj.CommentsV2, nil
}
