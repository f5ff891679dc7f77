package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iconidentify/postgrabba/internal/domain"
)

const postColumns = `id, source_post_id, message, created_time, photos, videos, links, author,
	provenance, media_quality, inserted_at, updated_at`

// SQLitePostRepository implements PostRepository and CommentRepository on
// a SQLite database opened with OpenSQLite.
type SQLitePostRepository struct {
	db *sql.DB
}

// NewSQLitePostRepository creates a repository over db.
func NewSQLitePostRepository(db *sql.DB) *SQLitePostRepository {
	return &SQLitePostRepository{db: db}
}

// Insert stores a new post and its comments atomically.
func (r *SQLitePostRepository) Insert(ctx context.Context, post *domain.StoredPost) error {
	if post.ID == "" {
		post.ID = domain.PostID(uuid.New().String())
	}
	now := time.Now().UTC()
	if post.InsertedAt.IsZero() {
		post.InsertedAt = now
	}
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = now
	}

	photos, videos, links, author, err := encodePostLists(post)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO posts (`+postColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(post.ID), post.SourcePostID, post.Message, post.CreatedTime,
		photos, videos, links, author,
		string(post.Provenance), post.MediaQuality,
		formatStamp(post.InsertedAt), formatStamp(post.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.NewPostError(post.SourcePostID, "insert post", domain.ErrDuplicatePost)
		}
		return fmt.Errorf("insert post %s: %w", post.SourcePostID, err)
	}

	for i := range post.Comments {
		c := &post.Comments[i]
		if c.PostID == "" {
			c.PostID = post.SourcePostID
		}
		if err := insertComment(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}

// Update overwrites a stored post's content, matched by upstream identifier.
func (r *SQLitePostRepository) Update(ctx context.Context, post *domain.StoredPost) error {
	if post.UpdatedAt.IsZero() {
		post.UpdatedAt = time.Now().UTC()
	}
	photos, videos, links, author, err := encodePostLists(post)
	if err != nil {
		return err
	}

	res, err := r.db.ExecContext(ctx, `UPDATE posts SET
			message = ?, created_time = ?, photos = ?, videos = ?, links = ?, author = ?,
			provenance = ?, media_quality = ?, updated_at = ?
		WHERE source_post_id = ?`,
		post.Message, post.CreatedTime, photos, videos, links, author,
		string(post.Provenance), post.MediaQuality, formatStamp(post.UpdatedAt),
		post.SourcePostID,
	)
	if err != nil {
		return fmt.Errorf("update post %s: %w", post.SourcePostID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update post %s: %w", post.SourcePostID, err)
	}
	if n == 0 {
		return domain.NewPostError(post.SourcePostID, "update post", domain.ErrPostNotFound)
	}
	return nil
}

// GetBySourceID retrieves a post and its comments.
func (r *SQLitePostRepository) GetBySourceID(ctx context.Context, sourcePostID string) (*domain.StoredPost, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE source_post_id = ?`, sourcePostID)
	post, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewPostError(sourcePostID, "get post", domain.ErrPostNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get post %s: %w", sourcePostID, err)
	}

	comments, err := r.ListComments(ctx, sourcePostID)
	if err != nil {
		return nil, err
	}
	post.Comments = comments
	return post, nil
}

// ExistsBySourceID reports whether a post with this upstream identifier is stored.
func (r *SQLitePostRepository) ExistsBySourceID(ctx context.Context, sourcePostID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE source_post_id = ?`, sourcePostID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup post %s: %w", sourcePostID, err)
	}
	return true, nil
}

// ListByDateRange returns posts whose created_time date lies in [from, to].
func (r *SQLitePostRepository) ListByDateRange(ctx context.Context, from, to string) ([]*domain.StoredPost, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts
		WHERE substr(created_time, 1, 10) BETWEEN ? AND ?
		ORDER BY created_time`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list posts %s..%s: %w", from, to, err)
	}
	defer rows.Close()
	return scanPosts(rows)
}

// Query returns one page of posts matching filter, newest first, together
// with the total number of matches.
func (r *SQLitePostRepository) Query(ctx context.Context, filter PostFilter) ([]*domain.StoredPost, int, error) {
	where, args := filter.clauses()

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM posts`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count posts: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	pageArgs := append(append([]any{}, args...), limit, offset)
	rows, err := r.db.QueryContext(ctx, `SELECT `+postColumns+` FROM posts`+where+`
		ORDER BY created_time DESC, id DESC LIMIT ? OFFSET ?`, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("query posts: %w", err)
	}
	defer rows.Close()

	posts, err := scanPosts(rows)
	if err != nil {
		return nil, 0, err
	}
	return posts, total, nil
}

// Stats returns storage statistics.
func (r *SQLitePostRepository) Stats(ctx context.Context) (*PostStats, error) {
	stats := &PostStats{ByProvenance: make(map[domain.Provenance]int)}

	var oldest, newest sql.NullString
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*),
			COALESCE(SUM(`+hasList("photos")+`), 0),
			COALESCE(SUM(`+hasList("videos")+`), 0),
			COALESCE(SUM(`+hasList("links")+`), 0),
			MIN(created_time), MAX(created_time)
		FROM posts`).Scan(&stats.Total, &stats.WithPhotos, &stats.WithVideos, &stats.WithLinks, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("post stats: %w", err)
	}
	stats.Oldest = oldest.String
	stats.Newest = newest.String

	rows, err := r.db.QueryContext(ctx, `SELECT provenance, COUNT(*) FROM posts GROUP BY provenance`)
	if err != nil {
		return nil, fmt.Errorf("provenance stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, fmt.Errorf("provenance stats: %w", err)
		}
		stats.ByProvenance[domain.Provenance(p)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("provenance stats: %w", err)
	}

	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM comments`).Scan(&stats.Comments); err != nil {
		return nil, fmt.Errorf("comment stats: %w", err)
	}
	return stats, nil
}

// InsertComment stores one comment.
func (r *SQLitePostRepository) InsertComment(ctx context.Context, comment *domain.Comment) error {
	return insertComment(ctx, r.db, comment)
}

// CommentExists reports whether a comment ID is stored.
func (r *SQLitePostRepository) CommentExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM comments WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup comment %s: %w", id, err)
	}
	return true, nil
}

// ReplaceComments deletes a post's comments and stores the given set in
// one transaction.
func (r *SQLitePostRepository) ReplaceComments(ctx context.Context, sourcePostID string, comments []domain.Comment) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace comments: %w", err)
	}
	defer tx.Rollback()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM posts WHERE source_post_id = ?`, sourcePostID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewPostError(sourcePostID, "replace comments", domain.ErrPostNotFound)
	}
	if err != nil {
		return fmt.Errorf("replace comments %s: %w", sourcePostID, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM comments WHERE post_id = ?`, sourcePostID); err != nil {
		return fmt.Errorf("delete comments %s: %w", sourcePostID, err)
	}
	for i := range comments {
		c := comments[i]
		c.PostID = sourcePostID
		if err := insertComment(ctx, tx, &c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace comments: %w", err)
	}
	return nil
}

// ListComments returns a post's comments, oldest first.
func (r *SQLitePostRepository) ListComments(ctx context.Context, sourcePostID string) ([]domain.Comment, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, post_id, message, created_time, author, like_count
		FROM comments WHERE post_id = ? ORDER BY created_time, id`, sourcePostID)
	if err != nil {
		return nil, fmt.Errorf("list comments %s: %w", sourcePostID, err)
	}
	defer rows.Close()

	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		var author sql.NullString
		if err := rows.Scan(&c.ID, &c.PostID, &c.Message, &c.CreatedTime, &author, &c.LikeCount); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		if err := decodeJSON(author, &c.Author); err != nil {
			return nil, fmt.Errorf("decode comment %s author: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertComment(ctx context.Context, ex execer, c *domain.Comment) error {
	author, err := encodeAuthor(c.Author)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO comments (id, post_id, message, created_time, author, like_count)
		VALUES (?, ?, ?, ?, ?, ?)`, c.ID, c.PostID, c.Message, c.CreatedTime, author, c.LikeCount)
	if err != nil {
		return commentError(c, err)
	}
	return nil
}

// clauses renders the filter as a WHERE clause with positional args.
func (f PostFilter) clauses() (string, []any) {
	var conds []string
	var args []any

	if f.From != "" {
		conds = append(conds, "substr(created_time, 1, 10) >= ?")
		args = append(args, f.From)
	}
	if f.To != "" {
		conds = append(conds, "substr(created_time, 1, 10) <= ?")
		args = append(args, f.To)
	}
	if kw := strings.TrimSpace(f.Keyword); kw != "" {
		conds = append(conds, `lower(message) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(kw))+"%")
	}
	for _, tri := range []struct {
		v   *bool
		col string
	}{{f.HasPhoto, "photos"}, {f.HasVideo, "videos"}, {f.HasLinks, "links"}} {
		if tri.v == nil {
			continue
		}
		if *tri.v {
			conds = append(conds, hasList(tri.col))
		} else {
			conds = append(conds, "NOT "+hasList(tri.col))
		}
	}
	if f.HasTags != nil {
		if *f.HasTags {
			conds = append(conds, "instr(message, '@') > 0")
		} else {
			conds = append(conds, "instr(message, '@') = 0")
		}
	}
	if f.MinLength > 0 {
		conds = append(conds, "length(message) >= ?")
		args = append(args, f.MinLength)
	}
	if f.MaxLength > 0 {
		conds = append(conds, "length(message) <= ?")
		args = append(args, f.MaxLength)
	}
	if f.Provenance != "" {
		conds = append(conds, "provenance = ?")
		args = append(args, string(f.Provenance))
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func hasList(col string) string {
	return "(COALESCE(" + col + ", '') NOT IN ('', '[]', 'null'))"
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(row rowScanner) (*domain.StoredPost, error) {
	var p domain.StoredPost
	var id, provenance, inserted, updated string
	var photos, videos, links, author sql.NullString

	err := row.Scan(&id, &p.SourcePostID, &p.Message, &p.CreatedTime,
		&photos, &videos, &links, &author,
		&provenance, &p.MediaQuality, &inserted, &updated)
	if err != nil {
		return nil, err
	}
	p.ID = domain.PostID(id)
	p.Provenance = domain.Provenance(provenance)
	p.InsertedAt, _ = time.Parse(time.RFC3339Nano, inserted)
	p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)

	if err := decodeJSON(photos, &p.Photos); err != nil {
		return nil, fmt.Errorf("decode photos of %s: %w", p.SourcePostID, err)
	}
	if err := decodeJSON(videos, &p.Videos); err != nil {
		return nil, fmt.Errorf("decode videos of %s: %w", p.SourcePostID, err)
	}
	if err := decodeJSON(links, &p.Links); err != nil {
		return nil, fmt.Errorf("decode links of %s: %w", p.SourcePostID, err)
	}
	if err := decodeJSON(author, &p.Author); err != nil {
		return nil, fmt.Errorf("decode author of %s: %w", p.SourcePostID, err)
	}
	return &p, nil
}

func scanPosts(rows *sql.Rows) ([]*domain.StoredPost, error) {
	var out []*domain.StoredPost
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return out, nil
}

// encodeList renders a non-empty list as JSON and an empty one as NULL.
func encodeList[T any](items []T) (any, error) {
	if len(items) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(items)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func encodeAuthor(a domain.Author) (any, error) {
	if a == (domain.Author{}) {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("encode author: %w", err)
	}
	return string(b), nil
}

func encodePostLists(p *domain.StoredPost) (photos, videos, links, author any, err error) {
	if photos, err = encodeList(p.Photos); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode photos: %w", err)
	}
	if videos, err = encodeList(p.Videos); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode videos: %w", err)
	}
	if links, err = encodeList(p.Links); err != nil {
		return nil, nil, nil, nil, fmt.Errorf("encode links: %w", err)
	}
	if author, err = encodeAuthor(p.Author); err != nil {
		return nil, nil, nil, nil, err
	}
	return photos, videos, links, author, nil
}

// decodeJSON leaves dst untouched for NULL columns so empty lists stay nil.
func decodeJSON(col sql.NullString, dst any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), dst)
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
