package repository

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/iconidentify/postgrabba/internal/domain"
)

func newTestRepo(t *testing.T) *SQLitePostRepository {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "data", "posts.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewSQLitePostRepository(db)
}

func storedPost(id, msg, created string) *domain.StoredPost {
	return &domain.StoredPost{CandidatePost: domain.CandidatePost{
		SourcePostID: id,
		Message:      msg,
		CreatedTime:  created,
		Author:       domain.Author{ID: "42", Name: "Ada"},
		Provenance:   domain.ProvenanceAPI,
	}}
}

func boolPtr(b bool) *bool { return &b }

func TestOpenSQLite_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posts.db")
	db, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	repo := NewSQLitePostRepository(db)
	if err := repo.Insert(context.Background(), storedPost("1", "kept", "2023-01-01T00:00:00+0000")); err != nil {
		t.Fatal(err)
	}
	db.Close()

	db, err = OpenSQLite(path)
	if err != nil {
		t.Fatalf("reopen with applied migrations: %v", err)
	}
	defer db.Close()
	ok, err := NewSQLitePostRepository(db).ExistsBySourceID(context.Background(), "1")
	if err != nil || !ok {
		t.Errorf("ExistsBySourceID after reopen = %v, %v", ok, err)
	}
}

func TestSQLitePostRepository_InsertAndGet(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	post := storedPost("100", "Beach day", "2023-05-10T10:00:00+0000")
	post.Photos = []domain.Photo{{Src: "2023/05/10/abc.jpg", Width: 800, Height: 600}}
	post.Links = []domain.Link{{URL: "https://example.com/a", Domain: "example.com"}}
	post.MediaQuality = "high"
	post.Comments = []domain.Comment{
		{ID: "c2", Message: "second", CreatedTime: "2023-05-10T12:00:00+0000"},
		{ID: "c1", Message: "first", CreatedTime: "2023-05-10T11:00:00+0000", LikeCount: 3},
	}

	if err := repo.Insert(ctx, post); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if post.ID == "" {
		t.Error("Insert should assign an ID")
	}

	got, err := repo.GetBySourceID(ctx, "100")
	if err != nil {
		t.Fatalf("GetBySourceID: %v", err)
	}
	if got.Message != "Beach day" || got.MediaQuality != "high" || got.Author.Name != "Ada" {
		t.Errorf("post = %+v", got)
	}
	if len(got.Photos) != 1 || got.Photos[0].Width != 800 {
		t.Errorf("photos = %+v", got.Photos)
	}
	if got.Videos != nil {
		t.Errorf("videos = %#v, want nil", got.Videos)
	}
	if len(got.Comments) != 2 || got.Comments[0].ID != "c1" || got.Comments[0].PostID != "100" {
		t.Errorf("comments = %+v", got.Comments)
	}
	if got.InsertedAt.IsZero() {
		t.Error("InsertedAt not round-tripped")
	}
}

func TestSQLitePostRepository_InsertDuplicate(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	repo.Insert(ctx, storedPost("100", "a", "2023-05-10T10:00:00+0000"))
	err := repo.Insert(ctx, storedPost("100", "b", "2023-05-10T10:00:00+0000"))
	if !errors.Is(err, domain.ErrDuplicatePost) {
		t.Errorf("err = %v, want ErrDuplicatePost", err)
	}
}

func TestSQLitePostRepository_InsertRollsBackOnCommentFailure(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	repo.Insert(ctx, &domain.StoredPost{
		CandidatePost: domain.CandidatePost{SourcePostID: "1", Provenance: domain.ProvenanceAPI},
		Comments:      []domain.Comment{{ID: "shared"}},
	})

	post := storedPost("2", "x", "2023-05-10T10:00:00+0000")
	post.Comments = []domain.Comment{{ID: "shared"}}
	err := repo.Insert(ctx, post)
	if !errors.Is(err, domain.ErrDuplicateComment) {
		t.Fatalf("err = %v, want ErrDuplicateComment", err)
	}
	if ok, _ := repo.ExistsBySourceID(ctx, "2"); ok {
		t.Error("post should not be stored when its comments fail")
	}
}

func TestSQLitePostRepository_GetNotFound(t *testing.T) {
	repo := newTestRepo(t)
	if _, err := repo.GetBySourceID(context.Background(), "nope"); !errors.Is(err, domain.ErrPostNotFound) {
		t.Errorf("err = %v, want ErrPostNotFound", err)
	}
}

func TestSQLitePostRepository_Update(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	post := storedPost("100", "api text", "2023-05-10T10:00:00+0000")
	repo.Insert(ctx, post)

	post.Enrich(&domain.CandidatePost{
		Message: "archive text",
		Videos:  []domain.Video{{Src: "posts/media/v.mp4"}},
	})
	if err := repo.Update(ctx, post); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, _ := repo.GetBySourceID(ctx, "100")
	if got.Message != "archive text" || got.Provenance != domain.ProvenanceImport || len(got.Videos) != 1 {
		t.Errorf("updated post = %+v", got)
	}

	missing := storedPost("404", "", "")
	if err := repo.Update(ctx, missing); !errors.Is(err, domain.ErrPostNotFound) {
		t.Errorf("err = %v, want ErrPostNotFound", err)
	}
}

func TestSQLitePostRepository_ListByDateRange(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for id, created := range map[string]string{
		"a": "2023-05-08T23:59:59+0000",
		"b": "2023-05-09T00:00:00+0000",
		"c": "2023-05-11T23:00:00+0000",
		"d": "2023-05-12T00:00:00+0000",
	} {
		repo.Insert(ctx, storedPost(id, id, created))
	}

	got, err := repo.ListByDateRange(ctx, "2023-05-09", "2023-05-11")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].SourcePostID != "b" || got[1].SourcePostID != "c" {
		t.Errorf("ListByDateRange = %v", sourceIDs(got))
	}
}

func sourceIDs(posts []*domain.StoredPost) []string {
	ids := make([]string, len(posts))
	for i, p := range posts {
		ids[i] = p.SourcePostID
	}
	return ids
}

func TestSQLitePostRepository_Query(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	photo := storedPost("photo", "Sunset with @sam", "2023-01-03T10:00:00+0000")
	photo.Photos = []domain.Photo{{Src: "p.jpg"}}
	video := storedPost("video", "A long video caption about 100%_real stuff", "2023-01-02T10:00:00+0000")
	video.Videos = []domain.Video{{Src: "v.mp4"}}
	video.Provenance = domain.ProvenanceImport
	link := storedPost("link", "Read this", "2023-01-01T10:00:00+0000")
	link.Links = []domain.Link{{URL: "https://x.test/a"}}
	for _, p := range []*domain.StoredPost{photo, video, link} {
		if err := repo.Insert(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		name   string
		filter PostFilter
		want   []string
	}{
		{"all newest first", PostFilter{}, []string{"photo", "video", "link"}},
		{"date range", PostFilter{From: "2023-01-02", To: "2023-01-02"}, []string{"video"}},
		{"keyword case-insensitive", PostFilter{Keyword: "SUNSET"}, []string{"photo"}},
		{"keyword wildcard escaped", PostFilter{Keyword: "100%_"}, []string{"video"}},
		{"keyword percent literal", PostFilter{Keyword: "%"}, []string{"video"}},
		{"has photo", PostFilter{HasPhoto: boolPtr(true)}, []string{"photo"}},
		{"no photo", PostFilter{HasPhoto: boolPtr(false)}, []string{"video", "link"}},
		{"has video", PostFilter{HasVideo: boolPtr(true)}, []string{"video"}},
		{"has links", PostFilter{HasLinks: boolPtr(true)}, []string{"link"}},
		{"has tags", PostFilter{HasTags: boolPtr(true)}, []string{"photo"}},
		{"no tags", PostFilter{HasTags: boolPtr(false)}, []string{"video", "link"}},
		{"min length", PostFilter{MinLength: 20}, []string{"video"}},
		{"max length", PostFilter{MaxLength: 9}, []string{"link"}},
		{"provenance", PostFilter{Provenance: domain.ProvenanceImport}, []string{"video"}},
		{"page", PostFilter{Limit: 1, Offset: 1}, []string{"video"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			posts, total, err := repo.Query(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Query: %v", err)
			}
			got := sourceIDs(posts)
			if len(got) != len(tt.want) {
				t.Fatalf("Query = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("Query = %v, want %v", got, tt.want)
				}
			}
			if tt.filter.Limit == 0 && total != len(tt.want) {
				t.Errorf("total = %d, want %d", total, len(tt.want))
			}
		})
	}

	_, total, _ := repo.Query(ctx, PostFilter{Limit: 1})
	if total != 3 {
		t.Errorf("paged total = %d, want 3", total)
	}
}

func TestSQLitePostRepository_Stats(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	stats, err := repo.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats on empty db: %v", err)
	}
	if stats.Total != 0 || stats.Oldest != "" {
		t.Errorf("empty stats = %+v", stats)
	}

	a := storedPost("a", "x", "2023-01-01T00:00:00+0000")
	a.Photos = []domain.Photo{{Src: "p"}}
	a.Comments = []domain.Comment{{ID: "c"}}
	b := storedPost("b", "y", "2023-02-01T00:00:00+0000")
	b.Provenance = domain.ProvenanceImport
	repo.Insert(ctx, a)
	repo.Insert(ctx, b)

	stats, _ = repo.Stats(ctx)
	if stats.Total != 2 || stats.WithPhotos != 1 || stats.Comments != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ByProvenance[domain.ProvenanceAPI] != 1 || stats.ByProvenance[domain.ProvenanceImport] != 1 {
		t.Errorf("by provenance = %v", stats.ByProvenance)
	}
	if stats.Oldest != "2023-01-01T00:00:00+0000" || stats.Newest != "2023-02-01T00:00:00+0000" {
		t.Errorf("range = %s..%s", stats.Oldest, stats.Newest)
	}
}

func TestSQLitePostRepository_Comments(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	repo.Insert(ctx, storedPost("100", "x", "2023-05-10T10:00:00+0000"))

	c := &domain.Comment{ID: "c1", PostID: "100", Message: "hi", Author: domain.Author{Name: "Bo"}}
	if err := repo.InsertComment(ctx, c); err != nil {
		t.Fatalf("InsertComment: %v", err)
	}
	if err := repo.InsertComment(ctx, c); !errors.Is(err, domain.ErrDuplicateComment) {
		t.Errorf("duplicate err = %v", err)
	}
	orphan := &domain.Comment{ID: "c9", PostID: "missing"}
	if err := repo.InsertComment(ctx, orphan); !errors.Is(err, domain.ErrPostNotFound) {
		t.Errorf("orphan err = %v", err)
	}

	ok, err := repo.CommentExists(ctx, "c1")
	if err != nil || !ok {
		t.Errorf("CommentExists = %v, %v", ok, err)
	}

	err = repo.ReplaceComments(ctx, "100", []domain.Comment{
		{ID: "n1", Message: "new", CreatedTime: "2023-05-11T00:00:00+0000"},
	})
	if err != nil {
		t.Fatalf("ReplaceComments: %v", err)
	}
	list, _ := repo.ListComments(ctx, "100")
	if len(list) != 1 || list[0].ID != "n1" || list[0].PostID != "100" {
		t.Errorf("comments after replace = %+v", list)
	}
	if ok, _ := repo.CommentExists(ctx, "c1"); ok {
		t.Error("old comment should be gone")
	}

	if err := repo.ReplaceComments(ctx, "missing", nil); !errors.Is(err, domain.ErrPostNotFound) {
		t.Errorf("replace on missing post err = %v", err)
	}
}

func TestPostFilterClauses_Empty(t *testing.T) {
	where, args := PostFilter{}.clauses()
	if where != "" || args != nil {
		t.Errorf("clauses = %q %v", where, args)
	}
}
