package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"campusforum/api/internal/forum"
	"campusforum/api/internal/util"
)

type postStore interface {
	InsertPost(ctx context.Context, post *forum.Post) error
	LoadPost(ctx context.Context, postID string) (forum.Post, error)
	SavePost(ctx context.Context, post *forum.Post) error
	ListPosts(ctx context.Context, filter PostFilter) ([]forum.Post, error)
	Ping(ctx context.Context) error
}

func newSQLiteTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	ctx := context.Background()
	db, err := OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatalf("OpenSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLiteStore(ctx, db)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error = %v", err)
	}
	return s
}

func TestSQLiteStoreContract(t *testing.T) {
	runStoreContract(t, newSQLiteTestStore(t))
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := strings.TrimSpace(os.Getenv("FORUM_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("FORUM_TEST_DATABASE_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer db.Close()
	if _, err := ApplyMigrations(ctx, db, filepath.Join("..", "..", "db", "migrations")); err != nil {
		t.Fatalf("ApplyMigrations() error = %v", err)
	}
	if _, err := db.ExecContext(ctx, `DELETE FROM forum_posts`); err != nil {
		t.Fatalf("clear forum_posts: %v", err)
	}
	runStoreContract(t, NewPostgresStore(db))
}

func TestMongoStoreContract(t *testing.T) {
	uri := strings.TrimSpace(os.Getenv("FORUM_TEST_MONGO_URL"))
	if uri == "" {
		t.Skip("FORUM_TEST_MONGO_URL is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := OpenMongo(ctx, uri, "forum_test_"+strings.ReplaceAll(util.NewID(""), "-", "")[:12])
	if err != nil {
		t.Fatalf("OpenMongo() error = %v", err)
	}
	defer func() {
		_ = s.posts.Database().Drop(context.Background())
		_ = s.Close(context.Background())
	}()
	runStoreContract(t, s)
}

func runStoreContract(t *testing.T, s postStore) {
	ctx := context.Background()
	base := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

	older := forum.NewPost("post_old", forum.Author{ID: "u1", Role: "student"}, "Older", "body", "Tech", []string{"go"}, base)
	newer := forum.NewPost("post_new", forum.Author{ID: "u2", Role: "faculty"}, "Newer", "body", "Events", nil, base.Add(time.Hour))
	for _, post := range []*forum.Post{&older, &newer} {
		if err := s.InsertPost(ctx, post); err != nil {
			t.Fatalf("InsertPost(%s) error = %v", post.ID, err)
		}
	}

	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	all, err := s.ListPosts(ctx, PostFilter{})
	if err != nil {
		t.Fatalf("ListPosts() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != "post_new" || all[1].ID != "post_old" {
		t.Fatalf("expected newest first, got %+v", all)
	}

	byCategory, err := s.ListPosts(ctx, PostFilter{Category: "Tech"})
	if err != nil {
		t.Fatalf("ListPosts(category) error = %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].ID != "post_old" {
		t.Fatalf("unexpected category filter result: %+v", byCategory)
	}

	byAuthor, err := s.ListPosts(ctx, PostFilter{AuthorID: "u2"})
	if err != nil {
		t.Fatalf("ListPosts(author) error = %v", err)
	}
	if len(byAuthor) != 1 || byAuthor[0].ID != "post_new" {
		t.Fatalf("unexpected author filter result: %+v", byAuthor)
	}

	loaded, err := s.LoadPost(ctx, "post_old")
	if err != nil {
		t.Fatalf("LoadPost() error = %v", err)
	}
	if loaded.Version != 1 || loaded.Title != "Older" || len(loaded.Tags) != 1 {
		t.Fatalf("unexpected loaded post: %+v", loaded)
	}

	stale := loaded
	if err := loaded.AddReply("", forum.NewReply("rep_1", forum.Author{ID: "u2"}, "hello", base), 0); err != nil {
		t.Fatalf("AddReply() error = %v", err)
	}
	if err := loaded.Vote("rep_1", "u3", forum.VoteLike); err != nil {
		t.Fatalf("Vote() error = %v", err)
	}
	if err := s.SavePost(ctx, &loaded); err != nil {
		t.Fatalf("SavePost() error = %v", err)
	}
	if loaded.Version != 2 {
		t.Fatalf("expected version 2 after save, got %d", loaded.Version)
	}

	stale.Title = "Overwritten"
	if err := s.SavePost(ctx, &stale); !errors.Is(err, ErrConflict) {
		t.Fatalf("SavePost(stale) error = %v, want ErrConflict", err)
	}

	reloaded, err := s.LoadPost(ctx, "post_old")
	if err != nil {
		t.Fatalf("LoadPost() error = %v", err)
	}
	if reloaded.Title != "Older" || reloaded.Version != 2 {
		t.Fatalf("stale save leaked through: %+v", reloaded)
	}
	if len(reloaded.Replies) != 1 || reloaded.Replies[0].LikeCount() != 1 {
		t.Fatalf("reply tree not persisted: %+v", reloaded.Replies)
	}

	if _, err := s.LoadPost(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("LoadPost(missing) error = %v, want ErrNotFound", err)
	}
	ghost := forum.NewPost("missing", forum.Author{ID: "u1"}, "x", "y", "z", nil, base)
	if err := s.SavePost(ctx, &ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SavePost(missing) error = %v, want ErrNotFound", err)
	}
}

func TestBindQuestionRewritesPlaceholders(t *testing.T) {
	got := bindQuestion(`UPDATE t SET a=$1, b=$2 WHERE id=$10`)
	if got != `UPDATE t SET a=?, b=? WHERE id=?` {
		t.Fatalf("bindQuestion() = %q", got)
	}
}
