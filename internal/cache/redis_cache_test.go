package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"campusforum/api/internal/forum"
)

func setupTestCache(t *testing.T) (*PostCache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	c, err := NewPostCache("redis://"+s.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("failed to create post cache: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func samplePosts() []forum.Post {
	now := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	post := forum.NewPost("post_1", forum.Author{ID: "u1", Role: "student"}, "T", "C", "Tech", []string{"go"}, now)
	_ = post.AddReply("", forum.NewReply("rep_1", forum.Author{ID: "u2"}, "hello", now), 0)
	_ = post.Vote("rep_1", "u3", forum.VoteLike)
	return []forum.Post{post}
}

func TestNewPostCache(t *testing.T) {
	c, _ := setupTestCache(t)
	if err := c.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewPostCacheRejectsBadURL(t *testing.T) {
	if _, err := NewPostCache("not a url", time.Minute); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestPutAndGetList(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	_, generation, hit, err := c.GetList(ctx, "all")
	if err != nil || hit {
		t.Fatalf("GetList() on empty cache = hit %v, err %v", hit, err)
	}

	if err := c.PutList(ctx, generation, "all", samplePosts()); err != nil {
		t.Fatalf("PutList failed: %v", err)
	}

	posts, _, hit, err := c.GetList(ctx, "all")
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}
	if !hit || len(posts) != 1 {
		t.Fatalf("expected one cached post, got hit=%v posts=%d", hit, len(posts))
	}
	if posts[0].Replies[0].LikeCount() != 1 {
		t.Errorf("expected nested vote to survive caching, got %+v", posts[0].Replies[0])
	}
}

func TestInvalidateDropsEveryList(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	for _, name := range []string{"all", "category:Tech", "author:u1"} {
		if err := c.PutList(ctx, 0, name, samplePosts()); err != nil {
			t.Fatalf("PutList(%s) failed: %v", name, err)
		}
	}
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	for _, name := range []string{"all", "category:Tech", "author:u1"} {
		if _, _, hit, err := c.GetList(ctx, name); err != nil || hit {
			t.Errorf("GetList(%s) after invalidate = hit %v, err %v", name, hit, err)
		}
	}
}

func TestCachedListExpires(t *testing.T) {
	c, s := setupTestCache(t)
	ctx := context.Background()

	if err := c.PutList(ctx, 0, "all", samplePosts()); err != nil {
		t.Fatalf("PutList failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	if _, _, hit, err := c.GetList(ctx, "all"); err != nil || hit {
		t.Errorf("expected expired list, got hit %v err %v", hit, err)
	}
}

func TestListReadBeforeInvalidateIsNotServed(t *testing.T) {
	c, _ := setupTestCache(t)
	ctx := context.Background()

	_, generation, hit, err := c.GetList(ctx, "all")
	if err != nil || hit {
		t.Fatalf("GetList() on empty cache = hit %v, err %v", hit, err)
	}
	stale := samplePosts()

	// A write commits while the miss is being filled from the store.
	if err := c.Invalidate(ctx); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if err := c.PutList(ctx, generation, "all", stale); err != nil {
		t.Fatalf("PutList failed: %v", err)
	}

	posts, current, hit, err := c.GetList(ctx, "all")
	if err != nil {
		t.Fatalf("GetList failed: %v", err)
	}
	if hit {
		t.Fatalf("list read before Invalidate was served: posts=%d", len(posts))
	}
	if current != generation+1 {
		t.Fatalf("generation = %d, want %d", current, generation+1)
	}
}
