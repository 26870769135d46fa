// Package cache keeps recently listed posts in Redis so list endpoints do not
// reload every aggregate on each request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"campusforum/api/internal/forum"
)

const defaultTTL = 30 * time.Second

// PostCache stores post lists under a generation number. Invalidate bumps the
// generation, which orphans every cached list at once; the orphans expire
// through their TTL.
type PostCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewPostCache connects to redisURL and verifies the connection.
func NewPostCache(redisURL string, ttl time.Duration) (*PostCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewPostCacheWithClient(client, ttl), nil
}

func NewPostCacheWithClient(client *redis.Client, ttl time.Duration) *PostCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PostCache{
		client: client,
		prefix: "forum:",
		ttl:    ttl,
	}
}

func (c *PostCache) generationKey() string {
	return c.prefix + "generation"
}

func (c *PostCache) listKey(generation int64, name string) string {
	return fmt.Sprintf("%slist:%d:%s", c.prefix, generation, name)
}

func (c *PostCache) generation(ctx context.Context) (int64, error) {
	value, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read cache generation: %w", err)
	}
	return value, nil
}

// GetList returns the cached list stored under name together with the
// generation it was looked up in. The bool reports a hit. On a miss, pass the
// returned generation to PutList so a list read before an Invalidate lands in
// the orphaned generation instead of the current one.
func (c *PostCache) GetList(ctx context.Context, name string) ([]forum.Post, int64, bool, error) {
	generation, err := c.generation(ctx)
	if err != nil {
		return nil, 0, false, err
	}
	raw, err := c.client.Get(ctx, c.listKey(generation, name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, generation, false, nil
	}
	if err != nil {
		return nil, generation, false, fmt.Errorf("read cached list: %w", err)
	}

	var posts []forum.Post
	if err := json.Unmarshal(raw, &posts); err != nil {
		return nil, generation, false, fmt.Errorf("decode cached list: %w", err)
	}
	for i := range posts {
		posts[i].Normalize()
	}
	return posts, generation, true, nil
}

// PutList stores posts under name in generation. Writing into a generation
// that Invalidate has already moved past is harmless: nothing reads it and the
// key expires through its TTL.
func (c *PostCache) PutList(ctx context.Context, generation int64, name string, posts []forum.Post) error {
	raw, err := json.Marshal(posts)
	if err != nil {
		return fmt.Errorf("encode cached list: %w", err)
	}
	if err := c.client.Set(ctx, c.listKey(generation, name), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("write cached list: %w", err)
	}
	return nil
}

// Invalidate drops every cached list.
func (c *PostCache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		return fmt.Errorf("bump cache generation: %w", err)
	}
	return nil
}

func (c *PostCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *PostCache) Close() error {
	return c.client.Close()
}
