package store

import (
	"encoding/json"
	"errors"
	"fmt"

	"campusforum/api/internal/forum"
)

var (
	ErrNotFound = errors.New("post not found")
	ErrConflict = errors.New("post changed since it was loaded")
)

// PostFilter narrows ListPosts. Empty fields match everything.
type PostFilter struct {
	Category string
	AuthorID string
}

func encodeDocument(post forum.Post) ([]byte, error) {
	raw, err := json.Marshal(post)
	if err != nil {
		return nil, fmt.Errorf("encode post %s: %w", post.ID, err)
	}
	return raw, nil
}

// decodeDocument trusts the version column over the copy embedded in the
// document.
func decodeDocument(raw []byte, version int64) (forum.Post, error) {
	var post forum.Post
	if err := json.Unmarshal(raw, &post); err != nil {
		return forum.Post{}, fmt.Errorf("decode post: %w", err)
	}
	post.Version = version
	post.Normalize()
	return post, nil
}
