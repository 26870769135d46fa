package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"campusforum/api/internal/forum"
)

// sqlPostStore keeps each post as one JSON document plus the few columns we
// filter and sort on. Queries are written with $N placeholders; bind rewrites
// them for drivers that only understand "?".
type sqlPostStore struct {
	db   *sql.DB
	bind func(string) string
}

var dollarPlaceholder = regexp.MustCompile(`\$\d+`)

func bindQuestion(query string) string {
	return dollarPlaceholder.ReplaceAllString(query, "?")
}

func bindDollar(query string) string {
	return query
}

func (s *sqlPostStore) InsertPost(ctx context.Context, post *forum.Post) error {
	if post.Version <= 0 {
		post.Version = 1
	}
	post.Normalize()
	raw, err := encodeDocument(*post)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO forum_posts (id, author_id, category, document, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`), post.ID, post.Author.ID, post.Category, string(raw), post.Version, post.CreatedAt.UTC(), post.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert post: %w", err)
	}
	return nil
}

func (s *sqlPostStore) LoadPost(ctx context.Context, postID string) (forum.Post, error) {
	var (
		raw     []byte
		version int64
	)
	err := s.db.QueryRowContext(ctx, s.bind(`
		SELECT document, version
		FROM forum_posts
		WHERE id=$1
	`), postID).Scan(&raw, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return forum.Post{}, ErrNotFound
	}
	if err != nil {
		return forum.Post{}, fmt.Errorf("load post: %w", err)
	}
	return decodeDocument(raw, version)
}

// SavePost writes post if nobody else saved it since it was loaded. On
// success post.Version is advanced to the stored version.
func (s *sqlPostStore) SavePost(ctx context.Context, post *forum.Post) error {
	post.Normalize()
	next := *post
	next.Version = post.Version + 1
	raw, err := encodeDocument(next)
	if err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, s.bind(`
		UPDATE forum_posts
		SET category=$1, document=$2, version=$3, updated_at=$4
		WHERE id=$5 AND version=$6
	`), next.Category, string(raw), next.Version, next.UpdatedAt.UTC(), post.ID, post.Version)
	if err != nil {
		return fmt.Errorf("save post: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("save post rows: %w", err)
	}
	if affected == 0 {
		return s.missingOrConflict(ctx, post.ID)
	}
	post.Version = next.Version
	return nil
}

func (s *sqlPostStore) missingOrConflict(ctx context.Context, postID string) error {
	var count int
	if err := s.db.QueryRowContext(ctx, s.bind(`SELECT COUNT(1) FROM forum_posts WHERE id=$1`), postID).Scan(&count); err != nil {
		return fmt.Errorf("check post: %w", err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrConflict
}

func (s *sqlPostStore) ListPosts(ctx context.Context, filter PostFilter) ([]forum.Post, error) {
	var (
		conditions []string
		args       []any
	)
	if category := strings.TrimSpace(filter.Category); category != "" {
		args = append(args, category)
		conditions = append(conditions, fmt.Sprintf("category=$%d", len(args)))
	}
	if authorID := strings.TrimSpace(filter.AuthorID); authorID != "" {
		args = append(args, authorID)
		conditions = append(conditions, fmt.Sprintf("author_id=$%d", len(args)))
	}
	query := `SELECT document, version FROM forum_posts`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("list posts: %w", err)
	}
	defer rows.Close()

	items := make([]forum.Post, 0)
	for rows.Next() {
		var (
			raw     []byte
			version int64
		)
		if err := rows.Scan(&raw, &version); err != nil {
			return nil, fmt.Errorf("scan post: %w", err)
		}
		post, err := decodeDocument(raw, version)
		if err != nil {
			return nil, err
		}
		items = append(items, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate posts: %w", err)
	}
	return items, nil
}

func (s *sqlPostStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}
