package search

import (
	"context"

	log "github.com/sirupsen/logrus"

	"campusforum/api/internal/forum"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
// Either backend may be nil.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search never fails: backend errors are logged and yield an empty page.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.WithError(err).Warn("search: meilisearch error, falling back to pgfts")
	}

	if !s.pgfts.Healthy() {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(ctx, q)
	if err != nil {
		log.WithError(err).Error("search: pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexPost pushes a post and its replies to Meilisearch in the background.
// The fallback needs no indexing: it reads forum_posts directly.
func (s *Service) IndexPost(post forum.Post) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	record, replies := RecordsFromPost(post)
	go func() {
		if err := s.meili.IndexPost(record, replies); err != nil {
			log.WithError(err).WithField("post_id", record.ID).Warn("search: index post")
		}
	}()
}

// ReindexAll pushes every post synchronously. It returns the number of posts
// sent, or zero when Meilisearch is not available.
func (s *Service) ReindexAll(posts []forum.Post) (int, error) {
	if s.meili == nil || !s.meili.Healthy() {
		return 0, nil
	}
	records := make([]PostRecord, 0, len(posts))
	replies := make([]ReplyRecord, 0)
	for _, post := range posts {
		record, postReplies := RecordsFromPost(post)
		records = append(records, record)
		replies = append(replies, postReplies...)
	}
	if err := s.meili.IndexPosts(records, replies); err != nil {
		return 0, err
	}
	return len(records), nil
}

func (s *Service) Close() {
	if s.meili != nil {
		s.meili.Close()
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
