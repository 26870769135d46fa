package search

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	log "github.com/sirupsen/logrus"
)

const (
	idxPosts   = "forum_posts"
	idxReplies = "forum_replies"

	healthInterval = 10 * time.Second
)

type indexSpec struct {
	uid        string
	kind       ResultType
	filterable []string
	searchable []string
}

// Both indexes carry category so one filter expression works across them.
var indexSpecs = []indexSpec{
	{
		uid:        idxPosts,
		kind:       ResultPost,
		filterable: []string{"category", "authorId", "tags"},
		searchable: []string{"title", "content", "tags"},
	},
	{
		uid:        idxReplies,
		kind:       ResultReply,
		filterable: []string{"category", "postId", "authorId"},
		searchable: []string{"text", "postTitle"},
	},
}

// Meili indexes posts and replies in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
}

// NewMeili never fails on an unreachable server: the client keeps probing
// and sets the indexes up once it answers.
func NewMeili(url, apiKey string) *Meili {
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
	}
	if m.probe() {
		m.configureIndexes()
	} else {
		log.WithField("url", url).Warn("search: meilisearch unavailable, will keep probing")
	}
	go m.watch(healthInterval)
	return m
}

func (m *Meili) probe() bool {
	_, err := m.client.Health()
	m.healthy.Store(err == nil)
	return err == nil
}

func (m *Meili) watch(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			wasHealthy := m.healthy.Load()
			if m.probe() && !wasHealthy {
				log.Info("search: meilisearch is back, configuring indexes")
				m.configureIndexes()
			}
		}
	}
}

func (m *Meili) configureIndexes() {
	for _, spec := range indexSpecs {
		entry := log.WithField("index", spec.uid)
		if _, err := m.client.CreateIndex(&meili.IndexConfig{Uid: spec.uid, PrimaryKey: "id"}); err != nil {
			entry.WithError(err).Debug("search: create index")
		}
		index := m.client.Index(spec.uid)
		filterable := make([]interface{}, 0, len(spec.filterable))
		for _, attr := range spec.filterable {
			filterable = append(filterable, attr)
		}
		if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
			entry.WithError(err).Warn("search: filterable attributes")
		}
		searchable := append([]string(nil), spec.searchable...)
		if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
			entry.WithError(err).Warn("search: searchable attributes")
		}
	}
}

func (m *Meili) Close() {
	close(m.done)
}

func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// Search runs one multi-search over the indexes selected by q.FilterType.
// Each index returns its best offset+limit hits; the merged hits are ranked by
// score and cut to the requested page. Total is the sum of each index's
// estimate.
func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	queries := make([]*meili.SearchRequest, 0, len(indexSpecs))
	for _, spec := range indexSpecs {
		if q.FilterType != "" && q.FilterType != spec.kind {
			continue
		}
		request := &meili.SearchRequest{
			IndexUID:              spec.uid,
			Query:                 q.Text,
			Limit:                 int64(offset + limit),
			ShowRankingScore:      true,
			AttributesToHighlight: []string{"*"},
			HighlightPreTag:       "<mark>",
			HighlightPostTag:      "</mark>",
		}
		if q.Category != "" {
			request.Filter = []string{fmt.Sprintf("category = %q", q.Category)}
		}
		queries = append(queries, request)
	}
	if len(queries) == 0 {
		return nil, 0, nil
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{Queries: queries})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var (
		hits  []scoredResult
		total int
	)
	for _, page := range resp.Results {
		total += int(page.EstimatedTotalHits)
		for _, hit := range page.Hits {
			result, err := decodeHit(page.IndexUID, hit)
			if err != nil {
				log.WithError(err).WithField("index", page.IndexUID).Warn("search: skip undecodable hit")
				continue
			}
			hits = append(hits, result)
		}
	}
	return pageResults(hits, offset, limit), total, nil
}

type scoredResult struct {
	Result
	score float64
}

// pageResults orders hits from several indexes by score, keeping index order
// for ties, and returns at most limit of them starting at offset.
func pageResults(hits []scoredResult, offset, limit int) []Result {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if offset >= len(hits) {
		return []Result{}
	}
	hits = hits[offset:]
	if len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Result, 0, len(hits))
	for _, hit := range hits {
		out = append(out, hit.Result)
	}
	return out
}

// hitFields is the union of both index schemas plus the highlighted copy.
type hitFields struct {
	ID        string `json:"id"`
	PostID    string `json:"postId"`
	Title     string `json:"title"`
	PostTitle string `json:"postTitle"`
	Content   string `json:"content"`
	Text      string `json:"text"`
	Category  string `json:"category"`
}

func decodeHit(indexUID string, hit meili.Hit) (scoredResult, error) {
	raw, err := json.Marshal(hit)
	if err != nil {
		return scoredResult{}, err
	}
	var doc struct {
		hitFields
		Formatted    hitFields `json:"_formatted"`
		RankingScore float64   `json:"_rankingScore"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return scoredResult{}, err
	}

	switch indexUID {
	case idxPosts:
		return scoredResult{Result: Result{
			Type:     ResultPost,
			ID:       doc.ID,
			PostID:   doc.ID,
			Title:    preferHighlighted(doc.Formatted.Title, doc.Title),
			Snippet:  preferHighlighted(doc.Formatted.Content, doc.Content),
			Category: doc.Category,
		}, score: doc.RankingScore}, nil
	case idxReplies:
		return scoredResult{Result: Result{
			Type:     ResultReply,
			ID:       doc.ID,
			PostID:   doc.PostID,
			Title:    doc.PostTitle,
			Snippet:  preferHighlighted(doc.Formatted.Text, doc.Text),
			Category: doc.Category,
		}, score: doc.RankingScore}, nil
	default:
		return scoredResult{}, fmt.Errorf("unknown index %q", indexUID)
	}
}

func preferHighlighted(highlighted, plain string) string {
	if strings.TrimSpace(highlighted) != "" {
		return strings.TrimSpace(highlighted)
	}
	return plain
}

// IndexPost upserts a post and every reply in its tree.
func (m *Meili) IndexPost(post PostRecord, replies []ReplyRecord) error {
	return m.IndexPosts([]PostRecord{post}, replies)
}

// IndexPosts upserts posts and replies in two batched tasks.
func (m *Meili) IndexPosts(posts []PostRecord, replies []ReplyRecord) error {
	if len(posts) > 0 {
		if _, err := m.client.Index(idxPosts).AddDocuments(posts, nil); err != nil {
			return fmt.Errorf("index %d posts: %w", len(posts), err)
		}
	}
	if len(replies) > 0 {
		if _, err := m.client.Index(idxReplies).AddDocuments(replies, nil); err != nil {
			return fmt.Errorf("index %d replies: %w", len(replies), err)
		}
	}
	return nil
}
