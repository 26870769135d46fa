package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"campusforum/api/internal/forum"
)

func TestRecordsFromPostFlattensReplyTree(t *testing.T) {
	now := time.Date(2026, 4, 2, 8, 0, 0, 0, time.UTC)
	post := forum.NewPost("post_1", forum.Author{ID: "u1"}, "Robotics club", "Meeting notes", "Events", []string{"club"}, now)
	_ = post.AddReply("", forum.NewReply("rep_1", forum.Author{ID: "u2"}, "count me in", now), 0)
	_ = post.AddReply("rep_1", forum.NewReply("rep_2", forum.Author{ID: "u3"}, "same", now), 0)
	_ = post.AddReply("", forum.NewReply("rep_3", forum.Author{ID: "u4"}, "when?", now), 0)

	record, replies := RecordsFromPost(post)
	if record.ID != "post_1" || record.Category != "Events" || record.CreatedAt != now.Unix() {
		t.Fatalf("unexpected post record: %+v", record)
	}
	if len(replies) != 3 {
		t.Fatalf("expected 3 reply records, got %d", len(replies))
	}
	wantDepths := map[string]int{"rep_1": 1, "rep_2": 2, "rep_3": 1}
	for _, reply := range replies {
		if reply.PostID != "post_1" || reply.PostTitle != "Robotics club" {
			t.Fatalf("reply record missing post context: %+v", reply)
		}
		if reply.Depth != wantDepths[reply.ID] {
			t.Fatalf("reply %s depth = %d, want %d", reply.ID, reply.Depth, wantDepths[reply.ID])
		}
	}
}

func TestDecodeHitPrefersHighlightedText(t *testing.T) {
	hit := meili.Hit{
		"id":         json.RawMessage(`"rep_9"`),
		"postId":     json.RawMessage(`"post_4"`),
		"postTitle":  json.RawMessage(`"Exam tips"`),
		"text":       json.RawMessage(`"use flashcards"`),
		"category":   json.RawMessage(`"Campus"`),
		"_formatted": json.RawMessage(`{"text":"use <mark>flashcards</mark>","depth":2}`),
	}

	result, err := decodeHit(idxReplies, hit)
	if err != nil {
		t.Fatalf("decodeHit() error = %v", err)
	}
	if result.Type != ResultReply || result.PostID != "post_4" || result.Title != "Exam tips" || result.Category != "Campus" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Snippet != "use <mark>flashcards</mark>" {
		t.Fatalf("snippet = %q", result.Snippet)
	}

	if _, err := decodeHit("other_index", hit); err == nil {
		t.Fatal("expected error for unknown index")
	}
}

func TestDecodeHitPostFallsBackToPlainFields(t *testing.T) {
	hit := meili.Hit{
		"id":       json.RawMessage(`"post_4"`),
		"title":    json.RawMessage(`"Exam tips"`),
		"content":  json.RawMessage(`"bring snacks"`),
		"category": json.RawMessage(`"Campus"`),
	}
	result, err := decodeHit(idxPosts, hit)
	if err != nil {
		t.Fatalf("decodeHit() error = %v", err)
	}
	if result.PostID != "post_4" || result.Title != "Exam tips" || result.Snippet != "bring snacks" {
		t.Fatalf("unexpected result: %+v", result)
	}
}

func TestServiceWithoutBackendsReturnsEmptyPage(t *testing.T) {
	svc := NewService(nil, nil)
	resp := svc.Search(context.Background(), Query{Text: "anything"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Query != "anything" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if n, err := svc.ReindexAll(nil); n != 0 || err != nil {
		t.Fatalf("ReindexAll() = %d, %v", n, err)
	}
	svc.IndexPost(forum.Post{ID: "post_1"})
}

func TestDecodeHitReadsRankingScore(t *testing.T) {
	hit := meili.Hit{
		"id":            json.RawMessage(`"post_1"`),
		"title":         json.RawMessage(`"Exam tips"`),
		"_rankingScore": json.RawMessage(`0.75`),
	}
	result, err := decodeHit(idxPosts, hit)
	if err != nil {
		t.Fatalf("decodeHit() error = %v", err)
	}
	if result.score != 0.75 {
		t.Fatalf("score = %v, want 0.75", result.score)
	}
}

func TestPageResultsMergesIndexesWithinLimit(t *testing.T) {
	hit := func(id string, score float64) scoredResult {
		return scoredResult{Result: Result{ID: id}, score: score}
	}
	// Both indexes answered with offset+limit hits each.
	merged := []scoredResult{
		hit("post_a", 0.9), hit("post_b", 0.5), hit("post_c", 0.2),
		hit("rep_a", 0.8), hit("rep_b", 0.5), hit("rep_c", 0.1),
	}

	tests := []struct {
		name   string
		offset int
		limit  int
		want   []string
	}{
		{"first page", 0, 2, []string{"post_a", "rep_a"}},
		{"ties keep index order", 2, 2, []string{"post_b", "rep_b"}},
		{"short last page", 5, 2, []string{"rep_c"}},
		{"past the end", 9, 2, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page := pageResults(append([]scoredResult(nil), merged...), tt.offset, tt.limit)
			got := make([]string, 0, len(page))
			for _, result := range page {
				got = append(got, result.ID)
			}
			if len(got) > tt.limit {
				t.Fatalf("page has %d results, limit %d", len(got), tt.limit)
			}
			if strings.Join(got, ",") != strings.Join(tt.want, ",") {
				t.Fatalf("page = %v, want %v", got, tt.want)
			}
		})
	}
}
