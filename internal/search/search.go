package search

import "campusforum/api/internal/forum"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultPost  ResultType = "post"
	ResultReply ResultType = "reply"
)

// Result is a single search hit returned to the caller. PostID always names
// the thread to open, for replies as well as posts.
type Result struct {
	Type     ResultType `json:"type"`
	ID       string     `json:"id"`
	PostID   string     `json:"postId"`
	Title    string     `json:"title"`
	Snippet  string     `json:"snippet"`
	Category string     `json:"category"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Category   string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// PostRecord is the data we index for a post.
type PostRecord struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Content   string   `json:"content"`
	Category  string   `json:"category"`
	Tags      []string `json:"tags"`
	AuthorID  string   `json:"authorId"`
	CreatedAt int64    `json:"createdAt"`
}

// ReplyRecord is the data we index for a reply at any depth.
type ReplyRecord struct {
	ID        string `json:"id"`
	PostID    string `json:"postId"`
	PostTitle string `json:"postTitle"`
	Text      string `json:"text"`
	Category  string `json:"category"`
	AuthorID  string `json:"authorId"`
	Depth     int    `json:"depth"`
}

// RecordsFromPost flattens a post and its whole reply tree into index records.
func RecordsFromPost(post forum.Post) (PostRecord, []ReplyRecord) {
	record := PostRecord{
		ID:        post.ID,
		Title:     post.Title,
		Content:   post.Content,
		Category:  post.Category,
		Tags:      post.Tags,
		AuthorID:  post.Author.ID,
		CreatedAt: post.CreatedAt.Unix(),
	}
	replies := make([]ReplyRecord, 0)
	forum.Walk(post.Replies, func(reply *forum.Reply, depth int) bool {
		replies = append(replies, ReplyRecord{
			ID:        reply.ID,
			PostID:    post.ID,
			PostTitle: post.Title,
			Text:      reply.Text,
			Category:  post.Category,
			AuthorID:  reply.Author.ID,
			Depth:     depth,
		})
		return true
	})
	return record, replies
}
