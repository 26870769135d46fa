package forum

import "time"

// PostView is what clients see: counts and the caller's own stance, never
// the voter sets themselves.
type PostView struct {
	ID           string      `json:"id"`
	Author       Author      `json:"author"`
	Title        string      `json:"title"`
	Content      string      `json:"content"`
	Category     string      `json:"category"`
	Tags         []string    `json:"tags"`
	LikeCount    int         `json:"likeCount"`
	DislikeCount int         `json:"dislikeCount"`
	Liked        bool        `json:"liked"`
	Disliked     bool        `json:"disliked"`
	ReplyCount   int         `json:"replyCount"`
	Replies      []ReplyView `json:"replies"`
	CreatedAt    time.Time   `json:"createdAt"`
	UpdatedAt    time.Time   `json:"updatedAt"`
	Version      int64       `json:"version"`
}

type ReplyView struct {
	ID           string      `json:"id"`
	Author       Author      `json:"author"`
	Text         string      `json:"text"`
	LikeCount    int         `json:"likeCount"`
	DislikeCount int         `json:"dislikeCount"`
	Liked        bool        `json:"liked"`
	Disliked     bool        `json:"disliked"`
	Replies      []ReplyView `json:"replies"`
	CreatedAt    time.Time   `json:"createdAt,omitempty"`
}

// PostSummary is the public per-author listing entry.
type PostSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Category      string    `json:"category"`
	LikesCount    int       `json:"likesCount"`
	CommentsCount int       `json:"commentsCount"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewPostView renders p for viewerID. An empty viewerID leaves every
// liked/disliked flag false.
func NewPostView(p Post, viewerID string) PostView {
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return PostView{
		ID:           p.ID,
		Author:       p.Author,
		Title:        p.Title,
		Content:      p.Content,
		Category:     p.Category,
		Tags:         tags,
		LikeCount:    p.LikeCount(),
		DislikeCount: p.DislikeCount(),
		Liked:        viewerID != "" && p.IsLikedBy(viewerID),
		Disliked:     viewerID != "" && p.IsDislikedBy(viewerID),
		ReplyCount:   CountReplies(p.Replies),
		Replies:      newReplyViews(p.Replies, viewerID),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
		Version:      p.Version,
	}
}

func NewPostViews(posts []Post, viewerID string) []PostView {
	views := make([]PostView, 0, len(posts))
	for _, p := range posts {
		views = append(views, NewPostView(p, viewerID))
	}
	return views
}

// newReplyViews mirrors the tree iteratively. Each pending item carries a
// pointer to the destination slot so children land in the right parent.
func newReplyViews(replies []Reply, viewerID string) []ReplyView {
	type pending struct {
		src []Reply
		dst *[]ReplyView
	}
	root := make([]ReplyView, 0, len(replies))
	queue := []pending{{src: replies, dst: &root}}
	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]
		*item.dst = make([]ReplyView, len(item.src))
		for i := range item.src {
			reply := item.src[i]
			(*item.dst)[i] = ReplyView{
				ID:           reply.ID,
				Author:       reply.Author,
				Text:         reply.Text,
				LikeCount:    reply.LikeCount(),
				DislikeCount: reply.DislikeCount(),
				Liked:        viewerID != "" && reply.IsLikedBy(viewerID),
				Disliked:     viewerID != "" && reply.IsDislikedBy(viewerID),
				CreatedAt:    reply.CreatedAt,
			}
			queue = append(queue, pending{src: reply.Replies, dst: &(*item.dst)[i].Replies})
		}
	}
	return root
}

func NewPostSummary(p Post) PostSummary {
	return PostSummary{
		ID:            p.ID,
		Title:         p.Title,
		Category:      p.Category,
		LikesCount:    p.LikeCount(),
		CommentsCount: len(p.Replies),
		CreatedAt:     p.CreatedAt,
	}
}
