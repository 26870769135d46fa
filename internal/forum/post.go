package forum

import (
	"strings"
	"time"
)

// Post is the aggregate root. One post and its whole reply tree are loaded,
// mutated and saved as a unit; Version guards that save.
type Post struct {
	ID        string    `json:"id" bson:"_id"`
	Author    Author    `json:"author" bson:"author"`
	Title     string    `json:"title" bson:"title"`
	Content   string    `json:"content" bson:"content"`
	Category  string    `json:"category" bson:"category"`
	Tags      []string  `json:"tags" bson:"tags"`
	Ledger    `bson:",inline"`
	Replies   []Reply   `json:"replies" bson:"replies"`
	CreatedAt time.Time `json:"createdAt" bson:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt"`
	Version   int64     `json:"version" bson:"version"`
}

func NewPost(id string, author Author, title, content, category string, tags []string, now time.Time) Post {
	return Post{
		ID:        id,
		Author:    author,
		Title:     title,
		Content:   content,
		Category:  category,
		Tags:      NormalizeTags(tags),
		Ledger:    Ledger{Likes: []string{}, Dislikes: []string{}},
		Replies:   []Reply{},
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Patch lists the only fields an author may change. Nil means untouched.
type Patch struct {
	Title    *string
	Content  *string
	Category *string
	Tags     *[]string
}

func (p Patch) Empty() bool {
	return p.Title == nil && p.Content == nil && p.Category == nil && p.Tags == nil
}

func (p *Post) ApplyPatch(patch Patch) {
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Content != nil {
		p.Content = *patch.Content
	}
	if patch.Category != nil {
		p.Category = *patch.Category
	}
	if patch.Tags != nil {
		p.Tags = NormalizeTags(*patch.Tags)
	}
}

func (p *Post) AddReply(parentID string, reply Reply, maxDepth int) error {
	return InsertReply(&p.Replies, parentID, reply, maxDepth)
}

// Vote applies to the post itself when replyID is empty.
func (p *Post) Vote(replyID, voterID string, vote VoteType) error {
	if replyID == "" {
		p.Apply(voterID, vote)
		return nil
	}
	return VoteOnReply(p.Replies, replyID, voterID, vote)
}

func (p Post) IsAuthoredBy(identityID string) bool {
	return p.Author.ID != "" && p.Author.ID == identityID
}

// Normalize replaces nil collections with empty ones so the stored document
// always carries arrays. Documents written by older clients may omit them.
func (p *Post) Normalize() {
	if p.Tags == nil {
		p.Tags = []string{}
	}
	normalizeLedger(&p.Ledger)
	if p.Replies == nil {
		p.Replies = []Reply{}
	}
	Walk(p.Replies, func(reply *Reply, _ int) bool {
		normalizeLedger(&reply.Ledger)
		if reply.Replies == nil {
			reply.Replies = []Reply{}
		}
		return true
	})
}

func normalizeLedger(l *Ledger) {
	if l.Likes == nil {
		l.Likes = []string{}
	}
	if l.Dislikes == nil {
		l.Dislikes = []string{}
	}
}

// NormalizeTags trims every tag and drops blanks, keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		out = append(out, tag)
	}
	return out
}
