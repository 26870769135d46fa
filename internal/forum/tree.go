package forum

import (
	"errors"
	"time"
)

// DefaultMaxReplyDepth bounds nesting so that the recursive document stays
// below MongoDB's 100 level BSON nesting limit. Top-level replies have depth 1.
const DefaultMaxReplyDepth = 40

var (
	ErrReplyNotFound = errors.New("reply not found")
	ErrReplyTooDeep  = errors.New("reply nesting limit reached")
)

type Author struct {
	ID   string `json:"id" bson:"id"`
	Role string `json:"role" bson:"role"`
	Name string `json:"name,omitempty" bson:"name,omitempty"`
}

// DisplayName is the author's name, or the id for tokens that carry no name.
func (a Author) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

type Reply struct {
	ID        string    `json:"id" bson:"_id"`
	Author    Author    `json:"author" bson:"author"`
	Text      string    `json:"text" bson:"text"`
	Ledger    `bson:",inline"`
	Replies   []Reply   `json:"replies" bson:"replies"`
	CreatedAt time.Time `json:"createdAt,omitempty" bson:"createdAt,omitempty"`
}

func NewReply(id string, author Author, text string, now time.Time) Reply {
	return Reply{
		ID:        id,
		Author:    author,
		Text:      text,
		Ledger:    Ledger{Likes: []string{}, Dislikes: []string{}},
		Replies:   []Reply{},
		CreatedAt: now,
	}
}

type frame struct {
	reply *Reply
	depth int
}

// Walk visits every reply in display order (pre-order, oldest sibling first)
// without recursion. Returning false from visit stops the walk.
func Walk(replies []Reply, visit func(reply *Reply, depth int) bool) {
	stack := make([]frame, 0, len(replies))
	for i := len(replies) - 1; i >= 0; i-- {
		stack = append(stack, frame{reply: &replies[i], depth: 1})
	}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !visit(top.reply, top.depth) {
			return
		}
		children := top.reply.Replies
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{reply: &children[i], depth: top.depth + 1})
		}
	}
}

// FindReply returns the reply with the given id anywhere in the tree along
// with its depth. The pointer aliases the tree and may be mutated in place.
func FindReply(replies []Reply, id string) (*Reply, int, error) {
	var found *Reply
	foundDepth := 0
	Walk(replies, func(reply *Reply, depth int) bool {
		if reply.ID == id {
			found = reply
			foundDepth = depth
			return false
		}
		return true
	})
	if found == nil {
		return nil, 0, ErrReplyNotFound
	}
	return found, foundDepth, nil
}

// InsertReply appends reply under parentID, or at the top level when parentID
// is empty. maxDepth <= 0 selects DefaultMaxReplyDepth.
func InsertReply(replies *[]Reply, parentID string, reply Reply, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxReplyDepth
	}
	if parentID == "" {
		*replies = append(*replies, reply)
		return nil
	}
	parent, depth, err := FindReply(*replies, parentID)
	if err != nil {
		return err
	}
	if depth+1 > maxDepth {
		return ErrReplyTooDeep
	}
	parent.Replies = append(parent.Replies, reply)
	return nil
}

// VoteOnReply applies a vote to the reply with the given id.
func VoteOnReply(replies []Reply, replyID, voterID string, vote VoteType) error {
	reply, _, err := FindReply(replies, replyID)
	if err != nil {
		return err
	}
	reply.Apply(voterID, vote)
	return nil
}

// CountReplies returns the number of nodes in the tree.
func CountReplies(replies []Reply) int {
	count := 0
	Walk(replies, func(*Reply, int) bool {
		count++
		return true
	})
	return count
}
