// Package forum holds the post aggregate: the reply tree, the vote ledgers and
// the derived views handed to clients.
package forum

import "strings"

type VoteType string

const (
	VoteLike    VoteType = "like"
	VoteDislike VoteType = "dislike"
)

// ParseVoteType accepts "like" or "dislike" in any case.
func ParseVoteType(value string) (VoteType, bool) {
	switch VoteType(strings.ToLower(strings.TrimSpace(value))) {
	case VoteLike:
		return VoteLike, true
	case VoteDislike:
		return VoteDislike, true
	default:
		return "", false
	}
}

// Ledger records who liked and who disliked a single post or reply.
// A voter id is never present in both sets.
type Ledger struct {
	Likes    []string `json:"likes" bson:"likes"`
	Dislikes []string `json:"dislikes" bson:"dislikes"`
}

// Apply toggles voterID's stance. Voting the same way twice clears the vote;
// voting the opposite way moves the voter across.
func (l *Ledger) Apply(voterID string, vote VoteType) {
	switch vote {
	case VoteLike:
		l.Dislikes = without(l.Dislikes, voterID)
		if contains(l.Likes, voterID) {
			l.Likes = without(l.Likes, voterID)
			return
		}
		l.Likes = append(l.Likes, voterID)
	case VoteDislike:
		l.Likes = without(l.Likes, voterID)
		if contains(l.Dislikes, voterID) {
			l.Dislikes = without(l.Dislikes, voterID)
			return
		}
		l.Dislikes = append(l.Dislikes, voterID)
	}
}

func (l Ledger) LikeCount() int    { return len(l.Likes) }
func (l Ledger) DislikeCount() int { return len(l.Dislikes) }

func (l Ledger) IsLikedBy(voterID string) bool    { return contains(l.Likes, voterID) }
func (l Ledger) IsDislikedBy(voterID string) bool { return contains(l.Dislikes, voterID) }

func contains(ids []string, id string) bool {
	for _, item := range ids {
		if item == id {
			return true
		}
	}
	return false
}

func without(ids []string, id string) []string {
	if !contains(ids, id) {
		return ids
	}
	out := make([]string, 0, len(ids)-1)
	for _, item := range ids {
		if item != id {
			out = append(out, item)
		}
	}
	return out
}
