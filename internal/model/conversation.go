package model

import (
	"sort"
	"strings"
	"time"
)

// Conversation is a container for an ordered sequence of messages among a
// fixed set of participants. A non-group conversation has exactly two
// participants and is unique per pair (enforced by the storage layer).
type Conversation struct {
	ID            string    `json:"id"`
	IsGroup       bool      `json:"isGroup"`
	Name          string    `json:"name,omitempty"`
	Participants  []string  `json:"participants"`
	LastMessageAt time.Time `json:"lastMessageAt"`
	LastMessageID *string   `json:"lastMessageId,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`

	// Populated for API responses, not stored on the conversation row.
	Members     []UserPublic `json:"members,omitempty"`
	LastMessage *Message     `json:"lastMessage,omitempty"`
}

// CanonicalParticipants deduplicates ids and guarantees the requester is in
// the set. Insertion order is preserved for display; the requester comes
// first.
func CanonicalParticipants(requesterID string, ids []string) []string {
	out := make([]string, 0, len(ids)+1)
	seen := make(map[string]struct{}, len(ids)+1)
	out = append(out, requesterID)
	seen[requesterID] = struct{}{}
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// DirectKey returns the canonical key for a two-participant conversation:
// the sorted participant ids joined with ":". The storage layer keeps a
// unique index over this key for non-group rows, which is what makes
// find-or-create race-free.
func DirectKey(participants []string) string {
	sorted := make([]string, len(participants))
	copy(sorted, participants)
	sort.Strings(sorted)
	return strings.Join(sorted, ":")
}
