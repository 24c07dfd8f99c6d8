package model

import "time"

// Attachment points to externally-hosted media; the message store only keeps
// the reference, never the bytes.
type Attachment struct {
	URL  string `json:"url"`
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
	Size int64  `json:"size,omitempty"`
}

// Message is immutable after creation except for the monotonically-growing
// ReadBy set. CreatedAt (assigned at insert) is the sole ordering authority
// for history.
type Message struct {
	ID             string       `json:"id"`
	ConversationID string       `json:"conversationId"`
	SenderID       string       `json:"senderId"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReadBy         []string     `json:"readBy"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`

	Sender *UserPublic `json:"sender,omitempty"`
}

// ReadByContains reports whether userID is already in the ReadBy set.
func (m *Message) ReadByContains(userID string) bool {
	for _, id := range m.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}
