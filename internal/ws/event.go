package ws

import (
	"encoding/json"

	"github.com/devmatch/messaging/internal/model"
)

type EventType string

// The event vocabulary is closed: anything outside it is rejected at the
// connection boundary with an error event.
const (
	// client -> server
	EventJoinConversation EventType = "join_conversation"
	EventMessageSend      EventType = "message:send"
	EventTyping           EventType = "typing"
	EventRead             EventType = "read"

	// server -> client
	EventMessageNew          EventType = "message:new"
	EventConversationDeleted EventType = "conversation:deleted"
	EventError               EventType = "error"
)

// IncomingEvent is the wire shape of every client event: a tag plus a payload
// decoded per tag, so malformed events fail fast instead of propagating
// missing fields.
type IncomingEvent struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// JoinPayload subscribes the connection to a conversation room.
type JoinPayload struct {
	ConversationID string `json:"conversationId"`
}

// SendPayload appends a message; content may be empty only when attachments
// are present.
type SendPayload struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments,omitempty"`
}

// TypingPayload is the client's ephemeral typing signal; never persisted.
type TypingPayload struct {
	ConversationID string `json:"conversationId"`
}

// ReadPayload acknowledges everything in a conversation as seen.
type ReadPayload struct {
	ConversationID string `json:"conversationId"`
}

// OutgoingEvent is what the server sends. Payloads are typed structs (or a
// *model.Message for message:new).
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// TypingEventPayload is fanned out to room members other than the sender.
type TypingEventPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ReadReceiptPayload is broadcast to the room when a user marks a
// conversation read.
type ReadReceiptPayload struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ConversationDeletedPayload is sent to the personal rooms of the remaining
// participants when a conversation is removed.
type ConversationDeletedPayload struct {
	ConversationID string `json:"conversationId"`
}

// ErrorPayload is unicast to the connection whose event failed.
type ErrorPayload struct {
	Message string `json:"message"`
}
