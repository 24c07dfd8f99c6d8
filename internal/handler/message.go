package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/devmatch/messaging/internal/logger"
	"github.com/devmatch/messaging/internal/middleware"
	"github.com/devmatch/messaging/internal/model"
	"github.com/devmatch/messaging/internal/repository"
	"github.com/devmatch/messaging/internal/ws"
)

// MessageStore is the slice of the message repository the REST layer
// consumes. REST and the realtime gateway converge on the same store, so the
// membership and validation rules hold on both paths.
type MessageStore interface {
	Append(ctx context.Context, conversationID, senderID, content string, attachments []model.Attachment) (*model.Message, error)
	ListPage(ctx context.Context, conversationID, afterID string, limit, offset int) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) (int64, error)
	Remove(ctx context.Context, messageID, requesterID string) error
	GetByID(ctx context.Context, id string) (*model.Message, error)
}

// Broadcaster pushes an event to every live subscriber of a conversation
// room. Satisfied by *ws.Hub.
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, conversationID string, ev ws.OutgoingEvent)
}

type MessageHandler struct {
	msgs  MessageStore
	convs ConversationDirectory
	hub   Broadcaster
}

func NewMessageHandler(msgs MessageStore, convs ConversationDirectory, hub Broadcaster) *MessageHandler {
	return &MessageHandler{msgs: msgs, convs: convs, hub: hub}
}

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// List returns conversation history, oldest-first. The canonical contract is
// cursor pagination (?after=<messageId>&limit=); ?page=&limit= is the offset
// fallback for initial loads. Both produce the same total order keyed on
// (createdAt, id).
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversationId")
	if conversationID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "conversationId required")
		return
	}
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.convs.IsParticipant(r.Context(), conversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, codeAuthorization, "not a participant")
		return
	}

	limit := queryInt(r, "limit", defaultPageSize)
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if limit < 1 {
		limit = defaultPageSize
	}
	after := r.URL.Query().Get("after")
	offset := 0
	if after == "" {
		if page := queryInt(r, "page", 1); page > 1 {
			offset = (page - 1) * limit
		}
	}

	messages, err := h.msgs.ListPage(r.Context(), conversationID, after, limit, offset)
	if err != nil {
		if errors.Is(err, repository.ErrValidation) {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid after cursor")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type SendMessageRequest struct {
	ConversationID string             `json:"conversationId"`
	Content        string             `json:"content"`
	Attachments    []model.Attachment `json:"attachments"`
}

// Send appends a message over the REST fallback and fans it out to the
// conversation room, so subscribed connections see it without polling.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "conversationId required")
		return
	}
	if req.Content == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "content or attachments required")
		return
	}
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.convs.IsParticipant(r.Context(), req.ConversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, codeAuthorization, "not a participant")
		return
	}

	m, err := h.msgs.Append(r.Context(), req.ConversationID, userID, req.Content, req.Attachments)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrValidation):
			writeError(w, http.StatusBadRequest, codeValidation, "content or attachments required")
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
		default:
			logger.Errorf("rest append conv=%s user=%s: %v", req.ConversationID, userID, err)
			writeError(w, http.StatusInternalServerError, codeInternal, "failed to send message")
		}
		return
	}

	if h.hub != nil {
		h.hub.BroadcastToRoom(r.Context(), req.ConversationID, ws.OutgoingEvent{Type: ws.EventMessageNew, Payload: m})
	}
	writeJSON(w, http.StatusCreated, m)
}

type MarkReadRequest struct {
	ConversationID string `json:"conversationId"`
}

// MarkRead acknowledges every message in the conversation. Idempotent: the
// second call updates nothing.
func (h *MessageHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req MarkReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid body")
		return
	}
	if req.ConversationID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "conversationId required")
		return
	}
	userID := middleware.GetUserID(r.Context())

	isMember, err := h.convs.IsParticipant(r.Context(), req.ConversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, codeAuthorization, "not a participant")
		return
	}

	if _, err := h.msgs.MarkRead(r.Context(), req.ConversationID, userID); err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to mark read")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Delete removes a message; only the original sender may. An unknown id and a
// non-sender caller are both 404.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	messageID := r.URL.Query().Get("messageId")
	if messageID == "" {
		writeError(w, http.StatusBadRequest, codeValidation, "messageId required")
		return
	}
	userID := middleware.GetUserID(r.Context())

	if err := h.msgs.Remove(r.Context(), messageID, userID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to delete message")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Get returns a single message by id, participant-only.
func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	m, err := h.msgs.GetByID(r.Context(), messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "message not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to get message")
		return
	}
	isMember, err := h.convs.IsParticipant(r.Context(), m.ConversationID, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to check membership")
		return
	}
	if !isMember {
		writeError(w, http.StatusForbidden, codeAuthorization, "not a participant")
		return
	}
	writeJSON(w, http.StatusOK, m)
}
