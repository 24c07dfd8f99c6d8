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

// ConversationDirectory is the slice of the conversation repository the REST
// layer consumes.
type ConversationDirectory interface {
	FindOrCreateDirect(ctx context.Context, participants []string) (*model.Conversation, error)
	CreateGroup(ctx context.Context, participants []string, name string) (*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	ListForUser(ctx context.Context, userID string) ([]model.Conversation, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
	GetParticipantIDs(ctx context.Context, conversationID string) ([]string, error)
	Delete(ctx context.Context, conversationID string) error
}

// UserNotifier pushes an event to every live connection of one user (the
// personal room).
type UserNotifier interface {
	SendToUser(userID string, ev ws.OutgoingEvent)
}

// UserDirectory resolves participant ids to display users.
type UserDirectory interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// LastMessageReader loads the newest message for directory enrichment.
type LastMessageReader interface {
	GetLastMessage(ctx context.Context, conversationID string) (*model.Message, error)
}

type ConversationHandler struct {
	convs    ConversationDirectory
	users    UserDirectory
	msgs     LastMessageReader
	notifier UserNotifier
}

func NewConversationHandler(convs ConversationDirectory, users UserDirectory, msgs LastMessageReader, notifier UserNotifier) *ConversationHandler {
	return &ConversationHandler{convs: convs, users: users, msgs: msgs, notifier: notifier}
}

type CreateConversationRequest struct {
	ParticipantIDs []string `json:"participantIds"`
	IsGroup        bool     `json:"isGroup"`
	Name           string   `json:"name"`
}

// Create resolves or creates a conversation. The final participant count, not
// the client flag, decides direct vs group: a deduplicated set of exactly two
// goes through the race-free find-or-create path, larger sets become groups.
func (h *ConversationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeValidation, "invalid body")
		return
	}
	if len(req.ParticipantIDs) == 0 {
		writeError(w, http.StatusBadRequest, codeValidation, "participants required")
		return
	}

	userID := middleware.GetUserID(r.Context())
	participants := model.CanonicalParticipants(userID, req.ParticipantIDs)
	if len(participants) < 2 {
		writeError(w, http.StatusBadRequest, codeValidation, "participants required")
		return
	}

	// Every id must reference a real user.
	found, err := h.users.GetByIDs(r.Context(), participants)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to resolve participants")
		return
	}
	if len(found) != len(participants) {
		writeError(w, http.StatusNotFound, codeNotFound, "user not found")
		return
	}

	var conv *model.Conversation
	if len(participants) > 2 {
		conv, err = h.convs.CreateGroup(r.Context(), participants, req.Name)
	} else {
		conv, err = h.convs.FindOrCreateDirect(r.Context(), participants)
	}
	if err != nil {
		if errors.Is(err, repository.ErrValidation) {
			writeError(w, http.StatusBadRequest, codeValidation, "invalid participants")
			return
		}
		logger.Errorf("create conversation user=%s: %v", userID, err)
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to create conversation")
		return
	}

	conv.Members = publicUsers(found, conv.Participants)
	writeJSON(w, http.StatusCreated, conv)
}

// List returns the caller's conversations, newest activity first, with
// members and last message populated.
func (h *ConversationHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	convs, err := h.convs.ListForUser(ctx, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list conversations")
		return
	}
	for i := range convs {
		if err := h.enrich(ctx, &convs[i]); err != nil {
			logger.Errorf("enrich conversation %s: %v", convs[i].ID, err)
		}
	}
	writeJSON(w, http.StatusOK, convs)
}

func (h *ConversationHandler) Get(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	conv, err := h.convs.GetByID(r.Context(), conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to get conversation")
		return
	}
	if !containsID(conv.Participants, userID) {
		writeError(w, http.StatusForbidden, codeAuthorization, "not a participant")
		return
	}
	if err := h.enrich(r.Context(), conv); err != nil {
		logger.Errorf("enrich conversation %s: %v", conv.ID, err)
	}
	writeJSON(w, http.StatusOK, conv)
}

// Delete removes a conversation and, by cascade, its messages. A missing row
// and a non-participant caller are indistinguishable to the client: both 404.
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
		writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
		return
	}

	// Snapshot the membership before the cascade wipes it; the remaining
	// participants get the removal pushed to their personal rooms.
	participants, err := h.convs.GetParticipantIDs(r.Context(), conversationID)
	if err != nil {
		logger.Errorf("delete conversation %s participants: %v", conversationID, err)
		participants = nil
	}

	if err := h.convs.Delete(r.Context(), conversationID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, codeNotFound, "conversation not found")
			return
		}
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to delete conversation")
		return
	}

	if h.notifier != nil {
		ev := ws.OutgoingEvent{
			Type:    ws.EventConversationDeleted,
			Payload: ws.ConversationDeletedPayload{ConversationID: conversationID},
		}
		for _, id := range participants {
			if id == userID {
				continue
			}
			h.notifier.SendToUser(id, ev)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ConversationHandler) enrich(ctx context.Context, conv *model.Conversation) error {
	users, err := h.users.GetByIDs(ctx, conv.Participants)
	if err != nil {
		return err
	}
	conv.Members = publicUsers(users, conv.Participants)

	last, err := h.msgs.GetLastMessage(ctx, conv.ID)
	if err != nil {
		return err
	}
	conv.LastMessage = last
	return nil
}

// publicUsers orders the display users by the participant list (insertion
// order is preserved for display).
func publicUsers(users []model.User, order []string) []model.UserPublic {
	byID := make(map[string]model.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	out := make([]model.UserPublic, 0, len(order))
	for _, id := range order {
		if u, ok := byID[id]; ok {
			out = append(out, u.ToPublic())
		}
	}
	return out
}

func containsID(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
