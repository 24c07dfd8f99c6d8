package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/devmatch/messaging/internal/middleware"
	"github.com/devmatch/messaging/internal/model"
	"github.com/devmatch/messaging/internal/repository"
	"github.com/devmatch/messaging/internal/ws"
)

type fakeDirectory struct {
	convs       map[string]*model.Conversation
	byDirectKey map[string]string
	nextID      int
	groupCalls  int
	deleted     []string
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		convs:       make(map[string]*model.Conversation),
		byDirectKey: make(map[string]string),
	}
}

func (f *fakeDirectory) FindOrCreateDirect(_ context.Context, participants []string) (*model.Conversation, error) {
	if len(participants) != 2 {
		return nil, repository.ErrValidation
	}
	key := model.DirectKey(participants)
	if id, ok := f.byDirectKey[key]; ok {
		return f.convs[id], nil
	}
	f.nextID++
	conv := &model.Conversation{
		ID:           fmt.Sprintf("conv-%d", f.nextID),
		Participants: participants,
		CreatedAt:    time.Now(),
	}
	f.convs[conv.ID] = conv
	f.byDirectKey[key] = conv.ID
	return conv, nil
}

func (f *fakeDirectory) CreateGroup(_ context.Context, participants []string, name string) (*model.Conversation, error) {
	if len(participants) <= 2 {
		return nil, repository.ErrValidation
	}
	f.groupCalls++
	f.nextID++
	conv := &model.Conversation{
		ID:           fmt.Sprintf("conv-%d", f.nextID),
		IsGroup:      true,
		Name:         name,
		Participants: participants,
		CreatedAt:    time.Now(),
	}
	f.convs[conv.ID] = conv
	return conv, nil
}

func (f *fakeDirectory) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	conv, ok := f.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return conv, nil
}

func (f *fakeDirectory) ListForUser(_ context.Context, userID string) ([]model.Conversation, error) {
	var out []model.Conversation
	for _, conv := range f.convs {
		for _, p := range conv.Participants {
			if p == userID {
				out = append(out, *conv)
				break
			}
		}
	}
	return out, nil
}

func (f *fakeDirectory) IsParticipant(_ context.Context, conversationID, userID string) (bool, error) {
	conv, ok := f.convs[conversationID]
	if !ok {
		return false, nil
	}
	for _, p := range conv.Participants {
		if p == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDirectory) GetParticipantIDs(_ context.Context, conversationID string) ([]string, error) {
	conv, ok := f.convs[conversationID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return conv.Participants, nil
}

func (f *fakeDirectory) Delete(_ context.Context, conversationID string) error {
	if _, ok := f.convs[conversationID]; !ok {
		return repository.ErrNotFound
	}
	delete(f.convs, conversationID)
	f.deleted = append(f.deleted, conversationID)
	return nil
}

type fakeUsers struct {
	users map[string]model.User
}

func newFakeUsers(ids ...string) *fakeUsers {
	f := &fakeUsers{users: make(map[string]model.User)}
	for _, id := range ids {
		f.users[id] = model.User{ID: id, Username: id}
	}
	return f
}

func (f *fakeUsers) GetByIDs(_ context.Context, ids []string) ([]model.User, error) {
	var out []model.User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeLastMessage struct {
	last map[string]*model.Message
}

func (f *fakeLastMessage) GetLastMessage(_ context.Context, conversationID string) (*model.Message, error) {
	if f.last == nil {
		return nil, nil
	}
	return f.last[conversationID], nil
}

type fakeNotifier struct {
	sent map[string][]ws.OutgoingEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{sent: make(map[string][]ws.OutgoingEvent)}
}

func (f *fakeNotifier) SendToUser(userID string, ev ws.OutgoingEvent) {
	f.sent[userID] = append(f.sent[userID], ev)
}

func authedRequest(method, target, userID string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	return req.WithContext(middleware.WithUserID(req.Context(), userID))
}

func conversationRouter(h *ConversationHandler) chi.Router {
	r := chi.NewRouter()
	r.Get("/api/conversations", h.List)
	r.Post("/api/conversations", h.Create)
	r.Get("/api/conversations/{id}", h.Get)
	r.Delete("/api/conversations", h.Delete)
	return r
}

func TestCreateDirectConversationIdempotent(t *testing.T) {
	dir := newFakeDirectory()
	h := NewConversationHandler(dir, newFakeUsers("alice", "bob"), &fakeLastMessage{}, nil)
	r := conversationRouter(h)

	body := map[string]any{"participantIds": []string{"bob"}}

	var first, second model.Conversation
	for i, dst := range []*model.Conversation{&first, &second} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, authedRequest("POST", "/api/conversations", "alice", body))
		if rr.Code != http.StatusCreated {
			t.Fatalf("attempt %d: got status %d want %d", i+1, rr.Code, http.StatusCreated)
		}
		json.NewDecoder(rr.Body).Decode(dst)
	}

	if first.ID != second.ID {
		t.Errorf("expected same conversation, got %q and %q", first.ID, second.ID)
	}
	if len(dir.convs) != 1 {
		t.Errorf("expected 1 stored conversation, got %d", len(dir.convs))
	}
}

func TestCreateGroupForThreeParticipants(t *testing.T) {
	dir := newFakeDirectory()
	h := NewConversationHandler(dir, newFakeUsers("alice", "bob", "carol"), &fakeLastMessage{}, nil)
	r := conversationRouter(h)

	rr := httptest.NewRecorder()
	body := map[string]any{"participantIds": []string{"bob", "carol"}, "name": "standup"}
	r.ServeHTTP(rr, authedRequest("POST", "/api/conversations", "alice", body))

	if rr.Code != http.StatusCreated {
		t.Fatalf("got status %d want %d", rr.Code, http.StatusCreated)
	}
	if dir.groupCalls != 1 {
		t.Errorf("expected group creation, got %d group calls", dir.groupCalls)
	}
	var conv model.Conversation
	json.NewDecoder(rr.Body).Decode(&conv)
	if !conv.IsGroup || conv.Name != "standup" {
		t.Errorf("unexpected conversation %+v", conv)
	}
	if len(conv.Members) != 3 {
		t.Errorf("expected 3 members populated, got %d", len(conv.Members))
	}
}

func TestCreateRejectsUnknownParticipant(t *testing.T) {
	dir := newFakeDirectory()
	h := NewConversationHandler(dir, newFakeUsers("alice"), &fakeLastMessage{}, nil)
	r := conversationRouter(h)

	rr := httptest.NewRecorder()
	body := map[string]any{"participantIds": []string{"ghost"}}
	r.ServeHTTP(rr, authedRequest("POST", "/api/conversations", "alice", body))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("got status %d want %d", rr.Code, http.StatusNotFound)
	}
	if len(dir.convs) != 0 {
		t.Errorf("expected no conversation created, got %d", len(dir.convs))
	}
}

func TestCreateRequiresParticipants(t *testing.T) {
	h := NewConversationHandler(newFakeDirectory(), newFakeUsers("alice"), &fakeLastMessage{}, nil)
	r := conversationRouter(h)

	for _, body := range []map[string]any{
		{"participantIds": []string{}},
		{"participantIds": []string{"alice"}}, // self only, dedupes to one
	} {
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, authedRequest("POST", "/api/conversations", "alice", body))
		if rr.Code != http.StatusBadRequest {
			t.Errorf("body %v: got status %d want %d", body, rr.Code, http.StatusBadRequest)
		}
	}
}

func TestGetForbiddenForNonParticipant(t *testing.T) {
	dir := newFakeDirectory()
	conv, _ := dir.FindOrCreateDirect(context.Background(), []string{"alice", "bob"})
	h := NewConversationHandler(dir, newFakeUsers("alice", "bob"), &fakeLastMessage{}, nil)
	r := conversationRouter(h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest("GET", "/api/conversations/"+conv.ID, "mallory", nil))

	if rr.Code != http.StatusForbidden {
		t.Fatalf("got status %d want %d", rr.Code, http.StatusForbidden)
	}
	var resp errorResponse
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp.Code != codeAuthorization {
		t.Errorf("expected code %q, got %q", codeAuthorization, resp.Code)
	}
}

func TestDeleteHidesForeignConversations(t *testing.T) {
	dir := newFakeDirectory()
	conv, _ := dir.FindOrCreateDirect(context.Background(), []string{"alice", "bob"})
	h := NewConversationHandler(dir, newFakeUsers("alice", "bob"), &fakeLastMessage{}, nil)
	r := conversationRouter(h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest("DELETE", "/api/conversations?conversationId="+conv.ID, "mallory", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("non-participant delete: got status %d want %d", rr.Code, http.StatusNotFound)
	}

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest("DELETE", "/api/conversations?conversationId="+conv.ID, "alice", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("participant delete: got status %d want %d", rr.Code, http.StatusNoContent)
	}
	if len(dir.deleted) != 1 || dir.deleted[0] != conv.ID {
		t.Errorf("expected %s deleted, got %v", conv.ID, dir.deleted)
	}
}

func TestDeleteNotifiesRemainingParticipants(t *testing.T) {
	dir := newFakeDirectory()
	conv, _ := dir.CreateGroup(context.Background(), []string{"alice", "bob", "carol"}, "standup")
	notifier := newFakeNotifier()
	h := NewConversationHandler(dir, newFakeUsers("alice", "bob", "carol"), &fakeLastMessage{}, notifier)
	r := conversationRouter(h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest("DELETE", "/api/conversations?conversationId="+conv.ID, "alice", nil))
	if rr.Code != http.StatusNoContent {
		t.Fatalf("got status %d want %d", rr.Code, http.StatusNoContent)
	}

	if len(notifier.sent["alice"]) != 0 {
		t.Errorf("requester should not be notified, got %v", notifier.sent["alice"])
	}
	for _, id := range []string{"bob", "carol"} {
		evs := notifier.sent[id]
		if len(evs) != 1 {
			t.Fatalf("user %s: expected 1 notification, got %d", id, len(evs))
		}
		if evs[0].Type != ws.EventConversationDeleted {
			t.Errorf("user %s: got event type %q want %q", id, evs[0].Type, ws.EventConversationDeleted)
		}
		payload, ok := evs[0].Payload.(ws.ConversationDeletedPayload)
		if !ok || payload.ConversationID != conv.ID {
			t.Errorf("user %s: unexpected payload %+v", id, evs[0].Payload)
		}
	}
}

func TestListPopulatesMembersAndLastMessage(t *testing.T) {
	dir := newFakeDirectory()
	conv, _ := dir.FindOrCreateDirect(context.Background(), []string{"alice", "bob"})
	last := &fakeLastMessage{last: map[string]*model.Message{
		conv.ID: {ID: "m9", ConversationID: conv.ID, SenderID: "bob", Content: "latest"},
	}}
	h := NewConversationHandler(dir, newFakeUsers("alice", "bob"), last, nil)
	r := conversationRouter(h)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, authedRequest("GET", "/api/conversations", "alice", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("got status %d want %d", rr.Code, http.StatusOK)
	}
	var convs []model.Conversation
	json.NewDecoder(rr.Body).Decode(&convs)
	if len(convs) != 1 {
		t.Fatalf("expected 1 conversation, got %d", len(convs))
	}
	if len(convs[0].Members) != 2 {
		t.Errorf("expected 2 members, got %d", len(convs[0].Members))
	}
	if convs[0].Members[0].ID != "alice" {
		t.Errorf("expected requester first in members, got %q", convs[0].Members[0].ID)
	}
	if convs[0].LastMessage == nil || convs[0].LastMessage.Content != "latest" {
		t.Errorf("expected last message populated, got %+v", convs[0].LastMessage)
	}
}
