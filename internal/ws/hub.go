package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/devmatch/messaging/internal/broker"
	"github.com/devmatch/messaging/internal/logger"
	"github.com/devmatch/messaging/internal/model"
	"github.com/devmatch/messaging/internal/repository"
)

// ConversationStore is the slice of the conversation directory the gateway
// needs: membership checks before joining a room or appending.
type ConversationStore interface {
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// MessageStore is the slice of the message store the gateway drives. Append
// and MarkRead are the only mutations reachable over the realtime channel.
type MessageStore interface {
	Append(ctx context.Context, conversationID, senderID, content string, attachments []model.Attachment) (*model.Message, error)
	MarkRead(ctx context.Context, conversationID, userID string) (int64, error)
}

// PresenceStore marks users online/offline. If nil, presence is not tracked.
type PresenceStore interface {
	SetOnline(ctx context.Context, userID string, online bool) error
}

// Hub owns every live connection of this instance: the per-user personal
// rooms, the per-conversation rooms, and the event dispatch. It is an
// explicitly constructed value injected into handlers; there is no package
// global.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{} // personal rooms, keyed by user id
	rooms    map[string]map[*Client]struct{} // conversation rooms
	total    int
	maxConns int

	convStore ConversationStore
	msgStore  MessageStore
	presence  PresenceStore
	bridge    broker.Broker

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(convStore ConversationStore, msgStore MessageStore, presence PresenceStore, bridge broker.Broker, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		rooms:      make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		convStore:  convStore,
		msgStore:   msgStore,
		presence:   presence,
		bridge:     bridge,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Run processes connection registration until ctx is cancelled, then closes
// every remaining connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	firstConn := len(h.clients[c.userID]) == 1
	h.mu.Unlock()

	if firstConn && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, true); err != nil {
			logger.Errorf("ws set online user=%s: %v", c.userID, err)
		}
	}
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	lastConn := len(clients) == 0
	if lastConn {
		delete(h.clients, c.userID)
	}
	// Room membership dies with the connection; no client-side leave event
	// is required.
	for room := range c.rooms {
		if members, ok := h.rooms[room]; ok {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, room)
			}
		}
	}
	h.mu.Unlock()

	c.Close()

	if lastConn && h.presence != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.presence.SetOnline(ctx, c.userID, false); err != nil {
			logger.Errorf("ws set offline user=%s: %v", c.userID, err)
		}
	}
}

// HandleEvent dispatches one inbound event. It runs to completion before the
// client's read pump picks up the next event, so per-connection handling is
// sequential; different connections run concurrently.
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventJoinConversation:
		h.handleJoin(ctx, c, ev.Payload)
	case EventMessageSend:
		h.handleSend(ctx, c, ev.Payload)
	case EventTyping:
		h.handleTyping(ctx, c, ev.Payload)
	case EventRead:
		h.handleRead(ctx, c, ev.Payload)
	default:
		h.sendError(c, "unknown event type")
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, raw json.RawMessage) {
	var p JoinPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.convStore.IsParticipant(ctx, p.ConversationID, c.userID)
	if err != nil {
		logger.Errorf("ws join membership conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendError(c, "internal error")
		return
	}
	if !isMember {
		h.sendError(c, "not a participant")
		return
	}

	h.mu.Lock()
	if _, ok := h.rooms[p.ConversationID]; !ok {
		h.rooms[p.ConversationID] = make(map[*Client]struct{})
	}
	h.rooms[p.ConversationID][c] = struct{}{}
	c.rooms[p.ConversationID] = struct{}{}
	h.mu.Unlock()
}

func (h *Hub) handleSend(ctx context.Context, c *Client, raw json.RawMessage) {
	defer logger.DeferLogDuration("ws.handleSend", time.Now())()
	var p SendPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}
	if p.Content == "" && len(p.Attachments) == 0 {
		h.sendError(c, "content or attachments required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.convStore.IsParticipant(ctx, p.ConversationID, c.userID)
	if err != nil {
		logger.Errorf("ws send membership conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendError(c, "internal error")
		return
	}
	if !isMember {
		h.sendError(c, "not a participant")
		return
	}

	m, err := h.msgStore.Append(ctx, p.ConversationID, c.userID, p.Content, p.Attachments)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrValidation):
			h.sendError(c, "content or attachments required")
		case errors.Is(err, repository.ErrNotFound):
			h.sendError(c, "conversation not found")
		default:
			logger.Errorf("ws append conv=%s user=%s: %v", p.ConversationID, c.userID, err)
			h.sendError(c, "failed to send message")
		}
		return
	}

	h.BroadcastToRoom(ctx, p.ConversationID, OutgoingEvent{Type: EventMessageNew, Payload: m})
}

func (h *Hub) handleTyping(ctx context.Context, c *Client, raw json.RawMessage) {
	var p TypingPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	// Membership gates every conversation-scoped event, not only the
	// persisting ones: a stranger must not surface in a foreign room.
	isMember, err := h.convStore.IsParticipant(ctx, p.ConversationID, c.userID)
	if err != nil {
		logger.Errorf("ws typing membership conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendError(c, "internal error")
		return
	}
	if !isMember {
		h.sendError(c, "not a participant")
		return
	}

	// Ephemeral: no persistence, sender excluded.
	h.broadcast(ctx, p.ConversationID, c.userID, OutgoingEvent{
		Type:    EventTyping,
		Payload: TypingEventPayload{ConversationID: p.ConversationID, UserID: c.userID},
	})
}

func (h *Hub) handleRead(ctx context.Context, c *Client, raw json.RawMessage) {
	var p ReadPayload
	if err := json.Unmarshal(raw, &p); err != nil || p.ConversationID == "" {
		h.sendError(c, "conversation_id required")
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	isMember, err := h.convStore.IsParticipant(ctx, p.ConversationID, c.userID)
	if err != nil {
		logger.Errorf("ws read membership conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendError(c, "internal error")
		return
	}
	if !isMember {
		h.sendError(c, "not a participant")
		return
	}

	if _, err := h.msgStore.MarkRead(ctx, p.ConversationID, c.userID); err != nil {
		logger.Errorf("ws mark read conv=%s user=%s: %v", p.ConversationID, c.userID, err)
		h.sendError(c, "failed to mark read")
		return
	}

	h.BroadcastToRoom(ctx, p.ConversationID, OutgoingEvent{
		Type:    EventRead,
		Payload: ReadReceiptPayload{ConversationID: p.ConversationID, UserID: c.userID},
	})
}

// BroadcastToRoom delivers an event to every connection currently subscribed
// to the conversation room, on this instance and (through the bridge) on
// every other one. Connections not subscribed at this moment never see the
// event; they catch up over REST.
func (h *Hub) BroadcastToRoom(ctx context.Context, conversationID string, ev OutgoingEvent) {
	h.broadcast(ctx, conversationID, "", ev)
}

func (h *Hub) broadcast(ctx context.Context, room, excludeUser string, ev OutgoingEvent) {
	h.emitLocal(room, excludeUser, ev)
	if h.bridge == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Errorf("ws bridge marshal room=%s: %v", room, err)
		return
	}
	if err := h.bridge.Publish(ctx, broker.Envelope{Room: room, ExcludeUser: excludeUser, Event: data}); err != nil {
		logger.Errorf("ws bridge publish room=%s: %v", room, err)
	}
}

func (h *Hub) emitLocal(room, excludeUser string, ev OutgoingEvent) {
	h.mu.RLock()
	members, ok := h.rooms[room]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		if excludeUser != "" && c.userID == excludeUser {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// SendToUser delivers an event to every connection of one user on this
// instance (the personal room).
func (h *Hub) SendToUser(userID string, ev OutgoingEvent) {
	h.mu.RLock()
	clients, ok := h.clients[userID]
	if !ok {
		h.mu.RUnlock()
		return
	}
	targets := make([]*Client, 0, len(clients))
	for c := range clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, ev)
	}
}

// HandleRemote re-emits an envelope received from another instance to the
// locally subscribed connections. Wire it to broker.Broker.Run.
func (h *Hub) HandleRemote(env broker.Envelope) {
	var ev struct {
		Type    EventType       `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		logger.Errorf("ws bridge decode room=%s: %v", env.Room, err)
		return
	}
	h.emitLocal(env.Room, env.ExcludeUser, OutgoingEvent{Type: ev.Type, Payload: ev.Payload})
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: ErrorPayload{Message: msg}})
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
