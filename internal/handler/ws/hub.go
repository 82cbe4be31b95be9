package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamspace-backend/internal/domain"
	"teamspace-backend/internal/service/messaging"
	"teamspace-backend/pkg/logger"
	"teamspace-backend/pkg/metrics"
)

// A typing indicator expires on its own if the client never sends the
// explicit stop
const typingTTL = 2 * time.Second

// Hub routes real-time events between connected clients and the
// messaging service. One connection can subscribe to many conversation
// rooms; presence flips only when a user's first connection opens or
// last connection closes.
type Hub struct {
	service *messaging.Service
	metrics *metrics.Metrics

	roomsMu sync.RWMutex
	rooms   map[uuid.UUID]*room

	presenceMu sync.Mutex
	connCounts map[uuid.UUID]int
	clients    map[*Client]struct{}
}

// room is one conversation's live subscriber set, with its own lock so
// busy conversations never contend with each other
type room struct {
	id uuid.UUID

	mu      sync.RWMutex
	clients map[*Client]struct{}
	typing  map[uuid.UUID]*time.Timer
}

// NewHub creates a new hub
func NewHub(service *messaging.Service, m *metrics.Metrics) *Hub {
	return &Hub{
		service:    service,
		metrics:    m,
		rooms:      make(map[uuid.UUID]*room),
		connCounts: make(map[uuid.UUID]int),
		clients:    make(map[*Client]struct{}),
	}
}

// ToRoom pushes one event to every live subscriber of a conversation.
// Implements messaging.Broadcaster.
func (h *Hub) ToRoom(conversationID uuid.UUID, event string, payload any) {
	data, err := encodeEvent(event, payload)
	if err != nil {
		logger.Error("Failed to encode room event",
			zap.String("event", event),
			zap.Error(err))
		return
	}

	r := h.getRoom(conversationID)
	if r == nil {
		return
	}

	for _, client := range r.snapshot() {
		client.enqueue(data)
	}
}

// ActiveViewers returns the users with at least one live subscription
// to the conversation room. Implements messaging.Broadcaster.
func (h *Hub) ActiveViewers(conversationID uuid.UUID) map[uuid.UUID]struct{} {
	viewers := make(map[uuid.UUID]struct{})

	r := h.getRoom(conversationID)
	if r == nil {
		return viewers
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for client := range r.clients {
		viewers[client.userID] = struct{}{}
	}
	return viewers
}

// Shutdown closes every live connection. Clients unregister themselves
// through their close path, so rooms and presence drain naturally.
func (h *Hub) Shutdown() {
	h.presenceMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.presenceMu.Unlock()

	for _, client := range clients {
		client.close()
	}
}

// IsOnline reports whether a user has at least one live connection
func (h *Hub) IsOnline(userID uuid.UUID) bool {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()
	return h.connCounts[userID] > 0
}

// OnlineUsers returns every user with at least one live connection
func (h *Hub) OnlineUsers() []uuid.UUID {
	h.presenceMu.Lock()
	defer h.presenceMu.Unlock()

	users := make([]uuid.UUID, 0, len(h.connCounts))
	for userID := range h.connCounts {
		users = append(users, userID)
	}
	return users
}

func (h *Hub) getRoom(conversationID uuid.UUID) *room {
	h.roomsMu.RLock()
	defer h.roomsMu.RUnlock()
	return h.rooms[conversationID]
}

// subscribe adds a client to a room, creating it on first join. Holding
// roomsMu across the insert keeps dropRoomIfEmpty from reaping a
// just-created room before its first subscriber lands in it.
func (h *Hub) subscribe(client *Client, conversationID uuid.UUID) *room {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	r, ok := h.rooms[conversationID]
	if !ok {
		r = &room{
			id:      conversationID,
			clients: make(map[*Client]struct{}),
			typing:  make(map[uuid.UUID]*time.Timer),
		}
		h.rooms[conversationID] = r
		h.metrics.SetWSRooms(len(h.rooms))
	}

	r.mu.Lock()
	r.clients[client] = struct{}{}
	r.mu.Unlock()

	return r
}

// dropRoomIfEmpty removes a room that lost its last subscriber
func (h *Hub) dropRoomIfEmpty(r *room) {
	h.roomsMu.Lock()
	defer h.roomsMu.Unlock()

	r.mu.RLock()
	empty := len(r.clients) == 0
	r.mu.RUnlock()

	if empty {
		delete(h.rooms, r.id)
		h.metrics.SetWSRooms(len(h.rooms))
	}
}

// register tracks a new connection and flips presence online when it is
// the user's first
func (h *Hub) register(client *Client) {
	h.presenceMu.Lock()
	h.clients[client] = struct{}{}
	h.connCounts[client.userID]++
	first := h.connCounts[client.userID] == 1
	total := len(h.clients)
	h.presenceMu.Unlock()

	h.metrics.SetWSConnections(total)

	if first {
		h.broadcastPresence(domain.EventPresenceOnline, client.userID)
	}
}

// unregister drops a connection, leaves its rooms and flips presence
// offline when it was the user's last
func (h *Hub) unregister(client *Client) {
	for _, r := range client.joinedRooms() {
		h.leaveRoom(client, r.id)
	}

	h.presenceMu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.presenceMu.Unlock()
		return
	}
	delete(h.clients, client)
	h.connCounts[client.userID]--
	last := h.connCounts[client.userID] == 0
	if last {
		delete(h.connCounts, client.userID)
	}
	total := len(h.clients)
	h.presenceMu.Unlock()

	h.metrics.SetWSConnections(total)

	if last {
		h.broadcastPresence(domain.EventPresenceOffline, client.userID)
	}
}

// broadcastPresence fans a presence flip out to every connection
func (h *Hub) broadcastPresence(event string, userID uuid.UUID) {
	data, err := encodeEvent(event, &presenceEvent{UserID: userID})
	if err != nil {
		return
	}

	h.presenceMu.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.presenceMu.Unlock()

	for _, client := range clients {
		client.enqueue(data)
	}
	h.metrics.RecordBroadcast(event)
}

// joinRoom subscribes a client to a conversation room. Join by a
// non-participant is a silent no-op so probing conversation ids leaks
// nothing.
func (h *Hub) joinRoom(client *Client, conversationID uuid.UUID) {
	isParticipant, err := h.service.IsParticipant(client.ctx(), conversationID, client.userID)
	if err != nil {
		logger.Warn("Membership check failed on join",
			zap.String("conversation_id", conversationID.String()),
			zap.String("user_id", client.userID.String()),
			zap.Error(err))
		return
	}
	if !isParticipant {
		return
	}

	client.addRoom(h.subscribe(client, conversationID))
}

// leaveRoom unsubscribes a client from a room and clears any typing
// indicator it left behind
func (h *Hub) leaveRoom(client *Client, conversationID uuid.UUID) {
	r := h.getRoom(conversationID)
	if r == nil {
		return
	}

	r.mu.Lock()
	delete(r.clients, client)
	if timer, ok := r.typing[client.userID]; ok {
		timer.Stop()
		delete(r.typing, client.userID)
	}
	r.mu.Unlock()

	client.removeRoom(conversationID)
	h.dropRoomIfEmpty(r)
}

// typingStart broadcasts a typing indicator and arms its expiry. A
// repeat start while typing just rearms the timer.
func (h *Hub) typingStart(client *Client, conversationID uuid.UUID) {
	if !client.inRoom(conversationID) {
		return
	}
	r := h.getRoom(conversationID)
	if r == nil {
		return
	}

	r.mu.Lock()
	timer, active := r.typing[client.userID]
	if active {
		timer.Reset(typingTTL)
	} else {
		userID := client.userID
		r.typing[userID] = time.AfterFunc(typingTTL, func() {
			h.typingExpired(r, userID)
		})
	}
	r.mu.Unlock()

	if !active {
		h.ToRoom(conversationID, domain.EventTypingStart, &typingEvent{
			ConversationID: conversationID,
			UserID:         client.userID,
		})
	}
}

// typingStop clears the indicator immediately
func (h *Hub) typingStop(client *Client, conversationID uuid.UUID) {
	r := h.getRoom(conversationID)
	if r == nil {
		return
	}

	r.mu.Lock()
	timer, active := r.typing[client.userID]
	if active {
		timer.Stop()
		delete(r.typing, client.userID)
	}
	r.mu.Unlock()

	if active {
		h.ToRoom(conversationID, domain.EventTypingStop, &typingEvent{
			ConversationID: conversationID,
			UserID:         client.userID,
		})
	}
}

func (h *Hub) typingExpired(r *room, userID uuid.UUID) {
	r.mu.Lock()
	_, active := r.typing[userID]
	if active {
		delete(r.typing, userID)
	}
	r.mu.Unlock()

	if active {
		h.ToRoom(r.id, domain.EventTypingStop, &typingEvent{
			ConversationID: r.id,
			UserID:         userID,
		})
	}
}

func (r *room) snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for client := range r.clients {
		clients = append(clients, client)
	}
	return clients
}
