package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"teamspace-backend/internal/domain"
	"teamspace-backend/pkg/errors"
	"teamspace-backend/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024

	// Buffered per connection; a client that cannot drain this many
	// events gets dropped rather than stall the room
	sendBufferSize = 256

	// Per-operation budget for store calls triggered over the socket
	opTimeout = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev, restrict in production
	},
}

// Client represents one WebSocket connection of an authenticated user
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID uuid.UUID

	roomsMu sync.Mutex
	rooms   map[uuid.UUID]*room

	// sendMu serializes enqueue against close; broadcasts run on other
	// goroutines and must never hit the channel after it is closed
	sendMu     sync.Mutex
	sendClosed bool

	closeOnce sync.Once
}

// ServeWS upgrades an authenticated request to a WebSocket connection.
// Authentication already happened in middleware; a request without an
// identity never reaches the upgrade.
func (h *Hub) ServeWS(c *gin.Context) {
	userIDVal, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	userID, ok := userIDVal.(uuid.UUID)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "invalid user identity"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		userID: userID,
		rooms:  make(map[uuid.UUID]*room),
	}

	h.register(client)

	go client.writePump()
	go client.readPump()
}

// enqueue hands an event to the connection's writer. A full buffer
// means the client cannot keep up; it gets disconnected instead of
// blocking delivery to the rest of the room.
func (c *Client) enqueue(data []byte) {
	c.sendMu.Lock()
	if c.sendClosed {
		c.sendMu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.sendMu.Unlock()
	default:
		c.sendMu.Unlock()
		c.hub.metrics.RecordSlowClientDrop()
		logger.Warn("Dropping slow WebSocket client",
			zap.String("user_id", c.userID.String()))
		go c.close()
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.hub.unregister(c)

		c.sendMu.Lock()
		c.sendClosed = true
		close(c.send)
		c.sendMu.Unlock()

		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) ctx() context.Context {
	return context.Background()
}

func (c *Client) addRoom(r *room) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	c.rooms[r.id] = r
}

func (c *Client) removeRoom(conversationID uuid.UUID) {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	delete(c.rooms, conversationID)
}

func (c *Client) inRoom(conversationID uuid.UUID) bool {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()
	_, ok := c.rooms[conversationID]
	return ok
}

func (c *Client) joinedRooms() []*room {
	c.roomsMu.Lock()
	defer c.roomsMu.Unlock()

	rooms := make([]*room, 0, len(c.rooms))
	for _, r := range c.rooms {
		rooms = append(rooms, r)
	}
	return rooms
}

// sendError reports a failure to this client only; other subscribers
// never see it
func (c *Client) sendError(message string) {
	data, err := encodeEvent(domain.EventError, &errorEvent{Message: message})
	if err != nil {
		return
	}
	c.enqueue(data)
}

// readPump reads and dispatches client events until the connection dies
func (c *Client) readPump() {
	defer c.close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Debug("WebSocket closed unexpectedly",
					zap.String("user_id", c.userID.String()),
					zap.Error(err))
			}
			break
		}

		var envelope Envelope
		if err := json.Unmarshal(raw, &envelope); err != nil {
			c.sendError("invalid event format")
			continue
		}

		c.dispatch(&envelope)
	}
}

// dispatch routes one inbound event to the hub or the service
func (c *Client) dispatch(envelope *Envelope) {
	switch envelope.Type {
	case actionJoin:
		var p joinPayload
		if !c.decode(envelope.Payload, &p) {
			return
		}
		c.hub.joinRoom(c, p.ConversationID)

	case actionLeave:
		var p joinPayload
		if !c.decode(envelope.Payload, &p) {
			return
		}
		c.hub.leaveRoom(c, p.ConversationID)

	case actionSendMessage:
		var p sendMessagePayload
		if !c.decode(envelope.Payload, &p) {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx(), opTimeout)
		defer cancel()
		_, err := c.hub.service.SendMessage(ctx, c.userID, &domain.MessageCreate{
			ConversationID: p.ConversationID,
			Content:        p.Content,
			Type:           p.Type,
			Attachments:    p.Attachments,
			ReplyTo:        p.ReplyTo,
		})
		c.reportIfError(err)

	case actionTypingStart:
		var p typingEvent
		if !c.decode(envelope.Payload, &p) {
			return
		}
		c.hub.typingStart(c, p.ConversationID)

	case actionTypingStop:
		var p typingEvent
		if !c.decode(envelope.Payload, &p) {
			return
		}
		c.hub.typingStop(c, p.ConversationID)

	case actionMarkRead:
		var p markReadPayload
		if !c.decode(envelope.Payload, &p) {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx(), opTimeout)
		defer cancel()
		var err error
		if p.MessageID != nil {
			err = c.hub.service.MarkMessageRead(ctx, c.userID, p.ConversationID, *p.MessageID)
		} else {
			err = c.hub.service.MarkConversationRead(ctx, c.userID, p.ConversationID)
		}
		c.reportIfError(err)

	case actionReact:
		var p reactPayload
		if !c.decode(envelope.Payload, &p) {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx(), opTimeout)
		defer cancel()
		err := c.hub.service.React(ctx, c.userID, p.ConversationID, p.MessageID, p.Emoji, !p.Remove)
		c.reportIfError(err)

	case actionDeleteMessage:
		var p deleteMessagePayload
		if !c.decode(envelope.Payload, &p) {
			return
		}
		ctx, cancel := context.WithTimeout(c.ctx(), opTimeout)
		defer cancel()
		err := c.hub.service.DeleteMessage(ctx, c.userID, p.ConversationID, p.MessageID)
		c.reportIfError(err)

	default:
		c.sendError("unknown event type")
	}
}

func (c *Client) decode(raw json.RawMessage, dest any) bool {
	if err := json.Unmarshal(raw, dest); err != nil {
		c.sendError("invalid event payload")
		return false
	}
	return true
}

func (c *Client) reportIfError(err error) {
	if err == nil {
		return
	}
	c.sendError(errors.GetAppError(err).Message)
}

// writePump writes queued events and keeps the connection alive with
// pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
