package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"teamspace-backend/internal/domain"
)

// Client-to-server event types
const (
	actionJoin          = "join"
	actionLeave         = "leave"
	actionSendMessage   = "send_message"
	actionTypingStart   = "typing_start"
	actionTypingStop    = "typing_stop"
	actionMarkRead      = "mark_read"
	actionReact         = "react"
	actionDeleteMessage = "delete_message"
)

// Envelope is the wire format in both directions: a type tag and a
// type-specific payload
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// outEvent is a server-to-client event before serialization
type outEvent struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func encodeEvent(event string, payload any) ([]byte, error) {
	return json.Marshal(&outEvent{
		Type:      event,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	})
}

// joinPayload targets a conversation room
type joinPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
}

// sendMessagePayload carries a new message sent over the socket
type sendMessagePayload struct {
	ConversationID uuid.UUID           `json:"conversation_id"`
	Content        string              `json:"content"`
	Type           domain.MessageType  `json:"type"`
	Attachments    []domain.Attachment `json:"attachments,omitempty"`
	ReplyTo        *uuid.UUID          `json:"reply_to,omitempty"`
}

// markReadPayload marks a whole conversation or one message read
type markReadPayload struct {
	ConversationID uuid.UUID  `json:"conversation_id"`
	MessageID      *uuid.UUID `json:"message_id,omitempty"`
}

// reactPayload toggles an emoji reaction
type reactPayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
	Emoji          string    `json:"emoji"`
	Remove         bool      `json:"remove,omitempty"`
}

// deleteMessagePayload soft-deletes one message
type deleteMessagePayload struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	MessageID      uuid.UUID `json:"message_id"`
}

// typingEvent is broadcast to the room while a participant types
type typingEvent struct {
	ConversationID uuid.UUID `json:"conversation_id"`
	UserID         uuid.UUID `json:"user_id"`
}

// presenceEvent is broadcast when a user's first connection opens or
// last connection closes
type presenceEvent struct {
	UserID uuid.UUID `json:"user_id"`
}

// errorEvent goes only to the client whose request failed
type errorEvent struct {
	Message string `json:"message"`
}
