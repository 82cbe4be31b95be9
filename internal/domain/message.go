package domain

import (
	"bytes"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"
)

// MessageType discriminates message payload kinds
type MessageType string

const (
	MessageText   MessageType = "text"
	MessageFile   MessageType = "file"
	MessageSystem MessageType = "system"
	MessageTask   MessageType = "task"
)

// Message represents a chat message entity
// Maps to Cassandra messages table. Immutable after creation except for
// reactions, read receipts and the soft-delete marker.
type Message struct {
	MessageID      uuid.UUID     `json:"message_id" cql:"message_id"` // TIMEUUID, server-assigned
	ConversationID uuid.UUID     `json:"conversation_id" cql:"conversation_id"`
	SenderID       uuid.UUID     `json:"sender_id" cql:"sender_id"`
	Content        string        `json:"content" cql:"content"`
	Type           MessageType   `json:"type" cql:"message_type"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	ReplyTo        *uuid.UUID    `json:"reply_to,omitempty" cql:"reply_to"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
	ReadBy         []ReadReceipt `json:"read_by,omitempty"`
	CreatedAt      time.Time     `json:"created_at" cql:"created_at"`
	DeletedAt      *time.Time    `json:"-" cql:"deleted_at"`
}

// Attachment is a reference produced by the external upload endpoint;
// the messaging core only stores it, never the bytes.
type Attachment struct {
	Name     string `json:"name"`
	URL      string `json:"url"`
	Size     int64  `json:"size"`
	MimeType string `json:"mime_type"`
}

// Reaction groups the users who reacted with one emoji
type Reaction struct {
	Emoji   string      `json:"emoji"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

// ReadReceipt records one participant having read the message
type ReadReceipt struct {
	UserID uuid.UUID `json:"user_id"`
	ReadAt time.Time `json:"read_at"`
}

// MessageCreate represents data needed to send a message
type MessageCreate struct {
	ConversationID uuid.UUID    `json:"conversation_id" binding:"required"`
	Content        string       `json:"content" binding:"required"`
	Type           MessageType  `json:"type" binding:"required,oneof=text file system task"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReplyTo        *uuid.UUID   `json:"reply_to,omitempty"`
}

// NewMessageID mints a server-assigned TIMEUUID. Within a conversation,
// (CreatedAt, MessageID) is the strict total order clients render by.
func NewMessageID() (uuid.UUID, time.Time) {
	tid := gocql.TimeUUID()
	return uuid.UUID(tid), tid.Time().UTC()
}

// MessageTimestamp recovers the creation instant embedded in a TIMEUUID
// message id. Mutation paths use it to address the clustered row without
// carrying the timestamp around.
func MessageTimestamp(id uuid.UUID) time.Time {
	return gocql.UUID(id).Time().UTC()
}

// MessageBefore reports whether message a sorts before message b in the
// canonical conversation order: created_at first, id bytes as tiebreak.
func MessageBefore(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return bytes.Compare(a.MessageID[:], b.MessageID[:]) < 0
}
