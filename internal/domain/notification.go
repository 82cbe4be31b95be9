package domain

import (
	"time"

	"github.com/google/uuid"
)

// Notification is the durable record created for a participant who was
// not actively viewing the conversation when a message arrived
// Maps to CockroachDB notifications table
type Notification struct {
	NotificationID uuid.UUID  `json:"notification_id" db:"notification_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	MessageID      uuid.UUID  `json:"message_id" db:"message_id"`
	SenderID       uuid.UUID  `json:"sender_id" db:"sender_id"`
	Preview        string     `json:"preview" db:"preview"`
	IsRead         bool       `json:"is_read" db:"is_read"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	ReadAt         *time.Time `json:"read_at,omitempty" db:"read_at"`
}

// NotificationCreate represents data needed to create a notification
type NotificationCreate struct {
	UserID         uuid.UUID
	ConversationID uuid.UUID
	MessageID      uuid.UUID
	SenderID       uuid.UUID
	Preview        string
}

// NotificationListResponse represents a paginated notification list
type NotificationListResponse struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int            `json:"unread_count"`
	TotalCount    int            `json:"total_count"`
	HasMore       bool           `json:"has_more"`
}
