package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ConversationType discriminates the conversation variants
type ConversationType string

const (
	ConversationDirect  ConversationType = "direct"
	ConversationGroup   ConversationType = "group"
	ConversationChannel ConversationType = "channel"
)

// Participant roles
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Conversation represents conversation metadata
// Maps to CockroachDB conversations table
type Conversation struct {
	ConversationID uuid.UUID        `json:"conversation_id" db:"conversation_id"`
	Type           ConversationType `json:"type" db:"type"`
	Name           *string          `json:"name,omitempty" db:"name"` // Required for group/channel, derived for direct
	DirectKey      *string          `json:"-" db:"direct_key"`        // Sorted participant pair, unique per direct conversation
	WorkspaceID    *uuid.UUID       `json:"workspace_id,omitempty" db:"workspace_id"`
	ProjectID      *uuid.UUID       `json:"project_id,omitempty" db:"project_id"`
	CreatedBy      uuid.UUID        `json:"created_by" db:"created_by"`
	LastMessage    *MessageSummary  `json:"last_message,omitempty"`
	CreatedAt      time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at" db:"updated_at"`
}

// MessageSummary is the denormalized preview of the newest message,
// kept on the conversation row for cheap listing
type MessageSummary struct {
	Content   string    `json:"content"`
	SenderID  uuid.UUID `json:"sender_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Participant represents a user in a conversation together with that
// user's delivery state (read cursor and unread counter)
// Maps to CockroachDB conversation_participants table
type Participant struct {
	ConversationID uuid.UUID  `json:"conversation_id" db:"conversation_id"`
	UserID         uuid.UUID  `json:"user_id" db:"user_id"`
	Role           string     `json:"role" db:"role"`
	JoinedAt       time.Time  `json:"joined_at" db:"joined_at"`
	LastReadAt     *time.Time `json:"last_read_at,omitempty" db:"last_read_at"`
	UnreadCount    int        `json:"unread_count" db:"unread_count"`
	Archived       bool       `json:"archived" db:"archived"`
}

// ConversationResponse is the conversation as returned to the querying
// user, with that user's own unread counter
type ConversationResponse struct {
	ConversationID uuid.UUID        `json:"conversation_id"`
	Type           ConversationType `json:"type"`
	Name           *string          `json:"name,omitempty"`
	WorkspaceID    *uuid.UUID       `json:"workspace_id,omitempty"`
	ProjectID      *uuid.UUID       `json:"project_id,omitempty"`
	Participants   []Participant    `json:"participants,omitempty"`
	LastMessage    *MessageSummary  `json:"last_message,omitempty"`
	UnreadCount    int              `json:"unread_count"`
	CreatedAt      time.Time        `json:"created_at"`
}

// ConversationCreate represents data to create a new conversation
type ConversationCreate struct {
	Type           ConversationType `json:"type" binding:"required,oneof=direct group channel"`
	Name           *string          `json:"name,omitempty"`
	WorkspaceID    *uuid.UUID       `json:"workspace_id,omitempty"`
	ProjectID      *uuid.UUID       `json:"project_id,omitempty"`
	ParticipantIDs []uuid.UUID      `json:"participant_ids" binding:"required,min=1"`
}

// DirectKey builds the canonical identity of a direct conversation:
// the two participant ids sorted lexicographically. The store enforces
// uniqueness on it so concurrent get-or-create calls converge on one row.
func DirectKey(a, b uuid.UUID) string {
	ids := []string{a.String(), b.String()}
	if strings.Compare(ids[0], ids[1]) > 0 {
		ids[0], ids[1] = ids[1], ids[0]
	}
	return ids[0] + ":" + ids[1]
}

// NewDirectConversation builds a direct conversation between exactly two
// users. The name is derived by clients from the peer, never stored.
func NewDirectConversation(creator, peer uuid.UUID) (*Conversation, []Participant, error) {
	if creator == peer {
		return nil, nil, fmt.Errorf("direct conversation requires two distinct users")
	}
	now := time.Now().UTC()
	key := DirectKey(creator, peer)
	conv := &Conversation{
		ConversationID: uuid.New(),
		Type:           ConversationDirect,
		DirectKey:      &key,
		CreatedBy:      creator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	participants := []Participant{
		{ConversationID: conv.ConversationID, UserID: creator, Role: RoleMember, JoinedAt: now},
		{ConversationID: conv.ConversationID, UserID: peer, Role: RoleMember, JoinedAt: now},
	}
	return conv, participants, nil
}

// NewGroupConversation builds a group or channel conversation. The
// creator becomes admin, everyone else a member. Name is mandatory for
// both variants; the invariant lives here, not in the handlers.
func NewGroupConversation(typ ConversationType, name string, creator uuid.UUID, members []uuid.UUID, workspaceID, projectID *uuid.UUID) (*Conversation, []Participant, error) {
	if typ != ConversationGroup && typ != ConversationChannel {
		return nil, nil, fmt.Errorf("unsupported conversation type %q", typ)
	}
	if strings.TrimSpace(name) == "" {
		return nil, nil, fmt.Errorf("%s conversation requires a name", typ)
	}
	now := time.Now().UTC()
	conv := &Conversation{
		ConversationID: uuid.New(),
		Type:           typ,
		Name:           &name,
		WorkspaceID:    workspaceID,
		ProjectID:      projectID,
		CreatedBy:      creator,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	participants := []Participant{
		{ConversationID: conv.ConversationID, UserID: creator, Role: RoleAdmin, JoinedAt: now},
	}
	for _, m := range members {
		if m == creator {
			continue
		}
		participants = append(participants, Participant{
			ConversationID: conv.ConversationID,
			UserID:         m,
			Role:           RoleMember,
			JoinedAt:       now,
		})
	}
	return conv, participants, nil
}
