// Package timeline reconciles the three delivery surfaces a client may
// consume (hub push events, mirror channel entries, and REST history
// pages) into one ordered, de-duplicated view of a conversation.
//
// Messages are keyed by their server-assigned id; order is the canonical
// (created_at, message_id) order, never arrival order, so it does not
// matter which surface delivers a message first.
package timeline

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamspace-backend/internal/domain"
)

// Timeline is one conversation's reconciled message view. Safe for
// concurrent use.
type Timeline struct {
	mu   sync.RWMutex
	byID map[uuid.UUID]*domain.Message
}

// New creates an empty timeline
func New() *Timeline {
	return &Timeline{
		byID: make(map[uuid.UUID]*domain.Message),
	}
}

// Add inserts a message if its id is not already known. Returns true if
// the message was new. Duplicate arrivals from any surface are no-ops,
// but a duplicate carrying reaction/read state merges it in, since a
// REST page is always at least as fresh as a push event.
func (t *Timeline) Add(msg *domain.Message) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.byID[msg.MessageID]
	if ok {
		if len(msg.Reactions) > 0 {
			existing.Reactions = msg.Reactions
		}
		if len(msg.ReadBy) > 0 {
			existing.ReadBy = msg.ReadBy
		}
		if msg.DeletedAt != nil {
			existing.DeletedAt = msg.DeletedAt
		}
		return false
	}

	clone := *msg
	t.byID[msg.MessageID] = &clone
	return true
}

// AddPage merges a REST history page. Returns the number of messages
// that were previously unseen.
func (t *Timeline) AddPage(msgs []*domain.Message) int {
	added := 0
	for _, m := range msgs {
		if t.Add(m) {
			added++
		}
	}
	return added
}

// ApplyReaction applies a message:reaction event to a known message.
// Unknown message ids are ignored; the message will carry the reaction
// when it arrives via a REST page.
func (t *Timeline) ApplyReaction(messageID uuid.UUID, emoji string, userID uuid.UUID, added bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.byID[messageID]
	if !ok {
		return
	}

	for i := range msg.Reactions {
		if msg.Reactions[i].Emoji != emoji {
			continue
		}
		users := msg.Reactions[i].UserIDs
		idx := -1
		for j, u := range users {
			if u == userID {
				idx = j
				break
			}
		}
		if added {
			if idx < 0 {
				msg.Reactions[i].UserIDs = append(users, userID)
			}
		} else if idx >= 0 {
			msg.Reactions[i].UserIDs = append(users[:idx], users[idx+1:]...)
			if len(msg.Reactions[i].UserIDs) == 0 {
				msg.Reactions = append(msg.Reactions[:i], msg.Reactions[i+1:]...)
			}
		}
		return
	}

	if added {
		msg.Reactions = append(msg.Reactions, domain.Reaction{
			Emoji:   emoji,
			UserIDs: []uuid.UUID{userID},
		})
	}
}

// ApplyRead applies a message:read event. Idempotent per (message, user).
func (t *Timeline) ApplyRead(messageID, userID uuid.UUID, readAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg, ok := t.byID[messageID]
	if !ok {
		return
	}
	for _, r := range msg.ReadBy {
		if r.UserID == userID {
			return
		}
	}
	msg.ReadBy = append(msg.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: readAt})
}

// ApplyDelete applies a message:deleted event. The message is retained
// internally so a late duplicate does not resurrect it, but it stops
// appearing in Messages.
func (t *Timeline) ApplyDelete(messageID uuid.UUID, deletedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if msg, ok := t.byID[messageID]; ok {
		msg.DeletedAt = &deletedAt
	}
}

// Clear drops all messages, mirroring a conversation:cleared event
func (t *Timeline) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.byID = make(map[uuid.UUID]*domain.Message)
}

// Messages returns the visible messages in canonical order, oldest
// first, soft-deleted excluded. The returned messages are copies, so
// later Apply calls never mutate a slice a caller is still rendering.
func (t *Timeline) Messages() []*domain.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]*domain.Message, 0, len(t.byID))
	for _, m := range t.byID {
		if m.DeletedAt == nil {
			out = append(out, cloneMessage(m))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return domain.MessageBefore(out[i], out[j])
	})
	return out
}

// Len returns the number of visible messages
func (t *Timeline) Len() int {
	return len(t.Messages())
}

// cloneMessage deep-copies the mutable parts of a message; reaction and
// readBy slices are rewritten in place by Apply calls
func cloneMessage(m *domain.Message) *domain.Message {
	clone := *m
	if len(m.Reactions) > 0 {
		clone.Reactions = make([]domain.Reaction, len(m.Reactions))
		for i, r := range m.Reactions {
			clone.Reactions[i] = r
			clone.Reactions[i].UserIDs = append([]uuid.UUID(nil), r.UserIDs...)
		}
	}
	if len(m.ReadBy) > 0 {
		clone.ReadBy = append([]domain.ReadReceipt(nil), m.ReadBy...)
	}
	return &clone
}
