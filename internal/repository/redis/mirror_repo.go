package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Stream retention per conversation; old mirror entries are trimmed
// approximately once the stream grows past this
const mirrorStreamMaxLen = 10000

// MirrorRepository appends conversation events to per-conversation
// Redis Streams. Downstream consumers (search indexers, analytics,
// compliance export) read the streams independently; the messaging
// core only ever writes.
type MirrorRepository struct {
	client *redis.Client
}

// NewMirrorRepository creates a new mirror repository
func NewMirrorRepository(client *redis.Client) *MirrorRepository {
	return &MirrorRepository{client: client}
}

func mirrorStreamKey(conversationID uuid.UUID) string {
	return fmt.Sprintf("mirror:conv:%s", conversationID)
}

// Append writes one event to the conversation's mirror stream. The
// payload is serialized as JSON; Redis assigns the stream entry ID so
// entries keep arrival order.
func (r *MirrorRepository) Append(ctx context.Context, conversationID uuid.UUID, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal mirror payload: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: mirrorStreamKey(conversationID),
		MaxLen: mirrorStreamMaxLen,
		Approx: true,
		Values: map[string]any{
			"event":   event,
			"payload": string(data),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to append to mirror stream: %w", err)
	}

	return nil
}

// Purge drops a conversation's mirror stream after its history is
// cleared
func (r *MirrorRepository) Purge(ctx context.Context, conversationID uuid.UUID) error {
	if err := r.client.Del(ctx, mirrorStreamKey(conversationID)).Err(); err != nil {
		return fmt.Errorf("failed to purge mirror stream: %w", err)
	}
	return nil
}
