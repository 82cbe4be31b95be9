package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"teamspace-backend/pkg/logger"
	"teamspace-backend/pkg/push"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Device tokens rot as users reinstall; re-registration refreshes the TTL
const pushTokenExpiry = 30 * 24 * time.Hour

// PushTokenRepository handles device push token storage in Redis
type PushTokenRepository struct {
	client *redis.Client
}

// NewPushTokenRepository creates a new push token repository
func NewPushTokenRepository(client *redis.Client) *PushTokenRepository {
	return &PushTokenRepository{client: client}
}

func userTokensKey(userID uuid.UUID) string {
	return fmt.Sprintf("push:user:%s:tokens", userID)
}

// Register stores a device token for a user. Registering the same
// token again just refreshes it.
func (r *PushTokenRepository) Register(ctx context.Context, userID uuid.UUID, token *push.Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	key := userTokensKey(userID)
	if err := r.client.HSet(ctx, key, token.Token, data).Err(); err != nil {
		return fmt.Errorf("failed to store token: %w", err)
	}

	if err := r.client.Expire(ctx, key, pushTokenExpiry).Err(); err != nil {
		logger.Warn("Failed to set expiration on user tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
	}

	return nil
}

// GetByUserID retrieves all device tokens for a user
func (r *PushTokenRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error) {
	entries, err := r.client.HGetAll(ctx, userTokensKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get user tokens: %w", err)
	}

	var tokens []*push.Token
	for _, raw := range entries {
		var token push.Token
		if err := json.Unmarshal([]byte(raw), &token); err != nil {
			logger.Warn("Skipping malformed push token",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		tokens = append(tokens, &token)
	}

	return tokens, nil
}

// Remove deletes specific tokens for a user. Push providers report
// invalid tokens after a send; this is how they get culled.
func (r *PushTokenRepository) Remove(ctx context.Context, userID uuid.UUID, tokenValues []string) error {
	if len(tokenValues) == 0 {
		return nil
	}

	if err := r.client.HDel(ctx, userTokensKey(userID), tokenValues...).Err(); err != nil {
		return fmt.Errorf("failed to remove tokens: %w", err)
	}

	return nil
}

// RemoveAll deletes every token for a user
func (r *PushTokenRepository) RemoveAll(ctx context.Context, userID uuid.UUID) error {
	if err := r.client.Del(ctx, userTokensKey(userID)).Err(); err != nil {
		return fmt.Errorf("failed to remove user tokens: %w", err)
	}
	return nil
}
