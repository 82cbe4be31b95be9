package notification

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"teamspace-backend/internal/domain"
	"teamspace-backend/pkg/logger"
	"teamspace-backend/pkg/metrics"
	"teamspace-backend/pkg/push"
)

// Previews are truncated so notification rows stay small
const previewMaxRunes = 120

// NotificationStore is the durable per-user notification queue
type NotificationStore interface {
	Create(ctx context.Context, notification *domain.NotificationCreate) (*domain.Notification, error)
	PruneExpired(ctx context.Context, userID uuid.UUID, cutoff time.Time) (int64, error)
	EvictOverflow(ctx context.Context, userID uuid.UUID, max int) (int64, error)
	GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, int, error)
	GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error)
	MarkAsRead(ctx context.Context, notificationID, userID uuid.UUID) error
	MarkAllAsRead(ctx context.Context, userID uuid.UUID) error
	MarkReadByConversation(ctx context.Context, userID, conversationID uuid.UUID) error
	Delete(ctx context.Context, notificationID, userID uuid.UUID) error
}

// TokenStore resolves device push tokens per user
type TokenStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]*push.Token, error)
	Remove(ctx context.Context, userID uuid.UUID, tokenValues []string) error
}

// Config bounds the per-user queue
type Config struct {
	Retention  time.Duration
	MaxPerUser int
}

// Service handles notification business logic. Durable queue writes are
// bounded per user by a retention window and a FIFO cap; device push is
// strictly best-effort on top.
type Service struct {
	store   NotificationStore
	tokens  TokenStore
	pushers map[push.TokenType]push.Provider
	cfg     Config
	metrics *metrics.Metrics
}

// NewService creates a new notification service. tokens and pushers may
// be nil when device push is not configured.
func NewService(store NotificationStore, tokens TokenStore, pushers map[push.TokenType]push.Provider, cfg Config, m *metrics.Metrics) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.MaxPerUser <= 0 {
		cfg.MaxPerUser = 200
	}
	return &Service{
		store:   store,
		tokens:  tokens,
		pushers: pushers,
		cfg:     cfg,
		metrics: m,
	}
}

// MessageReceived creates one durable notification per recipient for a
// freshly delivered message. Before each insert the recipient's queue
// is pruned to the retention window and then FIFO-capped, so the insert
// itself can never be the overflow. Failures are logged per recipient
// and never propagate to the send path.
func (s *Service) MessageReceived(ctx context.Context, recipients []uuid.UUID, message *domain.Message) {
	preview := truncatePreview(message.Content)
	if preview == "" && len(message.Attachments) > 0 {
		preview = fmt.Sprintf("Sent an attachment: %s", message.Attachments[0].Name)
	}

	cutoff := time.Now().UTC().Add(-s.cfg.Retention)

	for _, userID := range recipients {
		if _, err := s.store.PruneExpired(ctx, userID, cutoff); err != nil {
			logger.Warn("Failed to prune expired notifications",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}
		// Cap to max-1 so the new entry fits
		if _, err := s.store.EvictOverflow(ctx, userID, s.cfg.MaxPerUser-1); err != nil {
			logger.Warn("Failed to evict overflowing notifications",
				zap.String("user_id", userID.String()),
				zap.Error(err))
		}

		notification, err := s.store.Create(ctx, &domain.NotificationCreate{
			UserID:         userID,
			ConversationID: message.ConversationID,
			MessageID:      message.MessageID,
			SenderID:       message.SenderID,
			Preview:        preview,
		})
		if err != nil {
			logger.Error("Failed to create notification",
				zap.String("user_id", userID.String()),
				zap.String("conversation_id", message.ConversationID.String()),
				zap.Error(err))
			continue
		}
		s.metrics.RecordNotificationCreated()

		s.sendPush(ctx, userID, notification)
	}
}

// ConversationRead clears a user's notifications for one conversation
// once they catch up on it
func (s *Service) ConversationRead(ctx context.Context, userID, conversationID uuid.UUID) {
	if err := s.store.MarkReadByConversation(ctx, userID, conversationID); err != nil {
		logger.Warn("Failed to clear conversation notifications",
			zap.String("user_id", userID.String()),
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
	}
}

// sendPush dispatches a best-effort device push for one notification.
// Invalid tokens reported by the provider are culled from the store.
func (s *Service) sendPush(ctx context.Context, userID uuid.UUID, notification *domain.Notification) {
	if s.tokens == nil || len(s.pushers) == 0 {
		return
	}

	tokens, err := s.tokens.GetByUserID(ctx, userID)
	if err != nil {
		logger.Warn("Failed to resolve push tokens",
			zap.String("user_id", userID.String()),
			zap.Error(err))
		return
	}
	if len(tokens) == 0 {
		return
	}

	byType := make(map[push.TokenType][]string)
	for _, t := range tokens {
		byType[t.Type] = append(byType[t.Type], t.Token)
	}

	payload := &push.Notification{
		Title: "New message",
		Body:  notification.Preview,
		Data: map[string]string{
			"conversation_id": notification.ConversationID.String(),
			"message_id":      notification.MessageID.String(),
		},
	}

	for tokenType, values := range byType {
		provider, ok := s.pushers[tokenType]
		if !ok {
			continue
		}

		result, err := provider.Send(ctx, payload, values)
		if err != nil {
			s.metrics.RecordPushSend("error")
			logger.Warn("Push dispatch failed",
				zap.String("user_id", userID.String()),
				zap.String("token_type", string(tokenType)),
				zap.Error(err))
			continue
		}
		s.metrics.RecordPushSend("ok")

		if len(result.InvalidTokens) > 0 {
			if err := s.tokens.Remove(ctx, userID, result.InvalidTokens); err != nil {
				logger.Warn("Failed to cull invalid push tokens",
					zap.String("user_id", userID.String()),
					zap.Error(err))
			}
		}
	}
}

// GetNotifications retrieves notifications for a user
func (s *Service) GetNotifications(ctx context.Context, userID uuid.UUID, limit, offset int) (*domain.NotificationListResponse, error) {
	if limit == 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	notifications, totalCount, err := s.store.GetByUserID(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	unreadCount, err := s.store.GetUnreadCount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get unread count: %w", err)
	}

	hasMore := (offset + len(notifications)) < totalCount

	return &domain.NotificationListResponse{
		Notifications: notifications,
		UnreadCount:   unreadCount,
		TotalCount:    totalCount,
		HasMore:       hasMore,
	}, nil
}

// MarkAsRead marks a notification as read
func (s *Service) MarkAsRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	if err := s.store.MarkAsRead(ctx, notificationID, userID); err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	return nil
}

// MarkAllAsRead marks all notifications as read for a user
func (s *Service) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	if err := s.store.MarkAllAsRead(ctx, userID); err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return nil
}

// GetUnreadCount returns the count of unread notifications
func (s *Service) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	count, err := s.store.GetUnreadCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}
	return count, nil
}

// DeleteNotification deletes a notification
func (s *Service) DeleteNotification(ctx context.Context, notificationID, userID uuid.UUID) error {
	if err := s.store.Delete(ctx, notificationID, userID); err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	return nil
}

func truncatePreview(content string) string {
	if utf8.RuneCountInString(content) <= previewMaxRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:previewMaxRunes]) + "…"
}
