package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamspace-backend/internal/domain"
)

// NotificationRepository handles notification data operations
type NotificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create creates a new notification
func (r *NotificationRepository) Create(ctx context.Context, notification *domain.NotificationCreate) (*domain.Notification, error) {
	query := `
		INSERT INTO notifications (user_id, conversation_id, message_id, sender_id, preview, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, false, NOW())
		RETURNING notification_id, user_id, conversation_id, message_id, sender_id, preview, is_read, created_at, read_at
	`

	var n domain.Notification
	err := r.db.QueryRow(ctx, query,
		notification.UserID,
		notification.ConversationID,
		notification.MessageID,
		notification.SenderID,
		notification.Preview,
	).Scan(
		&n.NotificationID,
		&n.UserID,
		&n.ConversationID,
		&n.MessageID,
		&n.SenderID,
		&n.Preview,
		&n.IsRead,
		&n.CreatedAt,
		&n.ReadAt,
	)

	if err != nil {
		return nil, fmt.Errorf("failed to create notification: %w", err)
	}

	return &n, nil
}

// PruneExpired removes a user's notifications older than the cutoff.
// Runs before every insert so the queue never keeps stale entries.
func (r *NotificationRepository) PruneExpired(ctx context.Context, userID uuid.UUID, cutoff time.Time) (int64, error) {
	query := `DELETE FROM notifications WHERE user_id = $1 AND created_at < $2`

	result, err := r.db.Exec(ctx, query, userID, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune notifications: %w", err)
	}

	return result.RowsAffected(), nil
}

// EvictOverflow drops the oldest notifications past the per-user cap,
// keeping the queue FIFO-bounded
func (r *NotificationRepository) EvictOverflow(ctx context.Context, userID uuid.UUID, max int) (int64, error) {
	query := `
		DELETE FROM notifications
		WHERE user_id = $1 AND notification_id NOT IN (
			SELECT notification_id FROM notifications
			WHERE user_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		)
	`

	result, err := r.db.Exec(ctx, query, userID, max)
	if err != nil {
		return 0, fmt.Errorf("failed to evict notifications: %w", err)
	}

	return result.RowsAffected(), nil
}

// GetByUserID retrieves notifications for a user with pagination,
// newest first
func (r *NotificationRepository) GetByUserID(ctx context.Context, userID uuid.UUID, limit, offset int) ([]domain.Notification, int, error) {
	query := `
		SELECT notification_id, user_id, conversation_id, message_id, sender_id, preview, is_read, created_at, read_at
		FROM notifications
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var notifications []domain.Notification
	for rows.Next() {
		var n domain.Notification
		err := rows.Scan(
			&n.NotificationID,
			&n.UserID,
			&n.ConversationID,
			&n.MessageID,
			&n.SenderID,
			&n.Preview,
			&n.IsRead,
			&n.CreatedAt,
			&n.ReadAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan notification: %w", err)
		}
		notifications = append(notifications, n)
	}

	countQuery := `SELECT COUNT(*) FROM notifications WHERE user_id = $1`
	var totalCount int
	err = r.db.QueryRow(ctx, countQuery, userID).Scan(&totalCount)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	return notifications, totalCount, nil
}

// GetUnreadCount returns the count of unread notifications for a user
func (r *NotificationRepository) GetUnreadCount(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND is_read = false`
	var count int
	err := r.db.QueryRow(ctx, query, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to get unread count: %w", err)
	}
	return count, nil
}

// MarkAsRead marks a notification as read
func (r *NotificationRepository) MarkAsRead(ctx context.Context, notificationID, userID uuid.UUID) error {
	query := `
		UPDATE notifications
		SET is_read = true, read_at = NOW()
		WHERE notification_id = $1 AND user_id = $2
	`
	result, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to mark notification as read: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification not found")
	}
	return nil
}

// MarkAllAsRead marks all notifications as read for a user
func (r *NotificationRepository) MarkAllAsRead(ctx context.Context, userID uuid.UUID) error {
	query := `
		UPDATE notifications
		SET is_read = true, read_at = NOW()
		WHERE user_id = $1 AND is_read = false
	`
	_, err := r.db.Exec(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to mark all notifications as read: %w", err)
	}
	return nil
}

// MarkReadByConversation clears notifications for one conversation when
// the user catches up on it
func (r *NotificationRepository) MarkReadByConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	query := `
		UPDATE notifications
		SET is_read = true, read_at = NOW()
		WHERE user_id = $1 AND conversation_id = $2 AND is_read = false
	`
	_, err := r.db.Exec(ctx, query, userID, conversationID)
	if err != nil {
		return fmt.Errorf("failed to mark conversation notifications as read: %w", err)
	}
	return nil
}

// Delete deletes a notification
func (r *NotificationRepository) Delete(ctx context.Context, notificationID, userID uuid.UUID) error {
	query := `DELETE FROM notifications WHERE notification_id = $1 AND user_id = $2`
	result, err := r.db.Exec(ctx, query, notificationID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("notification not found")
	}
	return nil
}
