package cockroach

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"teamspace-backend/internal/domain"
)

// ConversationRepository handles conversation and participant operations
type ConversationRepository struct {
	pool *pgxpool.Pool
}

// NewConversationRepository creates a new conversation repository
func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

// CreateWithParticipants creates a conversation and its participant rows
// in a single transaction
func (r *ConversationRepository) CreateWithParticipants(ctx context.Context, conversation *domain.Conversation, participants []domain.Participant) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO conversations (
			conversation_id, type, name, direct_key, workspace_id, project_id,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = tx.Exec(ctx, query,
		conversation.ConversationID,
		conversation.Type,
		conversation.Name,
		conversation.DirectKey,
		conversation.WorkspaceID,
		conversation.ProjectID,
		conversation.CreatedBy,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}

	for _, p := range participants {
		if err := addParticipant(ctx, tx, &p); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation: %w", err)
	}

	return nil
}

// GetOrCreateDirect returns the direct conversation between two users,
// creating it if it does not exist. Concurrent calls for the same pair
// converge on one row via the unique direct_key constraint.
func (r *ConversationRepository) GetOrCreateDirect(ctx context.Context, creator, peer uuid.UUID) (*domain.Conversation, bool, error) {
	conversation, participants, err := domain.NewDirectConversation(creator, peer)
	if err != nil {
		return nil, false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	insertQuery := `
		INSERT INTO conversations (
			conversation_id, type, name, direct_key, workspace_id, project_id,
			created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (direct_key) DO NOTHING
	`

	tag, err := tx.Exec(ctx, insertQuery,
		conversation.ConversationID,
		conversation.Type,
		conversation.Name,
		conversation.DirectKey,
		conversation.WorkspaceID,
		conversation.ProjectID,
		conversation.CreatedBy,
		conversation.CreatedAt,
		conversation.UpdatedAt,
	)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create direct conversation: %w", err)
	}

	created := tag.RowsAffected() > 0
	if created {
		for _, p := range participants {
			if err := addParticipant(ctx, tx, &p); err != nil {
				return nil, false, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("failed to commit direct conversation: %w", err)
		}
		return conversation, true, nil
	}

	// Lost the race or the conversation already existed; re-select by key
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit direct conversation: %w", err)
	}

	existing, err := r.getByDirectKey(ctx, *conversation.DirectKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *ConversationRepository) getByDirectKey(ctx context.Context, key string) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, type, name, direct_key, workspace_id, project_id,
		       created_by, last_message_content, last_message_sender, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE direct_key = $1
	`

	conversation := &domain.Conversation{}
	if err := scanConversation(r.pool.QueryRow(ctx, query, key), conversation); err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("conversation not found")
		}
		return nil, fmt.Errorf("failed to get direct conversation: %w", err)
	}

	return conversation, nil
}

// GetByID retrieves a conversation by ID
func (r *ConversationRepository) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	query := `
		SELECT conversation_id, type, name, direct_key, workspace_id, project_id,
		       created_by, last_message_content, last_message_sender, last_message_at,
		       created_at, updated_at
		FROM conversations
		WHERE conversation_id = $1
	`

	conversation := &domain.Conversation{}
	if err := scanConversation(r.pool.QueryRow(ctx, query, conversationID), conversation); err != nil {
		if err == pgx.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}

	return conversation, nil
}

func scanConversation(row pgx.Row, c *domain.Conversation) error {
	var lastContent *string
	var lastSender *uuid.UUID
	var lastAt *time.Time

	err := row.Scan(
		&c.ConversationID,
		&c.Type,
		&c.Name,
		&c.DirectKey,
		&c.WorkspaceID,
		&c.ProjectID,
		&c.CreatedBy,
		&lastContent,
		&lastSender,
		&lastAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		return err
	}

	if lastContent != nil && lastSender != nil && lastAt != nil {
		c.LastMessage = &domain.MessageSummary{
			Content:   *lastContent,
			SenderID:  *lastSender,
			Timestamp: *lastAt,
		}
	}

	return nil
}

// ListForUser retrieves the conversations a user participates in,
// newest activity first, skipping the ones the user archived. The
// caller's own unread counter rides along on each row.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationResponse, error) {
	query := `
		SELECT c.conversation_id, c.type, c.name, c.workspace_id, c.project_id,
		       c.last_message_content, c.last_message_sender, c.last_message_at,
		       cp.unread_count, c.created_at
		FROM conversations c
		INNER JOIN conversation_participants cp ON c.conversation_id = cp.conversation_id
		WHERE cp.user_id = $1 AND cp.archived = false
		ORDER BY c.updated_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var conversations []*domain.ConversationResponse
	for rows.Next() {
		conv := &domain.ConversationResponse{}
		var lastContent *string
		var lastSender *uuid.UUID
		var lastAt *time.Time

		err := rows.Scan(
			&conv.ConversationID,
			&conv.Type,
			&conv.Name,
			&conv.WorkspaceID,
			&conv.ProjectID,
			&lastContent,
			&lastSender,
			&lastAt,
			&conv.UnreadCount,
			&conv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}

		if lastContent != nil && lastSender != nil && lastAt != nil {
			conv.LastMessage = &domain.MessageSummary{
				Content:   *lastContent,
				SenderID:  *lastSender,
				Timestamp: *lastAt,
			}
		}

		conversations = append(conversations, conv)
	}

	return conversations, nil
}

// GetParticipants retrieves all participants of a conversation
func (r *ConversationRepository) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.Participant, error) {
	query := `
		SELECT conversation_id, user_id, role, joined_at, last_read_at, unread_count, archived
		FROM conversation_participants
		WHERE conversation_id = $1
		ORDER BY joined_at ASC
	`

	rows, err := r.pool.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get participants: %w", err)
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		err := rows.Scan(
			&p.ConversationID,
			&p.UserID,
			&p.Role,
			&p.JoinedAt,
			&p.LastReadAt,
			&p.UnreadCount,
			&p.Archived,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		participants = append(participants, p)
	}

	return participants, nil
}

// IsParticipant checks if a user is a participant in a conversation
func (r *ConversationRepository) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2)`

	var exists bool
	err := r.pool.QueryRow(ctx, query, conversationID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check participant: %w", err)
	}

	return exists, nil
}

// AddParticipant adds a user to a conversation
func (r *ConversationRepository) AddParticipant(ctx context.Context, participant *domain.Participant) error {
	return addParticipant(ctx, r.pool, participant)
}

// execer abstracts the pool and an open transaction
type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

func addParticipant(ctx context.Context, db execer, p *domain.Participant) error {
	query := `
		INSERT INTO conversation_participants (
			conversation_id, user_id, role, joined_at, unread_count, archived
		) VALUES ($1, $2, $3, $4, 0, false)
		ON CONFLICT (conversation_id, user_id) DO NOTHING
	`

	_, err := db.Exec(ctx, query, p.ConversationID, p.UserID, p.Role, p.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to add participant: %w", err)
	}

	return nil
}

// RemoveParticipant removes a user from a conversation
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	query := `DELETE FROM conversation_participants WHERE conversation_id = $1 AND user_id = $2`

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("participant not found")
	}

	return nil
}

// IncrementUnread bumps the unread counter of every participant except
// the sender. Runs as one atomic statement so concurrent sends never
// lose increments.
func (r *ConversationRepository) IncrementUnread(ctx context.Context, conversationID, senderID uuid.UUID) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id <> $2
	`

	_, err := r.pool.Exec(ctx, query, conversationID, senderID)
	if err != nil {
		return fmt.Errorf("failed to increment unread counts: %w", err)
	}

	return nil
}

// MarkRead resets the caller's unread counter and advances the read
// cursor to the given time
func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) error {
	query := `
		UPDATE conversation_participants
		SET unread_count = 0, last_read_at = $3
		WHERE conversation_id = $1 AND user_id = $2
	`

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, userID, readAt)
	if err != nil {
		return fmt.Errorf("failed to mark conversation read: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("participant not found")
	}

	return nil
}

// SetArchived hides or restores a conversation for one user without
// touching anyone else's view of it
func (r *ConversationRepository) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	query := `
		UPDATE conversation_participants
		SET archived = $3
		WHERE conversation_id = $1 AND user_id = $2
	`

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, userID, archived)
	if err != nil {
		return fmt.Errorf("failed to update archived flag: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("participant not found")
	}

	return nil
}

// UpdateLastMessage refreshes the denormalized newest-message preview
// and bumps updated_at so the conversation sorts to the top
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, summary *domain.MessageSummary) error {
	query := `
		UPDATE conversations
		SET last_message_content = $2,
		    last_message_sender = $3,
		    last_message_at = $4,
		    updated_at = NOW()
		WHERE conversation_id = $1
	`

	_, err := r.pool.Exec(ctx, query,
		conversationID,
		summary.Content,
		summary.SenderID,
		summary.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to update last message: %w", err)
	}

	return nil
}

// ClearLastMessage wipes the preview after a conversation history purge
func (r *ConversationRepository) ClearLastMessage(ctx context.Context, conversationID uuid.UUID) error {
	query := `
		UPDATE conversations
		SET last_message_content = NULL,
		    last_message_sender = NULL,
		    last_message_at = NULL,
		    updated_at = NOW()
		WHERE conversation_id = $1
	`

	_, err := r.pool.Exec(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("failed to clear last message: %w", err)
	}

	return nil
}

// UpdateConversation updates conversation metadata
func (r *ConversationRepository) UpdateConversation(ctx context.Context, conversationID uuid.UUID, name *string) error {
	query := `
		UPDATE conversations
		SET name = COALESCE($2, name),
		    updated_at = NOW()
		WHERE conversation_id = $1
	`

	cmdTag, err := r.pool.Exec(ctx, query, conversationID, name)
	if err != nil {
		return fmt.Errorf("failed to update conversation: %w", err)
	}

	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("conversation not found")
	}

	return nil
}

// Delete removes a conversation and its participant rows
func (r *ConversationRepository) Delete(ctx context.Context, conversationID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM conversation_participants WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("failed to delete participants: %w", err)
	}

	cmdTag, err := tx.Exec(ctx, `DELETE FROM conversations WHERE conversation_id = $1`, conversationID)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if cmdTag.RowsAffected() == 0 {
		return fmt.Errorf("conversation not found")
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit conversation delete: %w", err)
	}

	return nil
}
