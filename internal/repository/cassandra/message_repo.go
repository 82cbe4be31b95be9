package cassandra

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"github.com/google/uuid"

	"teamspace-backend/internal/domain"
)

// MessageRepository handles message storage in Cassandra.
// Messages cluster by (created_at DESC, message_id DESC) inside the
// conversation partition; reactions and read receipts live in their own
// tables partitioned by message_id.
type MessageRepository struct {
	session *gocql.Session
}

// NewMessageRepository creates a new MessageRepository
func NewMessageRepository(session *gocql.Session) *MessageRepository {
	return &MessageRepository{session: session}
}

// Save inserts a new message. MessageID and CreatedAt must already be
// assigned (the service mints them together from one TIMEUUID).
func (r *MessageRepository) Save(message *domain.Message) error {
	attachments, err := marshalAttachments(message.Attachments)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO messages (
			conversation_id, created_at, message_id, sender_id, content,
			message_type, reply_to, attachments
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	var replyTo uuid.UUID
	if message.ReplyTo != nil {
		replyTo = *message.ReplyTo
	}

	err = r.session.Query(query,
		message.ConversationID,
		message.CreatedAt,
		message.MessageID,
		message.SenderID,
		message.Content,
		message.Type,
		replyTo,
		attachments,
	).Exec()

	if err != nil {
		return fmt.Errorf("failed to save message: %w", err)
	}

	return nil
}

// GetPage retrieves one page of a conversation's history, newest first.
// Cassandra has no offsets, so earlier pages are re-read and sliced off;
// page numbers stay small in practice because clients walk backwards
// from the newest page.
func (r *MessageRepository) GetPage(conversationID uuid.UUID, page, limit int) ([]*domain.Message, error) {
	if page < 1 {
		page = 1
	}

	query := `
		SELECT conversation_id, created_at, message_id, sender_id, content,
		       message_type, reply_to, attachments, deleted_at
		FROM messages
		WHERE conversation_id = ?
		LIMIT ?
	`

	iter := r.session.Query(query, conversationID, page*limit).Iter()

	var fetched []*domain.Message
	for {
		message, ok, err := scanMessage(iter)
		if err != nil {
			iter.Close()
			return nil, err
		}
		if !ok {
			break
		}
		fetched = append(fetched, message)
	}

	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Slice out the requested page
	start := (page - 1) * limit
	if start >= len(fetched) {
		return nil, nil
	}
	messages := fetched[start:]

	if err := r.hydrate(messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// GetByID retrieves a specific message. The creation instant embedded
// in the TIMEUUID id addresses the clustered row directly.
func (r *MessageRepository) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	query := `
		SELECT conversation_id, created_at, message_id, sender_id, content,
		       message_type, reply_to, attachments, deleted_at
		FROM messages
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
		LIMIT 1
	`

	iter := r.session.Query(query, conversationID, domain.MessageTimestamp(messageID), messageID).Iter()
	message, ok, err := scanMessage(iter)
	if cerr := iter.Close(); cerr != nil {
		return nil, fmt.Errorf("failed to get message: %w", cerr)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, gocql.ErrNotFound
	}

	if err := r.hydrate([]*domain.Message{message}); err != nil {
		return nil, err
	}

	return message, nil
}

// SoftDelete blanks a message's content and marks it deleted. The row
// stays in place so ordering and reply references survive.
func (r *MessageRepository) SoftDelete(conversationID, messageID uuid.UUID, deletedAt time.Time) error {
	query := `
		UPDATE messages
		SET content = '', attachments = '', deleted_at = ?
		WHERE conversation_id = ? AND created_at = ? AND message_id = ?
	`

	err := r.session.Query(query, deletedAt, conversationID, domain.MessageTimestamp(messageID), messageID).Exec()
	if err != nil {
		return fmt.Errorf("failed to soft-delete message: %w", err)
	}

	return nil
}

// AddReaction records one user's reaction. The row key is
// (message_id, emoji, user_id), so repeating the same reaction is a
// natural no-op.
func (r *MessageRepository) AddReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) error {
	query := `INSERT INTO message_reactions (message_id, emoji, user_id, reacted_at) VALUES (?, ?, ?, ?)`

	err := r.session.Query(query, messageID, emoji, userID, time.Now().UTC()).Exec()
	if err != nil {
		return fmt.Errorf("failed to add reaction: %w", err)
	}

	return nil
}

// RemoveReaction removes one user's reaction. Removing a reaction that
// was never added is a no-op.
func (r *MessageRepository) RemoveReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) error {
	query := `DELETE FROM message_reactions WHERE message_id = ? AND emoji = ? AND user_id = ?`

	err := r.session.Query(query, messageID, emoji, userID).Exec()
	if err != nil {
		return fmt.Errorf("failed to remove reaction: %w", err)
	}

	return nil
}

// MarkReadBy records a per-message read receipt. The lightweight
// transaction keeps the first read_at; repeated reads do not move it.
// Returns true when this call created the receipt.
func (r *MessageRepository) MarkReadBy(messageID, userID uuid.UUID, readAt time.Time) (bool, error) {
	query := `INSERT INTO message_reads (message_id, user_id, read_at) VALUES (?, ?, ?) IF NOT EXISTS`

	applied, err := r.session.Query(query, messageID, userID, readAt).ScanCAS(nil, nil, nil)
	if err != nil {
		return false, fmt.Errorf("failed to mark message read: %w", err)
	}

	return applied, nil
}

// DeleteConversation purges a conversation's full history, including
// the per-message reaction and read-receipt partitions
func (r *MessageRepository) DeleteConversation(conversationID uuid.UUID) error {
	// Collect message ids first; reactions and reads partition by message_id
	iter := r.session.Query(`SELECT message_id FROM messages WHERE conversation_id = ?`, conversationID).Iter()

	var messageIDs []uuid.UUID
	var id uuid.UUID
	for iter.Scan(&id) {
		messageIDs = append(messageIDs, id)
	}
	if err := iter.Close(); err != nil {
		return fmt.Errorf("failed to list messages for purge: %w", err)
	}

	for _, mid := range messageIDs {
		if err := r.session.Query(`DELETE FROM message_reactions WHERE message_id = ?`, mid).Exec(); err != nil {
			return fmt.Errorf("failed to purge reactions: %w", err)
		}
		if err := r.session.Query(`DELETE FROM message_reads WHERE message_id = ?`, mid).Exec(); err != nil {
			return fmt.Errorf("failed to purge read receipts: %w", err)
		}
	}

	if err := r.session.Query(`DELETE FROM messages WHERE conversation_id = ?`, conversationID).Exec(); err != nil {
		return fmt.Errorf("failed to purge messages: %w", err)
	}

	return nil
}

// hydrate attaches reactions and read receipts to the given messages
func (r *MessageRepository) hydrate(messages []*domain.Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]uuid.UUID, 0, len(messages))
	byID := make(map[uuid.UUID]*domain.Message, len(messages))
	for _, m := range messages {
		ids = append(ids, m.MessageID)
		byID[m.MessageID] = m
	}

	reactionsIter := r.session.Query(
		`SELECT message_id, emoji, user_id FROM message_reactions WHERE message_id IN ?`, ids,
	).Iter()

	var mid, userID uuid.UUID
	var emoji string
	for reactionsIter.Scan(&mid, &emoji, &userID) {
		message := byID[mid]
		if message == nil {
			continue
		}
		attachReaction(message, emoji, userID)
	}
	if err := reactionsIter.Close(); err != nil {
		return fmt.Errorf("failed to fetch reactions: %w", err)
	}

	readsIter := r.session.Query(
		`SELECT message_id, user_id, read_at FROM message_reads WHERE message_id IN ?`, ids,
	).Iter()

	var readAt time.Time
	for readsIter.Scan(&mid, &userID, &readAt) {
		message := byID[mid]
		if message == nil {
			continue
		}
		message.ReadBy = append(message.ReadBy, domain.ReadReceipt{UserID: userID, ReadAt: readAt})
	}
	if err := readsIter.Close(); err != nil {
		return fmt.Errorf("failed to fetch read receipts: %w", err)
	}

	return nil
}

func attachReaction(message *domain.Message, emoji string, userID uuid.UUID) {
	for i := range message.Reactions {
		if message.Reactions[i].Emoji == emoji {
			message.Reactions[i].UserIDs = append(message.Reactions[i].UserIDs, userID)
			return
		}
	}
	message.Reactions = append(message.Reactions, domain.Reaction{
		Emoji:   emoji,
		UserIDs: []uuid.UUID{userID},
	})
}

func scanMessage(iter *gocql.Iter) (*domain.Message, bool, error) {
	message := &domain.Message{}
	var replyTo uuid.UUID
	var attachments string
	var deletedAt time.Time

	if !iter.Scan(
		&message.ConversationID,
		&message.CreatedAt,
		&message.MessageID,
		&message.SenderID,
		&message.Content,
		&message.Type,
		&replyTo,
		&attachments,
		&deletedAt,
	) {
		return nil, false, nil
	}

	if replyTo != uuid.Nil {
		message.ReplyTo = &replyTo
	}
	if !deletedAt.IsZero() {
		t := deletedAt
		message.DeletedAt = &t
	}

	parsed, err := unmarshalAttachments(attachments)
	if err != nil {
		return nil, false, err
	}
	message.Attachments = parsed

	return message, true, nil
}

func marshalAttachments(attachments []domain.Attachment) (string, error) {
	if len(attachments) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(attachments)
	if err != nil {
		return "", fmt.Errorf("failed to encode attachments: %w", err)
	}
	return string(raw), nil
}

func unmarshalAttachments(raw string) ([]domain.Attachment, error) {
	if raw == "" {
		return nil, nil
	}
	var attachments []domain.Attachment
	if err := json.Unmarshal([]byte(raw), &attachments); err != nil {
		return nil, fmt.Errorf("failed to decode attachments: %w", err)
	}
	return attachments, nil
}
