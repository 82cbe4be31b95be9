package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"teamspace-backend/internal/domain"
	"teamspace-backend/pkg/errors"
	"teamspace-backend/pkg/logger"
	"teamspace-backend/pkg/metrics"
	"teamspace-backend/pkg/pagination"
)

// ConversationStore is the authoritative store for conversation
// metadata, membership and per-user delivery state
type ConversationStore interface {
	CreateWithParticipants(ctx context.Context, conversation *domain.Conversation, participants []domain.Participant) error
	GetOrCreateDirect(ctx context.Context, creator, peer uuid.UUID) (*domain.Conversation, bool, error)
	GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error)
	ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationResponse, error)
	GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error)
	AddParticipant(ctx context.Context, participant *domain.Participant) error
	RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error
	IncrementUnread(ctx context.Context, conversationID, senderID uuid.UUID) error
	MarkRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) error
	SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error
	UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, summary *domain.MessageSummary) error
	ClearLastMessage(ctx context.Context, conversationID uuid.UUID) error
	UpdateConversation(ctx context.Context, conversationID uuid.UUID, name *string) error
	Delete(ctx context.Context, conversationID uuid.UUID) error
}

// MessageStore is the authoritative store for message history
type MessageStore interface {
	Save(message *domain.Message) error
	GetPage(conversationID uuid.UUID, page, limit int) ([]*domain.Message, error)
	GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error)
	SoftDelete(conversationID, messageID uuid.UUID, deletedAt time.Time) error
	AddReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) error
	RemoveReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) error
	MarkReadBy(messageID, userID uuid.UUID, readAt time.Time) (bool, error)
	DeleteConversation(conversationID uuid.UUID) error
}

// MirrorFeed receives a best-effort copy of every conversation event.
// Failures are absorbed; the mirror never gates the authoritative path.
type MirrorFeed interface {
	Append(ctx context.Context, conversationID uuid.UUID, event string, payload any) error
	Purge(ctx context.Context, conversationID uuid.UUID) error
}

// NotificationSink turns delivery outcomes into durable notifications
type NotificationSink interface {
	MessageReceived(ctx context.Context, recipients []uuid.UUID, message *domain.Message)
	ConversationRead(ctx context.Context, userID, conversationID uuid.UUID)
}

// Broadcaster pushes events to live subscribers of a conversation room.
// Implemented by the WebSocket hub; wired after construction because the
// hub needs the service and the service needs the hub.
type Broadcaster interface {
	ToRoom(conversationID uuid.UUID, event string, payload any)
	ActiveViewers(conversationID uuid.UUID) map[uuid.UUID]struct{}
}

// Service handles messaging business logic
type Service struct {
	conversations ConversationStore
	messages      MessageStore
	mirror        MirrorFeed
	notifier      NotificationSink
	broadcaster   Broadcaster
	metrics       *metrics.Metrics
}

// NewService creates a new messaging service
func NewService(
	conversations ConversationStore,
	messages MessageStore,
	mirror MirrorFeed,
	notifier NotificationSink,
	m *metrics.Metrics,
) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		mirror:        mirror,
		notifier:      notifier,
		metrics:       m,
	}
}

// SetBroadcaster attaches the live-delivery hub. Must be called before
// the service handles traffic.
func (s *Service) SetBroadcaster(b Broadcaster) {
	s.broadcaster = b
}

// CreateConversationOutput reports the conversation and whether this
// call created it (false when a direct get-or-create found an existing one)
type CreateConversationOutput struct {
	Conversation *domain.ConversationResponse
	Created      bool
}

// CreateConversation creates a group or channel conversation, or
// gets-or-creates the direct conversation for a user pair. The direct
// path is idempotent: any number of concurrent calls for the same pair
// yield the same conversation.
func (s *Service) CreateConversation(ctx context.Context, creatorID uuid.UUID, input *domain.ConversationCreate) (*CreateConversationOutput, error) {
	switch input.Type {
	case domain.ConversationDirect:
		if len(input.ParticipantIDs) != 1 {
			return nil, errors.ValidationError("direct conversation requires exactly one peer")
		}
		peer := input.ParticipantIDs[0]
		if peer == creatorID {
			return nil, errors.ValidationError("cannot open a direct conversation with yourself")
		}

		conversation, created, err := s.conversations.GetOrCreateDirect(ctx, creatorID, peer)
		if err != nil {
			return nil, errors.StoreUnavailableError(err)
		}

		return &CreateConversationOutput{
			Conversation: s.toResponse(ctx, conversation, creatorID),
			Created:      created,
		}, nil

	case domain.ConversationGroup, domain.ConversationChannel:
		name := ""
		if input.Name != nil {
			name = *input.Name
		}
		conversation, participants, err := domain.NewGroupConversation(
			input.Type, name, creatorID, input.ParticipantIDs, input.WorkspaceID, input.ProjectID,
		)
		if err != nil {
			return nil, errors.ValidationError(err.Error())
		}

		if err := s.conversations.CreateWithParticipants(ctx, conversation, participants); err != nil {
			return nil, errors.StoreUnavailableError(err)
		}

		return &CreateConversationOutput{
			Conversation: s.toResponse(ctx, conversation, creatorID),
			Created:      true,
		}, nil

	default:
		return nil, errors.ValidationError("unsupported conversation type")
	}
}

func (s *Service) toResponse(ctx context.Context, conversation *domain.Conversation, viewerID uuid.UUID) *domain.ConversationResponse {
	resp := &domain.ConversationResponse{
		ConversationID: conversation.ConversationID,
		Type:           conversation.Type,
		Name:           conversation.Name,
		WorkspaceID:    conversation.WorkspaceID,
		ProjectID:      conversation.ProjectID,
		LastMessage:    conversation.LastMessage,
		CreatedAt:      conversation.CreatedAt,
	}

	participants, err := s.conversations.GetParticipants(ctx, conversation.ConversationID)
	if err != nil {
		logger.Warn("Failed to load participants for response",
			zap.String("conversation_id", conversation.ConversationID.String()),
			zap.Error(err))
		return resp
	}
	resp.Participants = participants

	for _, p := range participants {
		if p.UserID == viewerID {
			resp.UnreadCount = p.UnreadCount
			break
		}
	}

	return resp
}

// ListConversations returns the caller's conversations, newest activity
// first, excluding the ones the caller archived
func (s *Service) ListConversations(ctx context.Context, userID uuid.UUID, params pagination.Params) ([]*domain.ConversationResponse, error) {
	conversations, err := s.conversations.ListForUser(ctx, userID, params.Limit, params.Offset)
	if err != nil {
		return nil, errors.StoreUnavailableError(err)
	}
	return conversations, nil
}

// GetConversation returns one conversation with its participant list.
// Only participants may see it.
func (s *Service) GetConversation(ctx context.Context, userID, conversationID uuid.UUID) (*domain.ConversationResponse, error) {
	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return nil, errors.NotParticipantError()
	}

	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, errors.ConversationNotFoundError()
		}
		return nil, errors.StoreUnavailableError(err)
	}

	return s.toResponse(ctx, conversation, userID), nil
}

// SetArchived hides or restores a conversation for the caller only
func (s *Service) SetArchived(ctx context.Context, userID, conversationID uuid.UUID, archived bool) error {
	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return errors.NotParticipantError()
	}

	if err := s.conversations.SetArchived(ctx, conversationID, userID, archived); err != nil {
		return errors.StoreUnavailableError(err)
	}
	return nil
}

// AddParticipant adds a user to a group or channel conversation.
// Direct conversations have fixed membership.
func (s *Service) AddParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return errors.ConversationNotFoundError()
		}
		return errors.StoreUnavailableError(err)
	}

	if conversation.Type == domain.ConversationDirect {
		return errors.ValidationError("direct conversations have fixed membership")
	}

	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, actorID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	// Channels are open: any workspace member may join themselves
	selfJoin := conversation.Type == domain.ConversationChannel && actorID == userID
	if !isParticipant && !selfJoin {
		return errors.NotParticipantError()
	}

	participant := &domain.Participant{
		ConversationID: conversationID,
		UserID:         userID,
		Role:           domain.RoleMember,
		JoinedAt:       time.Now().UTC(),
	}
	if err := s.conversations.AddParticipant(ctx, participant); err != nil {
		return errors.StoreUnavailableError(err)
	}

	return nil
}

// RemoveParticipant removes a user from a group or channel. Users may
// remove themselves; admins may remove anyone.
func (s *Service) RemoveParticipant(ctx context.Context, actorID, conversationID, userID uuid.UUID) error {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return errors.ConversationNotFoundError()
		}
		return errors.StoreUnavailableError(err)
	}

	if conversation.Type == domain.ConversationDirect {
		return errors.ValidationError("direct conversations have fixed membership")
	}

	if actorID != userID {
		if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
			return err
		}
	}

	if err := s.conversations.RemoveParticipant(ctx, conversationID, userID); err != nil {
		return errors.StoreUnavailableError(err)
	}

	return nil
}

func (s *Service) requireAdmin(ctx context.Context, conversationID, userID uuid.UUID) error {
	participants, err := s.conversations.GetParticipants(ctx, conversationID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	for _, p := range participants {
		if p.UserID == userID {
			if p.Role == domain.RoleAdmin {
				return nil
			}
			return errors.ForbiddenError("admin role required")
		}
	}
	return errors.NotParticipantError()
}

func (s *Service) requireParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return errors.NotParticipantError()
	}
	return nil
}

// UpdateConversation renames a group or channel
func (s *Service) UpdateConversation(ctx context.Context, actorID, conversationID uuid.UUID, name *string) error {
	conversation, err := s.conversations.GetByID(ctx, conversationID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return errors.ConversationNotFoundError()
		}
		return errors.StoreUnavailableError(err)
	}
	if conversation.Type == domain.ConversationDirect {
		return errors.ValidationError("direct conversations cannot be renamed")
	}

	if err := s.requireAdmin(ctx, conversationID, actorID); err != nil {
		return err
	}

	if err := s.conversations.UpdateConversation(ctx, conversationID, name); err != nil {
		return errors.StoreUnavailableError(err)
	}
	return nil
}

// ClearConversation purges a conversation's full message history while
// keeping the conversation itself. Any participant may clear.
func (s *Service) ClearConversation(ctx context.Context, actorID, conversationID uuid.UUID) error {
	if err := s.requireParticipant(ctx, conversationID, actorID); err != nil {
		return err
	}

	if err := s.messages.DeleteConversation(conversationID); err != nil {
		return errors.StoreUnavailableError(err)
	}
	if err := s.conversations.ClearLastMessage(ctx, conversationID); err != nil {
		return errors.StoreUnavailableError(err)
	}

	payload := map[string]any{
		"conversation_id": conversationID,
		"cleared_by":      actorID,
	}
	s.broadcast(conversationID, domain.EventConversationCleared, payload)
	s.mirrorAppend(ctx, conversationID, domain.EventConversationCleared, payload)

	return nil
}

// DeleteConversation removes a conversation, its membership rows, its
// message history and its mirror stream. Any participant may delete;
// non-participants get a membership error.
func (s *Service) DeleteConversation(ctx context.Context, actorID, conversationID uuid.UUID) error {
	if err := s.requireParticipant(ctx, conversationID, actorID); err != nil {
		return err
	}

	// SQL row goes first: once it is gone the conversation is
	// unreachable, so leftover history from a failed purge is invisible
	// and reaped on retry
	if err := s.conversations.Delete(ctx, conversationID); err != nil {
		return errors.StoreUnavailableError(err)
	}
	if err := s.messages.DeleteConversation(conversationID); err != nil {
		return errors.StoreUnavailableError(err)
	}

	if err := s.mirror.Purge(ctx, conversationID); err != nil {
		logger.Warn("Failed to purge mirror stream",
			zap.String("conversation_id", conversationID.String()),
			zap.Error(err))
	}

	return nil
}

// SendMessage persists a message and fans it out: live broadcast to the
// conversation room, best-effort mirror append, and durable
// notifications for participants who are not actively viewing. Only the
// authoritative write can fail the call.
func (s *Service) SendMessage(ctx context.Context, senderID uuid.UUID, input *domain.MessageCreate) (*domain.Message, error) {
	isParticipant, err := s.conversations.IsParticipant(ctx, input.ConversationID, senderID)
	if err != nil {
		return nil, errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return nil, errors.NotParticipantError()
	}

	messageID, createdAt := domain.NewMessageID()
	message := &domain.Message{
		MessageID:      messageID,
		ConversationID: input.ConversationID,
		SenderID:       senderID,
		Content:        input.Content,
		Type:           input.Type,
		Attachments:    input.Attachments,
		ReplyTo:        input.ReplyTo,
		CreatedAt:      createdAt,
	}

	persistStart := time.Now()
	if err := s.messages.Save(message); err != nil {
		s.metrics.RecordMessagePersisted("error")
		return nil, errors.StoreUnavailableError(err)
	}
	s.metrics.RecordMessagePersisted("ok")
	s.metrics.RecordDeliveryStep("persist", time.Since(persistStart))

	// Unread counters and the preview are authoritative reads later, but
	// their upkeep never un-persists an accepted message
	summary := &domain.MessageSummary{
		Content:   message.Content,
		SenderID:  senderID,
		Timestamp: createdAt,
	}
	if err := s.conversations.UpdateLastMessage(ctx, input.ConversationID, summary); err != nil {
		s.metrics.RecordDeliveryDegraded("last_message")
		logger.Error("Failed to update last message preview",
			zap.String("conversation_id", input.ConversationID.String()),
			zap.Error(err))
	}
	if err := s.conversations.IncrementUnread(ctx, input.ConversationID, senderID); err != nil {
		s.metrics.RecordDeliveryDegraded("unread")
		logger.Error("Failed to increment unread counters",
			zap.String("conversation_id", input.ConversationID.String()),
			zap.Error(err))
	}

	broadcastStart := time.Now()
	s.broadcast(input.ConversationID, domain.EventMessageNew, message)
	s.metrics.RecordDeliveryStep("broadcast", time.Since(broadcastStart))

	s.mirrorAppend(ctx, input.ConversationID, domain.EventMessageNew, message)

	s.notifyRecipients(ctx, message)

	return message, nil
}

// notifyRecipients creates durable notifications for every participant
// who is neither the sender nor actively viewing the conversation room
func (s *Service) notifyRecipients(ctx context.Context, message *domain.Message) {
	participants, err := s.conversations.GetParticipants(ctx, message.ConversationID)
	if err != nil {
		logger.Error("Failed to resolve notification recipients",
			zap.String("conversation_id", message.ConversationID.String()),
			zap.Error(err))
		return
	}

	viewers := map[uuid.UUID]struct{}{}
	if s.broadcaster != nil {
		viewers = s.broadcaster.ActiveViewers(message.ConversationID)
	}

	var recipients []uuid.UUID
	for _, p := range participants {
		if p.UserID == message.SenderID {
			continue
		}
		if _, viewing := viewers[p.UserID]; viewing {
			continue
		}
		recipients = append(recipients, p.UserID)
	}

	if len(recipients) == 0 {
		return
	}

	notifyStart := time.Now()
	s.notifier.MessageReceived(ctx, recipients, message)
	s.metrics.RecordDeliveryStep("notify", time.Since(notifyStart))
}

// GetMessages returns one page of conversation history in display
// order, oldest first within the page
func (s *Service) GetMessages(ctx context.Context, userID, conversationID uuid.UUID, params pagination.Params) ([]*domain.Message, error) {
	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return nil, errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return nil, errors.NotParticipantError()
	}

	fetched, err := s.messages.GetPage(conversationID, params.Page, params.Limit)
	if err != nil {
		return nil, errors.StoreUnavailableError(err)
	}

	// Tombstones keep their row for ordering but never leave the store
	// layer visible
	messages := fetched[:0]
	for _, message := range fetched {
		if message.DeletedAt == nil {
			messages = append(messages, message)
		}
	}

	// Store order is newest-first; clients render oldest-first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// MarkConversationRead resets the caller's unread counter, advances the
// read cursor and clears related notifications
func (s *Service) MarkConversationRead(ctx context.Context, userID, conversationID uuid.UUID) error {
	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return errors.NotParticipantError()
	}

	readAt := time.Now().UTC()
	if err := s.conversations.MarkRead(ctx, conversationID, userID, readAt); err != nil {
		return errors.StoreUnavailableError(err)
	}

	s.notifier.ConversationRead(ctx, userID, conversationID)

	s.broadcast(conversationID, domain.EventMessageRead, map[string]any{
		"conversation_id": conversationID,
		"user_id":         userID,
		"read_at":         readAt,
	})

	return nil
}

// MarkMessageRead records a per-message read receipt. Repeated reads
// keep the first read_at and emit no duplicate events.
func (s *Service) MarkMessageRead(ctx context.Context, userID, conversationID, messageID uuid.UUID) error {
	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return errors.NotParticipantError()
	}

	message, err := s.messages.GetByID(conversationID, messageID)
	if err != nil || message.DeletedAt != nil {
		return errors.MessageNotFoundError()
	}
	if message.SenderID == userID {
		return nil // senders never appear in their own readBy
	}

	readAt := time.Now().UTC()
	applied, err := s.messages.MarkReadBy(messageID, userID, readAt)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}

	if applied {
		s.broadcast(conversationID, domain.EventMessageRead, map[string]any{
			"conversation_id": conversationID,
			"message_id":      messageID,
			"user_id":         userID,
			"read_at":         readAt,
		})
	}

	return nil
}

// React adds or removes one user's emoji reaction. Both directions are
// idempotent: re-adding an existing reaction or removing a missing one
// changes nothing.
func (s *Service) React(ctx context.Context, userID, conversationID, messageID uuid.UUID, emoji string, add bool) error {
	if emoji == "" {
		return errors.ValidationError("emoji is required")
	}

	isParticipant, err := s.conversations.IsParticipant(ctx, conversationID, userID)
	if err != nil {
		return errors.StoreUnavailableError(err)
	}
	if !isParticipant {
		return errors.NotParticipantError()
	}

	message, err := s.messages.GetByID(conversationID, messageID)
	if err != nil || message.DeletedAt != nil {
		return errors.MessageNotFoundError()
	}

	if add {
		err = s.messages.AddReaction(messageID, emoji, userID)
	} else {
		err = s.messages.RemoveReaction(messageID, emoji, userID)
	}
	if err != nil {
		return errors.StoreUnavailableError(err)
	}

	payload := map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"user_id":         userID,
		"emoji":           emoji,
		"added":           add,
	}
	s.broadcast(conversationID, domain.EventMessageReaction, payload)
	s.mirrorAppend(ctx, conversationID, domain.EventMessageReaction, payload)

	return nil
}

// DeleteMessage soft-deletes a message. Only the sender may delete;
// the tombstone keeps its place in history.
func (s *Service) DeleteMessage(ctx context.Context, userID, conversationID, messageID uuid.UUID) error {
	message, err := s.messages.GetByID(conversationID, messageID)
	if err != nil {
		return errors.MessageNotFoundError()
	}

	if message.SenderID != userID {
		return errors.ForbiddenError("only the sender can delete a message")
	}

	if message.DeletedAt != nil {
		return nil // already deleted
	}

	deletedAt := time.Now().UTC()
	if err := s.messages.SoftDelete(conversationID, messageID, deletedAt); err != nil {
		return errors.StoreUnavailableError(err)
	}

	payload := map[string]any{
		"conversation_id": conversationID,
		"message_id":      messageID,
		"deleted_by":      userID,
		"deleted_at":      deletedAt,
	}
	s.broadcast(conversationID, domain.EventMessageDeleted, payload)
	s.mirrorAppend(ctx, conversationID, domain.EventMessageDeleted, payload)

	return nil
}

// IsParticipant exposes the membership check to the WebSocket layer
func (s *Service) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	return s.conversations.IsParticipant(ctx, conversationID, userID)
}

func (s *Service) broadcast(conversationID uuid.UUID, event string, payload any) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.ToRoom(conversationID, event, payload)
	s.metrics.RecordBroadcast(event)
}

func (s *Service) mirrorAppend(ctx context.Context, conversationID uuid.UUID, event string, payload any) {
	mirrorStart := time.Now()
	if err := s.mirror.Append(ctx, conversationID, event, payload); err != nil {
		s.metrics.RecordMirrorAppend("error")
		logger.Warn("Mirror append failed",
			zap.String("conversation_id", conversationID.String()),
			zap.String("event", event),
			zap.Error(err))
		return
	}
	s.metrics.RecordMirrorAppend("ok")
	s.metrics.RecordDeliveryStep("mirror", time.Since(mirrorStart))
}
