package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"teamspace-backend/internal/domain"
	"teamspace-backend/pkg/errors"
	"teamspace-backend/pkg/metrics"
	"teamspace-backend/pkg/pagination"
)

// Mocks
type MockConversationStore struct {
	mock.Mock
}

func (m *MockConversationStore) CreateWithParticipants(ctx context.Context, conversation *domain.Conversation, participants []domain.Participant) error {
	args := m.Called(ctx, conversation, participants)
	return args.Error(0)
}

func (m *MockConversationStore) GetOrCreateDirect(ctx context.Context, creator, peer uuid.UUID) (*domain.Conversation, bool, error) {
	args := m.Called(ctx, creator, peer)
	return args.Get(0).(*domain.Conversation), args.Bool(1), args.Error(2)
}

func (m *MockConversationStore) GetByID(ctx context.Context, conversationID uuid.UUID) (*domain.Conversation, error) {
	args := m.Called(ctx, conversationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Conversation), args.Error(1)
}

func (m *MockConversationStore) ListForUser(ctx context.Context, userID uuid.UUID, limit, offset int) ([]*domain.ConversationResponse, error) {
	args := m.Called(ctx, userID, limit, offset)
	return args.Get(0).([]*domain.ConversationResponse), args.Error(1)
}

func (m *MockConversationStore) GetParticipants(ctx context.Context, conversationID uuid.UUID) ([]domain.Participant, error) {
	args := m.Called(ctx, conversationID)
	return args.Get(0).([]domain.Participant), args.Error(1)
}

func (m *MockConversationStore) IsParticipant(ctx context.Context, conversationID, userID uuid.UUID) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockConversationStore) AddParticipant(ctx context.Context, participant *domain.Participant) error {
	args := m.Called(ctx, participant)
	return args.Error(0)
}

func (m *MockConversationStore) RemoveParticipant(ctx context.Context, conversationID, userID uuid.UUID) error {
	args := m.Called(ctx, conversationID, userID)
	return args.Error(0)
}

func (m *MockConversationStore) IncrementUnread(ctx context.Context, conversationID, senderID uuid.UUID) error {
	args := m.Called(ctx, conversationID, senderID)
	return args.Error(0)
}

func (m *MockConversationStore) MarkRead(ctx context.Context, conversationID, userID uuid.UUID, readAt time.Time) error {
	args := m.Called(ctx, conversationID, userID, readAt)
	return args.Error(0)
}

func (m *MockConversationStore) SetArchived(ctx context.Context, conversationID, userID uuid.UUID, archived bool) error {
	args := m.Called(ctx, conversationID, userID, archived)
	return args.Error(0)
}

func (m *MockConversationStore) UpdateLastMessage(ctx context.Context, conversationID uuid.UUID, summary *domain.MessageSummary) error {
	args := m.Called(ctx, conversationID, summary)
	return args.Error(0)
}

func (m *MockConversationStore) ClearLastMessage(ctx context.Context, conversationID uuid.UUID) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

func (m *MockConversationStore) UpdateConversation(ctx context.Context, conversationID uuid.UUID, name *string) error {
	args := m.Called(ctx, conversationID, name)
	return args.Error(0)
}

func (m *MockConversationStore) Delete(ctx context.Context, conversationID uuid.UUID) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type MockMessageStore struct {
	mock.Mock
}

func (m *MockMessageStore) Save(message *domain.Message) error {
	args := m.Called(message)
	return args.Error(0)
}

func (m *MockMessageStore) GetPage(conversationID uuid.UUID, page, limit int) ([]*domain.Message, error) {
	args := m.Called(conversationID, page, limit)
	return args.Get(0).([]*domain.Message), args.Error(1)
}

func (m *MockMessageStore) GetByID(conversationID, messageID uuid.UUID) (*domain.Message, error) {
	args := m.Called(conversationID, messageID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Message), args.Error(1)
}

func (m *MockMessageStore) SoftDelete(conversationID, messageID uuid.UUID, deletedAt time.Time) error {
	args := m.Called(conversationID, messageID, deletedAt)
	return args.Error(0)
}

func (m *MockMessageStore) AddReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) error {
	args := m.Called(messageID, emoji, userID)
	return args.Error(0)
}

func (m *MockMessageStore) RemoveReaction(messageID uuid.UUID, emoji string, userID uuid.UUID) error {
	args := m.Called(messageID, emoji, userID)
	return args.Error(0)
}

func (m *MockMessageStore) MarkReadBy(messageID, userID uuid.UUID, readAt time.Time) (bool, error) {
	args := m.Called(messageID, userID, readAt)
	return args.Bool(0), args.Error(1)
}

func (m *MockMessageStore) DeleteConversation(conversationID uuid.UUID) error {
	args := m.Called(conversationID)
	return args.Error(0)
}

type MockMirrorFeed struct {
	mock.Mock
}

func (m *MockMirrorFeed) Append(ctx context.Context, conversationID uuid.UUID, event string, payload any) error {
	args := m.Called(ctx, conversationID, event, payload)
	return args.Error(0)
}

func (m *MockMirrorFeed) Purge(ctx context.Context, conversationID uuid.UUID) error {
	args := m.Called(ctx, conversationID)
	return args.Error(0)
}

type MockNotificationSink struct {
	mock.Mock
}

func (m *MockNotificationSink) MessageReceived(ctx context.Context, recipients []uuid.UUID, message *domain.Message) {
	m.Called(ctx, recipients, message)
}

func (m *MockNotificationSink) ConversationRead(ctx context.Context, userID, conversationID uuid.UUID) {
	m.Called(ctx, userID, conversationID)
}

// fakeBroadcaster records broadcasts and simulates active viewers
type fakeBroadcaster struct {
	events  []string
	viewers map[uuid.UUID]struct{}
}

func (f *fakeBroadcaster) ToRoom(conversationID uuid.UUID, event string, payload any) {
	f.events = append(f.events, event)
}

func (f *fakeBroadcaster) ActiveViewers(conversationID uuid.UUID) map[uuid.UUID]struct{} {
	if f.viewers == nil {
		return map[uuid.UUID]struct{}{}
	}
	return f.viewers
}

func newTestService(t *testing.T) (*Service, *MockConversationStore, *MockMessageStore, *MockMirrorFeed, *MockNotificationSink, *fakeBroadcaster) {
	t.Helper()
	convStore := new(MockConversationStore)
	msgStore := new(MockMessageStore)
	mirror := new(MockMirrorFeed)
	notifier := new(MockNotificationSink)
	broadcaster := &fakeBroadcaster{}

	service := NewService(convStore, msgStore, mirror, notifier, metrics.New("test"))
	service.SetBroadcaster(broadcaster)

	return service, convStore, msgStore, mirror, notifier, broadcaster
}

func TestSendMessage(t *testing.T) {
	service, convStore, msgStore, mirror, notifier, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	ctx := context.Background()

	participants := []domain.Participant{
		{ConversationID: conversationID, UserID: senderID},
		{ConversationID: conversationID, UserID: recipientID},
	}

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(true, nil)
	msgStore.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	convStore.On("UpdateLastMessage", ctx, conversationID, mock.AnythingOfType("*domain.MessageSummary")).Return(nil)
	convStore.On("IncrementUnread", ctx, conversationID, senderID).Return(nil)
	mirror.On("Append", ctx, conversationID, domain.EventMessageNew, mock.Anything).Return(nil)
	convStore.On("GetParticipants", ctx, conversationID).Return(participants, nil)
	notifier.On("MessageReceived", ctx, []uuid.UUID{recipientID}, mock.AnythingOfType("*domain.Message")).Return()

	message, err := service.SendMessage(ctx, senderID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        "standup moved to 10:30",
		Type:           domain.MessageText,
	})

	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.NotEqual(t, uuid.Nil, message.MessageID)
	assert.Equal(t, senderID, message.SenderID)
	assert.False(t, message.CreatedAt.IsZero())
	assert.Equal(t, []string{domain.EventMessageNew}, broadcaster.events)

	convStore.AssertExpectations(t)
	msgStore.AssertExpectations(t)
	mirror.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestSendMessageNotParticipant(t *testing.T) {
	service, convStore, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(false, nil)

	message, err := service.SendMessage(ctx, senderID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        "hi",
		Type:           domain.MessageText,
	})

	assert.Nil(t, message)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotParticipant))
	assert.Empty(t, broadcaster.events)
	msgStore.AssertNotCalled(t, "Save", mock.Anything)
}

func TestSendMessageStoreFailure(t *testing.T) {
	service, convStore, msgStore, mirror, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(true, nil)
	msgStore.On("Save", mock.AnythingOfType("*domain.Message")).Return(assert.AnError)

	message, err := service.SendMessage(ctx, senderID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        "hi",
		Type:           domain.MessageText,
	})

	assert.Nil(t, message)
	assert.True(t, errors.IsCode(err, errors.ErrCodeStoreUnavailable))
	assert.Empty(t, broadcaster.events)
	mirror.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageMirrorFailureAbsorbed(t *testing.T) {
	service, convStore, msgStore, mirror, notifier, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(true, nil)
	msgStore.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	convStore.On("UpdateLastMessage", ctx, conversationID, mock.Anything).Return(nil)
	convStore.On("IncrementUnread", ctx, conversationID, senderID).Return(nil)
	mirror.On("Append", ctx, conversationID, domain.EventMessageNew, mock.Anything).Return(assert.AnError)
	convStore.On("GetParticipants", ctx, conversationID).Return([]domain.Participant{
		{ConversationID: conversationID, UserID: senderID},
	}, nil)

	message, err := service.SendMessage(ctx, senderID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        "hi",
		Type:           domain.MessageText,
	})

	// Mirror failure never fails the send
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.Equal(t, []string{domain.EventMessageNew}, broadcaster.events)
	notifier.AssertNotCalled(t, "MessageReceived", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendMessageUpkeepFailureAbsorbed(t *testing.T) {
	service, convStore, msgStore, mirror, notifier, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	recipientID := uuid.New()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(true, nil)
	msgStore.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	convStore.On("UpdateLastMessage", ctx, conversationID, mock.Anything).Return(assert.AnError)
	convStore.On("IncrementUnread", ctx, conversationID, senderID).Return(assert.AnError)
	mirror.On("Append", ctx, conversationID, domain.EventMessageNew, mock.Anything).Return(nil)
	convStore.On("GetParticipants", ctx, conversationID).Return([]domain.Participant{
		{ConversationID: conversationID, UserID: senderID},
		{ConversationID: conversationID, UserID: recipientID},
	}, nil)
	notifier.On("MessageReceived", ctx, []uuid.UUID{recipientID}, mock.Anything).Return()

	message, err := service.SendMessage(ctx, senderID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        "hi",
		Type:           domain.MessageText,
	})

	// Preview and unread upkeep failing never un-persists the message;
	// delivery still runs end to end
	assert.NoError(t, err)
	assert.NotNil(t, message)
	assert.Equal(t, []string{domain.EventMessageNew}, broadcaster.events)
	notifier.AssertExpectations(t)
}

func TestSendMessageSkipsActiveViewers(t *testing.T) {
	service, convStore, msgStore, mirror, notifier, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	viewerID := uuid.New()
	awayID := uuid.New()
	ctx := context.Background()

	broadcaster.viewers = map[uuid.UUID]struct{}{viewerID: {}}

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(true, nil)
	msgStore.On("Save", mock.AnythingOfType("*domain.Message")).Return(nil)
	convStore.On("UpdateLastMessage", ctx, conversationID, mock.Anything).Return(nil)
	convStore.On("IncrementUnread", ctx, conversationID, senderID).Return(nil)
	mirror.On("Append", ctx, conversationID, domain.EventMessageNew, mock.Anything).Return(nil)
	convStore.On("GetParticipants", ctx, conversationID).Return([]domain.Participant{
		{ConversationID: conversationID, UserID: senderID},
		{ConversationID: conversationID, UserID: viewerID},
		{ConversationID: conversationID, UserID: awayID},
	}, nil)
	notifier.On("MessageReceived", ctx, []uuid.UUID{awayID}, mock.Anything).Return()

	_, err := service.SendMessage(ctx, senderID, &domain.MessageCreate{
		ConversationID: conversationID,
		Content:        "hi",
		Type:           domain.MessageText,
	})

	assert.NoError(t, err)
	notifier.AssertExpectations(t)
}

func TestCreateDirectConversationIdempotent(t *testing.T) {
	service, convStore, _, _, _, _ := newTestService(t)

	creatorID := uuid.New()
	peerID := uuid.New()
	ctx := context.Background()

	existing, participants, err := domain.NewDirectConversation(creatorID, peerID)
	assert.NoError(t, err)

	convStore.On("GetOrCreateDirect", ctx, creatorID, peerID).Return(existing, false, nil)
	convStore.On("GetParticipants", ctx, existing.ConversationID).Return(participants, nil)

	output, err := service.CreateConversation(ctx, creatorID, &domain.ConversationCreate{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []uuid.UUID{peerID},
	})

	assert.NoError(t, err)
	assert.False(t, output.Created)
	assert.Equal(t, existing.ConversationID, output.Conversation.ConversationID)
}

func TestCreateDirectConversationWithSelf(t *testing.T) {
	service, _, _, _, _, _ := newTestService(t)

	creatorID := uuid.New()

	output, err := service.CreateConversation(context.Background(), creatorID, &domain.ConversationCreate{
		Type:           domain.ConversationDirect,
		ParticipantIDs: []uuid.UUID{creatorID},
	})

	assert.Nil(t, output)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestCreateGroupConversationRequiresName(t *testing.T) {
	service, _, _, _, _, _ := newTestService(t)

	output, err := service.CreateConversation(context.Background(), uuid.New(), &domain.ConversationCreate{
		Type:           domain.ConversationGroup,
		ParticipantIDs: []uuid.UUID{uuid.New()},
	})

	assert.Nil(t, output)
	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestGetMessagesDisplayOrder(t *testing.T) {
	service, convStore, msgStore, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	firstID, firstAt := domain.NewMessageID()
	secondID, secondAt := domain.NewMessageID()

	// Store returns newest-first
	stored := []*domain.Message{
		{MessageID: secondID, ConversationID: conversationID, Content: "second", CreatedAt: secondAt},
		{MessageID: firstID, ConversationID: conversationID, Content: "first", CreatedAt: firstAt},
	}

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetPage", conversationID, 1, 20).Return(stored, nil)

	messages, err := service.GetMessages(ctx, userID, conversationID, pagination.Params{Page: 1, Limit: 20})

	assert.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "second", messages[1].Content)
}

func TestGetMessagesSkipsDeleted(t *testing.T) {
	service, convStore, msgStore, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	firstID, firstAt := domain.NewMessageID()
	secondID, secondAt := domain.NewMessageID()
	thirdID, thirdAt := domain.NewMessageID()
	deletedAt := time.Now().UTC()

	stored := []*domain.Message{
		{MessageID: thirdID, ConversationID: conversationID, Content: "third", CreatedAt: thirdAt},
		{MessageID: secondID, ConversationID: conversationID, Content: "second", CreatedAt: secondAt, DeletedAt: &deletedAt},
		{MessageID: firstID, ConversationID: conversationID, Content: "first", CreatedAt: firstAt},
	}

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetPage", conversationID, 1, 20).Return(stored, nil)

	messages, err := service.GetMessages(ctx, userID, conversationID, pagination.Params{Page: 1, Limit: 20})

	// Tombstones occupy store rows but never reach the caller
	assert.NoError(t, err)
	assert.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Content)
	assert.Equal(t, "third", messages[1].Content)
}

func TestMarkMessageReadDuplicate(t *testing.T) {
	service, convStore, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	messageID, _ := domain.NewMessageID()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       uuid.New(),
	}, nil)
	msgStore.On("MarkReadBy", messageID, userID, mock.AnythingOfType("time.Time")).Return(false, nil)

	err := service.MarkMessageRead(ctx, userID, conversationID, messageID)

	// Receipt already existed; no event goes out
	assert.NoError(t, err)
	assert.Empty(t, broadcaster.events)
}

func TestMarkMessageReadBySenderIsNoOp(t *testing.T) {
	service, convStore, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	messageID, _ := domain.NewMessageID()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, senderID).Return(true, nil)
	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
	}, nil)

	err := service.MarkMessageRead(ctx, senderID, conversationID, messageID)

	assert.NoError(t, err)
	assert.Empty(t, broadcaster.events)
	msgStore.AssertNotCalled(t, "MarkReadBy")
}

func TestMarkMessageReadDeletedMessage(t *testing.T) {
	service, convStore, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	messageID, createdAt := domain.NewMessageID()
	deletedAt := time.Now().UTC()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       uuid.New(),
		CreatedAt:      createdAt,
		DeletedAt:      &deletedAt,
	}, nil)

	err := service.MarkMessageRead(ctx, userID, conversationID, messageID)

	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageNotFound))
	assert.Empty(t, broadcaster.events)
	msgStore.AssertNotCalled(t, "MarkReadBy", mock.Anything, mock.Anything, mock.Anything)
}

func TestMarkConversationRead(t *testing.T) {
	service, convStore, _, _, notifier, broadcaster := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	convStore.On("MarkRead", ctx, conversationID, userID, mock.AnythingOfType("time.Time")).Return(nil)
	notifier.On("ConversationRead", ctx, userID, conversationID).Return()

	err := service.MarkConversationRead(ctx, userID, conversationID)

	assert.NoError(t, err)
	assert.Equal(t, []string{domain.EventMessageRead}, broadcaster.events)
	convStore.AssertExpectations(t)
	notifier.AssertExpectations(t)
}

func TestReactUnknownMessage(t *testing.T) {
	service, convStore, msgStore, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	messageID, _ := domain.NewMessageID()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetByID", conversationID, messageID).Return(nil, assert.AnError)

	err := service.React(ctx, userID, conversationID, messageID, "👍", true)

	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageNotFound))
	msgStore.AssertNotCalled(t, "AddReaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestReactDeletedMessage(t *testing.T) {
	service, convStore, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	messageID, createdAt := domain.NewMessageID()
	deletedAt := time.Now().UTC()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		CreatedAt:      createdAt,
		DeletedAt:      &deletedAt,
	}, nil)

	err := service.React(ctx, userID, conversationID, messageID, "👍", true)

	assert.True(t, errors.IsCode(err, errors.ErrCodeMessageNotFound))
	assert.Empty(t, broadcaster.events)
	msgStore.AssertNotCalled(t, "AddReaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestReact(t *testing.T) {
	service, convStore, msgStore, mirror, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	messageID, createdAt := domain.NewMessageID()
	ctx := context.Background()

	convStore.On("IsParticipant", ctx, conversationID, userID).Return(true, nil)
	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		CreatedAt:      createdAt,
	}, nil)
	msgStore.On("AddReaction", messageID, "🎉", userID).Return(nil)
	mirror.On("Append", ctx, conversationID, domain.EventMessageReaction, mock.Anything).Return(nil)

	err := service.React(ctx, userID, conversationID, messageID, "🎉", true)

	assert.NoError(t, err)
	assert.Equal(t, []string{domain.EventMessageReaction}, broadcaster.events)
	msgStore.AssertExpectations(t)
}

func TestDeleteMessageNotSender(t *testing.T) {
	service, _, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	otherID := uuid.New()
	messageID, createdAt := domain.NewMessageID()
	ctx := context.Background()

	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		CreatedAt:      createdAt,
	}, nil)

	err := service.DeleteMessage(ctx, otherID, conversationID, messageID)

	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))
	assert.Empty(t, broadcaster.events)
	msgStore.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessageAlreadyDeleted(t *testing.T) {
	service, _, msgStore, _, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	senderID := uuid.New()
	messageID, createdAt := domain.NewMessageID()
	deletedAt := time.Now().UTC()
	ctx := context.Background()

	msgStore.On("GetByID", conversationID, messageID).Return(&domain.Message{
		MessageID:      messageID,
		ConversationID: conversationID,
		SenderID:       senderID,
		CreatedAt:      createdAt,
		DeletedAt:      &deletedAt,
	}, nil)

	err := service.DeleteMessage(ctx, senderID, conversationID, messageID)

	assert.NoError(t, err)
	assert.Empty(t, broadcaster.events)
	msgStore.AssertNotCalled(t, "SoftDelete", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveParticipantSelfLeave(t *testing.T) {
	service, convStore, _, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	name := "backend"
	convStore.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		Type:           domain.ConversationGroup,
		Name:           &name,
	}, nil)
	convStore.On("RemoveParticipant", ctx, conversationID, userID).Return(nil)

	err := service.RemoveParticipant(ctx, userID, conversationID, userID)

	assert.NoError(t, err)
	convStore.AssertExpectations(t)
}

func TestRemoveParticipantRequiresAdmin(t *testing.T) {
	service, convStore, _, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	memberID := uuid.New()
	targetID := uuid.New()
	ctx := context.Background()

	name := "backend"
	convStore.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		Type:           domain.ConversationGroup,
		Name:           &name,
	}, nil)
	convStore.On("GetParticipants", ctx, conversationID).Return([]domain.Participant{
		{ConversationID: conversationID, UserID: memberID, Role: domain.RoleMember},
		{ConversationID: conversationID, UserID: targetID, Role: domain.RoleMember},
	}, nil)

	err := service.RemoveParticipant(ctx, memberID, conversationID, targetID)

	assert.True(t, errors.IsCode(err, errors.ErrCodeForbidden))
	convStore.AssertNotCalled(t, "RemoveParticipant", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddParticipantToDirect(t *testing.T) {
	service, convStore, _, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	ctx := context.Background()

	convStore.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		Type:           domain.ConversationDirect,
	}, nil)

	err := service.AddParticipant(ctx, uuid.New(), conversationID, uuid.New())

	assert.True(t, errors.IsCode(err, errors.ErrCodeValidation))
}

func TestChannelSelfJoin(t *testing.T) {
	service, convStore, _, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	name := "announcements"
	convStore.On("GetByID", ctx, conversationID).Return(&domain.Conversation{
		ConversationID: conversationID,
		Type:           domain.ConversationChannel,
		Name:           &name,
	}, nil)
	convStore.On("IsParticipant", ctx, conversationID, userID).Return(false, nil)
	convStore.On("AddParticipant", ctx, mock.AnythingOfType("*domain.Participant")).Return(nil)

	err := service.AddParticipant(ctx, userID, conversationID, userID)

	assert.NoError(t, err)
	convStore.AssertExpectations(t)
}

func TestDeleteConversationCascade(t *testing.T) {
	service, convStore, msgStore, mirror, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()
	ctx := context.Background()

	convStore.On("IsParticipant", mock.Anything, conversationID, userID).Return(true, nil)

	// SQL delete makes the conversation unreachable before the Cassandra
	// purge runs
	sqlDeleted := false
	convStore.On("Delete", mock.Anything, conversationID).Run(func(mock.Arguments) {
		sqlDeleted = true
	}).Return(nil)
	msgStore.On("DeleteConversation", conversationID).Run(func(mock.Arguments) {
		assert.True(t, sqlDeleted, "history purge must follow the SQL delete")
	}).Return(nil)
	mirror.On("Purge", mock.Anything, conversationID).Return(nil)

	err := service.DeleteConversation(ctx, userID, conversationID)
	assert.NoError(t, err)
	convStore.AssertExpectations(t)
	msgStore.AssertExpectations(t)
	mirror.AssertExpectations(t)
}

func TestDeleteConversationNotParticipant(t *testing.T) {
	service, convStore, msgStore, _, _, _ := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()

	convStore.On("IsParticipant", mock.Anything, conversationID, userID).Return(false, nil)

	err := service.DeleteConversation(context.Background(), userID, conversationID)
	assert.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeNotParticipant))
	msgStore.AssertNotCalled(t, "DeleteConversation")
}

func TestClearConversationBroadcasts(t *testing.T) {
	service, convStore, msgStore, mirror, _, broadcaster := newTestService(t)

	conversationID := uuid.New()
	userID := uuid.New()

	convStore.On("IsParticipant", mock.Anything, conversationID, userID).Return(true, nil)
	msgStore.On("DeleteConversation", conversationID).Return(nil)
	convStore.On("ClearLastMessage", mock.Anything, conversationID).Return(nil)
	mirror.On("Append", mock.Anything, conversationID, domain.EventConversationCleared, mock.Anything).Return(nil)

	err := service.ClearConversation(context.Background(), userID, conversationID)
	assert.NoError(t, err)
	assert.Contains(t, broadcaster.events, domain.EventConversationCleared)
}
