package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dm-service/internal/models"
	identitypb "dm-service/pb/identity"
)

type ConversationRepositoryMock struct {
	mock.Mock
}

func (m *ConversationRepositoryMock) GetOrCreate(ctx context.Context, userID int, peerID int) (models.Conversation, bool, error) {
	args := m.Called(ctx, userID, peerID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Bool(1), args.Error(2)
}

func (m *ConversationRepositoryMock) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	args := m.Called(ctx, conversationID)
	var conv models.Conversation
	if val := args.Get(0); val != nil {
		conv = val.(models.Conversation)
	}
	return conv, args.Error(1)
}

func (m *ConversationRepositoryMock) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ConversationRepositoryMock) ListSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	args := m.Called(ctx, userID)
	var list []models.ConversationSummary
	if val := args.Get(0); val != nil {
		list = val.([]models.ConversationSummary)
	}
	return list, args.Error(1)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) Append(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, conversationID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) List(ctx context.Context, conversationID int, afterID int, limit int) ([]models.Message, error) {
	args := m.Called(ctx, conversationID, afterID, limit)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

func (m *MessageRepositoryMock) Get(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) Delete(ctx context.Context, messageID int, senderID int) error {
	args := m.Called(ctx, messageID, senderID)
	return args.Error(0)
}

type ReadStateRepositoryMock struct {
	mock.Mock
}

func (m *ReadStateRepositoryMock) MarkRead(ctx context.Context, conversationID int, userID int) (time.Time, error) {
	args := m.Called(ctx, conversationID, userID)
	var readAt time.Time
	if val := args.Get(0); val != nil {
		readAt = val.(time.Time)
	}
	return readAt, args.Error(1)
}

func (m *ReadStateRepositoryMock) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	args := m.Called(ctx, conversationID, userID)
	return args.Int(0), args.Error(1)
}

func (m *ReadStateRepositoryMock) GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error) {
	args := m.Called(ctx, conversationID, userID)
	var p models.Participant
	if val := args.Get(0); val != nil {
		p = val.(models.Participant)
	}
	return p, args.Error(1)
}

type RateLimitRepositoryMock struct {
	mock.Mock
}

func (m *RateLimitRepositoryMock) CountSince(ctx context.Context, userID int, since time.Time) (int, error) {
	args := m.Called(ctx, userID, since)
	return args.Int(0), args.Error(1)
}

func (m *RateLimitRepositoryMock) Log(ctx context.Context, userID int) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *RateLimitRepositoryMock) PruneBefore(ctx context.Context, cutoff time.Time) error {
	args := m.Called(ctx, cutoff)
	return args.Error(0)
}

type IdentityClientMock struct {
	mock.Mock
}

func (m *IdentityClientMock) ValidateToken(ctx context.Context, token string) (int, error) {
	args := m.Called(ctx, token)
	return args.Int(0), args.Error(1)
}

func (m *IdentityClientMock) GetProfile(ctx context.Context, userID int) (*identitypb.Profile, error) {
	args := m.Called(ctx, userID)
	var profile *identitypb.Profile
	if val := args.Get(0); val != nil {
		profile = val.(*identitypb.Profile)
	}
	return profile, args.Error(1)
}

func (m *IdentityClientMock) BulkProfiles(ctx context.Context, ids []int) ([]*identitypb.Profile, error) {
	args := m.Called(ctx, ids)
	var profiles []*identitypb.Profile
	if val := args.Get(0); val != nil {
		profiles = val.([]*identitypb.Profile)
	}
	return profiles, args.Error(1)
}

type BroadcasterMock struct {
	mock.Mock
}

func (m *BroadcasterMock) Broadcast(conversationID int, participantIDs []int, event models.Event) {
	m.Called(conversationID, participantIDs, event)
}

type PublisherMock struct {
	mock.Mock
}

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, event any) error {
	args := m.Called(ctx, routingKey, event)
	return args.Error(0)
}

func (m *PublisherMock) Close() error {
	args := m.Called()
	return args.Error(0)
}
