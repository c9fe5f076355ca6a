package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/mocks"
	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

type fixture struct {
	conversations *mocks.ConversationRepositoryMock
	messages      *mocks.MessageRepositoryMock
	readState     *mocks.ReadStateRepositoryMock
	rateLimit     *mocks.RateLimitRepositoryMock
	hub           *mocks.BroadcasterMock
	events        *mocks.PublisherMock
	svc           *Messaging
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		conversations: new(mocks.ConversationRepositoryMock),
		messages:      new(mocks.MessageRepositoryMock),
		readState:     new(mocks.ReadStateRepositoryMock),
		rateLimit:     new(mocks.RateLimitRepositoryMock),
		hub:           new(mocks.BroadcasterMock),
		events:        new(mocks.PublisherMock),
	}
	f.svc = NewMessaging(
		f.conversations, f.messages, f.readState, f.rateLimit,
		f.hub, f.events,
		time.Hour, 10, 0,
	)
	return f
}

func (f *fixture) assertExpectations(t *testing.T) {
	f.conversations.AssertExpectations(t)
	f.messages.AssertExpectations(t)
	f.readState.AssertExpectations(t)
	f.rateLimit.AssertExpectations(t)
	f.hub.AssertExpectations(t)
	f.events.AssertExpectations(t)
}

func TestGetOrCreateConversationSelf(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.GetOrCreateConversation(context.Background(), 1, 1)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidArgument, CodeOf(err))
	f.assertExpectations(t)
}

func TestGetOrCreateConversationUnderLimit(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.svc.now = func() time.Time { return now }

	conv := models.Conversation{ID: 7, UserMin: 1, UserMax: 2}
	f.rateLimit.On("CountSince", mock.Anything, 1, now.Add(-time.Hour)).Return(9, nil).Once()
	f.conversations.On("GetOrCreate", mock.Anything, 1, 2).Return(conv, true, nil).Once()
	f.rateLimit.On("Log", mock.Anything, 1).Return(nil).Once()
	f.rateLimit.On("PruneBefore", mock.Anything, now.Add(-time.Hour)).Return(nil).Once()

	got, created, err := f.svc.GetOrCreateConversation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, conv, got)
	f.assertExpectations(t)
}

func TestGetOrCreateConversationRateLimited(t *testing.T) {
	f := newFixture(t)

	f.rateLimit.On("CountSince", mock.Anything, 1, mock.Anything).Return(10, nil).Once()

	_, _, err := f.svc.GetOrCreateConversation(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, CodeRateLimited, CodeOf(err))
	// the create branch and the attempt log must not run when denied
	f.conversations.AssertNotCalled(t, "GetOrCreate", mock.Anything, mock.Anything, mock.Anything)
	f.rateLimit.AssertNotCalled(t, "Log", mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestGetOrCreateConversationRaceLoserSucceeds(t *testing.T) {
	f := newFixture(t)

	conv := models.Conversation{ID: 3, UserMin: 1, UserMax: 2}
	f.rateLimit.On("CountSince", mock.Anything, 1, mock.Anything).Return(0, nil).Once()
	f.conversations.On("GetOrCreate", mock.Anything, 1, 2).Return(conv, false, nil).Once()
	f.rateLimit.On("Log", mock.Anything, 1).Return(nil).Once()
	f.rateLimit.On("PruneBefore", mock.Anything, mock.Anything).Return(nil).Once()

	got, created, err := f.svc.GetOrCreateConversation(context.Background(), 1, 2)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, 3, got.ID)
	f.assertExpectations(t)
}

func TestSendMessageEmptyContent(t *testing.T) {
	f := newFixture(t)

	for _, content := range []string{"", "   ", "\n\t "} {
		_, err := f.svc.SendMessage(context.Background(), 5, 1, content)
		require.Error(t, err)
		assert.Equal(t, CodeEmptyContent, CodeOf(err))
	}
	f.assertExpectations(t)
}

func TestSendMessageLengthBoundary(t *testing.T) {
	f := newFixture(t)
	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}

	atLimit := strings.Repeat("a", MaxMessageLen)
	f.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	f.messages.On("Append", mock.Anything, 5, 1, atLimit).
		Return(models.Message{ID: 1, ConversationID: 5, SenderID: 1, Content: atLimit}, nil).Once()
	f.hub.On("Broadcast", 5, []int{1, 2}, mock.Anything).Once()
	f.events.On("Publish", mock.Anything, NewMessageRoutingKey, mock.Anything).Return(nil).Once()

	_, err := f.svc.SendMessage(context.Background(), 5, 1, atLimit)
	require.NoError(t, err)

	_, err = f.svc.SendMessage(context.Background(), 5, 1, strings.Repeat("a", MaxMessageLen+1))
	require.Error(t, err)
	assert.Equal(t, CodeTooLong, CodeOf(err))
	f.assertExpectations(t)
}

func TestSendMessageNotParticipant(t *testing.T) {
	f := newFixture(t)
	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}

	f.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()

	_, err := f.svc.SendMessage(context.Background(), 5, 9, "hello")
	require.Error(t, err)
	assert.Equal(t, CodeNotParticipant, CodeOf(err))
	f.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestSendMessageBroadcastsAndNotifies(t *testing.T) {
	f := newFixture(t)
	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}
	msg := models.Message{ID: 11, ConversationID: 5, SenderID: 1, Content: "hi"}

	f.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	f.messages.On("Append", mock.Anything, 5, 1, "hi").Return(msg, nil).Once()
	f.hub.On("Broadcast", 5, []int{1, 2}, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventMessageInserted && e.Message != nil && e.Message.ID == 11
	})).Once()
	f.events.On("Publish", mock.Anything, NewMessageRoutingKey, mock.MatchedBy(func(payload any) bool {
		m, ok := payload.(map[string]any)
		return ok && m["sender_id"] == 1 && m["recipient_id"] == 2
	})).Return(nil).Once()

	got, err := f.svc.SendMessage(context.Background(), 5, 1, "  hi  ")
	require.NoError(t, err)
	assert.Equal(t, 11, got.ID)
	f.assertExpectations(t)
}

func TestDeleteMessageForbidden(t *testing.T) {
	f := newFixture(t)
	msg := models.Message{ID: 11, ConversationID: 5, SenderID: 2}

	f.messages.On("Get", mock.Anything, 11).Return(msg, nil).Once()

	err := f.svc.DeleteMessage(context.Background(), 11, 1)
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, CodeOf(err))
	f.messages.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestDeleteMessageBroadcasts(t *testing.T) {
	f := newFixture(t)
	msg := models.Message{ID: 11, ConversationID: 5, SenderID: 1}
	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}

	f.messages.On("Get", mock.Anything, 11).Return(msg, nil).Once()
	f.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	f.messages.On("Delete", mock.Anything, 11, 1).Return(nil).Once()
	f.hub.On("Broadcast", 5, []int{1, 2}, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventMessageDeleted && e.MessageID == 11
	})).Once()

	require.NoError(t, f.svc.DeleteMessage(context.Background(), 11, 1))
	f.assertExpectations(t)
}

func TestMarkReadNotParticipant(t *testing.T) {
	f := newFixture(t)
	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}

	f.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	f.readState.On("MarkRead", mock.Anything, 5, 9).
		Return(time.Time{}, repositories.ErrNotParticipant).Once()

	err := f.svc.MarkRead(context.Background(), 5, 9)
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, CodeOf(err))
	f.assertExpectations(t)
}

func TestMarkReadLoadFailureKeepsCursor(t *testing.T) {
	f := newFixture(t)

	f.conversations.On("Get", mock.Anything, 5).
		Return(models.Conversation{}, assert.AnError).Once()

	err := f.svc.MarkRead(context.Background(), 5, 2)
	require.Error(t, err)
	// the cursor write must not happen when the conversation load fails
	f.readState.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
	f.hub.AssertNotCalled(t, "Broadcast", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestMarkReadConversationGone(t *testing.T) {
	f := newFixture(t)

	f.conversations.On("Get", mock.Anything, 5).
		Return(models.Conversation{}, repositories.ErrConversationNotFound).Once()

	err := f.svc.MarkRead(context.Background(), 5, 2)
	require.Error(t, err)
	assert.Equal(t, CodeNotFound, CodeOf(err))
	f.readState.AssertNotCalled(t, "MarkRead", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestMarkReadBroadcasts(t *testing.T) {
	f := newFixture(t)
	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}

	f.readState.On("MarkRead", mock.Anything, 5, 2).Return(time.Now(), nil).Once()
	f.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	f.hub.On("Broadcast", 5, []int{1, 2}, mock.MatchedBy(func(e models.Event) bool {
		return e.Type == models.EventReadStateAdvanced && e.UserID == 2
	})).Once()

	require.NoError(t, f.svc.MarkRead(context.Background(), 5, 2))
	f.assertExpectations(t)
}

func TestUnreadCount(t *testing.T) {
	f := newFixture(t)

	f.readState.On("GetParticipant", mock.Anything, 5, 2).
		Return(models.Participant{ConversationID: 5, UserID: 2}, nil).Once()
	f.readState.On("UnreadCount", mock.Anything, 5, 2).Return(3, nil).Once()

	count, err := f.svc.UnreadCount(context.Background(), 5, 2)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	f.assertExpectations(t)
}

func TestUnreadCountNotParticipant(t *testing.T) {
	f := newFixture(t)

	f.readState.On("GetParticipant", mock.Anything, 5, 9).
		Return(models.Participant{}, repositories.ErrNotParticipant).Once()

	_, err := f.svc.UnreadCount(context.Background(), 5, 9)
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, CodeOf(err))
	f.readState.AssertNotCalled(t, "UnreadCount", mock.Anything, mock.Anything, mock.Anything)
	f.assertExpectations(t)
}

func TestListMessagesForbidden(t *testing.T) {
	f := newFixture(t)

	f.conversations.On("IsParticipant", mock.Anything, 5, 9).Return(false, nil).Once()

	_, err := f.svc.ListMessages(context.Background(), 5, 9, 0, 0)
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, CodeOf(err))
	f.assertExpectations(t)
}

func TestStoreTimeoutSurfacesTransientError(t *testing.T) {
	f := newFixture(t)

	f.rateLimit.On("CountSince", mock.Anything, 1, mock.Anything).
		Return(0, context.DeadlineExceeded).Once()

	_, _, err := f.svc.GetOrCreateConversation(context.Background(), 1, 2)
	require.Error(t, err)
	assert.Equal(t, CodeStoreUnavailable, CodeOf(err))
	f.assertExpectations(t)
}
