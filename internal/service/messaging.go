package service

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"dm-service/internal/models"
	"dm-service/internal/repositories"
)

// MaxMessageLen is the message content ceiling in characters after trimming.
const MaxMessageLen = 2000

// NewMessageRoutingKey is the routing key for fire-and-forget notification
// events emitted after a successful send.
const NewMessageRoutingKey = "dm.new_message"

// Broadcaster delivers an event to live subscribers of a conversation and of
// the participants' inbox streams.
type Broadcaster interface {
	Broadcast(conversationID int, participantIDs []int, event models.Event)
}

// EventSink publishes fire-and-forget events for external consumers.
type EventSink interface {
	Publish(ctx context.Context, routingKey string, event any) error
}

// Messaging is the direct-messaging core: conversation establishment,
// message exchange, read-state tracking and change propagation.
type Messaging struct {
	conversations repositories.ConversationRepository
	messages      repositories.MessageRepository
	readState     repositories.ReadStateRepository
	rateLimit     repositories.RateLimitRepository
	hub           Broadcaster
	events        EventSink

	createWindow time.Duration
	createMax    int
	queryTimeout time.Duration

	now func() time.Time
}

// NewMessaging wires the messaging core.
func NewMessaging(
	conversations repositories.ConversationRepository,
	messages repositories.MessageRepository,
	readState repositories.ReadStateRepository,
	rateLimit repositories.RateLimitRepository,
	hub Broadcaster,
	events EventSink,
	createWindow time.Duration,
	createMax int,
	queryTimeout time.Duration,
) *Messaging {
	return &Messaging{
		conversations: conversations,
		messages:      messages,
		readState:     readState,
		rateLimit:     rateLimit,
		hub:           hub,
		events:        events,
		createWindow:  createWindow,
		createMax:     createMax,
		queryTimeout:  queryTimeout,
		now:           time.Now,
	}
}

// GetOrCreateConversation returns the conversation between the caller and
// the peer, creating it when absent. The creation window limiter runs first;
// one rate-limit entry is logged per call that passes the check, lookups
// included.
func (s *Messaging) GetOrCreateConversation(ctx context.Context, userID int, peerID int) (models.Conversation, bool, error) {
	if userID == peerID {
		return models.Conversation{}, false, New(CodeInvalidArgument, "cannot start a conversation with yourself")
	}
	if peerID <= 0 {
		return models.Conversation{}, false, New(CodeInvalidArgument, "invalid peer id")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	windowStart := s.now().Add(-s.createWindow)
	count, err := s.rateLimit.CountSince(ctx, userID, windowStart)
	if err != nil {
		return models.Conversation{}, false, s.storeErr("count rate limit entries", err)
	}
	if count >= s.createMax {
		return models.Conversation{}, false, New(CodeRateLimited, "too many new conversations, try again later")
	}

	conv, created, err := s.conversations.GetOrCreate(ctx, userID, peerID)
	if err != nil {
		return models.Conversation{}, false, s.storeErr("get or create conversation", err)
	}

	if err := s.rateLimit.Log(ctx, userID); err != nil {
		log.Printf("rate limit log failed: %v", err)
	}
	if err := s.rateLimit.PruneBefore(ctx, windowStart); err != nil {
		log.Printf("rate limit prune failed: %v", err)
	}

	return conv, created, nil
}

// ListConversations builds the list-view model: every conversation of the
// user ordered by latest activity, with peer, last message and unread count.
func (s *Messaging) ListConversations(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	summaries, err := s.conversations.ListSummaries(ctx, userID)
	if err != nil {
		return nil, s.storeErr("list conversations", err)
	}
	return summaries, nil
}

// ListMessages returns the conversation history in (created_at, id) order.
// afterID and limit page through the log without breaking total order.
func (s *Messaging) ListMessages(ctx context.Context, conversationID int, requesterID int, afterID int, limit int) ([]models.Message, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	member, err := s.conversations.IsParticipant(ctx, conversationID, requesterID)
	if err != nil {
		return nil, s.storeErr("verify membership", err)
	}
	if !member {
		return nil, New(CodeForbidden, "not a conversation participant")
	}

	msgs, err := s.messages.List(ctx, conversationID, afterID, limit)
	if err != nil {
		return nil, s.storeErr("list messages", err)
	}
	return msgs, nil
}

// SendMessage validates and appends a message, then propagates the insert to
// live subscribers and emits the notification event.
func (s *Messaging) SendMessage(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return models.Message{}, New(CodeEmptyContent, "message content is empty")
	}
	if utf8.RuneCountInString(content) > MaxMessageLen {
		return models.Message{}, New(CodeTooLong, "message content exceeds 2000 characters")
	}

	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return models.Message{}, New(CodeNotFound, "conversation not found")
		}
		return models.Message{}, s.storeErr("load conversation", err)
	}
	if !conv.HasParticipant(senderID) {
		return models.Message{}, New(CodeNotParticipant, "sender is not a conversation participant")
	}

	msg, err := s.messages.Append(ctx, conversationID, senderID, content)
	if err != nil {
		return models.Message{}, s.storeErr("append message", err)
	}

	s.hub.Broadcast(conversationID, []int{conv.UserMin, conv.UserMax}, models.Event{
		Type:           models.EventMessageInserted,
		ConversationID: conversationID,
		Message:        &msg,
	})
	s.emitNewMessage(ctx, conv, msg)

	return msg, nil
}

// DeleteMessage hard-deletes a message; only its sender may do so. Remaining
// ordering and unread counts recompute naturally from the surviving rows.
func (s *Messaging) DeleteMessage(ctx context.Context, messageID int, requesterID int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	msg, err := s.messages.Get(ctx, messageID)
	if err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return New(CodeNotFound, "message not found")
		}
		return s.storeErr("load message", err)
	}
	if msg.SenderID != requesterID {
		return New(CodeForbidden, "only the sender can delete a message")
	}

	conv, err := s.conversations.Get(ctx, msg.ConversationID)
	if err != nil {
		return s.storeErr("load conversation", err)
	}

	if err := s.messages.Delete(ctx, messageID, requesterID); err != nil {
		if errors.Is(err, repositories.ErrMessageNotFound) {
			return New(CodeNotFound, "message not found")
		}
		return s.storeErr("delete message", err)
	}

	s.hub.Broadcast(msg.ConversationID, []int{conv.UserMin, conv.UserMax}, models.Event{
		Type:           models.EventMessageDeleted,
		ConversationID: msg.ConversationID,
		MessageID:      messageID,
	})
	return nil
}

// MarkRead advances the caller's read cursor to now. Idempotent and always
// safe to call. The conversation is loaded before the cursor write so a
// failed load leaves the cursor untouched.
func (s *Messaging) MarkRead(ctx context.Context, conversationID int, userID int) error {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	conv, err := s.conversations.Get(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repositories.ErrConversationNotFound) {
			return New(CodeNotFound, "conversation not found")
		}
		return s.storeErr("load conversation", err)
	}

	if _, err := s.readState.MarkRead(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repositories.ErrNotParticipant) {
			return New(CodeForbidden, "not a conversation participant")
		}
		return s.storeErr("mark read", err)
	}

	s.hub.Broadcast(conversationID, []int{conv.UserMin, conv.UserMax}, models.Event{
		Type:           models.EventReadStateAdvanced,
		ConversationID: conversationID,
		UserID:         userID,
	})
	return nil
}

// UnreadCount derives the caller's unread count for one conversation.
func (s *Messaging) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	ctx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.readState.GetParticipant(ctx, conversationID, userID); err != nil {
		if errors.Is(err, repositories.ErrNotParticipant) {
			return 0, New(CodeForbidden, "not a conversation participant")
		}
		return 0, s.storeErr("load participant", err)
	}

	count, err := s.readState.UnreadCount(ctx, conversationID, userID)
	if err != nil {
		return 0, s.storeErr("unread count", err)
	}
	return count, nil
}

func (s *Messaging) emitNewMessage(ctx context.Context, conv models.Conversation, msg models.Message) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"conversation_id": conv.ID,
		"sender_id":       msg.SenderID,
		"recipient_id":    conv.PeerID(msg.SenderID),
	}
	if err := s.events.Publish(ctx, NewMessageRoutingKey, payload); err != nil {
		log.Printf("new message event publish failed: %v", err)
	}
}

func (s *Messaging) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

func (s *Messaging) storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(CodeStoreUnavailable, "store timed out", err)
	}
	return Wrap(CodeInternal, op+" failed", err)
}
