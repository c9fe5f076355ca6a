package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dm-service/internal/models"
	identitypb "dm-service/pb/identity"
)

func setupMessageRouter(handler *MessageHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.GET("/conversations/:conversation_id/messages", handler.GetMessages)
	r.POST("/conversations/:conversation_id/messages", handler.PostMessage)
	r.DELETE("/conversations/:conversation_id/messages/:message_id", handler.DeleteMessage)
	return r
}

func TestGetMessagesSuccess(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	msgs := []models.Message{
		{ID: 1, ConversationID: 5, SenderID: 1, Content: "hey"},
		{ID: 2, ConversationID: 5, SenderID: 2, Content: "hi back"},
	}
	d.conversations.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	d.messages.On("List", mock.Anything, 5, 0, 0).Return(msgs, nil).Once()
	d.identity.On("BulkProfiles", mock.Anything, []int{1, 2}).
		Return([]*identitypb.Profile{{Id: 1, DisplayName: "alice"}, {Id: 2, DisplayName: "bob"}}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Messages []struct {
			ID                int    `json:"id"`
			Content           string `json:"content"`
			SenderDisplayName string `json:"sender_display_name"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Messages, 2)
	require.Equal(t, "alice", resp.Messages[0].SenderDisplayName)
	require.Equal(t, "bob", resp.Messages[1].SenderDisplayName)

	d.conversations.AssertExpectations(t)
	d.messages.AssertExpectations(t)
	d.identity.AssertExpectations(t)
}

func TestGetMessagesPagination(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	d.conversations.On("IsParticipant", mock.Anything, 5, 1).Return(true, nil).Once()
	d.messages.On("List", mock.Anything, 5, 40, 25).Return([]models.Message{}, nil).Once()
	d.identity.On("BulkProfiles", mock.Anything, []int{}).
		Return([]*identitypb.Profile{}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages?after_id=40&limit=25", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	d.messages.AssertExpectations(t)
}

func TestGetMessagesForbidden(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	d.conversations.On("IsParticipant", mock.Anything, 5, 1).Return(false, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/conversations/5/messages", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	d.messages.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageSuccess(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	conv := models.Conversation{ID: 5, UserMin: 1, UserMax: 2}
	msg := models.Message{ID: 11, ConversationID: 5, SenderID: 1, Content: "hello"}
	d.conversations.On("Get", mock.Anything, 5).Return(conv, nil).Once()
	d.messages.On("Append", mock.Anything, 5, 1, "hello").Return(msg, nil).Once()
	d.hub.On("Broadcast", 5, []int{1, 2}, mock.Anything).Once()
	d.identity.On("GetProfile", mock.Anything, 1).
		Return(&identitypb.Profile{Id: 1, DisplayName: "alice"}, nil).Once()

	body := bytes.NewBufferString(`{"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	var resp messageResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, 11, resp.ID)
	require.Equal(t, "alice", resp.SenderDisplayName)

	d.messages.AssertExpectations(t)
	d.hub.AssertExpectations(t)
}

func TestPostMessageWhitespaceContent(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	body := bytes.NewBufferString(`{"content":"   "}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "EMPTY_CONTENT", resp["code"])
	d.messages.AssertNotCalled(t, "Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPostMessageTooLong(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	payload, err := json.Marshal(gin.H{"content": strings.Repeat("x", 2001)})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "TOO_LONG", resp["code"])
}

func TestPostMessageNotParticipant(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	d.conversations.On("Get", mock.Anything, 5).
		Return(models.Conversation{ID: 5, UserMin: 2, UserMax: 3}, nil).Once()

	body := bytes.NewBufferString(`{"content":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/conversations/5/messages", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	var resp map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Equal(t, "NOT_PARTICIPANT", resp["code"])
}

func TestDeleteMessageSuccess(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	msg := models.Message{ID: 11, ConversationID: 5, SenderID: 1}
	d.messages.On("Get", mock.Anything, 11).Return(msg, nil).Once()
	d.conversations.On("Get", mock.Anything, 5).
		Return(models.Conversation{ID: 5, UserMin: 1, UserMax: 2}, nil).Once()
	d.messages.On("Delete", mock.Anything, 11, 1).Return(nil).Once()
	d.hub.On("Broadcast", 5, []int{1, 2}, mock.Anything).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/11", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	d.messages.AssertExpectations(t)
	d.hub.AssertExpectations(t)
}

func TestDeleteMessageNotSender(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	d.messages.On("Get", mock.Anything, 11).
		Return(models.Message{ID: 11, ConversationID: 5, SenderID: 2}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/11", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	d.messages.AssertNotCalled(t, "Delete", mock.Anything, mock.Anything, mock.Anything)
}

func TestDeleteMessageBadID(t *testing.T) {
	d := newHandlerDeps()
	handler := NewMessageHandler(d.svc, d.identity, nil)
	router := setupMessageRouter(handler)

	req := httptest.NewRequest(http.MethodDelete, "/conversations/5/messages/abc", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
