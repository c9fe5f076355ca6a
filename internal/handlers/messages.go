package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	grpcclient "dm-service/internal/grpc"
	"dm-service/internal/models"
	"dm-service/internal/service"
	"dm-service/internal/telemetry"
)

// MessageHandler exposes the message endpoints.
type MessageHandler struct {
	svc      *service.Messaging
	profiles grpcclient.ProfileResolver
	audit    *telemetry.AuditEmitter
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(svc *service.Messaging, profiles grpcclient.ProfileResolver, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{svc: svc, profiles: profiles, audit: audit}
}

type messageResponse struct {
	models.Message
	SenderDisplayName string `json:"sender_display_name,omitempty"`
}

// GetMessages returns the conversation history in total order. Optional
// after_id and limit query params page through the log.
func (h *MessageHandler) GetMessages(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}
	afterID, _ := strconv.Atoi(c.Query("after_id"))
	limit, _ := strconv.Atoi(c.Query("limit"))

	userID := c.GetInt("userID")
	msgs, err := h.svc.ListMessages(c.Request.Context(), conversationID, userID, afterID, limit)
	if err != nil {
		respondError(c, err)
		return
	}

	senderIDs := make([]int, 0, 2)
	senderIDSet := map[int]struct{}{}
	for _, m := range msgs {
		if _, seen := senderIDSet[m.SenderID]; !seen {
			senderIDSet[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	profiles, err := h.profiles.BulkProfiles(c.Request.Context(), senderIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load sender profiles"})
		return
	}
	senderNames := map[int]string{}
	for _, p := range profiles {
		senderNames[int(p.GetId())] = p.GetDisplayName()
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		resp = append(resp, messageResponse{Message: m, SenderDisplayName: senderNames[m.SenderID]})
	}

	c.JSON(http.StatusOK, gin.H{"messages": resp})
}

// PostMessage appends a message to the conversation and returns it with the
// sender's resolved display data.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	msg, err := h.svc.SendMessage(c.Request.Context(), conversationID, userID, req.Content)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := messageResponse{Message: msg}
	if profile, err := h.profiles.GetProfile(c.Request.Context(), userID); err == nil {
		resp.SenderDisplayName = profile.GetDisplayName()
	}

	c.JSON(http.StatusCreated, resp)
}

// DeleteMessage hard-deletes the caller's own message.
func (h *MessageHandler) DeleteMessage(c *gin.Context) {
	conversationID, messageID, ok := parseIDs(c)
	if !ok {
		return
	}
	_ = conversationID // route shape only; the message row carries its conversation

	userID := c.GetInt("userID")
	if err := h.svc.DeleteMessage(c.Request.Context(), messageID, userID); err != nil {
		respondError(c, err)
		return
	}

	h.audit.Emit(c.Request.Context(), "INFO",
		fmt.Sprintf("message %d deleted by sender", messageID),
		requestIDFromContext(c), userIDFromContext(c))

	c.Status(http.StatusNoContent)
}

func parseConversationID(c *gin.Context) (int, bool) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return 0, false
	}
	return conversationID, true
}

func parseIDs(c *gin.Context) (int, int, bool) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return 0, 0, false
	}
	messageID, err := strconv.Atoi(c.Param("message_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message id"})
		return 0, 0, false
	}
	return conversationID, messageID, true
}

func respondError(c *gin.Context, err error) {
	code := service.CodeOf(err)
	message := "internal error"
	var sErr *service.Error
	if errors.As(err, &sErr) && code != service.CodeInternal {
		message = sErr.Message
	}
	c.JSON(statusFor(code), gin.H{"error": message, "code": code})
}

func statusFor(code service.Code) int {
	switch code {
	case service.CodeRateLimited:
		return http.StatusTooManyRequests
	case service.CodeForbidden, service.CodeNotParticipant:
		return http.StatusForbidden
	case service.CodeEmptyContent, service.CodeTooLong, service.CodeInvalidArgument:
		return http.StatusBadRequest
	case service.CodeNotFound:
		return http.StatusNotFound
	case service.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
