package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	grpcclient "dm-service/internal/grpc"
	"dm-service/internal/models"
	"dm-service/internal/observability"
	"dm-service/internal/service"
	"dm-service/internal/telemetry"
)

// ConversationHandler exposes the conversation endpoints.
type ConversationHandler struct {
	svc      *service.Messaging
	profiles grpcclient.ProfileResolver
	audit    *telemetry.AuditEmitter
}

// NewConversationHandler builds a ConversationHandler.
func NewConversationHandler(svc *service.Messaging, profiles grpcclient.ProfileResolver, audit *telemetry.AuditEmitter) *ConversationHandler {
	return &ConversationHandler{svc: svc, profiles: profiles, audit: audit}
}

type peerResponse struct {
	ID          int    `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ListConversations returns the caller's conversations ordered by latest
// activity, with peer display data, last message and unread count.
func (h *ConversationHandler) ListConversations(c *gin.Context) {
	userID := c.GetInt("userID")

	summaries, err := h.svc.ListConversations(c.Request.Context(), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	peerIDs := make([]int, 0, len(summaries))
	for _, s := range summaries {
		peerIDs = append(peerIDs, s.PeerID)
	}

	profiles, err := h.profiles.BulkProfiles(c.Request.Context(), peerIDs)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "failed to load peer profiles"})
		return
	}
	peerByID := map[int]peerResponse{}
	for _, p := range profiles {
		peerByID[int(p.GetId())] = peerResponse{
			ID:          int(p.GetId()),
			DisplayName: p.GetDisplayName(),
			AvatarURL:   p.GetAvatarUrl(),
		}
	}

	type conversationResponse struct {
		ConversationID int             `json:"conversation_id"`
		Peer           peerResponse    `json:"peer"`
		LastMessage    *models.Message `json:"last_message,omitempty"`
		UnreadCount    int             `json:"unread_count"`
		UpdatedAt      time.Time       `json:"updated_at"`
	}

	responses := make([]conversationResponse, 0, len(summaries))
	for _, s := range summaries {
		peer, ok := peerByID[s.PeerID]
		if !ok {
			peer = peerResponse{ID: s.PeerID}
		}
		responses = append(responses, conversationResponse{
			ConversationID: s.ConversationID,
			Peer:           peer,
			LastMessage:    s.LastMessage,
			UnreadCount:    s.UnreadCount,
			UpdatedAt:      s.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"conversations": responses})
}

// StartConversation creates or returns the conversation with the peer.
func (h *ConversationHandler) StartConversation(c *gin.Context) {
	var req struct {
		PeerID int `json:"peer_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetInt("userID")
	if req.PeerID != userID {
		if _, err := h.profiles.GetProfile(c.Request.Context(), req.PeerID); err != nil {
			respondError(c, service.New(service.CodeInvalidArgument, "unknown peer"))
			return
		}
	}

	conv, created, err := h.svc.GetOrCreateConversation(c.Request.Context(), userID, req.PeerID)
	if err != nil {
		if service.CodeOf(err) == service.CodeRateLimited {
			observability.IncCreateRateLimited()
		}
		respondError(c, err)
		return
	}

	if created {
		h.audit.Emit(c.Request.Context(), "INFO",
			fmt.Sprintf("conversation %d created between %d and %d", conv.ID, conv.UserMin, conv.UserMax),
			requestIDFromContext(c), userIDFromContext(c))
	}

	c.JSON(http.StatusOK, gin.H{"conversation_id": conv.ID})
}

// UnreadCount returns the caller's derived unread count for the
// conversation.
func (h *ConversationHandler) UnreadCount(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	count, err := h.svc.UnreadCount(c.Request.Context(), conversationID, userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// MarkRead advances the caller's read cursor for the conversation.
func (h *ConversationHandler) MarkRead(c *gin.Context) {
	conversationID, ok := parseConversationID(c)
	if !ok {
		return
	}

	userID := c.GetInt("userID")
	if err := h.svc.MarkRead(c.Request.Context(), conversationID, userID); err != nil {
		respondError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}
