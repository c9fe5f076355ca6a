package ws

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	grpcclient "dm-service/internal/grpc"
	"dm-service/internal/observability"
	"dm-service/internal/repositories"
)

// StreamHandler upgrades subscribe requests into long-lived event streams.
type StreamHandler struct {
	hub           *Hub
	conversations repositories.ConversationRepository
	identity      grpcclient.TokenValidator
}

// NewStreamHandler constructs a StreamHandler.
func NewStreamHandler(hub *Hub, conversations repositories.ConversationRepository, identity grpcclient.TokenValidator) *StreamHandler {
	return &StreamHandler{hub: hub, conversations: conversations, identity: identity}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleConversation subscribes the caller to one conversation's events.
func (h *StreamHandler) HandleConversation(c *gin.Context) {
	conversationID, err := strconv.Atoi(c.Param("conversation_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conversation id"})
		return
	}

	ctx, span := observability.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.conversations.IsParticipant(c.Request.Context(), conversationID, userID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a conversation participant"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := h.connInfo(c, span.SpanContext().TraceID().String(), userID)
	h.hub.AddConversationClient(conversationID, conn, info)

	observability.IncWSActive("conversation")
	observability.IncWSEvent("conversation", "ws_connect")
	publishLifecycle(ctx, "conversation", conversationID, info, "ws_connect", "")

	go h.readLoop(ctx, "conversation", conversationID, conn, info, func() {
		h.hub.RemoveConversationClient(conversationID, conn)
	})
}

// HandleInbox subscribes the caller to events from any of their
// conversations.
func (h *StreamHandler) HandleInbox(c *gin.Context) {
	ctx, span := observability.Tracer("dm-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	userID, err := h.authenticate(c)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := h.connInfo(c, span.SpanContext().TraceID().String(), userID)
	h.hub.AddInboxClient(userID, conn, info)

	observability.IncWSActive("inbox")
	observability.IncWSEvent("inbox", "ws_connect")
	publishLifecycle(ctx, "inbox", userID, info, "ws_connect", "")

	go h.readLoop(ctx, "inbox", userID, conn, info, func() {
		h.hub.RemoveInboxClient(userID, conn)
	})
}

// readLoop blocks on the connection until the client goes away, then
// unregisters it. Clients never send application data on the stream; the
// read only observes liveness.
func (h *StreamHandler) readLoop(ctx context.Context, kind string, resourceID int, conn *websocket.Conn, info ConnInfo, unregister func()) {
	var closeReason string
	defer func() {
		unregister()
		observability.DecWSActive(kind)
		observability.IncWSEvent(kind, "ws_disconnect")
		publishLifecycle(ctx, kind, resourceID, info, "ws_disconnect", closeReason)
		conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				observability.IncWSEvent(kind, "ws_error")
				publishLifecycle(ctx, kind, resourceID, info, "ws_error", closeReason)
			}
			return
		}
	}
}

func (h *StreamHandler) authenticate(c *gin.Context) (int, error) {
	token := c.GetHeader("Authorization")
	if token == "" {
		token = c.Query("token")
		if token != "" {
			token = "Bearer " + token
		}
	}
	parts := strings.Split(token, " ")
	if len(parts) == 2 {
		return h.identity.ValidateToken(c.Request.Context(), parts[1])
	}
	return 0, fmt.Errorf("invalid token")
}

func (h *StreamHandler) connInfo(c *gin.Context, traceID string, userID int) ConnInfo {
	return ConnInfo{
		ConnID:      newConnID(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request),
		TraceID:     traceID,
		ConnectedAt: time.Now(),
	}
}

func publishLifecycle(ctx context.Context, kind string, resourceID int, info ConnInfo, event, reason string) {
	var durationMs int64
	if event != "ws_connect" {
		durationMs = time.Since(info.ConnectedAt).Milliseconds()
	}
	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       event,
			"conn_id":     info.ConnID,
			"duration_ms": durationMs,
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}
	_ = observability.PublishEvent(ctx, wsRoutingKey(kind),
		observability.NewEnvelope("ws_events", event, payload),
		observability.BuildHeaders(info.RequestID, info.TraceID))
}
