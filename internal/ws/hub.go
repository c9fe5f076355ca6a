package ws

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"dm-service/internal/models"
	"dm-service/internal/observability"
)

// Hub is the change propagation channel: a per-conversation topic plus a
// per-user inbox topic covering all of that user's conversations. Delivery
// is best-effort; disconnected subscribers catch up from the read path on
// reconnect.
type Hub struct {
	conversationRooms map[int]map[*websocket.Conn]bool
	inboxRooms        map[int]map[*websocket.Conn]bool
	convConnInfo      map[int]map[*websocket.Conn]ConnInfo
	inboxConnInfo     map[int]map[*websocket.Conn]ConnInfo
	mu                sync.RWMutex
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		conversationRooms: make(map[int]map[*websocket.Conn]bool),
		inboxRooms:        make(map[int]map[*websocket.Conn]bool),
		convConnInfo:      make(map[int]map[*websocket.Conn]ConnInfo),
		inboxConnInfo:     make(map[int]map[*websocket.Conn]ConnInfo),
	}
}

// AddConversationClient registers a connection on a conversation topic.
func (h *Hub) AddConversationClient(conversationID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conversationRooms[conversationID]; !ok {
		h.conversationRooms[conversationID] = make(map[*websocket.Conn]bool)
	}
	h.conversationRooms[conversationID][conn] = true
	if _, ok := h.convConnInfo[conversationID]; !ok {
		h.convConnInfo[conversationID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.convConnInfo[conversationID][conn] = info
}

// RemoveConversationClient unregisters a conversation topic connection.
// Disconnects have no side effects on conversation or message data.
func (h *Hub) RemoveConversationClient(conversationID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.conversationRooms[conversationID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.conversationRooms, conversationID)
		}
	}
	if infos, ok := h.convConnInfo[conversationID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.convConnInfo, conversationID)
		}
	}
}

// AddInboxClient registers a connection on a user's inbox topic.
func (h *Hub) AddInboxClient(userID int, conn *websocket.Conn, info ConnInfo) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.inboxRooms[userID]; !ok {
		h.inboxRooms[userID] = make(map[*websocket.Conn]bool)
	}
	h.inboxRooms[userID][conn] = true
	if _, ok := h.inboxConnInfo[userID]; !ok {
		h.inboxConnInfo[userID] = make(map[*websocket.Conn]ConnInfo)
	}
	h.inboxConnInfo[userID][conn] = info
}

// RemoveInboxClient unregisters an inbox topic connection.
func (h *Hub) RemoveInboxClient(userID int, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.inboxRooms[userID]; ok {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.inboxRooms, userID)
		}
	}
	if infos, ok := h.inboxConnInfo[userID]; ok {
		delete(infos, conn)
		if len(infos) == 0 {
			delete(h.inboxConnInfo, userID)
		}
	}
}

// Broadcast delivers the event to the conversation topic and to every
// participant's inbox topic. A connection subscribed to both sees the event
// once.
func (h *Hub) Broadcast(conversationID int, participantIDs []int, event models.Event) {
	h.mu.RLock()
	targets := make(map[*websocket.Conn]bool, len(h.conversationRooms[conversationID]))
	for conn := range h.conversationRooms[conversationID] {
		targets[conn] = true
	}
	inboxConns := make(map[*websocket.Conn]int)
	for _, userID := range participantIDs {
		for conn := range h.inboxRooms[userID] {
			if !targets[conn] {
				targets[conn] = true
				inboxConns[conn] = userID
			}
		}
	}
	h.mu.RUnlock()

	payload, _ := json.Marshal(event)
	for conn := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			log.Printf("websocket write error: %v", err)
			conn.Close()
			if userID, ok := inboxConns[conn]; ok {
				h.RemoveInboxClient(userID, conn)
				h.publishWSError("inbox", userID, conn, err)
			} else {
				h.RemoveConversationClient(conversationID, conn)
				h.publishWSError("conversation", conversationID, conn, err)
			}
		}
	}
}

func (h *Hub) publishWSError(kind string, resourceID int, conn *websocket.Conn, err error) {
	info, ok := h.getConnInfo(kind, resourceID, conn)
	if !ok {
		return
	}

	payload := map[string]interface{}{
		"ws": map[string]interface{}{
			"kind":        kind,
			"resource_id": resourceID,
			"event":       "ws_error",
			"conn_id":     info.ConnID,
			"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
			"reason":      err.Error(),
		},
		"identity": map[string]interface{}{
			"user_id":   info.UserID,
			"device_id": info.DeviceID,
			"ip":        info.IP,
		},
	}

	headers := observability.BuildHeaders(info.RequestID, info.TraceID)
	_ = observability.PublishEvent(context.Background(), wsRoutingKey(kind),
		observability.NewEnvelope("ws_events", "ws_error", payload), headers)
	observability.IncWSEvent(kind, "ws_error")
}

func (h *Hub) getConnInfo(kind string, resourceID int, conn *websocket.Conn) (ConnInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if kind == "conversation" {
		if infos, ok := h.convConnInfo[resourceID]; ok {
			info, exists := infos[conn]
			return info, exists
		}
		return ConnInfo{}, false
	}
	if infos, ok := h.inboxConnInfo[resourceID]; ok {
		info, exists := infos[conn]
		return info, exists
	}
	return ConnInfo{}, false
}

func wsRoutingKey(kind string) string {
	if kind == "inbox" {
		return "ws_events.inbox"
	}
	return "ws_events.conversations"
}
