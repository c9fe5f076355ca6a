package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dm-service/internal/telemetry"
)

// DebugHandler exposes endpoints that only exist when debug mode is on.
type DebugHandler struct {
	audit *telemetry.AuditEmitter
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, audit *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}
	h := &DebugHandler{audit: audit}
	router.GET("/debug/audit-test", h.AuditTest)
}

// AuditTest emits a test audit envelope so the publish pipeline can be
// verified end to end.
func (h *DebugHandler) AuditTest(c *gin.Context) {
	if h.audit == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
		return
	}

	text := c.DefaultQuery("text", "audit test")
	h.audit.Emit(c.Request.Context(), "INFO", text, requestIDFromContext(c), userIDFromContext(c))
	c.JSON(http.StatusOK, gin.H{"status": "ok", "text": text})
}
