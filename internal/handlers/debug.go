package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/realtime"
)

// DebugHandler exposes process vitals for local troubleshooting.
type DebugHandler struct {
	registry *realtime.ConnectionRegistry
}

// NewDebugHandler builds a DebugHandler.
func NewDebugHandler(registry *realtime.ConnectionRegistry) *DebugHandler {
	return &DebugHandler{registry: registry}
}

// Vitals reports live connection counts.
func (h *DebugHandler) Vitals(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"active_connections": h.registry.ActiveConnections(),
		"active_users":       h.registry.ActiveUsers(),
	})
}
