package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/realtime"
)

// PresenceHandler exposes the tracker's read view.
type PresenceHandler struct {
	presence *realtime.PresenceTracker
}

// NewPresenceHandler builds a PresenceHandler.
func NewPresenceHandler(presence *realtime.PresenceTracker) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GetPresence returns a user's current derived status.
func (h *PresenceHandler) GetPresence(c *gin.Context) {
	userID, ok := pathID(c, "user_id", "user id")
	if !ok {
		return
	}

	state := h.presence.StateOf(userID)
	resp := gin.H{"user_id": userID, "status": string(state.Status)}
	if !state.LastSeen.IsZero() {
		resp["last_seen"] = state.LastSeen
	}
	c.JSON(http.StatusOK, resp)
}
