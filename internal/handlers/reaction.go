package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-realtime/internal/models"
	"chat-realtime/internal/observability"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
)

// ReactionHandler manages reaction endpoints.
type ReactionHandler struct {
	messageRepo repositories.MessageRepository
	members     *realtime.MembershipCache
	coordinator *realtime.MessageCoordinator
	reactions   *realtime.ReactionLedger
}

// NewReactionHandler builds a ReactionHandler.
func NewReactionHandler(messageRepo repositories.MessageRepository, members *realtime.MembershipCache, coordinator *realtime.MessageCoordinator, reactions *realtime.ReactionLedger) *ReactionHandler {
	return &ReactionHandler{
		messageRepo: messageRepo,
		members:     members,
		coordinator: coordinator,
		reactions:   reactions,
	}
}

// ToggleReaction flips the caller's emoji reaction on a message.
func (h *ReactionHandler) ToggleReaction(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}

	member, err := h.members.IsMember(c.Request.Context(), msg.RoomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	added, report, err := h.coordinator.ToggleReaction(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to toggle reaction"})
		return
	}

	observability.ObserveFanout(models.EventReactionChanged, len(report.Delivered), len(report.Failures))
	c.JSON(http.StatusOK, gin.H{"added": added})
}

// ListReactions returns the aggregated reactions on a message.
func (h *ReactionHandler) ListReactions(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message id")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"reactions": h.reactions.List(messageID)})
}
