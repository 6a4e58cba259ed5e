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

// MessageHandler manages message endpoints: send, fetch, read receipts and
// delivery state lookups.
type MessageHandler struct {
	messageRepo repositories.MessageRepository
	stateRepo   repositories.StateRepository
	members     *realtime.MembershipCache
	coordinator *realtime.MessageCoordinator
	delivery    *realtime.DeliveryTracker
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messageRepo repositories.MessageRepository, stateRepo repositories.StateRepository, members *realtime.MembershipCache, coordinator *realtime.MessageCoordinator, delivery *realtime.DeliveryTracker) *MessageHandler {
	return &MessageHandler{
		messageRepo: messageRepo,
		stateRepo:   stateRepo,
		members:     members,
		coordinator: coordinator,
		delivery:    delivery,
	}
}

// PostMessage persists a message and fans it out to live room connections.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	roomID, ok := pathID(c, "room_id", "room id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msg, report, err := h.coordinator.Send(c.Request.Context(), userID, roomID, req.Content)
	if err != nil {
		if errors.Is(err, realtime.ErrNotMember) {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store message"})
		return
	}

	observability.ObserveFanout(models.EventMessageSent, len(report.Delivered), len(report.Failures))
	c.JSON(http.StatusCreated, msg)
}

// ListRoomMessages returns a room's messages, the catch-up path for
// recipients that were offline during fanout.
func (h *MessageHandler) ListRoomMessages(c *gin.Context) {
	roomID, ok := pathID(c, "room_id", "room id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	member, err := h.members.IsMember(c.Request.Context(), roomID, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "membership check failed"})
		return
	}
	if !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a room member"})
		return
	}

	msgs, err := h.messageRepo.ListRoomMessages(c.Request.Context(), roomID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}

// AcknowledgeRead marks a message read for the caller and broadcasts the
// receipt. Duplicate acknowledgements succeed without a second broadcast.
func (h *MessageHandler) AcknowledgeRead(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	report, err := h.coordinator.AcknowledgeRead(c.Request.Context(), messageID, userID)
	if err != nil {
		switch {
		case errors.Is(err, realtime.ErrInvalidRecipient):
			c.JSON(http.StatusForbidden, gin.H{"error": "not a recipient of this message"})
		case errors.Is(err, realtime.ErrUnknownMessage):
			c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to acknowledge read"})
		}
		return
	}

	observability.IncDeliveryTransition(realtime.StateRead.String())
	observability.ObserveFanout(models.EventMessageRead, len(report.Delivered), len(report.Failures))
	c.Status(http.StatusNoContent)
}

// DeliveryStates returns per-recipient delivery progress for a message the
// caller sent.
func (h *MessageHandler) DeliveryStates(c *gin.Context) {
	messageID, ok := pathID(c, "message_id", "message id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	msg, err := h.messageRepo.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "message not found"})
		return
	}
	if msg.SenderID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the sender can inspect delivery"})
		return
	}

	states := h.delivery.StatesForMessage(messageID)
	if len(states) > 0 {
		out := make(map[int]string, len(states))
		for recipient, state := range states {
			out[recipient] = state.String()
		}
		c.JSON(http.StatusOK, gin.H{"delivery": out})
		return
	}

	// The tracker forgets messages across restarts; the mirror remembers.
	rows, err := h.stateRepo.DeliveryStates(c.Request.Context(), messageID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load delivery states"})
		return
	}
	out := make(map[int]string, len(rows))
	for _, row := range rows {
		out[row.UserID] = row.State
	}
	c.JSON(http.StatusOK, gin.H{"delivery": out})
}
