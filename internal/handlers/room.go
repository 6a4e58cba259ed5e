package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"chat-realtime/internal/models"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
)

// RoomHandler manages room and membership endpoints.
type RoomHandler struct {
	roomRepo repositories.RoomRepository
	members  *realtime.MembershipCache
	fanout   *realtime.FanoutRouter
	audit    *telemetry.AuditEmitter
}

// NewRoomHandler builds a RoomHandler.
func NewRoomHandler(roomRepo repositories.RoomRepository, members *realtime.MembershipCache, fanout *realtime.FanoutRouter, audit *telemetry.AuditEmitter) *RoomHandler {
	return &RoomHandler{
		roomRepo: roomRepo,
		members:  members,
		fanout:   fanout,
		audit:    audit,
	}
}

// CreateRoom handles POST /rooms.
func (h *RoomHandler) CreateRoom(c *gin.Context) {
	userID := c.GetInt("userID")

	var req struct {
		Name      string `json:"name" binding:"required"`
		MemberIDs []int  `json:"member_ids"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, "ERROR", "invalid request payload")
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.roomRepo.CreateRoom(c.Request.Context(), userID, req.Name, lo.Uniq(req.MemberIDs))
	if err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create room"})
		return
	}

	h.emitAudit(c, "INFO", "Room created")
	c.JSON(http.StatusCreated, gin.H{"room_id": room.ID})
}

// ListRooms returns rooms the caller belongs to.
func (h *RoomHandler) ListRooms(c *gin.Context) {
	userID := c.GetInt("userID")
	rooms, err := h.roomRepo.ListRoomsForUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load rooms"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rooms": rooms})
}

// AddMember adds a user to a room (owner only) and invalidates the fanout
// membership view.
func (h *RoomHandler) AddMember(c *gin.Context) {
	roomID, ok := pathID(c, "room_id", "room id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	var req struct {
		UserID int `json:"user_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, ok := h.loadOwnedRoom(c, roomID, userID)
	if !ok {
		return
	}

	if err := h.roomRepo.AddMember(c.Request.Context(), roomID, req.UserID); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not add member"})
		return
	}

	h.members.Invalidate(roomID)
	h.fanout.DispatchToRoom(roomID, models.Event{Type: models.EventMemberAdded, RoomID: room.ID, UserID: req.UserID})
	h.emitAudit(c, "INFO", "Room member added")
	c.Status(http.StatusNoContent)
}

// RemoveMember removes a user from a room (owner only).
func (h *RoomHandler) RemoveMember(c *gin.Context) {
	roomID, ok := pathID(c, "room_id", "room id")
	if !ok {
		return
	}
	memberID, ok := pathID(c, "user_id", "user id")
	if !ok {
		return
	}
	userID := c.GetInt("userID")

	room, ok := h.loadOwnedRoom(c, roomID, userID)
	if !ok {
		return
	}
	if memberID == room.OwnerID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "owner cannot be removed"})
		return
	}

	if err := h.roomRepo.RemoveMember(c.Request.Context(), roomID, memberID); err != nil {
		h.emitAudit(c, "ERROR", "internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not remove member"})
		return
	}

	h.members.Invalidate(roomID)
	h.fanout.DispatchToRoom(roomID, models.Event{Type: models.EventMemberRemoved, RoomID: room.ID, UserID: memberID})
	h.emitAudit(c, "INFO", "Room member removed")
	c.Status(http.StatusNoContent)
}

func (h *RoomHandler) loadOwnedRoom(c *gin.Context, roomID, userID int) (models.Room, bool) {
	room, err := h.roomRepo.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrRoomNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": "room not found"})
		return models.Room{}, false
	}
	if room.OwnerID != userID {
		h.emitAudit(c, "ERROR", "not allowed")
		c.JSON(http.StatusForbidden, gin.H{"error": "only the owner can manage members"})
		return models.Room{}, false
	}
	return room, true
}

func (h *RoomHandler) emitAudit(c *gin.Context, level, text string) {
	if h.audit == nil {
		return
	}
	h.audit.Emit(c.Request.Context(), level, text, requestIDFromContext(c), userIDFromContext(c))
}
