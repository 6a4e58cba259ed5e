package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"chat-realtime/internal/models"
	"chat-realtime/internal/repositories"
)

type RoomRepositoryMock struct {
	mock.Mock
}

func (m *RoomRepositoryMock) CreateRoom(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Room, error) {
	args := m.Called(ctx, ownerID, name, memberIDs)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	args := m.Called(ctx, roomID)
	var room models.Room
	if val := args.Get(0); val != nil {
		room = val.(models.Room)
	}
	return room, args.Error(1)
}

func (m *RoomRepositoryMock) ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error) {
	args := m.Called(ctx, userID)
	var rooms []models.Room
	if val := args.Get(0); val != nil {
		rooms = val.([]models.Room)
	}
	return rooms, args.Error(1)
}

func (m *RoomRepositoryMock) IsMember(ctx context.Context, roomID int, userID int) (bool, error) {
	args := m.Called(ctx, roomID, userID)
	return args.Bool(0), args.Error(1)
}

func (m *RoomRepositoryMock) Members(ctx context.Context, roomID int) ([]int, error) {
	args := m.Called(ctx, roomID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *RoomRepositoryMock) RoomsForUser(ctx context.Context, userID int) ([]int, error) {
	args := m.Called(ctx, userID)
	var ids []int
	if val := args.Get(0); val != nil {
		ids = val.([]int)
	}
	return ids, args.Error(1)
}

func (m *RoomRepositoryMock) AddMember(ctx context.Context, roomID int, userID int) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

func (m *RoomRepositoryMock) RemoveMember(ctx context.Context, roomID int, userID int) error {
	args := m.Called(ctx, roomID, userID)
	return args.Error(0)
}

type MessageRepositoryMock struct {
	mock.Mock
}

func (m *MessageRepositoryMock) CreateMessage(ctx context.Context, roomID int, senderID int, content string) (models.Message, error) {
	args := m.Called(ctx, roomID, senderID, content)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	args := m.Called(ctx, messageID)
	var msg models.Message
	if val := args.Get(0); val != nil {
		msg = val.(models.Message)
	}
	return msg, args.Error(1)
}

func (m *MessageRepositoryMock) ListRoomMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	args := m.Called(ctx, roomID)
	var msgs []models.Message
	if val := args.Get(0); val != nil {
		msgs = val.([]models.Message)
	}
	return msgs, args.Error(1)
}

type StateRepositoryMock struct {
	mock.Mock
}

func (m *StateRepositoryMock) MirrorPresence(ctx context.Context, userID int, status string, lastSeen time.Time) error {
	args := m.Called(ctx, userID, status, lastSeen)
	return args.Error(0)
}

func (m *StateRepositoryMock) MirrorDeliveryState(ctx context.Context, messageID, userID int, state string, readAt *time.Time) error {
	args := m.Called(ctx, messageID, userID, state, readAt)
	return args.Error(0)
}

func (m *StateRepositoryMock) MirrorReaction(ctx context.Context, messageID, userID int, emoji string, added bool) error {
	args := m.Called(ctx, messageID, userID, emoji, added)
	return args.Error(0)
}

func (m *StateRepositoryMock) DeliveryStates(ctx context.Context, messageID int) ([]models.DeliveryStateRow, error) {
	args := m.Called(ctx, messageID)
	var rows []models.DeliveryStateRow
	if val := args.Get(0); val != nil {
		rows = val.([]models.DeliveryStateRow)
	}
	return rows, args.Error(1)
}

var _ repositories.RoomRepository = (*RoomRepositoryMock)(nil)
var _ repositories.MessageRepository = (*MessageRepositoryMock)(nil)
var _ repositories.StateRepository = (*StateRepositoryMock)(nil)
