package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"chat-realtime/internal/mocks"
	"chat-realtime/internal/models"
	"chat-realtime/internal/realtime"
	"chat-realtime/internal/repositories"
	"chat-realtime/internal/telemetry"
	"chat-realtime/internal/ws"
)

type roomFixture struct {
	roomRepo  *mocks.RoomRepositoryMock
	publisher *mocks.PublisherMock
	router    *gin.Engine
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	roomRepo := new(mocks.RoomRepositoryMock)
	publisher := new(mocks.PublisherMock)

	registry := realtime.NewConnectionRegistry()
	fanout := realtime.NewFanoutRouter(registry, ws.NewConnTable())
	t.Cleanup(fanout.Close)

	members := realtime.NewMembershipCache(roomRepo)
	audit := telemetry.NewAuditEmitter(publisher, "chat_events.audit", "chat-realtime", "test")
	handler := NewRoomHandler(roomRepo, members, fanout, audit)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/rooms", handler.CreateRoom)
	r.GET("/rooms", handler.ListRooms)
	r.POST("/rooms/:room_id/members", handler.AddMember)
	r.DELETE("/rooms/:room_id/members/:user_id", handler.RemoveMember)

	return &roomFixture{roomRepo: roomRepo, publisher: publisher, router: r}
}

func TestCreateRoomDeduplicatesMembers(t *testing.T) {
	f := newRoomFixture(t)

	f.roomRepo.On("CreateRoom", mock.Anything, 1, "general", []int{2, 3}).
		Return(models.Room{ID: 5, Name: "general", OwnerID: 1}, nil).Once()
	f.publisher.On("Publish", mock.Anything, "chat_events.audit", mock.Anything).Return(nil)

	body := bytes.NewBufferString(`{"name":"general","member_ids":[2,3,2,3]}`)
	req := httptest.NewRequest(http.MethodPost, "/rooms", body)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.JSONEq(t, `{"room_id":5}`, rec.Body.String())
	f.roomRepo.AssertExpectations(t)
}

func TestCreateRoomMissingName(t *testing.T) {
	f := newRoomFixture(t)
	f.publisher.On("Publish", mock.Anything, "chat_events.audit", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/rooms", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.roomRepo.AssertNotCalled(t, "CreateRoom", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestListRoomsFailure(t *testing.T) {
	f := newRoomFixture(t)

	f.roomRepo.On("ListRoomsForUser", mock.Anything, 1).
		Return(nil, repositories.ErrRoomNotFound).Once()

	req := httptest.NewRequest(http.MethodGet, "/rooms", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestAddMemberNotOwner(t *testing.T) {
	f := newRoomFixture(t)

	f.roomRepo.On("GetRoom", mock.Anything, 5).
		Return(models.Room{ID: 5, OwnerID: 2}, nil).Once()
	f.publisher.On("Publish", mock.Anything, "chat_events.audit", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodPost, "/rooms/5/members", bytes.NewBufferString(`{"user_id":3}`))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
	f.roomRepo.AssertNotCalled(t, "AddMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestAddMemberInvalidatesCache(t *testing.T) {
	f := newRoomFixture(t)

	f.roomRepo.On("GetRoom", mock.Anything, 5).
		Return(models.Room{ID: 5, OwnerID: 1}, nil).Once()
	f.roomRepo.On("AddMember", mock.Anything, 5, 3).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, "chat_events.audit", mock.Anything).Return(nil)
	// First fetch primes the cache, the post-invalidation check refetches.
	f.roomRepo.On("Members", mock.Anything, 5).Return([]int{1, 2}, nil).Once()
	f.roomRepo.On("Members", mock.Anything, 5).Return([]int{1, 2, 3}, nil).Once()

	members := realtime.NewMembershipCache(f.roomRepo)
	fanout := realtime.NewFanoutRouter(realtime.NewConnectionRegistry(), ws.NewConnTable())
	t.Cleanup(fanout.Close)
	handler := NewRoomHandler(f.roomRepo, members, fanout, nil)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("userID", 1)
		c.Next()
	})
	r.POST("/rooms/:room_id/members", handler.AddMember)

	got, err := members.Members(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, got)

	req := httptest.NewRequest(http.MethodPost, "/rooms/5/members", bytes.NewBufferString(`{"user_id":3}`))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err = members.Members(context.Background(), 5)
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3}, got)
	f.roomRepo.AssertExpectations(t)
}

func TestRemoveMemberRejectsOwner(t *testing.T) {
	f := newRoomFixture(t)

	f.roomRepo.On("GetRoom", mock.Anything, 5).
		Return(models.Room{ID: 5, OwnerID: 1}, nil).Once()

	req := httptest.NewRequest(http.MethodDelete, "/rooms/5/members/1", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	f.roomRepo.AssertNotCalled(t, "RemoveMember", mock.Anything, mock.Anything, mock.Anything)
}

func TestRemoveMemberSuccess(t *testing.T) {
	f := newRoomFixture(t)

	f.roomRepo.On("GetRoom", mock.Anything, 5).
		Return(models.Room{ID: 5, OwnerID: 1}, nil).Once()
	f.roomRepo.On("RemoveMember", mock.Anything, 5, 3).Return(nil).Once()
	f.publisher.On("Publish", mock.Anything, "chat_events.audit", mock.Anything).Return(nil)

	req := httptest.NewRequest(http.MethodDelete, "/rooms/5/members/3", nil)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	f.roomRepo.AssertExpectations(t)
}
