package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts room and membership persistence.
type RoomRepository interface {
	CreateRoom(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Room, error)
	GetRoom(ctx context.Context, roomID int) (models.Room, error)
	ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error)
	IsMember(ctx context.Context, roomID int, userID int) (bool, error)
	Members(ctx context.Context, roomID int) ([]int, error)
	RoomsForUser(ctx context.Context, userID int) ([]int, error)
	AddMember(ctx context.Context, roomID int, userID int) error
	RemoveMember(ctx context.Context, roomID int, userID int) error
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// CreateRoom inserts the room and its initial members, owner included.
func (r *RoomRepo) CreateRoom(ctx context.Context, ownerID int, name string, memberIDs []int) (models.Room, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Room{}, err
	}
	defer tx.Rollback()

	var room models.Room
	if err := tx.QueryRowxContext(ctx, `INSERT INTO rooms (name, owner_id) VALUES ($1, $2) RETURNING id, name, owner_id, created_at`, name, ownerID).
		Scan(&room.ID, &room.Name, &room.OwnerID, &room.CreatedAt); err != nil {
		return models.Room{}, err
	}

	seen := map[int]struct{}{ownerID: {}}
	members := []int{ownerID}
	for _, id := range memberIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	for _, id := range members {
		if _, err := tx.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, id); err != nil {
			return models.Room{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return models.Room{}, err
	}
	return room, nil
}

// GetRoom fetches a room by id.
func (r *RoomRepo) GetRoom(ctx context.Context, roomID int) (models.Room, error) {
	var room models.Room
	err := r.db.GetContext(ctx, &room, `SELECT id, name, owner_id, created_at FROM rooms WHERE id=$1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Room{}, ErrRoomNotFound
	}
	return room, err
}

// ListRoomsForUser returns the rooms the user belongs to, newest first.
func (r *RoomRepo) ListRoomsForUser(ctx context.Context, userID int) ([]models.Room, error) {
	var rooms []models.Room
	err := r.db.SelectContext(ctx, &rooms, `SELECT r.id, r.name, r.owner_id, r.created_at FROM rooms r
        JOIN room_members m ON m.room_id = r.id
        WHERE m.user_id=$1
        ORDER BY r.created_at DESC`, userID)
	return rooms, err
}

// IsMember checks whether a user belongs to the room.
func (r *RoomRepo) IsMember(ctx context.Context, roomID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// Members returns the user ids in the room.
func (r *RoomRepo) Members(ctx context.Context, roomID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM room_members WHERE room_id=$1 ORDER BY user_id`, roomID)
	return ids, err
}

// RoomsForUser returns the room ids the user belongs to.
func (r *RoomRepo) RoomsForUser(ctx context.Context, userID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT room_id FROM room_members WHERE user_id=$1 ORDER BY room_id`, userID)
	return ids, err
}

// AddMember inserts a membership row; adding an existing member is a no-op.
func (r *RoomRepo) AddMember(ctx context.Context, roomID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO room_members (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// RemoveMember deletes a membership row.
func (r *RoomRepo) RemoveMember(ctx context.Context, roomID int, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}
