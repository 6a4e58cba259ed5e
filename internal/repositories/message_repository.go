package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for room messages.
type MessageRepository interface {
	CreateMessage(ctx context.Context, roomID int, senderID int, content string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
	ListRoomMessages(ctx context.Context, roomID int) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// CreateMessage stores a message and returns the persisted row.
func (r *MessageRepo) CreateMessage(ctx context.Context, roomID int, senderID int, content string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO messages (room_id, sender_id, content) VALUES ($1, $2, $3) RETURNING id, room_id, sender_id, content, is_edited, is_deleted, created_at`, roomID, senderID, content).
		Scan(&msg.ID, &msg.RoomID, &msg.SenderID, &msg.Content, &msg.IsEdited, &msg.IsDeleted, &msg.CreatedAt)
	return msg, err
}

// GetMessage retrieves a single message.
func (r *MessageRepo) GetMessage(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT id, room_id, sender_id, content, is_edited, is_deleted, created_at FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListRoomMessages returns the room's messages in send order. This is the
// catch-up path for recipients that were offline during fanout.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID int) ([]models.Message, error) {
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, room_id, sender_id, content, is_edited, is_deleted, created_at
        FROM messages
        WHERE room_id=$1 AND is_deleted = FALSE
        ORDER BY created_at ASC`, roomID)
	return msgs, err
}
