package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-realtime/internal/models"
)

// StateRepository mirrors in-memory realtime state to the database. All
// mirror writes are best-effort: callers fire them asynchronously and only
// log failures.
type StateRepository interface {
	MirrorPresence(ctx context.Context, userID int, status string, lastSeen time.Time) error
	MirrorDeliveryState(ctx context.Context, messageID, userID int, state string, readAt *time.Time) error
	MirrorReaction(ctx context.Context, messageID, userID int, emoji string, added bool) error
	DeliveryStates(ctx context.Context, messageID int) ([]models.DeliveryStateRow, error)
}

// StateRepo is a sqlx implementation of StateRepository.
type StateRepo struct {
	db *sqlx.DB
}

// NewStateRepo constructs a StateRepo.
func NewStateRepo(db *sqlx.DB) *StateRepo {
	return &StateRepo{db: db}
}

// MirrorPresence upserts the user's presence row.
func (r *StateRepo) MirrorPresence(ctx context.Context, userID int, status string, lastSeen time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO user_presence (user_id, status, last_seen) VALUES ($1, $2, $3)
        ON CONFLICT (user_id) DO UPDATE SET status = EXCLUDED.status, last_seen = EXCLUDED.last_seen`, userID, status, lastSeen)
	return err
}

// MirrorDeliveryState upserts one delivery record. The in-memory tracker has
// already enforced monotonicity, so the latest write wins.
func (r *StateRepo) MirrorDeliveryState(ctx context.Context, messageID, userID int, state string, readAt *time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO message_delivery (message_id, user_id, state, read_at) VALUES ($1, $2, $3, $4)
        ON CONFLICT (message_id, user_id) DO UPDATE SET state = EXCLUDED.state, read_at = EXCLUDED.read_at`, messageID, userID, state, readAt)
	return err
}

// MirrorReaction inserts or removes the reaction row to match the ledger.
func (r *StateRepo) MirrorReaction(ctx context.Context, messageID, userID int, emoji string, added bool) error {
	if added {
		_, err := r.db.ExecContext(ctx, `INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
            ON CONFLICT (message_id, user_id, emoji) DO NOTHING`, messageID, userID, emoji)
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3`, messageID, userID, emoji)
	return err
}

// DeliveryStates returns the mirrored per-recipient states for a message.
func (r *StateRepo) DeliveryStates(ctx context.Context, messageID int) ([]models.DeliveryStateRow, error) {
	var rows []models.DeliveryStateRow
	err := r.db.SelectContext(ctx, &rows, `SELECT message_id, user_id, state, read_at FROM message_delivery WHERE message_id=$1 ORDER BY user_id`, messageID)
	return rows, err
}
