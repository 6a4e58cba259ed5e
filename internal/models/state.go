package models

import "time"

// DeliveryStateRow mirrors one per-recipient delivery record to the database.
type DeliveryStateRow struct {
	MessageID int        `db:"message_id" json:"message_id"`
	UserID    int        `db:"user_id" json:"user_id"`
	State     string     `db:"state" json:"state"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// Reaction is one emoji reaction by a user on a message.
type Reaction struct {
	MessageID int       `db:"message_id" json:"message_id"`
	UserID    int       `db:"user_id" json:"user_id"`
	Emoji     string    `db:"emoji" json:"emoji"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// ReactionGroup aggregates one emoji on a message for rendering: the emoji,
// how many users reacted with it and who they are.
type ReactionGroup struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
	Users []int  `json:"users"`
}

// PresenceRow is the best-effort database mirror of a user's presence.
type PresenceRow struct {
	UserID   int       `db:"user_id" json:"user_id"`
	Status   string    `db:"status" json:"status"`
	LastSeen time.Time `db:"last_seen" json:"last_seen"`
}
