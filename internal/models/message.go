package models

import "time"

// Message represents a room message. The database row is the source of
// truth; the realtime core only reasons about identity and room membership.
type Message struct {
	ID        int       `db:"id" json:"id"`
	RoomID    int       `db:"room_id" json:"room_id"`
	SenderID  int       `db:"sender_id" json:"sender_id"`
	Content   string    `db:"content" json:"content"`
	IsEdited  bool      `db:"is_edited" json:"is_edited"`
	IsDeleted bool      `db:"is_deleted" json:"is_deleted"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Event is broadcast to websocket clients.
type Event struct {
	Type      string     `json:"type"`
	Message   *Message   `json:"message,omitempty"`
	MessageID int        `json:"message_id,omitempty"`
	RoomID    int        `json:"room_id,omitempty"`
	UserID    int        `json:"user_id,omitempty"`
	Emoji     string     `json:"emoji,omitempty"`
	Added     *bool      `json:"added,omitempty"`
	Status    string     `json:"status,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// Event types carried in Event.Type.
const (
	EventMessageSent      = "message-sent"
	EventMessageDelivered = "message-delivered"
	EventMessageRead      = "message-read"
	EventReactionChanged  = "reaction-changed"
	EventPresenceChanged  = "presence-changed"
	EventMemberAdded      = "member-added"
	EventMemberRemoved    = "member-removed"
)
