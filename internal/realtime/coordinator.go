package realtime

import (
	"context"
	"fmt"
	"log"
	"time"

	"chat-realtime/internal/models"
)

// MessageStore is the slice of the persistence collaborator that owns
// message rows.
type MessageStore interface {
	CreateMessage(ctx context.Context, roomID, senderID int, content string) (models.Message, error)
	GetMessage(ctx context.Context, messageID int) (models.Message, error)
}

// StateMirror receives best-effort copies of in-memory state transitions.
// Mirror failures never affect the primary operation.
type StateMirror interface {
	MirrorDeliveryState(ctx context.Context, messageID, userID int, state string, readAt *time.Time) error
	MirrorReaction(ctx context.Context, messageID, userID int, emoji string, added bool) error
}

// MessageCoordinator orchestrates a send end to end: membership check,
// persistence, delivery bookkeeping and fanout. Everything after the message
// row exists is best-effort; offline recipients pick the message up on their
// next fetch.
type MessageCoordinator struct {
	store     MessageStore
	members   *MembershipCache
	delivery  *DeliveryTracker
	reactions *ReactionLedger
	fanout    *FanoutRouter
	mirror    StateMirror
}

// NewMessageCoordinator wires the coordinator. mirror may be nil.
func NewMessageCoordinator(store MessageStore, members *MembershipCache, delivery *DeliveryTracker, reactions *ReactionLedger, fanout *FanoutRouter, mirror StateMirror) *MessageCoordinator {
	return &MessageCoordinator{
		store:     store,
		members:   members,
		delivery:  delivery,
		reactions: reactions,
		fanout:    fanout,
		mirror:    mirror,
	}
}

// Send persists and fans out a message. The create call is the only fatal
// step: if the row was not written the message does not exist and the error
// surfaces unmodified. Fanout failures come back in the report instead.
func (c *MessageCoordinator) Send(ctx context.Context, senderID, roomID int, content string) (models.Message, DispatchReport, error) {
	member, err := c.members.IsMember(ctx, roomID, senderID)
	if err != nil {
		return models.Message{}, DispatchReport{}, fmt.Errorf("membership lookup: %w", err)
	}
	if !member {
		return models.Message{}, DispatchReport{}, ErrNotMember
	}

	msg, err := c.store.CreateMessage(ctx, roomID, senderID, content)
	if err != nil {
		return models.Message{}, DispatchReport{}, err
	}

	recipients, err := c.members.Members(ctx, roomID)
	if err != nil {
		// The message is durably sent; recipients will see it on fetch.
		log.Printf("recipient resolution failed for message %d: %v", msg.ID, err)
		recipients = nil
	}
	c.delivery.MarkSent(msg.ID, roomID, senderID, recipients)

	report := c.fanout.DispatchToRoom(roomID, models.Event{Type: models.EventMessageSent, Message: &msg, RoomID: roomID})
	c.confirmLiveDeliveries(msg, report.Delivered)
	return msg, report, nil
}

// confirmLiveDeliveries promotes recipients whose connection took the write
// to Delivered and tells the sender's own connections about each promotion.
func (c *MessageCoordinator) confirmLiveDeliveries(msg models.Message, delivered []Connection) {
	seen := make(map[int]struct{}, len(delivered))
	for _, conn := range delivered {
		if conn.UserID == msg.SenderID {
			continue
		}
		if _, dup := seen[conn.UserID]; dup {
			continue
		}
		seen[conn.UserID] = struct{}{}
		changed, err := c.delivery.MarkDelivered(msg.ID, conn.UserID)
		if err != nil || !changed {
			continue
		}
		c.mirrorDeliveryAsync(msg.ID, conn.UserID, StateDelivered, nil)
		c.fanout.DispatchToUser(msg.SenderID, models.Event{
			Type:      models.EventMessageDelivered,
			MessageID: msg.ID,
			RoomID:    msg.RoomID,
			UserID:    conn.UserID,
		})
	}
}

// ConfirmDelivered records a client-side delivered acknowledgement.
func (c *MessageCoordinator) ConfirmDelivered(ctx context.Context, messageID, userID int) error {
	changed, err := c.delivery.MarkDelivered(messageID, userID)
	if err != nil {
		return err
	}
	if changed {
		c.mirrorDeliveryAsync(messageID, userID, StateDelivered, nil)
	}
	return nil
}

// AcknowledgeRead marks the message read for the recipient and, on the one
// call that actually flips the state, fans a read receipt out to the room.
// Duplicate acknowledgements converge silently.
func (c *MessageCoordinator) AcknowledgeRead(ctx context.Context, messageID, userID int) (DispatchReport, error) {
	changed, err := c.delivery.MarkRead(messageID, userID)
	if err != nil {
		return DispatchReport{}, err
	}
	if !changed {
		return DispatchReport{}, nil
	}

	readAt, err := c.delivery.ReadAt(messageID, userID)
	if err != nil {
		return DispatchReport{}, err
	}
	roomID, _ := c.delivery.RoomOf(messageID)
	report := c.fanout.DispatchToRoom(roomID, models.Event{
		Type:      models.EventMessageRead,
		MessageID: messageID,
		RoomID:    roomID,
		UserID:    userID,
		ReadAt:    &readAt,
	})
	c.mirrorDeliveryAsync(messageID, userID, StateRead, &readAt)
	return report, nil
}

// ToggleReaction flips the reaction and broadcasts the change to the
// message's room.
func (c *MessageCoordinator) ToggleReaction(ctx context.Context, messageID, userID int, emoji string) (bool, DispatchReport, error) {
	roomID, ok := c.delivery.RoomOf(messageID)
	if !ok {
		// Messages sent before this process started are not tracked; the
		// persisted row still knows its room.
		msg, err := c.store.GetMessage(ctx, messageID)
		if err != nil {
			return false, DispatchReport{}, err
		}
		roomID = msg.RoomID
	}

	added := c.reactions.Toggle(messageID, userID, emoji)
	report := c.fanout.DispatchToRoom(roomID, models.Event{
		Type:      models.EventReactionChanged,
		MessageID: messageID,
		RoomID:    roomID,
		UserID:    userID,
		Emoji:     emoji,
		Added:     &added,
	})
	c.mirrorReactionAsync(messageID, userID, emoji, added)
	return added, report, nil
}

func (c *MessageCoordinator) mirrorDeliveryAsync(messageID, userID int, state DeliveryState, readAt *time.Time) {
	if c.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.mirror.MirrorDeliveryState(ctx, messageID, userID, state.String(), readAt); err != nil {
			log.Printf("delivery mirror failed for message %d user %d: %v", messageID, userID, err)
		}
	}()
}

func (c *MessageCoordinator) mirrorReactionAsync(messageID, userID int, emoji string, added bool) {
	if c.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := c.mirror.MirrorReaction(ctx, messageID, userID, emoji, added); err != nil {
			log.Printf("reaction mirror failed for message %d user %d: %v", messageID, userID, err)
		}
	}()
}
