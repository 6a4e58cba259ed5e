package realtime

import (
	"sync"
	"time"
)

// DeliveryState is the per-recipient progress of a message.
type DeliveryState int

const (
	StateSent DeliveryState = iota
	StateDelivered
	StateRead
)

func (s DeliveryState) String() string {
	switch s {
	case StateDelivered:
		return "delivered"
	case StateRead:
		return "read"
	default:
		return "sent"
	}
}

type deliveryKey struct {
	messageID int
	userID    int
}

type deliveryRecord struct {
	mu     sync.Mutex
	state  DeliveryState
	readAt time.Time
}

type messageInfo struct {
	roomID   int
	senderID int
}

// DeliveryTracker holds the sent/delivered/read state machine for every
// (message, recipient) pair. State is monotonically non-decreasing; stale
// signals never regress it. The maps are guarded by one RWMutex while each
// record carries its own lock, so transitions on unrelated messages do not
// serialize against each other.
type DeliveryTracker struct {
	mu       sync.RWMutex
	records  map[deliveryKey]*deliveryRecord
	messages map[int]messageInfo
}

// NewDeliveryTracker creates an empty tracker.
func NewDeliveryTracker() *DeliveryTracker {
	return &DeliveryTracker{
		records:  make(map[deliveryKey]*deliveryRecord),
		messages: make(map[int]messageInfo),
	}
}

// MarkSent bulk-creates Sent records for the recipients of a freshly
// persisted message. Called once per message by the coordinator; repeated
// calls for a known message are ignored.
func (t *DeliveryTracker) MarkSent(messageID, roomID, senderID int, recipients []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.messages[messageID]; exists {
		return
	}
	t.messages[messageID] = messageInfo{roomID: roomID, senderID: senderID}
	for _, userID := range recipients {
		if userID == senderID {
			continue
		}
		t.records[deliveryKey{messageID: messageID, userID: userID}] = &deliveryRecord{state: StateSent}
	}
}

// MarkDelivered moves Sent to Delivered. A delivered signal arriving after
// the pair is already Delivered or Read is a no-op, never a regression.
// Returns whether the state actually changed.
func (t *DeliveryTracker) MarkDelivered(messageID, userID int) (bool, error) {
	rec, err := t.record(messageID, userID)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state != StateSent {
		return false, nil
	}
	rec.state = StateDelivered
	return true, nil
}

// MarkRead moves the pair to Read from any prior state. Idempotent under
// races: of any number of concurrent calls for the same pair exactly one
// observes changed=true, so downstream read events fire exactly once.
// A sender cannot read their own message.
func (t *DeliveryTracker) MarkRead(messageID, userID int) (bool, error) {
	rec, err := t.record(messageID, userID)
	if err != nil {
		return false, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.state == StateRead {
		return false, nil
	}
	rec.state = StateRead
	rec.readAt = time.Now()
	return true, nil
}

// GetState returns the current delivery state for the pair.
func (t *DeliveryTracker) GetState(messageID, userID int) (DeliveryState, error) {
	rec, err := t.record(messageID, userID)
	if err != nil {
		return StateSent, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.state, nil
}

// ReadAt returns when the pair was read, zero if not yet read.
func (t *DeliveryTracker) ReadAt(messageID, userID int) (time.Time, error) {
	rec, err := t.record(messageID, userID)
	if err != nil {
		return time.Time{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.readAt, nil
}

// StatesForMessage returns the delivery state of every recipient.
func (t *DeliveryTracker) StatesForMessage(messageID int) map[int]DeliveryState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[int]DeliveryState)
	for key, rec := range t.records {
		if key.messageID != messageID {
			continue
		}
		rec.mu.Lock()
		out[key.userID] = rec.state
		rec.mu.Unlock()
	}
	return out
}

// RoomOf reports which room a tracked message was fanned out to.
func (t *DeliveryTracker) RoomOf(messageID int) (int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.messages[messageID]
	return info.roomID, ok
}

func (t *DeliveryTracker) record(messageID, userID int) (*deliveryRecord, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.messages[messageID]
	if !ok {
		return nil, ErrUnknownMessage
	}
	if userID == info.senderID {
		return nil, ErrInvalidRecipient
	}
	rec, ok := t.records[deliveryKey{messageID: messageID, userID: userID}]
	if !ok {
		return nil, ErrInvalidRecipient
	}
	return rec, nil
}
