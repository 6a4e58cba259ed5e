package realtime

import (
	"context"
	"log"
	"sync"
	"time"
)

// Status is a user's derived presence.
type Status string

const (
	StatusOnline  Status = "online"
	StatusAway    Status = "away"
	StatusOffline Status = "offline"
)

// PresenceState is the read view exposed to gateways.
type PresenceState struct {
	Status   Status
	LastSeen time.Time
}

// PresenceChange is handed to the sink whenever a user's status transitions.
type PresenceChange struct {
	UserID   int
	Status   Status
	LastSeen time.Time
}

// PresenceMirror writes the best-effort database copy of presence.
type PresenceMirror interface {
	MirrorPresence(ctx context.Context, userID int, status string, lastSeen time.Time) error
}

type userPresence struct {
	status      Status
	lastSeen    time.Time
	connections int
	graceTimer  *time.Timer
	idleTimer   *time.Timer
}

// PresenceTracker derives online/away/offline from connection-count
// transitions. It never counts events independently: the connection count in
// each registry event is the single source, which is what prevents the
// double-counting drift a per-event counter suffers from.
//
// Disconnects do not flip a user offline immediately. A grace timer absorbs
// quick reconnects (tab refresh, network blip) so observers see no flicker;
// only its expiry with still zero connections emits offline.
type PresenceTracker struct {
	mu     sync.Mutex
	users  map[int]*userPresence
	grace  time.Duration
	idle   time.Duration
	sink   func(PresenceChange)
	mirror PresenceMirror
}

// NewPresenceTracker builds a tracker with the given grace and idle windows.
// mirror may be nil when no persistence mirroring is wanted.
func NewPresenceTracker(grace, idle time.Duration, mirror PresenceMirror) *PresenceTracker {
	return &PresenceTracker{
		users:  make(map[int]*userPresence),
		grace:  grace,
		idle:   idle,
		mirror: mirror,
	}
}

// SetSink installs the change consumer. Must be called during wiring.
func (t *PresenceTracker) SetSink(fn func(PresenceChange)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sink = fn
}

// HandleConnectionEvent is the registry observer entry point.
func (t *PresenceTracker) HandleConnectionEvent(ev ConnectionEvent) {
	switch ev.Type {
	case ConnectionAdded:
		t.connectionAdded(ev.UserID, ev.UserConnections)
	case ConnectionRemoved:
		t.connectionRemoved(ev.UserID, ev.UserConnections)
	}
}

func (t *PresenceTracker) connectionAdded(userID, connections int) {
	t.mu.Lock()
	up := t.user(userID)
	up.connections = connections
	if up.graceTimer != nil {
		up.graceTimer.Stop()
		up.graceTimer = nil
	}
	var change *PresenceChange
	if up.status != StatusOnline {
		up.status = StatusOnline
		up.lastSeen = time.Now()
		change = &PresenceChange{UserID: userID, Status: StatusOnline, LastSeen: up.lastSeen}
	}
	t.resetIdleLocked(userID, up)
	sink := t.sink
	t.mu.Unlock()

	if change != nil && sink != nil {
		sink(*change)
	}
}

func (t *PresenceTracker) connectionRemoved(userID, connections int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	up := t.user(userID)
	up.connections = connections
	if connections > 0 {
		return
	}
	if up.idleTimer != nil {
		up.idleTimer.Stop()
		up.idleTimer = nil
	}
	if up.graceTimer != nil {
		up.graceTimer.Stop()
	}
	up.graceTimer = time.AfterFunc(t.grace, func() { t.graceExpired(userID) })
}

func (t *PresenceTracker) graceExpired(userID int) {
	t.mu.Lock()
	up := t.user(userID)
	up.graceTimer = nil
	if up.connections > 0 || up.status == StatusOffline {
		t.mu.Unlock()
		return
	}
	up.status = StatusOffline
	up.lastSeen = time.Now()
	change := PresenceChange{UserID: userID, Status: StatusOffline, LastSeen: up.lastSeen}
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink(change)
	}
	t.mirrorAsync(change)
}

// Activity records an inbound signal from one of the user's connections,
// resetting the idle timer and reviving an away user.
func (t *PresenceTracker) Activity(userID int) {
	t.mu.Lock()
	up := t.user(userID)
	if up.connections == 0 {
		t.mu.Unlock()
		return
	}
	var change *PresenceChange
	if up.status == StatusAway {
		up.status = StatusOnline
		up.lastSeen = time.Now()
		change = &PresenceChange{UserID: userID, Status: StatusOnline, LastSeen: up.lastSeen}
	}
	t.resetIdleLocked(userID, up)
	sink := t.sink
	t.mu.Unlock()

	if change != nil && sink != nil {
		sink(*change)
	}
}

func (t *PresenceTracker) resetIdleLocked(userID int, up *userPresence) {
	if up.idleTimer != nil {
		up.idleTimer.Stop()
	}
	up.idleTimer = time.AfterFunc(t.idle, func() { t.idleExpired(userID) })
}

func (t *PresenceTracker) idleExpired(userID int) {
	t.mu.Lock()
	up := t.user(userID)
	up.idleTimer = nil
	if up.connections == 0 || up.status != StatusOnline {
		t.mu.Unlock()
		return
	}
	up.status = StatusAway
	change := PresenceChange{UserID: userID, Status: StatusAway, LastSeen: up.lastSeen}
	sink := t.sink
	t.mu.Unlock()

	if sink != nil {
		sink(change)
	}
}

// StateOf returns the user's current presence. Unknown users are offline.
func (t *PresenceTracker) StateOf(userID int) PresenceState {
	t.mu.Lock()
	defer t.mu.Unlock()
	up, ok := t.users[userID]
	if !ok {
		return PresenceState{Status: StatusOffline}
	}
	return PresenceState{Status: up.status, LastSeen: up.lastSeen}
}

// Close stops all pending timers.
func (t *PresenceTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, up := range t.users {
		if up.graceTimer != nil {
			up.graceTimer.Stop()
			up.graceTimer = nil
		}
		if up.idleTimer != nil {
			up.idleTimer.Stop()
			up.idleTimer = nil
		}
	}
}

func (t *PresenceTracker) user(userID int) *userPresence {
	up, ok := t.users[userID]
	if !ok {
		up = &userPresence{status: StatusOffline}
		t.users[userID] = up
	}
	return up
}

// mirrorAsync writes the change to persistence without blocking the
// in-memory transition. Mirror failures are logged and dropped.
func (t *PresenceTracker) mirrorAsync(change PresenceChange) {
	if t.mirror == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := t.mirror.MirrorPresence(ctx, change.UserID, string(change.Status), change.LastSeen); err != nil {
			log.Printf("presence mirror failed for user %d: %v", change.UserID, err)
		}
	}()
}
