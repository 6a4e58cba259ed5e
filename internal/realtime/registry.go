package realtime

import (
	"sync"
	"time"
)

// Connection is a snapshot of one live transport session for a user.
type Connection struct {
	ID          string
	UserID      int
	Rooms       []int
	ConnectedAt time.Time
	LastPingAt  time.Time
}

type liveConn struct {
	id          string
	userID      int
	rooms       map[int]struct{}
	connectedAt time.Time
	lastPingAt  time.Time
}

func (c *liveConn) snapshot() Connection {
	rooms := make([]int, 0, len(c.rooms))
	for roomID := range c.rooms {
		rooms = append(rooms, roomID)
	}
	return Connection{
		ID:          c.id,
		UserID:      c.userID,
		Rooms:       rooms,
		ConnectedAt: c.connectedAt,
		LastPingAt:  c.lastPingAt,
	}
}

// ConnectionEventType distinguishes registry transitions.
type ConnectionEventType int

const (
	ConnectionAdded ConnectionEventType = iota
	ConnectionRemoved
)

// ConnectionEvent describes a registry transition. UserConnections is the
// number of connections the user holds after the transition, which is what
// presence derives its state from.
type ConnectionEvent struct {
	Type            ConnectionEventType
	ConnID          string
	UserID          int
	UserConnections int
}

// ConnectionRegistry is the authoritative in-memory map of live connections.
// One instance per process, constructed explicitly and injected; a single
// mutex guards the whole registry since mutations are cheap relative to the
// I/O around them.
type ConnectionRegistry struct {
	mu        sync.RWMutex
	conns     map[string]*liveConn
	byUser    map[int]map[string]*liveConn
	observers []func(ConnectionEvent)

	// Observer events queue under the registry lock and drain on a single
	// goroutine, so observers always see transitions in mutation order even
	// when registrations race. Calling observers directly after unlocking
	// would let a preempted caller deliver a stale event late, and a presence
	// tracker fed Added(1) then Removed(0) for what was really a reconnect
	// would strand a connected user offline.
	pending  []ConnectionEvent
	draining bool
}

// NewConnectionRegistry creates an empty registry.
func NewConnectionRegistry() *ConnectionRegistry {
	return &ConnectionRegistry{
		conns:  make(map[string]*liveConn),
		byUser: make(map[int]map[string]*liveConn),
	}
}

// Notify registers an observer for connection transitions. Events are
// delivered outside the registry lock, one at a time, in mutation order.
// Must be called during wiring, before connections arrive.
func (r *ConnectionRegistry) Notify(fn func(ConnectionEvent)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Register adds a new connection for the user.
func (r *ConnectionRegistry) Register(userID int, connID string) (Connection, error) {
	r.mu.Lock()
	if _, exists := r.conns[connID]; exists {
		r.mu.Unlock()
		return Connection{}, ErrDuplicateConnection
	}
	now := time.Now()
	conn := &liveConn{
		id:          connID,
		userID:      userID,
		rooms:       make(map[int]struct{}),
		connectedAt: now,
		lastPingAt:  now,
	}
	r.conns[connID] = conn
	if _, ok := r.byUser[userID]; !ok {
		r.byUser[userID] = make(map[string]*liveConn)
	}
	r.byUser[userID][connID] = conn
	snap := conn.snapshot()
	r.emitLocked(ConnectionEvent{
		Type:            ConnectionAdded,
		ConnID:          connID,
		UserID:          userID,
		UserConnections: len(r.byUser[userID]),
	})
	r.mu.Unlock()
	return snap, nil
}

// Unregister removes a connection. Idempotent: removing an absent id is a
// no-op so duplicate disconnect events are harmless.
func (r *ConnectionRegistry) Unregister(connID string) {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.conns, connID)
	userConns := r.byUser[conn.userID]
	delete(userConns, connID)
	if len(userConns) == 0 {
		delete(r.byUser, conn.userID)
	}
	r.emitLocked(ConnectionEvent{
		Type:            ConnectionRemoved,
		ConnID:          connID,
		UserID:          conn.userID,
		UserConnections: len(userConns),
	})
	r.mu.Unlock()
}

// emitLocked appends the event to the pending queue and ensures a drainer is
// running. Callers hold r.mu, which is what pins the queue order to the
// mutation order.
func (r *ConnectionRegistry) emitLocked(event ConnectionEvent) {
	if len(r.observers) == 0 {
		return
	}
	r.pending = append(r.pending, event)
	if r.draining {
		return
	}
	r.draining = true
	go r.drainEvents()
}

func (r *ConnectionRegistry) drainEvents() {
	r.mu.Lock()
	for len(r.pending) > 0 {
		event := r.pending[0]
		r.pending = r.pending[1:]
		observers := r.observers
		r.mu.Unlock()
		for _, fn := range observers {
			fn(event)
		}
		r.mu.Lock()
	}
	r.draining = false
	r.mu.Unlock()
}

// JoinRoom adds the room to the connection's joined set.
func (r *ConnectionRegistry) JoinRoom(connID string, roomID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	conn.rooms[roomID] = struct{}{}
	return nil
}

// LeaveRoom removes the room from the connection's joined set.
func (r *ConnectionRegistry) LeaveRoom(connID string, roomID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return ErrUnknownConnection
	}
	delete(conn.rooms, roomID)
	return nil
}

// Touch records inbound activity on the connection and returns the owning
// user id so callers can feed presence idle tracking.
func (r *ConnectionRegistry) Touch(connID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.conns[connID]
	if !ok {
		return 0, ErrUnknownConnection
	}
	conn.lastPingAt = time.Now()
	return conn.userID, nil
}

// ConnectionsForUser returns snapshots of the user's live connections.
func (r *ConnectionRegistry) ConnectionsForUser(userID int) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.byUser[userID]
	out := make([]Connection, 0, len(conns))
	for _, conn := range conns {
		out = append(out, conn.snapshot())
	}
	return out
}

// ConnectionsInRoom returns snapshots of connections that joined the room.
// O(active connections); callers needing scale should maintain a
// room-to-connections index instead.
func (r *ConnectionRegistry) ConnectionsInRoom(roomID int) []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Connection
	for _, conn := range r.conns {
		if _, ok := conn.rooms[roomID]; ok {
			out = append(out, conn.snapshot())
		}
	}
	return out
}

// ActiveConnections reports the number of registered connections.
func (r *ConnectionRegistry) ActiveConnections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// ActiveUsers reports the number of users with at least one connection.
func (r *ConnectionRegistry) ActiveUsers() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser)
}
