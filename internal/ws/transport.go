package ws

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"chat-realtime/internal/models"
	"chat-realtime/internal/realtime"
)

// ConnTable maps connection ids to websocket connections and implements the
// core's Transport. Writes to one connection serialize on a per-connection
// lock; the table lock is only held for lookups.
type ConnTable struct {
	mu    sync.RWMutex
	conns map[string]*tableConn
}

type tableConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// NewConnTable creates an empty table.
func NewConnTable() *ConnTable {
	return &ConnTable{conns: make(map[string]*tableConn)}
}

// Add tracks a websocket connection under the given id.
func (t *ConnTable) Add(connID string, conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns[connID] = &tableConn{conn: conn}
}

// Remove drops the connection. Safe to call twice.
func (t *ConnTable) Remove(connID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.conns, connID)
}

// Send writes one event to one connection. A missing connection reports
// ErrConnectionGone so the fanout router can record the failure and move on.
func (t *ConnTable) Send(connID string, event models.Event) error {
	t.mu.RLock()
	tc, ok := t.conns[connID]
	t.mu.RUnlock()
	if !ok {
		return realtime.ErrConnectionGone
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.conn.WriteMessage(websocket.TextMessage, payload)
}
