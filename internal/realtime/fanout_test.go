package realtime

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"chat-realtime/internal/models"
)

type fakeTransport struct {
	mu    sync.Mutex
	sent  map[string][]models.Event
	fails map[string]error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{sent: make(map[string][]models.Event), fails: make(map[string]error)}
}

func (t *fakeTransport) Send(connID string, event models.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err, ok := t.fails[connID]; ok {
		return err
	}
	t.sent[connID] = append(t.sent[connID], event)
	return nil
}

func (t *fakeTransport) events(connID string) []models.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]models.Event(nil), t.sent[connID]...)
}

func (t *fakeTransport) failWith(connID string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fails[connID] = err
}

func TestFanoutRoomOrderPreserved(t *testing.T) {
	reg := NewConnectionRegistry()
	transport := newFakeTransport()
	router := NewFanoutRouter(reg, transport)
	defer router.Close()

	reg.Register(1, "a")
	reg.Register(2, "b")
	require.NoError(t, reg.JoinRoom("a", 5))
	require.NoError(t, reg.JoinRoom("b", 5))

	const n = 25
	for i := 1; i <= n; i++ {
		router.DispatchToRoom(5, models.Event{Type: models.EventMessageSent, MessageID: i})
	}

	for _, connID := range []string{"a", "b"} {
		events := transport.events(connID)
		require.Len(t, events, n)
		for i, ev := range events {
			require.Equal(t, i+1, ev.MessageID, "conn %s out of order", connID)
		}
	}
}

func TestFanoutFailureReportedWithoutAbortingBatch(t *testing.T) {
	reg := NewConnectionRegistry()
	transport := newFakeTransport()
	router := NewFanoutRouter(reg, transport)
	defer router.Close()

	reg.Register(1, "ok")
	reg.Register(2, "broken")
	require.NoError(t, reg.JoinRoom("ok", 3))
	require.NoError(t, reg.JoinRoom("broken", 3))
	transport.failWith("broken", ErrConnectionGone)

	report := router.DispatchToRoom(3, models.Event{Type: models.EventMessageSent, MessageID: 1})

	require.Len(t, report.Failures, 1)
	require.Equal(t, "broken", report.Failures[0].ConnID)
	require.Equal(t, 2, report.Failures[0].UserID)
	require.ErrorIs(t, report.Failures[0].Err, ErrConnectionGone)

	require.Len(t, report.Delivered, 1)
	require.Equal(t, "ok", report.Delivered[0].ID)
	require.Len(t, transport.events("ok"), 1)
}

func TestFanoutUnregisteredConnectionIsSkipped(t *testing.T) {
	reg := NewConnectionRegistry()
	transport := newFakeTransport()
	router := NewFanoutRouter(reg, transport)
	defer router.Close()

	reg.Register(1, "gone")
	require.NoError(t, reg.JoinRoom("gone", 2))
	reg.Unregister("gone")

	report := router.DispatchToRoom(2, models.Event{Type: models.EventMessageSent})
	require.Empty(t, report.Delivered)
	require.Empty(t, report.Failures)
}

func TestFanoutToUserHitsAllDevices(t *testing.T) {
	reg := NewConnectionRegistry()
	transport := newFakeTransport()
	router := NewFanoutRouter(reg, transport)
	defer router.Close()

	reg.Register(1, "phone")
	reg.Register(1, "laptop")
	reg.Register(2, "other")

	report := router.DispatchToUser(1, models.Event{Type: models.EventMessageDelivered, MessageID: 4})
	require.Len(t, report.Delivered, 2)
	require.Len(t, transport.events("phone"), 1)
	require.Len(t, transport.events("laptop"), 1)
	require.Empty(t, transport.events("other"))
}

func TestFanoutConcurrentRoomsComplete(t *testing.T) {
	reg := NewConnectionRegistry()
	transport := newFakeTransport()
	router := NewFanoutRouter(reg, transport)
	defer router.Close()

	reg.Register(1, "r1")
	reg.Register(2, "r2")
	require.NoError(t, reg.JoinRoom("r1", 1))
	require.NoError(t, reg.JoinRoom("r2", 2))

	var wg sync.WaitGroup
	for room := 1; room <= 2; room++ {
		wg.Add(1)
		go func(room int) {
			defer wg.Done()
			for i := 1; i <= 10; i++ {
				router.DispatchToRoom(room, models.Event{Type: models.EventMessageSent, MessageID: i, RoomID: room})
			}
		}(room)
	}
	wg.Wait()

	require.Len(t, transport.events("r1"), 10)
	require.Len(t, transport.events("r2"), 10)
}

// Dispatchers racing Close must either complete their batch or get an empty
// report; a send on a closed queue would panic the process.
func TestFanoutCloseDuringDispatchIsSafe(t *testing.T) {
	for i := 0; i < 200; i++ {
		reg := NewConnectionRegistry()
		transport := newFakeTransport()
		router := NewFanoutRouter(reg, transport)

		reg.Register(1, "a")
		require.NoError(t, reg.JoinRoom("a", 1))

		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 5; j++ {
					router.DispatchToRoom(1, models.Event{Type: models.EventMessageSent, MessageID: j})
				}
			}()
		}
		router.Close()
		wg.Wait()
	}
}

func TestFanoutDispatchAfterClose(t *testing.T) {
	reg := NewConnectionRegistry()
	router := NewFanoutRouter(reg, newFakeTransport())
	router.Close()

	report := router.DispatchToRoom(1, models.Event{Type: models.EventMessageSent})
	require.Empty(t, report.Delivered)
	require.Empty(t, report.Failures)
}
