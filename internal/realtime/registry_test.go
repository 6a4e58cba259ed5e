package realtime

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// waitFor polls until the condition holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestRegistryRegisterAndUnregister(t *testing.T) {
	reg := NewConnectionRegistry()

	if _, err := reg.Register(1, "c1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := reg.Register(2, "c1"); !errors.Is(err, ErrDuplicateConnection) {
		t.Fatalf("expected duplicate connection error, got %v", err)
	}
	if got := len(reg.ConnectionsForUser(1)); got != 1 {
		t.Fatalf("expected one connection for user, got %d", got)
	}

	reg.Unregister("c1")
	if got := len(reg.ConnectionsForUser(1)); got != 0 {
		t.Fatalf("expected no connections after unregister, got %d", got)
	}
	// Duplicate disconnects are a no-op, not an error.
	reg.Unregister("c1")
}

func TestRegistryRoomMembership(t *testing.T) {
	reg := NewConnectionRegistry()

	if err := reg.JoinRoom("missing", 1); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("expected unknown connection error, got %v", err)
	}

	if _, err := reg.Register(1, "c1"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := reg.Register(2, "c2"); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.JoinRoom("c1", 10); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if err := reg.JoinRoom("c2", 10); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if got := len(reg.ConnectionsInRoom(10)); got != 2 {
		t.Fatalf("expected two connections in room, got %d", got)
	}

	if err := reg.LeaveRoom("c2", 10); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	conns := reg.ConnectionsInRoom(10)
	if len(conns) != 1 || conns[0].ID != "c1" {
		t.Fatalf("expected only c1 in room, got %v", conns)
	}
}

func TestRegistryObserverCounts(t *testing.T) {
	reg := NewConnectionRegistry()

	var mu sync.Mutex
	var events []ConnectionEvent
	reg.Notify(func(ev ConnectionEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	reg.Register(1, "a")
	reg.Register(1, "b")
	reg.Unregister("a")
	reg.Unregister("b")

	wantCounts := []int{1, 2, 1, 0}
	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == len(wantCounts)
	}, "observer events not delivered")

	mu.Lock()
	defer mu.Unlock()
	for i, want := range wantCounts {
		if events[i].UserConnections != want {
			t.Fatalf("event %d: expected count %d, got %d", i, want, events[i].UserConnections)
		}
	}
	if events[2].Type != ConnectionRemoved || events[2].UserID != 1 {
		t.Fatalf("removal event should carry the last known user id, got %+v", events[2])
	}
}

// Concurrent unregister of an old connection and register of a new one must
// never deliver the events inverted: the last event an observer sees carries
// the registry's true final count.
func TestRegistryObserverOrderUnderReconnectChurn(t *testing.T) {
	reg := NewConnectionRegistry()

	var mu sync.Mutex
	var delivered int
	var last ConnectionEvent
	reg.Notify(func(ev ConnectionEvent) {
		mu.Lock()
		delivered++
		last = ev
		mu.Unlock()
	})

	const rounds = 200
	for i := 0; i < rounds; i++ {
		oldID := fmt.Sprintf("old-%d", i)
		newID := fmt.Sprintf("new-%d", i)
		reg.Register(1, oldID)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			reg.Unregister(oldID)
		}()
		go func() {
			defer wg.Done()
			reg.Register(1, newID)
		}()
		wg.Wait()
		reg.Unregister(newID)
	}

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return delivered == rounds*4
	}, "observer events not delivered")

	mu.Lock()
	defer mu.Unlock()
	if last.UserConnections != 0 {
		t.Fatalf("final event count %d diverged from registry count 0", last.UserConnections)
	}
	if last.Type != ConnectionRemoved {
		t.Fatalf("final event should be a removal, got %+v", last)
	}
}

func TestRegistrySnapshotIsolation(t *testing.T) {
	reg := NewConnectionRegistry()
	reg.Register(1, "c1")
	reg.JoinRoom("c1", 5)

	snap := reg.ConnectionsForUser(1)[0]
	snap.Rooms = append(snap.Rooms, 99)

	if got := len(reg.ConnectionsInRoom(99)); got != 0 {
		t.Fatalf("mutating a snapshot must not touch registry state")
	}
}
