package realtime

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type presenceRecorder struct {
	mu      sync.Mutex
	changes []PresenceChange
}

func (r *presenceRecorder) sink(change PresenceChange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func (r *presenceRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, len(r.changes))
	for i, c := range r.changes {
		out[i] = c.Status
	}
	return out
}

func newPresenceFixture(grace, idle time.Duration) (*ConnectionRegistry, *PresenceTracker, *presenceRecorder) {
	reg := NewConnectionRegistry()
	tracker := NewPresenceTracker(grace, idle, nil)
	rec := &presenceRecorder{}
	tracker.SetSink(rec.sink)
	reg.Notify(tracker.HandleConnectionEvent)
	return reg, tracker, rec
}

func TestPresenceReconnectWithinGraceEmitsNoOffline(t *testing.T) {
	reg, tracker, rec := newPresenceFixture(80*time.Millisecond, time.Minute)
	defer tracker.Close()

	reg.Register(1, "c1")
	reg.Unregister("c1")
	time.Sleep(20 * time.Millisecond)
	reg.Register(1, "c2")

	// Wait well past the grace deadline: the cancelled timer must stay silent.
	time.Sleep(200 * time.Millisecond)

	require.Equal(t, []Status{StatusOnline}, rec.statuses())
	require.Equal(t, StatusOnline, tracker.StateOf(1).Status)
}

func TestPresenceOfflineAfterGraceExpiry(t *testing.T) {
	reg, tracker, rec := newPresenceFixture(40*time.Millisecond, time.Minute)
	defer tracker.Close()

	reg.Register(1, "c1")
	reg.Unregister("c1")

	require.Eventually(t, func() bool {
		return tracker.StateOf(1).Status == StatusOffline
	}, time.Second, 5*time.Millisecond)

	// Exactly one offline, no flicker.
	require.Equal(t, []Status{StatusOnline, StatusOffline}, rec.statuses())
}

func TestPresenceMultiDeviceKeepsUserOnline(t *testing.T) {
	reg, tracker, rec := newPresenceFixture(30*time.Millisecond, time.Minute)
	defer tracker.Close()

	reg.Register(1, "phone")
	reg.Register(1, "laptop")
	reg.Unregister("phone")

	time.Sleep(100 * time.Millisecond)

	require.Equal(t, []Status{StatusOnline}, rec.statuses())
	require.Equal(t, StatusOnline, tracker.StateOf(1).Status)
}

func TestPresenceAwayAfterIdleAndBackOnActivity(t *testing.T) {
	reg, tracker, rec := newPresenceFixture(time.Minute, 40*time.Millisecond)
	defer tracker.Close()

	reg.Register(1, "c1")

	require.Eventually(t, func() bool {
		return tracker.StateOf(1).Status == StatusAway
	}, time.Second, 5*time.Millisecond)

	tracker.Activity(1)
	require.Equal(t, StatusOnline, tracker.StateOf(1).Status)
	require.Equal(t, []Status{StatusOnline, StatusAway, StatusOnline}, rec.statuses())
}

// A user hopping connections (old one dropping while the new one registers)
// must never end up stranded offline while the registry still holds a live
// connection for them.
func TestPresenceTracksReconnectChurn(t *testing.T) {
	reg, tracker, rec := newPresenceFixture(20*time.Millisecond, time.Minute)
	defer tracker.Close()

	reg.Register(1, "conn-0")
	for i := 0; i < 100; i++ {
		oldID := fmt.Sprintf("conn-%d", i)
		newID := fmt.Sprintf("conn-%d", i+1)

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
	}

	// Wait well past the grace window: the surviving connection keeps the
	// user online and no offline transition was ever emitted.
	time.Sleep(100 * time.Millisecond)
	require.Equal(t, StatusOnline, tracker.StateOf(1).Status)
	require.NotContains(t, rec.statuses(), StatusOffline)
}

func TestPresenceUnknownUserIsOffline(t *testing.T) {
	_, tracker, _ := newPresenceFixture(time.Minute, time.Minute)
	defer tracker.Close()

	require.Equal(t, StatusOffline, tracker.StateOf(42).Status)
}

func TestPresenceActivityForOfflineUserIsIgnored(t *testing.T) {
	_, tracker, rec := newPresenceFixture(time.Minute, time.Minute)
	defer tracker.Close()

	tracker.Activity(7)
	require.Empty(t, rec.statuses())
}
