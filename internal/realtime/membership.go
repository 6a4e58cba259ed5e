package realtime

import (
	"context"
	"sync"
)

// RoomDirectory is the slice of the persistence collaborator the cache needs.
type RoomDirectory interface {
	Members(ctx context.Context, roomID int) ([]int, error)
	RoomsForUser(ctx context.Context, userID int) ([]int, error)
}

// MembershipCache is a read-through view of room membership used for fanout
// target resolution. Persistence stays the source of truth; the cache is
// dropped per room whenever a membership-changed signal arrives.
type MembershipCache struct {
	directory RoomDirectory

	mu      sync.RWMutex
	members map[int][]int
}

// NewMembershipCache wraps the directory.
func NewMembershipCache(directory RoomDirectory) *MembershipCache {
	return &MembershipCache{
		directory: directory,
		members:   make(map[int][]int),
	}
}

// Members returns the member set of the room, fetching it on first use.
func (c *MembershipCache) Members(ctx context.Context, roomID int) ([]int, error) {
	c.mu.RLock()
	cached, ok := c.members[roomID]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	members, err := c.directory.Members(ctx, roomID)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.members[roomID] = members
	c.mu.Unlock()
	return members, nil
}

// IsMember checks membership through the cached view.
func (c *MembershipCache) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	members, err := c.Members(ctx, roomID)
	if err != nil {
		return false, err
	}
	for _, id := range members {
		if id == userID {
			return true, nil
		}
	}
	return false, nil
}

// RoomsForUser is a pass-through; the per-user view changes too rarely on
// the hot path to be worth caching here.
func (c *MembershipCache) RoomsForUser(ctx context.Context, userID int) ([]int, error) {
	return c.directory.RoomsForUser(ctx, userID)
}

// Invalidate drops the cached member set for the room.
func (c *MembershipCache) Invalidate(roomID int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.members, roomID)
}
