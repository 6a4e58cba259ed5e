package realtime

import (
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"chat-realtime/internal/models"
)

const reactionShards = 64

type reactionKey struct {
	messageID int
	userID    int
	emoji     string
}

type reactionShard struct {
	mu   sync.Mutex
	keys map[reactionKey]time.Time
}

// ReactionLedger is a concurrent-safe toggle store for emoji reactions.
// Keys are striped across shards so toggles on the same key serialize while
// unrelated keys proceed in parallel.
type ReactionLedger struct {
	shards [reactionShards]*reactionShard
}

// NewReactionLedger creates an empty ledger.
func NewReactionLedger() *ReactionLedger {
	l := &ReactionLedger{}
	for i := range l.shards {
		l.shards[i] = &reactionShard{keys: make(map[reactionKey]time.Time)}
	}
	return l
}

// Toggle flips the (message, user, emoji) key and reports whether the
// reaction is now present. Atomic per key: two racing toggles alternate,
// they never both observe the same outcome.
func (l *ReactionLedger) Toggle(messageID, userID int, emoji string) bool {
	key := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	shard := l.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	if _, exists := shard.keys[key]; exists {
		delete(shard.keys, key)
		return false
	}
	shard.keys[key] = time.Now()
	return true
}

// Has reports whether the key is currently present.
func (l *ReactionLedger) Has(messageID, userID int, emoji string) bool {
	key := reactionKey{messageID: messageID, userID: userID, emoji: emoji}
	shard := l.shard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	_, exists := shard.keys[key]
	return exists
}

// List aggregates the message's reactions per emoji for rendering. Emojis
// and user ids are sorted so the view is deterministic.
func (l *ReactionLedger) List(messageID int) []models.ReactionGroup {
	byEmoji := make(map[string][]int)
	for _, shard := range l.shards {
		shard.mu.Lock()
		for key := range shard.keys {
			if key.messageID == messageID {
				byEmoji[key.emoji] = append(byEmoji[key.emoji], key.userID)
			}
		}
		shard.mu.Unlock()
	}

	emojis := make([]string, 0, len(byEmoji))
	for emoji := range byEmoji {
		emojis = append(emojis, emoji)
	}
	sort.Strings(emojis)

	groups := make([]models.ReactionGroup, 0, len(emojis))
	for _, emoji := range emojis {
		users := byEmoji[emoji]
		sort.Ints(users)
		groups = append(groups, models.ReactionGroup{Emoji: emoji, Count: len(users), Users: users})
	}
	return groups
}

func (l *ReactionLedger) shard(key reactionKey) *reactionShard {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d/%d/%s", key.messageID, key.userID, key.emoji)
	return l.shards[h.Sum32()%reactionShards]
}
