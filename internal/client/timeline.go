package client

import (
	"sort"
	"sync"
	"time"

	"github.com/npezzotti/go-campuschat/internal/types"
)

// Entry is one message shown in a conversation, direct or room.
type Entry struct {
	RoomId        string
	SenderId      string
	ReceiverId    string
	SenderName    string
	Text          string
	Timestamp     time.Time
	IsCurrentUser *bool
}

// IsOwn reports whether the entry was sent by selfId. Live room pushes
// carry the answer; history rows fall back to comparing sender ids.
func (e Entry) IsOwn(selfId string) bool {
	if e.IsCurrentUser != nil {
		return *e.IsCurrentUser
	}
	return e.SenderId == selfId
}

func DirectEntry(m types.ChatMessage) Entry {
	return Entry{
		SenderId:   m.SenderId,
		ReceiverId: m.ReceiverId,
		SenderName: m.SenderName,
		Text:       m.Text,
		Timestamp:  m.Timestamp,
	}
}

func RoomEntry(m types.RoomMessage) Entry {
	return Entry{
		RoomId:        m.RoomId,
		SenderId:      m.SenderId,
		SenderName:    m.SenderName,
		Text:          m.Text,
		Timestamp:     m.Timestamp,
		IsCurrentUser: m.IsCurrentUser,
	}
}

type entryKey struct {
	roomId   string
	senderId string
	tsMillis int64
}

// keyOf identifies an entry at millisecond precision, the precision
// timestamps are sent with.
func keyOf(e Entry) entryKey {
	return entryKey{roomId: e.RoomId, senderId: e.SenderId, tsMillis: e.Timestamp.UnixMilli()}
}

// Timeline holds the messages of one conversation, deduplicated by sender
// and timestamp and ordered by timestamp. Entries with equal timestamps
// keep the order in which they were added.
type Timeline struct {
	mu      sync.Mutex
	entries []Entry
	seen    map[entryKey]struct{}
}

func NewTimeline() *Timeline {
	return &Timeline{seen: make(map[entryKey]struct{})}
}

// Add inserts e unless an entry with the same key is already present. It
// reports whether e was inserted.
func (t *Timeline) Add(e Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addLocked(e)
}

// Merge adds every entry, typically a page of history, and returns how
// many were new.
func (t *Timeline) Merge(entries []Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	added := 0
	for _, e := range entries {
		if t.addLocked(e) {
			added++
		}
	}
	return added
}

func (t *Timeline) addLocked(e Entry) bool {
	k := keyOf(e)
	if _, ok := t.seen[k]; ok {
		return false
	}
	t.seen[k] = struct{}{}

	i := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].Timestamp.After(e.Timestamp)
	})
	t.entries = append(t.entries, Entry{})
	copy(t.entries[i+1:], t.entries[i:])
	t.entries[i] = e

	return true
}

func (t *Timeline) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Entry(nil), t.entries...)
}

func (t *Timeline) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// Reset empties the timeline, for example when switching conversations.
func (t *Timeline) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = nil
	t.seen = make(map[entryKey]struct{})
}
