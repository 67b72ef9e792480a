package client

import (
	"sync"
	"testing"
	"time"

	"github.com/npezzotti/go-campuschat/internal/types"
	"github.com/stretchr/testify/assert"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return baseTime.Add(offset)
}

func texts(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Text
	}
	return out
}

func TestTimeline_Add(t *testing.T) {
	tests := []struct {
		name     string
		entries  []Entry
		expected []string
	}{
		{
			name: "orders by timestamp",
			entries: []Entry{
				{SenderId: "1", Text: "third", Timestamp: at(3 * time.Second)},
				{SenderId: "1", Text: "first", Timestamp: at(time.Second)},
				{SenderId: "2", Text: "second", Timestamp: at(2 * time.Second)},
			},
			expected: []string{"first", "second", "third"},
		},
		{
			name: "drops duplicate sender and timestamp",
			entries: []Entry{
				{SenderId: "1", Text: "hi", Timestamp: at(time.Second)},
				{SenderId: "1", Text: "hi again", Timestamp: at(time.Second)},
			},
			expected: []string{"hi"},
		},
		{
			name: "same timestamp different senders kept in arrival order",
			entries: []Entry{
				{SenderId: "2", Text: "from bob", Timestamp: at(time.Second)},
				{SenderId: "1", Text: "from alice", Timestamp: at(time.Second)},
			},
			expected: []string{"from bob", "from alice"},
		},
		{
			name: "same sender and timestamp in different rooms",
			entries: []Entry{
				{RoomId: "r1", SenderId: "1", Text: "one", Timestamp: at(time.Second)},
				{RoomId: "r2", SenderId: "1", Text: "two", Timestamp: at(time.Second)},
			},
			expected: []string{"one", "two"},
		},
		{
			name: "timestamps compared as instants",
			entries: []Entry{
				{SenderId: "1", Text: "utc", Timestamp: at(time.Second)},
				{SenderId: "1", Text: "local", Timestamp: at(time.Second).In(time.FixedZone("x", 3600))},
			},
			expected: []string{"utc"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := NewTimeline()
			for _, e := range tt.entries {
				tl.Add(e)
			}

			assert.Equal(t, tt.expected, texts(tl.Entries()))
		})
	}
}

func TestTimeline_MergeHistoryAfterLivePush(t *testing.T) {
	tl := NewTimeline()

	own := true
	live := RoomEntry(types.RoomMessage{
		RoomId:        "room-1",
		SenderId:      "1",
		SenderName:    "alice",
		Text:          "hello room",
		Timestamp:     at(5 * time.Second),
		IsCurrentUser: &own,
	})
	assert.True(t, tl.Add(live))

	history := []Entry{
		RoomEntry(types.RoomMessage{RoomId: "room-1", SenderId: "2", SenderName: "bob", Text: "earlier", Timestamp: at(time.Second)}),
		RoomEntry(types.RoomMessage{RoomId: "room-1", SenderId: "1", SenderName: "alice", Text: "hello room", Timestamp: at(5 * time.Second)}),
		RoomEntry(types.RoomMessage{RoomId: "room-1", SenderId: "3", SenderName: "carol", Text: "later", Timestamp: at(9 * time.Second)}),
	}

	added := tl.Merge(history)
	assert.Equal(t, 2, added)

	entries := tl.Entries()
	assert.Equal(t, []string{"earlier", "hello room", "later"}, texts(entries))
	assert.NotNil(t, entries[1].IsCurrentUser, "live entry should be kept over the history copy")

	assert.Equal(t, 0, tl.Merge(history))
	assert.Equal(t, 3, tl.Len())
}

func TestTimeline_Reset(t *testing.T) {
	tl := NewTimeline()
	e := DirectEntry(types.ChatMessage{SenderId: "1", ReceiverId: "2", Text: "hi", Timestamp: at(0)})

	assert.True(t, tl.Add(e))
	tl.Reset()
	assert.Equal(t, 0, tl.Len())
	assert.True(t, tl.Add(e))
}

func TestTimeline_ConcurrentAdd(t *testing.T) {
	tl := NewTimeline()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tl.Add(Entry{SenderId: "1", Text: "x", Timestamp: at(time.Duration(i%10) * time.Second)})
		}(i)
	}
	wg.Wait()

	entries := tl.Entries()
	assert.Len(t, entries, 10)
	for i := 1; i < len(entries); i++ {
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp))
	}
}

func TestEntry_IsOwn(t *testing.T) {
	yes, no := true, false

	tests := []struct {
		name     string
		entry    Entry
		expected bool
	}{
		{"flag true", Entry{SenderId: "2", IsCurrentUser: &yes}, true},
		{"flag false", Entry{SenderId: "1", IsCurrentUser: &no}, false},
		{"no flag own sender", Entry{SenderId: "1"}, true},
		{"no flag other sender", Entry{SenderId: "2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.entry.IsOwn("1"))
		})
	}
}

func TestTimeline_MergeHistoryWithStoredPrecision(t *testing.T) {
	live := time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)

	tests := []struct {
		name   string
		stored time.Time
	}{
		{"same millisecond", live},
		{"microsecond rounded copy", time.Date(2024, 5, 1, 10, 0, 0, 123457000, time.UTC)},
		{"sub-millisecond digits", time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := NewTimeline()
			assert.True(t, tl.Add(DirectEntry(types.ChatMessage{
				SenderId: "1", ReceiverId: "2", Text: "hi", Timestamp: live,
			})))

			added := tl.Merge([]Entry{DirectEntry(types.ChatMessage{
				SenderId: "1", ReceiverId: "2", Text: "hi", Timestamp: tt.stored,
			})})

			assert.Equal(t, 0, added)
			assert.Equal(t, 1, tl.Len())
		})
	}

	tl := NewTimeline()
	tl.Add(Entry{SenderId: "1", Text: "a", Timestamp: live})
	assert.True(t, tl.Add(Entry{SenderId: "1", Text: "b", Timestamp: live.Add(time.Millisecond)}),
		"messages a millisecond apart are distinct")
}
