package server

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/stats"
	"github.com/npezzotti/go-campuschat/internal/testutil"
	"github.com/npezzotti/go-campuschat/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

const testTimestamp = "2024-05-01T10:00:00.000Z"

type routerFixture struct {
	db       *database.MockGoChatRepository
	registry *Registry
	router   *Router
}

func newRouterFixture(t *testing.T) *routerFixture {
	db := &database.MockGoChatRepository{}
	reg := NewRegistry()
	l := testutil.TestLogger(t)
	m := NewMembership(db, l)

	return &routerFixture{
		db:       db,
		registry: reg,
		router:   NewRouter(l, db, reg, m, stats.NewAnyMockStatsUpdater()),
	}
}

func (f *routerFixture) bind(userId string, ctx ChatContext) *fakeSocket {
	s := newFakeSocket()
	f.registry.Bind(userId, strings.ToUpper(userId[:1])+userId[1:], ctx, s)
	return s
}

func (f *routerFixture) from(userId string, s *fakeSocket) Binding {
	for _, b := range f.registry.SocketsFor(userId) {
		if b.Socket == s {
			return b
		}
	}
	panic("socket not bound")
}

func errorMessages(frames []any) []string {
	var out []string
	for _, f := range frames {
		if e, ok := f.(*ErrorMessage); ok {
			out = append(out, e.Message)
		}
	}
	return out
}

func TestRouter_DirectMessage(t *testing.T) {
	f := newRouterFixture(t)

	aliceDM := f.bind("alice", ChatContext{ReceiverId: "bob"})
	aliceOther := f.bind("alice", ChatContext{ReceiverId: "carol"})
	bobDM := f.bind("bob", ChatContext{ReceiverId: "alice"})
	bobRoom := f.bind("bob", ChatContext{RoomId: "room-1"})
	carolDM := f.bind("carol", ChatContext{ReceiverId: "alice"})

	f.db.On("CreateDirectMessage", mock.MatchedBy(func(m database.DirectMessage) bool {
		return m.SenderId == "alice" && m.ReceiverId == "bob" && m.Content == "hi"
	})).Return(nil).Once()

	f.router.Route(context.Background(), f.from("alice", aliceDM),
		[]byte(`{"senderId":"alice","receiverId":"bob","text":"hi","timestamp":"`+testTimestamp+`"}`))

	for name, s := range map[string]*fakeSocket{"sender": aliceDM, "receiver": bobDM} {
		frames := s.Frames()
		if assert.Len(t, frames, 1, "expected one frame on %s socket", name) {
			msg, ok := frames[0].(types.ChatMessage)
			if assert.True(t, ok, "expected a chat message") {
				assert.Equal(t, "alice", msg.SenderId)
				assert.Equal(t, "bob", msg.ReceiverId)
				assert.Equal(t, "hi", msg.Text)
				assert.Equal(t, "Alice", msg.SenderName, "expected server filled sender name")
				assert.True(t, msg.Timestamp.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)),
					"expected client timestamp to be kept")
			}
		}
	}

	assert.Empty(t, aliceOther.Frames(), "expected no delivery to a socket viewing another conversation")
	assert.Empty(t, bobRoom.Frames(), "expected no delivery to a socket bound to a room")
	assert.Empty(t, carolDM.Frames())
	f.db.AssertExpectations(t)
}

func TestRouter_DirectMessageRejections(t *testing.T) {
	tcases := []struct {
		name       string
		frame      string
		wantErrors []string
	}{
		{
			name:  "spoofed sender",
			frame: `{"senderId":"mallory","receiverId":"bob","text":"hi","timestamp":"` + testTimestamp + `"}`,
		},
		{
			name:       "send to self",
			frame:      `{"senderId":"alice","receiverId":"alice","text":"hi","timestamp":"` + testTimestamp + `"}`,
			wantErrors: []string{"cannot send a direct message to yourself"},
		},
		{
			name:  "malformed json",
			frame: `{"senderId":`,
		},
		{
			name:  "missing text",
			frame: `{"senderId":"alice","receiverId":"bob","timestamp":"` + testTimestamp + `"}`,
		},
		{
			name:  "bad timestamp",
			frame: `{"senderId":"alice","receiverId":"bob","text":"hi","timestamp":"yesterday"}`,
		},
		{
			name:  "markup only",
			frame: `{"senderId":"alice","receiverId":"bob","text":"<script></script>","timestamp":"` + testTimestamp + `"}`,
		},
		{
			name:       "too long",
			frame:      `{"senderId":"alice","receiverId":"bob","text":"` + strings.Repeat("a", maxTextLength+1) + `","timestamp":"` + testTimestamp + `"}`,
			wantErrors: []string{ErrMessageTooLongFrame().Message},
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			f := newRouterFixture(t)
			alice := f.bind("alice", ChatContext{ReceiverId: "bob"})
			bob := f.bind("bob", ChatContext{ReceiverId: "alice"})

			f.router.Route(context.Background(), f.from("alice", alice), []byte(tc.frame))

			assert.Equal(t, tc.wantErrors, errorMessages(alice.Frames()))
			assert.Empty(t, bob.Frames(), "expected nothing delivered to the peer")
			f.db.AssertNotCalled(t, "CreateDirectMessage", mock.Anything)
		})
	}
}

func TestRouter_DirectMessagePersistFailure(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.bind("alice", ChatContext{ReceiverId: "bob"})
	bob := f.bind("bob", ChatContext{ReceiverId: "alice"})

	f.db.On("CreateDirectMessage", mock.Anything).Return(errors.New("db down")).Once()

	f.router.Route(context.Background(), f.from("alice", alice),
		[]byte(`{"senderId":"alice","receiverId":"bob","text":"hi","timestamp":"`+testTimestamp+`"}`))

	assert.Equal(t, []string{"internal server error"}, errorMessages(alice.Frames()))
	assert.Empty(t, bob.Frames(), "expected no fan-out when persisting fails")
}

func TestRouter_SanitizesText(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.bind("alice", ChatContext{ReceiverId: "bob"})

	f.db.On("CreateDirectMessage", mock.MatchedBy(func(m database.DirectMessage) bool {
		return m.Content == "hello"
	})).Return(nil).Once()

	f.router.Route(context.Background(), f.from("alice", alice),
		[]byte(`{"senderId":"alice","receiverId":"bob","text":"<b>hello</b>","timestamp":"`+testTimestamp+`"}`))

	f.db.AssertExpectations(t)
}

func TestRouter_KeepsPunctuation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{"apostrophe and quotes", `I'm sure it's \"ok\"`, `I'm sure it's "ok"`},
		{"comparison and ampersand", `2 < 3 & 4 > 1`, `2 < 3 & 4 > 1`},
		{"markup stripped punctuation kept", `<i>fish & chips</i>`, `fish & chips`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newRouterFixture(t)
			alice := f.bind("alice", ChatContext{ReceiverId: "bob"})
			bob := f.bind("bob", ChatContext{ReceiverId: "alice"})

			f.db.On("CreateDirectMessage", mock.MatchedBy(func(m database.DirectMessage) bool {
				return m.Content == tt.want
			})).Return(nil).Once()

			f.router.Route(context.Background(), f.from("alice", alice),
				[]byte(`{"senderId":"alice","receiverId":"bob","text":"`+tt.text+`","timestamp":"`+testTimestamp+`"}`))

			frames := bob.Frames()
			if assert.Len(t, frames, 1) {
				msg, ok := frames[0].(types.ChatMessage)
				if assert.True(t, ok) {
					assert.Equal(t, tt.want, msg.Text)
				}
			}
			f.db.AssertExpectations(t)
		})
	}
}

func TestRouter_LengthLimitCountsTypedText(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.bind("alice", ChatContext{ReceiverId: "bob"})

	text := strings.Repeat("&", maxTextLength)
	f.db.On("CreateDirectMessage", mock.MatchedBy(func(m database.DirectMessage) bool {
		return m.Content == text
	})).Return(nil).Once()

	f.router.Route(context.Background(), f.from("alice", alice),
		[]byte(`{"senderId":"alice","receiverId":"bob","text":"`+text+`","timestamp":"`+testTimestamp+`"}`))

	assert.Empty(t, errorMessages(alice.Frames()))
	f.db.AssertExpectations(t)
}

func TestRouter_TruncatesTimestampToMillis(t *testing.T) {
	f := newRouterFixture(t)
	alice := f.bind("alice", ChatContext{ReceiverId: "bob"})
	bob := f.bind("bob", ChatContext{ReceiverId: "alice"})

	want := time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)
	f.db.On("CreateDirectMessage", mock.MatchedBy(func(m database.DirectMessage) bool {
		return m.SentAt.Equal(want)
	})).Return(nil).Once()

	f.router.Route(context.Background(), f.from("alice", alice),
		[]byte(`{"senderId":"alice","receiverId":"bob","text":"hi","timestamp":"2024-05-01T10:00:00.123456789Z"}`))

	frames := bob.Frames()
	if assert.Len(t, frames, 1) {
		msg, ok := frames[0].(types.ChatMessage)
		if assert.True(t, ok) {
			assert.True(t, msg.Timestamp.Equal(want), "got %s", msg.Timestamp)
			assert.Equal(t, 123000000, msg.Timestamp.Nanosecond())
		}
	}
	f.db.AssertExpectations(t)
}

func TestRouter_RoomMessage(t *testing.T) {
	f := newRouterFixture(t)
	mockRoom(f.db, "room-1", "alice", "alice", "bob", "carol")

	alice := f.bind("alice", ChatContext{RoomId: "room-1"})
	bob := f.bind("bob", ChatContext{RoomId: "room-1"})
	bobElsewhere := f.bind("bob", ChatContext{RoomId: "room-2"})
	carol := f.bind("carol", ChatContext{ReceiverId: "alice"})
	dave := f.bind("dave", ChatContext{RoomId: "room-1"})

	f.db.On("CreateRoomMessage", mock.MatchedBy(func(m database.RoomMessage) bool {
		return m.RoomId == "room-1" && m.SenderId == "alice" && m.SenderName == "Alice" && m.Content == "hello room"
	})).Return(nil).Once()

	f.router.Route(context.Background(), f.from("alice", alice),
		[]byte(`{"roomId":"room-1","senderId":"alice","senderName":"Alice","text":"hello room","timestamp":"`+testTimestamp+`"}`))

	tcases := []struct {
		socket        *fakeSocket
		isCurrentUser bool
	}{
		{socket: alice, isCurrentUser: true},
		{socket: bob, isCurrentUser: false},
	}
	for _, tc := range tcases {
		frames := tc.socket.Frames()
		if assert.Len(t, frames, 1) {
			msg, ok := frames[0].(types.RoomMessage)
			if assert.True(t, ok, "expected a room message") {
				assert.Equal(t, "room-1", msg.RoomId)
				assert.Equal(t, "hello room", msg.Text)
				if assert.NotNil(t, msg.IsCurrentUser) {
					assert.Equal(t, tc.isCurrentUser, *msg.IsCurrentUser)
				}
			}
		}
	}

	assert.Empty(t, bobElsewhere.Frames(), "expected no delivery to a socket bound to another room")
	assert.Empty(t, carol.Frames(), "expected no delivery to a member viewing a direct conversation")
	assert.Empty(t, dave.Frames(), "expected no delivery to a non-member")
	f.db.AssertExpectations(t)
}

func TestRouter_RoomMessageFromNonMember(t *testing.T) {
	f := newRouterFixture(t)
	mockRoom(f.db, "room-1", "alice", "alice", "bob", "carol")

	alice := f.bind("alice", ChatContext{RoomId: "room-1"})
	dave := f.bind("dave", ChatContext{RoomId: "room-1"})

	f.router.Route(context.Background(), f.from("dave", dave),
		[]byte(`{"roomId":"room-1","senderId":"dave","senderName":"Dave","text":"let me in","timestamp":"`+testTimestamp+`"}`))

	assert.Equal(t, []string{"not a member of this room"}, errorMessages(dave.Frames()))
	assert.Empty(t, alice.Frames(), "expected nothing delivered to members")
	f.db.AssertNotCalled(t, "CreateRoomMessage", mock.Anything)
}

func TestRouter_RoomMessageAfterLeave(t *testing.T) {
	f := newRouterFixture(t)
	mockRoom(f.db, "room-1", "alice", "alice", "bob")
	f.db.On("RemoveRoomMember", "room-1", "bob").Return(nil).Once()
	f.db.On("CreateRoomMessage", mock.Anything).Return(nil).Once()

	alice := f.bind("alice", ChatContext{RoomId: "room-1"})
	bob := f.bind("bob", ChatContext{RoomId: "room-1"})

	assert.NoError(t, f.router.membership.Leave(context.Background(), "room-1", "bob"))

	f.router.Route(context.Background(), f.from("alice", alice),
		[]byte(`{"roomId":"room-1","senderId":"alice","senderName":"Alice","text":"still here?","timestamp":"`+testTimestamp+`"}`))

	assert.Len(t, alice.Frames(), 1)
	assert.Empty(t, bob.Frames(), "expected a former member to receive nothing")
}

func TestRouter_NotifyRoomDeleted(t *testing.T) {
	f := newRouterFixture(t)
	inRoom := f.bind("alice", ChatContext{RoomId: "room-1"})
	elsewhere := f.bind("bob", ChatContext{RoomId: "room-2"})

	f.router.NotifyRoomDeleted("room-1")

	frames := inRoom.Frames()
	if assert.Len(t, frames, 1) {
		assert.Equal(t, RoomDeletedFrame("room-1"), frames[0])
	}
	assert.Empty(t, elsewhere.Frames())
}
