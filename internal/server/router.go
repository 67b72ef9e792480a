package server

import (
	"context"
	"html"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/stats"
	"github.com/npezzotti/go-campuschat/internal/types"
)

const maxTextLength = 2000

// Router delivers chat frames from an authenticated socket. It persists
// every accepted message before fanning it out to the recipients'
// sockets bound to the matching context.
type Router struct {
	log        *log.Logger
	db         database.GoChatRepository
	registry   *Registry
	membership *Membership
	stats      stats.StatsProvider
	sanitizer  *bluemonday.Policy
}

func NewRouter(l *log.Logger, db database.GoChatRepository, reg *Registry, m *Membership, su stats.StatsProvider) *Router {
	return &Router{
		log:        l,
		db:         db,
		registry:   reg,
		membership: m,
		stats:      su,
		sanitizer:  bluemonday.StrictPolicy(),
	}
}

// Route handles one raw frame received on from.Socket.
func (rt *Router) Route(ctx context.Context, from Binding, raw []byte) {
	msg, err := parseClientMessage(raw)
	if err != nil {
		rt.log.Printf("dropping malformed frame from %q: %v", from.UserId, err)
		return
	}

	switch msg.kind() {
	case kindDirect:
		rt.routeDirect(ctx, from, msg)
	case kindRoom:
		rt.routeRoom(ctx, from, msg)
	case kindAuth:
		rt.log.Printf("ignoring repeated auth frame from %q", from.UserId)
	default:
		rt.log.Printf("dropping unrecognized frame from %q", from.UserId)
	}
}

// cleanText strips markup from text and returns it with entities decoded,
// so stored and pushed text is what the user typed minus any tags.
// Oversized text is reported to the sender.
func (rt *Router) cleanText(from Binding, text string) (string, bool) {
	clean := strings.TrimSpace(html.UnescapeString(rt.sanitizer.Sanitize(text)))
	if clean == "" {
		rt.log.Printf("dropping empty message from %q", from.UserId)
		return "", false
	}
	if utf8.RuneCountInString(clean) > maxTextLength {
		from.Socket.Queue(ErrMessageTooLongFrame())
		return "", false
	}
	return clean, true
}

func (rt *Router) routeDirect(ctx context.Context, from Binding, msg *ClientMessage) {
	if msg.SenderId != from.UserId {
		rt.log.Printf("ignoring direct message from %q claiming sender %q", from.UserId, msg.SenderId)
		return
	}

	if msg.ReceiverId == from.UserId {
		from.Socket.Queue(ErrSelfMessageFrame())
		return
	}

	ts, err := msg.timestamp()
	if err != nil {
		rt.log.Printf("dropping direct message from %q: %v", from.UserId, err)
		return
	}

	text, ok := rt.cleanText(from, *msg.Text)
	if !ok {
		return
	}

	if err := rt.db.CreateDirectMessage(ctx, database.DirectMessage{
		SenderId:   from.UserId,
		ReceiverId: msg.ReceiverId,
		Content:    text,
		SentAt:     ts,
	}); err != nil {
		rt.log.Printf("failed to save direct message from %q: %v", from.UserId, err)
		from.Socket.Queue(ErrInternalFrame())
		return
	}

	out := directPayload(types.ChatMessage{
		SenderId:   from.UserId,
		ReceiverId: msg.ReceiverId,
		Text:       text,
		Timestamp:  ts,
		SenderName: from.Username,
	})

	// echo to the sender's own sockets viewing this conversation
	for _, b := range rt.registry.SocketsFor(from.UserId) {
		if b.Context.ReceiverId == msg.ReceiverId {
			b.Socket.Queue(out)
		}
	}
	for _, b := range rt.registry.SocketsFor(msg.ReceiverId) {
		if b.Context.ReceiverId == from.UserId {
			b.Socket.Queue(out)
		}
	}

	rt.stats.Incr(stats.MessagesRouted)
}

func (rt *Router) routeRoom(ctx context.Context, from Binding, msg *ClientMessage) {
	if msg.SenderId != from.UserId {
		rt.log.Printf("ignoring room message from %q claiming sender %q", from.UserId, msg.SenderId)
		return
	}

	ok, err := rt.membership.IsMember(ctx, msg.RoomId, from.UserId)
	if err != nil {
		rt.log.Printf("membership lookup for room %q failed: %v", msg.RoomId, err)
		from.Socket.Queue(ErrInternalFrame())
		return
	}
	if !ok {
		from.Socket.Queue(ErrNotMemberFrame())
		return
	}

	ts, err := msg.timestamp()
	if err != nil {
		rt.log.Printf("dropping room message from %q: %v", from.UserId, err)
		return
	}

	text, ok := rt.cleanText(from, *msg.Text)
	if !ok {
		return
	}

	senderName := from.Username
	if senderName == "" {
		senderName = msg.SenderName
	}

	if err := rt.db.CreateRoomMessage(ctx, database.RoomMessage{
		RoomId:     msg.RoomId,
		SenderId:   from.UserId,
		SenderName: senderName,
		Content:    text,
		SentAt:     ts,
	}); err != nil {
		rt.log.Printf("failed to save message to room %q: %v", msg.RoomId, err)
		from.Socket.Queue(ErrInternalFrame())
		return
	}

	members, err := rt.membership.MembersOf(ctx, msg.RoomId)
	if err != nil {
		rt.log.Printf("list members of room %q: %v", msg.RoomId, err)
		return
	}

	base := types.RoomMessage{
		RoomId:     msg.RoomId,
		SenderId:   from.UserId,
		SenderName: senderName,
		Text:       text,
		Timestamp:  ts,
	}
	for _, member := range members {
		for _, b := range rt.registry.SocketsFor(member) {
			if b.Context.RoomId != msg.RoomId {
				continue
			}
			b.Socket.Queue(roomPayload(base, member == from.UserId))
		}
	}

	rt.stats.Incr(stats.MessagesRouted)
}

// NotifyRoomDeleted tells every socket bound to roomId that the room is
// gone.
func (rt *Router) NotifyRoomDeleted(roomId string) {
	bound := rt.registry.Filter(func(b Binding) bool {
		return b.Context.RoomId == roomId
	})
	for _, b := range bound {
		b.Socket.Queue(RoomDeletedFrame(roomId))
	}
}
