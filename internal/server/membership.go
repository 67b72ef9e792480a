package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"sync"

	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/types"
	"github.com/teris-io/shortid"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrForbidden    = errors.New("only the room creator can delete the room")
	ErrNotMember    = errors.New("not a member of this room")
	ErrInvalidRoom  = errors.New("room name cannot be empty")
)

type roomState struct {
	room    database.Room
	members map[string]struct{}
}

// Membership owns room membership. Reads are served from an in-memory
// cache loaded lazily from the repository; every mutation writes through
// to the repository under the same lock, so concurrent joins and leaves
// cannot lose updates.
type Membership struct {
	mu    sync.RWMutex
	db    database.GoChatRepository
	log   *log.Logger
	rooms map[string]*roomState
	newId func() (string, error)
}

func NewMembership(db database.GoChatRepository, l *log.Logger) *Membership {
	return &Membership{
		db:    db,
		log:   l,
		rooms: make(map[string]*roomState),
		newId: shortid.Generate,
	}
}

// CreateRoom creates a room owned by creatorId. The creator is its first
// member.
func (m *Membership) CreateRoom(ctx context.Context, name, creatorId string) (types.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return types.Room{}, ErrInvalidRoom
	}

	id, err := m.newId()
	if err != nil {
		return types.Room{}, fmt.Errorf("generate room id: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	room, err := m.db.CreateRoom(ctx, database.CreateRoomParams{
		Id:        id,
		Name:      name,
		CreatorId: creatorId,
	})
	if err != nil {
		return types.Room{}, fmt.Errorf("create room: %w", err)
	}

	st := &roomState{
		room:    room,
		members: map[string]struct{}{creatorId: {}},
	}
	m.rooms[room.Id] = st
	m.log.Printf("room %q created by %q", room.Id, creatorId)

	return st.toRoom(), nil
}

// Join adds userId to the room. Joining a room twice is a no-op.
func (m *Membership) Join(ctx context.Context, roomId, userId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loadLocked(ctx, roomId)
	if err != nil {
		return err
	}

	if _, ok := st.members[userId]; ok {
		return nil
	}

	if err := m.db.AddRoomMember(ctx, roomId, userId); err != nil {
		return fmt.Errorf("add room member: %w", err)
	}
	st.members[userId] = struct{}{}

	return nil
}

// Leave removes userId from the room. Leaving a room one is not in is a
// no-op. The room survives even when its last member leaves.
func (m *Membership) Leave(ctx context.Context, roomId, userId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loadLocked(ctx, roomId)
	if err != nil {
		return err
	}

	if _, ok := st.members[userId]; !ok {
		return nil
	}

	if err := m.db.RemoveRoomMember(ctx, roomId, userId); err != nil {
		return fmt.Errorf("remove room member: %w", err)
	}
	delete(st.members, userId)

	return nil
}

// Delete removes the room together with its messages and memberships.
// Only the creator may delete a room. It returns the members the room had.
func (m *Membership) Delete(ctx context.Context, roomId, requesterId string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, err := m.loadLocked(ctx, roomId)
	if err != nil {
		return nil, err
	}

	if st.room.CreatorId != requesterId {
		return nil, ErrForbidden
	}

	if err := m.db.DeleteRoom(ctx, roomId); err != nil {
		return nil, fmt.Errorf("delete room: %w", err)
	}

	delete(m.rooms, roomId)
	m.log.Printf("room %q deleted by %q", roomId, requesterId)

	return st.memberIds(), nil
}

// IsMember reports whether userId currently belongs to the room. A room
// that does not exist has no members.
func (m *Membership) IsMember(ctx context.Context, roomId, userId string) (bool, error) {
	st, err := m.get(ctx, roomId)
	if errors.Is(err, ErrRoomNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := st.members[userId]

	return ok, nil
}

// MembersOf returns the current member ids of the room, sorted.
func (m *Membership) MembersOf(ctx context.Context, roomId string) ([]string, error) {
	st, err := m.get(ctx, roomId)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return st.memberIds(), nil
}

// Room returns the room with its current members.
func (m *Membership) Room(ctx context.Context, roomId string) (types.Room, error) {
	st, err := m.get(ctx, roomId)
	if err != nil {
		return types.Room{}, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return st.toRoom(), nil
}

func (m *Membership) get(ctx context.Context, roomId string) (*roomState, error) {
	m.mu.RLock()
	st, ok := m.rooms[roomId]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.loadLocked(ctx, roomId)
}

func (m *Membership) loadLocked(ctx context.Context, roomId string) (*roomState, error) {
	if st, ok := m.rooms[roomId]; ok {
		return st, nil
	}

	room, err := m.db.GetRoom(ctx, roomId)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	ids, err := m.db.ListRoomMembers(ctx, roomId)
	if err != nil {
		return nil, fmt.Errorf("list room members: %w", err)
	}

	st := &roomState{
		room:    room,
		members: make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		st.members[id] = struct{}{}
	}
	m.rooms[roomId] = st

	return st, nil
}

func (st *roomState) memberIds() []string {
	ids := make([]string, 0, len(st.members))
	for id := range st.members {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (st *roomState) toRoom() types.Room {
	return types.Room{
		Id:        st.room.Id,
		Name:      st.room.Name,
		CreatorId: st.room.CreatorId,
		MemberIds: st.memberIds(),
		CreatedAt: st.room.CreatedAt,
	}
}
