package server

import "sync"

// ChatContext is the conversation a socket is viewing. At most one of
// ReceiverId and RoomId is set; both empty means the socket receives no
// live messages.
type ChatContext struct {
	ReceiverId string `json:"receiverId,omitempty"`
	RoomId     string `json:"roomId,omitempty"`
}

func (c ChatContext) IsDirect() bool { return c.ReceiverId != "" }

func (c ChatContext) IsRoom() bool { return c.RoomId != "" }

// Socket is a live, authenticated connection the router can deliver to.
type Socket interface {
	Id() string
	Queue(v any) bool
	Closed() bool
}

type Binding struct {
	UserId   string
	Username string
	Context  ChatContext
	Socket   Socket
}

type socketEntry struct {
	username string
	context  ChatContext
}

// Registry maps users to their open sockets and the context each socket
// was bound with. A user may hold any number of sockets; each socket
// belongs to exactly one user.
type Registry struct {
	mu    sync.RWMutex
	users map[string]map[Socket]socketEntry
	owner map[Socket]string
}

func NewRegistry() *Registry {
	return &Registry{
		users: make(map[string]map[Socket]socketEntry),
		owner: make(map[Socket]string),
	}
}

// Bind records s under userId with the given context, replacing any
// earlier binding of the same socket.
func (r *Registry) Bind(userId, username string, ctx ChatContext, s Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.owner[s]; ok && prev != userId {
		r.removeLocked(prev, s)
	}

	sockets, ok := r.users[userId]
	if !ok {
		sockets = make(map[Socket]socketEntry)
		r.users[userId] = sockets
	}
	sockets[s] = socketEntry{username: username, context: ctx}
	r.owner[s] = userId
}

// Unbind removes s. Unknown sockets are ignored.
func (r *Registry) Unbind(s Socket) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if userId, ok := r.owner[s]; ok {
		r.removeLocked(userId, s)
	}
}

// SocketsFor returns the open sockets of userId. Sockets found closed are
// pruned from the registry on the way out.
func (r *Registry) SocketsFor(userId string) []Binding {
	r.mu.RLock()
	var live []Binding
	var stale []Socket
	for s, entry := range r.users[userId] {
		if s.Closed() {
			stale = append(stale, s)
			continue
		}
		live = append(live, Binding{UserId: userId, Username: entry.username, Context: entry.context, Socket: s})
	}
	r.mu.RUnlock()

	if len(stale) > 0 {
		r.mu.Lock()
		for _, s := range stale {
			if r.owner[s] == userId {
				r.removeLocked(userId, s)
			}
		}
		r.mu.Unlock()
	}

	return live
}

// Filter returns every open binding for which keep returns true.
func (r *Registry) Filter(keep func(Binding) bool) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Binding
	for userId, sockets := range r.users {
		for s, entry := range sockets {
			if s.Closed() {
				continue
			}
			b := Binding{UserId: userId, Username: entry.username, Context: entry.context, Socket: s}
			if keep(b) {
				out = append(out, b)
			}
		}
	}

	return out
}

// Len reports the number of bound sockets, closed or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.owner)
}

func (r *Registry) removeLocked(userId string, s Socket) {
	delete(r.owner, s)
	sockets := r.users[userId]
	delete(sockets, s)
	if len(sockets) == 0 {
		delete(r.users, userId)
	}
}
