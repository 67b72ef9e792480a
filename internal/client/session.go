package client

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-campuschat/internal/types"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultSettleDelay    = 100 * time.Millisecond

	chatSubprotocol = "chat"
	writeWait       = 10 * time.Second
	timestampLayout = "2006-01-02T15:04:05.000Z07:00"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrNotOpen       = errors.New("socket is not open")
	ErrNoTarget      = errors.New("no conversation of that kind selected")
)

type State int

const (
	Disconnected State = iota
	Connecting
	Authenticating
	Open
	ClosingIntentional
	ClosingUnintentional
)

var stateNames = [...]string{
	Disconnected:         "disconnected",
	Connecting:           "connecting",
	Authenticating:       "authenticating",
	Open:                 "open",
	ClosingIntentional:   "closing-intentional",
	ClosingUnintentional: "closing-unintentional",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Target is the conversation a session is bound to: a peer for direct
// messages or a room.
type Target struct {
	ReceiverId string
	RoomId     string
}

type Options struct {
	URL      string
	Token    string
	UserId   string
	Username string

	ReconnectDelay time.Duration
	SettleDelay    time.Duration
	// MaxAttempts caps consecutive failed reconnects. Zero retries forever.
	MaxAttempts int

	Dialer *websocket.Dialer
	Logger *log.Logger

	OnDirect      func(types.ChatMessage)
	OnRoom        func(types.RoomMessage)
	OnRoomDeleted func(roomId string)
	OnAuthError   func(reason string)
	OnError       func(message string)
	OnStateChange func(State)
}

type authFrame struct {
	Type       string `json:"type"`
	Token      string `json:"token"`
	ReceiverId string `json:"receiverId,omitempty"`
	RoomId     string `json:"roomId,omitempty"`
}

type chatFrame struct {
	RoomId     string `json:"roomId,omitempty"`
	ReceiverId string `json:"receiverId,omitempty"`
	SenderId   string `json:"senderId"`
	SenderName string `json:"senderName,omitempty"`
	Text       string `json:"text"`
	Timestamp  string `json:"timestamp"`
}

type inboundFrame struct {
	Type          string    `json:"type"`
	Error         string    `json:"error"`
	Message       string    `json:"message"`
	RoomId        string    `json:"roomId"`
	ReceiverId    string    `json:"receiverId"`
	SenderId      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	IsCurrentUser *bool     `json:"isCurrentUser"`
}

// Session owns one chat socket at a time and keeps it connected. An
// unintentional close schedules exactly one reconnect after a fixed delay;
// closes the session initiates itself never do. Every socket gets a
// generation number and events from an older generation are dropped, so
// nothing from a previous conversation leaks into the current one.
type Session struct {
	opts   Options
	log    *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
	events *dispatcher

	mu       sync.Mutex
	state    State
	target   Target
	conn     *websocket.Conn
	gen      uint64
	timer    *time.Timer
	timerSeq uint64
	attempts int
	closed   bool

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func NewSession(opts Options) *Session {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	if opts.Dialer == nil {
		opts.Dialer = &websocket.Dialer{
			Subprotocols:     []string{chatSubprotocol},
			HandshakeTimeout: 10 * time.Second,
		}
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "[chatclient] ", log.LstdFlags)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		opts:   opts,
		log:    opts.Logger,
		ctx:    ctx,
		cancel: cancel,
		events: newDispatcher(),
	}
	go s.events.run()

	return s
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Target() Target {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.target
}

func (s *Session) reconnectPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timer != nil
}

func (s *Session) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Open connects to target right away, closing any current socket first.
func (s *Session) Open(target Target) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	old := s.closeCurrentLocked()
	s.target = target
	s.attempts = 0
	s.connectLocked()
	s.mu.Unlock()

	closeConn(old)
	return nil
}

// Switch moves the session to another conversation. The current socket is
// closed intentionally and a new one is opened after the settle delay.
func (s *Session) Switch(target Target) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	old := s.closeCurrentLocked()
	s.target = target
	s.attempts = 0
	s.scheduleLocked(s.opts.SettleDelay)
	s.mu.Unlock()

	closeConn(old)
	return nil
}

// Close shuts the session down for good: the socket is closed
// intentionally and any pending reconnect is cancelled.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	old := s.closeCurrentLocked()
	s.mu.Unlock()

	closeConn(old)

	s.cancel()
	s.wg.Wait()
	s.events.stop()
}

// SendDirect sends text to the peer of the current direct conversation.
func (s *Session) SendDirect(text string) (types.ChatMessage, error) {
	conn, target, err := s.openConn()
	if err != nil {
		return types.ChatMessage{}, err
	}
	if target.ReceiverId == "" {
		return types.ChatMessage{}, ErrNoTarget
	}

	ts := time.Now().UTC().Truncate(time.Millisecond)
	msg := types.ChatMessage{
		SenderId:   s.opts.UserId,
		ReceiverId: target.ReceiverId,
		Text:       text,
		Timestamp:  ts,
		SenderName: s.opts.Username,
	}

	return msg, s.writeJSON(conn, chatFrame{
		ReceiverId: msg.ReceiverId,
		SenderId:   msg.SenderId,
		Text:       msg.Text,
		Timestamp:  ts.Format(timestampLayout),
	})
}

// SendRoom posts text to the current room.
func (s *Session) SendRoom(text string) (types.RoomMessage, error) {
	conn, target, err := s.openConn()
	if err != nil {
		return types.RoomMessage{}, err
	}
	if target.RoomId == "" {
		return types.RoomMessage{}, ErrNoTarget
	}

	ts := time.Now().UTC().Truncate(time.Millisecond)
	own := true
	msg := types.RoomMessage{
		RoomId:        target.RoomId,
		SenderId:      s.opts.UserId,
		SenderName:    s.opts.Username,
		Text:          text,
		Timestamp:     ts,
		IsCurrentUser: &own,
	}

	return msg, s.writeJSON(conn, chatFrame{
		RoomId:     msg.RoomId,
		SenderId:   msg.SenderId,
		SenderName: msg.SenderName,
		Text:       msg.Text,
		Timestamp:  ts.Format(timestampLayout),
	})
}

func (s *Session) openConn() (*websocket.Conn, Target, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Open || s.conn == nil {
		return nil, Target{}, ErrNotOpen
	}
	return s.conn, s.target, nil
}

func (s *Session) writeJSON(conn *websocket.Conn, v any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}

func (s *Session) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st

	if cb := s.opts.OnStateChange; cb != nil {
		s.events.post(func() { cb(st) })
	}
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.timerSeq++
}

// scheduleLocked arms the single connect timer, replacing any pending one.
func (s *Session) scheduleLocked(delay time.Duration) {
	s.stopTimerLocked()
	seq := s.timerSeq
	s.timer = time.AfterFunc(delay, func() { s.fire(seq) })
}

func (s *Session) fire(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || seq != s.timerSeq || s.timer == nil {
		return
	}
	s.timer = nil
	s.connectLocked()
}

func (s *Session) scheduleReconnectLocked() {
	if s.closed {
		return
	}

	if s.opts.MaxAttempts > 0 && s.attempts >= s.opts.MaxAttempts {
		s.log.Printf("giving up after %d reconnect attempts", s.attempts)
		if cb := s.opts.OnError; cb != nil {
			s.events.post(func() { cb("unable to reconnect") })
		}
		return
	}

	s.attempts++
	s.log.Printf("reconnecting in %s (attempt %d)", s.opts.ReconnectDelay, s.attempts)
	s.scheduleLocked(s.opts.ReconnectDelay)
}

func (s *Session) connectLocked() {
	s.stopTimerLocked()
	s.gen++
	gen, target := s.gen, s.target
	s.setStateLocked(Connecting)

	s.wg.Add(1)
	go s.run(gen, target)
}

// closeCurrentLocked retires the current generation and detaches its
// socket. The generation is bumped first so the socket's close event is
// ignored. The caller closes the returned socket after releasing s.mu.
func (s *Session) closeCurrentLocked() *websocket.Conn {
	s.stopTimerLocked()

	if s.state == Disconnected && s.conn == nil {
		s.gen++
		return nil
	}

	s.setStateLocked(ClosingIntentional)
	s.gen++
	conn := s.conn
	s.conn = nil
	s.setStateLocked(Disconnected)

	return conn
}

// closeConn sends a normal close frame and closes conn. It may block for
// up to writeWait and must not be called with s.mu held.
func closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	conn.Close()
}

// lostLocked handles an unintentional close of the current socket.
func (s *Session) lostLocked() {
	s.conn = nil
	s.setStateLocked(ClosingUnintentional)
	s.setStateLocked(Disconnected)
	s.scheduleReconnectLocked()
}

func (s *Session) run(gen uint64, target Target) {
	defer s.wg.Done()

	conn, _, err := s.opts.Dialer.DialContext(s.ctx, s.opts.URL, nil)

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err != nil {
		s.log.Printf("dial %s: %v", s.opts.URL, err)
		s.lostLocked()
		s.mu.Unlock()
		return
	}
	s.conn = conn
	s.setStateLocked(Authenticating)
	s.mu.Unlock()

	err = s.writeJSON(conn, authFrame{
		Type:       "auth",
		Token:      s.opts.Token,
		ReceiverId: target.ReceiverId,
		RoomId:     target.RoomId,
	})

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		conn.Close()
		return
	}
	if err != nil {
		s.log.Printf("send auth frame: %v", err)
		s.lostLocked()
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.setStateLocked(Open)
	s.mu.Unlock()

	s.read(gen, conn)
}

func (s *Session) read(gen uint64, conn *websocket.Conn) {
	defer conn.Close()

	authFailed := false
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			if gen == s.gen {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					s.log.Printf("socket lost: %v", err)
				}
				// only consecutive failures count towards MaxAttempts
				if !authFailed {
					s.attempts = 0
				}
				s.lostLocked()
			}
			s.mu.Unlock()
			return
		}

		var f inboundFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			s.log.Printf("dropping malformed frame: %v", err)
			continue
		}
		if f.Type == "auth" && f.Error != "" {
			authFailed = true
		}

		s.deliver(gen, f)
	}
}

func (s *Session) deliver(gen uint64, f inboundFrame) {
	var fn func()
	switch {
	case f.Type == "auth":
		if cb := s.opts.OnAuthError; cb != nil && f.Error != "" {
			fn = func() { cb(f.Error) }
		}
	case f.Type == "error":
		if cb := s.opts.OnError; cb != nil {
			fn = func() { cb(f.Message) }
		}
	case f.Type == "room_deleted":
		if cb := s.opts.OnRoomDeleted; cb != nil {
			fn = func() { cb(f.RoomId) }
		}
	case f.Type != "":
		s.log.Printf("ignoring frame of type %q", f.Type)
	case f.RoomId != "":
		if cb := s.opts.OnRoom; cb != nil {
			fn = func() {
				cb(types.RoomMessage{
					RoomId:        f.RoomId,
					SenderId:      f.SenderId,
					SenderName:    f.SenderName,
					Text:          f.Text,
					Timestamp:     f.Timestamp,
					IsCurrentUser: f.IsCurrentUser,
				})
			}
		}
	case f.ReceiverId != "":
		if cb := s.opts.OnDirect; cb != nil {
			fn = func() {
				cb(types.ChatMessage{
					SenderId:   f.SenderId,
					ReceiverId: f.ReceiverId,
					Text:       f.Text,
					Timestamp:  f.Timestamp,
					SenderName: f.SenderName,
				})
			}
		}
	}

	if fn == nil {
		return
	}

	s.events.post(func() {
		if s.currentGen() == gen {
			fn()
		}
	})
}
