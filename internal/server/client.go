package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-campuschat/internal/stats"
	"github.com/npezzotti/go-campuschat/internal/types"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 16 * 1024
	sendBufferSize = 256
)

type Client struct {
	id         string
	conn       *websocket.Conn
	chatServer *ChatServer
	log        *log.Logger
	user       types.User
	chatCtx    ChatContext
	send       chan []byte
	limiter    *rate.Limiter
	authed     atomic.Bool
	closed     atomic.Bool
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewClient(conn *websocket.Conn, cs *ChatServer, l *log.Logger) *Client {
	return &Client{
		id:         uuid.NewString(),
		conn:       conn,
		chatServer: cs,
		log:        l,
		send:       make(chan []byte, sendBufferSize),
		limiter:    rate.NewLimiter(cs.messageRate, cs.messageBurst),
		stop:       make(chan struct{}),
	}
}

func (c *Client) Id() string { return c.id }

func (c *Client) Closed() bool { return c.closed.Load() }

// Queue serializes v and schedules it for delivery. It reports false when
// the socket is closed or its send buffer is full.
func (c *Client) Queue(v any) bool {
	if c.Closed() {
		return false
	}

	bytes, err := serializeMessage(v)
	if err != nil {
		c.log.Println("failed to serialize message:", err)
		return false
	}

	return c.queueMessage(bytes)
}

func (c *Client) binding() Binding {
	return Binding{
		UserId:   c.user.Id,
		Username: c.user.Username,
		Context:  c.chatCtx,
		Socket:   c,
	}
}

// serve runs the socket to completion: handshake, then the read pump on
// this goroutine and the write pump on another.
func (c *Client) serve() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	if !c.handshake() {
		return
	}

	c.chatServer.registry.Bind(c.user.Id, c.user.Username, c.chatCtx, c)
	c.chatServer.stats.Incr(stats.ActiveConnections)
	defer c.chatServer.stats.Decr(stats.ActiveConnections)
	c.authed.Store(true)
	c.log.Printf("user %q connected on %s with context %+v", c.user.Username, c.id, c.chatCtx)

	go c.Write()
	c.Read()
}

// handshake waits for a valid auth frame. Other frames are discarded.
// It reports whether the socket was authenticated.
func (c *Client) handshake() bool {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.chatServer.handshakeTimeout))

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			var netErr interface{ Timeout() bool }
			if errors.As(err, &netErr) && netErr.Timeout() {
				c.log.Printf("handshake timed out on %s", c.id)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("ws: handshake read: %v", err)
			}
			return false
		}

		user, chatCtx, err := c.chatServer.handshaker.Authenticate(context.Background(), raw)
		if errors.Is(err, errNotAuthFrame) {
			c.log.Printf("discarding frame received before auth on %s", c.id)
			continue
		}

		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.log.Printf("auth failed on %s: %v", c.id, authErr)
			c.chatServer.stats.Incr(stats.AuthFailures)
			c.rejectAuth(authErr.Reason)
			return false
		}
		if err != nil {
			c.log.Printf("auth failed on %s: %v", c.id, err)
			c.rejectAuth("internal server error")
			return false
		}

		c.user = user
		c.chatCtx = chatCtx
		return true
	}
}

// rejectAuth writes the auth error frame and a normal close. It runs
// before the write pump starts, so it owns the connection's writer.
func (c *Client) rejectAuth(reason string) {
	if bytes, err := serializeMessage(ErrAuth(reason)); err == nil {
		c.sendMessage(websocket.TextMessage, bytes)
	}

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
}

func (c *Client) Write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			if !c.sendMessage(websocket.TextMessage, msg) {
				return
			}
		case <-c.stop:
			c.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait),
			)
			return
		case <-ticker.C:
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *Client) Read() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(appData string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			return
		}

		if !c.limiter.Allow() {
			c.Queue(ErrRateLimitedFrame())
			continue
		}

		c.route(raw)
	}
}

// route hands one frame to the router. A panic while handling it is
// confined to this frame.
func (c *Client) route(raw []byte) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Printf("recovered while routing frame from %q: %v", c.user.Id, r)
			c.Queue(ErrInternalFrame())
		}
	}()

	c.chatServer.router.Route(context.Background(), c.binding(), raw)
}

func (c *Client) queueMessage(msg []byte) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Printf("failed to send message to %s, channel is full", c.id)
		return false
	}

	return true
}

func serializeMessage(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *Client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *Client) stopClient() {
	c.stopOnce.Do(func() { close(c.stop) })
}

func (c *Client) cleanup() {
	c.closed.Store(true)
	c.chatServer.registry.Unbind(c)
	c.chatServer.removeClient(c)
	c.stopClient()
}
