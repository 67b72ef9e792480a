package server

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-campuschat/internal/auth"
	"github.com/npezzotti/go-campuschat/internal/config"
	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/stats"
	"golang.org/x/time/rate"
)

type ChatServer struct {
	log              *log.Logger
	db               database.GoChatRepository
	stats            stats.StatsProvider
	registry         *Registry
	membership       *Membership
	router           *Router
	handshaker       *Handshaker
	handshakeTimeout time.Duration
	messageRate      rate.Limit
	messageBurst     int
	clients          map[*Client]struct{}
	clientsLock      sync.Mutex
	wg               sync.WaitGroup
}

func NewChatServer(logger *log.Logger, db database.GoChatRepository, su stats.StatsProvider, cfg *config.Config) (*ChatServer, error) {
	if len(cfg.SigningKey) == 0 {
		return nil, fmt.Errorf("signing key cannot be empty")
	}

	registry := NewRegistry()
	membership := NewMembership(db, logger)

	for _, metric := range []string{stats.ActiveConnections, stats.AuthFailures, stats.MessagesRouted, stats.RoomsDeleted} {
		su.RegisterMetric(metric)
	}

	return &ChatServer{
		log:              logger,
		db:               db,
		stats:            su,
		registry:         registry,
		membership:       membership,
		router:           NewRouter(logger, db, registry, membership, su),
		handshaker:       NewHandshaker(auth.NewTokenManager(cfg.SigningKey), db, membership),
		handshakeTimeout: cfg.HandshakeTimeout,
		messageRate:      rate.Limit(cfg.MessageRate),
		messageBurst:     cfg.MessageBurst,
		clients:          make(map[*Client]struct{}),
	}, nil
}

func (cs *ChatServer) Membership() *Membership {
	return cs.membership
}

// Serve takes ownership of an upgraded connection and runs it until it
// closes.
func (cs *ChatServer) Serve(conn *websocket.Conn) {
	c := NewClient(conn, cs, cs.log)
	cs.addClient(c)

	cs.wg.Add(1)
	go func() {
		defer cs.wg.Done()
		c.serve()
	}()
}

// DeleteRoom deletes a room on behalf of requesterId and notifies the
// sockets that were viewing it.
func (cs *ChatServer) DeleteRoom(ctx context.Context, roomId, requesterId string) error {
	if _, err := cs.membership.Delete(ctx, roomId, requesterId); err != nil {
		return err
	}

	cs.router.NotifyRoomDeleted(roomId)
	cs.stats.Incr(stats.RoomsDeleted)

	return nil
}

func (cs *ChatServer) addClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	cs.clients[c] = struct{}{}
}

func (cs *ChatServer) removeClient(c *Client) {
	cs.clientsLock.Lock()
	defer cs.clientsLock.Unlock()
	delete(cs.clients, c)
}

// Shutdown closes every socket and waits for their goroutines to exit or
// for ctx to expire.
func (cs *ChatServer) Shutdown(ctx context.Context) error {
	cs.log.Println("closing websocket connections")

	cs.clientsLock.Lock()
	for c := range cs.clients {
		c.stopClient()
		// sockets still in the handshake have no write pump to act on stop
		if !c.authed.Load() {
			c.conn.Close()
		}
	}
	cs.clientsLock.Unlock()

	done := make(chan struct{})
	go func() {
		cs.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
