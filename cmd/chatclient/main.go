package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/go-campuschat/internal/client"
	"github.com/npezzotti/go-campuschat/internal/types"
)

var (
	apiURL   string
	wsURL    string
	email    string
	password string
	peerId   string
	roomId   string
	limit    int
)

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func main() {
	logger := log.New(os.Stderr, "[chatclient] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Fatal("load .env:", err)
	}

	flag.StringVar(&apiURL, "api", envOr("CHAT_API_URL", "http://localhost:8000"), "REST API base URL")
	flag.StringVar(&wsURL, "ws", envOr("CHAT_WS_URL", "ws://localhost:8000/ws"), "chat socket URL")
	flag.StringVar(&email, "email", os.Getenv("CHAT_EMAIL"), "account email")
	flag.StringVar(&password, "password", os.Getenv("CHAT_PASSWORD"), "account password")
	flag.StringVar(&peerId, "peer", "", "user id to chat with directly")
	flag.StringVar(&roomId, "room", "", "room id to chat in")
	flag.IntVar(&limit, "limit", 50, "number of history messages to load")
	flag.Parse()

	if (peerId == "") == (roomId == "") {
		logger.Fatal("exactly one of -peer or -room is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	history := client.NewHistoryClient(apiURL)

	loginCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	me, err := history.Login(loginCtx, email, password)
	cancel()
	if err != nil {
		logger.Fatal("login:", err)
	}

	timeline := client.NewTimeline()
	target := client.Target{ReceiverId: peerId, RoomId: roomId}

	show := func(e client.Entry) {
		if !timeline.Add(e) {
			return
		}
		printEntry(me.Id, e)
	}

	session := client.NewSession(client.Options{
		URL:      wsURL,
		Token:    history.Token(),
		UserId:   me.Id,
		Username: me.Username,
		Logger:   logger,
		OnDirect: func(m types.ChatMessage) {
			show(client.DirectEntry(m))
		},
		OnRoom: func(m types.RoomMessage) {
			show(client.RoomEntry(m))
		},
		OnRoomDeleted: func(id string) {
			fmt.Printf("*** room %s was deleted\n", id)
			stop()
		},
		OnAuthError: func(reason string) {
			logger.Printf("authentication failed: %s", reason)
		},
		OnError: func(msg string) {
			fmt.Printf("*** %s\n", msg)
		},
		OnStateChange: func(st client.State) {
			logger.Printf("connection %s", st)
			if st == client.Open {
				// reload on every (re)connect to fill anything missed while down
				loadHistory(ctx, logger, history, target, timeline, me.Id)
			}
		},
	})
	defer session.Close()

	if err := session.Open(target); err != nil {
		logger.Fatal("open:", err)
	}

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			if err := send(session, target, text); err != nil {
				fmt.Printf("*** not sent: %v\n", err)
			}
		}
	}
}

func send(s *client.Session, target client.Target, text string) error {
	if target.RoomId != "" {
		_, err := s.SendRoom(text)
		return err
	}

	_, err := s.SendDirect(text)
	return err
}

func loadHistory(ctx context.Context, logger *log.Logger, h *client.HistoryClient, target client.Target, tl *client.Timeline, selfId string) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var entries []client.Entry
	if target.RoomId != "" {
		messages, err := h.Room(ctx, target.RoomId, limit)
		if err != nil {
			logger.Printf("load room history: %v", err)
			return
		}
		for _, m := range messages {
			entries = append(entries, client.RoomEntry(m))
		}
	} else {
		messages, err := h.Direct(ctx, target.ReceiverId, limit)
		if err != nil {
			logger.Printf("load direct history: %v", err)
			return
		}
		for _, m := range messages {
			entries = append(entries, client.DirectEntry(m))
		}
	}

	for _, e := range entries {
		if tl.Add(e) {
			printEntry(selfId, e)
		}
	}
}

func printEntry(selfId string, e client.Entry) {
	name := e.SenderName
	if name == "" {
		name = e.SenderId
	}
	if e.IsOwn(selfId) {
		name = "me"
	}
	fmt.Printf("[%s] %s: %s\n", e.Timestamp.Local().Format(time.Kitchen), name, e.Text)
}
