package server

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/npezzotti/go-campuschat/internal/types"
)

const (
	FrameAuth        = "auth"
	FrameError       = "error"
	FrameRoomDeleted = "room_deleted"
)

const errSelfMessage = "cannot send a direct message to yourself"

// ClientMessage is the union of every frame a client may send. The
// router classifies it by which fields are present.
type ClientMessage struct {
	Type       string  `json:"type,omitempty"`
	Token      string  `json:"token,omitempty"`
	ReceiverId string  `json:"receiverId,omitempty"`
	RoomId     string  `json:"roomId,omitempty"`
	SenderId   string  `json:"senderId,omitempty"`
	SenderName string  `json:"senderName,omitempty"`
	Text       *string `json:"text,omitempty"`
	Timestamp  string  `json:"timestamp,omitempty"`
}

type frameKind int

const (
	kindMalformed frameKind = iota
	kindAuth
	kindDirect
	kindRoom
)

func (m *ClientMessage) kind() frameKind {
	switch {
	case m.Type == FrameAuth:
		return kindAuth
	case m.Type != "":
		return kindMalformed
	case m.SenderId == "" || m.Text == nil || m.Timestamp == "":
		return kindMalformed
	case m.RoomId != "" && m.ReceiverId == "":
		return kindRoom
	case m.ReceiverId != "" && m.RoomId == "":
		return kindDirect
	default:
		return kindMalformed
	}
}

// timestamp parses the client timestamp at millisecond precision. Finer
// digits are dropped so the live copy matches what the store returns.
func (m *ClientMessage) timestamp() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return ts.Truncate(time.Millisecond), nil
}

func parseClientMessage(raw []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	msg.Type = strings.TrimSpace(msg.Type)
	return &msg, nil
}

type AuthResponse struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type RoomDeleted struct {
	Type   string `json:"type"`
	RoomId string `json:"roomId"`
}

func ErrAuth(reason string) *AuthResponse {
	return &AuthResponse{Type: FrameAuth, Error: reason}
}

func ErrFrame(message string) *ErrorMessage {
	return &ErrorMessage{Type: FrameError, Message: message}
}

func ErrNotMemberFrame() *ErrorMessage {
	return ErrFrame("not a member of this room")
}

func ErrSelfMessageFrame() *ErrorMessage {
	return ErrFrame(errSelfMessage)
}

func ErrMessageTooLongFrame() *ErrorMessage {
	return ErrFrame(fmt.Sprintf("message exceeds %d characters", maxTextLength))
}

func ErrRateLimitedFrame() *ErrorMessage {
	return ErrFrame("rate limit exceeded")
}

func ErrInternalFrame() *ErrorMessage {
	return ErrFrame("internal server error")
}

func RoomDeletedFrame(roomId string) *RoomDeleted {
	return &RoomDeleted{Type: FrameRoomDeleted, RoomId: roomId}
}

func directPayload(msg types.ChatMessage) types.ChatMessage {
	msg.Timestamp = msg.Timestamp.UTC()
	return msg
}

func roomPayload(msg types.RoomMessage, isCurrentUser bool) types.RoomMessage {
	msg.Timestamp = msg.Timestamp.UTC()
	msg.IsCurrentUser = &isCurrentUser
	return msg
}
