package types

import (
	"time"
)

type User struct {
	Id           string    `json:"id"`
	Username     string    `json:"username"`
	EmailAddress string    `json:"email_address,omitempty"`
	Password     string    `json:"-"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

type Room struct {
	Id        string    `json:"id"`
	Name      string    `json:"name"`
	CreatorId string    `json:"creatorId"`
	MemberIds []string  `json:"memberIds"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatMessage is a direct message between two users. The pair
// (SenderId, Timestamp) identifies it.
type ChatMessage struct {
	SenderId   string    `json:"senderId"`
	ReceiverId string    `json:"receiverId"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	SenderName string    `json:"senderName,omitempty"`
}

// RoomMessage is a message posted to a chatroom. IsCurrentUser is only
// set on live pushes; history rows leave it nil.
type RoomMessage struct {
	RoomId        string    `json:"roomId"`
	SenderId      string    `json:"senderId"`
	SenderName    string    `json:"senderName"`
	Text          string    `json:"text"`
	Timestamp     time.Time `json:"timestamp"`
	IsCurrentUser *bool     `json:"isCurrentUser,omitempty"`
}
