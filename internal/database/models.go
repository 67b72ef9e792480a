package database

import "time"

type User struct {
	Id           string
	Username     string
	EmailAddress string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Room struct {
	Id        string
	Name      string
	CreatorId string
	CreatedAt time.Time
}

type DirectMessage struct {
	Id         int
	SenderId   string
	SenderName string
	ReceiverId string
	Content    string
	SentAt     time.Time
}

type RoomMessage struct {
	Id         int
	RoomId     string
	SenderId   string
	SenderName string
	Content    string
	SentAt     time.Time
}

type CreateAccountParams struct {
	Username     string
	EmailAddress string
	PasswordHash string
}

type CreateRoomParams struct {
	Id        string
	Name      string
	CreatorId string
}
