package database

import "context"

type GoChatRepository interface {
	Ping() error
	CreateAccount(ctx context.Context, params CreateAccountParams) (User, error)
	GetAccountById(ctx context.Context, id string) (User, error)
	GetAccountByEmail(ctx context.Context, email string) (User, error)
	SearchAccounts(ctx context.Context, query string, limit int) ([]User, error)
	CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error)
	GetRoom(ctx context.Context, id string) (Room, error)
	DeleteRoom(ctx context.Context, id string) error
	SearchRooms(ctx context.Context, query string, limit int) ([]Room, error)
	ListRoomsForAccount(ctx context.Context, accountId string) ([]Room, error)
	AddRoomMember(ctx context.Context, roomId, accountId string) error
	RemoveRoomMember(ctx context.Context, roomId, accountId string) error
	ListRoomMembers(ctx context.Context, roomId string) ([]string, error)
	CreateDirectMessage(ctx context.Context, msg DirectMessage) error
	CreateRoomMessage(ctx context.Context, msg RoomMessage) error
	GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error)
	GetRoomMessages(ctx context.Context, roomId string, limit int) ([]RoomMessage, error)
}
