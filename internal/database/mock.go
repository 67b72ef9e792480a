package database

import (
	"context"

	"github.com/stretchr/testify/mock"
)

type MockGoChatRepository struct {
	mock.Mock
}

func (m *MockGoChatRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	args := m.Called(params)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountById(ctx context.Context, id string) (User, error) {
	args := m.Called(id)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	args := m.Called(email)
	return args.Get(0).(User), args.Error(1)
}
func (m *MockGoChatRepository) SearchAccounts(ctx context.Context, query string, limit int) ([]User, error) {
	args := m.Called(query, limit)
	return args.Get(0).([]User), args.Error(1)
}
func (m *MockGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	args := m.Called(params)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	args := m.Called(id)
	return args.Get(0).(Room), args.Error(1)
}
func (m *MockGoChatRepository) DeleteRoom(ctx context.Context, id string) error {
	args := m.Called(id)
	return args.Error(0)
}
func (m *MockGoChatRepository) SearchRooms(ctx context.Context, query string, limit int) ([]Room, error) {
	args := m.Called(query, limit)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockGoChatRepository) ListRoomsForAccount(ctx context.Context, accountId string) ([]Room, error) {
	args := m.Called(accountId)
	return args.Get(0).([]Room), args.Error(1)
}
func (m *MockGoChatRepository) AddRoomMember(ctx context.Context, roomId, accountId string) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, accountId string) error {
	args := m.Called(roomId, accountId)
	return args.Error(0)
}
func (m *MockGoChatRepository) ListRoomMembers(ctx context.Context, roomId string) ([]string, error) {
	args := m.Called(roomId)
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockGoChatRepository) CreateDirectMessage(ctx context.Context, msg DirectMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockGoChatRepository) CreateRoomMessage(ctx context.Context, msg RoomMessage) error {
	args := m.Called(msg)
	return args.Error(0)
}
func (m *MockGoChatRepository) GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	args := m.Called(userA, userB, limit)
	return args.Get(0).([]DirectMessage), args.Error(1)
}
func (m *MockGoChatRepository) GetRoomMessages(ctx context.Context, roomId string, limit int) ([]RoomMessage, error) {
	args := m.Called(roomId, limit)
	return args.Get(0).([]RoomMessage), args.Error(1)
}
