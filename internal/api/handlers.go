package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/server"
	"github.com/npezzotti/go-campuschat/internal/types"
)

type CreateRoomRequest struct {
	Name string `json:"name"`
}

// Response is the envelope of every successful JSON response.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func (s *GoChatApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *GoChatApp) writeData(w http.ResponseWriter, statusCode int, data any) {
	s.writeJson(w, statusCode, Response{Success: true, Data: data})
}

func (s *GoChatApp) writeError(w http.ResponseWriter, e *ApiError) {
	if e.Err != nil {
		s.log.Printf("request failed: %v", e)
	}
	e.Success = false
	s.writeJson(w, e.StatusCode, e)
}

// roomError maps membership errors onto API errors.
func roomError(err error) *ApiError {
	switch {
	case errors.Is(err, server.ErrRoomNotFound):
		return NewNotFoundError().WithMessage(server.ErrRoomNotFound.Error())
	case errors.Is(err, server.ErrForbidden):
		return NewForbiddenError().WithMessage(server.ErrForbidden.Error())
	case errors.Is(err, server.ErrNotMember):
		return NewForbiddenError().WithMessage(server.ErrNotMember.Error())
	case errors.Is(err, server.ErrInvalidRoom):
		return NewBadRequestError().WithMessage(server.ErrInvalidRoom.Error())
	default:
		return NewInternalServerError(err)
	}
}

func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return 0, nil
	}

	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0, errors.New("invalid limit")
	}

	return limit, nil
}

func (s *GoChatApp) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ping(); err != nil {
		s.log.Printf("health check: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *GoChatApp) searchUsers(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbUsers, err := s.db.SearchAccounts(r.Context(), q, 0)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	users := make([]types.User, 0, len(dbUsers))
	for _, u := range dbUsers {
		users = append(users, types.User{Id: u.Id, Username: u.Username})
	}

	s.writeData(w, http.StatusOK, users)
}

// roomsWithMembers resolves the current member list of each room through
// the membership service.
func (s *GoChatApp) roomsWithMembers(r *http.Request, dbRooms []database.Room) ([]types.Room, error) {
	rooms := make([]types.Room, 0, len(dbRooms))
	for _, dbRoom := range dbRooms {
		room, err := s.cs.Membership().Room(r.Context(), dbRoom.Id)
		if errors.Is(err, server.ErrRoomNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, nil
}

func (s *GoChatApp) listRooms(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	dbRooms, err := s.db.ListRoomsForAccount(r.Context(), userId)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	rooms, err := s.roomsWithMembers(r, dbRooms)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeData(w, http.StatusOK, rooms)
}

func (s *GoChatApp) searchRooms(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbRooms, err := s.db.SearchRooms(r.Context(), q, 0)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	rooms, err := s.roomsWithMembers(r, dbRooms)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	s.writeData(w, http.StatusOK, rooms)
}

func (s *GoChatApp) createRoom(w http.ResponseWriter, r *http.Request) {
	var createRoomReq CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&createRoomReq); err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	room, err := s.cs.Membership().CreateRoom(r.Context(), createRoomReq.Name, userId)
	if err != nil {
		s.writeError(w, roomError(err))
		return
	}

	s.writeData(w, http.StatusCreated, room)
}

func (s *GoChatApp) joinRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	m := s.cs.Membership()
	roomId := r.PathValue("id")
	if err := m.Join(r.Context(), roomId, userId); err != nil {
		s.writeError(w, roomError(err))
		return
	}

	room, err := m.Room(r.Context(), roomId)
	if err != nil {
		s.writeError(w, roomError(err))
		return
	}

	s.writeData(w, http.StatusOK, room)
}

func (s *GoChatApp) leaveRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.cs.Membership().Leave(r.Context(), r.PathValue("id"), userId); err != nil {
		s.writeError(w, roomError(err))
		return
	}

	s.writeJson(w, http.StatusOK, Response{Success: true, Message: "left room"})
}

func (s *GoChatApp) deleteRoom(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	if err := s.cs.DeleteRoom(r.Context(), r.PathValue("id"), userId); err != nil {
		s.writeError(w, roomError(err))
		return
	}

	s.writeJson(w, http.StatusOK, Response{Success: true, Message: "room deleted"})
}

func (s *GoChatApp) directMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	peerId := r.URL.Query().Get("peer_id")
	if peerId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	dbMessages, err := s.db.GetDirectMessages(r.Context(), userId, peerId, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	messages := make([]types.ChatMessage, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.ChatMessage{
			SenderId:   msg.SenderId,
			ReceiverId: msg.ReceiverId,
			Text:       msg.Content,
			Timestamp:  msg.SentAt.UTC(),
			SenderName: msg.SenderName,
		})
	}

	s.writeData(w, http.StatusOK, messages)
}

func (s *GoChatApp) roomMessages(w http.ResponseWriter, r *http.Request) {
	userId, ok := UserId(r.Context())
	if !ok {
		s.writeError(w, NewUnauthorizedError())
		return
	}

	roomId := r.URL.Query().Get("room_id")
	if roomId == "" {
		s.writeError(w, NewBadRequestError())
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		s.writeError(w, NewBadRequestError())
		return
	}

	room, err := s.cs.Membership().Room(r.Context(), roomId)
	if err != nil {
		s.writeError(w, roomError(err))
		return
	}

	if !slices.Contains(room.MemberIds, userId) {
		s.writeError(w, roomError(server.ErrNotMember))
		return
	}

	dbMessages, err := s.db.GetRoomMessages(r.Context(), roomId, limit)
	if err != nil {
		s.writeError(w, NewInternalServerError(err))
		return
	}

	messages := make([]types.RoomMessage, 0, len(dbMessages))
	for _, msg := range dbMessages {
		messages = append(messages, types.RoomMessage{
			RoomId:     msg.RoomId,
			SenderId:   msg.SenderId,
			SenderName: msg.SenderName,
			Text:       msg.Content,
			Timestamp:  msg.SentAt.UTC(),
		})
	}

	s.writeData(w, http.StatusOK, messages)
}

func (s *GoChatApp) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// non-browser clients send no origin
		return true
	}

	return slices.Contains(s.allowedOrigins, origin)
}

func (s *GoChatApp) serveWs(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		Subprotocols: []string{chatSubprotocol},
		CheckOrigin:  s.checkOrigin,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	s.cs.Serve(conn)
}
