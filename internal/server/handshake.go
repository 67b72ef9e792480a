package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/npezzotti/go-campuschat/internal/auth"
	"github.com/npezzotti/go-campuschat/internal/database"
	"github.com/npezzotti/go-campuschat/internal/types"
)

var errNotAuthFrame = errors.New("not an auth frame")

// AuthError is a rejected handshake. Reason is sent to the client in the
// auth error frame.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error {
	return e.Err
}

func rejectAuth(reason string, err error) error {
	return &AuthError{Reason: reason, Err: err}
}

// Handshaker validates the first frame of a socket: the session
// credential and the conversation the socket wants to view.
type Handshaker struct {
	tokens     *auth.TokenManager
	db         database.GoChatRepository
	membership *Membership
}

func NewHandshaker(tokens *auth.TokenManager, db database.GoChatRepository, m *Membership) *Handshaker {
	return &Handshaker{tokens: tokens, db: db, membership: m}
}

// Authenticate returns the user and context to bind for an auth frame.
// Frames that are not auth frames yield errNotAuthFrame and should be
// discarded; every other failure is an *AuthError.
func (h *Handshaker) Authenticate(ctx context.Context, raw []byte) (types.User, ChatContext, error) {
	msg, err := parseClientMessage(raw)
	if err != nil || msg.kind() != kindAuth {
		return types.User{}, ChatContext{}, errNotAuthFrame
	}

	if msg.Token == "" {
		return types.User{}, ChatContext{}, rejectAuth("missing token", nil)
	}

	userId, err := h.tokens.Verify(msg.Token)
	if err != nil {
		return types.User{}, ChatContext{}, rejectAuth("invalid or expired token", err)
	}

	account, err := h.db.GetAccountById(ctx, userId)
	if errors.Is(err, sql.ErrNoRows) {
		return types.User{}, ChatContext{}, rejectAuth("user not found", err)
	}
	if err != nil {
		return types.User{}, ChatContext{}, rejectAuth("internal server error", err)
	}

	user := types.User{
		Id:        account.Id,
		Username:  account.Username,
		CreatedAt: account.CreatedAt,
		UpdatedAt: account.UpdatedAt,
	}
	chatCtx := ChatContext{ReceiverId: msg.ReceiverId, RoomId: msg.RoomId}

	switch {
	case chatCtx.IsDirect() && chatCtx.IsRoom():
		return types.User{}, ChatContext{}, rejectAuth("receiverId and roomId are mutually exclusive", nil)
	case chatCtx.IsRoom():
		ok, err := h.membership.IsMember(ctx, chatCtx.RoomId, user.Id)
		if err != nil {
			return types.User{}, ChatContext{}, rejectAuth("internal server error", err)
		}
		if !ok {
			return types.User{}, ChatContext{}, rejectAuth(ErrNotMember.Error(), ErrNotMember)
		}
	case chatCtx.IsDirect() && chatCtx.ReceiverId == user.Id:
		return types.User{}, ChatContext{}, rejectAuth(errSelfMessage, nil)
	case chatCtx.IsDirect():
		_, err := h.db.GetAccountById(ctx, chatCtx.ReceiverId)
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ChatContext{}, rejectAuth("receiver not found", err)
		}
		if err != nil {
			return types.User{}, ChatContext{}, rejectAuth("internal server error", err)
		}
	}

	return user, chatCtx, nil
}
