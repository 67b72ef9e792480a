package database

import (
	"context"
	"time"

	"github.com/google/uuid"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	defaultSearchLimit  = 20

	addMemberQuery = "INSERT INTO room_members (room_id, account_id, created_at) VALUES ($1, $2, $3) " +
		"ON CONFLICT (room_id, account_id) DO NOTHING"
)

func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

func (db *PgGoChatRepository) CreateAccount(ctx context.Context, params CreateAccountParams) (User, error) {
	now := time.Now().UTC()
	res := db.conn.QueryRowContext(
		ctx,
		"INSERT INTO accounts (id, username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6) RETURNING id, username, email, created_at, updated_at",
		uuid.NewString(),
		params.Username,
		params.EmailAddress,
		params.PasswordHash,
		now,
		now,
	)

	var u User
	err := res.Scan(
		&u.Id,
		&u.Username,
		&u.EmailAddress,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgGoChatRepository) GetAccountById(ctx context.Context, id string) (User, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"SELECT id, username, email, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgGoChatRepository) GetAccountByEmail(ctx context.Context, email string) (User, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var user User
	err := row.Scan(
		&user.Id,
		&user.Username,
		&user.EmailAddress,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)

	return user, err
}

func (db *PgGoChatRepository) SearchAccounts(ctx context.Context, query string, limit int) ([]User, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT id, username FROM accounts WHERE username ILIKE '%' || $1 || '%' ORDER BY username LIMIT $2",
		query,
		clampLimit(limit, defaultSearchLimit, defaultSearchLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.Id, &u.Username); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

// CreateRoom inserts the room and its creator's membership in one
// transaction so a room never exists without its creator as a member.
func (db *PgGoChatRepository) CreateRoom(ctx context.Context, params CreateRoomParams) (Room, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return Room{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	res := tx.QueryRowContext(
		ctx,
		"INSERT INTO rooms (id, name, creator_id, created_at) "+
			"VALUES ($1, $2, $3, $4) RETURNING id, name, creator_id, created_at",
		params.Id,
		params.Name,
		params.CreatorId,
		now,
	)

	var room Room
	err = res.Scan(
		&room.Id,
		&room.Name,
		&room.CreatorId,
		&room.CreatedAt,
	)
	if err != nil {
		return Room{}, err
	}

	_, err = tx.ExecContext(ctx, addMemberQuery, room.Id, params.CreatorId, now)
	if err != nil {
		return Room{}, err
	}

	if err = tx.Commit(); err != nil {
		return Room{}, err
	}

	return room, nil
}

func (db *PgGoChatRepository) GetRoom(ctx context.Context, id string) (Room, error) {
	row := db.conn.QueryRowContext(
		ctx,
		"SELECT id, name, creator_id, created_at FROM rooms WHERE id = $1 LIMIT 1",
		id,
	)

	var room Room
	err := row.Scan(
		&room.Id,
		&room.Name,
		&room.CreatorId,
		&room.CreatedAt,
	)

	return room, err
}

func (db *PgGoChatRepository) DeleteRoom(ctx context.Context, id string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, "DELETE FROM room_members WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM room_messages WHERE room_id = $1", id)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM rooms WHERE id = $1", id)
	if err != nil {
		return err
	}

	err = tx.Commit()
	return err
}

func (db *PgGoChatRepository) SearchRooms(ctx context.Context, query string, limit int) ([]Room, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT id, name, creator_id, created_at FROM rooms WHERE name ILIKE '%' || $1 || '%' ORDER BY name LIMIT $2",
		query,
		clampLimit(limit, defaultSearchLimit, defaultSearchLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRooms(rows)
}

func (db *PgGoChatRepository) ListRoomsForAccount(ctx context.Context, accountId string) ([]Room, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT r.id, r.name, r.creator_id, r.created_at FROM room_members m "+
			"JOIN rooms r ON r.id = m.room_id WHERE m.account_id = $1 ORDER BY m.created_at",
		accountId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanRooms(rows)
}

type scanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRooms(rows scanner) ([]Room, error) {
	rooms := make([]Room, 0)
	for rows.Next() {
		var room Room
		if err := rows.Scan(&room.Id, &room.Name, &room.CreatorId, &room.CreatedAt); err != nil {
			return nil, err
		}
		rooms = append(rooms, room)
	}

	return rooms, rows.Err()
}

func (db *PgGoChatRepository) AddRoomMember(ctx context.Context, roomId, accountId string) error {
	_, err := db.conn.ExecContext(ctx, addMemberQuery, roomId, accountId, time.Now().UTC())
	return err
}

func (db *PgGoChatRepository) RemoveRoomMember(ctx context.Context, roomId, accountId string) error {
	_, err := db.conn.ExecContext(
		ctx,
		"DELETE FROM room_members WHERE room_id = $1 AND account_id = $2",
		roomId,
		accountId,
	)

	return err
}

func (db *PgGoChatRepository) ListRoomMembers(ctx context.Context, roomId string) ([]string, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT account_id FROM room_members WHERE room_id = $1",
		roomId,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}

	return members, rows.Err()
}

func (db *PgGoChatRepository) CreateDirectMessage(ctx context.Context, msg DirectMessage) error {
	_, err := db.conn.ExecContext(
		ctx,
		"INSERT INTO direct_messages (sender_id, receiver_id, content, sent_at) VALUES ($1, $2, $3, $4)",
		msg.SenderId,
		msg.ReceiverId,
		msg.Content,
		msg.SentAt,
	)

	return err
}

func (db *PgGoChatRepository) CreateRoomMessage(ctx context.Context, msg RoomMessage) error {
	_, err := db.conn.ExecContext(
		ctx,
		"INSERT INTO room_messages (room_id, sender_id, sender_name, content, sent_at) VALUES ($1, $2, $3, $4, $5)",
		msg.RoomId,
		msg.SenderId,
		msg.SenderName,
		msg.Content,
		msg.SentAt,
	)

	return err
}

// GetDirectMessages returns the newest limit messages exchanged between
// userA and userB in ascending timestamp order.
func (db *PgGoChatRepository) GetDirectMessages(ctx context.Context, userA, userB string, limit int) ([]DirectMessage, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT * FROM ("+
			"SELECT d.id, d.sender_id, a.username, d.receiver_id, d.content, d.sent_at FROM direct_messages d "+
			"JOIN accounts a ON a.id = d.sender_id "+
			"WHERE (d.sender_id = $1 AND d.receiver_id = $2) OR (d.sender_id = $2 AND d.receiver_id = $1) "+
			"ORDER BY d.sent_at DESC, d.id DESC LIMIT $3"+
			") recent ORDER BY sent_at ASC, id ASC",
		userA,
		userB,
		clampLimit(limit, defaultMessageLimit, maxMessageLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]DirectMessage, 0)
	for rows.Next() {
		var msg DirectMessage
		if err := rows.Scan(&msg.Id, &msg.SenderId, &msg.SenderName, &msg.ReceiverId, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}

// GetRoomMessages returns the newest limit messages of a room in
// ascending timestamp order.
func (db *PgGoChatRepository) GetRoomMessages(ctx context.Context, roomId string, limit int) ([]RoomMessage, error) {
	rows, err := db.conn.QueryContext(
		ctx,
		"SELECT * FROM ("+
			"SELECT id, room_id, sender_id, sender_name, content, sent_at FROM room_messages "+
			"WHERE room_id = $1 ORDER BY sent_at DESC, id DESC LIMIT $2"+
			") recent ORDER BY sent_at ASC, id ASC",
		roomId,
		clampLimit(limit, defaultMessageLimit, maxMessageLimit),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]RoomMessage, 0)
	for rows.Next() {
		var msg RoomMessage
		if err := rows.Scan(&msg.Id, &msg.RoomId, &msg.SenderId, &msg.SenderName, &msg.Content, &msg.SentAt); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
