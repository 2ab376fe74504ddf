package repositories

import (
	"context"
	"database/sql"
	"errors"
	"sort"

	"github.com/jmoiron/sqlx"

	"pet-society-chat/internal/models"
)

var ErrRoomNotFound = errors.New("room not found")

// RoomRepository abstracts chat room, membership and presence persistence.
// Membership and presence operations are idempotent: adding an existing
// member or online mark is a no-op, removing a missing one is not an error.
type RoomRepository interface {
	EnsureRoom(ctx context.Context, name string) (models.ChatRoom, error)
	GetRoom(ctx context.Context, name string) (models.ChatRoom, error)
	CreateRoom(ctx context.Context, name string, isPrivate bool, memberIDs []int) (models.ChatRoom, error)
	FindPrivateRoom(ctx context.Context, userA, userB int) (models.ChatRoom, error)
	RoomsForUser(ctx context.Context, userID int) ([]models.ChatRoom, error)
	AddMember(ctx context.Context, roomID, userID int) error
	RemoveMember(ctx context.Context, roomID, userID int) error
	IsMember(ctx context.Context, roomID, userID int) (bool, error)
	MemberIDs(ctx context.Context, roomID int) ([]int, error)
	SetOnline(ctx context.Context, roomID, userID int) error
	SetOffline(ctx context.Context, roomID, userID int) error
	OnlineUsers(ctx context.Context, roomID int) ([]models.OnlineUser, error)
}

// RoomRepo is a sqlx implementation of RoomRepository.
type RoomRepo struct {
	db *sqlx.DB
}

// NewRoomRepo constructs a RoomRepo.
func NewRoomRepo(db *sqlx.DB) *RoomRepo {
	return &RoomRepo{db: db}
}

// EnsureRoom finds a room by name, creating it when absent.
func (r *RoomRepo) EnsureRoom(ctx context.Context, name string) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.GetContext(ctx, &room, `SELECT id, name, is_private FROM chat_rooms WHERE name=$1`, name)
	if err == nil {
		return room, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.ChatRoom{}, err
	}
	// Concurrent EnsureRoom calls for the same name race on the insert;
	// ON CONFLICT makes the loser fall through to the existing row.
	err = r.db.QueryRowxContext(ctx, `INSERT INTO chat_rooms (name) VALUES ($1)
        ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
        RETURNING id, name, is_private`, name).
		Scan(&room.ID, &room.Name, &room.IsPrivate)
	return room, err
}

// GetRoom fetches a room by its stable name.
func (r *RoomRepo) GetRoom(ctx context.Context, name string) (models.ChatRoom, error) {
	var room models.ChatRoom
	err := r.db.GetContext(ctx, &room, `SELECT id, name, is_private FROM chat_rooms WHERE name=$1`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatRoom{}, ErrRoomNotFound
	}
	return room, err
}

// CreateRoom creates a room and its initial members atomically. Nothing
// is persisted when any insert fails.
func (r *RoomRepo) CreateRoom(ctx context.Context, name string, isPrivate bool, memberIDs []int) (models.ChatRoom, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.ChatRoom{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var room models.ChatRoom
	if err = tx.QueryRowxContext(ctx, `INSERT INTO chat_rooms (name, is_private) VALUES ($1, $2) RETURNING id, name, is_private`, name, isPrivate).
		Scan(&room.ID, &room.Name, &room.IsPrivate); err != nil {
		return models.ChatRoom{}, err
	}

	seen := map[int]struct{}{}
	ids := make([]int, 0, len(memberIDs))
	for _, id := range memberIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)

	for _, id := range ids {
		if _, err = tx.ExecContext(ctx, `INSERT INTO chat_room_members (room_id, user_id) VALUES ($1, $2)`, room.ID, id); err != nil {
			return models.ChatRoom{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.ChatRoom{}, err
	}
	return room, nil
}

// FindPrivateRoom returns the private room whose member set is exactly
// the two given users, if one exists.
func (r *RoomRepo) FindPrivateRoom(ctx context.Context, userA, userB int) (models.ChatRoom, error) {
	var room models.ChatRoom
	query := `SELECT r.id, r.name, r.is_private FROM chat_rooms r
        WHERE r.is_private
        AND EXISTS (SELECT 1 FROM chat_room_members WHERE room_id=r.id AND user_id=$1)
        AND EXISTS (SELECT 1 FROM chat_room_members WHERE room_id=r.id AND user_id=$2)
        AND (SELECT COUNT(*) FROM chat_room_members WHERE room_id=r.id) = 2
        LIMIT 1`
	err := r.db.GetContext(ctx, &room, query, userA, userB)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ChatRoom{}, ErrRoomNotFound
	}
	return room, err
}

// RoomsForUser returns every room the user is a member of.
func (r *RoomRepo) RoomsForUser(ctx context.Context, userID int) ([]models.ChatRoom, error) {
	var rooms []models.ChatRoom
	err := r.db.SelectContext(ctx, &rooms, `SELECT r.id, r.name, r.is_private FROM chat_rooms r
        INNER JOIN chat_room_members m ON m.room_id = r.id
        WHERE m.user_id=$1 ORDER BY r.id DESC`, userID)
	return rooms, err
}

// AddMember adds a user to room membership.
func (r *RoomRepo) AddMember(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_room_members (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// RemoveMember removes a user from membership. Message history is kept.
func (r *RoomRepo) RemoveMember(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_room_members WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}

// IsMember checks membership.
func (r *RoomRepo) IsMember(ctx context.Context, roomID, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists, `SELECT EXISTS(SELECT 1 FROM chat_room_members WHERE room_id=$1 AND user_id=$2)`, roomID, userID)
	return exists, err
}

// MemberIDs lists the ids of every room member.
func (r *RoomRepo) MemberIDs(ctx context.Context, roomID int) ([]int, error) {
	var ids []int
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM chat_room_members WHERE room_id=$1 ORDER BY user_id`, roomID)
	return ids, err
}

// SetOnline marks a user online in the room.
func (r *RoomRepo) SetOnline(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO chat_room_online (room_id, user_id) VALUES ($1, $2)
        ON CONFLICT (room_id, user_id) DO NOTHING`, roomID, userID)
	return err
}

// SetOffline clears a user's online mark. Safe to call when the mark or
// the room is already gone.
func (r *RoomRepo) SetOffline(ctx context.Context, roomID, userID int) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM chat_room_online WHERE room_id=$1 AND user_id=$2`, roomID, userID)
	return err
}

// OnlineUsers returns the room's online set with display names.
func (r *RoomRepo) OnlineUsers(ctx context.Context, roomID int) ([]models.OnlineUser, error) {
	var users []models.OnlineUser
	err := r.db.SelectContext(ctx, &users, `SELECT u.id, u.username FROM users u
        INNER JOIN chat_room_online o ON o.user_id = u.id
        WHERE o.room_id=$1 ORDER BY u.username`, roomID)
	return users, err
}
