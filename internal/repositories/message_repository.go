package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"pet-society-chat/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions for stored chat messages and
// per-user read markers.
type MessageRepository interface {
	Create(ctx context.Context, roomID, authorID int, kind, body string, isEncrypted bool, imageURL string) (models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	ListPage(ctx context.Context, roomID, beforeID, limit, offset int) ([]models.Message, error)
	LastMessage(ctx context.Context, roomID int) (models.Message, error)
	MarkRead(ctx context.Context, roomID, userID int) (int, error)
	UnreadCount(ctx context.Context, userID int) (int, error)
	UnreadCountForRoom(ctx context.Context, roomID, userID int) (int, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs a MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, room_id, author_id, kind, body, is_encrypted, image_url, created_at`

// Create persists a message. Messages are immutable once stored.
func (r *MessageRepo) Create(ctx context.Context, roomID, authorID int, kind, body string, isEncrypted bool, imageURL string) (models.Message, error) {
	var msg models.Message
	err := r.db.QueryRowxContext(ctx, `INSERT INTO chat_messages (room_id, author_id, kind, body, is_encrypted, image_url)
        VALUES ($1, $2, $3, $4, $5, $6) RETURNING `+messageColumns,
		roomID, authorID, kind, body, isEncrypted, imageURL).
		StructScan(&msg)
	return msg, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// ListPage returns messages newest first. When beforeID is non-zero only
// messages strictly older than that message's timestamp are considered;
// limit and offset then apply to the filtered set.
func (r *MessageRepo) ListPage(ctx context.Context, roomID, beforeID, limit, offset int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM chat_messages
        WHERE room_id=$1
        AND ($2 = 0 OR created_at < (SELECT created_at FROM chat_messages WHERE id=$2))
        ORDER BY created_at DESC, id DESC
        LIMIT $3 OFFSET $4`
	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, roomID, beforeID, limit, offset)
	return msgs, err
}

// LastMessage returns the newest message in the room.
func (r *MessageRepo) LastMessage(ctx context.Context, roomID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg, `SELECT `+messageColumns+` FROM chat_messages
        WHERE room_id=$1 ORDER BY created_at DESC, id DESC LIMIT 1`, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// MarkRead creates read markers for every message in the room the user
// has not authored and not yet read, returning the number newly marked.
// Re-invoking with nothing new to mark returns 0.
func (r *MessageRepo) MarkRead(ctx context.Context, roomID, userID int) (int, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO chat_message_reads (message_id, user_id)
        SELECT m.id, $2 FROM chat_messages m
        WHERE m.room_id=$1 AND m.author_id<>$2
        ON CONFLICT (message_id, user_id) DO NOTHING`, roomID, userID)
	if err != nil {
		return 0, err
	}
	count, err := res.RowsAffected()
	return int(count), err
}

// UnreadCount counts unread messages for the user across all their rooms.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages m
        INNER JOIN chat_room_members rm ON rm.room_id = m.room_id AND rm.user_id=$1
        WHERE m.author_id<>$1
        AND NOT EXISTS (SELECT 1 FROM chat_message_reads r WHERE r.message_id=m.id AND r.user_id=$1)`, userID)
	return count, err
}

// UnreadCountForRoom counts unread messages for the user in one room.
func (r *MessageRepo) UnreadCountForRoom(ctx context.Context, roomID, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM chat_messages m
        WHERE m.room_id=$1 AND m.author_id<>$2
        AND NOT EXISTS (SELECT 1 FROM chat_message_reads r WHERE r.message_id=m.id AND r.user_id=$2)`, roomID, userID)
	return count, err
}
