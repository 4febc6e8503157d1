package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"marketplace-chat-service/internal/models"
)

// RoomUnread is one (user, room) unread aggregate, used to rebuild counters.
type RoomUnread struct {
	UserID int `db:"user_id"`
	RoomID int `db:"room_id"`
	Count  int `db:"count"`
}

// MessageRepository defines interactions for chat messages.
type MessageRepository interface {
	Append(ctx context.Context, roomID int, senderID int, content string) (models.Message, error)
	ListAfter(ctx context.Context, roomID int, afterSeq int64, limit int) ([]models.Message, error)
	MarkDelivered(ctx context.Context, roomID int, seq int64) error
	MarkReadForUser(ctx context.Context, roomID int, readerID int) error
	QueuedCounts(ctx context.Context) ([]RoomUnread, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Append allocates the next sequence number of the room and stores the
// message, both inside one transaction. The row lock taken by the last_seq
// update serializes concurrent appends to the same room, so sequences come
// out strictly increasing and gapless per room.
func (r *MessageRepo) Append(ctx context.Context, roomID int, senderID int, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var seq int64
	err = tx.QueryRowxContext(ctx, `UPDATE rooms SET last_seq = last_seq + 1 WHERE id=$1 RETURNING last_seq`, roomID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrRoomNotFound
	}
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	err = tx.QueryRowxContext(ctx, `INSERT INTO messages (room_id, seq, sender_id, content)
        VALUES ($1, $2, $3, $4)
        RETURNING id, room_id, seq, sender_id, content, status, created_at`, roomID, seq, senderID, content).
		Scan(&msg.ID, &msg.RoomID, &msg.Seq, &msg.SenderID, &msg.Content, &msg.Status, &msg.CreatedAt)
	if err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// ListAfter returns messages of a room with seq greater than afterSeq,
// ascending. limit <= 0 means no limit.
func (r *MessageRepo) ListAfter(ctx context.Context, roomID int, afterSeq int64, limit int) ([]models.Message, error) {
	query := `SELECT id, room_id, seq, sender_id, content, status, created_at FROM messages
        WHERE room_id=$1 AND seq > $2 ORDER BY seq ASC`
	args := []any{roomID, afterSeq}
	if limit > 0 {
		query += ` LIMIT $3`
		args = append(args, limit)
	}

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// MarkDelivered moves a queued message to delivered.
func (r *MessageRepo) MarkDelivered(ctx context.Context, roomID int, seq int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$1 WHERE room_id=$2 AND seq=$3 AND status=$4`,
		models.StatusDelivered, roomID, seq, models.StatusQueued)
	return err
}

// MarkReadForUser marks every message the reader received in the room as read.
func (r *MessageRepo) MarkReadForUser(ctx context.Context, roomID int, readerID int) error {
	_, err := r.db.ExecContext(ctx, `UPDATE messages SET status=$1 WHERE room_id=$2 AND sender_id<>$3 AND status<>$1`,
		models.StatusRead, roomID, readerID)
	return err
}

// QueuedCounts aggregates still-queued messages per (recipient, room). Used
// to rebuild unread counters after a restart.
func (r *MessageRepo) QueuedCounts(ctx context.Context) ([]RoomUnread, error) {
	var counts []RoomUnread
	err := r.db.SelectContext(ctx, &counts, `SELECT
            CASE WHEN m.sender_id = r.user1_id THEN r.user2_id ELSE r.user1_id END AS user_id,
            m.room_id AS room_id,
            COUNT(*) AS count
        FROM messages m
        JOIN rooms r ON r.id = m.room_id
        WHERE m.status = $1
        GROUP BY 1, 2`, models.StatusQueued)
	return counts, err
}
