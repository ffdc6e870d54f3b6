package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"chat-broker/internal/models"
)

var ErrDuplicateMessage = errors.New("message already stored")

// MessageRepository is the durable log behind room history.
type MessageRepository interface {
	AppendMessage(ctx context.Context, msg models.Message) error
	ListRoomMessages(ctx context.Context, roomID string, until time.Time) ([]models.Message, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// AppendMessage stores a routed message with the stamp the broker assigned.
func (r *MessageRepo) AppendMessage(ctx context.Context, msg models.Message) error {
	res, err := r.db.NamedExecContext(ctx, `INSERT INTO room_messages (id, room_id, sender_id, recipient_id, text, created_at)
        VALUES (:id, :room_id, :sender_id, :recipient_id, :text, :created_at)
        ON CONFLICT (id) DO NOTHING`, msg)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrDuplicateMessage
	}
	return nil
}

// ListRoomMessages returns the room's messages stamped at or before until,
// oldest first. A zero until returns everything.
func (r *MessageRepo) ListRoomMessages(ctx context.Context, roomID string, until time.Time) ([]models.Message, error) {
	query, args := roomMessagesQuery(roomID, until)
	msgs := []models.Message{}
	if err := r.db.SelectContext(ctx, &msgs, query, args...); err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i].CreatedAt = msgs[i].CreatedAt.UTC()
	}
	return msgs, nil
}

// roomMessagesQuery bounds the backlog inclusively at the join watermark.
func roomMessagesQuery(roomID string, until time.Time) (string, []any) {
	query := `SELECT id, room_id, sender_id, recipient_id, text, created_at
        FROM room_messages
        WHERE room_id=$1`
	args := []any{roomID}
	if !until.IsZero() {
		query += ` AND created_at <= $2`
		args = append(args, until.UTC())
	}
	query += ` ORDER BY created_at ASC, id ASC`
	return query, args
}
