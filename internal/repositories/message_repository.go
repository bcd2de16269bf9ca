package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"whisper-service/internal/models"
)

var (
	ErrMessageNotFound  = errors.New("message not found")
	ErrReceiverNotFound = errors.New("receiver not found")
)

const messageColumns = `id, sender_id, receiver_id, payload, iv, client_token, read_status, created_at`

// MessageRepository defines interactions for stored messages. Every read
// filters on the same retention horizon the sweeper deletes against.
type MessageRepository interface {
	Create(ctx context.Context, senderID, receiverID int, payload, iv, clientToken string) (models.Message, error)
	GetConversation(ctx context.Context, userID, otherUserID, limit int, horizon time.Duration) ([]models.ConversationMessage, error)
	UnreadCount(ctx context.Context, userID int, horizon time.Duration) (int, error)
	MarkRead(ctx context.Context, messageID, userID int) error
	PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error)
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

// Create stores a message. When clientToken is non-empty the insert is
// idempotent per (sender, token): a retried send resolves to the existing
// row instead of creating a duplicate.
func (r *MessageRepo) Create(ctx context.Context, senderID, receiverID int, payload, iv, clientToken string) (models.Message, error) {
	var msg models.Message
	var err error
	if clientToken == "" {
		err = r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, payload, iv) VALUES ($1, $2, $3, $4) RETURNING `+messageColumns,
			senderID, receiverID, payload, iv).StructScan(&msg)
	} else {
		// The no-op DO UPDATE makes RETURNING yield the existing row on conflict.
		err = r.db.QueryRowxContext(ctx, `INSERT INTO messages (sender_id, receiver_id, payload, iv, client_token) VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (sender_id, client_token) WHERE client_token IS NOT NULL
        DO UPDATE SET client_token = EXCLUDED.client_token
        RETURNING `+messageColumns,
			senderID, receiverID, payload, iv, clientToken).StructScan(&msg)
	}
	if isForeignKeyViolation(err) {
		return models.Message{}, ErrReceiverNotFound
	}
	return msg, err
}

func isForeignKeyViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23503"
}

// GetConversation returns messages between two users inside the retention
// horizon, newest first, capped at limit. Callers reverse for display.
func (r *MessageRepo) GetConversation(ctx context.Context, userID, otherUserID, limit int, horizon time.Duration) ([]models.ConversationMessage, error) {
	cutoff := time.Now().Add(-horizon)
	query := `SELECT m.id, m.sender_id, m.receiver_id, m.payload, m.iv, m.client_token, m.read_status, m.created_at,
            s.username AS sender_username,
            r.username AS receiver_username
        FROM messages m
        JOIN users s ON m.sender_id = s.id
        JOIN users r ON m.receiver_id = r.id
        WHERE ((m.sender_id=$1 AND m.receiver_id=$2) OR (m.sender_id=$2 AND m.receiver_id=$1))
        AND m.created_at >= $3
        ORDER BY m.created_at DESC
        LIMIT $4`
	var msgs []models.ConversationMessage
	err := r.db.SelectContext(ctx, &msgs, query, userID, otherUserID, cutoff, limit)
	return msgs, err
}

// UnreadCount counts unread messages to the user inside the horizon.
func (r *MessageRepo) UnreadCount(ctx context.Context, userID int, horizon time.Duration) (int, error) {
	cutoff := time.Now().Add(-horizon)
	var count int
	err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM messages WHERE receiver_id=$1 AND read_status=FALSE AND created_at >= $2`, userID, cutoff)
	return count, err
}

// MarkRead flags a message as read, only for its receiver.
func (r *MessageRepo) MarkRead(ctx context.Context, messageID, userID int) error {
	res, err := r.db.ExecContext(ctx, `UPDATE messages SET read_status=TRUE WHERE id=$1 AND receiver_id=$2`, messageID, userID)
	if err != nil {
		return err
	}
	count, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if count == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// PurgeOlderThan deletes every message older than the horizon in a single
// statement and returns the number of rows removed.
func (r *MessageRepo) PurgeOlderThan(ctx context.Context, horizon time.Duration) (int64, error) {
	cutoff := time.Now().Add(-horizon)
	res, err := r.db.ExecContext(ctx, `DELETE FROM messages WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
