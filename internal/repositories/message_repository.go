package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrMessageNotFound = errors.New("message not found")

// MessageRepository defines interactions with the append-only message log.
type MessageRepository interface {
	Append(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error)
	List(ctx context.Context, conversationID int, afterID int, limit int) ([]models.Message, error)
	Get(ctx context.Context, messageID int) (models.Message, error)
	Delete(ctx context.Context, messageID int, senderID int) error
}

// MessageRepo is a sqlx-backed repository.
type MessageRepo struct {
	db *sqlx.DB
}

// NewMessageRepo constructs MessageRepo.
func NewMessageRepo(db *sqlx.DB) *MessageRepo {
	return &MessageRepo{db: db}
}

const messageColumns = `id, conversation_id, sender_id, content, is_read, created_at`

// Append inserts a message and bumps the conversation's updated_at to the
// message timestamp in one transaction.
func (r *MessageRepo) Append(ctx context.Context, conversationID int, senderID int, content string) (models.Message, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Message{}, err
	}
	defer tx.Rollback()

	var msg models.Message
	if err := tx.GetContext(ctx, &msg,
		`INSERT INTO messages (conversation_id, sender_id, content) VALUES ($1, $2, $3)
         RETURNING `+messageColumns,
		conversationID, senderID, content); err != nil {
		return models.Message{}, err
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET updated_at=$1 WHERE id=$2`,
		msg.CreatedAt, conversationID); err != nil {
		return models.Message{}, err
	}

	if err := tx.Commit(); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// List returns the conversation's messages ordered by (created_at, id)
// ascending. afterID > 0 resumes after that message (keyset pagination);
// limit <= 0 returns everything from the cursor on. A cursor that was
// deleted or belongs to another conversation yields an empty subquery set,
// so > ALL holds and the page restarts from the beginning of the log.
func (r *MessageRepo) List(ctx context.Context, conversationID int, afterID int, limit int) ([]models.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE conversation_id=$1`
	args := []interface{}{conversationID}
	if afterID > 0 {
		query += ` AND (created_at, id) > ALL (SELECT created_at, id FROM messages WHERE id=$2 AND conversation_id=$1)`
		args = append(args, afterID)
	}
	query += ` ORDER BY created_at ASC, id ASC`
	if limit > 0 {
		args = append(args, limit)
		if afterID > 0 {
			query += ` LIMIT $3`
		} else {
			query += ` LIMIT $2`
		}
	}

	var msgs []models.Message
	err := r.db.SelectContext(ctx, &msgs, query, args...)
	return msgs, err
}

// Get retrieves a single message.
func (r *MessageRepo) Get(ctx context.Context, messageID int) (models.Message, error) {
	var msg models.Message
	err := r.db.GetContext(ctx, &msg,
		`SELECT `+messageColumns+` FROM messages WHERE id=$1`, messageID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Message{}, ErrMessageNotFound
	}
	return msg, err
}

// Delete hard-deletes a message. The sender_id guard keeps the operation a
// no-op for anyone but the author; zero rows affected maps to not-found so
// callers cannot distinguish foreign messages from missing ones.
func (r *MessageRepo) Delete(ctx context.Context, messageID int, senderID int) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM messages WHERE id=$1 AND sender_id=$2`, messageID, senderID)
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
