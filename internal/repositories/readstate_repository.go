package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrNotParticipant = errors.New("user is not a participant")

// ReadStateRepository tracks per-participant read cursors and derives unread
// counts from them. The cursor is the sole source of truth; the per-message
// is_read flag is informational and only flipped opportunistically.
type ReadStateRepository interface {
	MarkRead(ctx context.Context, conversationID int, userID int) (time.Time, error)
	UnreadCount(ctx context.Context, conversationID int, userID int) (int, error)
	GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error)
}

// ReadStateRepo is a sqlx implementation of ReadStateRepository.
type ReadStateRepo struct {
	db *sqlx.DB
}

// NewReadStateRepo constructs a ReadStateRepo.
func NewReadStateRepo(db *sqlx.DB) *ReadStateRepo {
	return &ReadStateRepo{db: db}
}

// MarkRead advances the participant's read cursor to now and returns the new
// cursor value. Last-writer-wins across concurrent sessions of the same user
// is fine: a stale cursor only transiently miscounts and self-corrects on
// the next mark.
func (r *ReadStateRepo) MarkRead(ctx context.Context, conversationID int, userID int) (time.Time, error) {
	var readAt time.Time
	err := r.db.GetContext(ctx, &readAt,
		`UPDATE participants SET last_read_at=NOW()
         WHERE conversation_id=$1 AND user_id=$2
         RETURNING last_read_at`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, ErrNotParticipant
	}
	if err != nil {
		return time.Time{}, err
	}

	// Informational flag only; never consulted for unread derivation.
	_, _ = r.db.ExecContext(ctx,
		`UPDATE messages SET is_read=TRUE
         WHERE conversation_id=$1 AND sender_id<>$2 AND is_read=FALSE AND created_at<=$3`,
		conversationID, userID, readAt)

	return readAt, nil
}

// UnreadCount counts peer messages newer than the participant's cursor.
// Recomputed on every call; never cached.
func (r *ReadStateRepo) UnreadCount(ctx context.Context, conversationID int, userID int) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM messages m
         JOIN participants p ON p.conversation_id = m.conversation_id AND p.user_id = $2
         WHERE m.conversation_id=$1
           AND m.sender_id <> $2
           AND m.created_at > COALESCE(p.last_read_at, 'epoch'::timestamptz)`,
		conversationID, userID)
	return count, err
}

// GetParticipant fetches a participant row.
func (r *ReadStateRepo) GetParticipant(ctx context.Context, conversationID int, userID int) (models.Participant, error) {
	var p models.Participant
	err := r.db.GetContext(ctx, &p,
		`SELECT conversation_id, user_id, joined_at, last_read_at
         FROM participants WHERE conversation_id=$1 AND user_id=$2`,
		conversationID, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Participant{}, ErrNotParticipant
	}
	return p, err
}
