package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"dm-service/internal/models"
)

var ErrConversationNotFound = errors.New("conversation not found")

// ConversationRepository abstracts conversation persistence.
type ConversationRepository interface {
	GetOrCreate(ctx context.Context, userID int, peerID int) (models.Conversation, bool, error)
	Get(ctx context.Context, conversationID int) (models.Conversation, error)
	IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error)
	ListSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error)
}

// ConversationRepo is a sqlx implementation of ConversationRepository.
type ConversationRepo struct {
	db *sqlx.DB
}

// NewConversationRepo constructs a ConversationRepo.
func NewConversationRepo(db *sqlx.DB) *ConversationRepo {
	return &ConversationRepo{db: db}
}

const conversationColumns = `id, user_min, user_max, created_at, updated_at`

// GetOrCreate returns the conversation for the unordered pair, creating it
// (plus both participant rows) if missing. The second return value reports
// whether a new conversation was created by this call. Concurrent creators
// racing on the same pair converge on one row: the insert uses ON CONFLICT
// DO NOTHING and the loser re-reads the winner's row.
func (r *ConversationRepo) GetOrCreate(ctx context.Context, userID int, peerID int) (models.Conversation, bool, error) {
	if userID == peerID {
		return models.Conversation{}, false, errors.New("cannot create conversation with self")
	}
	userMin, userMax := userID, peerID
	if userMin > userMax {
		userMin, userMax = userMax, userMin
	}

	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations WHERE user_min=$1 AND user_max=$2`,
		userMin, userMax)
	if err == nil {
		return conv, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, false, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Conversation{}, false, err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, &conv,
		`INSERT INTO conversations (user_min, user_max) VALUES ($1, $2)
         ON CONFLICT (user_min, user_max) DO NOTHING
         RETURNING `+conversationColumns,
		userMin, userMax)
	if errors.Is(err, sql.ErrNoRows) {
		// Race loser: someone else inserted the pair between our select
		// and insert. Their row is the conversation.
		if err := r.db.GetContext(ctx, &conv,
			`SELECT `+conversationColumns+` FROM conversations WHERE user_min=$1 AND user_max=$2`,
			userMin, userMax); err != nil {
			return models.Conversation{}, false, fmt.Errorf("reread conversation after conflict: %w", err)
		}
		return conv, false, nil
	}
	if err != nil {
		return models.Conversation{}, false, err
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO participants (conversation_id, user_id) VALUES ($1, $2), ($1, $3)`,
		conv.ID, userMin, userMax); err != nil {
		return models.Conversation{}, false, err
	}

	if err := tx.Commit(); err != nil {
		return models.Conversation{}, false, err
	}
	return conv, true, nil
}

// Get fetches a conversation by id.
func (r *ConversationRepo) Get(ctx context.Context, conversationID int) (models.Conversation, error) {
	var conv models.Conversation
	err := r.db.GetContext(ctx, &conv,
		`SELECT `+conversationColumns+` FROM conversations WHERE id=$1`, conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Conversation{}, ErrConversationNotFound
	}
	return conv, err
}

// IsParticipant checks whether a user belongs to the conversation.
func (r *ConversationRepo) IsParticipant(ctx context.Context, conversationID int, userID int) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM participants WHERE conversation_id=$1 AND user_id=$2)`,
		conversationID, userID)
	return exists, err
}

// ListSummaries returns the user's conversations newest-activity first, each
// with the peer id, the latest message and the derived unread count. One
// query resolves everything so the list view costs a single round trip.
func (r *ConversationRepo) ListSummaries(ctx context.Context, userID int) ([]models.ConversationSummary, error) {
	query := `SELECT c.id AS conversation_id,
            CASE WHEN c.user_min = $1 THEN c.user_max ELSE c.user_min END AS peer_id,
            c.updated_at,
            (SELECT COUNT(*) FROM messages m
               WHERE m.conversation_id = c.id
                 AND m.sender_id <> $1
                 AND m.created_at > COALESCE(p.last_read_at, 'epoch'::timestamptz)) AS unread_count,
            lm.id AS last_id, lm.sender_id AS last_sender_id, lm.content AS last_content,
            lm.is_read AS last_is_read, lm.created_at AS last_created_at
        FROM conversations c
        JOIN participants p ON p.conversation_id = c.id AND p.user_id = $1
        LEFT JOIN LATERAL (
            SELECT id, sender_id, content, is_read, created_at
            FROM messages m
            WHERE m.conversation_id = c.id
            ORDER BY created_at DESC, id DESC
            LIMIT 1
        ) lm ON TRUE
        ORDER BY c.updated_at DESC`

	rows, err := r.db.QueryxContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []models.ConversationSummary
	for rows.Next() {
		var row struct {
			models.ConversationSummary
			LastID        sql.NullInt64  `db:"last_id"`
			LastSenderID  sql.NullInt64  `db:"last_sender_id"`
			LastContent   sql.NullString `db:"last_content"`
			LastIsRead    sql.NullBool   `db:"last_is_read"`
			LastCreatedAt sql.NullTime   `db:"last_created_at"`
		}
		if err := rows.StructScan(&row); err != nil {
			return nil, err
		}
		summary := row.ConversationSummary
		if row.LastID.Valid {
			summary.LastMessage = &models.Message{
				ID:             int(row.LastID.Int64),
				ConversationID: summary.ConversationID,
				SenderID:       int(row.LastSenderID.Int64),
				Content:        row.LastContent.String,
				IsRead:         row.LastIsRead.Bool,
				CreatedAt:      row.LastCreatedAt.Time,
			}
		}
		result = append(result, summary)
	}
	return result, rows.Err()
}
