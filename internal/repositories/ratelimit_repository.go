package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// RateLimitRepository backs the sliding-window conversation-creation limit.
// The window lives in the shared store so it holds across restarts and
// across concurrently running service instances.
type RateLimitRepository interface {
	CountSince(ctx context.Context, userID int, since time.Time) (int, error)
	Log(ctx context.Context, userID int) error
	PruneBefore(ctx context.Context, cutoff time.Time) error
}

// RateLimitRepo is a sqlx implementation of RateLimitRepository.
type RateLimitRepo struct {
	db *sqlx.DB
}

// NewRateLimitRepo constructs a RateLimitRepo.
func NewRateLimitRepo(db *sqlx.DB) *RateLimitRepo {
	return &RateLimitRepo{db: db}
}

// CountSince counts the user's logged attempts inside the trailing window.
// The window slides continuously; there is no bucket reset.
func (r *RateLimitRepo) CountSince(ctx context.Context, userID int, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM rate_limit_entries WHERE user_id=$1 AND created_at > $2`,
		userID, since)
	return count, err
}

// Log records one attempt. One row is written per get-or-create call that
// passes the limiter check, lookups included (see DESIGN.md).
func (r *RateLimitRepo) Log(ctx context.Context, userID int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rate_limit_entries (user_id) VALUES ($1)`, userID)
	return err
}

// PruneBefore removes entries that aged out of every possible window. Called
// opportunistically from the creation path; no background job.
func (r *RateLimitRepo) PruneBefore(ctx context.Context, cutoff time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM rate_limit_entries WHERE created_at < $1`, cutoff)
	return err
}
