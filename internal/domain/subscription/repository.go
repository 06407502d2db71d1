package subscription

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines subscription data access
type Repository interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error)
	Upsert(ctx context.Context, sub *Subscription) error
	ExpireLapsed(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates subscription repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) GetByUserID(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	var sub Subscription
	err := r.db.GetContext(ctx, &sub, `
		SELECT user_id, current_tier, billing_cycle, started_at, expires_at, updated_at
		FROM subscriptions
		WHERE user_id = $1
	`, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (r *repository) Upsert(ctx context.Context, sub *Subscription) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO subscriptions (user_id, current_tier, billing_cycle, started_at, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (user_id) DO UPDATE
		SET current_tier = EXCLUDED.current_tier,
		    billing_cycle = EXCLUDED.billing_cycle,
		    started_at = EXCLUDED.started_at,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = now()
	`, sub.UserID, sub.CurrentTier, string(sub.BillingCycle), sub.StartedAt, sub.ExpiresAt)
	return err
}

// ExpireLapsed reverts every lapsed paid subscription to the free tier.
func (r *repository) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE subscriptions
		SET current_tier = 0, billing_cycle = '', expires_at = NULL, updated_at = now()
		WHERE current_tier > 0 AND expires_at IS NOT NULL AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
