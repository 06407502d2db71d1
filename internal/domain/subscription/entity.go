package subscription

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/domain/tier"
)

// Subscription is a user's current tier assignment. Every user has at
// most one row; users without a row are on the free tier.
type Subscription struct {
	UserID       uuid.UUID         `db:"user_id" json:"user_id"`
	CurrentTier  int               `db:"current_tier" json:"current_tier"`
	BillingCycle tier.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	StartedAt    time.Time         `db:"started_at" json:"started_at"`
	ExpiresAt    sql.NullTime      `db:"expires_at" json:"-"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// EffectiveTier is the tier the user is actually entitled to at a given
// moment. A paid tier whose period has lapsed reads as free even before
// the expiry sweep rewrites the row.
func (s *Subscription) EffectiveTier(now time.Time) int {
	if s == nil || s.CurrentTier == 0 {
		return 0
	}
	if !s.ExpiresAt.Valid || !s.ExpiresAt.Time.After(now) {
		return 0
	}
	return s.CurrentTier
}

// Current converts the subscription into pricing input.
func (s *Subscription) Current(now time.Time) tier.Current {
	level := s.EffectiveTier(now)
	cur := tier.Current{Level: level}
	if level > 0 {
		cur.Cycle = s.BillingCycle
		cur.ExpiresAt = s.ExpiresAt.Time
	}
	return cur
}
