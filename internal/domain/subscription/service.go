package subscription

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chautari/chautari-api/internal/domain/tier"
)

type Service struct {
	repo    Repository
	catalog tier.Catalog
}

func NewService(repo Repository, catalog tier.Catalog) *Service {
	return &Service{repo: repo, catalog: catalog}
}

func (s *Service) Catalog() tier.Catalog {
	return s.catalog
}

// GetCurrent returns the user's subscription and the tier it entitles
// them to right now. Users without a row, and users whose paid period
// has lapsed, resolve to the free tier.
func (s *Service) GetCurrent(ctx context.Context, userID uuid.UUID) (*Subscription, tier.Tier, error) {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return nil, tier.Tier{}, err
	}

	now := time.Now()
	if sub == nil {
		sub = &Subscription{UserID: userID, CurrentTier: 0, StartedAt: now, UpdatedAt: now}
	}

	level := sub.EffectiveTier(now)
	t, err := s.catalog.Get(level)
	if err != nil {
		return nil, tier.Tier{}, err
	}
	return sub, t, nil
}

// QuoteInput returns the pricing state for the user's current entitlement.
func (s *Service) QuoteInput(ctx context.Context, userID uuid.UUID) (tier.Current, error) {
	sub, err := s.repo.GetByUserID(ctx, userID)
	if err != nil {
		return tier.Current{}, err
	}
	return sub.Current(time.Now()), nil
}

// ApplyUpgrade moves the user to a higher tier. The new period starts
// now regardless of what was left on the old one; the remainder has
// already been priced into the upgrade quote.
func (s *Service) ApplyUpgrade(ctx context.Context, userID uuid.UUID, targetLevel int, cycle tier.BillingCycle, now time.Time) (*Subscription, error) {
	if _, err := s.catalog.Get(targetLevel); err != nil {
		return nil, err
	}
	if !cycle.Valid() {
		return nil, tier.ErrInvalidCycle
	}

	sub := &Subscription{
		UserID:       userID,
		CurrentTier:  targetLevel,
		BillingCycle: cycle,
		StartedAt:    now,
		ExpiresAt:    sql.NullTime{Time: now.Add(cycle.Duration()), Valid: true},
		UpdatedAt:    now,
	}
	if err := s.repo.Upsert(ctx, sub); err != nil {
		return nil, err
	}

	log.Info().Str("user_id", userID.String()).Int("tier", targetLevel).Str("cycle", string(cycle)).Time("expires_at", sub.ExpiresAt.Time).Msg("subscription tier applied")
	return sub, nil
}

func (s *Service) ExpireLapsed(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.ExpireLapsed(ctx, now)
}
