package purchase

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines tier purchase data access
type Repository interface {
	Record(ctx context.Context, p *TierPurchase) error
	ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]TierPurchase, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates tier purchase repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Record(ctx context.Context, p *TierPurchase) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO tier_purchases
			(id, user_id, from_tier, to_tier, billing_cycle, full_price, credit_applied, amount_paid, paid_via, invoice_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, p.ID, p.UserID, p.FromTier, p.ToTier, string(p.BillingCycle),
		p.FullPrice, p.CreditApplied, p.AmountPaid, p.PaidVia, p.InvoiceID, p.CreatedAt)
	return err
}

func (r *repository) ListByUser(ctx context.Context, userID uuid.UUID, limit int) ([]TierPurchase, error) {
	if limit <= 0 {
		limit = 20
	}
	purchases := []TierPurchase{}
	err := r.db.SelectContext(ctx, &purchases, `
		SELECT id, user_id, from_tier, to_tier, billing_cycle, full_price, credit_applied, amount_paid, paid_via, invoice_id, created_at
		FROM tier_purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	return purchases, nil
}
