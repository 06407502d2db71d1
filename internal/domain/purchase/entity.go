package purchase

import (
	"time"

	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/domain/tier"
)

// How a tier purchase was paid.
const (
	PaidViaWallet  = "wallet"
	PaidViaGateway = "khalti"
)

// TierPurchase is the audit record for one tier upgrade. FullPrice,
// CreditApplied and AmountPaid are the quote the user accepted, so the
// charge can always be explained after the fact.
type TierPurchase struct {
	ID            uuid.UUID         `db:"id" json:"id"`
	UserID        uuid.UUID         `db:"user_id" json:"user_id"`
	FromTier      int               `db:"from_tier" json:"from_tier"`
	ToTier        int               `db:"to_tier" json:"to_tier"`
	BillingCycle  tier.BillingCycle `db:"billing_cycle" json:"billing_cycle"`
	FullPrice     int64             `db:"full_price" json:"full_price"`
	CreditApplied int64             `db:"credit_applied" json:"credit_applied"`
	AmountPaid    int64             `db:"amount_paid" json:"amount_paid"`
	PaidVia       string            `db:"paid_via" json:"paid_via"`
	InvoiceID     *uuid.UUID        `db:"invoice_id" json:"invoice_id,omitempty"`
	CreatedAt     time.Time         `db:"created_at" json:"created_at"`
}
