package paysession

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/domain/tier"
)

// Status is the lifecycle state of a payment session.
//
//	pending -> verifying -> completed
//	pending -> verifying -> failed
//	pending -> expired
//
// The verifying hop is committed before the gateway is contacted so a
// crash mid-verification never leaves a session both credited and
// pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerifying Status = "verifying"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusExpired   Status = "expired"
)

// Purpose says what a completed session pays for.
type Purpose string

const (
	PurposeWalletTopup      Purpose = "wallet_topup"
	PurposeSubscriptionTier Purpose = "subscription_tier"
)

// Failure reasons recorded on failed sessions.
const (
	ReasonVerificationFailed = "verification_failed"
	ReasonAmountMismatch     = "amount_mismatch"
)

// Session is one attempt to move money in from the payment gateway.
// InvoiceID is ours, ExternalRef is the gateway's handle for the same
// payment.
type Session struct {
	InvoiceID   uuid.UUID      `db:"invoice_id" json:"invoice_id"`
	UserID      uuid.UUID      `db:"user_id" json:"user_id"`
	Purpose     Purpose        `db:"purpose" json:"purpose"`
	Amount      int64          `db:"amount" json:"amount"`
	Method      string         `db:"method" json:"method"`
	ExternalRef string         `db:"external_ref" json:"external_ref"`
	RedirectURL string         `db:"redirect_url" json:"redirect_url,omitempty"`
	TargetTier  sql.NullInt64  `db:"target_tier" json:"-"`
	TargetCycle sql.NullString `db:"target_cycle" json:"-"`
	Status      Status         `db:"status" json:"status"`
	FailReason  sql.NullString `db:"fail_reason" json:"-"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	ExpiresAt   time.Time      `db:"expires_at" json:"expires_at"`
	ConsumedAt  sql.NullTime   `db:"consumed_at" json:"-"`
}

func (s *Session) targetCycle() tier.BillingCycle {
	if s.TargetCycle.Valid {
		return tier.BillingCycle(s.TargetCycle.String)
	}
	return tier.CycleMonthly
}
