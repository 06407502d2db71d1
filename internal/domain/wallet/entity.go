package wallet

import (
	"time"

	"github.com/google/uuid"
)

// TransactionKind classifies a ledger entry
type TransactionKind string

const (
	KindCredit TransactionKind = "credit"
	KindDebit  TransactionKind = "debit"
)

// CreditSource distinguishes purchase-driven credits from administrative
// grants. A frozen wallet still accepts administrative credits.
type CreditSource string

const (
	SourcePurchase CreditSource = "purchase"
	SourceAdmin    CreditSource = "admin"
)

// Wallet is the current state of a user's funds. The balance is derived
// state: replaying the wallet's transactions in created_at order must
// reproduce it exactly, and balance == total_earned - total_spent holds
// at all times.
type Wallet struct {
	OwnerID     uuid.UUID `db:"owner_id" json:"owner_id"`
	Balance     int64     `db:"balance" json:"balance"`
	TotalEarned int64     `db:"total_earned" json:"total_earned"`
	TotalSpent  int64     `db:"total_spent" json:"total_spent"`
	IsFrozen    bool      `db:"is_frozen" json:"is_frozen"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}

// Transaction is one immutable ledger entry. Rows are append-only; amounts
// are positive integers in minor currency units.
type Transaction struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	OwnerID      uuid.UUID       `db:"owner_id" json:"owner_id"`
	Kind         TransactionKind `db:"kind" json:"kind"`
	Amount       int64           `db:"amount" json:"amount"`
	Description  string          `db:"description" json:"description"`
	ReferenceID  *string         `db:"reference_id" json:"reference_id,omitempty"`
	BalanceAfter int64           `db:"balance_after" json:"balance_after"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
}
