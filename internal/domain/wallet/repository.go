package wallet

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

type Repository struct {
	db *sqlx.DB
}

func NewRepository(db *sqlx.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) EnsureWallet(ctx context.Context, ownerID uuid.UUID) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, total_earned, total_spent)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID)
	return err
}

func (r *Repository) GetWallet(ctx context.Context, ownerID uuid.UUID) (*Wallet, error) {
	if err := r.EnsureWallet(ctx, ownerID); err != nil {
		return nil, err
	}

	var w Wallet
	err := r.db.GetContext(ctx, &w, `
		SELECT owner_id, balance, total_earned, total_spent, is_frozen, updated_at
		FROM wallets
		WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) ListTransactions(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]Transaction, int64, error) {
	var total int64
	err := r.db.GetContext(ctx, &total, `
		SELECT COUNT(*) FROM wallet_transactions WHERE owner_id = $1
	`, ownerID)
	if err != nil {
		return nil, 0, err
	}

	txns := []Transaction{}
	err = r.db.SelectContext(ctx, &txns, `
		SELECT id, owner_id, kind, amount, description, reference_id, balance_after, created_at
		FROM wallet_transactions
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	return txns, total, nil
}

func (r *Repository) SetFrozen(ctx context.Context, ownerID uuid.UUID, frozen bool) error {
	if err := r.EnsureWallet(ctx, ownerID); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `
		UPDATE wallets SET is_frozen = $1, updated_at = now() WHERE owner_id = $2
	`, frozen, ownerID)
	return err
}

func (r *Repository) beginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
}

func (r *Repository) lockWallet(ctx context.Context, tx *sqlx.Tx, ownerID uuid.UUID) (*Wallet, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (owner_id, balance, total_earned, total_spent)
		VALUES ($1, 0, 0, 0)
		ON CONFLICT (owner_id) DO NOTHING
	`, ownerID); err != nil {
		return nil, err
	}

	var w Wallet
	err := tx.GetContext(ctx, &w, `
		SELECT owner_id, balance, total_earned, total_spent, is_frozen, updated_at
		FROM wallets
		WHERE owner_id = $1
		FOR UPDATE
	`, ownerID)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func (r *Repository) getTransactionByRef(ctx context.Context, tx *sqlx.Tx, ownerID uuid.UUID, kind TransactionKind, referenceID string) (*Transaction, error) {
	if referenceID == "" {
		return nil, nil
	}

	var t Transaction
	err := tx.GetContext(ctx, &t, `
		SELECT id, owner_id, kind, amount, description, reference_id, balance_after, created_at
		FROM wallet_transactions
		WHERE owner_id = $1 AND kind = $2 AND reference_id = $3
		LIMIT 1
	`, ownerID, string(kind), referenceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *Repository) insertTransaction(ctx context.Context, tx *sqlx.Tx, t *Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallet_transactions (id, owner_id, kind, amount, description, reference_id, balance_after)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.OwnerID, string(t.Kind), t.Amount, t.Description, t.ReferenceID, t.BalanceAfter)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicateReference
		}
		return err
	}
	return nil
}

// apply posts one ledger entry under a row lock on the wallet. A replayed
// reference with the same kind and amount returns the existing entry
// without touching the balance; the same reference with a different
// amount is rejected with ErrReferenceConflict.
func (r *Repository) apply(ctx context.Context, ownerID uuid.UUID, kind TransactionKind, amount int64, description, referenceID string, source CreditSource) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := r.lockWallet(ctx, tx, ownerID)
	if err != nil {
		return nil, err
	}

	if w.IsFrozen {
		if kind == KindDebit || source != SourceAdmin {
			return nil, ErrWalletFrozen
		}
	}

	existing, err := r.getTransactionByRef(ctx, tx, ownerID, kind, referenceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Amount != amount {
			return nil, ErrReferenceConflict
		}
		return existing, nil
	}

	next := *w
	switch kind {
	case KindCredit:
		next.Balance += amount
		next.TotalEarned += amount
	case KindDebit:
		if w.Balance < amount {
			return nil, ErrInsufficientFunds
		}
		next.Balance -= amount
		next.TotalSpent += amount
	default:
		return nil, ErrInvalidAmount
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET balance = $1, total_earned = $2, total_spent = $3, updated_at = now()
		WHERE owner_id = $4
	`, next.Balance, next.TotalEarned, next.TotalSpent, ownerID); err != nil {
		return nil, err
	}

	var ref *string
	if referenceID != "" {
		ref = &referenceID
	}
	entry := &Transaction{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Kind:         kind,
		Amount:       amount,
		Description:  description,
		ReferenceID:  ref,
		BalanceAfter: next.Balance,
	}

	if err := r.insertTransaction(ctx, tx, entry); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			existing, checkErr := r.getTransactionByRef(ctx, tx, ownerID, kind, referenceID)
			if checkErr != nil {
				return nil, checkErr
			}
			if existing == nil || existing.Amount != amount {
				return nil, ErrReferenceConflict
			}
			return existing, nil
		}
		return nil, err
	}

	if err := tx.GetContext(ctx, &entry.CreatedAt, `
		SELECT created_at FROM wallet_transactions WHERE id = $1
	`, entry.ID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (r *Repository) Credit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string, source CreditSource) (*Transaction, error) {
	return r.apply(ctx, ownerID, KindCredit, amount, description, referenceID, source)
}

func (r *Repository) Debit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string) (*Transaction, error) {
	return r.apply(ctx, ownerID, KindDebit, amount, description, referenceID, SourcePurchase)
}
