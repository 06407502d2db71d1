package paysession

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Repository defines payment session data access
type Repository interface {
	Create(ctx context.Context, sess *Session) error
	GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*Session, error)
	GetByExternalRef(ctx context.Context, externalRef string) (*Session, error)
	// Transition moves a session from one status to another and reports
	// whether this call won the transition. Completed transitions stamp
	// consumed_at.
	Transition(ctx context.Context, invoiceID uuid.UUID, from, to Status, failReason string) (bool, error)
	ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]Session, error)
	ExpireStale(ctx context.Context, now time.Time) (int64, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates payment session repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const sessionColumns = `invoice_id, user_id, purpose, amount, method, external_ref, redirect_url,
	target_tier, target_cycle, status, fail_reason, created_at, expires_at, consumed_at`

func (r *repository) Create(ctx context.Context, sess *Session) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_sessions
			(invoice_id, user_id, purpose, amount, method, external_ref, redirect_url,
			 target_tier, target_cycle, status, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, sess.InvoiceID, sess.UserID, string(sess.Purpose), sess.Amount, sess.Method,
		sess.ExternalRef, sess.RedirectURL, sess.TargetTier, sess.TargetCycle,
		string(sess.Status), sess.CreatedAt, sess.ExpiresAt)
	return err
}

func (r *repository) GetByInvoiceID(ctx context.Context, invoiceID uuid.UUID) (*Session, error) {
	var sess Session
	err := r.db.GetContext(ctx, &sess, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE invoice_id = $1
	`, invoiceID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *repository) GetByExternalRef(ctx context.Context, externalRef string) (*Session, error) {
	var sess Session
	err := r.db.GetContext(ctx, &sess, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE external_ref = $1
	`, externalRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (r *repository) Transition(ctx context.Context, invoiceID uuid.UUID, from, to Status, failReason string) (bool, error) {
	var reason interface{}
	if failReason != "" {
		reason = failReason
	}

	var res sql.Result
	var err error
	if to == StatusCompleted {
		res, err = r.db.ExecContext(ctx, `
			UPDATE payment_sessions
			SET status = $3, fail_reason = $4, consumed_at = now()
			WHERE invoice_id = $1 AND status = $2
		`, invoiceID, string(from), string(to), reason)
	} else {
		res, err = r.db.ExecContext(ctx, `
			UPDATE payment_sessions
			SET status = $3, fail_reason = $4
			WHERE invoice_id = $1 AND status = $2
		`, invoiceID, string(from), string(to), reason)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *repository) ListPendingByUser(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	sessions := []Session{}
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT `+sessionColumns+`
		FROM payment_sessions
		WHERE user_id = $1 AND status = 'pending' AND expires_at > now()
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return sessions, nil
}

// ExpireStale closes every open session whose window has passed. That
// includes verifying claims orphaned by a crash; the wallet ledger's
// reference idempotency means an orphaned claim can never double-credit.
func (r *repository) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE payment_sessions
		SET status = 'expired'
		WHERE status IN ('pending', 'verifying') AND expires_at <= $1
	`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
