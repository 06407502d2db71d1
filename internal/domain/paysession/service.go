package paysession

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chautari/chautari-api/internal/domain/tier"
	"github.com/chautari/chautari-api/internal/pkg/khalti"
)

// Gateway is the slice of the payment provider the session engine uses.
type Gateway interface {
	CreatePayment(ctx context.Context, req khalti.CreatePaymentRequest) (*khalti.CreatePaymentResponse, error)
	VerifyPayment(ctx context.Context, externalRef string) (*khalti.VerifyPaymentResponse, error)
}

// Ledger credits the wallet when a session completes. The reference is
// the session's invoice id, so the ledger's own idempotency backs up
// the session state machine.
type Ledger interface {
	PurchaseCredit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string) error
}

// TierCompleter finishes a subscription-tier checkout once the money
// has landed in the wallet.
type TierCompleter interface {
	CompleteTierPurchase(ctx context.Context, userID, invoiceID uuid.UUID, level int, cycle tier.BillingCycle, amountPaid int64) error
}

type Service struct {
	repo       Repository
	gateway    Gateway
	ledger     Ledger
	tiers      TierCompleter
	hints      *Hints
	sessionTTL time.Duration
}

func NewService(repo Repository, gateway Gateway, ledger Ledger, tiers TierCompleter, hints *Hints, sessionTTL time.Duration) *Service {
	if sessionTTL == 0 {
		sessionTTL = 30 * time.Minute
	}
	return &Service{
		repo:       repo,
		gateway:    gateway,
		ledger:     ledger,
		tiers:      tiers,
		hints:      hints,
		sessionTTL: sessionTTL,
	}
}

// StartTopup opens a gateway checkout that credits the wallet on
// completion.
func (s *Service) StartTopup(ctx context.Context, userID uuid.UUID, amount int64, method string) (*Session, error) {
	return s.start(ctx, userID, amount, method, PurposeWalletTopup, 0, "")
}

// StartTierCheckout opens a gateway checkout that, once paid, funds the
// wallet and immediately buys the given tier.
func (s *Service) StartTierCheckout(ctx context.Context, userID uuid.UUID, amount int64, method string, level int, cycle tier.BillingCycle) (*Session, error) {
	return s.start(ctx, userID, amount, method, PurposeSubscriptionTier, level, cycle)
}

func (s *Service) start(ctx context.Context, userID uuid.UUID, amount int64, method string, purpose Purpose, level int, cycle tier.BillingCycle) (*Session, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("payment amount must be positive")
	}

	invoiceID := uuid.New()
	description := "wallet top-up"
	if purpose == PurposeSubscriptionTier {
		description = fmt.Sprintf("subscription tier %d (%s)", level, cycle)
	}

	created, err := s.gateway.CreatePayment(ctx, khalti.CreatePaymentRequest{
		Amount:      amount,
		OrderID:     invoiceID.String(),
		Description: description,
	})
	if err != nil {
		return nil, fmt.Errorf("create gateway payment: %w", err)
	}

	now := time.Now()
	sess := &Session{
		InvoiceID:   invoiceID,
		UserID:      userID,
		Purpose:     purpose,
		Amount:      amount,
		Method:      method,
		ExternalRef: created.ExternalRef,
		RedirectURL: created.RedirectURL,
		Status:      StatusPending,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.sessionTTL),
	}
	if purpose == PurposeSubscriptionTier {
		sess.TargetTier = sql.NullInt64{Int64: int64(level), Valid: true}
		sess.TargetCycle = sql.NullString{String: string(cycle), Valid: true}
	}

	if err := s.repo.Create(ctx, sess); err != nil {
		return nil, err
	}

	s.hints.MarkPending(ctx, userID, invoiceID)
	log.Info().Str("invoice_id", invoiceID.String()).Str("user_id", userID.String()).Str("purpose", string(purpose)).Int64("amount", amount).Msg("payment session opened")
	return sess, nil
}

// Verify reconciles a session on behalf of its owner, typically when
// the user returns from the gateway redirect.
func (s *Service) Verify(ctx context.Context, userID, invoiceID uuid.UUID, externalRef string) (*Session, error) {
	sess, err := s.repo.GetByInvoiceID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if sess.UserID != userID {
		return nil, ErrSessionNotFound
	}
	if externalRef != "" && externalRef != sess.ExternalRef {
		// The session stays pending; the gateway's own callback can still
		// settle it, or the sweep expires it.
		return nil, ErrSessionMismatch
	}
	return s.reconcile(ctx, sess)
}

// HandleCallback reconciles a session from a gateway webhook delivery.
// Deliveries are retried by the gateway, so every path here has to be
// safe to replay.
func (s *Service) HandleCallback(ctx context.Context, externalRef string) (*Session, error) {
	sess, err := s.repo.GetByExternalRef(ctx, externalRef)
	if err != nil {
		return nil, err
	}
	return s.reconcile(ctx, sess)
}

func (s *Service) reconcile(ctx context.Context, sess *Session) (*Session, error) {
	switch sess.Status {
	case StatusCompleted:
		// Replayed delivery. The wallet was credited exactly once when
		// the session first completed.
		return sess, nil
	case StatusFailed:
		return nil, fmt.Errorf("%w: %s", ErrSessionFailed, sess.FailReason.String)
	case StatusExpired:
		return nil, ErrSessionExpired
	case StatusVerifying:
		return nil, ErrVerificationInProgress
	}

	now := time.Now()
	if now.After(sess.ExpiresAt) {
		if _, err := s.repo.Transition(ctx, sess.InvoiceID, StatusPending, StatusExpired, ""); err != nil {
			return nil, err
		}
		s.hints.Clear(ctx, sess.UserID)
		return nil, ErrSessionExpired
	}

	// Claim the session before talking to the gateway. Losing the claim
	// means a concurrent reconciliation got there first.
	won, err := s.repo.Transition(ctx, sess.InvoiceID, StatusPending, StatusVerifying, "")
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.repo.GetByInvoiceID(ctx, sess.InvoiceID)
		if err != nil {
			return nil, err
		}
		if current.Status == StatusCompleted {
			return current, nil
		}
		return nil, ErrVerificationInProgress
	}

	result, err := s.gateway.VerifyPayment(ctx, sess.ExternalRef)
	if err != nil {
		// Recoverable: release the claim so a later attempt can retry.
		if _, revertErr := s.repo.Transition(ctx, sess.InvoiceID, StatusVerifying, StatusPending, ""); revertErr != nil {
			log.Error().Err(revertErr).Str("invoice_id", sess.InvoiceID.String()).Msg("failed to release verifying claim")
		}
		return nil, fmt.Errorf("verify gateway payment: %w", err)
	}

	if !result.Success {
		return s.fail(ctx, sess, ReasonVerificationFailed, ErrVerificationFailed)
	}
	if result.Amount != sess.Amount {
		log.Warn().Str("invoice_id", sess.InvoiceID.String()).Int64("expected", sess.Amount).Int64("reported", result.Amount).Msg("gateway amount mismatch")
		return s.fail(ctx, sess, ReasonAmountMismatch, ErrSessionMismatch)
	}

	description := "wallet top-up"
	if sess.Purpose == PurposeSubscriptionTier {
		description = fmt.Sprintf("subscription tier %d payment", sess.TargetTier.Int64)
	}
	if err := s.ledger.PurchaseCredit(ctx, sess.UserID, sess.Amount, description, sess.InvoiceID.String()); err != nil {
		if _, revertErr := s.repo.Transition(ctx, sess.InvoiceID, StatusVerifying, StatusPending, ""); revertErr != nil {
			log.Error().Err(revertErr).Str("invoice_id", sess.InvoiceID.String()).Msg("failed to release verifying claim")
		}
		return nil, fmt.Errorf("credit wallet: %w", err)
	}

	if sess.Purpose == PurposeSubscriptionTier && s.tiers != nil {
		err := s.tiers.CompleteTierPurchase(ctx, sess.UserID, sess.InvoiceID, int(sess.TargetTier.Int64), sess.targetCycle(), sess.Amount)
		if err != nil {
			// The money is safe in the wallet; the user can redo the
			// upgrade from there.
			log.Error().Err(err).Str("invoice_id", sess.InvoiceID.String()).Msg("tier purchase completion failed after wallet credit")
		}
	}

	won, err = s.repo.Transition(ctx, sess.InvoiceID, StatusVerifying, StatusCompleted, "")
	if err != nil {
		return nil, err
	}
	if !won {
		return s.repo.GetByInvoiceID(ctx, sess.InvoiceID)
	}

	s.hints.Clear(ctx, sess.UserID)
	log.Info().Str("invoice_id", sess.InvoiceID.String()).Str("user_id", sess.UserID.String()).Int64("amount", sess.Amount).Str("purpose", string(sess.Purpose)).Msg("payment session completed")
	return s.repo.GetByInvoiceID(ctx, sess.InvoiceID)
}

func (s *Service) fail(ctx context.Context, sess *Session, reason string, cause error) (*Session, error) {
	if _, err := s.repo.Transition(ctx, sess.InvoiceID, StatusVerifying, StatusFailed, reason); err != nil {
		return nil, err
	}
	s.hints.Clear(ctx, sess.UserID)
	log.Warn().Str("invoice_id", sess.InvoiceID.String()).Str("reason", reason).Msg("payment session failed")
	return nil, cause
}

// ListPending returns the user's open sessions. The hint cache lets the
// common empty case skip Postgres.
func (s *Service) ListPending(ctx context.Context, userID uuid.UUID) ([]Session, error) {
	if !s.hints.MaybePending(ctx, userID) {
		return []Session{}, nil
	}
	return s.repo.ListPendingByUser(ctx, userID)
}

func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	return s.repo.ExpireStale(ctx, now)
}
