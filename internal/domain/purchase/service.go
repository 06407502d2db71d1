package purchase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chautari/chautari-api/internal/domain/paysession"
	"github.com/chautari/chautari-api/internal/domain/subscription"
	"github.com/chautari/chautari-api/internal/domain/tier"
)

var ErrInvalidPaymentMethod = errors.New("invalid payment method")

// Ledger is the wallet slice used to charge tier purchases and price
// the catalog page.
type Ledger interface {
	PurchaseDebit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string) error
	Balance(ctx context.Context, ownerID uuid.UUID) (int64, error)
}

// Subscriptions reads and writes the user's tier assignment.
type Subscriptions interface {
	QuoteInput(ctx context.Context, userID uuid.UUID) (tier.Current, error)
	ApplyUpgrade(ctx context.Context, userID uuid.UUID, targetLevel int, cycle tier.BillingCycle, now time.Time) (*subscription.Subscription, error)
}

// Checkout opens gateway sessions for purchases paid outside the wallet.
type Checkout interface {
	StartTierCheckout(ctx context.Context, userID uuid.UUID, amount int64, method string, level int, cycle tier.BillingCycle) (*paysession.Session, error)
}

type Service struct {
	repo     Repository
	ledger   Ledger
	subs     Subscriptions
	checkout Checkout
	catalog  tier.Catalog
}

func NewService(repo Repository, ledger Ledger, subs Subscriptions, checkout Checkout, catalog tier.Catalog) *Service {
	return &Service{
		repo:     repo,
		ledger:   ledger,
		subs:     subs,
		checkout: checkout,
		catalog:  catalog,
	}
}

// TierOffer is a catalog entry annotated with what an upgrade to it
// would cost the asking user right now.
type TierOffer struct {
	Tier         tier.Tier   `json:"tier"`
	Purchasable  bool        `json:"purchasable"`
	MonthlyQuote *tier.Quote `json:"monthly_quote,omitempty"`
	YearlyQuote  *tier.Quote `json:"yearly_quote,omitempty"`
}

// Result is the outcome of a purchase request. Wallet purchases finish
// synchronously; gateway purchases hand back a session to pay.
type Result struct {
	Status   string              `json:"status"`
	Quote    tier.Quote          `json:"quote"`
	Purchase *TierPurchase       `json:"purchase,omitempty"`
	Session  *paysession.Session `json:"session,omitempty"`
}

const (
	ResultCompleted      = "completed"
	ResultPendingPayment = "pending_payment"
)

// TierPage is everything the purchase screen needs in one read: the
// priced catalog plus where the user stands and what they can spend.
type TierPage struct {
	Tiers       []TierOffer `json:"tiers"`
	CurrentTier int         `json:"current_tier"`
	Balance     int64       `json:"balance"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
}

// ListTiers returns every tier with upgrade quotes for the user,
// alongside their current tier, expiry and wallet balance.
func (s *Service) ListTiers(ctx context.Context, userID uuid.UUID) (*TierPage, error) {
	cur, err := s.subs.QuoteInput(ctx, userID)
	if err != nil {
		return nil, err
	}
	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	offers := make([]TierOffer, 0, len(s.catalog))
	for _, t := range s.catalog {
		offer := TierOffer{Tier: t}
		if t.Level > cur.Level {
			offer.Purchasable = true
			if mq, err := tier.ComputeUpgrade(s.catalog, cur, t.Level, tier.CycleMonthly, now); err == nil {
				offer.MonthlyQuote = &mq
			}
			if yq, err := tier.ComputeUpgrade(s.catalog, cur, t.Level, tier.CycleYearly, now); err == nil {
				offer.YearlyQuote = &yq
			}
		}
		offers = append(offers, offer)
	}

	page := &TierPage{Tiers: offers, CurrentTier: cur.Level, Balance: balance}
	if cur.Level > 0 && cur.ExpiresAt.After(now) {
		expires := cur.ExpiresAt
		page.ExpiresAt = &expires
	}
	return page, nil
}

// Purchase moves the user to a higher tier, charging either the wallet
// or the payment gateway.
func (s *Service) Purchase(ctx context.Context, userID uuid.UUID, targetLevel int, cycle tier.BillingCycle, method string) (*Result, error) {
	cur, err := s.subs.QuoteInput(ctx, userID)
	if err != nil {
		return nil, err
	}
	quote, err := tier.ComputeUpgrade(s.catalog, cur, targetLevel, cycle, time.Now())
	if err != nil {
		return nil, err
	}

	switch method {
	case "", "digital_wallet":
		return s.purchaseFromWallet(ctx, userID, cur.Level, quote)
	case "khalti":
		if quote.AmountDue == 0 {
			// Nothing to collect; the remaining credit covers it.
			return s.purchaseFromWallet(ctx, userID, cur.Level, quote)
		}
		sess, err := s.checkout.StartTierCheckout(ctx, userID, quote.AmountDue, method, targetLevel, cycle)
		if err != nil {
			return nil, err
		}
		return &Result{Status: ResultPendingPayment, Quote: quote, Session: sess}, nil
	default:
		return nil, ErrInvalidPaymentMethod
	}
}

func (s *Service) purchaseFromWallet(ctx context.Context, userID uuid.UUID, fromLevel int, quote tier.Quote) (*Result, error) {
	purchaseID := uuid.New()

	if quote.AmountDue > 0 {
		description := fmt.Sprintf("subscription tier %d (%s)", quote.ToLevel, quote.Cycle)
		if err := s.ledger.PurchaseDebit(ctx, userID, quote.AmountDue, description, "tier:"+purchaseID.String()); err != nil {
			return nil, err
		}
	}

	now := time.Now()
	if _, err := s.subs.ApplyUpgrade(ctx, userID, quote.ToLevel, quote.Cycle, now); err != nil {
		return nil, err
	}

	record := &TierPurchase{
		ID:            purchaseID,
		UserID:        userID,
		FromTier:      fromLevel,
		ToTier:        quote.ToLevel,
		BillingCycle:  quote.Cycle,
		FullPrice:     quote.FullPrice,
		CreditApplied: quote.RemainingCredit,
		AmountPaid:    quote.AmountDue,
		PaidVia:       PaidViaWallet,
		CreatedAt:     now,
	}
	if err := s.repo.Record(ctx, record); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to record tier purchase")
	}

	log.Info().Str("user_id", userID.String()).Int("from", fromLevel).Int("to", quote.ToLevel).Int64("paid", quote.AmountDue).Msg("tier purchased from wallet")
	return &Result{Status: ResultCompleted, Quote: quote, Purchase: record}, nil
}

// CompleteTierPurchase finishes a gateway checkout after the session
// engine has credited the wallet with the collected amount. The charge
// then flows through the wallet so the ledger shows both sides.
func (s *Service) CompleteTierPurchase(ctx context.Context, userID, invoiceID uuid.UUID, level int, cycle tier.BillingCycle, amountPaid int64) error {
	cur, err := s.subs.QuoteInput(ctx, userID)
	if err != nil {
		return err
	}
	if level <= cur.Level {
		// Stale checkout settling after the user already reached this
		// tier. The collected amount stays in the wallet.
		log.Warn().Str("user_id", userID.String()).Str("invoice_id", invoiceID.String()).Int("current", cur.Level).Int("target", level).Msg("skipping tier completion at or below current tier")
		return tier.ErrNotAnUpgrade
	}

	if amountPaid > 0 {
		description := fmt.Sprintf("subscription tier %d (%s)", level, cycle)
		if err := s.ledger.PurchaseDebit(ctx, userID, amountPaid, description, "tier:"+invoiceID.String()); err != nil {
			return err
		}
	}

	now := time.Now()
	if _, err := s.subs.ApplyUpgrade(ctx, userID, level, cycle, now); err != nil {
		return err
	}

	record := &TierPurchase{
		ID:           uuid.New(),
		UserID:       userID,
		FromTier:     cur.Level,
		ToTier:       level,
		BillingCycle: cycle,
		AmountPaid:   amountPaid,
		FullPrice:    amountPaid,
		PaidVia:      PaidViaGateway,
		InvoiceID:    &invoiceID,
		CreatedAt:    now,
	}
	if err := s.repo.Record(ctx, record); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("failed to record tier purchase")
	}

	log.Info().Str("user_id", userID.String()).Int("to", level).Int64("paid", amountPaid).Str("invoice_id", invoiceID.String()).Msg("tier purchased via gateway")
	return nil
}

// History returns the user's most recent tier purchases.
func (s *Service) History(ctx context.Context, userID uuid.UUID, limit int) ([]TierPurchase, error) {
	return s.repo.ListByUser(ctx, userID, limit)
}
