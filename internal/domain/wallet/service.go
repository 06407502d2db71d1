package wallet

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const historyPageSize = 20

type Service struct {
	repo *Repository
}

func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) EnsureWallet(ctx context.Context, ownerID uuid.UUID) error {
	return s.repo.EnsureWallet(ctx, ownerID)
}

func (s *Service) GetWallet(ctx context.Context, ownerID uuid.UUID) (*Wallet, error) {
	return s.repo.GetWallet(ctx, ownerID)
}

// Balance reads the current balance, provisioning the wallet on first
// touch like GetWallet does.
func (s *Service) Balance(ctx context.Context, ownerID uuid.UUID) (int64, error) {
	w, err := s.repo.GetWallet(ctx, ownerID)
	if err != nil {
		return 0, err
	}
	return w.Balance, nil
}

func (s *Service) GetHistory(ctx context.Context, ownerID uuid.UUID, page int) ([]Transaction, int64, error) {
	if page < 1 {
		page = 1
	}
	return s.repo.ListTransactions(ctx, ownerID, historyPageSize, (page-1)*historyPageSize)
}

func (s *Service) Credit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string, source CreditSource) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry, err := s.repo.Credit(ctx, ownerID, amount, description, referenceID, source)
	if err != nil {
		return nil, err
	}
	log.Info().Str("owner_id", ownerID.String()).Int64("amount", amount).Str("reference_id", referenceID).Int64("balance_after", entry.BalanceAfter).Msg("wallet credit applied")
	return entry, nil
}

func (s *Service) Debit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string) (*Transaction, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	entry, err := s.repo.Debit(ctx, ownerID, amount, description, referenceID)
	if err != nil {
		return nil, err
	}
	log.Info().Str("owner_id", ownerID.String()).Int64("amount", amount).Str("reference_id", referenceID).Int64("balance_after", entry.BalanceAfter).Msg("wallet debit applied")
	return entry, nil
}

// PurchaseCredit posts a purchase-sourced credit and discards the entry.
// Payment reconciliation only needs the error.
func (s *Service) PurchaseCredit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string) error {
	_, err := s.Credit(ctx, ownerID, amount, description, referenceID, SourcePurchase)
	return err
}

// PurchaseDebit is the spend-side counterpart of PurchaseCredit.
func (s *Service) PurchaseDebit(ctx context.Context, ownerID uuid.UUID, amount int64, description, referenceID string) error {
	_, err := s.Debit(ctx, ownerID, amount, description, referenceID)
	return err
}

// Withdraw moves funds out of the wallet toward an external payout. The
// payout itself is handled by the finance pipeline; here it is a plain
// debit so the ledger stays the single source of truth.
func (s *Service) Withdraw(ctx context.Context, ownerID uuid.UUID, amount int64) (*Transaction, error) {
	ref := "withdraw:" + uuid.NewString()
	return s.Debit(ctx, ownerID, amount, "withdrawal", ref)
}

func (s *Service) SetFrozen(ctx context.Context, ownerID uuid.UUID, frozen bool) error {
	if err := s.repo.SetFrozen(ctx, ownerID, frozen); err != nil {
		return err
	}
	log.Info().Str("owner_id", ownerID.String()).Bool("frozen", frozen).Msg("wallet freeze state changed")
	return nil
}
