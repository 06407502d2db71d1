package paysession_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/domain/paysession"
	"github.com/chautari/chautari-api/internal/domain/tier"
	"github.com/chautari/chautari-api/internal/pkg/khalti"
)

type repoFake struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*paysession.Session
}

func newRepoFake() *repoFake {
	return &repoFake{sessions: make(map[uuid.UUID]*paysession.Session)}
}

func (r *repoFake) Create(_ context.Context, sess *paysession.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *sess
	r.sessions[sess.InvoiceID] = &cp
	return nil
}

func (r *repoFake) GetByInvoiceID(_ context.Context, invoiceID uuid.UUID) (*paysession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[invoiceID]
	if !ok {
		return nil, paysession.ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (r *repoFake) GetByExternalRef(_ context.Context, externalRef string) (*paysession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, sess := range r.sessions {
		if sess.ExternalRef == externalRef {
			cp := *sess
			return &cp, nil
		}
	}
	return nil, paysession.ErrSessionNotFound
}

func (r *repoFake) Transition(_ context.Context, invoiceID uuid.UUID, from, to paysession.Status, failReason string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[invoiceID]
	if !ok || sess.Status != from {
		return false, nil
	}
	sess.Status = to
	if failReason != "" {
		sess.FailReason.String = failReason
		sess.FailReason.Valid = true
	}
	if to == paysession.StatusCompleted {
		sess.ConsumedAt.Time = time.Now()
		sess.ConsumedAt.Valid = true
	}
	return true, nil
}

func (r *repoFake) ListPendingByUser(_ context.Context, userID uuid.UUID) ([]paysession.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []paysession.Session{}
	for _, sess := range r.sessions {
		if sess.UserID == userID && sess.Status == paysession.StatusPending {
			out = append(out, *sess)
		}
	}
	return out, nil
}

func (r *repoFake) ExpireStale(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, sess := range r.sessions {
		open := sess.Status == paysession.StatusPending || sess.Status == paysession.StatusVerifying
		if open && !sess.ExpiresAt.After(now) {
			sess.Status = paysession.StatusExpired
			count++
		}
	}
	return count, nil
}

type gatewayFake struct {
	mu          sync.Mutex
	verifyCalls int
	result      khalti.VerifyPaymentResponse
	verifyErr   error
}

func (g *gatewayFake) CreatePayment(_ context.Context, req khalti.CreatePaymentRequest) (*khalti.CreatePaymentResponse, error) {
	return &khalti.CreatePaymentResponse{
		ExternalRef: "pidx-" + req.OrderID,
		RedirectURL: "https://pay.example.com/" + req.OrderID,
	}, nil
}

func (g *gatewayFake) VerifyPayment(_ context.Context, _ string) (*khalti.VerifyPaymentResponse, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	res := g.result
	return &res, nil
}

type ledgerFake struct {
	mu      sync.Mutex
	credits map[string]int64
	err     error
}

func newLedgerFake() *ledgerFake {
	return &ledgerFake{credits: make(map[string]int64)}
}

func (l *ledgerFake) PurchaseCredit(_ context.Context, _ uuid.UUID, amount int64, _ string, referenceID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	// Mirrors the real ledger: same reference and amount is a no-op.
	if prev, ok := l.credits[referenceID]; ok && prev == amount {
		return nil
	}
	l.credits[referenceID] += amount
	return nil
}

func (l *ledgerFake) creditCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.credits)
}

type tierCompleterFake struct {
	mu    sync.Mutex
	calls []int
	cycle tier.BillingCycle
}

func (t *tierCompleterFake) CompleteTierPurchase(_ context.Context, _, _ uuid.UUID, level int, cycle tier.BillingCycle, _ int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls = append(t.calls, level)
	t.cycle = cycle
	return nil
}

func newTestService(repo *repoFake, gw *gatewayFake, ledger *ledgerFake, tiers paysession.TierCompleter) *paysession.Service {
	return paysession.NewService(repo, gw, ledger, tiers, nil, 30*time.Minute)
}

func TestTopupVerifyHappyPath(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 5000}}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 5000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}
	if sess.Status != paysession.StatusPending || sess.ExternalRef == "" || sess.RedirectURL == "" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	done, err := svc.Verify(context.Background(), userID, sess.InvoiceID, sess.ExternalRef)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if done.Status != paysession.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if !done.ConsumedAt.Valid {
		t.Fatalf("completed session must carry a consumed timestamp")
	}
	if got := ledger.credits[sess.InvoiceID.String()]; got != 5000 {
		t.Fatalf("expected single 5000 credit, got %d", got)
	}
}

func TestDuplicateDeliveryCreditsOnce(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 2500}}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 2500, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		done, err := svc.HandleCallback(context.Background(), sess.ExternalRef)
		if err != nil {
			t.Fatalf("delivery %d failed: %v", i, err)
		}
		if done.Status != paysession.StatusCompleted {
			t.Fatalf("delivery %d: expected completed, got %s", i, done.Status)
		}
	}

	if ledger.creditCount() != 1 || ledger.credits[sess.InvoiceID.String()] != 2500 {
		t.Fatalf("expected exactly one 2500 credit, got %v", ledger.credits)
	}
	if gw.verifyCalls != 1 {
		t.Fatalf("replayed deliveries must not re-verify, got %d calls", gw.verifyCalls)
	}
}

func TestConcurrentDeliveriesCreditOnce(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 1000}}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.HandleCallback(context.Background(), sess.ExternalRef)
			if err != nil && !errors.Is(err, paysession.ErrVerificationInProgress) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if ledger.creditCount() != 1 {
		t.Fatalf("expected exactly one credit, got %v", ledger.credits)
	}
	final, err := repo.GetByInvoiceID(context.Background(), sess.InvoiceID)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if final.Status != paysession.StatusCompleted {
		t.Fatalf("expected completed, got %s", final.Status)
	}
}

func TestVerificationFailure(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: false, Message: "payment cancelled"}}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	_, err = svc.Verify(context.Background(), userID, sess.InvoiceID, sess.ExternalRef)
	if !errors.Is(err, paysession.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	final, _ := repo.GetByInvoiceID(context.Background(), sess.InvoiceID)
	if final.Status != paysession.StatusFailed || final.FailReason.String != paysession.ReasonVerificationFailed {
		t.Fatalf("expected failed session with reason, got %+v", final)
	}
	if ledger.creditCount() != 0 {
		t.Fatalf("failed session must not credit the wallet")
	}

	// A replayed delivery of the failed session stays failed.
	if _, err := svc.HandleCallback(context.Background(), sess.ExternalRef); !errors.Is(err, paysession.ErrSessionFailed) {
		t.Fatalf("expected ErrSessionFailed on replay, got %v", err)
	}
}

func TestAmountMismatch(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 999}}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	_, err = svc.Verify(context.Background(), userID, sess.InvoiceID, sess.ExternalRef)
	if !errors.Is(err, paysession.ErrSessionMismatch) {
		t.Fatalf("expected ErrSessionMismatch, got %v", err)
	}

	final, _ := repo.GetByInvoiceID(context.Background(), sess.InvoiceID)
	if final.Status != paysession.StatusFailed || final.FailReason.String != paysession.ReasonAmountMismatch {
		t.Fatalf("expected amount_mismatch failure, got %+v", final)
	}
	if ledger.creditCount() != 0 {
		t.Fatalf("mismatched session must not credit the wallet")
	}
}

func TestExternalRefMismatch(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 1000}}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	_, err = svc.Verify(context.Background(), userID, sess.InvoiceID, "pidx-of-someone-else")
	if !errors.Is(err, paysession.ErrSessionMismatch) {
		t.Fatalf("expected ErrSessionMismatch, got %v", err)
	}
	after, _ := repo.GetByInvoiceID(context.Background(), sess.InvoiceID)
	if after.Status != paysession.StatusPending {
		t.Fatalf("mismatched verify must leave the session pending, got %+v", after)
	}
	if ledger.creditCount() != 0 {
		t.Fatalf("mismatched verify must not touch the ledger")
	}

	// A garbled return-from-redirect must not block the gateway's own
	// callback for the money it collected.
	settled, err := svc.HandleCallback(context.Background(), sess.ExternalRef)
	if err != nil {
		t.Fatalf("callback after mismatched verify failed: %v", err)
	}
	if settled.Status != paysession.StatusCompleted {
		t.Fatalf("expected completed session, got %s", settled.Status)
	}
	if ledger.creditCount() != 1 {
		t.Fatalf("expected exactly one credit, got %d", ledger.creditCount())
	}
}

func TestVerifyWrongUser(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 1000}}
	svc := newTestService(repo, gw, newLedgerFake(), nil)

	sess, err := svc.StartTopup(context.Background(), uuid.New(), 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	if _, err := svc.Verify(context.Background(), uuid.New(), sess.InvoiceID, sess.ExternalRef); !errors.Is(err, paysession.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for another user's session, got %v", err)
	}
}

func TestExpiredSession(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 1000}}
	ledger := newLedgerFake()
	svc := paysession.NewService(repo, gw, ledger, nil, nil, time.Nanosecond)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}
	time.Sleep(time.Millisecond)

	_, err = svc.Verify(context.Background(), userID, sess.InvoiceID, sess.ExternalRef)
	if !errors.Is(err, paysession.ErrSessionExpired) {
		t.Fatalf("expected ErrSessionExpired, got %v", err)
	}
	final, _ := repo.GetByInvoiceID(context.Background(), sess.InvoiceID)
	if final.Status != paysession.StatusExpired {
		t.Fatalf("expected expired status, got %s", final.Status)
	}
	if ledger.creditCount() != 0 {
		t.Fatalf("expired session must not credit the wallet")
	}
	if gw.verifyCalls != 0 {
		t.Fatalf("expired session must not reach the gateway")
	}
}

func TestGatewayOutageReleasesClaim(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{verifyErr: khalti.ErrGatewayUnavailable}
	ledger := newLedgerFake()
	svc := newTestService(repo, gw, ledger, nil)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	_, err = svc.Verify(context.Background(), userID, sess.InvoiceID, sess.ExternalRef)
	if !errors.Is(err, khalti.ErrGatewayUnavailable) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	afterOutage, _ := repo.GetByInvoiceID(context.Background(), sess.InvoiceID)
	if afterOutage.Status != paysession.StatusPending {
		t.Fatalf("outage must release the claim back to pending, got %s", afterOutage.Status)
	}
	if ledger.creditCount() != 0 {
		t.Fatalf("no credit during an outage")
	}

	// The gateway recovers and a retry completes normally.
	gw.mu.Lock()
	gw.verifyErr = nil
	gw.result = khalti.VerifyPaymentResponse{Success: true, Amount: 1000}
	gw.mu.Unlock()

	done, err := svc.Verify(context.Background(), userID, sess.InvoiceID, sess.ExternalRef)
	if err != nil {
		t.Fatalf("retry after outage failed: %v", err)
	}
	if done.Status != paysession.StatusCompleted || ledger.creditCount() != 1 {
		t.Fatalf("retry should complete with one credit, got %s credits=%v", done.Status, ledger.credits)
	}
}

func TestTierCheckoutCompletesPurchase(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{result: khalti.VerifyPaymentResponse{Success: true, Amount: 1500}}
	ledger := newLedgerFake()
	tiers := &tierCompleterFake{}
	svc := newTestService(repo, gw, ledger, tiers)
	userID := uuid.New()

	sess, err := svc.StartTierCheckout(context.Background(), userID, 1500, "khalti", 2, tier.CycleMonthly)
	if err != nil {
		t.Fatalf("start tier checkout failed: %v", err)
	}
	if sess.Purpose != paysession.PurposeSubscriptionTier || sess.TargetTier.Int64 != 2 {
		t.Fatalf("unexpected session: %+v", sess)
	}

	done, err := svc.HandleCallback(context.Background(), sess.ExternalRef)
	if err != nil {
		t.Fatalf("callback failed: %v", err)
	}
	if done.Status != paysession.StatusCompleted {
		t.Fatalf("expected completed, got %s", done.Status)
	}
	if ledger.creditCount() != 1 {
		t.Fatalf("expected one wallet credit, got %v", ledger.credits)
	}
	if len(tiers.calls) != 1 || tiers.calls[0] != 2 || tiers.cycle != tier.CycleMonthly {
		t.Fatalf("expected one tier completion for level 2 monthly, got %+v %s", tiers.calls, tiers.cycle)
	}
}

func TestExpireStaleSweep(t *testing.T) {
	repo := newRepoFake()
	gw := &gatewayFake{}
	svc := paysession.NewService(repo, gw, newLedgerFake(), nil, nil, time.Minute)
	userID := uuid.New()

	sess, err := svc.StartTopup(context.Background(), userID, 1000, "khalti")
	if err != nil {
		t.Fatalf("start topup failed: %v", err)
	}

	count, err := svc.ExpireStale(context.Background(), time.Now().Add(2*time.Minute))
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired session, got %d", count)
	}

	pending, err := svc.ListPending(context.Background(), userID)
	if err != nil {
		t.Fatalf("list pending failed: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expired session must not be listed as pending, got %d", len(pending))
	}
	_ = sess
}
