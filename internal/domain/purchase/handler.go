package purchase

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/domain/tier"
	"github.com/chautari/chautari-api/internal/domain/wallet"
	"github.com/chautari/chautari-api/internal/middleware"
	"github.com/chautari/chautari-api/internal/pkg/khalti"
	"github.com/chautari/chautari-api/internal/pkg/response"
	"github.com/chautari/chautari-api/internal/pkg/validator"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type purchaseTierRequest struct {
	TargetTier    int    `json:"target_tier" validate:"required,gte=1"`
	IsYearly      bool   `json:"is_yearly"`
	PaymentMethod string `json:"payment_method" validate:"payment_method"`
}

func (h *Handler) ListTiers(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	page, err := h.svc.ListTiers(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, page)
}

func (h *Handler) PurchaseTier(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req purchaseTierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	cycle := tierCycle(req.IsYearly)
	result, err := h.svc.Purchase(r.Context(), userID, req.TargetTier, cycle, req.PaymentMethod)
	if err != nil {
		h.writePurchaseError(w, err)
		return
	}

	if result.Status == ResultPendingPayment {
		response.Created(w, result)
		return
	}
	response.OK(w, result)
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	purchases, err := h.svc.History(r.Context(), userID, 20)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, purchases)
}

func (h *Handler) writePurchaseError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidPaymentMethod):
		response.BadRequest(w, "payment method must be digital_wallet or khalti")
	case errors.Is(err, wallet.ErrInsufficientFunds):
		response.Conflict(w, "insufficient wallet balance")
	case errors.Is(err, wallet.ErrWalletFrozen):
		response.Forbidden(w, "wallet is frozen")
	case errors.Is(err, khalti.ErrGatewayUnavailable):
		response.BadGateway(w, "payment gateway unavailable, retry later")
	default:
		if isQuoteError(err) {
			response.UnprocessableEntity(w, err.Error())
			return
		}
		response.InternalError(w)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/subscription-tier", h.PurchaseTier)
	r.Get("/history", h.History)
	return r
}

func tierCycle(isYearly bool) tier.BillingCycle {
	if isYearly {
		return tier.CycleYearly
	}
	return tier.CycleMonthly
}

func isQuoteError(err error) bool {
	return errors.Is(err, tier.ErrNotAnUpgrade) ||
		errors.Is(err, tier.ErrUnknownTier) ||
		errors.Is(err, tier.ErrInvalidCycle)
}

// TierRoutes serves the catalog listing, mounted on its own prefix.
func (h *Handler) TierRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.ListTiers)
	return r
}
