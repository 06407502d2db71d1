package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/domain/paysession"
	"github.com/chautari/chautari-api/internal/middleware"
	"github.com/chautari/chautari-api/internal/pkg/khalti"
	"github.com/chautari/chautari-api/internal/pkg/response"
	"github.com/chautari/chautari-api/internal/pkg/validator"
)

// TopupStarter opens a gateway checkout that credits the wallet once
// the payment is reconciled.
type TopupStarter interface {
	StartTopup(ctx context.Context, userID uuid.UUID, amount int64, method string) (*paysession.Session, error)
}

type Handler struct {
	svc    *Service
	topups TopupStarter
}

func NewHandler(svc *Service, topups TopupStarter) *Handler {
	return &Handler{svc: svc, topups: topups}
}

type withdrawRequest struct {
	Amount int64 `json:"amount" validate:"required,gt=0"`
}

type addFundsRequest struct {
	Amount        int64  `json:"amount" validate:"required,gt=0"`
	PaymentMethod string `json:"payment_method" validate:"payment_method"`
}

type adminCreditRequest struct {
	Amount      int64  `json:"amount" validate:"required,gt=0"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
}

type freezeRequest struct {
	Frozen bool `json:"frozen"`
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	wallet, err := h.svc.GetWallet(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, wallet)
}

func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	page := 1
	if raw := r.URL.Query().Get("page"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			response.BadRequest(w, "page must be a positive integer")
			return
		}
		page = parsed
	}

	txns, total, err := h.svc.GetHistory(r.Context(), userID, page)
	if err != nil {
		response.InternalError(w)
		return
	}

	pages := int(total) / historyPageSize
	if int(total)%historyPageSize != 0 {
		pages++
	}
	response.WithMeta(w, txns, response.Meta{
		Total:   int(total),
		Page:    page,
		Limit:   historyPageSize,
		Pages:   pages,
		HasNext: page < pages,
		HasPrev: page > 1,
	})
}

func (h *Handler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	entry, err := h.svc.Withdraw(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	response.OK(w, entry)
}

func (h *Handler) AddFunds(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req addFundsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	method := req.PaymentMethod
	if method == "" {
		method = "khalti"
	}

	sess, err := h.topups.StartTopup(r.Context(), userID, req.Amount, method)
	if err != nil {
		if errors.Is(err, khalti.ErrGatewayUnavailable) {
			response.BadGateway(w, "payment gateway unavailable, retry later")
			return
		}
		response.InternalError(w)
		return
	}

	response.Created(w, sess)
}

func (h *Handler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	var req adminCreditRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if req.Description == "" {
		req.Description = "administrative credit"
	}

	entry, err := h.svc.Credit(r.Context(), ownerID, req.Amount, req.Description, req.ReferenceID, SourceAdmin)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	response.OK(w, entry)
}

func (h *Handler) AdminFreeze(w http.ResponseWriter, r *http.Request) {
	ownerID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		response.BadRequest(w, "invalid user id")
		return
	}

	var req freezeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}

	if err := h.svc.SetFrozen(r.Context(), ownerID, req.Frozen); err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, map[string]interface{}{"frozen": req.Frozen})
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		response.BadRequest(w, "amount must be greater than zero")
	case errors.Is(err, ErrInsufficientFunds):
		response.Conflict(w, "insufficient wallet balance")
	case errors.Is(err, ErrWalletFrozen):
		response.Forbidden(w, "wallet is frozen")
	case errors.Is(err, ErrReferenceConflict):
		response.Conflict(w, "reference_id already used with a different amount")
	default:
		response.InternalError(w)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Get)
	r.Get("/transactions", h.Transactions)
	r.Post("/add-funds", h.AddFunds)
	r.Post("/withdraw", h.Withdraw)
	return r
}

func (h *Handler) AdminRoutes(authMiddleware, adminMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(adminMiddleware)
	r.Post("/{userID}/credit", h.AdminCredit)
	r.Post("/{userID}/freeze", h.AdminFreeze)
	return r
}
