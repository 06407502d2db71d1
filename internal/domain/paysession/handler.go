package paysession

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/chautari/chautari-api/internal/middleware"
	"github.com/chautari/chautari-api/internal/pkg/khalti"
	"github.com/chautari/chautari-api/internal/pkg/response"
	"github.com/chautari/chautari-api/internal/pkg/validator"
)

type Handler struct {
	svc        *Service
	webhookKey string
}

func NewHandler(svc *Service, webhookKey string) *Handler {
	return &Handler{svc: svc, webhookKey: webhookKey}
}

type verifyRequest struct {
	InvoiceID   string `json:"invoice_id" validate:"required,uuid"`
	ExternalRef string `json:"external_ref"`
}

type webhookPayload struct {
	Pidx   string `json:"pidx"`
	Status string `json:"status"`
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}
	invoiceID, err := uuid.Parse(req.InvoiceID)
	if err != nil {
		response.BadRequest(w, "invalid invoice id")
		return
	}

	sess, err := h.svc.Verify(r.Context(), userID, invoiceID, req.ExternalRef)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	response.OK(w, sess)
}

func (h *Handler) Pending(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sessions, err := h.svc.ListPending(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}
	response.OK(w, sessions)
}

// Webhook handles gateway callbacks. The body is HMAC-signed; an
// invalid signature is dropped before any state is touched.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		response.BadRequest(w, "cannot read body")
		return
	}

	signature := r.Header.Get("X-Signature")
	if !khalti.VerifySignature(body, signature, h.webhookKey) {
		log.Warn().Msg("webhook rejected: bad signature")
		response.Unauthorized(w, "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil || payload.Pidx == "" {
		response.BadRequest(w, "invalid payload")
		return
	}

	sess, err := h.svc.HandleCallback(r.Context(), payload.Pidx)
	if err != nil {
		// Terminal session states must not make the gateway retry
		// forever; acknowledge them with the failure in the body.
		switch {
		case errors.Is(err, ErrSessionNotFound):
			response.NotFound(w, "unknown payment reference")
		case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionFailed), errors.Is(err, ErrVerificationFailed), errors.Is(err, ErrSessionMismatch):
			response.OK(w, map[string]interface{}{"acknowledged": true, "result": err.Error()})
		case errors.Is(err, ErrVerificationInProgress):
			response.Conflict(w, "verification in progress")
		default:
			response.BadGateway(w, "verification unavailable")
		}
		return
	}
	response.OK(w, map[string]interface{}{"acknowledged": true, "status": sess.Status})
}

func (h *Handler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		response.NotFound(w, "payment session not found")
	case errors.Is(err, ErrSessionMismatch):
		response.Conflict(w, "payment does not match the session")
	case errors.Is(err, ErrSessionExpired):
		response.Conflict(w, "payment session expired")
	case errors.Is(err, ErrSessionFailed):
		response.Conflict(w, err.Error())
	case errors.Is(err, ErrVerificationFailed):
		response.UnprocessableEntity(w, "gateway did not confirm the payment")
	case errors.Is(err, ErrVerificationInProgress):
		response.Conflict(w, "verification in progress, retry shortly")
	case errors.Is(err, khalti.ErrGatewayUnavailable):
		response.BadGateway(w, "payment gateway unavailable, retry later")
	default:
		response.InternalError(w)
	}
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/verify", h.Verify)
	r.Get("/pending", h.Pending)
	return r
}

// WebhookRoutes are unauthenticated; the HMAC signature is the auth.
func (h *Handler) WebhookRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/khalti", h.Webhook)
	return r
}
