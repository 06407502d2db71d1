package subscription

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/chautari/chautari-api/internal/middleware"
	"github.com/chautari/chautari-api/internal/pkg/response"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type currentSubscriptionResponse struct {
	Subscription *Subscription `json:"subscription"`
	Tier         interface{}   `json:"tier"`
	ExpiresAt    *time.Time    `json:"expires_at,omitempty"`
}

func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	sub, t, err := h.svc.GetCurrent(r.Context(), userID)
	if err != nil {
		response.InternalError(w)
		return
	}

	resp := currentSubscriptionResponse{Subscription: sub, Tier: t}
	if sub.EffectiveTier(time.Now()) > 0 {
		resp.ExpiresAt = &sub.ExpiresAt.Time
	}
	response.OK(w, resp)
}

func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Get("/", h.Current)
	return r
}
