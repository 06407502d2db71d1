package paysession

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Hints caches whether a user has an open payment session so the
// pending-payments endpoint can skip the database on the common empty
// case. The cache is advisory only; payment_sessions rows stay the
// source of truth and every miss falls through to Postgres.
type Hints struct {
	client *redis.Client
	ttl    time.Duration
}

func NewHints(client *redis.Client, ttl time.Duration) *Hints {
	if ttl == 0 {
		ttl = time.Hour
	}
	return &Hints{client: client, ttl: ttl}
}

func hintKey(userID uuid.UUID) string {
	return "paysession:pending:" + userID.String()
}

func (h *Hints) MarkPending(ctx context.Context, userID, invoiceID uuid.UUID) {
	if h == nil || h.client == nil {
		return
	}
	if err := h.client.Set(ctx, hintKey(userID), invoiceID.String(), h.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to set pending-payment hint")
	}
}

func (h *Hints) Clear(ctx context.Context, userID uuid.UUID) {
	if h == nil || h.client == nil {
		return
	}
	if err := h.client.Del(ctx, hintKey(userID)).Err(); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("failed to clear pending-payment hint")
	}
}

// MaybePending reports false only when the cache positively knows the
// user has no open session. Any cache miss or error reads as "maybe".
func (h *Hints) MaybePending(ctx context.Context, userID uuid.UUID) bool {
	if h == nil || h.client == nil {
		return true
	}
	_, err := h.client.Get(ctx, hintKey(userID)).Result()
	if err == nil {
		return true
	}
	if errors.Is(err, redis.Nil) {
		return false
	}
	return true
}
