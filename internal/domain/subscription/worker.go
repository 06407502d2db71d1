package subscription

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker reverts lapsed paid subscriptions to the free tier in the
// background.
type Worker struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
}

func NewWorker(svc *Service, interval time.Duration) *Worker {
	if interval == 0 {
		interval = time.Hour
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting subscription expiry worker...")
	go w.loop()
}

// Stop gracefully stops the background worker
func (w *Worker) Stop() {
	log.Info().Msg("Stopping subscription expiry worker...")
	close(w.stopCh)
}

func (w *Worker) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	// Run once immediately on startup
	w.sweep()

	for {
		select {
		case <-ticker.C:
			w.sweep()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := w.svc.ExpireLapsed(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire lapsed subscriptions")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Reverted lapsed subscriptions to free tier")
	}
}
