package paysession

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Worker closes payment sessions whose window has passed.
type Worker struct {
	svc      *Service
	interval time.Duration
	stopCh   chan struct{}
}

func NewWorker(svc *Service, interval time.Duration) *Worker {
	if interval == 0 {
		interval = 5 * time.Minute
	}
	return &Worker{
		svc:      svc,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the background worker
func (w *Worker) Start() {
	log.Info().Dur("interval", w.interval).Msg("Starting payment session expiry worker...")
	go w.loop()
}

// Stop gracefully stops the background worker
func (w *Worker) Stop() {
	log.Info().Msg("Stopping payment session expiry worker...")
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

	count, err := w.svc.ExpireStale(ctx, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("Failed to expire stale payment sessions")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Msg("Expired stale payment sessions")
	}
}
