package main

import (
	"context"
	"log/slog"
	"time"
)

// Refresher updates the mirrored repository from its remote
type Refresher interface {
	Refresh(ctx context.Context) error
}

// refreshWorker runs all background refreshes of the mirror on a single
// goroutine, requests queued while a refresh is running are collapsed
// into one
type refreshWorker struct {
	mirror   Refresher
	interval time.Duration
	queue    chan struct{}
	log      *slog.Logger
}

func newRefreshWorker(m Refresher, interval time.Duration, log *slog.Logger) *refreshWorker {
	return &refreshWorker{
		mirror:   m,
		interval: interval,
		queue:    make(chan struct{}, 1),
		log:      log,
	}
}

// QueueRefresh queues a refresh without blocking. it returns false if
// a refresh is already queued.
func (w *refreshWorker) QueueRefresh() bool {
	select {
	case w.queue <- struct{}{}:
		return true
	default:
		return false
	}
}

// Run refreshes mirror on every queued request and on every interval
// until ctx is done
func (w *refreshWorker) Run(ctx context.Context) {
	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	w.log.Info("refresh worker started", "interval", w.interval)

	for {
		select {
		case <-ctx.Done():
			w.log.Info("refresh worker stopped")
			return
		case <-w.queue:
			w.refresh(ctx, "queued")
		case <-tick:
			w.refresh(ctx, "interval")
		}
	}
}

func (w *refreshWorker) refresh(ctx context.Context, reason string) {
	w.log.Debug("refreshing repository", "reason", reason)
	// errors are logged and recorded by the mirror
	_ = w.mirror.Refresh(ctx)
}
