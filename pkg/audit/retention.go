package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker periodically removes audit events past the retention
// window. It runs one sweep per day until its context is cancelled.
type RetentionWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewRetentionWorker creates a worker keeping retentionDays of events.
func NewRetentionWorker(store *Store, retentionDays int, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionWorker{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  24 * time.Hour,
		logger:    logger,
	}
}

// Run starts the worker. It returns when the context is cancelled, or
// immediately when retention is disabled.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Info("audit retention disabled",
			"hasStore", w.store != nil,
			"retentionDays", int(w.retention.Hours()/24))
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.Info("audit retention worker started",
		"retentionDays", int(w.retention.Hours()/24),
		"interval", w.interval.String())

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("audit retention worker stopped")
			return
		case <-ticker.C:
			w.sweep()
		}
	}
}

// sweep performs a single retention pass.
func (w *RetentionWorker) sweep() {
	cutoff := time.Now().Add(-w.retention)
	deleted, err := w.store.DeleteOlderThan(cutoff)
	if err != nil {
		w.logger.Error("audit retention sweep failed", "error", err)
	} else if deleted > 0 {
		w.logger.Info("audit retention sweep completed",
			"deleted", deleted,
			"cutoff", cutoff.Format(time.RFC3339))
	}
}
