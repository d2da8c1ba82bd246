// Package cleanup enforces telemetry retention: a background loop deletes
// telemetry rows once they age past the configured window.
package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Pruner deletes telemetry records older than the cutoff and reports how many
// rows went away. Implemented by the Postgres telemetry sink.
type Pruner interface {
	PruneTelemetry(ctx context.Context, olderThan time.Time) (int64, error)
}

// Sweeper runs the retention loop. Deletes are idempotent and bounded by row
// age, so multiple replicas can sweep concurrently.
type Sweeper struct {
	retention time.Duration
	interval  time.Duration
	pruner    Pruner
	logger    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates a sweeper that keeps telemetry for the retention window
// and checks every interval.
func NewSweeper(retention, interval time.Duration, pruner Pruner, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		retention: retention,
		interval:  interval,
		pruner:    pruner,
		logger:    logger,
	}
}

// Start launches the background loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Telemetry sweeper started",
		"retention", s.retention,
		"interval", s.interval)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Telemetry sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.retention)
	count, err := s.pruner.PruneTelemetry(ctx, cutoff)
	if err != nil {
		s.logger.Error("Retention: telemetry prune failed", "error", err)
		return
	}
	if count > 0 {
		s.logger.Info("Retention: pruned telemetry rows", "count", count, "cutoff", cutoff)
	}
}
