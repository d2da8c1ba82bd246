package telemetry

import (
	"context"
	"log/slog"
	"sync"
)

// SlogSink writes records to the structured log. The dev-mode sink.
type SlogSink struct {
	logger *slog.Logger
}

// NewSlogSink creates a log-backed sink.
func NewSlogSink(logger *slog.Logger) *SlogSink {
	return &SlogSink{logger: logger}
}

func (s *SlogSink) RecordTurn(_ context.Context, rec TurnRecord) {
	s.logger.Info("turn completed",
		"turn_id", rec.TurnID,
		"aide_id", rec.AideID,
		"tier_trace", rec.TierTrace,
		"classified", rec.Classified,
		"rule", rec.Rule,
		"escalation_reason", rec.EscalationReason,
		"accepted", rec.Accepted,
		"rejected", rec.RejectedTotal(),
		"ttfc_ms", rec.TTFCMillis,
		"ttc_ms", rec.TTCMillis,
		"tokens_in", rec.UsageSum.Input,
		"tokens_out", rec.UsageSum.Output,
		"cache_read", rec.UsageSum.CacheRead,
		"cache_write", rec.UsageSum.CacheWrite,
		"cost_usd", rec.CostUSD,
		"error_kind", rec.ErrorKind,
	)
}

func (s *SlogSink) RecordDirectEdit(_ context.Context, rec DirectEditRecord) {
	s.logger.Info("direct edit",
		"aide_id", rec.AideID,
		"edit_latency_ms", rec.EditLatencyMillis,
		"accepted", rec.Accepted,
		"reject_reason", rec.RejectReason,
	)
}

func (s *SlogSink) Close() error { return nil }

// MemorySink retains records in memory for tests and for the dev snapshot
// endpoint.
type MemorySink struct {
	mu    sync.Mutex
	turns []TurnRecord
	edits []DirectEditRecord
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) RecordTurn(_ context.Context, rec TurnRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, rec)
}

func (s *MemorySink) RecordDirectEdit(_ context.Context, rec DirectEditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edits = append(s.edits, rec)
}

func (s *MemorySink) Close() error { return nil }

// Turns returns a copy of recorded turn records.
func (s *MemorySink) Turns() []TurnRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TurnRecord, len(s.turns))
	copy(out, s.turns)
	return out
}

// Edits returns a copy of recorded direct-edit records.
func (s *MemorySink) Edits() []DirectEditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DirectEditRecord, len(s.edits))
	copy(out, s.edits)
	return out
}
