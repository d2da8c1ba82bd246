package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aidekit/scribe/pkg/telemetry"
)

// PostgresTelemetrySink writes telemetry records into telemetry_turns.
// Failures are logged and swallowed: telemetry must never fail a turn.
type PostgresTelemetrySink struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgresTelemetrySink shares the store's connection pool.
func NewPostgresTelemetrySink(s *PostgresStore, logger *slog.Logger) *PostgresTelemetrySink {
	return &PostgresTelemetrySink{pool: s.pool, logger: logger}
}

// RecordTurn implements telemetry.Recorder.
func (s *PostgresTelemetrySink) RecordTurn(ctx context.Context, rec telemetry.TurnRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to encode turn telemetry", "turn_id", rec.TurnID, "error", err)
		return
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO telemetry_turns (aide_id, turn_id, kind, record)
		VALUES ($1, $2, 'turn', $3)
	`, rec.AideID, rec.TurnID, data)
	if err != nil {
		s.logger.Error("failed to persist turn telemetry", "turn_id", rec.TurnID, "error", err)
	}
}

// RecordDirectEdit implements telemetry.Recorder.
func (s *PostgresTelemetrySink) RecordDirectEdit(ctx context.Context, rec telemetry.DirectEditRecord) {
	data, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("failed to encode edit telemetry", "aide_id", rec.AideID, "error", err)
		return
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO telemetry_turns (aide_id, kind, record)
		VALUES ($1, 'direct_edit', $2)
	`, rec.AideID, data)
	if err != nil {
		s.logger.Error("failed to persist edit telemetry", "aide_id", rec.AideID, "error", err)
	}
}

// PruneTelemetry deletes telemetry rows older than the cutoff and returns
// how many went away. The delete is bounded by created_at, so concurrent
// sweeps from multiple replicas are safe.
func (s *PostgresTelemetrySink) PruneTelemetry(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM telemetry_turns WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune telemetry: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close implements telemetry.Recorder.
func (s *PostgresTelemetrySink) Close() error { return nil }
