package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql (migrations)

	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/wire"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresStore persists aides in PostgreSQL. Every append is a single
// transaction touching the aides row and the turns log together.
type PostgresStore struct {
	pool        *pgxpool.Pool
	tailEntries int
	logger      *slog.Logger
}

// NewPostgresStore connects, applies pending embedded migrations, and
// returns a ready store. The migration step uses a throwaway database/sql
// connection; runtime queries go through the pgx pool.
func NewPostgresStore(ctx context.Context, databaseURL string, tailEntries int, logger *slog.Logger) (*PostgresStore, error) {
	if err := runMigrations(databaseURL); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolCfg.MaxConns = 16
	poolCfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool, tailEntries: tailEntries, logger: logger}, nil
}

func runMigrations(databaseURL string) error {
	db, err := stdsql.Open("pgx", databaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "scribe", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. m.Close() would also close the database
	// driver and with it the *sql.DB, which is handled by the deferred close.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}
	return nil
}

// Pool exposes the underlying pool for health checks and the telemetry sink.
func (s *PostgresStore) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies database connectivity. The health endpoint calls this with a
// short timeout.
func (s *PostgresStore) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

// LoadTurnContext implements Store.
func (s *PostgresStore) LoadTurnContext(ctx context.Context, aideID string) (*page.Snapshot, []TailEntry, error) {
	snap, err := s.Snapshot(ctx, aideID)
	if errors.Is(err, ErrNotFound) {
		return page.NewSnapshot(), nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT user_message, assistant_summary
		FROM turns
		WHERE aide_id = $1 AND kind = 'turn'
		ORDER BY seq DESC
		LIMIT $2
	`, aideID, s.tailEntries)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversation tail: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.UserMessage, &t.AssistantSummary); err != nil {
			return nil, nil, fmt.Errorf("scan tail row: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate tail rows: %w", err)
	}

	// Rows arrive newest first; the tail reads oldest first.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return snap, buildTail(turns, s.tailEntries), nil
}

// AppendTurn implements Store.
func (s *PostgresStore) AppendTurn(ctx context.Context, aideID string, turn Turn, final *page.Snapshot) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}
	opsJSON, traceJSON, err := encodeTurnLog(turn.Ops, turn.TierTrace)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := upsertSnapshot(ctx, tx, aideID, final); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO turns (aide_id, turn_id, kind, user_message, assistant_summary, ops, tier_trace, awaiting_clarification, created_at)
			VALUES ($1, $2, 'turn', $3, $4, $5, $6, $7, $8)
		`, aideID, turn.TurnID, turn.UserMessage, turn.AssistantSummary, opsJSON, traceJSON, turn.AwaitingClarification, turn.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert turn: %w", err)
		}
		return nil
	})
}

// AppendDirectEdit implements Store.
func (s *PostgresStore) AppendDirectEdit(ctx context.Context, aideID string, op wire.Op, result *page.Snapshot) error {
	opsJSON, traceJSON, err := encodeTurnLog([]wire.Op{op}, nil)
	if err != nil {
		return err
	}

	return s.withTx(ctx, func(tx pgx.Tx) error {
		if err := upsertSnapshot(ctx, tx, aideID, result); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO turns (aide_id, turn_id, kind, ops, tier_trace, created_at)
			VALUES ($1, $2, 'direct_edit', $3, $4, $5)
		`, aideID, "edit-"+uuid.NewString(), opsJSON, traceJSON, time.Now().UTC())
		if err != nil {
			return fmt.Errorf("insert direct edit: %w", err)
		}
		return nil
	})
}

// Snapshot implements Reader.
func (s *PostgresStore) Snapshot(ctx context.Context, aideID string) (*page.Snapshot, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT snapshot FROM aides WHERE id = $1`, aideID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("aide %s: %w", aideID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	snap, err := page.UnmarshalSnapshot(raw)
	if err != nil {
		return nil, fmt.Errorf("decode stored snapshot: %w", err)
	}
	return snap, nil
}

// RecentTurns implements Reader.
func (s *PostgresStore) RecentTurns(ctx context.Context, aideID string, limit int) ([]Turn, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM aides WHERE id = $1)`, aideID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check aide: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("aide %s: %w", aideID, ErrNotFound)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT turn_id, user_message, assistant_summary, ops, tier_trace, awaiting_clarification, created_at
		FROM turns
		WHERE aide_id = $1 AND kind = 'turn'
		ORDER BY seq DESC
		LIMIT $2
	`, aideID, limit)
	if err != nil {
		return nil, fmt.Errorf("load turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var (
			t        Turn
			opsRaw   []byte
			traceRaw []byte
		)
		if err := rows.Scan(&t.TurnID, &t.UserMessage, &t.AssistantSummary, &opsRaw, &traceRaw, &t.AwaitingClarification, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		if err := json.Unmarshal(opsRaw, &t.Ops); err != nil {
			return nil, fmt.Errorf("decode stored ops: %w", err)
		}
		if err := json.Unmarshal(traceRaw, &t.TierTrace); err != nil {
			return nil, fmt.Errorf("decode stored tier trace: %w", err)
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate turn rows: %w", err)
	}
	return turns, nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.logger.Warn("transaction rollback failed", "error", err)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func upsertSnapshot(ctx context.Context, tx pgx.Tx, aideID string, snap *page.Snapshot) error {
	data, err := snap.MarshalCanonical()
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO aides (id, snapshot, version)
		VALUES ($1, $2, 1)
		ON CONFLICT (id) DO UPDATE
		SET snapshot = EXCLUDED.snapshot, version = aides.version + 1, updated_at = now()
	`, aideID, data)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

func encodeTurnLog(ops []wire.Op, trace []string) (opsJSON, traceJSON []byte, err error) {
	if ops == nil {
		ops = []wire.Op{}
	}
	if trace == nil {
		trace = []string{}
	}
	opsJSON, err = json.Marshal(ops)
	if err != nil {
		return nil, nil, fmt.Errorf("encode ops: %w", err)
	}
	traceJSON, err = json.Marshal(trace)
	if err != nil {
		return nil, nil, fmt.Errorf("encode tier trace: %w", err)
	}
	return opsJSON, traceJSON, nil
}
