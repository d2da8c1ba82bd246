package store

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/telemetry"
	"github.com/aidekit/scribe/pkg/wire"
)

var (
	sharedConnStr string
	containerOnce sync.Once
	containerErr  error
)

// postgresURL returns a connection string: CI_DATABASE_URL in CI, a shared
// testcontainer locally, or skips the test when neither is reachable.
func postgresURL(t *testing.T) string {
	t.Helper()
	if url := os.Getenv("CI_DATABASE_URL"); url != "" {
		return url
	}

	containerOnce.Do(func() {
		ctx := context.Background()
		container, err := tcpostgres.Run(ctx,
			"postgres:17-alpine",
			tcpostgres.WithDatabase("scribe_test"),
			tcpostgres.WithUsername("test"),
			tcpostgres.WithPassword("test"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(30*time.Second)),
		)
		if err != nil {
			containerErr = err
			return
		}
		sharedConnStr, containerErr = container.ConnectionString(ctx, "sslmode=disable")
	})
	if containerErr != nil {
		t.Skipf("postgres unavailable: %v", containerErr)
	}
	return sharedConnStr
}

func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := postgresURL(t)
	s, err := NewPostgresStore(context.Background(), url, 9, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgresStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	aideID := "aide-" + t.Name()

	snap, tail, err := s.LoadTurnContext(ctx, aideID)
	require.NoError(t, err)
	assert.True(t, snap.Empty())
	assert.Empty(t, tail)

	final := seedSnapshot(t)
	ops := []wire.Op{
		{Type: wire.OpEntityCreate, ID: "pg", Parent: page.RootParent, Display: page.DisplayPage, Props: map[string]any{"title": "Poker League"}},
		{Type: wire.OpRelSet, From: "player_ana", To: "sec_players", RelType: "member_of", Cardinality: page.ManyToOne},
	}
	err = s.AppendTurn(ctx, aideID, Turn{
		TurnID:           "turn-1",
		UserMessage:      "set up a poker league page",
		AssistantSummary: "[2 operations applied]",
		Ops:              ops,
		TierTrace:        []string{"structural"},
	}, final)
	require.NoError(t, err)

	snap, tail, err = s.LoadTurnContext(ctx, aideID)
	require.NoError(t, err)
	assert.Equal(t, canonical(t, final), canonical(t, snap))
	require.Len(t, tail, 2)
	assert.Equal(t, TailEntry{Role: RoleUser, Text: "set up a poker league page"}, tail[0])
	assert.Equal(t, TailEntry{Role: RoleAssistant, Text: "[2 operations applied]"}, tail[1])

	turns, err := s.RecentTurns(ctx, aideID, 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "turn-1", turns[0].TurnID)
	assert.Equal(t, []string{"structural"}, turns[0].TierTrace)
	require.Len(t, turns[0].Ops, 2)
	assert.Equal(t, wire.OpRelSet, turns[0].Ops[1].Type)
	assert.Equal(t, "member_of", turns[0].Ops[1].RelType)
	assert.Equal(t, page.ManyToOne, turns[0].Ops[1].Cardinality)
}

func TestPostgresStoreDirectEdit(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	aideID := "aide-" + t.Name()

	final := seedSnapshot(t)
	require.NoError(t, s.AppendTurn(ctx, aideID, Turn{TurnID: "turn-1", UserMessage: "hi", AssistantSummary: "[1 operations applied]"}, final))

	edited := final.Clone()
	edited.Entities["player_ana"].Props["name"] = "Anna"
	err := s.AppendDirectEdit(ctx, aideID, wire.Op{Type: wire.OpEntityUpdate, Ref: "player_ana", Props: map[string]any{"name": "Anna"}}, edited)
	require.NoError(t, err)

	snap, tail, err := s.LoadTurnContext(ctx, aideID)
	require.NoError(t, err)
	assert.Equal(t, "Anna", snap.Entities["player_ana"].Props["name"])
	assert.Len(t, tail, 2, "direct edits stay out of the tail")

	turns, err := s.RecentTurns(ctx, aideID, 5)
	require.NoError(t, err)
	assert.Len(t, turns, 1, "direct edits stay out of turn history")
}

func TestPostgresStoreSnapshotNotFound(t *testing.T) {
	s := newTestPostgresStore(t)
	_, err := s.Snapshot(context.Background(), "aide-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStoreDuplicateTurnID(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	aideID := "aide-" + t.Name()
	final := seedSnapshot(t)

	require.NoError(t, s.AppendTurn(ctx, aideID, Turn{TurnID: "turn-1", UserMessage: "hi"}, final))
	err := s.AppendTurn(ctx, aideID, Turn{TurnID: "turn-1", UserMessage: "again"}, final)
	require.Error(t, err, "duplicate turn ids must not be recorded twice")

	turns, err := s.RecentTurns(ctx, aideID, 5)
	require.NoError(t, err)
	assert.Len(t, turns, 1, "failed append leaves no partial rows")
}

func TestPostgresTelemetrySink(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	sink := NewPostgresTelemetrySink(s, slog.Default())

	sink.RecordTurn(ctx, telemetry.TurnRecord{
		TurnID:     "turn-1",
		AideID:     "aide-telemetry",
		Timestamp:  time.Now().UTC(),
		TierTrace:  []string{"fast"},
		Classified: "fast",
		Accepted:   3,
	})
	sink.RecordDirectEdit(ctx, telemetry.DirectEditRecord{
		AideID:            "aide-telemetry",
		Timestamp:         time.Now().UTC(),
		EditLatencyMillis: 2,
		Accepted:          true,
	})

	var count int
	err := s.Pool().QueryRow(ctx, `SELECT count(*) FROM telemetry_turns WHERE aide_id = $1`, "aide-telemetry").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestPostgresTelemetrySinkPrune(t *testing.T) {
	ctx := context.Background()
	s := newTestPostgresStore(t)
	sink := NewPostgresTelemetrySink(s, slog.Default())
	aideID := "aide-" + t.Name()

	sink.RecordTurn(ctx, telemetry.TurnRecord{TurnID: "turn-old", AideID: aideID, Timestamp: time.Now().UTC()})
	sink.RecordTurn(ctx, telemetry.TurnRecord{TurnID: "turn-new", AideID: aideID, Timestamp: time.Now().UTC()})

	// Age one row past the retention window.
	_, err := s.Pool().Exec(ctx,
		`UPDATE telemetry_turns SET created_at = now() - interval '40 days' WHERE aide_id = $1 AND turn_id = $2`,
		aideID, "turn-old")
	require.NoError(t, err)

	pruned, err := sink.PruneTelemetry(ctx, time.Now().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var remaining []string
	rows, err := s.Pool().Query(ctx, `SELECT turn_id FROM telemetry_turns WHERE aide_id = $1`, aideID)
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var id string
		require.NoError(t, rows.Scan(&id))
		remaining = append(remaining, id)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []string{"turn-new"}, remaining)
}
