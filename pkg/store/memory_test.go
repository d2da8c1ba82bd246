package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/reducer"
	"github.com/aidekit/scribe/pkg/wire"
)

// seedSnapshot builds a small page through the reducer so stored state is
// always reachable by replay.
func seedSnapshot(t *testing.T) *page.Snapshot {
	t.Helper()
	snap := page.NewSnapshot()
	for _, op := range []wire.Op{
		{Type: wire.OpEntityCreate, ID: "pg", Parent: page.RootParent, Display: page.DisplayPage, Props: map[string]any{"title": "Poker League"}},
		{Type: wire.OpEntityCreate, ID: "sec_players", Parent: "pg", Display: page.DisplaySection, Props: map[string]any{"title": "Players"}},
		{Type: wire.OpEntityCreate, ID: "player_ana", Parent: "sec_players", Display: page.DisplayCard, Props: map[string]any{"name": "Ana"}},
	} {
		next, out := reducer.Apply(snap, op)
		require.True(t, out.Accepted, "seed op %s rejected: %s", op.Type, out.Reason)
		snap = next
	}
	return snap
}

func canonical(t *testing.T, snap *page.Snapshot) string {
	t.Helper()
	data, err := snap.MarshalCanonical()
	require.NoError(t, err)
	return string(data)
}

func TestMemoryStoreLoadTurnContext(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown aide starts empty", func(t *testing.T) {
		s := NewMemoryStore(9)
		snap, tail, err := s.LoadTurnContext(ctx, "aide-1")
		require.NoError(t, err)
		assert.True(t, snap.Empty())
		assert.Empty(t, tail)
	})

	t.Run("round trip after append", func(t *testing.T) {
		s := NewMemoryStore(9)
		final := seedSnapshot(t)
		err := s.AppendTurn(ctx, "aide-1", Turn{
			TurnID:           "turn-1",
			UserMessage:      "set up a poker league page",
			AssistantSummary: "[3 operations applied]",
			Ops:              []wire.Op{{Type: wire.OpEntityCreate, ID: "pg", Parent: page.RootParent, Display: page.DisplayPage}},
			TierTrace:        []string{"structural"},
		}, final)
		require.NoError(t, err)

		snap, tail, err := s.LoadTurnContext(ctx, "aide-1")
		require.NoError(t, err)
		assert.Equal(t, canonical(t, final), canonical(t, snap))
		require.Len(t, tail, 2)
		assert.Equal(t, TailEntry{Role: RoleUser, Text: "set up a poker league page"}, tail[0])
		assert.Equal(t, TailEntry{Role: RoleAssistant, Text: "[3 operations applied]"}, tail[1])
	})

	t.Run("tail bounded to configured entries", func(t *testing.T) {
		s := NewMemoryStore(9)
		final := seedSnapshot(t)
		for i := 0; i < 8; i++ {
			err := s.AppendTurn(ctx, "aide-1", Turn{
				TurnID:           fmt.Sprintf("turn-%d", i),
				UserMessage:      fmt.Sprintf("message %d", i),
				AssistantSummary: fmt.Sprintf("[%d operations applied]", i),
			}, final)
			require.NoError(t, err)
		}

		_, tail, err := s.LoadTurnContext(ctx, "aide-1")
		require.NoError(t, err)
		require.Len(t, tail, 9)
		// Oldest entries fall off first; the newest summary is last.
		assert.Equal(t, "[3 operations applied]", tail[0].Text)
		assert.Equal(t, RoleAssistant, tail[0].Role)
		assert.Equal(t, "[7 operations applied]", tail[8].Text)
	})

	t.Run("direct edits stay out of the tail", func(t *testing.T) {
		s := NewMemoryStore(9)
		final := seedSnapshot(t)
		require.NoError(t, s.AppendTurn(ctx, "aide-1", Turn{TurnID: "turn-1", UserMessage: "hi", AssistantSummary: "[1 operations applied]"}, final))
		require.NoError(t, s.AppendDirectEdit(ctx, "aide-1", wire.Op{Type: wire.OpEntityUpdate, Ref: "player_ana", Props: map[string]any{"name": "Anna"}}, final))

		_, tail, err := s.LoadTurnContext(ctx, "aide-1")
		require.NoError(t, err)
		assert.Len(t, tail, 2)
	})

	t.Run("returned snapshot does not alias stored state", func(t *testing.T) {
		s := NewMemoryStore(9)
		final := seedSnapshot(t)
		require.NoError(t, s.AppendTurn(ctx, "aide-1", Turn{TurnID: "turn-1", UserMessage: "hi"}, final))

		snap, _, err := s.LoadTurnContext(ctx, "aide-1")
		require.NoError(t, err)
		snap.Entities["player_ana"].Props["name"] = "mutated"

		again, _, err := s.LoadTurnContext(ctx, "aide-1")
		require.NoError(t, err)
		assert.Equal(t, "Ana", again.Entities["player_ana"].Props["name"])
	})
}

func TestMemoryStoreReader(t *testing.T) {
	ctx := context.Background()

	t.Run("snapshot of unknown aide", func(t *testing.T) {
		s := NewMemoryStore(9)
		_, err := s.Snapshot(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("recent turns newest first without edits", func(t *testing.T) {
		s := NewMemoryStore(9)
		final := seedSnapshot(t)
		require.NoError(t, s.AppendTurn(ctx, "aide-1", Turn{TurnID: "turn-1", UserMessage: "first"}, final))
		require.NoError(t, s.AppendDirectEdit(ctx, "aide-1", wire.Op{Type: wire.OpEntityUpdate, Ref: "player_ana", Props: map[string]any{"score": 3}}, final))
		require.NoError(t, s.AppendTurn(ctx, "aide-1", Turn{TurnID: "turn-2", UserMessage: "second"}, final))

		turns, err := s.RecentTurns(ctx, "aide-1", 10)
		require.NoError(t, err)
		require.Len(t, turns, 2)
		assert.Equal(t, "turn-2", turns[0].TurnID)
		assert.Equal(t, "turn-1", turns[1].TurnID)

		one, err := s.RecentTurns(ctx, "aide-1", 1)
		require.NoError(t, err)
		require.Len(t, one, 1)
		assert.Equal(t, "turn-2", one[0].TurnID)
	})

	t.Run("version counts every append", func(t *testing.T) {
		s := NewMemoryStore(9)
		final := seedSnapshot(t)
		require.NoError(t, s.AppendTurn(ctx, "aide-1", Turn{TurnID: "turn-1", UserMessage: "hi"}, final))
		require.NoError(t, s.AppendDirectEdit(ctx, "aide-1", wire.Op{Type: wire.OpEntityUpdate, Ref: "player_ana"}, final))
		assert.Equal(t, int64(2), s.Version("aide-1"))
		assert.Equal(t, int64(0), s.Version("other"))
	})
}
