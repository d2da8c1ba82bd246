// Package store persists aide pages and their append-only turn logs. The
// orchestrator needs exactly three operations (load context, append turn,
// append direct edit); the REST surface additionally reads snapshots and
// recent turns. Two implementations: an in-memory store for tests and dev,
// and a PostgreSQL store for deployments.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/wire"
)

// ErrNotFound is returned by read paths when the aide has no persisted page.
// Turn-context loads never return it: an unknown aide starts from an empty
// snapshot.
var ErrNotFound = errors.New("aide not found")

// Tail entry roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TailEntry is one element of the conversation tail: a verbatim user
// utterance or a compact summary of a prior assistant turn.
type TailEntry struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Turn is the persisted record of one completed LLM turn: the accepted
// operations in wire order plus the material future turns need for the
// conversation tail.
type Turn struct {
	TurnID                string    `json:"turn_id"`
	UserMessage           string    `json:"user_message"`
	AssistantSummary      string    `json:"assistant_summary"`
	Ops                   []wire.Op `json:"ops"`
	TierTrace             []string  `json:"tier_trace"`
	AwaitingClarification bool      `json:"awaiting_clarification,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// Store is the persistence surface the orchestrator depends on. Each call is
// atomic from the caller's perspective: a failed append leaves no partial
// rows behind.
type Store interface {
	// LoadTurnContext returns the current snapshot and the bounded
	// conversation tail for one aide. Unknown aides yield a fresh empty
	// snapshot and an empty tail.
	LoadTurnContext(ctx context.Context, aideID string) (*page.Snapshot, []TailEntry, error)

	// AppendTurn records a completed turn and replaces the aide's current
	// snapshot in a single atomic step.
	AppendTurn(ctx context.Context, aideID string, turn Turn, final *page.Snapshot) error

	// AppendDirectEdit records one UI-originated operation in the same op
	// log so full replay still reproduces the stored snapshot.
	AppendDirectEdit(ctx context.Context, aideID string, op wire.Op, result *page.Snapshot) error

	Close() error
}

// Reader serves page reads outside the turn loop (initial render, history).
type Reader interface {
	// Snapshot returns the aide's current snapshot, or ErrNotFound.
	Snapshot(ctx context.Context, aideID string) (*page.Snapshot, error)

	// RecentTurns returns up to limit most recent turns, newest first.
	// Direct edits are not included.
	RecentTurns(ctx context.Context, aideID string, limit int) ([]Turn, error)
}

// buildTail converts completed turns (oldest first) into tail entries,
// keeping only the most recent `limit` entries. Every LLM turn contributes
// its user utterance and its assistant summary.
func buildTail(turns []Turn, limit int) []TailEntry {
	if limit <= 0 {
		return nil
	}
	entries := make([]TailEntry, 0, 2*len(turns))
	for _, t := range turns {
		if t.UserMessage == "" {
			continue // direct edit
		}
		entries = append(entries, TailEntry{Role: RoleUser, Text: t.UserMessage})
		if t.AssistantSummary != "" {
			entries = append(entries, TailEntry{Role: RoleAssistant, Text: t.AssistantSummary})
		}
	}
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return entries
}
