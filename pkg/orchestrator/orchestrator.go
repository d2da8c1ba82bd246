// Package orchestrator runs turns: it classifies each user message onto a
// model tier, streams the model's JSONL output through the splitter and the
// reducer, fans accepted deltas out to the aide's sessions, handles
// mid-stream self-escalation, and finalizes every turn with persistence plus
// exactly one telemetry record and one terminal wire event.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aidekit/scribe/pkg/config"
	"github.com/aidekit/scribe/pkg/events"
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/prompt"
	"github.com/aidekit/scribe/pkg/reducer"
	"github.com/aidekit/scribe/pkg/store"
	"github.com/aidekit/scribe/pkg/telemetry"
	"github.com/aidekit/scribe/pkg/tier"
	"github.com/aidekit/scribe/pkg/turnerr"
	"github.com/aidekit/scribe/pkg/wire"
)

// persistTimeout bounds turn-end persistence. Finalization runs on a context
// detached from the turn so an interrupt cannot cancel the write that
// preserves its accepted operations.
const persistTimeout = 10 * time.Second

// retryBackoff is the wait before the single retry of a transient provider
// failure.
const retryBackoff = time.Second

// Orchestrator coordinates one turn at a time per session. It is safe for
// concurrent use across sessions; all per-turn state lives on the turn.
type Orchestrator struct {
	cfg      *config.Config
	client   llm.Client
	store    store.Store
	hub      *events.Hub
	recorder telemetry.Recorder
	prompts  *prompt.Builder
	logger   *slog.Logger
}

// New wires an orchestrator. The prompt builder is derived from the
// configured prompt version.
func New(cfg *config.Config, client llm.Client, st store.Store, hub *events.Hub, recorder telemetry.Recorder, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		client:   client,
		store:    st,
		hub:      hub,
		recorder: recorder,
		prompts:  prompt.NewBuilder(cfg.PromptVersion),
		logger:   logger,
	}
}

// TurnRequest is one user message ready to run.
type TurnRequest struct {
	AideID    string
	UserID    string
	MessageID string
	Message   string
}

// RunTurn executes one turn end to end and returns after the terminal event
// has been emitted. Cancelling ctx is the client interrupt: accepted
// operations are preserved, the turn finalizes with stream.interrupted.
// The returned error reports the terminal condition for logging; every
// client-visible outcome has already been emitted when RunTurn returns.
func (o *Orchestrator) RunTurn(ctx context.Context, req TurnRequest) error {
	t := &turn{
		o:        o,
		req:      req,
		turnID:   "turn-" + uuid.NewString(),
		rejected: make(map[string]int),
	}
	t.logger = o.logger.With("aide_id", req.AideID, "turn_id", t.turnID)

	snap, tailEntries, err := o.store.LoadTurnContext(ctx, req.AideID)
	if err != nil {
		t.logger.Error("Failed to load turn context", "error", err)
		return t.finalize(turnerr.Wrap(turnerr.StoreUnavailable, err))
	}
	t.snapshot = snap
	t.original = snap
	t.tail = tailMessages(tailEntries)

	t.decision = tier.Classify(req.Message, snap)
	t.logger.Info("Turn classified",
		"tier", t.decision.Tier,
		"rule", t.decision.Rule,
		"confidence", t.decision.Confidence)

	t.emit(events.StreamStart{Type: events.TypeStreamStart, TurnID: t.turnID, Tier: string(t.decision.Tier)})

	return t.finalize(t.run(ctx))
}

// DirectEdit applies one UI-originated operation against the current
// snapshot: no classifier, no prompt, no model call. On acceptance the delta
// is broadcast and a one-op turn is persisted.
func (o *Orchestrator) DirectEdit(ctx context.Context, aideID, userID string, op wire.Op) error {
	start := time.Now()
	rec := telemetry.DirectEditRecord{
		AideID:    aideID,
		UserID:    userID,
		Timestamp: start.UTC(),
	}

	snap, _, err := o.store.LoadTurnContext(ctx, aideID)
	if err != nil {
		o.recorder.RecordDirectEdit(ctx, rec)
		return turnerr.Wrap(turnerr.StoreUnavailable, err)
	}

	next, outcome := reducer.Apply(snap, op)
	rec.EditLatencyMillis = time.Since(start).Milliseconds()
	if !outcome.Accepted {
		rec.RejectReason = string(outcome.Reason)
		o.recorder.RecordDirectEdit(ctx, rec)
		return fmt.Errorf("direct edit rejected: %s", outcome.Reason)
	}

	o.hub.Broadcast(aideID, events.NewDelta("", op))
	if err := o.store.AppendDirectEdit(ctx, aideID, op, next); err != nil {
		o.recorder.RecordDirectEdit(ctx, rec)
		return turnerr.Wrap(turnerr.StoreUnavailable, err)
	}

	rec.Accepted = true
	rec.EditLatencyMillis = time.Since(start).Milliseconds()
	o.recorder.RecordDirectEdit(ctx, rec)
	return nil
}

func tailMessages(entries []store.TailEntry) []llm.Message {
	out := make([]llm.Message, 0, len(entries))
	for _, e := range entries {
		role := llm.RoleUser
		if e.Role == store.RoleAssistant {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Message{Role: role, Content: e.Text})
	}
	return out
}
