package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/aidekit/scribe/pkg/events"
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/prompt"
	"github.com/aidekit/scribe/pkg/reducer"
	"github.com/aidekit/scribe/pkg/store"
	"github.com/aidekit/scribe/pkg/telemetry"
	"github.com/aidekit/scribe/pkg/tier"
	"github.com/aidekit/scribe/pkg/turnerr"
	"github.com/aidekit/scribe/pkg/wire"
)

type escalateTarget struct {
	tier    tier.Tier
	reason  string
	extract string
}

// turn is the complete state of one in-flight turn. It lives on a single
// goroutine; only the hub behind emit is shared.
type turn struct {
	o      *Orchestrator
	req    TurnRequest
	turnID string
	logger *slog.Logger

	decision tier.Decision
	message  string
	snapshot *page.Snapshot
	original *page.Snapshot
	tail     []llm.Message

	tierTrace        []string
	operations       []wire.Op
	rejected         map[string]int
	passes           []telemetry.PassUsage
	usageSum         llm.Usage
	voice            []string
	escalationReason string
	awaitingClarify  bool
	retried          bool

	// per-pass scratch, reset by runPass
	passOps   []wire.Op
	passVoice []string
	abortPass bool

	escalate *escalateTarget

	batchOpen   bool
	batchDeltas []events.Delta
	batchTimer  *time.Timer
	batchC      <-chan time.Time

	started      time.Time
	firstOpAt    time.Time
	firstVoiceAt time.Time
	completed    time.Time
}

// run executes the tier flow chosen by the classifier and returns the
// terminal error, nil on clean completion.
func (t *turn) run(ctx context.Context) *turnerr.Error {
	t.message = t.req.Message
	switch t.decision.Tier {
	case tier.Structural, tier.Analyst:
		return t.runPass(ctx, t.decision.Tier, false)
	default:
		return t.runFastFlow(ctx)
	}
}

// runFastFlow is the fast pass plus whatever escalation it earns: a
// structural redo (discard, replan, recompile) or an analyst tail pass for
// multi-intent messages.
func (t *turn) runFastFlow(ctx context.Context) *turnerr.Error {
	if terr := t.runPass(ctx, tier.Fast, true); terr != nil {
		return terr
	}
	t.detectEscalation()
	if t.escalate == nil {
		return nil
	}
	target := *t.escalate
	t.escalate = nil
	t.escalationReason = target.reason

	if target.tier == tier.Analyst {
		// Multi-intent turn: the mutations stand, the question runs
		// against the post-mutation snapshot.
		if target.extract != "" {
			t.message = target.extract
		}
		t.emitEscalation(tier.Fast, tier.Analyst, target.reason)
		return t.runPass(ctx, tier.Analyst, false)
	}

	// Structural redo: the fast ops are void, the architect replans from
	// the turn-start snapshot, then fast recompiles the user's intent
	// against the new structure.
	t.rollback()
	t.emitEscalation(tier.Fast, tier.Structural, target.reason)
	if terr := t.runPass(ctx, tier.Structural, false); terr != nil {
		return terr
	}
	return t.runPass(ctx, tier.Fast, false)
}

// runPass executes one model pass on the current snapshot. canEscalate is
// true only for the initial fast pass; it gates both explicit escalate
// signals and the parse-failure escape hatch.
func (t *turn) runPass(ctx context.Context, tr tier.Tier, canEscalate bool) *turnerr.Error {
	t.tierTrace = append(t.tierTrace, string(tr))
	if len(t.tierTrace) > 1 {
		t.emit(events.TierRetrace{
			Type:      events.TypeTierRetrace,
			TurnID:    t.turnID,
			TierTrace: append([]string(nil), t.tierTrace...),
		})
	}
	t.passes = append(t.passes, telemetry.PassUsage{Tier: string(tr)})
	t.passOps = nil
	t.passVoice = nil
	t.abortPass = false

	passCtx, cancel := context.WithTimeout(ctx, t.o.cfg.TimeoutFor(tr))
	defer cancel()

	// A pass never leaves a batch open behind it.
	defer t.flushBatch()

	return t.streamPass(passCtx, ctx, tr, canEscalate)
}

// streamPass opens the provider stream and consumes it, retrying once after
// a short backoff when the failure is transient.
func (t *turn) streamPass(ctx, parent context.Context, tr tier.Tier, canEscalate bool) *turnerr.Error {
	for {
		req, err := t.buildRequest(tr)
		if err != nil {
			return turnerr.Wrap(turnerr.InternalBug, err)
		}
		if t.started.IsZero() {
			t.started = time.Now()
		}
		stream, err := t.o.client.Stream(ctx, req)
		if err != nil {
			return turnerr.Wrap(turnerr.ProviderOther, err)
		}

		terr := t.drain(ctx, parent, tr, stream, canEscalate)
		if terr != nil && terr.Kind.Retryable() && !t.retried {
			t.retried = true
			t.logger.Warn("Retrying provider call after transient failure", "kind", terr.Kind, "tier", tr)
			if !sleepCtx(ctx, retryBackoff) {
				return t.passError(ctx, parent)
			}
			continue
		}
		return terr
	}
}

// drain consumes one provider stream: text chunks feed the splitter, usage
// accumulates, End finishes the pass. The batch safety timer fires here so
// a stalled stream cannot hold deltas hostage.
func (t *turn) drain(ctx, parent context.Context, tr tier.Tier, stream <-chan llm.Event, canEscalate bool) *turnerr.Error {
	splitter := wire.NewSplitter(t.o.cfg.ParseFailureStreakLimit)
	for {
		select {
		case ev, ok := <-stream:
			if !ok {
				return t.passError(ctx, parent)
			}
			switch e := ev.(type) {
			case *llm.TextChunk:
				if terr := t.handleItems(tr, splitter.Feed(e.Text), canEscalate); terr != nil {
					return terr
				}
				if t.abortPass {
					return nil
				}
			case *llm.Usage:
				t.usageSum.Add(*e)
				t.passes[len(t.passes)-1].Usage.Add(*e)
			case *llm.End:
				return t.handleItems(tr, splitter.Flush(), canEscalate)
			case *llm.ProviderError:
				t.logger.Warn("Provider stream failed", "kind", e.Kind, "message", e.Message)
				return turnerr.New(e.Kind)
			}
		case <-t.batchC:
			t.logger.Warn("Batch safety timer fired, flushing")
			t.flushBatch()
		case <-ctx.Done():
			return t.passError(ctx, parent)
		}
	}
}

func (t *turn) handleItems(tr tier.Tier, items []wire.Item, canEscalate bool) *turnerr.Error {
	for _, item := range items {
		switch it := item.(type) {
		case wire.OpItem:
			t.handleOp(tr, it.Op)
		case wire.SignalItem:
			t.handleSignal(tr, it.Signal, canEscalate)
		case wire.ParseFailureItem:
			if canEscalate {
				t.logger.Warn("Malformed line streak, escalating", "streak", it.Streak)
				t.setEscalate(tier.Structural, "parse_failure_streak", "")
				t.abortPass = true
				return nil
			}
			return turnerr.New(turnerr.StreamParseFailureStreak)
		}
		if t.abortPass {
			return nil
		}
	}
	return nil
}

func (t *turn) handleOp(tr tier.Tier, op wire.Op) {
	if tr == tier.Analyst {
		// Queries must not mutate.
		t.logger.Warn("Analyst pass emitted an operation, discarding", "op_type", op.Type)
		return
	}
	next, outcome := reducer.Apply(t.snapshot, op)
	if !outcome.Accepted {
		t.rejected[string(outcome.Reason)]++
		t.logger.Debug("Operation rejected", "op_type", op.Type, "reason", outcome.Reason)
		return
	}
	t.snapshot = next
	t.operations = append(t.operations, op)
	t.passOps = append(t.passOps, op)
	if t.firstOpAt.IsZero() {
		t.firstOpAt = time.Now()
	}

	delta := events.NewDelta(t.turnID, op)
	if t.batchOpen {
		t.batchDeltas = append(t.batchDeltas, delta)
		return
	}
	t.emit(delta)
}

func (t *turn) handleSignal(tr tier.Tier, sig wire.Signal, canEscalate bool) {
	switch sig.Type {
	case wire.SignalVoice:
		t.voice = append(t.voice, sig.Text)
		t.passVoice = append(t.passVoice, sig.Text)
		if t.firstVoiceAt.IsZero() {
			t.firstVoiceAt = time.Now()
		}
		t.emit(events.Voice{Type: events.TypeVoice, TurnID: t.turnID, Text: sig.Text})

	case wire.SignalClarify:
		t.awaitingClarify = true
		t.voice = append(t.voice, sig.Text)
		t.emit(events.Clarify{Type: events.TypeClarify, TurnID: t.turnID, Text: sig.Text, Options: sig.Options})

	case wire.SignalEscalate:
		if !canEscalate {
			t.logger.Warn("Ignoring escalate signal", "tier", tr, "target", sig.Tier)
			return
		}
		if t.escalate != nil {
			return // first explicit target wins
		}
		target, ok := tier.Parse(sig.Tier)
		if !ok || target == tier.Fast {
			target = tier.Structural
		}
		reason := sig.Reason
		if reason == "" {
			reason = "escalate_signal"
		}
		t.setEscalate(target, reason, sig.Extract)

	case wire.SignalBatchStart:
		t.openBatch()

	case wire.SignalBatchEnd:
		t.closeBatch()
	}
}

// detectEscalation inspects a completed initial fast pass for signs the
// model scaffolded structure without asking: a structural display created at
// the top of the tree, or voice text flagging the need.
func (t *turn) detectEscalation() {
	if t.escalate != nil {
		return // explicit signal wins
	}
	for _, op := range t.passOps {
		if op.Type == wire.OpEntityCreate && op.Display.Structural() && t.snapshot.Depth(op.ID) <= 1 {
			t.setEscalate(tier.Structural, "structural_signal", "")
			return
		}
	}
	for _, v := range t.passVoice {
		lower := strings.ToLower(v)
		if strings.Contains(lower, "needs a new section") ||
			strings.Contains(lower, "needs structural") ||
			strings.Contains(lower, "escalat") {
			t.setEscalate(tier.Structural, "structural_signal", "")
			return
		}
	}
}

func (t *turn) setEscalate(target tier.Tier, reason, extract string) {
	t.escalate = &escalateTarget{tier: target, reason: reason, extract: extract}
}

// rollback voids the fast pass before a structural redo: a pointer swap back
// to the turn-start snapshot. Voice already sent stays sent; the escalation
// event tells clients to drop this turn's earlier deltas.
func (t *turn) rollback() {
	t.snapshot = t.original
	t.operations = nil
	t.passOps = nil
	t.firstOpAt = time.Time{}
}

func (t *turn) emitEscalation(from, to tier.Tier, reason string) {
	t.emit(events.Escalation{
		Type:     events.TypeEscalation,
		TurnID:   t.turnID,
		FromTier: string(from),
		ToTier:   string(to),
		Reason:   reason,
	})
}

func (t *turn) openBatch() {
	if t.batchOpen {
		t.logger.Warn("batch.start while a batch is open, ignoring")
		return
	}
	t.batchOpen = true
	t.batchDeltas = nil
	t.batchTimer = time.NewTimer(t.o.cfg.BatchFlushTimeout())
	t.batchC = t.batchTimer.C
}

func (t *turn) closeBatch() {
	if !t.batchOpen {
		t.logger.Warn("batch.end without an open batch, ignoring")
		return
	}
	t.flushBatch()
}

// flushBatch emits buffered deltas as one delta.batch and closes the batch.
// Safe to call when no batch is open; called on batch.end, on the safety
// timer, at pass end, and on every terminal condition.
func (t *turn) flushBatch() {
	if t.batchTimer != nil {
		t.batchTimer.Stop()
		t.batchTimer = nil
	}
	t.batchC = nil
	if !t.batchOpen {
		return
	}
	t.batchOpen = false
	if len(t.batchDeltas) == 0 {
		return
	}
	t.emit(events.DeltaBatch{Type: events.TypeDeltaBatch, TurnID: t.turnID, Deltas: t.batchDeltas})
	t.batchDeltas = nil
}

// finalize settles the turn: flush, persist, exactly one terminal event,
// exactly one telemetry record. terr carries the terminal condition, nil for
// clean completion.
func (t *turn) finalize(terr *turnerr.Error) error {
	t.flushBatch()
	t.completed = time.Now()

	if t.snapshot != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(context.Background()), persistTimeout)
		rec := store.Turn{
			TurnID:                t.turnID,
			UserMessage:           t.req.Message,
			AssistantSummary:      prompt.SummarizeAssistantTurn(len(t.operations), strings.Join(t.voice, " ")),
			Ops:                   t.operations,
			TierTrace:             t.tierTrace,
			AwaitingClarification: t.awaitingClarify,
		}
		if err := t.o.store.AppendTurn(pctx, t.req.AideID, rec, t.snapshot); err != nil {
			t.logger.Error("Failed to persist turn", "error", err)
			if terr == nil || terr.Kind == turnerr.StreamCancelled {
				terr = turnerr.Wrap(turnerr.StoreUnavailable, err)
			}
		}
		cancel()
	}

	switch {
	case terr == nil:
		t.emit(events.StreamEnd{
			Type:       events.TypeStreamEnd,
			TurnID:     t.turnID,
			TierTrace:  t.tierTrace,
			Usage:      t.usageSum,
			TTFCMillis: t.ttfc(),
			TTCMillis:  t.ttc(),
			CostUSD:    t.cost(),
		})
	case terr.Kind == turnerr.StreamCancelled:
		t.emit(events.StreamInterrupted{
			Type:              events.TypeStreamInterrupted,
			TurnID:            t.turnID,
			OperationsApplied: len(t.operations),
		})
	default:
		t.emit(events.StreamError{
			Type:    events.TypeStreamError,
			TurnID:  t.turnID,
			Kind:    string(terr.Kind),
			Message: terr.Message,
		})
	}

	rec := telemetry.TurnRecord{
		TurnID:           t.turnID,
		AideID:           t.req.AideID,
		UserID:           t.req.UserID,
		Timestamp:        t.completed.UTC(),
		TierTrace:        t.tierTrace,
		Classified:       string(t.decision.Tier),
		Confidence:       t.decision.Confidence,
		Rule:             t.decision.Rule,
		EscalationReason: t.escalationReason,
		Passes:           t.passes,
		UsageSum:         t.usageSum,
		TTFCMillis:       t.ttfc(),
		TTCMillis:        t.ttc(),
		Accepted:         len(t.operations),
		Rejected:         rejectedOrNil(t.rejected),
		CostUSD:          t.cost(),
	}
	if terr != nil {
		rec.ErrorKind = string(terr.Kind)
	}
	t.o.recorder.RecordTurn(context.Background(), rec)

	if terr == nil {
		t.logger.Info("Turn completed",
			"ops", len(t.operations),
			"tier_trace", t.tierTrace,
			"ttc_ms", rec.TTCMillis)
		return nil
	}
	t.logger.Info("Turn terminated",
		"kind", terr.Kind,
		"ops", len(t.operations),
		"tier_trace", t.tierTrace)
	return terr
}

func (t *turn) buildRequest(tr tier.Tier) (llm.Request, error) {
	system, err := t.o.prompts.System(tr, t.snapshot)
	if err != nil {
		return llm.Request{}, err
	}
	return llm.Request{
		Model:     t.o.cfg.ModelFor(tr),
		System:    system,
		Messages:  t.o.prompts.Messages(t.tail, t.message),
		Tools:     t.o.prompts.Tools(tr),
		MaxTokens: t.o.cfg.MaxTokens,
	}, nil
}

// passError names the reason a stream stopped without End: the client
// interrupt, the tier deadline, or a provider bug.
func (t *turn) passError(ctx, parent context.Context) *turnerr.Error {
	switch {
	case parent.Err() != nil:
		return turnerr.New(turnerr.StreamCancelled)
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return turnerr.New(turnerr.StreamTimeout)
	case ctx.Err() != nil:
		return turnerr.New(turnerr.StreamCancelled)
	default:
		return turnerr.Wrap(turnerr.InternalBug, errors.New("stream closed without end event"))
	}
}

func (t *turn) emit(event any) {
	t.o.hub.Broadcast(t.req.AideID, event)
}

func (t *turn) ttfc() int64 {
	first := t.firstOpAt
	if first.IsZero() || (!t.firstVoiceAt.IsZero() && t.firstVoiceAt.Before(first)) {
		first = t.firstVoiceAt
	}
	if first.IsZero() || t.started.IsZero() {
		return 0
	}
	return first.Sub(t.started).Milliseconds()
}

func (t *turn) ttc() int64 {
	if t.started.IsZero() {
		return 0
	}
	return t.completed.Sub(t.started).Milliseconds()
}

func (t *turn) cost() float64 {
	total := 0.0
	for _, p := range t.passes {
		tr, ok := tier.Parse(p.Tier)
		if !ok {
			continue
		}
		total += telemetry.CostUSD(p.Usage, t.o.cfg.PriceFor(tr))
	}
	return total
}

func rejectedOrNil(m map[string]int) map[string]int {
	if len(m) == 0 {
		return nil
	}
	return m
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
