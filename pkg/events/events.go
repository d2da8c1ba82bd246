// Package events defines the outbound wire envelopes and the per-aide
// fan-out hub. Every event a client sees is one of the payload structs here,
// discriminated by its "type" field.
//
// Event flow for one turn:
//
//	stream.start {turn_id, tier}
//	delta.* / delta.batch / voice / clarify     (in acceptance order)
//	meta.escalation / meta.tier_retrace         (on tier transitions)
//	stream.end | stream.error | stream.interrupted   (exactly one)
//
// Deltas always precede the terminal event on a given connection: the hub
// preserves enqueue order per subscriber.
package events

import (
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/wire"
)

// Outbound event types.
const (
	TypeStreamStart       = "stream.start"
	TypeDeltaEntity       = "delta.entity"
	TypeDeltaRel          = "delta.rel"
	TypeDeltaMeta         = "delta.meta"
	TypeDeltaStyle        = "delta.style"
	TypeDeltaBatch        = "delta.batch"
	TypeVoice             = "voice"
	TypeClarify           = "clarify"
	TypeEscalation        = "meta.escalation"
	TypeTierRetrace       = "meta.tier_retrace"
	TypeStreamEnd         = "stream.end"
	TypeStreamError       = "stream.error"
	TypeStreamInterrupted = "stream.interrupted"
)

// StreamStart opens a turn on the wire. Tier is the initial classification;
// escalations are reported separately as the turn unfolds.
type StreamStart struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Tier   string `json:"tier"`
}

// Delta carries one accepted operation in expanded form. Its type field is
// one of delta.entity, delta.rel, delta.meta, delta.style depending on the
// operation family. TurnID is empty for direct edits.
type Delta struct {
	Type   string  `json:"type"`
	TurnID string  `json:"turn_id,omitempty"`
	Op     wire.Op `json:"op"`
}

// DeltaBatch replaces the individual deltas buffered between batch.start and
// batch.end. Order inside Deltas is acceptance order.
type DeltaBatch struct {
	Type   string  `json:"type"`
	TurnID string  `json:"turn_id"`
	Deltas []Delta `json:"deltas"`
}

// Voice is conversational text for the chat channel.
type Voice struct {
	Type   string `json:"type"`
	TurnID string `json:"turn_id"`
	Text   string `json:"text"`
}

// Clarify asks the user to disambiguate before mutating.
type Clarify struct {
	Type    string   `json:"type"`
	TurnID  string   `json:"turn_id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
}

// Escalation announces the next pass immediately before it starts.
type Escalation struct {
	Type     string `json:"type"`
	TurnID   string `json:"turn_id"`
	FromTier string `json:"from_tier"`
	ToTier   string `json:"to_tier"`
	Reason   string `json:"reason"`
}

// TierRetrace publishes the updated tier trace on each tier transition.
type TierRetrace struct {
	Type      string   `json:"type"`
	TurnID    string   `json:"turn_id"`
	TierTrace []string `json:"tier_trace"`
}

// StreamEnd closes a successful turn.
type StreamEnd struct {
	Type       string    `json:"type"`
	TurnID     string    `json:"turn_id"`
	TierTrace  []string  `json:"tier_trace"`
	Usage      llm.Usage `json:"usage"`
	TTFCMillis int64     `json:"ttfc_ms"`
	TTCMillis  int64     `json:"ttc_ms"`
	CostUSD    float64   `json:"cost_usd"`
}

// StreamError closes a failed turn. Kind is the taxonomy tag; Message is the
// user-safe string, never the cause.
type StreamError struct {
	Type    string `json:"type"`
	TurnID  string `json:"turn_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// StreamInterrupted closes a client-cancelled turn. Operations accepted
// before the interrupt stay applied.
type StreamInterrupted struct {
	Type              string `json:"type"`
	TurnID            string `json:"turn_id"`
	OperationsApplied int    `json:"operations_applied"`
}

// NewDelta wraps an accepted operation in its wire envelope.
func NewDelta(turnID string, op wire.Op) Delta {
	return Delta{Type: deltaType(op.Type), TurnID: turnID, Op: op}
}

func deltaType(t wire.OpType) string {
	switch t {
	case wire.OpRelSet, wire.OpRelRemove:
		return TypeDeltaRel
	case wire.OpMetaSet, wire.OpMetaAnnotate:
		return TypeDeltaMeta
	case wire.OpStyleSet, wire.OpStyleEntity:
		return TypeDeltaStyle
	default:
		return TypeDeltaEntity
	}
}
