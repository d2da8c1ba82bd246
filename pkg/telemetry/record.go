// Package telemetry captures per-turn and per-edit metrics off the hot
// path. Writes are fire-and-forget through AsyncRecorder; turn completion
// records are never dropped, lighter records may be shed under load.
package telemetry

import (
	"time"

	"github.com/aidekit/scribe/pkg/config"
	"github.com/aidekit/scribe/pkg/llm"
)

// PassUsage is the token consumption of one pass within a turn.
type PassUsage struct {
	Tier  string    `json:"tier"`
	Usage llm.Usage `json:"usage"`
}

// TurnRecord is appended exactly once per terminated turn.
type TurnRecord struct {
	TurnID    string    `json:"turn_id"`
	AideID    string    `json:"aide_id"`
	UserID    string    `json:"user_id"`
	Timestamp time.Time `json:"timestamp"`

	// Routing.
	TierTrace        []string `json:"tier_trace"`
	Classified       string   `json:"classified"`
	Confidence       float64  `json:"confidence"`
	Rule             string   `json:"rule"`
	EscalationReason string   `json:"escalation_reason,omitempty"`

	// Volume and timing.
	Passes     []PassUsage `json:"passes"`
	UsageSum   llm.Usage   `json:"usage_sum"`
	TTFCMillis int64       `json:"ttfc_ms"`
	TTCMillis  int64       `json:"ttc_ms"`

	// Outcome.
	Accepted  int            `json:"accepted"`
	Rejected  map[string]int `json:"rejected,omitempty"`
	CostUSD   float64        `json:"cost_usd"`
	ErrorKind string         `json:"error_kind,omitempty"`
}

// RejectedTotal sums rejection counts across reasons.
func (r *TurnRecord) RejectedTotal() int {
	total := 0
	for _, n := range r.Rejected {
		total += n
	}
	return total
}

// DirectEditRecord is the lighter record for UI edits that bypass the LLM.
type DirectEditRecord struct {
	AideID            string    `json:"aide_id"`
	UserID            string    `json:"user_id"`
	Timestamp         time.Time `json:"timestamp"`
	EditLatencyMillis int64     `json:"edit_latency_ms"`
	Accepted          bool      `json:"accepted"`
	RejectReason      string    `json:"reject_reason,omitempty"`
}

// CostUSD prices one pass's usage against a rate card.
func CostUSD(u llm.Usage, p config.Price) float64 {
	const mtok = 1_000_000
	return float64(u.Input)*p.InPerMTok/mtok +
		float64(u.Output)*p.OutPerMTok/mtok +
		float64(u.CacheRead)*p.CacheReadPerMTok/mtok +
		float64(u.CacheWrite)*p.CacheWritePerMTok/mtok
}
