// Package tier implements the rule-based pre-dispatch classifier that picks
// a model tier for each turn. Classification is a pure function of the
// message and the snapshot; it runs before any model call and its verdict is
// advisory, since the fast tier can still self-escalate mid-stream.
package tier

// Tier names one of the three model sizes.
type Tier string

const (
	// Fast is the compiler tier: cheap, low-latency prop mutations.
	Fast Tier = "fast"
	// Structural is the architect tier: page scaffolding and reorganization.
	Structural Tier = "structural"
	// Analyst is the heavy tier: questions and analysis, voice-only.
	Analyst Tier = "analyst"
)

// Parse returns the tier named by s, if any.
func Parse(s string) (Tier, bool) {
	switch Tier(s) {
	case Fast, Structural, Analyst:
		return Tier(s), true
	}
	return "", false
}

// Decision is the classifier verdict. Confidence never blocks dispatch; it is
// recorded in telemetry so routing quality can be audited offline.
type Decision struct {
	Tier       Tier    `json:"tier"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"rule"`
}
