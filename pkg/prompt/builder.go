package prompt

import (
	"fmt"
	"time"

	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/tier"
)

// Builder composes prompts. It holds no per-turn state; everything varies
// through arguments. The version string is the first line of the shared
// prefix, so bumping it invalidates every cached prefix at once.
type Builder struct {
	version string
	now     func() time.Time
}

// NewBuilder creates a Builder for the given prompt version.
func NewBuilder(version string) *Builder {
	return &Builder{version: version, now: time.Now}
}

// NewBuilderWithClock pins the date context for tests.
func NewBuilderWithClock(version string, now func() time.Time) *Builder {
	return &Builder{version: version, now: now}
}

// System returns the ordered system blocks for a tier over a snapshot:
// shared prefix (cached), tier instructions (cached), snapshot (uncached).
func (b *Builder) System(t tier.Tier, snap *page.Snapshot) ([]llm.SystemBlock, error) {
	canonical, err := snap.MarshalCanonical()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}

	dateLine := fmt.Sprintf(dateLineFormat, b.now().UTC().Format("2006-01-02 (Monday)"))
	blocks := []llm.SystemBlock{
		{Text: fmt.Sprintf(sharedPrefixTemplate, b.version, dateLine), Cache: true},
		{Text: tierInstructions(t), Cache: true},
		{Text: snapshotHeader + string(canonical)},
	}
	return blocks, nil
}

func tierInstructions(t tier.Tier) string {
	switch t {
	case tier.Structural:
		return structuralInstructions
	case tier.Analyst:
		return analystInstructions
	default:
		return fastInstructions
	}
}

// Messages builds the user message array: the bounded conversation tail as
// handed over by the store, then the current utterance.
func (b *Builder) Messages(tail []llm.Message, current string) []llm.Message {
	out := make([]llm.Message, 0, len(tail)+1)
	for _, m := range tail {
		if m.Content == "" {
			continue
		}
		out = append(out, m)
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: current})
}

// SummarizeAssistantTurn renders the compact history entry for a prior
// assistant turn: its voice reply when it mutated nothing, otherwise an
// operation count. History is not memory; the snapshot is.
func SummarizeAssistantTurn(opCount int, voiceText string) string {
	if opCount == 0 && voiceText != "" {
		return voiceText
	}
	return fmt.Sprintf("[%d operations applied]", opCount)
}
