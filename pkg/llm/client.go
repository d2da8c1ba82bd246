// Package llm abstracts the model provider behind a channel-based streaming
// client. The orchestrator consumes a stream of events per pass; the
// production adapter speaks the Anthropic Messages API, and the replay
// adapter feeds golden transcripts for tests and local development.
package llm

import (
	"context"

	"github.com/aidekit/scribe/pkg/turnerr"
)

// Client is the provider contract. The returned channel is closed when the
// stream completes; provider failures are delivered as ProviderError events
// in the channel. Cancelling ctx aborts the underlying call.
type Client interface {
	Stream(ctx context.Context, req Request) (<-chan Event, error)

	// Close releases provider resources.
	Close() error
}

// DefaultMaxTokens caps completions when a request does not set MaxTokens.
const DefaultMaxTokens = 8192

// Request is one streaming call: system blocks and tools carry per-block
// cache markers, messages are the bounded conversation tail plus the current
// utterance. Temperature zero is meaningful and is sent explicitly.
type Request struct {
	Model       string
	System      []SystemBlock
	Messages    []Message
	Tools       []ToolDef
	MaxTokens   int
	Temperature float64
}

// SystemBlock is one system-prompt content block. Cache marks the block
// reusable by the provider's prefix cache with a long TTL.
type SystemBlock struct {
	Text  string
	Cache bool
}

// Role identifies the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one conversation entry.
type Message struct {
	Role    Role
	Content string
}

// ToolDef describes a tool advertised to the model. The cache marker belongs
// on the last tool of a stable list so the provider caches every earlier byte.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
	Cache       bool
}

// Event is the interface for all streaming event types.
type Event interface {
	eventType() EventType
}

// EventType identifies the kind of streaming event.
type EventType string

const (
	EventTypeText  EventType = "text"
	EventTypeUsage EventType = "usage"
	EventTypeEnd   EventType = "end"
	EventTypeError EventType = "error"
)

// TextChunk is a fragment of the model's raw text output.
type TextChunk struct{ Text string }

// Usage reports token consumption for one pass, including prompt-cache
// activity. Emitted once, before End.
type Usage struct {
	Input      int64 `json:"input"`
	Output     int64 `json:"output"`
	CacheRead  int64 `json:"cache_read"`
	CacheWrite int64 `json:"cache_write"`
}

// Add accumulates o into u.
func (u *Usage) Add(o Usage) {
	u.Input += o.Input
	u.Output += o.Output
	u.CacheRead += o.CacheRead
	u.CacheWrite += o.CacheWrite
}

// End signals normal stream completion.
type End struct{ StopReason string }

// ProviderError signals a provider-side failure. Terminal for the stream.
type ProviderError struct {
	Kind      turnerr.Kind
	Message   string
	Retryable bool
}

func (e *TextChunk) eventType() EventType     { return EventTypeText }
func (u *Usage) eventType() EventType         { return EventTypeUsage }
func (e *End) eventType() EventType           { return EventTypeEnd }
func (e *ProviderError) eventType() EventType { return EventTypeError }
