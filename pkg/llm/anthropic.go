package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/aidekit/scribe/pkg/turnerr"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter. It is satisfied by *sdk.MessageService so tests can swap in a
// scripted implementation.
type MessagesClient interface {
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client on top of the Anthropic Messages API.
// System blocks and tool definitions marked cacheable are forwarded with
// one-hour ephemeral cache_control markers.
type AnthropicClient struct {
	msg    MessagesClient
	logger *slog.Logger
}

// NewAnthropicClient builds a production client from an API key.
func NewAnthropicClient(apiKey string, logger *slog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return NewAnthropicFromMessages(&ac.Messages, logger), nil
}

// NewAnthropicFromMessages wraps an existing Messages client (tests).
func NewAnthropicFromMessages(msg MessagesClient, logger *slog.Logger) *AnthropicClient {
	return &AnthropicClient{msg: msg, logger: logger}
}

// Stream opens a streaming Messages call and pumps provider events into a
// channel. The channel closes on completion; ctx cancellation aborts the
// underlying HTTP stream.
func (c *AnthropicClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	params, err := encodeRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	events := make(chan Event, 32)
	go c.pump(ctx, stream, events)
	return events, nil
}

// Close implements Client. The underlying HTTP client holds no resources
// that outlive in-flight streams.
func (c *AnthropicClient) Close() error { return nil }

func (c *AnthropicClient) pump(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], events chan<- Event) {
	defer close(events)
	defer func() { _ = stream.Close() }()

	var acc sdk.Message
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			c.logger.Warn("Failed to accumulate stream event", "error", err)
		}
		if ev, ok := event.AsAny().(sdk.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && delta.Text != "" {
				if !send(ctx, events, &TextChunk{Text: delta.Text}) {
					return
				}
			}
		}
	}

	if err := stream.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		perr := classifyProviderError(err)
		c.logger.Error("Provider stream failed", "kind", perr.Kind, "error", err)
		send(ctx, events, perr)
		return
	}
	if ctx.Err() != nil {
		return
	}

	usage := Usage{
		Input:      acc.Usage.InputTokens,
		Output:     acc.Usage.OutputTokens,
		CacheRead:  acc.Usage.CacheReadInputTokens,
		CacheWrite: acc.Usage.CacheCreationInputTokens,
	}
	if !send(ctx, events, &usage) {
		return
	}
	send(ctx, events, &End{StopReason: string(acc.StopReason)})
}

func send(ctx context.Context, events chan<- Event, ev Event) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// classifyProviderError maps transport and API failures onto the closed
// error taxonomy. Anything without an HTTP status is treated as unreachable.
func classifyProviderError(err error) *ProviderError {
	kind := turnerr.ProviderUnreachable
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch {
		case apierr.StatusCode == 429:
			kind = turnerr.ProviderRateLimited
		case apierr.StatusCode >= 500:
			kind = turnerr.ProviderUnreachable
		case apierr.StatusCode >= 400:
			kind = turnerr.ProviderInvalidRequest
		default:
			kind = turnerr.ProviderOther
		}
	}
	return &ProviderError{
		Kind:      kind,
		Message:   err.Error(),
		Retryable: kind.Retryable(),
	}
}

func encodeRequest(req Request) (*sdk.MessageNewParams, error) {
	if req.Model == "" {
		return nil, errors.New("llm: model id is required")
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("llm: messages are required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	params := &sdk.MessageNewParams{
		Model:       sdk.Model(req.Model),
		MaxTokens:   int64(maxTokens),
		Temperature: sdk.Float(req.Temperature),
	}
	for _, b := range req.System {
		tb := sdk.TextBlockParam{Text: b.Text}
		if b.Cache {
			tb.CacheControl = cacheMarker()
		}
		params.System = append(params.System, tb)
	}
	for _, m := range req.Messages {
		block := sdk.NewTextBlock(m.Content)
		switch m.Role {
		case RoleAssistant:
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(block))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(block))
		}
	}
	for _, t := range req.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: t.InputSchema}, t.Name)
		if u.OfTool == nil {
			return nil, fmt.Errorf("llm: tool %q did not encode", t.Name)
		}
		if t.Description != "" {
			u.OfTool.Description = sdk.String(t.Description)
		}
		if t.Cache {
			u.OfTool.CacheControl = cacheMarker()
		}
		params.Tools = append(params.Tools, u)
	}
	return params, nil
}

// cacheMarker is the one-hour ephemeral cache_control block attached to
// cacheable prompt segments. The Type field marshals to "ephemeral" when
// elided.
func cacheMarker() sdk.CacheControlEphemeralParam {
	return sdk.CacheControlEphemeralParam{TTL: "1h"}
}
