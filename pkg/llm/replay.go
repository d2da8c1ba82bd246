package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

// ReplayProfile names a pacing profile for replayed streams.
type ReplayProfile string

const (
	ProfileInstant    ReplayProfile = "instant"
	ProfileFast       ReplayProfile = "fast"
	ProfileStructural ReplayProfile = "structural"
	ProfileSlow       ReplayProfile = "slow"
)

// ParseProfile returns the profile named by s, if any.
func ParseProfile(s string) (ReplayProfile, bool) {
	switch ReplayProfile(s) {
	case ProfileInstant, ProfileFast, ProfileStructural, ProfileSlow:
		return ReplayProfile(s), true
	}
	return "", false
}

// delays returns the pre-first-chunk and per-line delay for the profile.
func (p ReplayProfile) delays() (preFirst, perLine time.Duration) {
	switch p {
	case ProfileFast:
		return 200 * time.Millisecond, 50 * time.Millisecond
	case ProfileStructural:
		return 800 * time.Millisecond, 100 * time.Millisecond
	case ProfileSlow:
		return 2 * time.Second, 250 * time.Millisecond
	default:
		return 0, 0
	}
}

// ReplayEntry is one scripted pass: the golden transcript lines plus
// optional test controls.
type ReplayEntry struct {
	// Lines are emitted as one text chunk per line, newline included.
	Lines []string

	// Usage pins the synthesized usage report when set.
	Usage *Usage

	// Err is emitted as the only event when set.
	Err *ProviderError

	// BlockUntilCancelled holds the stream open after Lines have played,
	// until ctx is cancelled. No Usage or End is emitted.
	BlockUntilCancelled bool

	// WaitCh blocks emission until closed, then the lines play normally.
	WaitCh <-chan struct{}

	// OnBlock is notified when the stream enters a blocking path.
	OnBlock chan<- struct{}
}

// ReplayClient implements Client by replaying scripted transcripts with a
// pacing profile. Entries are routed by model id (the discriminator the
// orchestrator varies per tier) with a sequential fallback, so multi-pass
// turns can script each tier independently even though call order within a
// tier is fixed.
type ReplayClient struct {
	mu           sync.Mutex
	profile      ReplayProfile
	routes       map[string][]ReplayEntry
	routeIndex   map[string]int
	sequential   []ReplayEntry
	seqIndex     int
	captured     []Request
	cachedModels map[string]bool
}

// NewReplayClient creates a replay client with the given pacing profile.
func NewReplayClient(profile ReplayProfile) *ReplayClient {
	if profile == "" {
		profile = ProfileInstant
	}
	return &ReplayClient{
		profile:      profile,
		routes:       make(map[string][]ReplayEntry),
		routeIndex:   make(map[string]int),
		cachedModels: make(map[string]bool),
	}
}

// AddSequential appends an entry consumed in order by calls that have no
// route for their model id.
func (c *ReplayClient) AddSequential(entry ReplayEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddRouted appends an entry for a specific model id.
func (c *ReplayClient) AddRouted(model string, entry ReplayEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[model] = append(c.routes[model], entry)
}

// SetProfile switches the pacing profile for subsequent streams. Wired to
// the test-only set_profile session message.
func (c *ReplayClient) SetProfile(p ReplayProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.profile = p
}

// Profile returns the current pacing profile.
func (c *ReplayClient) Profile() ReplayProfile {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile
}

// CallCount returns how many streams have been opened.
func (c *ReplayClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.captured)
}

// Requests returns a copy of every captured request, in call order.
func (c *ReplayClient) Requests() []Request {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Request, len(c.captured))
	copy(out, c.captured)
	return out
}

// Stream implements Client.
func (c *ReplayClient) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	c.mu.Lock()
	c.captured = append(c.captured, req)
	entry, err := c.nextEntry(req.Model)
	profile := c.profile
	firstCall := !c.cachedModels[req.Model]
	c.cachedModels[req.Model] = true
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}

	events := make(chan Event, 8)
	go c.play(ctx, events, entry, req, profile, firstCall)
	return events, nil
}

// Close implements Client.
func (c *ReplayClient) Close() error { return nil }

func (c *ReplayClient) nextEntry(model string) (ReplayEntry, error) {
	if entries, ok := c.routes[model]; ok {
		idx := c.routeIndex[model]
		if idx < len(entries) {
			c.routeIndex[model] = idx + 1
			return entries[idx], nil
		}
	}
	if c.seqIndex < len(c.sequential) {
		entry := c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}
	return ReplayEntry{}, fmt.Errorf("replay: no script entry for model %q (call %d)", model, len(c.captured))
}

func (c *ReplayClient) play(ctx context.Context, events chan<- Event, entry ReplayEntry, req Request, profile ReplayProfile, firstCall bool) {
	defer close(events)

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			return
		}
	}
	if entry.Err != nil {
		send(ctx, events, entry.Err)
		return
	}

	preFirst, perLine := profile.delays()
	if !pause(ctx, preFirst) {
		return
	}
	for i, line := range entry.Lines {
		if i > 0 && !pause(ctx, perLine) {
			return
		}
		if !send(ctx, events, &TextChunk{Text: line + "\n"}) {
			return
		}
	}

	if entry.BlockUntilCancelled {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		<-ctx.Done()
		return
	}

	usage := synthUsage(req, entry.Lines, firstCall)
	if entry.Usage != nil {
		usage = *entry.Usage
	}
	if !send(ctx, events, &usage) {
		return
	}
	send(ctx, events, &End{StopReason: "end_turn"})
}

func pause(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// synthUsage derives a deterministic usage report from request and
// transcript sizes. The first call per model "writes" the cacheable prefix;
// later calls "read" it, which gives cost accounting something real to chew
// on in replay mode.
func synthUsage(req Request, lines []string, firstCall bool) Usage {
	var prefix, dynamic, out int
	for _, b := range req.System {
		if b.Cache {
			prefix += len(b.Text)
		} else {
			dynamic += len(b.Text)
		}
	}
	for _, t := range req.Tools {
		prefix += len(t.Name) + len(t.Description)
	}
	for _, m := range req.Messages {
		dynamic += len(m.Content)
	}
	for _, l := range lines {
		out += len(l) + 1
	}
	u := Usage{
		Input:  int64(dynamic/4 + 1),
		Output: int64(out/4 + 1),
	}
	if firstCall {
		u.CacheWrite = int64(prefix / 4)
	} else {
		u.CacheRead = int64(prefix / 4)
	}
	return u
}

// LoadScript reads a golden JSONL transcript into replayable lines. A
// trailing newline does not produce an empty final line.
func LoadScript(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read script %s: %w", path, err)
	}
	text := strings.TrimSuffix(string(data), "\n")
	if text == "" {
		return nil, nil
	}
	return strings.Split(text, "\n"), nil
}
