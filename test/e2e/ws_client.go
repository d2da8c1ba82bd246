package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/require"
)

const (
	waitTimeout  = 10 * time.Second
	pollInterval = 5 * time.Millisecond
)

// WSEvent is one frame received from the server, with its type field decoded
// for filtering. Raw is the exact payload for typed unmarshalling.
type WSEvent struct {
	Type     string
	Raw      []byte
	Parsed   map[string]any
	Received time.Time
}

// WSClient is a test WebSocket client. A background goroutine collects every
// inbound frame; tests poll the collected sequence with the Wait helpers.
type WSClient struct {
	t    *testing.T
	conn *websocket.Conn
	stop context.CancelFunc

	mu     sync.Mutex
	events []WSEvent

	closeOnce sync.Once
}

// NewWSClient dials wsURL and starts collecting frames. The connection is
// closed on test cleanup.
func NewWSClient(t *testing.T, wsURL string) *WSClient {
	t.Helper()

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, wsURL, nil)
	require.NoError(t, err, "dial %s", wsURL)

	readCtx, stop := context.WithCancel(context.Background())
	c := &WSClient{t: t, conn: conn, stop: stop}
	go c.readLoop(readCtx)
	t.Cleanup(c.Close)
	return c
}

// Close shuts the connection down. Safe to call more than once.
func (c *WSClient) Close() {
	c.closeOnce.Do(func() {
		c.stop()
		_ = c.conn.Close(websocket.StatusNormalClosure, "test done")
	})
}

func (c *WSClient) readLoop(ctx context.Context) {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}
		ev := WSEvent{Raw: data, Received: time.Now()}
		var parsed map[string]any
		if json.Unmarshal(data, &parsed) == nil {
			ev.Parsed = parsed
			if typ, ok := parsed["type"].(string); ok {
				ev.Type = typ
			}
		}
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

// SendMessage submits a user message, starting a turn.
func (c *WSClient) SendMessage(content string) {
	c.send(map[string]any{"type": "message", "content": content})
}

// SendMessageWithID submits a user message with an explicit message id.
func (c *WSClient) SendMessageWithID(id, content string) {
	c.send(map[string]any{"type": "message", "message_id": id, "content": content})
}

// SendDirectEdit submits one UI-originated operation.
func (c *WSClient) SendDirectEdit(op map[string]any) {
	c.send(map[string]any{"type": "direct_edit", "op": op})
}

// SendInterrupt cancels the active turn.
func (c *WSClient) SendInterrupt() {
	c.send(map[string]any{"type": "interrupt"})
}

// SendSetProfile switches the replay pacing profile.
func (c *WSClient) SendSetProfile(profile string) {
	c.send(map[string]any{"type": "set_profile", "profile": profile})
}

func (c *WSClient) send(v any) {
	c.t.Helper()
	data, err := json.Marshal(v)
	require.NoError(c.t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(c.t, c.conn.Write(ctx, websocket.MessageText, data))
}

// Events returns a copy of every frame received so far.
func (c *WSClient) Events() []WSEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]WSEvent, len(c.events))
	copy(out, c.events)
	return out
}

// EventsOfType returns the received frames with the given type, in arrival
// order.
func (c *WSClient) EventsOfType(typ string) []WSEvent {
	var out []WSEvent
	for _, ev := range c.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// WaitForEventType blocks until one frame of the given type has arrived and
// returns the first.
func (c *WSClient) WaitForEventType(typ string) WSEvent {
	c.t.Helper()
	return c.WaitForEventCount(typ, 1)[0]
}

// WaitForEventCount blocks until at least n frames of the given type have
// arrived and returns the first n.
func (c *WSClient) WaitForEventCount(typ string, n int) []WSEvent {
	c.t.Helper()
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if evs := c.EventsOfType(typ); len(evs) >= n {
			return evs[:n]
		}
		time.Sleep(pollInterval)
	}
	c.t.Fatalf("timed out waiting for %d %q frames, received %s", n, typ, c.describeEvents())
	return nil
}

func (c *WSClient) describeEvents() string {
	counts := map[string]int{}
	for _, ev := range c.Events() {
		counts[ev.Type]++
	}
	return fmt.Sprintf("%v", counts)
}
