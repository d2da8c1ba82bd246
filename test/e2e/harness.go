// Package e2e drives the assembled server end to end: a real HTTP listener,
// real WebSocket sessions, the real orchestrator, reducer, and store, with
// the replay client standing in for the model provider. Scenario transcripts
// live under testdata/scripts as JSONL files, one scripted pass per file.
package e2e

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aidekit/scribe/pkg/api"
	"github.com/aidekit/scribe/pkg/config"
	"github.com/aidekit/scribe/pkg/events"
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/orchestrator"
	"github.com/aidekit/scribe/pkg/page"
	"github.com/aidekit/scribe/pkg/store"
	"github.com/aidekit/scribe/pkg/telemetry"
)

// Per-tier model ids. The orchestrator picks the model by tier and the replay
// client routes scripted entries by model id, so these double as the routing
// keys for scripted passes.
const (
	modelFast       = "fast-model"
	modelStructural = "structural-model"
	modelAnalyst    = "analyst-model"
)

// TestApp is one fully wired server on a loopback port.
type TestApp struct {
	Config  *config.Config
	Store   *store.MemoryStore
	LLM     *llm.ReplayClient
	Hub     *events.Hub
	Sink    *telemetry.MemorySink
	Server  *api.Server
	BaseURL string
}

// Option adjusts the configuration before the app is wired.
type Option func(*config.Config)

// WithJWTSecret switches the HTTP surface from dev mode to token auth.
func WithJWTSecret(secret string) Option {
	return func(cfg *config.Config) { cfg.JWTSecret = secret }
}

// NewTestApp wires and starts a server instance. Shutdown is registered on
// t.Cleanup in reverse order: sessions are torn down first, then the HTTP
// server, then the telemetry recorder drains.
func NewTestApp(t *testing.T, opts ...Option) *TestApp {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.UseMockLLM = true
	cfg.Models = config.TierModels{Fast: modelFast, Structural: modelStructural, Analyst: modelAnalyst}
	for _, opt := range opts {
		opt(cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := store.NewMemoryStore(cfg.HistoryWindowTurns)
	client := llm.NewReplayClient(llm.ProfileInstant)
	hub := events.NewHub(logger)
	sink := telemetry.NewMemorySink()
	recorder := telemetry.NewAsyncRecorder(sink, 64, logger)
	orc := orchestrator.New(cfg, client, mem, hub, recorder, logger)
	server := api.NewServer(cfg, mem, orc, hub, client, logger)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.StartWithListener(ctx, ln) }()

	t.Cleanup(func() {
		cancel()
		shCtx, shCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shCancel()
		_ = server.Shutdown(shCtx)
		if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.Errorf("server exited: %v", err)
		}
		_ = recorder.Close()
	})

	return &TestApp{
		Config:  cfg,
		Store:   mem,
		LLM:     client,
		Hub:     hub,
		Sink:    sink,
		Server:  server,
		BaseURL: "http://" + ln.Addr().String(),
	}
}

// WSURL returns the WebSocket endpoint for an aide.
func (app *TestApp) WSURL(aideID string) string {
	return "ws" + strings.TrimPrefix(app.BaseURL, "http") + "/ws/aides/" + aideID
}

// Connect opens a session for the aide and waits for the established frame.
func (app *TestApp) Connect(t *testing.T, aideID string) *WSClient {
	t.Helper()
	c := NewWSClient(t, app.WSURL(aideID))
	c.WaitForEventType("session.established")
	return c
}

// Script queues one scripted pass for the given tier model.
func (app *TestApp) Script(t *testing.T, model, file string) {
	t.Helper()
	app.LLM.AddRouted(model, llm.ReplayEntry{Lines: loadScript(t, file)})
}

// ScriptBlocking queues a scripted pass that plays its lines and then holds
// the stream open until the turn is cancelled. The returned channel receives
// once the stream has parked.
func (app *TestApp) ScriptBlocking(t *testing.T, model, file string) <-chan struct{} {
	t.Helper()
	blocked := make(chan struct{}, 1)
	app.LLM.AddRouted(model, llm.ReplayEntry{
		Lines:               loadScript(t, file),
		BlockUntilCancelled: true,
		OnBlock:             blocked,
	})
	return blocked
}

// PageSnapshot reads the persisted snapshot for an aide.
func (app *TestApp) PageSnapshot(t *testing.T, aideID string) *page.Snapshot {
	t.Helper()
	snap, err := app.Store.Snapshot(context.Background(), aideID)
	require.NoError(t, err)
	return snap
}

// WaitTurnRecords waits for the async recorder to deliver at least n turn
// records and returns them in completion order.
func (app *TestApp) WaitTurnRecords(t *testing.T, n int) []telemetry.TurnRecord {
	t.Helper()
	var recs []telemetry.TurnRecord
	require.Eventually(t, func() bool {
		recs = app.Sink.Turns()
		return len(recs) >= n
	}, waitTimeout, pollInterval, "waiting for %d turn records", n)
	return recs
}

func loadScript(t *testing.T, file string) []string {
	t.Helper()
	lines, err := llm.LoadScript(filepath.Join("testdata", "scripts", file))
	require.NoError(t, err)
	require.NotEmpty(t, lines)
	return lines
}
