// Scribe orchestration server: owns the living-page turn loop, the WebSocket
// session surface, and page persistence.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/aidekit/scribe/pkg/api"
	"github.com/aidekit/scribe/pkg/cleanup"
	"github.com/aidekit/scribe/pkg/config"
	"github.com/aidekit/scribe/pkg/events"
	"github.com/aidekit/scribe/pkg/llm"
	"github.com/aidekit/scribe/pkg/orchestrator"
	"github.com/aidekit/scribe/pkg/session"
	"github.com/aidekit/scribe/pkg/store"
	"github.com/aidekit/scribe/pkg/telemetry"
	"github.com/aidekit/scribe/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// loadReplayScripts registers every *.jsonl file in dir as one sequential
// replay entry, in filename order.
func loadReplayScripts(client *llm.ReplayClient, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		lines, err := llm.LoadScript(filepath.Join(dir, e.Name()))
		if err != nil {
			return count, err
		}
		client.AddSequential(llm.ReplayEntry{Lines: lines})
		count++
	}
	return count, nil
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	}

	httpPort := getEnv("HTTP_PORT", "8080")
	ctx := context.Background()

	// 1. Configuration and logging
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}
	config.SetupLogging(cfg.LogLevel)
	logger := slog.Default()

	slog.Info("Starting scribe",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	// 2. Store: Postgres when DATABASE_URL is set, in-memory otherwise
	var (
		st     store.Store
		reader store.Reader
		pg     *store.PostgresStore
	)
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pg, err = store.NewPostgresStore(ctx, dbURL, cfg.HistoryWindowTurns, logger)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		st, reader = pg, pg
		slog.Info("Connected to PostgreSQL store")
	} else {
		mem := store.NewMemoryStore(cfg.HistoryWindowTurns)
		st, reader = mem, mem
		slog.Warn("DATABASE_URL not set, using in-memory store; nothing survives a restart")
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()

	// 3. Telemetry: store-backed sink on Postgres, slog sink otherwise. The
	// retention sweeper only runs against Postgres; the in-memory sink dies
	// with the process.
	var (
		sink    telemetry.Recorder
		sweeper *cleanup.Sweeper
	)
	if pg != nil {
		pgSink := store.NewPostgresTelemetrySink(pg, logger)
		sink = pgSink
		sweeper = cleanup.NewSweeper(cfg.Retention.Window(), cfg.Retention.Interval(), pgSink, logger)
	} else {
		sink = telemetry.NewSlogSink(logger)
	}
	recorder := telemetry.NewAsyncRecorder(sink, 256, logger)
	if sweeper != nil {
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// 4. LLM client: replay in mock mode, Anthropic otherwise
	var (
		client   llm.Client
		profiles session.ProfileSwitcher
	)
	if cfg.UseMockLLM {
		profile, ok := llm.ParseProfile(cfg.ReplayProfile)
		if !ok {
			profile = llm.ProfileInstant
		}
		replay := llm.NewReplayClient(profile)
		scriptDir := getEnv("REPLAY_SCRIPT_DIR", filepath.Join(*configDir, "scripts"))
		if n, err := loadReplayScripts(replay, scriptDir); err != nil {
			slog.Warn("Could not load replay scripts", "dir", scriptDir, "error", err)
		} else {
			slog.Info("Replay scripts loaded", "dir", scriptDir, "count", n)
		}
		client, profiles = replay, replay
		slog.Warn("Mock LLM mode enabled; no provider calls will be made")
	} else {
		ac, err := llm.NewAnthropicClient(os.Getenv("ANTHROPIC_API_KEY"), logger)
		if err != nil {
			slog.Error("Failed to initialize LLM client", "error", err)
			os.Exit(1)
		}
		client = ac
	}
	defer func() {
		if err := client.Close(); err != nil {
			slog.Error("Error closing LLM client", "error", err)
		}
	}()

	// 5. Hub, orchestrator, HTTP server
	hub := events.NewHub(logger)
	orc := orchestrator.New(cfg, client, st, hub, recorder, logger)
	server := api.NewServer(cfg, reader, orc, hub, profiles, logger)

	// 6. Start HTTP server (non-blocking). Sessions descend from sessionCtx;
	// cancelling it interrupts active turns and closes every socket.
	sessionCtx, stopSessions := context.WithCancel(ctx)
	defer stopSessions()

	errCh := make(chan error, 1)
	go func() {
		addr := ":" + httpPort
		slog.Info("HTTP server listening", "addr", addr)
		if err := server.Start(sessionCtx, addr); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 8. Graceful shutdown: close sessions first so active turns interrupt
	// and persist, then stop the listener, then flush telemetry.
	stopSessions()

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	if err := recorder.Close(); err != nil {
		slog.Error("Telemetry flush error", "error", err)
	}

	slog.Info("Shutdown complete")
}
