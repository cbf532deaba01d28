// Package e2e provides end-to-end test infrastructure for the coherence
// orchestrator.
package e2e

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/longformai/coherence/pkg/api"
	"github.com/longformai/coherence/pkg/audit"
	"github.com/longformai/coherence/pkg/cleanup"
	"github.com/longformai/coherence/pkg/config"
	"github.com/longformai/coherence/pkg/expansion"
	"github.com/longformai/coherence/pkg/job"
	"github.com/longformai/coherence/pkg/store"
	"github.com/longformai/coherence/pkg/stream"
	testdb "github.com/longformai/coherence/test/database"
)

// TestApp boots a complete coherence instance for e2e testing.
type TestApp struct {
	Config *config.Config
	Store  *store.Client

	LLMClient *ScriptedLLMClient

	Hub             *stream.Hub
	WorkerPool      *job.WorkerPool
	ExpansionEngine *expansion.Engine
	Sweeper         *cleanup.Sweeper
	Server          *api.Server

	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321"

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg         *config.Config
	llmClient   *ScriptedLLMClient
	workerCount int
	noExpander  bool
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithLLMClient sets a pre-scripted LLM client.
func WithLLMClient(client *ScriptedLLMClient) TestAppOption {
	return func(c *testAppConfig) { c.llmClient = client }
}

// WithWorkerCount sets the number of worker pool goroutines.
func WithWorkerCount(n int) TestAppOption {
	return func(c *testAppConfig) { c.workerCount = n }
}

// WithoutExpander omits the Expansion Engine from the server wiring, so
// POST /jobs rejects expansion-kind submissions with 501 Not Implemented
// (spec §6).
func WithoutExpander() TestAppOption {
	return func(c *testAppConfig) { c.noExpander = true }
}

// NewTestApp creates and starts a full coherence test instance. Shutdown is
// registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{workerCount: 1}
	for _, opt := range opts {
		opt(tc)
	}

	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	tc.cfg.Queue.WorkerCount = tc.workerCount
	tc.cfg.Queue.PollInterval = 50 * time.Millisecond
	tc.cfg.Queue.PollIntervalJitter = 20 * time.Millisecond
	tc.cfg.Queue.HeartbeatInterval = time.Second
	tc.cfg.Queue.OrphanDetectionInterval = time.Minute
	tc.cfg.Queue.OrphanThreshold = time.Minute
	tc.cfg.Queue.InterChunkPauseMin = time.Millisecond
	tc.cfg.Queue.InterChunkPauseMax = 5 * time.Millisecond

	if tc.llmClient == nil {
		tc.llmClient = NewScriptedLLMClient()
	}

	// 1. Database: real PostgreSQL via testcontainers (or CI service container).
	dbClient := testdb.NewTestClient(t)

	// 2. Streaming infrastructure.
	hub := stream.NewHub(tc.cfg.Stream)

	// 3. Worker pool, audited through pkg/audit so every transition fans out
	// on /ws/audit as well as being durably written.
	pool := job.NewWorkerPool(dbClient, tc.llmClient, tc.cfg, hub)
	pool.Controller().UseAuditLogger(audit.New(dbClient, hub))
	ctx := context.Background()
	pool.Start(ctx)

	// 4. Retention sweeper.
	sweeper := cleanup.NewSweeper(tc.cfg.Retention, dbClient)
	sweeper.Start(ctx)

	// 5. Expansion Engine, unless the test wants to exercise its absence.
	var expansionEngine *expansion.Engine
	if !tc.noExpander {
		expansionEngine = expansion.NewEngine(dbClient, tc.llmClient, tc.cfg, hub)
	}

	// 6. HTTP/WS server on a random port.
	var server *api.Server
	if expansionEngine != nil {
		server = api.NewServer(tc.cfg, dbClient, pool.Controller(), expansionEngine, pool, hub)
	} else {
		server = api.NewServer(tc.cfg, dbClient, pool.Controller(), nil, pool, hub)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()

	app := &TestApp{
		Config:          tc.cfg,
		Store:           dbClient,
		LLMClient:       tc.llmClient,
		Hub:             hub,
		WorkerPool:      pool,
		ExpansionEngine: expansionEngine,
		Sweeper:         sweeper,
		Server:          server,
		BaseURL:         fmt.Sprintf("http://%s", addr),
		WSURL:           fmt.Sprintf("ws://%s", addr),
		t:               t,
	}

	t.Cleanup(func() {
		sweeper.Stop()
		pool.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	})

	return app
}

// defaultTestConfig creates a minimal config suitable for tests that don't
// provide their own.
func defaultTestConfig() *config.Config {
	return &config.Config{
		Length: &config.LengthDefaults{
			MinInputWords: 1, MaxInputWords: 100000,
			ChunkTargetMin: 20, ChunkTargetMax: 200,
			ThesisWords: 2000, DissertationWords: 4000,
		},
		Queue:     config.DefaultQueueConfig(),
		Enforcer:  &config.EnforcerConfig{MaxAttempts: 20, CompletionRatio: 0.95, MaxContinuationWords: 4000, RateLimitPause: 10 * time.Millisecond},
		Retention: &config.RetentionConfig{TerminalJobTTL: time.Hour, CleanupInterval: time.Hour, TransientEventGracePeriod: 60 * time.Second},
		Stream:    config.DefaultStreamConfig(),
		LLM:       &config.LLMProviderConfig{Name: "e2e-test", BaseURL: "http://127.0.0.1:0", Model: "test-model"},
	}
}
