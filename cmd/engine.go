package cmd

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/aragora/aragora/internal/agentinvoker"
	"github.com/aragora/aragora/internal/api"
	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/auth"
	"github.com/aragora/aragora/internal/config"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/events"
	"github.com/aragora/aragora/internal/orchestrator"
	"github.com/aragora/aragora/internal/provider"
	"github.com/aragora/aragora/internal/ranking"
	"github.com/aragora/aragora/internal/ratelimit"
	"github.com/aragora/aragora/internal/storage"
	"github.com/aragora/aragora/internal/types"
	"github.com/aragora/aragora/internal/wshub"
)

// engine is every long-lived capability one Aragora process composes at
// startup: a composed engine value rather than package-level singletons, so
// cmd/serve.go and `aragora debate` subcommands share this wiring instead of
// each re-deriving it from scratch.
type engine struct {
	cfg     *config.Config
	storage storage.Adapter
	bus     *events.Bus
	hub     *wshub.Hub
	auth    *auth.Auth
	limiter *ratelimit.Limiter
	server  *api.Server
}

// storageSnapshotter adapts the Storage Adapter's bounded event reader into
// the WebSocket Hub's Snapshotter, so a newly-subscribed client receives the
// tail of a debate's durable event log as its `sync` frame.
type storageSnapshotter struct {
	storage storage.Adapter
}

func (s storageSnapshotter) Snapshot(ctx context.Context, debateID string) (*domain.Event, error) {
	recent, err := s.storage.ReadRecentEvents(ctx, debateID, 200)
	if err != nil {
		return nil, err
	}
	data := map[string]interface{}{"events": recent}
	return &domain.Event{
		Type:      types.EventSync,
		Timestamp: time.Now(),
		DebateID:  debateID,
		Data:      data,
	}, nil
}

// buildEngine opens the Storage Adapter, Event Bus, WebSocket Hub, Auth Gate,
// and Rate Limiter from cfg, and wires an HTTP API Server whose
// NewOrchestrator closure builds one Debate Orchestrator per debate run
// against agent names supplied by the caller (POST /api/debates or `aragora
// debate start`), since the agent roster is not fixed at process start.
func buildEngine(cfg *config.Config) (*engine, error) {
	dbPath := filepath.Join(cfg.DataDir, "aragora.db")
	store, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage adapter: %w", err)
	}

	metrics := api.NewMetrics()
	bus := events.NewBus(store, 256)
	hub := wshub.New(bus, storageSnapshotter{storage: store}, wshub.Config{
		QueueSize: 64,
		Policy:    wshub.DropSlowest,
		QueueDepthObserver: func(debateID string, depth int) {
			metrics.EventBusQueueDepth.WithLabelValues(debateID).Set(float64(depth))
		},
	})

	var authGate *auth.Auth
	if cfg.Auth.Required {
		authGate = auth.New(auth.Config{Secret: cfg.Auth.HMACKey, TokenTTL: cfg.Auth.TokenTTL()})
	}

	limiter := ratelimit.New(ratelimit.Config{
		PerTokenRPM:     cfg.RateLimit.PerTokenPerMinute,
		PerIPRPM:        cfg.RateLimit.PerIPPerMinute,
		BurstMultiplier: 1.5,
	})

	embedder, embedErr := provider.NewEmbeddingClient(cfg.Provider.EmbeddingProvider, cfg.Provider.OpenAIKey, cfg.Provider.GeminiKey)
	if embedErr != nil {
		// Convergence similarity and flip detection degrade to "no
		// embedder" rather than refusing to serve: those sub-features are
		// optional enrichments, not required for the core round/vote/seal
		// state machine to run.
		embedder = nil
	}

	srv := &api.Server{
		Storage: store,
		Hub:     hub,
		Metrics: metrics,
		NewOrchestrator: func(agents []string) (*orchestrator.Orchestrator, error) {
			return newOrchestratorFor(cfg, store, bus, embedder, metrics, agents)
		},
	}

	return &engine{
		cfg:     cfg,
		storage: store,
		bus:     bus,
		hub:     hub,
		auth:    authGate,
		limiter: limiter,
		server:  srv,
	}, nil
}

// newOrchestratorFor builds one Orchestrator wired with an Agent Invoker per
// named agent, all sharing a single Provider Client (one configured LLM
// backend per process) and the process-wide Event Bus / Storage Adapter.
func newOrchestratorFor(cfg *config.Config, store storage.Adapter, bus *events.Bus, embedder provider.EmbeddingClient, metrics *api.Metrics, agents []string) (*orchestrator.Orchestrator, error) {
	if cfg.Provider.OpenAIKey == "" {
		return nil, apperr.New(apperr.KindInput, "missing_provider_key", "no LLM provider API key configured")
	}
	client, err := provider.NewOpenAIClient(cfg.Provider.OpenAIKey, "gpt-4o-mini")
	if err != nil {
		return nil, err
	}

	policy := agentinvoker.DefaultPolicy()
	if metrics != nil {
		policy.OnRetry = metrics.InvokerRetries.Inc
	}
	invokers := make(map[string]*agentinvoker.Invoker, len(agents))
	for _, a := range agents {
		invokers[a] = agentinvoker.New(client, bus, policy)
	}

	return orchestrator.New(orchestrator.Deps{
		Storage:    store,
		Bus:        bus,
		Invokers:   invokers,
		Embedder:   embedder,
		Thresholds: ranking.DefaultThresholds(),
		KFactor:    32,
	}), nil
}

// Close releases the engine's storage handle. The Event Bus and WebSocket
// Hub hold no OS resources of their own beyond goroutines that exit when
// their owning connections/subscriptions do.
func (e *engine) Close() error {
	return e.storage.Close()
}
