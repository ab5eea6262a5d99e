package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aragora/aragora/internal/agentinvoker"
	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/provider"
	"github.com/aragora/aragora/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStorage is a minimal in-memory storage.Adapter sufficient to drive the
// Orchestrator end to end without a real database.
type fakeStorage struct {
	mu        sync.Mutex
	debates   map[string]*domain.Debate
	messages  map[string][]domain.DebateMessage
	positions map[string][]domain.Position
	flips     []domain.Flip
	ratings   map[string]domain.AgentRating
	matches   []domain.Match
	seq       int64
	failSeal  bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{
		debates:   make(map[string]*domain.Debate),
		messages:  make(map[string][]domain.DebateMessage),
		positions: make(map[string][]domain.Position),
		ratings:   make(map[string]domain.AgentRating),
	}
}

func (s *fakeStorage) CreateDebate(ctx context.Context, d *domain.Debate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.debates[d.DebateID] = d
	return nil
}

func (s *fakeStorage) AppendMessage(ctx context.Context, m *domain.DebateMessage) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.messages[m.DebateID] = append(s.messages[m.DebateID], *m)
	return s.seq, nil
}

func (s *fakeStorage) SealDebate(ctx context.Context, debateID string, final *domain.FinalArtifact, outcome string, confidence *float64) error {
	if s.failSeal {
		return apperr.New(apperr.KindIntegrity, "seal_failed", "forced failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if d, ok := s.debates[debateID]; ok {
		now := time.Now()
		d.SealedAt = &now
	}
	return nil
}

func (s *fakeStorage) GetDebate(ctx context.Context, slugOrID string) (*domain.Debate, []domain.DebateMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.debates[slugOrID]
	if !ok {
		return nil, nil, apperr.New(apperr.KindInput, "not_found", "no such debate")
	}
	return d, s.messages[slugOrID], nil
}

func (s *fakeStorage) ListDebates(ctx context.Context, limit int, cursor string) ([]domain.Debate, string, error) {
	return nil, "", nil
}

func (s *fakeStorage) ListActiveDebates(ctx context.Context) ([]domain.Debate, error) {
	return nil, nil
}

func (s *fakeStorage) RecordMatch(ctx context.Context, m *domain.Match, updated []domain.AgentRating) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches = append(s.matches, *m)
	for _, r := range updated {
		s.ratings[r.Agent+"|"+r.Domain] = r
	}
	return nil
}

func (s *fakeStorage) GetRating(ctx context.Context, agent, domainTag string) (domain.AgentRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.ratings[agent+"|"+domainTag]; ok {
		return r, nil
	}
	return domain.AgentRating{Agent: agent, Domain: domainTag, Elo: 1500}, nil
}

func (s *fakeStorage) Leaderboard(ctx context.Context, domainTag string, limit int) ([]domain.AgentRating, error) {
	return nil, nil
}

func (s *fakeStorage) RecentMatches(ctx context.Context, limit int) ([]domain.Match, error) {
	return s.matches, nil
}

func (s *fakeStorage) SavePosition(ctx context.Context, p *domain.Position) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	p.ID = s.seq
	s.positions[p.Agent] = append(s.positions[p.Agent], *p)
	return p.ID, nil
}

func (s *fakeStorage) RecentPositions(ctx context.Context, agent, domainTag string, limit int) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positions[agent], nil
}

func (s *fakeStorage) SaveFlip(ctx context.Context, f *domain.Flip) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	f.ID = s.seq
	s.flips = append(s.flips, *f)
	return f.ID, nil
}

func (s *fakeStorage) RecentFlips(ctx context.Context, limit int) ([]domain.Flip, error) {
	return s.flips, nil
}

func (s *fakeStorage) ConsistencyCounts(ctx context.Context, agent string) (int, int, int, error) {
	return 0, 0, 0, nil
}

func (s *fakeStorage) AppendEvent(ctx context.Context, e *domain.Event) error { return nil }

func (s *fakeStorage) ReadRecentEvents(ctx context.Context, debateID string, limit int) ([]domain.Event, error) {
	return nil, nil
}

func (s *fakeStorage) SchemaVersion(ctx context.Context, module string) (int, error) { return 1, nil }
func (s *fakeStorage) Migrate(ctx context.Context) error                             { return nil }
func (s *fakeStorage) Close() error                                                  { return nil }

// fakeSink records published events without persisting them, standing in
// for the Event Bus in isolation.
type fakeSink struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (f *fakeSink) Publish(ctx context.Context, e *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return nil
}

func (f *fakeSink) types(t types.EventType) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, e := range f.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// fakeProviderClient returns one fixed reply per Stream call, agreeing with
// each agent's stance so votes, similarity, and confidence stay predictable.
type fakeProviderClient struct {
	reply string
	err   error
}

func (f *fakeProviderClient) Stream(ctx context.Context, prompt string, opts provider.Options, onDelta func(provider.Delta)) (provider.Usage, error) {
	if f.err != nil {
		return provider.Usage{}, f.err
	}
	onDelta(provider.Delta{Text: f.reply})
	return provider.Usage{TotalTokens: 10}, nil
}

// fakeEmbedder returns a fixed vector per text ([1,0,0] for any text not in
// vectors) so cosine similarity between any two agents is deterministic.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func newInvokers(agents []string, reply string) map[string]*agentinvoker.Invoker {
	m := make(map[string]*agentinvoker.Invoker, len(agents))
	for _, a := range agents {
		client := &fakeProviderClient{reply: reply}
		m[a] = agentinvoker.New(client, &fakeSink{}, agentinvoker.DefaultPolicy())
	}
	return m
}

func baseConfig() Config {
	return Config{
		RoundsPlanned:      2,
		ConsensusPolicy:    types.ConsensusUnanimous,
		ConsensusThreshold: 0.5,
		MinParticipants:    2,
		Domain:             "test",
	}
}

func TestRunReachesConsensus(t *testing.T) {
	agents := []string{"alice", "bob"}
	bus := &fakeSink{}
	store := newFakeStorage()
	o := New(Deps{
		Storage:  store,
		Bus:      bus,
		Invokers: newInvokers(agents, "we agree the answer is 42"),
		Embedder: &fakeEmbedder{},
		KFactor:  32,
	})

	debate, err := o.Run(context.Background(), Request{
		DebateID: "d1", Slug: "slug-1", Task: "what is the answer", Agents: agents, Cfg: baseConfig(),
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeConsensus, debate.Outcome)
	assert.True(t, debate.ConsensusReached)
	assert.Equal(t, 1, bus.types(types.EventConsensus))
	assert.Equal(t, 1, bus.types(types.EventMatchRecorded))
	assert.Equal(t, 1, bus.types(types.EventDebateEnd))
}

func TestRunNoConsensusWhenVotesSplit(t *testing.T) {
	agents := []string{"alice", "bob"}
	store := newFakeStorage()
	bus := &fakeSink{}

	invokers := map[string]*agentinvoker.Invoker{
		"alice": agentinvoker.New(&fakeProviderClient{reply: "alice's position"}, &fakeSink{}, agentinvoker.DefaultPolicy()),
		"bob":   agentinvoker.New(&fakeProviderClient{reply: "bob's position"}, &fakeSink{}, agentinvoker.DefaultPolicy()),
	}
	o := New(Deps{
		Storage:  store,
		Bus:      bus,
		Invokers: invokers,
		Embedder: &fakeEmbedder{},
		KFactor:  32,
	})

	cfg := baseConfig()
	cfg.ConsensusPolicy = types.ConsensusUnanimous
	debate, err := o.Run(context.Background(), Request{
		DebateID: "d2", Slug: "slug-2", Task: "disagreement", Agents: agents, Cfg: cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeNoConsensus, debate.Outcome)
	assert.Equal(t, 0, bus.types(types.EventMatchRecorded))
}

func TestRunConvergenceEarlyStop(t *testing.T) {
	agents := []string{"alice", "bob"}
	store := newFakeStorage()
	bus := &fakeSink{}
	o := New(Deps{
		Storage:  store,
		Bus:      bus,
		Invokers: newInvokers(agents, "identical stance"),
		Embedder: &fakeEmbedder{},
		KFactor:  32,
	})

	cfg := baseConfig()
	cfg.RoundsPlanned = 5
	cfg.Convergence = ConvergenceConfig{Enabled: true, SimilarityThreshold: 0.99, MinRounds: 1}

	debate, err := o.Run(context.Background(), Request{
		DebateID: "d3", Slug: "slug-3", Task: "converging", Agents: agents, Cfg: cfg,
	})
	require.NoError(t, err)
	assert.Less(t, debate.RoundsUsed, cfg.RoundsPlanned)
}

func TestRunAbstainingAgentStillCompletes(t *testing.T) {
	agents := []string{"alice", "bob", "carol"}
	store := newFakeStorage()
	bus := &fakeSink{}

	invokers := newInvokers(agents, "consensus stance")
	invokers["carol"] = agentinvoker.New(&fakeProviderClient{err: apperr.New(apperr.KindDependencyPermanent, "boom", "permanent failure")}, &fakeSink{}, agentinvoker.Policy{MaxAttempts: 1, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, PartialOutputSafety: 1, MaxTokensApprox: 1000})

	cfg := baseConfig()
	cfg.MinParticipants = 2
	o := New(Deps{
		Storage:  store,
		Bus:      bus,
		Invokers: invokers,
		Embedder: &fakeEmbedder{},
		KFactor:  32,
	})

	debate, err := o.Run(context.Background(), Request{
		DebateID: "d4", Slug: "slug-4", Task: "one abstains", Agents: agents, Cfg: cfg,
	})
	require.NoError(t, err)
	assert.Equal(t, types.OutcomeConsensus, debate.Outcome)
}

func TestRunFatalStorageFailureSealsError(t *testing.T) {
	agents := []string{"alice", "bob"}
	store := newFakeStorage()
	store.failSeal = true
	bus := &fakeSink{}
	o := New(Deps{
		Storage:  store,
		Bus:      bus,
		Invokers: newInvokers(agents, "agreement"),
		Embedder: &fakeEmbedder{},
		KFactor:  32,
	})

	debate, err := o.Run(context.Background(), Request{
		DebateID: "d5", Slug: "slug-5", Task: "storage dies", Agents: agents, Cfg: baseConfig(),
	})
	require.Error(t, err)
	assert.Equal(t, types.OutcomeError, debate.Outcome)
}
