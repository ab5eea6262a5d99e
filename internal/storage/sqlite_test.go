package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAdapter(t *testing.T) *SQLiteAdapter {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "aragora_test.db")
	a, err := Open(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestOpenRunsMigrations(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	for _, module := range []string{"core", "agents", "memory"} {
		v, err := a.SchemaVersion(ctx, module)
		assert.NoError(t, err)
		assert.Equal(t, 1, v)
	}
}

func TestCreateAndGetDebate(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	d := &domain.Debate{
		DebateID:      "d1",
		Slug:          "should-we-ship",
		Task:          "should we ship feature X",
		Agents:        []string{"alice", "bob"},
		RoundsPlanned: 3,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, a.CreateDebate(ctx, d))

	got, messages, err := a.GetDebate(ctx, "should-we-ship")
	require.NoError(t, err)
	assert.Equal(t, "d1", got.DebateID)
	assert.Equal(t, []string{"alice", "bob"}, got.Agents)
	assert.Empty(t, messages)

	err = a.CreateDebate(ctx, d)
	assert.Error(t, err)
	var dup *ErrDuplicateSlug
	assert.ErrorAs(t, err, &dup)
}

func TestAppendMessageUpdatesRoundsUsed(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	d := &domain.Debate{DebateID: "d2", Slug: "topic-two", Task: "t", Agents: []string{"alice"}, RoundsPlanned: 5, CreatedAt: time.Now()}
	require.NoError(t, a.CreateDebate(ctx, d))

	conf := 0.8
	seq, err := a.AppendMessage(ctx, &domain.DebateMessage{
		DebateID: "d2", Round: 2, Agent: "alice", Role: "proposer",
		Phase: types.PhasePropose, Content: "I propose X", Confidence: &conf, Timestamp: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)

	got, messages, err := a.GetDebate(ctx, "d2")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RoundsUsed)
	require.Len(t, messages, 1)
	assert.Equal(t, "I propose X", messages[0].Content)
	require.NotNil(t, messages[0].Confidence)
	assert.InDelta(t, 0.8, *messages[0].Confidence, 0.0001)
}

func TestSealDebateIsIdempotent(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	d := &domain.Debate{DebateID: "d3", Slug: "topic-three", Task: "t", Agents: []string{"alice"}, RoundsPlanned: 1, CreatedAt: time.Now()}
	require.NoError(t, a.CreateDebate(ctx, d))

	artifact := &domain.FinalArtifact{Choice: "alice", Confidence: 0.9}
	conf := 0.9
	require.NoError(t, a.SealDebate(ctx, "d3", artifact, string(types.OutcomeConsensus), &conf))
	require.NoError(t, a.SealDebate(ctx, "d3", artifact, string(types.OutcomeConsensus), &conf))

	other := &domain.FinalArtifact{Choice: "bob", Confidence: 0.5}
	err := a.SealDebate(ctx, "d3", other, string(types.OutcomeConsensus), &conf)
	assert.Error(t, err)
	var conflict *ErrSealConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestListDebatesPagination(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		d := &domain.Debate{
			DebateID: "list-" + string(rune('a'+i)), Slug: "slug-" + string(rune('a'+i)),
			Task: "t", Agents: []string{"x"}, RoundsPlanned: 1,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, a.CreateDebate(ctx, d))
	}

	page1, cursor, err := a.ListDebates(ctx, 2, "")
	require.NoError(t, err)
	assert.Len(t, page1, 2)
	assert.NotEmpty(t, cursor)

	page2, _, err := a.ListDebates(ctx, 2, cursor)
	require.NoError(t, err)
	assert.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].DebateID, page2[0].DebateID)
}

func TestRecordMatchUpdatesRatings(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	m := &domain.Match{
		DebateID: "d4", Participants: []string{"alice", "bob"}, Winner: "alice",
		EloChanges: map[string]float64{"alice": 12, "bob": -12}, Domain: "general", RecordedAt: time.Now(),
	}
	updated := []domain.AgentRating{
		{Agent: "alice", Domain: "general", Elo: 1012, Wins: 1, Consistency: 1.0},
		{Agent: "bob", Domain: "general", Elo: 988, Losses: 1, Consistency: 1.0},
	}
	require.NoError(t, a.RecordMatch(ctx, m, updated))

	r, err := a.GetRating(ctx, "alice", "general")
	require.NoError(t, err)
	assert.Equal(t, 1012.0, r.Elo)
	assert.Equal(t, 1, r.Wins)

	board, err := a.Leaderboard(ctx, "general", 10)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "alice", board[0].Agent) // higher elo first

	matches, err := a.RecentMatches(ctx, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "alice", matches[0].Winner)
}

func TestGetRatingDefaultsWhenMissing(t *testing.T) {
	a := newTestAdapter(t)
	r, err := a.GetRating(context.Background(), "nobody", "general")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, r.Elo)
	assert.Equal(t, 1.0, r.Consistency)
}

func TestPositionsAndFlipsAndConsistency(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	p1ID, err := a.SavePosition(ctx, &domain.Position{
		Agent: "alice", Claim: "X is true", Confidence: 0.7, Domain: "general",
		DebateID: "d5", Round: 1, SourceMessageSeq: 1, Outcome: types.PositionPending,
		Embedding: []float32{0.1, 0.2, 0.3}, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	p2ID, err := a.SavePosition(ctx, &domain.Position{
		Agent: "alice", Claim: "X is false", Confidence: 0.8, Domain: "general",
		DebateID: "d5", Round: 2, SourceMessageSeq: 2, Outcome: types.PositionPending,
		Embedding: []float32{0.9, 0.8, 0.7}, Timestamp: time.Now(),
	})
	require.NoError(t, err)

	positions, err := a.RecentPositions(ctx, "alice", "general", 10)
	require.NoError(t, err)
	require.Len(t, positions, 2)

	_, err = a.SaveFlip(ctx, &domain.Flip{
		Agent: "alice", OriginalID: p1ID, NewID: p2ID, Similarity: 0.2,
		Type: types.FlipContradiction, Domain: "general", DetectedAt: time.Now(),
	})
	require.NoError(t, err)

	contradictions, retractions, total, err := a.ConsistencyCounts(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, contradictions)
	assert.Equal(t, 0, retractions)
	assert.Equal(t, 2, total)
}

func TestEventAppendAndRead(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	e1 := &domain.Event{Type: types.EventDebateStart, Timestamp: time.Now(), DebateID: "d6", Data: map[string]interface{}{"task": "t"}}
	require.NoError(t, a.AppendEvent(ctx, e1))
	assert.Equal(t, uint64(1), e1.Seq)

	e2 := &domain.Event{Type: types.EventRoundStart, Timestamp: time.Now(), DebateID: "d6", Round: 1}
	require.NoError(t, a.AppendEvent(ctx, e2))
	assert.Equal(t, uint64(2), e2.Seq)

	events, err := a.ReadRecentEvents(ctx, "d6", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, types.EventDebateStart, events[0].Type)
	assert.Equal(t, types.EventRoundStart, events[1].Type)
}

func TestListActiveDebatesExcludesSealed(t *testing.T) {
	a := newTestAdapter(t)
	ctx := context.Background()

	require.NoError(t, a.CreateDebate(ctx, &domain.Debate{DebateID: "active1", Slug: "active-one", Task: "t", Agents: []string{"x"}, RoundsPlanned: 1, CreatedAt: time.Now()}))
	require.NoError(t, a.CreateDebate(ctx, &domain.Debate{DebateID: "sealed1", Slug: "sealed-one", Task: "t", Agents: []string{"x"}, RoundsPlanned: 1, CreatedAt: time.Now()}))
	require.NoError(t, a.SealDebate(ctx, "sealed1", &domain.FinalArtifact{Choice: "x"}, string(types.OutcomeConsensus), nil))

	active, err := a.ListActiveDebates(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active1", active[0].DebateID)
}
