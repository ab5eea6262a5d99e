package ranking

import (
	"math"
	"testing"
	"time"

	"github.com/aragora/aragora/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeMatchZeroSum(t *testing.T) {
	ratings := map[string]float64{"alice": 1000, "bob": 1000, "carol": 1050}
	m, updated, err := ComputeMatch("d1", "general", "alice", []string{"alice", "bob", "carol"}, ratings, 0)
	require.NoError(t, err)

	var sum float64
	for _, d := range m.EloChanges {
		sum += d
	}
	assert.InDelta(t, 0, sum, 1e-6)

	require.Len(t, updated, 3)
	for _, r := range updated {
		if r.Agent == "alice" {
			assert.True(t, r.Elo > 1000)
			assert.Equal(t, 2, r.Wins)
		}
	}
}

func TestComputeMatchDrawWhenNoWinner(t *testing.T) {
	ratings := map[string]float64{"alice": 1000, "bob": 1000}
	m, updated, err := ComputeMatch("d2", "general", "", []string{"alice", "bob"}, ratings, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0, m.EloChanges["alice"]+m.EloChanges["bob"], 1e-6)
	for _, r := range updated {
		assert.Equal(t, 1, r.Draws)
	}
}

func TestExpectedScoreSymmetry(t *testing.T) {
	a := ExpectedScore(1200, 1000)
	b := ExpectedScore(1000, 1200)
	assert.InDelta(t, 1.0, a+b, 1e-9)
	assert.True(t, a > 0.5)
}

func TestConsistencyClampedToUnitInterval(t *testing.T) {
	assert.Equal(t, 1.0, Consistency(0, 0, 0))
	assert.InDelta(t, 0.5, Consistency(1, 0, 2), 1e-9)
	assert.Equal(t, 0.0, Consistency(5, 5, 2))
}

func unitEmbedding(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle))}
}

func TestClassifyRefinementRequiresNonDecreasingConfidence(t *testing.T) {
	th := DefaultThresholds()
	prior := domain.Position{ID: 1, Claim: "X is likely true", Confidence: 0.5, Embedding: unitEmbedding(0)}
	next := domain.Position{ID: 2, Claim: "X is likely true, and here is more evidence", Confidence: 0.7, Embedding: unitEmbedding(0.05)}

	ftype, ok := Classify(prior, next, th)
	require.True(t, ok)
	assert.Equal(t, "refinement", string(ftype))
}

func TestClassifyContradictionOnNegationSignal(t *testing.T) {
	th := DefaultThresholds()
	prior := domain.Position{ID: 1, Claim: "I agree with the proposal", Confidence: 0.8, Embedding: unitEmbedding(0)}
	next := domain.Position{ID: 2, Claim: "I disagree with the proposal entirely", Confidence: 0.8, Embedding: unitEmbedding(2.5)}

	ftype, ok := Classify(prior, next, th)
	require.True(t, ok)
	assert.Equal(t, "contradiction", string(ftype))
}

func TestClassifySameClaimIsNotAFlip(t *testing.T) {
	th := DefaultThresholds()
	prior := domain.Position{ID: 1, Claim: "X is true", Confidence: 0.8, Embedding: unitEmbedding(0)}
	next := domain.Position{ID: 2, Claim: "X is true", Confidence: 0.8, Embedding: unitEmbedding(0)}

	_, ok := Classify(prior, next, th)
	assert.False(t, ok)
}

func TestDetectFlipsSkipsSelf(t *testing.T) {
	next := domain.Position{ID: 2, Claim: "X is false", Confidence: 0.8, Embedding: unitEmbedding(2.5), Timestamp: time.Now()}
	priors := []domain.Position{
		{ID: 2, Claim: "X is false", Confidence: 0.8, Embedding: unitEmbedding(2.5)},
		{ID: 1, Claim: "X is true", Confidence: 0.8, Embedding: unitEmbedding(0)},
	}
	flips := DetectFlips("alice", next, priors, DefaultThresholds())
	require.Len(t, flips, 1)
	assert.Equal(t, int64(1), flips[0].OriginalID)
}
