package ranking

import (
	"testing"

	"github.com/aragora/aragora/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClassifyContradictionOnGenericNegation covers the literal S5 scenario:
// "use microservices" -> "do not use microservices". No antonym pair in
// contradictionPairs matches this wording, so only the generic negation
// heuristic (an inserted "not" over otherwise-overlapping words) can catch
// it.
func TestClassifyContradictionOnGenericNegation(t *testing.T) {
	th := DefaultThresholds()
	prior := domain.Position{ID: 1, Claim: "use microservices", Confidence: 0.8, Embedding: unitEmbedding(0)}
	next := domain.Position{ID: 2, Claim: "do not use microservices", Confidence: 0.8, Embedding: unitEmbedding(2.5)}

	assert.False(t, hasContradictionSignal(prior.Claim, next.Claim), "no antonym pair should match this wording")

	ftype, ok := Classify(prior, next, th)
	require.True(t, ok)
	assert.Equal(t, "contradiction", string(ftype))
}

func TestHasNegationSignalRequiresWordOverlap(t *testing.T) {
	assert.True(t, hasNegationSignal("use microservices", "do not use microservices"))
	assert.True(t, hasNegationSignal("the cache should expire", "the cache should never expire"))
	// Unrelated claims: negation present in one, but no shared content.
	assert.False(t, hasNegationSignal("use microservices", "never eat breakfast"))
	// Negation in both, or neither: not a negation flip on its own.
	assert.False(t, hasNegationSignal("do not use microservices", "never use microservices"))
	assert.False(t, hasNegationSignal("use microservices", "use microservices"))
}

func TestDetectFlipsConsistencyDecreasesAfterContradiction(t *testing.T) {
	next := domain.Position{ID: 2, Claim: "do not use microservices", Confidence: 0.8, Embedding: unitEmbedding(2.5)}
	priors := []domain.Position{
		{ID: 1, Claim: "use microservices", Confidence: 0.8, Embedding: unitEmbedding(0)},
	}
	flips := DetectFlips("alice", next, priors, DefaultThresholds())
	require.Len(t, flips, 1)
	assert.Equal(t, "contradiction", string(flips[0].Type))

	before := Consistency(0, 0, 1)
	after := Consistency(1, 0, 2)
	assert.True(t, after < before)
}
