package ranking

import (
	"strings"

	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/provider"
	"github.com/aragora/aragora/internal/types"
)

// Thresholds configures the similarity bands used to classify a Flip:
// τ_same ≥ τ_refine ≥ τ_qual.
type Thresholds struct {
	Same   float64
	Refine float64
	Qual   float64
}

// DefaultThresholds is a conservative "close enough to be the same claim"
// tolerance that works without hand-tuning per domain.
func DefaultThresholds() Thresholds {
	return Thresholds{Same: 0.95, Refine: 0.85, Qual: 0.65}
}

// contradictionPairs is the keyword-pair negation heuristic lifted from
// internal/tools/conviction_meter.go's hasContradiction.
var contradictionPairs = []struct{ first, second string }{
	{"agree", "disagree"},
	{"support", "oppose"},
	{"yes", "no"},
	{"true", "false"},
	{"correct", "incorrect"},
	{"will", "will not"},
	{"should", "should not"},
}

// withdrawalSignals flags an explicit retraction of a prior claim.
var withdrawalSignals = []string{
	"i was wrong", "i retract", "withdraw my", "no longer believe", "i take that back", "correction:",
}

func hasContradictionSignal(oldClaim, newClaim string) bool {
	old := strings.ToLower(oldClaim)
	next := strings.ToLower(newClaim)
	for _, pair := range contradictionPairs {
		if strings.Contains(old, pair.first) && strings.Contains(next, pair.second) {
			return true
		}
		if strings.Contains(old, pair.second) && strings.Contains(next, pair.first) {
			return true
		}
	}
	return false
}

func hasWithdrawalSignal(newClaim string) bool {
	next := strings.ToLower(newClaim)
	for _, s := range withdrawalSignals {
		if strings.Contains(next, s) {
			return true
		}
	}
	return false
}

// negationWords flags a token as a grammatical negation marker rather than
// part of the claim's content.
var negationWords = map[string]bool{
	"not": true, "never": true, "cannot": true, "nobody": true, "nothing": true,
}

func isNegationToken(word string) bool {
	if negationWords[word] {
		return true
	}
	return strings.HasSuffix(word, "n't")
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(s) {
		w = strings.Trim(w, ".,!?;:\"'")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

// hasNegationSignal detects the literal "claim" vs "negated claim" pattern
// (spec scenario S5: "use microservices" -> "do not use microservices"): a
// negation marker present in exactly one of the two claims, with their
// remaining (non-negation) words otherwise overlapping heavily. This is a
// generic complement to hasContradictionSignal's fixed antonym-pair list,
// which only fires for known word pairs, not an inserted "not"/"never".
func hasNegationSignal(oldClaim, newClaim string) bool {
	old := tokenSet(strings.ToLower(oldClaim))
	next := tokenSet(strings.ToLower(newClaim))

	oldNegated := false
	for w := range old {
		if isNegationToken(w) {
			oldNegated = true
			delete(old, w)
		}
	}
	nextNegated := false
	for w := range next {
		if isNegationToken(w) {
			nextNegated = true
			delete(next, w)
		}
	}
	if oldNegated == nextNegated {
		return false // both or neither negated: not a negation flip
	}
	if len(old) == 0 || len(next) == 0 {
		return false
	}

	overlap := 0
	union := make(map[string]bool, len(old)+len(next))
	for w := range old {
		union[w] = true
		if next[w] {
			overlap++
		}
	}
	for w := range next {
		union[w] = true
	}
	jaccard := float64(overlap) / float64(len(union))
	return jaccard >= 0.5
}

// Classify compares a candidate prior position against a new one from the
// same agent and decides whether this is a Flip and, if so, its type. ok is
// false when the positions are the same claim (not a flip).
func Classify(prior, next domain.Position, th Thresholds) (ftype types.FlipType, ok bool) {
	sim := float64(provider.CosineSimilarity(prior.Embedding, next.Embedding))

	switch {
	case sim >= th.Same && prior.Claim == next.Claim:
		return "", false
	case sim >= th.Refine && next.Confidence >= prior.Confidence:
		return types.FlipRefinement, true
	case sim >= th.Qual && sim < th.Refine:
		return types.FlipQualification, true
	case sim < th.Qual && hasWithdrawalSignal(next.Claim):
		return types.FlipRetraction, true
	case sim < th.Qual && (hasContradictionSignal(prior.Claim, next.Claim) || hasNegationSignal(prior.Claim, next.Claim)):
		return types.FlipContradiction, true
	default:
		return "", false
	}
}

// DetectFlips scans an agent's recent prior positions against one new
// position and returns every qualifying Flip. The flip graph is acyclic by
// construction: edges always run from an older position (lower Sequence/
// Timestamp) to the new one.
func DetectFlips(agent string, next domain.Position, priors []domain.Position, th Thresholds) []domain.Flip {
	var flips []domain.Flip
	for _, prior := range priors {
		if prior.ID == next.ID {
			continue
		}
		ftype, ok := Classify(prior, next, th)
		if !ok {
			continue
		}
		sim := provider.CosineSimilarity(prior.Embedding, next.Embedding)
		flips = append(flips, domain.Flip{
			Agent:      agent,
			OriginalID: prior.ID,
			NewID:      next.ID,
			Similarity: sim,
			Type:       ftype,
			Domain:     next.Domain,
			DetectedAt: next.Timestamp,
		})
	}
	return flips
}
