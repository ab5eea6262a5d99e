// Package ranking implements the Ranking & Flip Engine: ELO match recording
// and position-flip detection. Grounded on internal/tools/rag_storage.go's
// embedding-BLOB storage and cosine-similarity scan (flip detection) and
// internal/tools/conviction_meter.go's hasContradiction keyword-pair
// heuristic (contradiction/negation signal).
package ranking

import (
	"math"

	"github.com/aragora/aragora/internal/domain"
)

// DefaultKFactor is the standard ELO sensitivity constant.
const DefaultKFactor = 32.0

// ExpectedScore is the standard logistic ELO expectation for player A facing
// player B.
func ExpectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}

// pairwiseOutcome is the score (1, 0.5, 0) one agent earns against another
// in one decomposed pairwise comparison.
func pairwiseOutcome(agent, other, winner string) float64 {
	if winner == "" {
		return 0.5
	}
	if agent == winner {
		return 1.0
	}
	if other == winner {
		return 0.0
	}
	return 0.5
}

// ComputeMatch decomposes an N-way debate outcome into C(N,2) pairwise ELO
// updates: winner vs each loser = 1/0, losers vs each other = draw.
// ratings must contain every participant; kFactor <= 0 uses DefaultKFactor.
func ComputeMatch(debateID, domainTag, winner string, participants []string, ratings map[string]float64, kFactor float64) (*domain.Match, []domain.AgentRating, error) {
	if kFactor <= 0 {
		kFactor = DefaultKFactor
	}

	deltas := make(map[string]float64, len(participants))
	for _, p := range participants {
		deltas[p] = 0
	}

	for i, a := range participants {
		for j, b := range participants {
			if i >= j {
				continue
			}
			scoreA := pairwiseOutcome(a, b, winner)
			scoreB := 1.0 - scoreA
			expectedA := ExpectedScore(ratings[a], ratings[b])
			expectedB := 1.0 - expectedA
			deltas[a] += kFactor * (scoreA - expectedA)
			deltas[b] += kFactor * (scoreB - expectedB)
		}
	}

	m := &domain.Match{
		DebateID:     debateID,
		Participants: participants,
		Winner:       winner,
		EloChanges:   deltas,
		Domain:       domainTag,
	}

	updated := make([]domain.AgentRating, 0, len(participants))
	for _, p := range participants {
		wins, losses, draws := 0, 0, 0
		switch {
		case winner == "":
			draws = len(participants) - 1
		case p == winner:
			wins = len(participants) - 1
		default:
			losses = 1
			draws = len(participants) - 2
			if draws < 0 {
				draws = 0
			}
		}
		updated = append(updated, domain.AgentRating{
			Agent:  p,
			Domain: domainTag,
			Elo:    ratings[p] + deltas[p],
			Wins:   wins,
			Losses: losses,
			Draws:  draws,
		})
	}

	return m, updated, nil
}

// Consistency scores an agent's position stability, clamped to [0,1].
func Consistency(contradictions, retractions, totalPositions int) float64 {
	if totalPositions < 1 {
		totalPositions = 1
	}
	c := 1.0 - float64(contradictions+retractions)/float64(totalPositions)
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
