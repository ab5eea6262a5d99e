package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScoreConfidenceNoIndicatorsIsNeutral(t *testing.T) {
	assert.Equal(t, 0.5, scoreConfidence("the sky is blue today"))
}

func TestScoreConfidenceStrongLanguageScoresHigh(t *testing.T) {
	got := scoreConfidence("The evidence shows this is the correct choice, clearly.")
	assert.Greater(t, got, 0.5)
}

func TestScoreConfidenceHedgingScoresLow(t *testing.T) {
	got := scoreConfidence("I'm not sure, but possibly this works.")
	assert.Less(t, got, 0.5)
}

func TestScoreConfidenceClampedToOne(t *testing.T) {
	got := scoreConfidence("Evidence shows, research indicates, proven, studies show this is correct.")
	assert.LessOrEqual(t, got, 1.0)
}
