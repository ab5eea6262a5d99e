package orchestrator

import "strings"

// confidenceIndicators scores lexical hedging/certainty cues in an agent's
// own turn text, grounded on internal/tools/conviction_meter.go's
// measureConfidence: the same phrase-weight table, used here per-message
// instead of aggregated over a whole dialogue history.
var confidenceIndicators = map[string]float64{
	"evidence shows":     1.0,
	"research indicates": 1.0,
	"clearly":            0.8,
	"definitely":         0.8,
	"proven":             1.0,
	"according to":       0.9,
	"studies show":       1.0,
	"data suggests":      0.9,
	"statistics":         0.9,
	"fact":               0.8,
	"i believe":          0.6,
	"in my experience":   0.7,
	"i think":            0.5,
	"might":              0.4,
	"possibly":           0.4,
	"i'm not sure":       0.3,
	"uncertain":          0.3,
}

// scoreConfidence derives a turn's confidence from its own content when the
// agent gave no other signal, the same indicator-weight approach
// conviction_meter.go uses across a whole dialogue, applied to one message.
// A message with none of the indicators scores the neutral 0.5 rather than
// 0, since absence of hedging language isn't evidence of low confidence.
func scoreConfidence(content string) float64 {
	lower := strings.ToLower(content)
	total := 0.0
	hits := 0
	for indicator, weight := range confidenceIndicators {
		if strings.Contains(lower, indicator) {
			total += weight
			hits++
		}
	}
	if hits == 0 {
		return 0.5
	}
	score := total / float64(hits)
	if score > 1.0 {
		score = 1.0
	}
	return score
}
