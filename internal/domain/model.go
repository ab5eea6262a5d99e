// Package domain holds the entities shared across the engine: Debate,
// DebateMessage, Position, Flip, Match, AgentRating, and Event. It has no
// dependency on storage, transport, or the orchestrator so every component
// can import it without a cycle.
package domain

import (
	"time"

	"github.com/aragora/aragora/internal/types"
)

// Debate is one coordinated multi-agent exchange.
type Debate struct {
	DebateID         string
	Slug             string
	Task             string
	Agents           []string
	RoundsPlanned    int
	RoundsUsed       int
	ConsensusReached bool
	Confidence       *float64 // nil unless ConsensusReached
	FinalArtifact    *FinalArtifact
	Outcome          types.Outcome
	CreatedBy        string
	CreatedAt        time.Time
	SealedAt         *time.Time
}

// FinalArtifact is the opaque structured result of a concluded debate.
type FinalArtifact struct {
	Choice       string                 `json:"choice"`
	Confidence   float64                `json:"confidence"`
	SupportingBy map[string]string      `json:"supporting_by,omitempty"` // agent -> rationale
	Extra        map[string]interface{} `json:"extra,omitempty"`
}

// DebateMessage is one agent's turn, appended once and never updated.
type DebateMessage struct {
	DebateID      string
	Round         int
	Agent         string
	Role          string
	Phase         types.Phase
	CognitiveRole string
	Content       string
	Confidence    *float64
	Citations     []string
	Sequence      int64
	Timestamp     time.Time
}

// Position is a claim attributable to an agent, extracted from a message.
type Position struct {
	ID               int64
	Agent            string
	Claim            string
	Confidence       float64
	Domain           string
	DebateID         string
	Round            int
	SourceMessageSeq int64
	Outcome          types.PositionOutcome
	Embedding        []float32
	Timestamp        time.Time
}

// Flip is a derived relation between two positions of the same agent.
type Flip struct {
	ID          int64
	Agent       string
	OriginalID  int64
	NewID       int64
	Similarity  float32
	Type        types.FlipType
	Domain      string
	DetectedAt  time.Time
}

// Match is an ELO rating event.
type Match struct {
	ID           int64
	DebateID     string
	Participants []string
	Winner       string // empty for a draw/no-consensus rankable tie
	EloChanges   map[string]float64
	Domain       string
	RecordedAt   time.Time
}

// AgentRating is per-agent, per-domain standing.
type AgentRating struct {
	Agent       string
	Domain      string
	Elo         float64
	Wins        int
	Losses      int
	Draws       int
	Consistency float64
}

// GamesPlayed is a derived counter (wins+losses+draws), not a column of
// its own.
func (r AgentRating) GamesPlayed() int {
	return r.Wins + r.Losses + r.Draws
}

// Event is the typed envelope published on the Event Bus.
type Event struct {
	Seq       uint64                 `json:"seq"`
	Type      types.EventType        `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	DebateID  string                 `json:"debate_id,omitempty"`
	Round     int                    `json:"round,omitempty"`
	Agent     string                 `json:"agent,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
}
