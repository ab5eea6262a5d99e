// Package orchestrator implements the Debate Orchestrator: the round/phase
// state machine, convergence detection, voting and consensus policies, and
// termination handling. Grounded on internal/server/debate_manager.go's
// round loop (timeout watchdog, panic recovery, LoadActiveDebates
// reconnect-snapshot pattern reused for the sync event) and
// internal/conversation/conversation.go's phase-like turn alternation; the
// teacher's ad-hoc "game score" HP mechanic is replaced by the
// round/phase/consensus-policy machine below.
package orchestrator

import (
	"time"

	"github.com/aragora/aragora/internal/types"
)

// RoleAssignment is the role and cognitive-role label for one agent in one
// round, supporting cognitive-role rotation between rounds.
type RoleAssignment struct {
	Role          string
	CognitiveRole string
}

// RoleAssigner maps (round, agent) to a RoleAssignment.
type RoleAssigner func(round int, agentIndex int, agentID string) RoleAssignment

// DefaultRoleAssigner makes agent 0 the proposer and everyone else a critic,
// rotating the proposer seat every round so no single agent is always
// first.
func DefaultRoleAssigner(agents []string) RoleAssigner {
	n := len(agents)
	return func(round int, agentIndex int, agentID string) RoleAssignment {
		if n == 0 {
			return RoleAssignment{Role: "participant", CognitiveRole: "generalist"}
		}
		proposerIdx := (round - 1) % n
		if agentIndex == proposerIdx {
			return RoleAssignment{Role: "proposer", CognitiveRole: "synthesizer"}
		}
		return RoleAssignment{Role: "critic", CognitiveRole: "skeptic"}
	}
}

// ConvergenceConfig implements the early-stop-to-Voting rule: once
// consecutive rounds' proposals converge past SimilarityThreshold, the
// debate moves to Voting without spending its full round budget.
type ConvergenceConfig struct {
	Enabled             bool
	SimilarityThreshold float64
	MinRounds           int
}

// Config enumerates the recognized per-debate configuration options.
type Config struct {
	RoundsPlanned      int
	PhasesPerRound     []types.Phase
	Roles              RoleAssigner
	ConsensusPolicy    types.ConsensusPolicy
	ConsensusThreshold float64
	Convergence        ConvergenceConfig
	Deadline           time.Duration
	MinParticipants    int
	JudgeAgent         string // required when ConsensusPolicy == judge
	Domain             string
}

// DefaultPhases is Propose → Critique → Revise.
func DefaultPhases() []types.Phase {
	return []types.Phase{types.PhasePropose, types.PhaseCritique, types.PhaseRevise}
}
