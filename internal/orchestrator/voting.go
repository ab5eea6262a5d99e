package orchestrator

import (
	"sort"

	"github.com/aragora/aragora/internal/types"
)

// Proposal is one agent's Propose-phase message from one round; every active
// agent contributes one per round, and all of them are surfaced to the
// Voting phase.
type Proposal struct {
	Agent      string
	Content    string
	Confidence float64
	Round      int
}

// Vote is one agent's ballot over the candidate proposals. Votes are
// ephemeral — only the tally result (consensus, confidence, winner) is
// durable, as `vote` events and the sealed Debate, not a Vote entity.
type Vote struct {
	Voter     string
	Candidate string // Proposal.Agent being voted for
}

// TallyResult is the outcome of applying a ConsensusPolicy to a set of
// votes.
type TallyResult struct {
	Winner           string
	ConsensusReached bool
	Confidence       float64
}

// Tally applies the configured consensus policy to votes over proposals.
// eloWeights is only consulted for the weighted policy; judgeVote is only
// consulted for the judge policy.
func Tally(policy types.ConsensusPolicy, threshold float64, proposals []Proposal, votes []Vote, eloWeights map[string]float64, judgeVote string) TallyResult {
	switch policy {
	case types.ConsensusJudge:
		return tallyJudge(proposals, judgeVote)
	case types.ConsensusUnanimous:
		return tallyUnanimous(votes)
	case types.ConsensusSupermajority:
		return tallyThreshold(proposals, votes, nil, threshold)
	case types.ConsensusWeighted:
		return tallyThreshold(proposals, votes, eloWeights, threshold)
	default: // majority
		return tallyMajority(proposals, votes)
	}
}

func voteCounts(votes []Vote) map[string]int {
	counts := make(map[string]int)
	for _, v := range votes {
		counts[v.Candidate]++
	}
	return counts
}

// tallyMajority picks the plurality winner, breaking ties by (a) highest
// mean confidence, (b) earliest proposal round.
func tallyMajority(proposals []Proposal, votes []Vote) TallyResult {
	if len(votes) == 0 {
		return TallyResult{}
	}
	counts := voteCounts(votes)

	best := plurality(counts, proposals)
	if best == "" {
		return TallyResult{}
	}
	return TallyResult{
		Winner:           best,
		ConsensusReached: true,
		Confidence:       float64(counts[best]) / float64(len(votes)),
	}
}

// plurality returns the candidate with the most votes, using proposals to
// break ties deterministically.
func plurality(counts map[string]int, proposals []Proposal) string {
	if len(counts) == 0 {
		return ""
	}
	maxCount := 0
	for _, c := range counts {
		if c > maxCount {
			maxCount = c
		}
	}
	var tied []string
	for candidate, c := range counts {
		if c == maxCount {
			tied = append(tied, candidate)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	sort.Strings(tied) // stable fallback ordering before confidence/round tiebreak
	return breakTie(tied, proposals)
}

func breakTie(candidates []string, proposals []Proposal) string {
	type stats struct {
		Confidence float64 // mean over the agent's proposals
		Round      int     // earliest proposal round
		n          int
	}
	byAgent := make(map[string]*stats)
	for _, p := range proposals {
		s, ok := byAgent[p.Agent]
		if !ok {
			s = &stats{Round: p.Round}
			byAgent[p.Agent] = s
		}
		s.Confidence = (s.Confidence*float64(s.n) + p.Confidence) / float64(s.n+1)
		s.n++
		if p.Round < s.Round {
			s.Round = p.Round
		}
	}

	best := candidates[0]
	for _, c := range candidates[1:] {
		bp, bok := byAgent[best]
		cp, cok := byAgent[c]
		if !bok {
			best = c
			continue
		}
		if !cok {
			continue
		}
		if cp.Confidence > bp.Confidence {
			best = c
		} else if cp.Confidence == bp.Confidence && cp.Round < bp.Round {
			best = c
		}
	}
	return best
}

func tallyUnanimous(votes []Vote) TallyResult {
	if len(votes) == 0 {
		return TallyResult{}
	}
	first := votes[0].Candidate
	for _, v := range votes[1:] {
		if v.Candidate != first {
			return TallyResult{}
		}
	}
	return TallyResult{Winner: first, ConsensusReached: true, Confidence: 1.0}
}

// tallyThreshold implements supermajority (weights==nil, every vote counts
// 1) and weighted (weights normalized so the maximum is 1).
func tallyThreshold(proposals []Proposal, votes []Vote, weights map[string]float64, threshold float64) TallyResult {
	if len(votes) == 0 {
		return TallyResult{}
	}

	normalized := weights
	if normalized != nil {
		maxW := 0.0
		for _, w := range normalized {
			if w > maxW {
				maxW = w
			}
		}
		if maxW > 0 {
			scaled := make(map[string]float64, len(normalized))
			for k, w := range normalized {
				scaled[k] = w / maxW
			}
			normalized = scaled
		}
	}

	weighted := make(map[string]float64)
	var total float64
	for _, v := range votes {
		w := 1.0
		if normalized != nil {
			if vw, ok := normalized[v.Voter]; ok {
				w = vw
			}
		}
		weighted[v.Candidate] += w
		total += w
	}
	if total == 0 {
		return TallyResult{}
	}

	var best string
	var bestWeight float64
	for candidate, w := range weighted {
		if w > bestWeight {
			best = candidate
			bestWeight = w
		}
	}
	fraction := bestWeight / total
	if fraction < threshold {
		return TallyResult{Winner: best, ConsensusReached: false, Confidence: fraction}
	}
	return TallyResult{Winner: best, ConsensusReached: true, Confidence: fraction}
}

func tallyJudge(proposals []Proposal, judgeVote string) TallyResult {
	if judgeVote == "" {
		return TallyResult{}
	}
	for _, p := range proposals {
		if p.Agent == judgeVote {
			return TallyResult{Winner: judgeVote, ConsensusReached: true, Confidence: p.Confidence}
		}
	}
	return TallyResult{Winner: judgeVote, ConsensusReached: true, Confidence: 1.0}
}
