package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aragora/aragora/internal/agentinvoker"
	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/events"
	"github.com/aragora/aragora/internal/logging"
	"github.com/aragora/aragora/internal/provider"
	"github.com/aragora/aragora/internal/ranking"
	"github.com/aragora/aragora/internal/storage"
	"github.com/aragora/aragora/internal/types"
	"golang.org/x/sync/errgroup"
)

// VoteCaster decides one agent's vote over the surfaced proposals. The
// default implementation is a simple self/confidence preference; an
// LLM-backed implementation (grounded on internal/tools/conviction_judge.go's
// structured-judgment pattern) can be substituted for either genuinely
// independent per-agent voting or the judge consensus policy.
type VoteCaster interface {
	CastVote(ctx context.Context, agentID string, proposals []Proposal) (Vote, error)
}

// SelfPreferenceVoteCaster votes for whichever agent (possibly itself)
// proposed content identical to the voter's own stance, preferring the
// alphabetically-first such agent so that N agents converging on the same
// claim cast a genuinely unanimous ballot rather than N-way self-votes.
// Falls back to the highest-confidence proposal when the voter made no
// proposal of its own to compare against.
type SelfPreferenceVoteCaster struct{}

func (SelfPreferenceVoteCaster) CastVote(ctx context.Context, agentID string, proposals []Proposal) (Vote, error) {
	var mine string
	haveOwn := false
	for _, p := range proposals {
		if p.Agent == agentID {
			mine = p.Content
			haveOwn = true
			break
		}
	}
	if haveOwn {
		candidate := ""
		for _, p := range proposals {
			if p.Content != mine {
				continue
			}
			if candidate == "" || p.Agent < candidate {
				candidate = p.Agent
			}
		}
		if candidate != "" {
			return Vote{Voter: agentID, Candidate: candidate}, nil
		}
	}
	best := bestByConfidence(proposals)
	if best == "" {
		return Vote{}, apperr.New(apperr.KindInput, "no_proposals", "no proposals to vote on")
	}
	return Vote{Voter: agentID, Candidate: best}, nil
}

func bestByConfidence(proposals []Proposal) string {
	best := ""
	bestConf := -1.0
	for _, p := range proposals {
		if p.Confidence > bestConf {
			best = p.Agent
			bestConf = p.Confidence
		}
	}
	return best
}

// Deps are the Orchestrator's capability dependencies, each narrowed to the
// interface it actually needs.
type Deps struct {
	Storage    storage.Adapter
	Bus        events.Sink
	Invokers   map[string]*agentinvoker.Invoker
	Embedder   provider.EmbeddingClient
	VoteCaster VoteCaster
	Thresholds ranking.Thresholds
	KFactor    float64
}

// Orchestrator drives one debate through Created → Running → Voting →
// Sealing → Terminal.
type Orchestrator struct {
	deps        Deps
	priorsCache *ranking.CandidateCache
}

// New constructs an Orchestrator.
func New(deps Deps) *Orchestrator {
	if deps.VoteCaster == nil {
		deps.VoteCaster = SelfPreferenceVoteCaster{}
	}
	if deps.Thresholds == (ranking.Thresholds{}) {
		deps.Thresholds = ranking.DefaultThresholds()
	}
	return &Orchestrator{
		deps: deps,
		// 20s TTL covers a debate round's typical fan-out window; 64
		// entries comfortably covers every agent/domain pair a single
		// debate touches.
		priorsCache: ranking.NewCandidateCache(64, 20*time.Second),
	}
}

// Request describes one debate to run to completion.
type Request struct {
	DebateID  string
	Slug      string
	Task      string
	Agents    []string
	CreatedBy string
	Cfg       Config
}

func normalizeConfig(cfg Config, agents []string) Config {
	if cfg.RoundsPlanned < 1 {
		cfg.RoundsPlanned = 1
	}
	if len(cfg.PhasesPerRound) == 0 {
		cfg.PhasesPerRound = DefaultPhases()
	}
	if cfg.Roles == nil {
		cfg.Roles = DefaultRoleAssigner(agents)
	}
	if !cfg.ConsensusPolicy.IsValid() {
		cfg.ConsensusPolicy = types.ConsensusMajority
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = 0.5
	}
	if cfg.MinParticipants < 2 {
		cfg.MinParticipants = 2
	}
	if cfg.Domain == "" {
		cfg.Domain = "general"
	}
	return cfg
}

// Run executes a debate to completion, returning the sealed Debate.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*domain.Debate, error) {
	cfg := normalizeConfig(req.Cfg, req.Agents)

	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	debate := &domain.Debate{
		DebateID:      req.DebateID,
		Slug:          req.Slug,
		Task:          req.Task,
		Agents:        req.Agents,
		RoundsPlanned: cfg.RoundsPlanned,
		CreatedBy:     req.CreatedBy,
		CreatedAt:     time.Now(),
	}
	if err := o.deps.Storage.CreateDebate(ctx, debate); err != nil {
		return nil, err
	}
	logging.LogOrchestratorEvent("state_created", debate.DebateID, 0, nil)

	if err := o.publish(ctx, debate.DebateID, 0, "", types.EventDebateStart, map[string]interface{}{
		"task": req.Task, "agents": req.Agents, "rounds_planned": cfg.RoundsPlanned,
	}); err != nil {
		return o.sealError(ctx, debate, err)
	}

	active := append([]string{}, req.Agents...)
	var proposals []Proposal
	var lastRoundMessages map[string]*domain.DebateMessage
	convergenceStreak := 0

	round := 1
	for ; round <= cfg.RoundsPlanned; round++ {
		if ctx.Err() != nil {
			return o.sealCanceled(ctx, debate)
		}
		if len(active) < cfg.MinParticipants {
			return o.sealError(ctx, debate, apperr.New(apperr.KindIntegrity, "too_few_participants", "fewer than min_participants remain active"))
		}

		logging.LogOrchestratorEvent("round_start", debate.DebateID, round, map[string]interface{}{"active_agents": active})
		if err := o.publish(ctx, debate.DebateID, round, "", types.EventRoundStart, nil); err != nil {
			return o.sealError(ctx, debate, err)
		}

		roundMessages := make(map[string]*domain.DebateMessage)
		var failedThisRound []string

		for _, phase := range cfg.PhasesPerRound {
			if ctx.Err() != nil {
				return o.sealCanceled(ctx, debate)
			}

			// Agents are invoked concurrently within a phase — they don't
			// observe each other's output until the next round anyway — but
			// persistence and event emission below replays the results in
			// `active` order, so the durable log and the event stream stay
			// deterministic regardless of which agent's call finished first.
			results := make([]struct {
				msg *domain.DebateMessage
				err error
			}, len(active))

			var g errgroup.Group
			g.SetLimit(fanOutLimit(len(active)))
			for i, agentID := range active {
				i, agentID := i, agentID
				assignment := cfg.Roles(round, i, agentID)
				g.Go(func() error {
					msg, err := o.invokeAgent(ctx, debate.DebateID, agentID, assignment, phase, round, lastRoundMessages)
					results[i] = struct {
						msg *domain.DebateMessage
						err error
					}{msg, err}
					return nil
				})
			}
			_ = g.Wait()

			for i, agentID := range active {
				r := results[i]
				if r.err != nil {
					logging.LogOrchestratorEvent("agent_turn_failed", debate.DebateID, round, map[string]interface{}{"agent": agentID, "phase": phase, "error": r.err.Error()})
					failedThisRound = append(failedThisRound, agentID)
					continue
				}

				seq, err := o.deps.Storage.AppendMessage(ctx, r.msg)
				if err != nil {
					return o.sealError(ctx, debate, err)
				}
				r.msg.Sequence = seq
				roundMessages[agentID] = r.msg

				if err := o.publish(ctx, debate.DebateID, round, agentID, types.EventAgentMessage, map[string]interface{}{
					"role": r.msg.Role, "phase": string(r.msg.Phase), "content": r.msg.Content, "sequence": seq,
				}); err != nil {
					return o.sealError(ctx, debate, err)
				}

				if phase == types.PhasePropose {
					proposals = append(proposals, extractProposal(r.msg))
				}
			}
		}

		active = removeAll(active, failedThisRound)

		similarity, err := o.roundSimilarity(ctx, roundMessages)
		if err != nil {
			logging.LogOrchestratorEvent("similarity_failed", debate.DebateID, round, map[string]interface{}{"error": err.Error()})
			similarity = 0
		}
		if err := o.publish(ctx, debate.DebateID, round, "", types.EventRoundEnd, map[string]interface{}{"similarity": similarity}); err != nil {
			return o.sealError(ctx, debate, err)
		}

		if err := o.extractAndRecordPositions(ctx, debate, round, roundMessages); err != nil {
			return o.sealError(ctx, debate, err)
		}

		lastRoundMessages = roundMessages

		if cfg.Convergence.Enabled && round >= cfg.Convergence.MinRounds {
			if similarity >= cfg.Convergence.SimilarityThreshold {
				convergenceStreak++
			} else {
				convergenceStreak = 0
			}
			if convergenceStreak >= 2 {
				round++
				break
			}
		}
	}
	debate.RoundsUsed = round - 1
	if debate.RoundsUsed > cfg.RoundsPlanned {
		debate.RoundsUsed = cfg.RoundsPlanned
	}

	return o.voteAndSeal(ctx, debate, cfg, active, proposals)
}

// fanOutLimit bounds how many agents are invoked concurrently within one
// phase, so a debate with many participants doesn't open one provider
// connection per agent at once.
const maxConcurrentAgents = 8

func fanOutLimit(activeCount int) int {
	if activeCount < 1 {
		return 1
	}
	if activeCount > maxConcurrentAgents {
		return maxConcurrentAgents
	}
	return activeCount
}

func (o *Orchestrator) invokeAgent(ctx context.Context, debateID, agentID string, assignment RoleAssignment, phase types.Phase, round int, priorRound map[string]*domain.DebateMessage) (*domain.DebateMessage, error) {
	inv, ok := o.deps.Invokers[agentID]
	if !ok {
		return nil, apperr.New(apperr.KindInput, "unknown_agent", "no invoker configured for agent "+agentID)
	}

	prompt := buildPrompt(agentID, assignment, phase, round, priorRound)
	msg, err := inv.Invoke(ctx, agentinvoker.Input{
		DebateID:      debateID,
		AgentID:       agentID,
		Role:          assignment.Role,
		CognitiveRole: assignment.CognitiveRole,
		Round:         round,
		MessagesSoFar: prompt,
	})
	if err != nil {
		return nil, err
	}
	msg.Phase = phase
	if msg.Confidence == nil {
		conf := scoreConfidence(msg.Content)
		msg.Confidence = &conf
	}
	return msg, nil
}

func buildPrompt(agentID string, assignment RoleAssignment, phase types.Phase, round int, priorRound map[string]*domain.DebateMessage) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Round %d, phase %s, role %s (%s).\n", round, phase, assignment.Role, assignment.CognitiveRole)
	if len(priorRound) > 0 {
		b.WriteString("Prior round positions:\n")
		agents := make([]string, 0, len(priorRound))
		for a := range priorRound {
			agents = append(agents, a)
		}
		sort.Strings(agents)
		for _, a := range agents {
			fmt.Fprintf(&b, "- %s: %s\n", a, priorRound[a].Content)
		}
	}
	return b.String()
}

func extractProposal(msg *domain.DebateMessage) Proposal {
	conf := 0.5
	if msg.Confidence != nil {
		conf = *msg.Confidence
	}
	return Proposal{Agent: msg.Agent, Content: msg.Content, Confidence: conf, Round: msg.Round}
}

func removeAll(from []string, remove []string) []string {
	if len(remove) == 0 {
		return from
	}
	drop := make(map[string]bool, len(remove))
	for _, r := range remove {
		drop[r] = true
	}
	out := from[:0:0]
	for _, a := range from {
		if !drop[a] {
			out = append(out, a)
		}
	}
	return out
}

func (o *Orchestrator) roundSimilarity(ctx context.Context, roundMessages map[string]*domain.DebateMessage) (float64, error) {
	if len(roundMessages) < 2 || o.deps.Embedder == nil {
		return 0, nil
	}
	embeddings := make(map[string][]float32, len(roundMessages))
	for agent, msg := range roundMessages {
		vec, err := o.deps.Embedder.Embed(ctx, msg.Content)
		if err != nil {
			return 0, err
		}
		embeddings[agent] = vec
	}

	var total float32
	var pairs int
	agents := make([]string, 0, len(embeddings))
	for a := range embeddings {
		agents = append(agents, a)
	}
	sort.Strings(agents)
	for i := 0; i < len(agents); i++ {
		for j := i + 1; j < len(agents); j++ {
			total += provider.CosineSimilarity(embeddings[agents[i]], embeddings[agents[j]])
			pairs++
		}
	}
	if pairs == 0 {
		return 0, nil
	}
	return float64(total) / float64(pairs), nil
}

func (o *Orchestrator) extractAndRecordPositions(ctx context.Context, debate *domain.Debate, round int, roundMessages map[string]*domain.DebateMessage) error {
	for agent, msg := range roundMessages {
		var embedding []float32
		if o.deps.Embedder != nil {
			vec, err := o.deps.Embedder.Embed(ctx, msg.Content)
			if err == nil {
				embedding = vec
			}
		}
		conf := 0.5
		if msg.Confidence != nil {
			conf = *msg.Confidence
		}
		pos := &domain.Position{
			Agent: agent, Claim: msg.Content, Confidence: conf, Domain: "general",
			DebateID: debate.DebateID, Round: round, SourceMessageSeq: msg.Sequence,
			Outcome: types.PositionPending, Embedding: embedding, Timestamp: time.Now(),
		}
		id, err := o.deps.Storage.SavePosition(ctx, pos)
		if err != nil {
			return err
		}
		pos.ID = id

		cacheKey := agent + "|general"
		priors, ok := o.priorsCache.Get(cacheKey)
		if !ok {
			priors, err = o.deps.Storage.RecentPositions(ctx, agent, "general", 20)
			if err != nil {
				return err
			}
		}
		flips := ranking.DetectFlips(agent, *pos, priors, o.deps.Thresholds)

		// This position is itself a future round's prior: fold it into the
		// cached candidate list now instead of invalidating, so the next
		// round's lookup for this agent hits the cache instead of
		// replaying the same RecentPositions query.
		updated := append([]domain.Position{*pos}, priors...)
		if len(updated) > 20 {
			updated = updated[:20]
		}
		o.priorsCache.Set(cacheKey, updated)
		for _, f := range flips {
			if _, err := o.deps.Storage.SaveFlip(ctx, &f); err != nil {
				return err
			}
			if err := o.publish(ctx, debate.DebateID, round, agent, types.EventFlipDetected, map[string]interface{}{
				"type": string(f.Type), "similarity": f.Similarity,
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (o *Orchestrator) voteAndSeal(ctx context.Context, debate *domain.Debate, cfg Config, active []string, proposals []Proposal) (*domain.Debate, error) {
	if ctx.Err() != nil {
		return o.sealCanceled(ctx, debate)
	}
	if len(proposals) == 0 {
		return o.sealNoConsensus(ctx, debate, 0)
	}

	var votes []Vote
	var judgeVote string
	for _, agentID := range active {
		v, err := o.deps.VoteCaster.CastVote(ctx, agentID, proposals)
		if err != nil {
			continue
		}
		votes = append(votes, v)
		if agentID == cfg.JudgeAgent {
			judgeVote = v.Candidate
		}
		if err := o.publish(ctx, debate.DebateID, debate.RoundsUsed, agentID, types.EventVote, map[string]interface{}{"candidate": v.Candidate}); err != nil {
			return o.sealError(ctx, debate, err)
		}
	}

	var eloWeights map[string]float64
	if cfg.ConsensusPolicy == types.ConsensusWeighted {
		eloWeights = make(map[string]float64, len(active))
		for _, agentID := range active {
			r, err := o.deps.Storage.GetRating(ctx, agentID, cfg.Domain)
			if err != nil {
				return o.sealError(ctx, debate, err)
			}
			eloWeights[agentID] = r.Elo
		}
	}

	result := Tally(cfg.ConsensusPolicy, cfg.ConsensusThreshold, proposals, votes, eloWeights, judgeVote)

	if err := o.publish(ctx, debate.DebateID, debate.RoundsUsed, "", types.EventConsensus, map[string]interface{}{
		"winner": result.Winner, "consensus_reached": result.ConsensusReached, "confidence": result.Confidence,
	}); err != nil {
		return o.sealError(ctx, debate, err)
	}

	if !result.ConsensusReached {
		return o.sealNoConsensus(ctx, debate, result.Confidence)
	}
	return o.sealConsensus(ctx, debate, cfg, active, result)
}

func (o *Orchestrator) sealConsensus(ctx context.Context, debate *domain.Debate, cfg Config, active []string, result TallyResult) (*domain.Debate, error) {
	ratings := make(map[string]float64, len(active))
	for _, a := range active {
		r, err := o.deps.Storage.GetRating(ctx, a, cfg.Domain)
		if err != nil {
			return o.sealError(ctx, debate, err)
		}
		ratings[a] = r.Elo
	}

	match, updated, err := ranking.ComputeMatch(debate.DebateID, cfg.Domain, result.Winner, active, ratings, o.deps.KFactor)
	if err != nil {
		return o.sealError(ctx, debate, err)
	}
	match.RecordedAt = time.Now()
	if err := o.deps.Storage.RecordMatch(ctx, match, updated); err != nil {
		return o.sealError(ctx, debate, err)
	}
	if err := o.publish(ctx, debate.DebateID, debate.RoundsUsed, "", types.EventMatchRecorded, map[string]interface{}{"winner": match.Winner}); err != nil {
		return o.sealError(ctx, debate, err)
	}
	scores := make(map[string]interface{}, len(updated))
	for _, r := range updated {
		scores[r.Agent] = r.Elo
	}
	logging.LogScoreEvent("match_recorded", debate.DebateID, scores)

	conf := result.Confidence
	artifact := &domain.FinalArtifact{Choice: result.Winner, Confidence: conf}

	if err := o.deps.Storage.SealDebate(ctx, debate.DebateID, artifact, string(types.OutcomeConsensus), &conf); err != nil {
		return o.sealError(ctx, debate, err)
	}
	debate.ConsensusReached = true
	debate.Confidence = &conf
	debate.FinalArtifact = artifact
	debate.Outcome = types.OutcomeConsensus
	logging.LogDebateEvent("sealed", debate.DebateID, map[string]interface{}{"outcome": string(types.OutcomeConsensus), "winner": result.Winner, "confidence": conf})

	if err := o.publish(ctx, debate.DebateID, debate.RoundsUsed, "", types.EventDebateEnd, map[string]interface{}{"outcome": string(types.OutcomeConsensus)}); err != nil {
		return debate, err
	}
	return debate, nil
}

func (o *Orchestrator) sealNoConsensus(ctx context.Context, debate *domain.Debate, confidence float64) (*domain.Debate, error) {
	if err := o.deps.Storage.SealDebate(ctx, debate.DebateID, nil, string(types.OutcomeNoConsensus), nil); err != nil {
		return o.sealError(ctx, debate, err)
	}
	debate.Outcome = types.OutcomeNoConsensus
	logging.LogDebateEvent("sealed", debate.DebateID, map[string]interface{}{"outcome": string(types.OutcomeNoConsensus), "confidence": confidence})
	_ = o.publish(ctx, debate.DebateID, debate.RoundsUsed, "", types.EventDebateEnd, map[string]interface{}{"outcome": string(types.OutcomeNoConsensus)})
	return debate, nil
}

func (o *Orchestrator) sealCanceled(ctx context.Context, debate *domain.Debate) (*domain.Debate, error) {
	bg := context.Background()
	_ = o.deps.Storage.SealDebate(bg, debate.DebateID, nil, string(types.OutcomeCanceled), nil)
	debate.Outcome = types.OutcomeCanceled
	logging.LogDebateEvent("sealed", debate.DebateID, map[string]interface{}{"outcome": string(types.OutcomeCanceled)})
	for _, agentID := range debate.Agents {
		_ = o.publish(bg, debate.DebateID, debate.RoundsUsed, agentID, types.EventTokenEnd, map[string]interface{}{"partial": true})
	}
	_ = o.publish(bg, debate.DebateID, debate.RoundsUsed, "", types.EventDebateEnd, map[string]interface{}{"outcome": string(types.OutcomeCanceled)})
	return debate, apperr.New(apperr.KindCanceled, "debate_canceled", "debate canceled")
}

func (o *Orchestrator) sealError(ctx context.Context, debate *domain.Debate, cause error) (*domain.Debate, error) {
	bg := context.Background()
	_ = o.deps.Storage.SealDebate(bg, debate.DebateID, nil, string(types.OutcomeError), nil)
	debate.Outcome = types.OutcomeError
	logging.LogDebateEvent("sealed", debate.DebateID, map[string]interface{}{"outcome": string(types.OutcomeError), "error": cause.Error()})
	_ = o.publish(bg, debate.DebateID, debate.RoundsUsed, "", types.EventError, map[string]interface{}{"error": cause.Error()})
	_ = o.publish(bg, debate.DebateID, debate.RoundsUsed, "", types.EventDebateEnd, map[string]interface{}{"outcome": string(types.OutcomeError)})
	return debate, cause
}

func (o *Orchestrator) publish(ctx context.Context, debateID string, round int, agent string, t types.EventType, data map[string]interface{}) error {
	return o.deps.Bus.Publish(ctx, &domain.Event{
		Type: t, Timestamp: time.Now(), DebateID: debateID, Round: round, Agent: agent, Data: data,
	})
}
