// Package agentinvoker wraps the Provider Client for one agent turn: retry
// with backoff, cancellation, approximate token accounting, and token_*
// event emission. Grounded on internal/server/debate_manager.go's per-turn
// agent call loop, which has no retry of its own; this adds the
// exponential-backoff/timeout/cancellation machinery following the shape of
// its existing context.Context-threaded calls.
package agentinvoker

import (
	"context"
	"math/rand"
	"time"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/events"
	"github.com/aragora/aragora/internal/logging"
	"github.com/aragora/aragora/internal/provider"
	"github.com/aragora/aragora/internal/types"
	"github.com/google/uuid"
)

// Input describes one agent turn.
type Input struct {
	DebateID      string
	AgentID       string
	Role          string
	CognitiveRole string
	Round         int
	MessagesSoFar string // prompt context already assembled by the Orchestrator
	SystemPrompt  string
	Deadline      time.Time
	Options       provider.Options
}

// Policy configures retry and token-budget behavior.
type Policy struct {
	MaxAttempts          int
	BaseBackoff          time.Duration
	MaxBackoff           time.Duration
	PartialOutputSafety  int // min chars of partial output before a Timeout is not retried
	MaxTokensApprox      int // hard per-call token budget (approximate)
	OnRetry              func()
}

// DefaultPolicy is a conservative retry posture with added jitter so many
// agents backing off at once don't retry in lockstep.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:         3,
		BaseBackoff:         250 * time.Millisecond,
		MaxBackoff:          4 * time.Second,
		PartialOutputSafety: 40,
		MaxTokensApprox:     4000,
	}
}

// Invoker drives one Provider Client through the retry/timeout/cancellation
// policy and emits token_start/token_delta/token_end/error events.
type Invoker struct {
	client provider.Client
	sink   events.Sink
	policy Policy
}

// New constructs an Invoker.
func New(client provider.Client, sink events.Sink, policy Policy) *Invoker {
	return &Invoker{client: client, sink: sink, policy: policy}
}

// Invoke runs one agent turn to completion, materializing a DebateMessage.
// It does not write the message durably or emit agent_message: that is the
// Orchestrator's job, since only the Orchestrator knows the authoritative
// sequence number and final phase.
func (inv *Invoker) Invoke(ctx context.Context, in Input) (*domain.DebateMessage, error) {
	if !in.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, in.Deadline)
		defer cancel()
	}

	var lastErr error
	var partial string

	turnID := uuid.New().String()
	inv.emit(ctx, in, types.EventTokenStart, map[string]interface{}{"turn_id": turnID})

	for attempt := 1; attempt <= inv.policy.MaxAttempts; attempt++ {
		out, usedTokens, err := inv.attempt(ctx, in, turnID)
		if err == nil {
			msg := &domain.DebateMessage{
				DebateID:      in.DebateID,
				Round:         in.Round,
				Agent:         in.AgentID,
				Role:          in.Role,
				CognitiveRole: in.CognitiveRole,
				Content:       out,
				Timestamp:     time.Now(),
			}
			_ = usedTokens
			return msg, nil
		}

		lastErr = err
		if out != "" {
			partial = out
		}

		if !inv.retriable(err, partial) {
			return nil, err
		}
		if attempt == inv.policy.MaxAttempts {
			break
		}
		if inv.policy.OnRetry != nil {
			inv.policy.OnRetry()
		}

		select {
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindCanceled, "invoker_canceled", "invocation canceled during backoff", ctx.Err())
		case <-time.After(inv.backoff(attempt)):
		}
	}

	inv.emitError(ctx, in, lastErr)
	return nil, lastErr
}

// attempt runs a single Provider Client stream, emitting token_delta and
// token_end on success. token_start is emitted once per Invoke call, not
// once per retry attempt, so turnID is threaded in from there.
func (inv *Invoker) attempt(ctx context.Context, in Input, turnID string) (string, int, error) {
	var content string
	var approxTokens int
	truncated := false

	opts := in.Options
	opts.SystemPrompt = in.SystemPrompt

	usage, err := inv.client.Stream(ctx, in.MessagesSoFar, opts, func(d provider.Delta) {
		if truncated {
			return
		}
		approxTokens += approxTokenCount(d.Text)
		if inv.policy.MaxTokensApprox > 0 && approxTokens >= inv.policy.MaxTokensApprox {
			content += d.Text + " […truncated]"
			truncated = true
			return
		}
		content += d.Text
		inv.emit(ctx, in, types.EventTokenDelta, map[string]interface{}{"turn_id": turnID, "text": d.Text})
	})
	if err != nil {
		inv.emit(ctx, in, types.EventError, map[string]interface{}{"turn_id": turnID, "error": err.Error()})
		return content, approxTokens, err
	}

	inv.emit(ctx, in, types.EventTokenEnd, map[string]interface{}{
		"turn_id":           turnID,
		"prompt_tokens":     usage.PromptTokens,
		"completion_tokens": usage.CompletionTokens,
		"total_tokens":      usage.TotalTokens,
		"truncated":         truncated,
	})
	return content, approxTokens, nil
}

// retriable decides whether err warrants another attempt: TransientError
// always retries, PermanentError/Canceled never do, Timeout only retries
// when the partial output gathered so far is below the safety threshold.
func (inv *Invoker) retriable(err error, partial string) bool {
	switch {
	case apperr.Is(err, apperr.KindDependencyTransient):
		return true
	case apperr.Is(err, apperr.KindTimeout):
		return len(partial) < inv.policy.PartialOutputSafety
	default:
		return false
	}
}

func (inv *Invoker) backoff(attempt int) time.Duration {
	d := inv.policy.BaseBackoff * time.Duration(1<<uint(attempt-1))
	if d > inv.policy.MaxBackoff {
		d = inv.policy.MaxBackoff
	}
	jitter := time.Duration(rand.Int63n(int64(d) / 2))
	return d/2 + jitter
}

func (inv *Invoker) emit(ctx context.Context, in Input, t types.EventType, data map[string]interface{}) {
	e := &domain.Event{
		Type:      t,
		Timestamp: time.Now(),
		DebateID:  in.DebateID,
		Round:     in.Round,
		Agent:     in.AgentID,
		Data:      data,
	}
	if err := inv.sink.Publish(ctx, e); err != nil {
		logging.LogAgentEvent("invoker_publish_failed", in.AgentID, in.DebateID, map[string]interface{}{"error": err.Error()})
	}
}

func (inv *Invoker) emitError(ctx context.Context, in Input, err error) {
	inv.emit(ctx, in, types.EventError, map[string]interface{}{"error": err.Error(), "final": true})
}

// approxTokenCount is a cheap, provider-agnostic estimate: ~4 characters per
// token, the same rule of thumb used elsewhere for word-based heuristics
// rather than a vendor tokenizer dependency.
func approxTokenCount(s string) int {
	n := len(s) / 4
	if n == 0 && s != "" {
		n = 1
	}
	return n
}
