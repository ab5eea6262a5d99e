package agentinvoker

import (
	"context"
	"testing"
	"time"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/domain"
	"github.com/aragora/aragora/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	calls     int
	responses []fakeResponse
}

type fakeResponse struct {
	deltas []string
	usage  provider.Usage
	err    error
}

func (f *fakeClient) Stream(ctx context.Context, prompt string, opts provider.Options, onDelta func(provider.Delta)) (provider.Usage, error) {
	r := f.responses[f.calls]
	f.calls++
	for _, d := range r.deltas {
		onDelta(provider.Delta{Text: d})
	}
	return r.usage, r.err
}

type fakeSink struct {
	events []*domain.Event
}

func (f *fakeSink) Publish(ctx context.Context, e *domain.Event) error {
	f.events = append(f.events, e)
	return nil
}

func TestInvokeSucceedsOnFirstAttempt(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{deltas: []string{"hello ", "world"}, usage: provider.Usage{TotalTokens: 5}},
	}}
	sink := &fakeSink{}
	inv := New(client, sink, DefaultPolicy())

	msg, err := inv.Invoke(context.Background(), Input{DebateID: "d1", AgentID: "alice", Round: 1, MessagesSoFar: "prompt"})
	require.NoError(t, err)
	assert.Equal(t, "hello world", msg.Content)
	assert.Equal(t, 1, client.calls)

	var types []string
	for _, e := range sink.events {
		types = append(types, string(e.Type))
	}
	assert.Contains(t, types, "token_start")
	assert.Contains(t, types, "token_delta")
	assert.Contains(t, types, "token_end")
}

func TestInvokeRetriesTransientError(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{err: apperr.New(apperr.KindDependencyTransient, "boom", "transient failure")},
		{deltas: []string{"recovered"}, usage: provider.Usage{}},
	}}
	sink := &fakeSink{}
	policy := DefaultPolicy()
	policy.BaseBackoff = time.Millisecond
	inv := New(client, sink, policy)

	msg, err := inv.Invoke(context.Background(), Input{DebateID: "d1", AgentID: "alice", Round: 1, MessagesSoFar: "prompt"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", msg.Content)
	assert.Equal(t, 2, client.calls)

	starts := 0
	for _, e := range sink.events {
		if string(e.Type) == "token_start" {
			starts++
		}
	}
	assert.Equal(t, 1, starts, "a retried turn must still emit exactly one token_start")
}

func TestInvokeDoesNotRetryPermanentError(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{err: apperr.New(apperr.KindDependencyPermanent, "rejected", "permanent failure")},
	}}
	sink := &fakeSink{}
	inv := New(client, sink, DefaultPolicy())

	_, err := inv.Invoke(context.Background(), Input{DebateID: "d1", AgentID: "alice", Round: 1, MessagesSoFar: "prompt"})
	require.Error(t, err)
	assert.Equal(t, 1, client.calls)
	assert.True(t, apperr.Is(err, apperr.KindDependencyPermanent))
}

func TestInvokeTruncatesOverTokenBudget(t *testing.T) {
	client := &fakeClient{responses: []fakeResponse{
		{deltas: []string{"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"}, usage: provider.Usage{}},
	}}
	sink := &fakeSink{}
	policy := DefaultPolicy()
	policy.MaxTokensApprox = 2
	inv := New(client, sink, policy)

	msg, err := inv.Invoke(context.Background(), Input{DebateID: "d1", AgentID: "alice", Round: 1, MessagesSoFar: "prompt"})
	require.NoError(t, err)
	assert.Contains(t, msg.Content, "truncated")
}
