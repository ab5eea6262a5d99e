// Package provider implements the Provider Client: one streaming call to one
// LLM provider, uniform across vendor APIs. Grounded on internal/agent's
// langchaingo wrapper, generalized from a blocking single-shot call to
// streaming via llms.WithStreamingFunc.
package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/llms"
	langopenai "github.com/tmc/langchaingo/llms/openai"
)

// Options configures one provider call.
type Options struct {
	Model             string
	Temperature       float32
	MaxTokens         int
	StopSequences     []string
	Timeout           time.Duration
	SystemPrompt      string
	CancellationToken <-chan struct{}
}

// Delta is one incremental chunk of a streamed response.
type Delta struct {
	Text string
}

// Usage summarizes token consumption for one call.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Client is the narrow contract every agent invocation goes through.
type Client interface {
	// Stream issues one call and invokes onDelta for each text chunk as it
	// arrives. It returns the final Usage summary once the sequence ends.
	// The sequence is finite and not restartable.
	Stream(ctx context.Context, prompt string, opts Options, onDelta func(Delta)) (Usage, error)
}

// OpenAIClient wraps langchaingo's OpenAI model with streaming enabled.
type OpenAIClient struct {
	llm llms.Model
}

// NewOpenAIClient constructs a Client backed by the OpenAI chat completion
// API. Keys are read once at construction and never logged.
func NewOpenAIClient(apiKey, model string) (*OpenAIClient, error) {
	opts := []langopenai.Option{
		langopenai.WithToken(apiKey),
		langopenai.WithModel(model),
	}
	llm, err := langopenai.New(opts...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyTransient, "provider_init_failed", "failed to create LLM client", err)
	}
	return &OpenAIClient{llm: llm}, nil
}

// Stream implements Client.
func (c *OpenAIClient) Stream(ctx context.Context, prompt string, opts Options, onDelta func(Delta)) (Usage, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	if opts.CancellationToken != nil {
		done := make(chan struct{})
		defer close(done)
		childCtx, cancel := context.WithCancel(ctx)
		ctx = childCtx
		go func() {
			select {
			case <-opts.CancellationToken:
				cancel()
			case <-done:
			}
		}()
	}

	messages := []llms.MessageContent{}
	if opts.SystemPrompt != "" {
		messages = append(messages, llms.TextParts(llms.ChatMessageTypeSystem, opts.SystemPrompt))
	}
	messages = append(messages, llms.TextParts(llms.ChatMessageTypeHuman, prompt))

	callOpts := []llms.CallOption{
		llms.WithTemperature(float64(opts.Temperature)),
		llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if len(chunk) > 0 {
				onDelta(Delta{Text: string(chunk)})
			}
			return nil
		}),
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}
	if len(opts.StopSequences) > 0 {
		callOpts = append(callOpts, llms.WithStopWords(opts.StopSequences))
	}

	resp, err := c.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return Usage{}, classifyError(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return Usage{}, apperr.New(apperr.KindDependencyTransient, "empty_response", "provider returned no choices")
	}

	usage := Usage{}
	if gi := resp.Choices[0].GenerationInfo; gi != nil {
		if v, ok := gi["CompletionTokens"].(int); ok {
			usage.CompletionTokens = v
		}
		if v, ok := gi["PromptTokens"].(int); ok {
			usage.PromptTokens = v
		}
		if v, ok := gi["TotalTokens"].(int); ok {
			usage.TotalTokens = v
		}
	}
	return usage, nil
}

// classifyError maps provider errors into the TransientError / PermanentError
// / Timeout / Canceled taxonomy required by the Provider Client contract.
func classifyError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return apperr.Wrap(apperr.KindCanceled, "provider_canceled", "provider call canceled", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.Wrap(apperr.KindTimeout, "provider_timeout", "provider call timed out", err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			return apperr.Wrap(apperr.KindDependencyTransient, "provider_rate_limited", "provider rate limited", err)
		case apiErr.HTTPStatusCode >= 500:
			return apperr.Wrap(apperr.KindDependencyTransient, "provider_5xx", "provider server error", err)
		case apiErr.HTTPStatusCode >= 400:
			return apperr.Wrap(apperr.KindDependencyPermanent, "provider_rejected", "provider rejected request", err)
		}
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline") {
		return apperr.Wrap(apperr.KindTimeout, "provider_timeout", "provider call timed out", err)
	}
	// Default to transient: network-shaped errors are the common case for
	// an unclassified failure and are safe to retry.
	return apperr.Wrap(apperr.KindDependencyTransient, "provider_error", "provider call failed", err)
}
