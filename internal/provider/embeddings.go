package provider

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/aragora/aragora/internal/apperr"
	"github.com/aragora/aragora/internal/types"
	"github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

// EmbeddingClient generates vector embeddings for text and compares them.
// Grounded on internal/tools/vector_service.go's GetEmbedding/CosineSimilarity
// pair, used here by both the Orchestrator's convergence check and the
// Ranking & Flip Engine's position-similarity scan.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIEmbeddingClient calls OpenAI's embedding endpoint directly.
type OpenAIEmbeddingClient struct {
	client *openai.Client
	model  openai.EmbeddingModel
}

// NewOpenAIEmbeddingClient builds an EmbeddingClient over OpenAI's ada-002
// embedding model.
func NewOpenAIEmbeddingClient(apiKey string) *OpenAIEmbeddingClient {
	return &OpenAIEmbeddingClient{
		client: openai.NewClient(apiKey),
		model:  openai.AdaEmbeddingV2,
	}
}

// Embed implements EmbeddingClient.
func (v *OpenAIEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindInput, "empty_text", "cannot embed empty text")
	}

	resp, err := v.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: v.model,
		Input: []string{text},
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyTransient, "embedding_failed", "failed to create embedding", err)
	}
	if len(resp.Data) == 0 {
		return nil, apperr.New(apperr.KindDependencyTransient, "empty_embedding", "no embedding data received")
	}
	return resp.Data[0].Embedding, nil
}

// GeminiEmbeddingClient calls Google's generative AI embedding model via the
// official genai SDK, grounded on y437li-agentic_valuation's
// google.golang.org/genai client construction (genai.NewClient with
// BackendGeminiAPI).
type GeminiEmbeddingClient struct {
	apiKey string
	model  string
}

// NewGeminiEmbeddingClient builds an EmbeddingClient over Google's
// generative AI embedding model.
func NewGeminiEmbeddingClient(apiKey string) *GeminiEmbeddingClient {
	return &GeminiEmbeddingClient{apiKey: apiKey, model: "embedding-001"}
}

// Embed implements EmbeddingClient. The genai client is constructed lazily
// per call since it is cheap and stateless beyond the API key.
func (g *GeminiEmbeddingClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if g.apiKey == "" {
		return nil, apperr.New(apperr.KindInput, "missing_gemini_key", "GEMINI_API_KEY not configured")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apperr.New(apperr.KindInput, "empty_text", "cannot embed empty text")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyTransient, "gemini_client_failed", "failed to create genai client", err)
	}

	resp, err := client.Models.EmbedContent(ctx, g.model, []*genai.Content{
		{Parts: []*genai.Part{{Text: text}}},
	}, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindDependencyTransient, "gemini_embedding_failed", "failed to create gemini embedding", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, apperr.New(apperr.KindDependencyTransient, "empty_embedding", "no embedding data received")
	}
	return resp.Embeddings[0].Values, nil
}

// NewEmbeddingClient selects an EmbeddingClient by configured provider,
// falling back to OpenAI for "auto" when an OpenAI key is present.
func NewEmbeddingClient(providerKind types.EmbeddingProvider, openAIKey, geminiKey string) (EmbeddingClient, error) {
	switch providerKind {
	case types.EmbeddingGemini:
		return NewGeminiEmbeddingClient(geminiKey), nil
	case types.EmbeddingSentenceTransformer:
		return nil, apperr.New(apperr.KindInput, "unsupported_provider", "sentence-transformers embedding provider requires an external sidecar, not configured")
	case types.EmbeddingOpenAI, types.EmbeddingAuto:
		if openAIKey == "" {
			return nil, apperr.New(apperr.KindInput, "missing_openai_key", "OPENAI_API_KEY not configured")
		}
		return NewOpenAIEmbeddingClient(openAIKey), nil
	default:
		return nil, apperr.New(apperr.KindInput, "unknown_provider", fmt.Sprintf("unknown embedding provider %q", providerKind))
	}
}

// CosineSimilarity computes cosine similarity between two equal-length
// vectors, matching internal/tools/vector_service.go exactly.
func CosineSimilarity(vec1, vec2 []float32) float32 {
	if len(vec1) != len(vec2) || len(vec1) == 0 {
		return 0
	}

	var dotProduct, norm1, norm2 float32
	for i := 0; i < len(vec1); i++ {
		dotProduct += vec1[i] * vec2[i]
		norm1 += vec1[i] * vec1[i]
		norm2 += vec2[i] * vec2[i]
	}
	if norm1 == 0 || norm2 == 0 {
		return 0
	}
	return dotProduct / (float32(math.Sqrt(float64(norm1))) * float32(math.Sqrt(float64(norm2))))
}
