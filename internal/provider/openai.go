package provider

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAI embeds text through the OpenAI embeddings API or any
// OpenAI-compatible endpoint (Azure, Ollama, OpenRouter-style gateways)
// reachable at a custom base URL.
type OpenAI struct {
	client openai.Client
	model  string
	dim    int
}

// NewOpenAI creates an OpenAI-compatible embedder. endpoint may be empty
// for the official API.
func NewOpenAI(apiKey, endpoint, model string, dim int) *OpenAI {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if endpoint != "" {
		opts = append(opts, option.WithBaseURL(endpoint))
	}

	return &OpenAI{
		client: openai.NewClient(opts...),
		model:  model,
		dim:    dim,
	}
}

// Name implements Embedder.
func (*OpenAI) Name() string { return "openai" }

// Dimension implements Embedder.
func (o *OpenAI) Dimension() int { return o.dim }

// EmbedOne implements Embedder.
func (o *OpenAI) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := o.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany implements Embedder.
func (o *OpenAI) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: openai embeddings request: %w", ErrProvider, err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d inputs", ErrProvider, len(resp.Data), len(texts))
	}

	vectors := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: openai returned an empty embedding at index %d", ErrProvider, i)
		}
		vec := make([]float32, len(d.Embedding))
		for j, v := range d.Embedding {
			vec[j] = float32(v)
		}
		vectors[i] = vec
	}

	return vectors, nil
}
