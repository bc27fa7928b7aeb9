// Package provider abstracts pluggable embedding backends.
//
// Two implementations ship: an OpenAI-compatible client (covering OpenAI
// itself plus any endpoint speaking its embeddings API) and a Voyage AI
// client. Selection is configuration-driven through New; a dedicated
// embedding key/endpoint overrides the general provider credentials so a
// chat LLM provider can be mixed with a different embedding provider.
package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/qaz741wsd856/blinko/internal/config"
)

// ErrProvider indicates an embedding backend was unreachable or rejected
// the request. Callers decide retry or skip policy.
var ErrProvider = errors.New("embedding provider error")

// Embedder converts text into fixed-dimension vectors.
type Embedder interface {
	// Name identifies the backend, e.g. "openai" or "voyage".
	Name() string

	// Dimension is the configured output vector dimension.
	Dimension() int

	// EmbedOne embeds a single text.
	EmbedOne(ctx context.Context, text string) ([]float32, error)

	// EmbedMany embeds a batch of texts. The result is order-preserving and
	// 1:1 with the input.
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// New builds the embedder selected by cfg.
//
// When an embedding-specific API key is configured it takes precedence over
// the general provider credentials: OpenAI-family providers switch to an
// OpenAI-compatible client built from the override key and endpoint, while
// Voyage stays on its own transport with the override applied.
func New(cfg *config.Config) (Embedder, error) {
	model := cfg.ResolvedEmbeddingModel()

	if cfg.EmbeddingAPIKey != "" {
		if cfg.Provider == config.ProviderVoyage {
			return NewVoyage(cfg.EmbeddingAPIKey, cfg.EmbeddingAPIEndpoint, model, cfg.EmbeddingDimensions), nil
		}
		return NewOpenAI(cfg.EmbeddingAPIKey, cfg.EmbeddingAPIEndpoint, model, cfg.EmbeddingDimensions), nil
	}

	switch cfg.Provider {
	case config.ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.APIEndpoint, model, cfg.EmbeddingDimensions), nil
	case config.ProviderVoyage:
		return NewVoyage(cfg.APIKey, cfg.APIEndpoint, model, cfg.EmbeddingDimensions), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", config.ErrInvalidProvider, cfg.Provider)
	}
}
