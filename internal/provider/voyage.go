package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// defaultVoyageEndpoint is the official Voyage AI API base URL.
const defaultVoyageEndpoint = "https://api.voyageai.com/v1"

// Voyage embeds text through the Voyage AI embeddings REST API. Voyage has
// no official Go SDK, so this speaks the wire format directly.
type Voyage struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
	model      string
	dim        int
}

// NewVoyage creates a Voyage embedder. endpoint may be empty for the
// official API.
func NewVoyage(apiKey, endpoint, model string, dim int) *Voyage {
	if endpoint == "" {
		endpoint = defaultVoyageEndpoint
	}

	return &Voyage{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		model:      model,
		dim:        dim,
	}
}

// Name implements Embedder.
func (*Voyage) Name() string { return "voyage" }

// Dimension implements Embedder.
func (v *Voyage) Dimension() int { return v.dim }

// EmbedOne implements Embedder.
func (v *Voyage) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := v.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

type voyageRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type voyageResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Detail string `json:"detail"` // error detail on non-2xx responses
}

// EmbedMany implements Embedder.
func (v *Voyage) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	body, err := json.Marshal(voyageRequest{Input: texts, Model: v.model})
	if err != nil {
		return nil, fmt.Errorf("%w: encoding voyage request: %w", ErrProvider, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building voyage request: %w", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: voyage embeddings request: %w", ErrProvider, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: reading voyage response: %w", ErrProvider, err)
	}

	var parsed voyageResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("%w: voyage returned status %d", ErrProvider, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: decoding voyage response: %w", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: voyage returned status %d: %s", ErrProvider, resp.StatusCode, parsed.Detail)
	}

	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("%w: voyage returned %d embeddings for %d inputs", ErrProvider, len(parsed.Data), len(texts))
	}

	// The API documents data entries in input order, but each carries its
	// index; honor it to keep the 1:1 order guarantee.
	vectors := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("%w: voyage returned out-of-range index %d", ErrProvider, d.Index)
		}
		if len(d.Embedding) == 0 {
			return nil, fmt.Errorf("%w: voyage returned an empty embedding at index %d", ErrProvider, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	for i, vec := range vectors {
		if vec == nil {
			return nil, fmt.Errorf("%w: voyage response missing embedding for index %d", ErrProvider, i)
		}
	}

	return vectors, nil
}
