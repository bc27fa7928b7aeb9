package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
)

// FakeEmbedder produces deterministic unit vectors derived from the input
// text, so similar tests get stable similarity orderings without a real
// provider. Identical texts always embed identically.
type FakeEmbedder struct {
	Dim int

	// Calls tracks how many embedding requests were made.
	Calls int

	// Err, when set, is returned by every call.
	Err error
}

// NewFakeEmbedder creates a fake embedder with the given dimension.
func NewFakeEmbedder(dim int) *FakeEmbedder {
	return &FakeEmbedder{Dim: dim}
}

// Name implements the provider.Embedder shape.
func (*FakeEmbedder) Name() string { return "fake" }

// Dimension implements the provider.Embedder shape.
func (f *FakeEmbedder) Dimension() int { return f.Dim }

// EmbedOne embeds a single text.
func (f *FakeEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := f.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedMany embeds a batch, order-preserving and 1:1 with the input.
func (f *FakeEmbedder) EmbedMany(_ context.Context, texts []string) ([][]float32, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = f.vectorFor(text)
	}
	return vectors, nil
}

func (f *FakeEmbedder) vectorFor(text string) []float32 {
	sum := sha256.Sum256([]byte(text))

	vec := make([]float32, f.Dim)
	var norm float64
	for i := range vec {
		// Stretch the digest across the dimension deterministically.
		word := binary.BigEndian.Uint32(sum[(i*4)%(len(sum)-3):][:4])
		v := float32(word%2000)/1000 - 1 // [-1, 1)
		vec[i] = v
		norm += float64(v) * float64(v)
	}

	norm = math.Sqrt(norm)
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}
