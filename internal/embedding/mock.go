package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"os"

	"github.com/hyperjump/mitsukeru/pkg/utils"
)

// MockGateway is a deterministic gateway for tests and for running without
// a model. It derives a fixed-dimension unit vector from the file's content
// hash, so the same file always gets the same embedding.
type MockGateway struct {
	dimensions int
}

// NewMockGateway returns a gateway producing deterministic embeddings of
// the given dimensions.
func NewMockGateway(dimensions int) *MockGateway {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockGateway{dimensions: dimensions}
}

// EmbedImage returns a deterministic embedding based on the file content hash.
// Unreadable files fail with *DecodeError.
func (g *MockGateway) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	h := fnv.New64a()
	_, _ = h.Write(data)
	seed := h.Sum64()

	vec := make([]float32, g.dimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(seed%100003)*float64(i+1))*0.1 + 0.01)
	}
	utils.NormalizeL2(vec)
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (g *MockGateway) Dimensions() int {
	return g.dimensions
}

// Close is a no-op for MockGateway.
func (g *MockGateway) Close() error {
	return nil
}
