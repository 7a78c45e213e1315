// Package vector provides the flat vector index used for exact similarity search.
package vector

import "context"

// Index is the vector index capability. Add is the only mutator: the index
// is append-only, and changing contents requires a full rebuild.
type Index interface {
	// Add appends a vector and returns its id (the count before the append).
	Add(ctx context.Context, vec []float32) (int, error)
	// Search returns the k nearest stored vectors by squared L2 distance,
	// ascending, ties broken by smaller insertion id.
	Search(ctx context.Context, query []float32, k int) ([]Hit, error)
	Size() int
	Dimensions() int
}

// Hit is a single nearest-neighbor match. ID is the insertion position of
// the matched vector; Distance is the raw squared L2 distance.
type Hit struct {
	ID       int
	Distance float64
}
