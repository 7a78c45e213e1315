package vector

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

// FlatIndex is an append-only, exact brute-force index over squared L2
// distance. Search compares the query against every stored vector, so
// results are fully deterministic: ascending distance, ties broken by
// smaller insertion id.
type FlatIndex struct {
	dimensions int
	vectors    [][]float32
	mu         sync.RWMutex
}

// NewFlatIndex creates a flat index with the given dimension.
func NewFlatIndex(dimensions int) (*FlatIndex, error) {
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	return &FlatIndex{
		dimensions: dimensions,
		vectors:    make([][]float32, 0),
	}, nil
}

// Add appends vec and returns its id (the count before the append).
func (f *FlatIndex) Add(ctx context.Context, vec []float32) (int, error) {
	if len(vec) != f.dimensions {
		return 0, fmt.Errorf("vector dimension mismatch: got %d, expected %d", len(vec), f.dimensions)
	}
	cp := make([]float32, f.dimensions)
	copy(cp, vec)
	f.mu.Lock()
	defer f.mu.Unlock()
	id := len(f.vectors)
	f.vectors = append(f.vectors, cp)
	return id, nil
}

// Search returns the k entries with smallest squared L2 distance to query,
// ascending by distance, ties broken by smaller insertion id. If k exceeds
// the stored count, all entries are returned; an empty index returns an
// empty result.
func (f *FlatIndex) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != f.dimensions {
		return nil, fmt.Errorf("query dimension mismatch: got %d, expected %d", len(query), f.dimensions)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if k <= 0 || len(f.vectors) == 0 {
		return []Hit{}, nil
	}
	hits := make([]Hit, len(f.vectors))
	for i, vec := range f.vectors {
		hits[i] = Hit{ID: i, Distance: SquaredL2(query, vec)}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ID < hits[j].ID
	})
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Size returns the number of stored vectors.
func (f *FlatIndex) Size() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Dimensions returns the fixed vector dimension of this index.
func (f *FlatIndex) Dimensions() int {
	return f.dimensions
}

// Vector returns a copy of the vector stored at id.
func (f *FlatIndex) Vector(id int) ([]float32, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if id < 0 || id >= len(f.vectors) {
		return nil, fmt.Errorf("vector id out of range: %d", id)
	}
	cp := make([]float32, f.dimensions)
	copy(cp, f.vectors[id])
	return cp, nil
}

// WriteTo serializes the index to w. Format: dimension (uint32 LE),
// count (uint32 LE), then count vectors of dimension float32s each.
func (f *FlatIndex) WriteTo(w io.Writer) (int64, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var written int64
	if err := binary.Write(w, binary.LittleEndian, uint32(f.dimensions)); err != nil {
		return written, fmt.Errorf("write dimensions: %w", err)
	}
	written += 4
	if err := binary.Write(w, binary.LittleEndian, uint32(len(f.vectors))); err != nil {
		return written, fmt.Errorf("write count: %w", err)
	}
	written += 4
	for _, vec := range f.vectors {
		buf := float32SliceToBytes(vec)
		n, err := w.Write(buf)
		written += int64(n)
		if err != nil {
			return written, fmt.Errorf("write vector: %w", err)
		}
	}
	return written, nil
}

// ReadFlatIndex deserializes an index written by WriteTo.
func ReadFlatIndex(r io.Reader) (*FlatIndex, error) {
	var dim, n uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("read dimensions: %w", err)
	}
	if dim == 0 {
		return nil, fmt.Errorf("invalid dimension 0")
	}
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read count: %w", err)
	}
	idx := &FlatIndex{
		dimensions: int(dim),
		vectors:    make([][]float32, 0, n),
	}
	buf := make([]byte, int(dim)*4)
	for i := uint32(0); i < n; i++ {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		idx.vectors = append(idx.vectors, bytesToFloat32Slice(buf))
	}
	return idx, nil
}

// SquaredL2 returns the sum of squared per-dimension differences between a and b.
func SquaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func float32SliceToBytes(s []float32) []byte {
	const size = 4
	out := make([]byte, len(s)*size)
	for i, v := range s {
		binary.LittleEndian.PutUint32(out[i*size:(i+1)*size], math.Float32bits(v))
	}
	return out
}

func bytesToFloat32Slice(b []byte) []float32 {
	const size = 4
	out := make([]float32, len(b)/size)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*size : (i+1)*size]))
	}
	return out
}
