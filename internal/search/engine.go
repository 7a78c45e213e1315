// Package search provides similarity search over a persisted index snapshot.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/embedding"
	"github.com/hyperjump/mitsukeru/internal/models"
	"github.com/hyperjump/mitsukeru/internal/store"
	"github.com/hyperjump/mitsukeru/internal/vector"
)

// IndexUnavailableError reports that no usable snapshot exists. It wraps the
// underlying store error (store.ErrNotFound or *store.CorruptError).
type IndexUnavailableError struct {
	Err error
}

func (e *IndexUnavailableError) Error() string {
	return fmt.Sprintf("no index available: %v", e.Err)
}

func (e *IndexUnavailableError) Unwrap() error { return e.Err }

// Engine answers similarity queries against one loaded snapshot. The
// snapshot is loaded once at construction and never mutated, so an engine
// keeps serving its own consistent view even while a rebuild runs; reload
// by constructing a new engine. Safe for concurrent use.
type Engine struct {
	index   *vector.FlatIndex
	paths   []string
	gateway embedding.Gateway
	logger  *zap.Logger // optional
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine loads the persisted snapshot from st. Fails with
// *IndexUnavailableError when the snapshot is absent or corrupt.
func NewEngine(ctx context.Context, st *store.Store, gw embedding.Gateway, opts ...Option) (*Engine, error) {
	idx, paths, err := st.Load(ctx)
	if err != nil {
		return nil, &IndexUnavailableError{Err: err}
	}
	e := &Engine{index: idx, paths: paths, gateway: gw}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger != nil {
		e.logger.Info("search engine loaded snapshot",
			zap.Int("images", len(paths)),
			zap.Int("dimensions", idx.Dimensions()))
	}
	return e, nil
}

// Size returns the number of indexed images.
func (e *Engine) Size() int {
	return len(e.paths)
}

// Search embeds the image at queryPath and returns the k most similar
// indexed images, nearest first. k <= 0 means the whole corpus. The query
// image itself is excluded from results by canonicalized path comparison.
// Embedding failures propagate with their original type (decode vs provider).
func (e *Engine) Search(ctx context.Context, queryPath string, k int) (*models.SearchResponse, error) {
	start := time.Now()
	if k <= 0 || k > len(e.paths) {
		k = len(e.paths)
	}

	queryVec, err := e.gateway.EmbedImage(ctx, queryPath)
	if err != nil {
		return nil, err
	}

	hits, err := e.index.Search(ctx, queryVec, k)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	queryCanonical := canonicalPath(queryPath)
	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		path := e.paths[h.ID]
		if canonicalPath(path) == queryCanonical {
			continue
		}
		results = append(results, &models.SearchResult{Path: path, Distance: h.Distance})
	}
	normalizeSimilarity(results)

	if e.logger != nil {
		e.logger.Debug("search completed",
			zap.String("query", queryPath),
			zap.Int("results", len(results)))
	}
	return &models.SearchResponse{
		Results:     results,
		Total:       len(results),
		QueryPath:   queryPath,
		QueryTimeMs: time.Since(start).Milliseconds(),
	}, nil
}

// canonicalPath resolves p to an absolute path with symlinks evaluated, so
// a relative query path still matches its indexed absolute form.
func canonicalPath(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		return filepath.Clean(p)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// normalizeSimilarity fills in the display similarity for each result:
// min-max scaled over this result set only, clamped to [0, 100]. When every
// distance is equal (including a single result) similarity is 100.
func normalizeSimilarity(results []*models.SearchResult) {
	if len(results) == 0 {
		return
	}
	minD, maxD := results[0].Distance, results[0].Distance
	for _, r := range results[1:] {
		if r.Distance < minD {
			minD = r.Distance
		}
		if r.Distance > maxD {
			maxD = r.Distance
		}
	}
	span := maxD - minD
	for _, r := range results {
		if span == 0 {
			r.Similarity = 100
			continue
		}
		s := 100 - (r.Distance-minD)/span*100
		if s < 0 {
			s = 0
		}
		if s > 100 {
			s = 100
		}
		r.Similarity = s
	}
}
