package builder

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/hyperjump/mitsukeru/internal/embedding"
	"github.com/hyperjump/mitsukeru/internal/scanner"
	"github.com/hyperjump/mitsukeru/internal/store"
	"github.com/hyperjump/mitsukeru/internal/vector"
)

// Progress percent bands per stage: scanning fills 0-40, embedding 40-90
// proportional to images processed, saving 90-100.
const (
	scanPercentCap   = 40
	embedPercentBase = 40
	embedPercentSpan = 50
	savePercentBase  = 90
)

// embedProgressEvery is how often (in processed images) embedding progress
// is emitted.
const embedProgressEvery = 10

// Job runs one full index rebuild. A job is single-use: construct, consume
// Events from another goroutine, call Run once. Cancellation is cooperative:
// Cancel (or ctx) is observed at scan boundaries and before each embedding
// call; an in-flight embedding call finishes. A cancelled or failed run
// never writes a snapshot, so any prior snapshot stays untouched.
type Job struct {
	scanner *scanner.Scanner
	gateway embedding.Gateway
	store   *store.Store
	roots   []string

	events    chan Progress
	cancelled atomic.Bool
	cancelRun context.CancelFunc
	cancelMu  sync.Mutex
	logger    *zap.Logger // optional
}

// JobOption configures a Job.
type JobOption func(*Job)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) JobOption {
	return func(j *Job) { j.logger = l }
}

// NewJob creates a build job over the given roots.
func NewJob(sc *scanner.Scanner, gw embedding.Gateway, st *store.Store, roots []string, opts ...JobOption) *Job {
	j := &Job{
		scanner: sc,
		gateway: gw,
		store:   st,
		roots:   roots,
		events:  make(chan Progress, 256),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Events returns the ordered progress stream for this run. The channel is
// closed when Run returns; consumers must drain it.
func (j *Job) Events() <-chan Progress {
	return j.events
}

// Cancel requests cooperative cancellation. Safe to call at any time, from
// any goroutine, including before Run.
func (j *Job) Cancel() {
	j.cancelled.Store(true)
	j.cancelMu.Lock()
	if j.cancelRun != nil {
		j.cancelRun()
	}
	j.cancelMu.Unlock()
}

// Run executes the rebuild and returns the terminal outcome. Per-image
// decode and provider failures are recorded and skipped; the run fails only
// when zero images were embedded or the snapshot cannot be written.
func (j *Job) Run(ctx context.Context) *Outcome {
	defer close(j.events)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	j.cancelMu.Lock()
	j.cancelRun = cancel
	j.cancelMu.Unlock()
	if j.cancelled.Load() {
		cancel()
	}

	j.emit(StageScanning, fmt.Sprintf("Scanning %d location(s) for images...", len(j.roots)), 0)
	lastPercent := 0
	paths, err := j.scanner.Scan(ctx, j.roots, func(dirs, found int) {
		p := dirs / 100
		if p > scanPercentCap-1 {
			p = scanPercentCap - 1
		}
		if p > lastPercent {
			lastPercent = p
			j.emit(StageScanning, fmt.Sprintf("Scanned %d folders, found %d images...", dirs, found), p)
		}
	})
	if j.interrupted(ctx) {
		return j.cancel(lastPercent)
	}
	if err != nil {
		return j.fail(fmt.Sprintf("Scan failed: %v", err))
	}
	if len(paths) == 0 {
		return j.fail("No images found to index")
	}

	j.emit(StageEmbedding, fmt.Sprintf("Embedding %d unique images...", len(paths)), embedPercentBase)
	idx, err := vector.NewFlatIndex(j.gateway.Dimensions())
	if err != nil {
		return j.fail(fmt.Sprintf("Create index: %v", err))
	}

	indexedPaths := make([]string, 0, len(paths))
	failures := make([]Failure, 0)
	percent := embedPercentBase
	for i, path := range paths {
		if j.interrupted(ctx) {
			return j.cancel(percent)
		}
		vec, err := j.gateway.EmbedImage(ctx, path)
		if err != nil {
			if j.interrupted(ctx) {
				return j.cancel(percent)
			}
			failures = append(failures, Failure{Path: path, Reason: err.Error()})
			if j.logger != nil {
				j.logger.Debug("image embedding failed", zap.String("path", path), zap.Error(err))
			}
		} else if len(vec) != idx.Dimensions() {
			failures = append(failures, Failure{
				Path:   path,
				Reason: fmt.Sprintf("vector length %d disagrees with gateway dimensionality %d", len(vec), idx.Dimensions()),
			})
		} else {
			if _, err := idx.Add(ctx, vec); err != nil {
				return j.fail(fmt.Sprintf("Index add: %v", err))
			}
			indexedPaths = append(indexedPaths, path)
		}

		percent = embedPercentBase + (i+1)*embedPercentSpan/len(paths)
		if (i+1)%embedProgressEvery == 0 || i == len(paths)-1 {
			j.emit(StageEmbedding,
				fmt.Sprintf("Processed %d/%d images...", len(indexedPaths), len(paths)), percent)
		}
	}

	if j.interrupted(ctx) {
		return j.cancel(percent)
	}
	if len(indexedPaths) == 0 {
		return j.fail("No images could be embedded", failures...)
	}

	j.emit(StageBuilding, fmt.Sprintf("Built search index with %d vectors", idx.Size()), savePercentBase)

	j.emit(StageSaving, "Saving index snapshot...", savePercentBase)
	if err := j.store.Persist(ctx, idx, indexedPaths); err != nil {
		return j.fail(fmt.Sprintf("Save snapshot: %v", err), failures...)
	}

	j.emit(StageCompleted, fmt.Sprintf("Successfully indexed %d images", len(indexedPaths)), 100)
	if j.logger != nil {
		j.logger.Info("index build completed",
			zap.Int("indexed", len(indexedPaths)),
			zap.Int("failed", len(failures)))
	}
	return &Outcome{
		Stage:        StageCompleted,
		IndexedCount: len(indexedPaths),
		Failures:     failures,
	}
}

func (j *Job) interrupted(ctx context.Context) bool {
	return j.cancelled.Load() || ctx.Err() != nil
}

func (j *Job) emit(stage Stage, message string, percent int) {
	j.events <- Progress{Stage: stage, Message: message, Percent: percent}
}

func (j *Job) cancel(percent int) *Outcome {
	j.emit(StageCancelled, "Build cancelled", percent)
	if j.logger != nil {
		j.logger.Info("index build cancelled")
	}
	return &Outcome{Stage: StageCancelled, Message: "build cancelled"}
}

func (j *Job) fail(message string, failures ...Failure) *Outcome {
	j.emit(StageFailed, message, 100)
	if j.logger != nil {
		j.logger.Warn("index build failed", zap.String("reason", message))
	}
	return &Outcome{Stage: StageFailed, Message: message, Failures: failures}
}
