// Package integration provides end-to-end tests over the full build and
// search pipeline (scan, embed, persist, load, query).
package integration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsukeru/internal/builder"
	"github.com/hyperjump/mitsukeru/internal/config"
	"github.com/hyperjump/mitsukeru/internal/embedding"
	"github.com/hyperjump/mitsukeru/internal/scanner"
	"github.com/hyperjump/mitsukeru/internal/search"
	"github.com/hyperjump/mitsukeru/internal/store"
)

// tableGateway returns preset vectors keyed by file base name.
type tableGateway struct {
	dims    int
	vectors map[string][]float32
}

func (g *tableGateway) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	v, ok := g.vectors[filepath.Base(path)]
	if !ok {
		return nil, &embedding.DecodeError{Path: path, Err: errors.New("unknown image")}
	}
	return v, nil
}

func (g *tableGateway) Dimensions() int { return g.dims }
func (g *tableGateway) Close() error    { return nil }

func TestIntegration_BuildThenSearch(t *testing.T) {
	corpus := t.TempDir()
	for _, name := range []string{"img1.jpg", "img2.jpg", "img3.jpg"} {
		if err := os.WriteFile(filepath.Join(corpus, name), make([]byte, 2048), 0644); err != nil {
			t.Fatal(err)
		}
	}
	queryDir := t.TempDir()
	query := filepath.Join(queryDir, "query.jpg")
	if err := os.WriteFile(query, make([]byte, 2048), 0644); err != nil {
		t.Fatal(err)
	}

	gw := &tableGateway{dims: 2, vectors: map[string][]float32{
		"img1.jpg":  {0, 0},
		"img2.jpg":  {1, 1},
		"img3.jpg":  {10, 10},
		"query.jpg": {0.9, 0.9},
	}}

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	st := store.New(t.TempDir())
	sc := scanner.New(&cfg.Scan)
	ctx := context.Background()

	job := builder.NewJob(sc, gw, st, []string{corpus})
	outcomeCh := make(chan *builder.Outcome, 1)
	go func() { outcomeCh <- job.Run(ctx) }()
	for range job.Events() {
	}
	outcome := <-outcomeCh
	if outcome.Stage != builder.StageCompleted || outcome.IndexedCount != 3 {
		t.Fatalf("build outcome = %+v", outcome)
	}

	engine, err := search.NewEngine(ctx, st, gw)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := engine.Search(ctx, query, 0)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 {
		t.Fatalf("total = %d, want 3", resp.Total)
	}
	wantOrder := []string{"img2.jpg", "img1.jpg", "img3.jpg"}
	for i, want := range wantOrder {
		if got := filepath.Base(resp.Results[i].Path); got != want {
			t.Errorf("result %d = %s, want %s", i, got, want)
		}
	}
	if resp.Results[0].Similarity != 100 {
		t.Errorf("nearest similarity = %v, want 100", resp.Results[0].Similarity)
	}
	for i := 1; i < len(resp.Results); i++ {
		if resp.Results[i].Distance < resp.Results[i-1].Distance {
			t.Error("results not ordered by ascending distance")
		}
	}
}

func TestIntegration_RebuildReplacesSnapshot(t *testing.T) {
	corpus := t.TempDir()
	dataDir := t.TempDir()
	write := func(name string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(corpus, name), make([]byte, 2048), 0644); err != nil {
			t.Fatal(err)
		}
	}
	write("img1.jpg")

	gw := &tableGateway{dims: 2, vectors: map[string][]float32{
		"img1.jpg": {0, 0},
		"img2.jpg": {1, 1},
	}}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	st := store.New(dataDir)
	sc := scanner.New(&cfg.Scan)
	ctx := context.Background()

	run := func() *builder.Outcome {
		job := builder.NewJob(sc, gw, st, []string{corpus})
		outcomeCh := make(chan *builder.Outcome, 1)
		go func() { outcomeCh <- job.Run(ctx) }()
		for range job.Events() {
		}
		return <-outcomeCh
	}

	if outcome := run(); outcome.Stage != builder.StageCompleted || outcome.IndexedCount != 1 {
		t.Fatalf("first build: %+v", outcome)
	}

	write("img2.jpg")
	if outcome := run(); outcome.Stage != builder.StageCompleted || outcome.IndexedCount != 2 {
		t.Fatalf("second build: %+v", outcome)
	}

	idx, paths, err := st.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 2 || len(paths) != 2 {
		t.Errorf("snapshot after rebuild: size=%d paths=%d, want 2/2", idx.Size(), len(paths))
	}
}
