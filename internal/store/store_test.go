package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsukeru/internal/vector"
)

func buildIndex(t *testing.T, vecs [][]float32) *vector.FlatIndex {
	t.Helper()
	idx, err := vector.NewFlatIndex(len(vecs[0]))
	if err != nil {
		t.Fatal(err)
	}
	for _, v := range vecs {
		if _, err := idx.Add(context.Background(), v); err != nil {
			t.Fatal(err)
		}
	}
	return idx
}

func TestStore_PersistLoadRoundTrip(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	idx := buildIndex(t, [][]float32{{0, 0}, {1, 1}, {10, 10}})
	paths := []string{"/img/a.jpg", "/img/b.jpg", "/img/c.jpg"}

	if err := s.Persist(ctx, idx, paths); err != nil {
		t.Fatal(err)
	}
	loaded, loadedPaths, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 3 || loaded.Dimensions() != 2 {
		t.Fatalf("loaded size=%d dims=%d", loaded.Size(), loaded.Dimensions())
	}
	for i, want := range paths {
		if loadedPaths[i] != want {
			t.Errorf("path %d = %q, want %q", i, loadedPaths[i], want)
		}
	}
	// The id <-> path mapping must survive persistence: vector i still
	// corresponds to path i.
	v, err := loaded.Vector(2)
	if err != nil {
		t.Fatal(err)
	}
	if v[0] != 10 || v[1] != 10 {
		t.Errorf("vector 2 = %v, want [10 10]", v)
	}
}

func TestStore_LoadMissingIsNotFound(t *testing.T) {
	s := New(t.TempDir())
	_, _, err := s.Load(context.Background())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_LoadHalfMissingIsNotFound(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()
	idx := buildIndex(t, [][]float32{{1}})
	if err := s.Persist(ctx, idx, []string{"/a.jpg"}); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(s.PathsPath()); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.Load(ctx)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound when one artifact is missing, got %v", err)
	}
}

func TestStore_LoadMalformedVectorsIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()
	idx := buildIndex(t, [][]float32{{1}})
	if err := s.Persist(ctx, idx, []string{"/a.jpg"}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.VectorsPath(), []byte{1, 2}, 0644); err != nil {
		t.Fatal(err)
	}
	_, _, err := s.Load(ctx)
	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Errorf("expected *CorruptError, got %v", err)
	}
}

func TestStore_LoadCountMismatchIsCorrupt(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	ctx := context.Background()

	idx := buildIndex(t, [][]float32{{1}, {2}})
	if err := s.Persist(ctx, idx, []string{"/a.jpg", "/b.jpg"}); err != nil {
		t.Fatal(err)
	}
	// Overwrite the vector artifact with a single-vector snapshot so the
	// artifact counts disagree.
	smaller := buildIndex(t, [][]float32{{1}})
	f, err := os.Create(s.VectorsPath())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := smaller.WriteTo(f); err != nil {
		t.Fatal(err)
	}
	_ = f.Close()

	_, _, err = s.Load(ctx)
	var ce *CorruptError
	if !errors.As(err, &ce) {
		t.Errorf("expected *CorruptError for count mismatch, got %v", err)
	}
}

func TestStore_PersistReplacesWholesale(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()

	first := buildIndex(t, [][]float32{{1}, {2}, {3}})
	if err := s.Persist(ctx, first, []string{"/a.jpg", "/b.jpg", "/c.jpg"}); err != nil {
		t.Fatal(err)
	}
	second := buildIndex(t, [][]float32{{9}})
	if err := s.Persist(ctx, second, []string{"/z.jpg"}); err != nil {
		t.Fatal(err)
	}

	loaded, paths, err := s.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Size() != 1 || len(paths) != 1 || paths[0] != "/z.jpg" {
		t.Errorf("snapshot not replaced wholesale: size=%d paths=%v", loaded.Size(), paths)
	}
}

func TestStore_PersistCountMismatchRejected(t *testing.T) {
	s := New(t.TempDir())
	idx := buildIndex(t, [][]float32{{1}})
	if err := s.Persist(context.Background(), idx, []string{"/a.jpg", "/b.jpg"}); err == nil {
		t.Error("expected error persisting mismatched counts")
	}
}

func TestStore_PersistLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)
	idx := buildIndex(t, [][]float32{{1}})
	if err := s.Persist(context.Background(), idx, []string{"/a.jpg"}); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".tmp" {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestStore_Stats(t *testing.T) {
	s := New(t.TempDir())
	ctx := context.Background()
	idx := buildIndex(t, [][]float32{{1, 2}, {3, 4}})
	if err := s.Persist(ctx, idx, []string{"/a.jpg", "/b.jpg"}); err != nil {
		t.Fatal(err)
	}
	stats, err := s.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Count != 2 || stats.Dimensions != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.DiskBytes <= 0 {
		t.Error("disk usage should be positive")
	}
}

func TestDiskUsageBytes_MissingPathsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	if err := os.WriteFile(path, make([]byte, 100), 0644); err != nil {
		t.Fatal(err)
	}
	n, err := DiskUsageBytes(path, filepath.Join(dir, "missing"), "")
	if err != nil {
		t.Fatal(err)
	}
	if n != 100 {
		t.Errorf("DiskUsageBytes = %d, want 100", n)
	}
}
