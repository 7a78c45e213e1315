package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/mitsukeru/internal/config"
)

func testConfig() *config.ScanConfig {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return &cfg.Scan
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestScan_AcceptsByExtensionCaseInsensitive(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.JPG"), 2048)
	writeFile(t, filepath.Join(dir, "b.png"), 2048)
	writeFile(t, filepath.Join(dir, "c.txt"), 2048)
	writeFile(t, filepath.Join(dir, "noext"), 2048)

	s := New(testConfig())
	paths, err := s.Scan(context.Background(), []string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("got %d paths, want 2: %v", len(paths), paths)
	}
}

func TestScan_SizeBounds(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.MinFileSizeKB = 1
	cfg.MaxFileSizeMB = 1

	writeFile(t, filepath.Join(dir, "empty.jpg"), 0)
	writeFile(t, filepath.Join(dir, "tiny.jpg"), 512)
	writeFile(t, filepath.Join(dir, "exact-min.jpg"), 1024)
	writeFile(t, filepath.Join(dir, "exact-max.jpg"), 1024*1024)
	writeFile(t, filepath.Join(dir, "too-big.jpg"), 1024*1024+1)

	s := New(cfg)
	paths, err := s.Scan(context.Background(), []string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool)
	for _, p := range paths {
		got[filepath.Base(p)] = true
	}
	if got["empty.jpg"] || got["tiny.jpg"] || got["too-big.jpg"] {
		t.Errorf("out-of-bounds file accepted: %v", paths)
	}
	if !got["exact-min.jpg"] {
		t.Error("file exactly at min size should be accepted")
	}
	if !got["exact-max.jpg"] {
		t.Error("file exactly at max size should be accepted")
	}
}

func TestScan_ExcludedFolderPrunesSubtree(t *testing.T) {
	dir := t.TempDir()
	cfg := testConfig()
	cfg.ExcludedFolders = []string{"cache"}

	writeFile(t, filepath.Join(dir, "keep", "a.jpg"), 2048)
	writeFile(t, filepath.Join(dir, "MyCache", "b.jpg"), 2048)
	writeFile(t, filepath.Join(dir, "MyCache", "deep", "nested", "c.jpg"), 2048)

	s := New(cfg)
	paths, err := s.Scan(context.Background(), []string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 || filepath.Base(paths[0]) != "a.jpg" {
		t.Errorf("excluded subtree not pruned: %v", paths)
	}
}

func TestScan_DedupAcrossOverlappingRoots(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	writeFile(t, filepath.Join(sub, "a.jpg"), 2048)
	writeFile(t, filepath.Join(dir, "b.jpg"), 2048)

	s := New(testConfig())
	paths, err := s.Scan(context.Background(), []string{dir, sub}, nil)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[string]int)
	for _, p := range paths {
		seen[p]++
	}
	for p, n := range seen {
		if n != 1 {
			t.Errorf("path %s appears %d times", p, n)
		}
	}
	if len(paths) != 2 {
		t.Errorf("got %d paths, want 2: %v", len(paths), paths)
	}
}

func TestScan_FirstEncounterOrderStable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), 2048)
	writeFile(t, filepath.Join(dir, "b.jpg"), 2048)
	writeFile(t, filepath.Join(dir, "c.jpg"), 2048)

	s := New(testConfig())
	first, err := s.Scan(context.Background(), []string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := s.Scan(context.Background(), []string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != len(second) {
		t.Fatalf("scan not repeatable: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("order differs at %d: %s vs %s", i, first[i], second[i])
		}
	}
}

func TestScan_MissingRootSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), 2048)

	s := New(testConfig())
	paths, err := s.Scan(context.Background(), []string{filepath.Join(dir, "nope"), dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Errorf("got %d paths, want 1", len(paths))
	}
}

func TestScan_CancelledContext(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), 2048)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(testConfig())
	if _, err := s.Scan(ctx, []string{dir}, nil); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestScan_ProgressCallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jpg"), 2048)

	var calls int
	var lastFound int
	s := New(testConfig())
	_, err := s.Scan(context.Background(), []string{dir}, func(dirs, found int) {
		calls++
		lastFound = found
	})
	if err != nil {
		t.Fatal(err)
	}
	// A final callback always fires at scan end.
	if calls == 0 {
		t.Fatal("progress callback never invoked")
	}
	if lastFound != 1 {
		t.Errorf("final found = %d, want 1", lastFound)
	}
}
