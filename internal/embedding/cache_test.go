package embedding

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestVectorCache_GetSet(t *testing.T) {
	c := NewVectorCache(2)
	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	if v, ok := c.Get("a"); !ok || v[0] != 1 {
		t.Errorf("Get(a) = %v, %v", v, ok)
	}
}

func TestVectorCache_EvictsOldest(t *testing.T) {
	c := NewVectorCache(2)
	c.Set("a", []float32{1})
	c.Set("b", []float32{2})
	c.Get("a") // refresh a so b is the eviction candidate
	c.Set("c", []float32{3})

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should still be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

// Get mutates the LRU list even on a hit, so concurrent readers and writers
// must be safe together (run with -race).
func TestVectorCache_ConcurrentAccess(t *testing.T) {
	c := NewVectorCache(16)
	for i := 0; i < 16; i++ {
		c.Set(fmt.Sprintf("key-%d", i), []float32{float32(i)})
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				key := fmt.Sprintf("key-%d", (g+i)%16)
				if v, ok := c.Get(key); ok && v[0] != float32((g+i)%16) {
					t.Errorf("Get(%s) = %v", key, v)
				}
				if i%10 == 0 {
					c.Set(fmt.Sprintf("key-%d", i%32), []float32{float32(i % 32)})
				}
			}
		}(g)
	}
	wg.Wait()

	if c.Len() > 16 {
		t.Errorf("Len = %d, want at most capacity 16", c.Len())
	}
}

func TestVectorCache_EmptyKeyIgnored(t *testing.T) {
	c := NewVectorCache(2)
	c.Set("", []float32{1})
	if c.Len() != 0 {
		t.Error("empty key should not be stored")
	}
}

func TestFileKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "img.png")
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	k1 := FileKey(path)
	if k1 == "" {
		t.Fatal("expected non-empty key for existing file")
	}
	if k2 := FileKey(path); k2 != k1 {
		t.Errorf("key changed without file change: %q vs %q", k1, k2)
	}
	if FileKey(filepath.Join(dir, "missing")) != "" {
		t.Error("missing file should yield empty key")
	}
}
