package cache

import (
	"sync/atomic"
	"testing"

	"github.com/shardline/eventcore/segment"
)

func TestNamedGetOrLoadDedupsLoads(t *testing.T) {
	n := newNamed(16, 0, 0)
	var loads atomic.Int32
	load := func() (any, int64, error) {
		loads.Add(1)
		return "value", 4, nil
	}

	for i := 0; i < 5; i++ {
		v, err := n.GetOrLoad("k", load)
		if err != nil {
			t.Fatal(err)
		}
		if v.(string) != "value" {
			t.Fatalf("expected cached value, got %v", v)
		}
	}
	if loads.Load() != 1 {
		t.Fatalf("expected exactly 1 load for repeated GetOrLoad on the same key, got %d", loads.Load())
	}
	if n.Stats().Hits == 0 {
		t.Fatal("expected at least one hit recorded")
	}
}

func TestNamedEvictsDownToLowWaterOnceHighWaterCrossed(t *testing.T) {
	n := newNamed(64, 100, 0.5) // high-water 100 bytes, low-water 50
	for i := 0; i < 10; i++ {
		key := string(rune('a' + i))
		n.Put(key, i, 20)
	}
	n.mu.Lock()
	cur := n.currentBytes
	n.mu.Unlock()
	if cur > 60 { // allow one entry's worth of slack above the 50-byte target
		t.Fatalf("expected eviction to bring currentBytes near the low-water target, got %d", cur)
	}
	if n.Stats().Evictions == 0 {
		t.Fatal("expected at least one eviction once the high-water mark was crossed")
	}
}

func TestNamedRemoveDropsEntryImmediately(t *testing.T) {
	n := newNamed(16, 0, 0)
	n.Put("k", "v", 4)
	if _, ok := n.Get("k"); !ok {
		t.Fatal("expected k to be present after Put")
	}
	n.Remove("k")
	if _, ok := n.Get("k"); ok {
		t.Fatal("expected k to be gone after Remove")
	}
}

func TestHierarchyStatsKeysAllFourCaches(t *testing.T) {
	h := NewHierarchy(Config{})
	stats := h.Stats()
	for _, name := range []string{"blocks", "zone_surf", "zone_xor", "calendars"} {
		if _, ok := stats[name]; !ok {
			t.Fatalf("expected Stats to report %q", name)
		}
	}
}

func TestBlockBytesSumsTypedSlices(t *testing.T) {
	b := &segment.Block{Phys: segment.PhysI64, RowCount: 3, I64: []int64{1, 2, 3}}
	if got := BlockBytes(b); got != 24 {
		t.Fatalf("expected 3*8=24 bytes for an I64 block, got %d", got)
	}
}
