/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package cache is the shared decompressed-artifact cache of §4.10: four
// named caches (column blocks, zone-surf, zone-xor, calendars) each with
// a byte budget and high/low-water hysteresis eviction. Grounded directly
// on storage/cache.go's CacheManager (byte budget tracking, sort-by-age
// eviction down to a 75% low-water target) and storage/cachemap.go's
// keyed wrapper on top of it; the from-scratch slice+indexMap bookkeeping
// is replaced with github.com/hashicorp/golang-lru/v2 as the recency-
// ordered base structure, keeping the teacher's hysteresis policy but
// swapping its hand-rolled eviction-candidate list for the pack's LRU.
package cache

import (
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/shardline/eventcore/segment"
)

// entry is one cached artifact plus the byte size it counts against the
// named cache's budget.
type entry struct {
	value any
	bytes int64
}

// Stats are the hit/miss/eviction counters exposed per named cache (the
// metrics package registers these as prometheus gauges, see §4.13).
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// named is one budgeted, hysteresis-governed cache keyed by string, the
// generalization of the teacher's single global CacheManager to one of
// the four named caches in a Hierarchy.
type named struct {
	mu           sync.Mutex
	items        *lru.Cache[string, entry]
	group        singleflight.Group
	currentBytes int64
	highWater    int64
	lowWater     int64

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// newNamed builds a named cache with capacityItems as the LRU's structural
// item cap (a backstop against pathological key counts) and highWaterBytes
// as the byte budget that actually drives eviction; lowWaterFrac is the
// fraction of highWaterBytes cleanup targets, mirroring the teacher's
// fixed 75%.
func newNamed(capacityItems int, highWaterBytes int64, lowWaterFrac float64) *named {
	if capacityItems <= 0 {
		capacityItems = 1
	}
	l, _ := lru.New[string, entry](capacityItems)
	return &named{
		items:     l,
		highWater: highWaterBytes,
		lowWater:  int64(float64(highWaterBytes) * lowWaterFrac),
	}
}

// Get returns a cached value by key, reporting whether it was present.
func (n *named) Get(key string) (any, bool) {
	n.mu.Lock()
	e, ok := n.items.Get(key)
	n.mu.Unlock()
	if ok {
		n.hits.Add(1)
		return e.value, true
	}
	n.misses.Add(1)
	return nil, false
}

// Put inserts value under key, counted at bytes against the budget, and
// evicts down to the low-water target if the high-water mark is crossed.
func (n *named) Put(key string, value any, bytes int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.items.Peek(key); ok {
		n.currentBytes -= old.bytes
	}
	n.items.Add(key, entry{value: value, bytes: bytes})
	n.currentBytes += bytes
	if n.highWater > 0 && n.currentBytes > n.highWater {
		n.evictLocked(n.lowWater)
	}
}

func (n *named) evictLocked(target int64) {
	for n.currentBytes > target {
		_, e, ok := n.items.RemoveOldest()
		if !ok {
			return
		}
		n.currentBytes -= e.bytes
		n.evictions.Add(1)
	}
}

// GetOrLoad returns the cached value for key, computing it via load and
// inserting it on a miss. Concurrent GetOrLoad calls for the same key
// collapse into one load, via golang.org/x/sync/singleflight — the
// concurrent-same-key decompression dedup named in §4.10.
func (n *named) GetOrLoad(key string, load func() (value any, bytes int64, err error)) (any, error) {
	if v, ok := n.Get(key); ok {
		return v, nil
	}
	v, err, _ := n.group.Do(key, func() (any, error) {
		if v, ok := n.Get(key); ok {
			return v, nil
		}
		value, bytes, err := load()
		if err != nil {
			return nil, err
		}
		n.Put(key, value, bytes)
		return value, nil
	})
	return v, err
}

// Stats snapshots the named cache's hit/miss/eviction counters.
func (n *named) Stats() Stats {
	return Stats{Hits: n.hits.Load(), Misses: n.misses.Load(), Evictions: n.evictions.Load()}
}

// Remove drops key immediately, outside the normal eviction path (used
// when a segment is superseded by compaction and its artifacts must not
// linger in cache).
func (n *named) Remove(key string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if old, ok := n.items.Peek(key); ok {
		n.currentBytes -= old.bytes
		n.items.Remove(key)
	}
}

// Budget configures one named cache's structural item cap and byte
// budget. A zero Budget disables that cache's hysteresis eviction
// (unbounded, capacityItems still caps absolute entry count).
type Budget struct {
	CapacityItems  int
	HighWaterBytes int64
	LowWaterFrac   float64 // defaults to 0.75 (the teacher's fixed target) if zero
}

func (b Budget) resolve() Budget {
	if b.CapacityItems <= 0 {
		b.CapacityItems = 4096
	}
	if b.LowWaterFrac <= 0 {
		b.LowWaterFrac = 0.75
	}
	return b
}

// Config configures a Hierarchy's four named caches.
type Config struct {
	Blocks    Budget
	ZoneSurf  Budget
	ZoneXor   Budget
	Calendars Budget
}

// Hierarchy is the four named caches a shard shares across every query it
// serves: decompressed column blocks, zone-surf filters, zone-xor
// filters, and calendars, per §3.8/§4.10.
type Hierarchy struct {
	Blocks    *named
	ZoneSurf  *named
	ZoneXor   *named
	Calendars *named
}

// NewHierarchy builds a Hierarchy from cfg.
func NewHierarchy(cfg Config) *Hierarchy {
	blocks := cfg.Blocks.resolve()
	zoneSurf := cfg.ZoneSurf.resolve()
	zoneXor := cfg.ZoneXor.resolve()
	calendars := cfg.Calendars.resolve()
	return &Hierarchy{
		Blocks:    newNamed(blocks.CapacityItems, blocks.HighWaterBytes, blocks.LowWaterFrac),
		ZoneSurf:  newNamed(zoneSurf.CapacityItems, zoneSurf.HighWaterBytes, zoneSurf.LowWaterFrac),
		ZoneXor:   newNamed(zoneXor.CapacityItems, zoneXor.HighWaterBytes, zoneXor.LowWaterFrac),
		Calendars: newNamed(calendars.CapacityItems, calendars.HighWaterBytes, calendars.LowWaterFrac),
	}
}

// BlockBytes estimates a decoded column block's resident size for the
// Blocks cache's byte budget: the sum of whichever typed slice is
// populated plus the null mask, close enough for eviction accounting
// without walking the original compressed bytes.
func BlockBytes(b *segment.Block) int64 {
	var n int64
	n += int64(len(b.Nulls))
	n += int64(len(b.I64)) * 8
	n += int64(len(b.U64)) * 8
	n += int64(len(b.F64)) * 8
	n += int64(len(b.Bool))
	for _, s := range b.Bytes {
		n += int64(len(s))
	}
	return n
}

// Stats reports every named cache's counters by name, for the metrics
// registry to export as per-cache-name gauges.
func (h *Hierarchy) Stats() map[string]Stats {
	return map[string]Stats{
		"blocks":    h.Blocks.Stats(),
		"zone_surf": h.ZoneSurf.Stats(),
		"zone_xor":  h.ZoneXor.Stats(),
		"calendars": h.Calendars.Stats(),
	}
}
