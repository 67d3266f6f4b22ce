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

// Package metrics is the engine's observability surface: a
// *prometheus.Registry (never a *http.Server — serving /metrics is a
// front-end concern, not the core's) exposing cache hit/miss/eviction
// counters per cache name, shard command-queue depth and rejection
// counts, compaction run/skip/bytes-merged counters, and WAL
// rotation/archive counts. Grounded on no in-pack teacher code (the
// teacher has no metrics layer at all) but directly on mimir's
// pkg/compactor/compactor.go, the pack's example of a hand-built
// metrics struct built with promauto.With(registerer).New*(...) against
// an explicit, non-default registry rather than the package-global one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/shardline/eventcore/cache"
	"github.com/shardline/eventcore/shard"
)

// Registry bundles the engine's counters/gauges over one
// *prometheus.Registry, never registered against prometheus's global
// DefaultRegisterer so multiple engine instances in one process (tests,
// embedders) don't collide.
type Registry struct {
	reg *prometheus.Registry

	cacheHits      *prometheus.GaugeVec
	cacheMisses    *prometheus.GaugeVec
	cacheEvictions *prometheus.GaugeVec

	shardQueueDepth *prometheus.GaugeVec
	shardAccepted   *prometheus.GaugeVec
	shardRejected   *prometheus.GaugeVec
	shardFlushes    *prometheus.GaugeVec

	compactionRuns   prometheus.Counter
	compactionSkips  prometheus.Counter
	compactionFailed prometheus.Counter
	compactionBytes  prometheus.Counter

	walRotations prometheus.Counter
	walArchives  prometheus.Counter
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Registry{
		reg: reg,

		cacheHits: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_cache_hits_total",
			Help: "Cache hits, by cache name.",
		}, []string{"cache"}),
		cacheMisses: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_cache_misses_total",
			Help: "Cache misses, by cache name.",
		}, []string{"cache"}),
		cacheEvictions: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_cache_evictions_total",
			Help: "Cache evictions, by cache name.",
		}, []string{"cache"}),

		shardQueueDepth: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_shard_queue_depth",
			Help: "Current write-command queue depth, by shard index.",
		}, []string{"shard"}),
		shardAccepted: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_shard_writes_accepted_total",
			Help: "Writes accepted onto the shard's command queue, by shard index.",
		}, []string{"shard"}),
		shardRejected: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_shard_writes_rejected_total",
			Help: "Writes rejected for exceeding the back-pressure threshold, by shard index.",
		}, []string{"shard"}),
		shardFlushes: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "eventcore_shard_flushes_total",
			Help: "Memtable flushes completed, by shard index.",
		}, []string{"shard"}),

		compactionRuns: f.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_compaction_runs_total",
			Help: "Compaction merges completed.",
		}),
		compactionSkips: f.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_compaction_skips_total",
			Help: "Compaction polls skipped due to I/O or memory pressure.",
		}),
		compactionFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_compaction_failed_total",
			Help: "Compaction merges that returned an error.",
		}),
		compactionBytes: f.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_compaction_bytes_merged_total",
			Help: "Approximate bytes merged by compaction.",
		}),

		walRotations: f.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_wal_rotations_total",
			Help: "WAL file rotations.",
		}),
		walArchives: f.NewCounter(prometheus.CounterOpts{
			Name: "eventcore_wal_archives_total",
			Help: "WAL files archived after rotation.",
		}),
	}
}

// Gatherer exposes the underlying registry for a front-end to serve
// /metrics from, without this package ever binding a listener itself.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// ObserveCache snapshots one named cache's stats into the gauges.
func (r *Registry) ObserveCache(name string, stats cache.Stats) {
	r.cacheHits.WithLabelValues(name).Set(float64(stats.Hits))
	r.cacheMisses.WithLabelValues(name).Set(float64(stats.Misses))
	r.cacheEvictions.WithLabelValues(name).Set(float64(stats.Evictions))
}

// ObserveHierarchy snapshots every named cache in h.
func (r *Registry) ObserveHierarchy(h *cache.Hierarchy) {
	for name, stats := range h.Stats() {
		r.ObserveCache(name, stats)
	}
}

// ObserveShard snapshots one shard's queue depth and write counters.
func (r *Registry) ObserveShard(label string, sh *shard.Shard) {
	m := sh.Metrics()
	r.shardQueueDepth.WithLabelValues(label).Set(float64(sh.QueueDepth()))
	r.shardAccepted.WithLabelValues(label).Set(float64(m.Accepted.Load()))
	r.shardRejected.WithLabelValues(label).Set(float64(m.Rejected.Load()))
	r.shardFlushes.WithLabelValues(label).Set(float64(m.Flushes.Load()))
}

// ObserveManager snapshots every shard of m.
func (r *Registry) ObserveManager(m *shard.Manager) {
	for i, sh := range m.Shards() {
		r.ObserveShard(shardLabel(i), sh)
	}
}

func shardLabel(i int) string {
	const digits = "0123456789"
	if i == 0 {
		return "0"
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = digits[i%10]
		i /= 10
	}
	return string(buf[pos:])
}

// CompactionRun, CompactionSkip, CompactionFailed, and CompactionBytes
// record one compaction poll's outcome, for a caller that runs
// compact.Merge to report around each invocation.
func (r *Registry) CompactionRun()          { r.compactionRuns.Inc() }
func (r *Registry) CompactionSkip()         { r.compactionSkips.Inc() }
func (r *Registry) CompactionFailed()       { r.compactionFailed.Inc() }
func (r *Registry) CompactionBytes(n int64) { r.compactionBytes.Add(float64(n)) }

// WALRotated and WALArchived record WAL lifecycle events.
func (r *Registry) WALRotated()  { r.walRotations.Inc() }
func (r *Registry) WALArchived() { r.walArchives.Inc() }
