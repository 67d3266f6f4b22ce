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

package shard

import (
	"context"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dc0d/onexit"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shardline/eventcore/aggregate"
	"github.com/shardline/eventcore/cache"
	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/flow"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/query"
	"github.com/shardline/eventcore/schema"
)

// ManagerConfig configures a Manager's shard_count shards, all sharing one
// cache Hierarchy and segment/WAL root directory layout.
type ManagerConfig struct {
	ShardCount            int
	Root                  string // parent of per-shard subdirectories
	ShardConfig           Config // per-shard resource limits; Index/SegmentsRoot are overwritten per shard
	Cache                 cache.Config
	CrossShardConcurrency int // cap on simultaneous per-shard fan-out, 0 = shard_count
}

// Manager owns shard_count Shards and routes writes/reads to them, per
// §4.11. Grounded on storage/table.go's Shards []*storageShard plus its
// computeShardIndex routing, generalized from count-based load balancing
// to a context_id hash so the same context always lands on the same
// shard (required for the "events are persisted in the order they were
// accepted" per-shard ordering guarantee to be meaningful across calls).
type Manager struct {
	cfg      ManagerConfig
	registry *schema.Registry
	cacheH   *cache.Hierarchy
	shards   []*Shard
}

// NewManager builds and starts every shard.
func NewManager(cfg ManagerConfig, registry *schema.Registry) *Manager {
	if cfg.ShardCount <= 0 {
		cfg.ShardCount = 1
	}
	cacheH := cache.NewHierarchy(cfg.Cache)
	m := &Manager{cfg: cfg, registry: registry, cacheH: cacheH}
	m.shards = make([]*Shard, cfg.ShardCount)
	for i := range m.shards {
		sc := cfg.ShardConfig
		sc.Index = i
		sc.SegmentsRoot = filepath.Join(cfg.Root, shardDirName(i))
		m.shards[i] = New(sc, registry, cacheH)
	}
	onexit.Register(func() { _ = m.Shutdown(context.Background()) })
	return m
}

// Shards exposes the underlying per-shard handles, for the metrics
// registry to read queue depth/accept/reject/flush counters from.
func (m *Manager) Shards() []*Shard { return m.shards }

func shardDirName(i int) string {
	return "shard-" + strconv.Itoa(i)
}

// shardFor hashes contextID to a shard index with xxhash, the same
// prehashing primitive aggregate.GroupKey uses for its own keying.
func (m *Manager) shardFor(contextID string) *Shard {
	h := xxhash.Sum64String(contextID)
	return m.shards[h%uint64(len(m.shards))]
}

// Store assigns a fresh event_id and timestamp, routes by context_id to
// its shard, and enqueues the write.
func (m *Manager) Store(ctx context.Context, eventType, contextID string, payload []schema.PayloadField) (uuid.UUID, error) {
	def, err := m.registry.Resolve(eventType)
	if err != nil {
		return uuid.Nil, err
	}
	if err := def.ValidatePayload(payload); err != nil {
		return uuid.Nil, err
	}
	e := memtable.Event{
		EventID:   uuid.New(),
		EventType: eventType,
		UID:       def.UID,
		ContextID: contextID,
		Timestamp: time.Now().Unix(),
		Payload:   payload,
	}
	if err := m.shardFor(contextID).Store(ctx, e); err != nil {
		return uuid.Nil, err
	}
	return e.EventID, nil
}

// Query compiles req and executes it, routing to a single shard when
// context_id pins one, or fanning out to every shard (bounded by
// CrossShardConcurrency) and merging otherwise.
func (m *Manager) Query(ctx context.Context, req query.Request) ([]flow.Row, []aggregate.Row, error) {
	plan, err := query.Compile(req, m.registry)
	if err != nil {
		return nil, nil, err
	}

	var perShard [][]flow.Row
	if req.ContextID != "" {
		rows, err := m.shardFor(req.ContextID).Query(ctx, plan)
		if err != nil {
			return nil, nil, err
		}
		perShard = [][]flow.Row{rows}
	} else {
		perShard, err = m.fanOut(ctx, plan)
		if err != nil {
			return nil, nil, err
		}
	}

	if len(plan.Aggs) > 0 || len(plan.GroupBy) > 0 {
		parts := make([]aggregate.AggPartial, 0)
		for _, rows := range perShard {
			parts = append(parts, flow.Aggregate(plan, rows).Partial()...)
		}
		return nil, aggregate.MergePartials(parts, plan.Aggs), nil
	}

	merged := flow.MergeShards(perShard, plan.OrderBy, plan.OrderDesc, plan.Limit, plan.Offset)
	return merged, nil, nil
}

// fanOut runs plan against every shard concurrently, bounded by
// CrossShardConcurrency, with first-error propagation via errgroup —
// the same fan-out-with-cancellation shape compact.Merge uses for its
// per-segment readback, applied here across shards instead of segments.
func (m *Manager) fanOut(ctx context.Context, plan *query.Plan) ([][]flow.Row, error) {
	limit := m.cfg.CrossShardConcurrency
	if limit <= 0 {
		limit = len(m.shards)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	out := make([][]flow.Row, len(m.shards))
	for i, sh := range m.shards {
		i, sh := i, sh
		g.Go(func() error {
			rows, err := sh.Query(gctx, plan)
			if err != nil {
				return err
			}
			out[i] = rows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Flush forces every shard to flush its active memtable, the §6.5
// `Flush` command's cross-shard form.
func (m *Manager) Flush() error {
	for _, sh := range m.shards {
		if err := sh.Flush(); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown gracefully closes every shard: each shard drains its
// in-flight write commands and flushes its active memtable. Shards hold
// no WAL and no accept loop, so there is no WAL fsync or accept-loop
// abort here. Idempotent: safe to
// call both explicitly and from the onexit hook registered by
// NewManager.
func (m *Manager) Shutdown(ctx context.Context) error {
	var first error
	for _, sh := range m.shards {
		if err := sh.Close(); err != nil && first == nil {
			first = err
		}
	}
	if first != nil {
		return errs.Wrap(errs.IoError, "shard manager shutdown", first)
	}
	return nil
}
