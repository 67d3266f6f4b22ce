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

// Package shard is the per-shard worker and back-pressure gate of §4.11:
// one task per shard consuming a bounded write-command channel, with
// reads executing directly against the shard's memtable/segment snapshot
// under a shared lock rather than going through that channel. Grounded on
// storage/table.go's per-table shard slice (load balanced by row count in
// computeShardIndex) and storage/partition.go's iterateShards worker
// fan-out, generalized from "row lands in whichever shard has room" to
// "row lands in the shard its context_id hashes to" per §4.11/§5's
// "within one shard, events are persisted in the order they were
// accepted" ordering guarantee (a context_id must always route to the
// same shard for that guarantee to mean anything across multiple writes).
package shard

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/shardline/eventcore/cache"
	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/flow"
	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/query"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/segment"
)

// Config configures one Shard's resource limits.
type Config struct {
	Index                 int
	SegmentsRoot          string
	RowCap                int     // memtable capacity before an auto-flush
	EventPerZone          int     // flush/compact zone sizing
	CommandCapacity       int     // bounded write-channel depth
	BackpressureThreshold float64 // fraction of CommandCapacity that triggers rejection
	StreamingBatchSize    int
}

func (c Config) resolve() Config {
	if c.RowCap <= 0 {
		c.RowCap = 65536
	}
	if c.EventPerZone <= 0 {
		c.EventPerZone = 4096
	}
	if c.CommandCapacity <= 0 {
		c.CommandCapacity = 1024
	}
	if c.BackpressureThreshold <= 0 {
		c.BackpressureThreshold = 0.8
	}
	if c.StreamingBatchSize <= 0 {
		c.StreamingBatchSize = 1024
	}
	return c
}

type writeCmd struct {
	event  memtable.Event
	result chan error
}

// Shard owns one slice of the keyspace: its own memtable set, its own
// segment directory, and the single task that serializes writes into it
// (flush, like the teacher, is "single per shard and serialized by a
// mutex: at most one flush per shard executes concurrently").
type Shard struct {
	cfg      Config
	registry *schema.Registry
	cacheH   *cache.Hierarchy
	pool     *flow.BatchPool

	set *memtable.Set

	commands chan writeCmd
	wg       sync.WaitGroup
	closed   atomic.Bool

	flushMu       sync.Mutex
	nextSegmentID atomic.Uint32

	metrics Metrics
}

// Metrics are the shard's queue-depth/rejection counters §4.13's metrics
// registry exports per shard.
type Metrics struct {
	Accepted atomic.Uint64
	Rejected atomic.Uint64
	Flushes  atomic.Uint64
}

// New builds and starts a Shard's write-command task.
func New(cfg Config, registry *schema.Registry, cacheH *cache.Hierarchy) *Shard {
	cfg = cfg.resolve()
	sh := &Shard{
		cfg:      cfg,
		registry: registry,
		cacheH:   cacheH,
		pool:     flow.NewBatchPool(),
		set:      memtable.NewSet(cfg.RowCap),
		commands: make(chan writeCmd, cfg.CommandCapacity),
	}
	sh.wg.Add(1)
	go sh.run()
	return sh
}

func (sh *Shard) run() {
	defer sh.wg.Done()
	for cmd := range sh.commands {
		cmd.result <- sh.handleStore(cmd.event)
	}
}

// Store enqueues e for durable insertion, rejecting with errs.Overloaded
// if the command queue is already past its back-pressure threshold.
// Reads never go through this path (see Query).
func (sh *Shard) Store(ctx context.Context, e memtable.Event) error {
	if sh.closed.Load() {
		return errs.New(errs.Cancelled, "shard is shutting down")
	}
	if sh.overloaded() {
		sh.metrics.Rejected.Add(1)
		return errs.New(errs.Overloaded, "shard command queue over backpressure threshold")
	}
	result := make(chan error, 1)
	select {
	case sh.commands <- writeCmd{event: e, result: result}:
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "enqueueing shard write", ctx.Err())
	}
	sh.metrics.Accepted.Add(1)
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return errs.Wrap(errs.Cancelled, "awaiting shard write", ctx.Err())
	}
}

func (sh *Shard) overloaded() bool {
	return float64(len(sh.commands)) >= sh.cfg.BackpressureThreshold*float64(cap(sh.commands))
}

// QueueDepth and QueueCapacity expose the write channel's current
// occupancy for the metrics registry's back-pressure gauge.
func (sh *Shard) QueueDepth() int    { return len(sh.commands) }
func (sh *Shard) QueueCapacity() int { return cap(sh.commands) }

// Metrics exposes this shard's accepted/rejected/flush counters for the
// metrics registry to read.
func (sh *Shard) Metrics() *Metrics { return &sh.metrics }

func (sh *Shard) handleStore(e memtable.Event) error {
	sh.set.Active().Insert(e)
	if sh.set.Active().Full() {
		return sh.freezeAndFlush()
	}
	return nil
}

// freezeAndFlush swaps in a fresh active memtable and materializes the
// frozen one into a new segment, serialized by flushMu exactly as the
// teacher serializes storageShard.rebuild per shard (storage/shard.go).
func (sh *Shard) freezeAndFlush() error {
	sh.flushMu.Lock()
	defer sh.flushMu.Unlock()

	segID := sh.nextSegmentID.Add(1)
	frozen := sh.set.Freeze(segID)
	if frozen.Table.Len() == 0 {
		sh.set.Publish(segID)
		return nil
	}
	segmentDir := filepath.Join(sh.cfg.SegmentsRoot, segment.DirName(segID))
	if _, err := flush.Flush(segmentDir, segID, frozen.Table, sh.registry, sh.cfg.EventPerZone); err != nil {
		return err
	}
	sh.set.Publish(segID)
	sh.metrics.Flushes.Add(1)
	return nil
}

// Flush forces a flush of whatever is currently active, regardless of
// whether the memtable is full — the §6.5 `Flush` command and graceful
// shutdown both need this.
func (sh *Shard) Flush() error {
	return sh.freezeAndFlush()
}

// Query executes plan directly against this shard's current snapshot of
// memtable + segments, never touching the write command channel (§4.11's
// "reads never block on the write channel"), and returns the shard's
// matching rows, sorted by plan.OrderBy when it is set. Offset, limit and
// aggregation are applied by Manager across all shards' rows.
func (sh *Shard) Query(ctx context.Context, plan *query.Plan) ([]flow.Row, error) {
	fields := flow.RequiredFields(plan, nil)
	sources := []flow.Source{&flow.MemTableSource{Set: sh.set, Plan: plan, Fields: fields}}

	segments, err := query.DiscoverSegments(sh.cfg.SegmentsRoot, plan.Definition.UID)
	if err != nil {
		return nil, err
	}
	for _, seg := range segments {
		sources = append(sources, &flow.SegmentSource{Segment: seg, Plan: plan, Fields: fields, Cache: sh.cacheH})
	}

	rows, err := flow.RunShard(ctx, sh.pool, sh.cfg.StreamingBatchSize, sources)
	if err != nil || plan.OrderBy == "" {
		return rows, err
	}
	unbounded := *plan
	unbounded.Limit, unbounded.Offset = 0, 0
	return flow.OrderLimitOffset(&unbounded, rows), nil
}

// Close drains in-flight writes, performs a final flush of whatever is
// active (even if not full), and stops accepting new writes — the
// graceful-shutdown sequence of §4.11.
func (sh *Shard) Close() error {
	if !sh.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(sh.commands)
	sh.wg.Wait()
	if sh.set.Active().Len() > 0 {
		return sh.freezeAndFlush()
	}
	return nil
}
