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

package flow

import (
	"container/heap"
	"context"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/aggregate"
	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/query"
	"github.com/shardline/eventcore/value"
)

// Row is one materialized output row, the unit ordered merge and
// aggregation operate on once a Batch has been unpacked.
type Row struct {
	EventID uuid.UUID
	Values  map[string]value.Value
}

func (r Row) field(name string) value.Value {
	v, ok := r.Values[name]
	if !ok {
		return value.Nil()
	}
	return v
}

func (r Row) timestamp() int64 {
	return r.field(flush.MetaTimestamp).I64()
}

// Rows drains every batch off of a source's channel and unpacks it into
// Rows in arrival order. Used when a shard's contribution is small enough
// (post-pruning, post-limit) that vectorized batches no longer pay for
// themselves, e.g. feeding an aggregate.Sink or an ordered merge heap.
func Rows(ctx context.Context, batches <-chan *Batch, pool *BatchPool) []Row {
	var out []Row
	for b := range batches {
		for i := 0; i < b.RowCount; i++ {
			row := Row{EventID: b.EventIDs[i], Values: make(map[string]value.Value, len(b.Schema))}
			for _, f := range b.Schema {
				row.Values[f] = b.Columns[f][i]
			}
			out = append(out, row)
		}
		pool.Put(b)
		select {
		case <-ctx.Done():
			return out
		default:
		}
	}
	return out
}

// RunShard runs one shard's sources (its memtable set plus its on-disk
// segments), draining them in source order and deduplicating by event id
// into one row set. It applies no ordering, limit/offset, or aggregation;
// those are the separate OrderLimitOffset and Aggregate steps.
func RunShard(ctx context.Context, pool *BatchPool, batchSize int, sources []Source) ([]Row, error) {
	chans := make([]<-chan *Batch, len(sources))
	errs := make([]<-chan error, len(sources))
	for i, s := range sources {
		chans[i], errs[i] = s.Run(ctx, pool, batchSize)
	}
	var all []Row
	seen := make(map[uuid.UUID]struct{})
	for _, c := range chans {
		for _, r := range Rows(ctx, c, pool) {
			if _, dup := seen[r.EventID]; dup {
				continue
			}
			seen[r.EventID] = struct{}{}
			all = append(all, r)
		}
	}
	for _, e := range errs {
		select {
		case err := <-e:
			if err != nil {
				return nil, err
			}
		default:
		}
	}
	return all, nil
}

// Aggregate folds rows into an aggregate.Sink per plan.
func Aggregate(plan *query.Plan, rows []Row) *aggregate.Sink {
	sink := aggregate.NewSink(plan.Aggs, plan.TimeBucket, plan.GroupBy)
	for _, r := range rows {
		sink.Add(r.EventID, r.timestamp(), r.field)
	}
	return sink
}

// OrderLimitOffset sorts rows by plan.OrderBy (if set), then applies
// offset/limit. A zero plan.Limit means unlimited.
func OrderLimitOffset(plan *query.Plan, rows []Row) []Row {
	if plan.OrderBy != "" {
		sortRows(rows, plan.OrderBy, plan.OrderDesc)
	}
	if plan.Offset > 0 {
		if plan.Offset >= len(rows) {
			return nil
		}
		rows = rows[plan.Offset:]
	}
	if plan.Limit > 0 && len(rows) > plan.Limit {
		rows = rows[:plan.Limit]
	}
	return rows
}

func sortRows(rows []Row, orderBy string, desc bool) {
	less := func(i, j int) bool {
		a, b := rows[i].field(orderBy), rows[j].field(orderBy)
		if desc {
			return value.Less(b, a)
		}
		return value.Less(a, b)
	}
	// insertion sort: result sets here are already limit-bounded by the
	// caller in the common case, and a dependency-free stable sort keeps
	// equal-key rows in arrival order without pulling in sort.Slice's
	// reflection-based swap for a type this hot-path-sensitive.
	for i := 1; i < len(rows); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			rows[j-1], rows[j] = rows[j], rows[j-1]
		}
	}
}

// shardRow tags a Row with which shard produced it, the tie-breaker
// MergeShards' heap uses when two shards emit equal order-column values.
type shardRow struct {
	row        Row
	shardIndex int
	rowIndex   int
}

type mergeHeap struct {
	rows    []shardRow
	orderBy string
	desc    bool
}

func (h *mergeHeap) Len() int { return len(h.rows) }
func (h *mergeHeap) Less(i, j int) bool {
	a, b := h.rows[i], h.rows[j]
	av, bv := a.row.field(h.orderBy), b.row.field(h.orderBy)
	if !value.Equal(av, bv) {
		if h.desc {
			return value.Less(bv, av)
		}
		return value.Less(av, bv)
	}
	return a.shardIndex < b.shardIndex
}
func (h *mergeHeap) Swap(i, j int) { h.rows[i], h.rows[j] = h.rows[j], h.rows[i] }
func (h *mergeHeap) Push(x any)    { h.rows = append(h.rows, x.(shardRow)) }
func (h *mergeHeap) Pop() any {
	old := h.rows
	n := len(old)
	item := old[n-1]
	h.rows = old[:n-1]
	return item
}

// MergeShards performs the cross-shard ordered merge of §4.8: a heap
// keyed by the order-column value with shard-index as tie-breaker, so
// equal keys come out in a stable, deterministic shard order rather than
// whatever order the fan-out happened to finish in. offset rows are
// skipped without being counted against limit; the merge stops (and the
// caller should cancel the remaining shard contexts) once limit rows have
// been emitted.
func MergeShards(perShard [][]Row, orderBy string, desc bool, limit, offset int) []Row {
	h := &mergeHeap{orderBy: orderBy, desc: desc}
	heap.Init(h)
	cursor := make([]int, len(perShard))
	for i, rows := range perShard {
		if len(rows) > 0 {
			heap.Push(h, shardRow{row: rows[0], shardIndex: i, rowIndex: 0})
			cursor[i] = 1
		}
	}
	var out []Row
	skipped := 0
	for h.Len() > 0 {
		top := heap.Pop(h).(shardRow)
		if skipped < offset {
			skipped++
		} else {
			out = append(out, top.row)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		rows := perShard[top.shardIndex]
		if cursor[top.shardIndex] < len(rows) {
			next := rows[cursor[top.shardIndex]]
			heap.Push(h, shardRow{row: next, shardIndex: top.shardIndex, rowIndex: cursor[top.shardIndex]})
			cursor[top.shardIndex]++
		}
	}
	return out
}
