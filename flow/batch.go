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

// Package flow is the read-path execution pipeline: sources (memtable,
// segment) feeding operators (projection, ordered merge, limit/offset)
// into a sink, connected by bounded channels. Grounded on
// storage/scan.go's channel producer/consumer split and
// storage/partition.go's iterateShards worker fan-out, generalized from
// row-id/column-offset scanning to typed ColumnBatch streaming per §4.8.
package flow

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/value"
)

// Batch is one vectorized slice of query output: a shared schema (column
// names in order) plus one value slice per column, all of length
// RowCount, and EventIDs carries each row's event id in the same order.
// Null values are stored in place as value.Nil(); there is no separate
// null mask.
type Batch struct {
	Schema   []string
	Columns  map[string][]value.Value
	EventIDs []uuid.UUID
	RowCount int
}

func (b *Batch) reset() {
	b.Schema = b.Schema[:0]
	for k := range b.Columns {
		delete(b.Columns, k)
	}
	b.EventIDs = b.EventIDs[:0]
	b.RowCount = 0
}

// BatchPool recycles Batch allocations across pipeline stages, grounded on
// the teacher's original_source pool_test.rs reference design for a
// single-slab batch allocator. sync.Pool lets each source reuse the
// scratch batches it just drained instead of allocating fresh ones per
// zone/memtable chunk.
type BatchPool struct {
	pool sync.Pool
}

// NewBatchPool builds a pool whose zero value is never used directly;
// always go through Get/Put so the pool's New function is installed once.
func NewBatchPool() *BatchPool {
	p := &BatchPool{}
	p.pool.New = func() any {
		return &Batch{Columns: make(map[string][]value.Value)}
	}
	return p
}

func (p *BatchPool) Get() *Batch {
	return p.pool.Get().(*Batch)
}

func (p *BatchPool) Put(b *Batch) {
	if b == nil {
		return
	}
	b.reset()
	p.pool.Put(b)
}
