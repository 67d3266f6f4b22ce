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
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/cache"
	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/query"
	"github.com/shardline/eventcore/query/eval"
	"github.com/shardline/eventcore/query/prune"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

// Source produces batches of rows already filtered against a plan's
// predicate. A Source closes its channel when exhausted, and stops
// promptly once ctx is cancelled (the "ChannelClosed on receiver-drop"
// early-termination contract ordered merge/limit rely on).
type Source interface {
	Run(ctx context.Context, pool *BatchPool, batchSize int) (<-chan *Batch, <-chan error)
}

// RequiredFields computes the column set a source must decode: every field
// referenced by the predicate, plus group-by/order-by columns, plus an
// explicit projection, always including the identity meta fields.
func RequiredFields(plan *query.Plan, projection []string) []string {
	set := map[string]struct{}{
		flush.MetaEventID:   {},
		flush.MetaContextID: {},
		flush.MetaTimestamp: {},
	}
	add := func(f string) { set[f] = struct{}{} }
	for _, f := range plan.Where.AllFields() {
		add(f)
	}
	for _, f := range plan.GroupBy {
		add(f)
	}
	if plan.OrderBy != "" {
		add(plan.OrderBy)
	}
	for _, f := range projection {
		add(f)
	}
	out := make([]string, 0, len(set))
	for f := range set {
		out = append(out, f)
	}
	return out
}

// MemTableSource streams the rows of a shard's in-memory memtable set
// (active + passive) that match a plan, for the given uid.
type MemTableSource struct {
	Set    *memtable.Set
	Plan   *query.Plan
	Fields []string
}

func (s *MemTableSource) Run(ctx context.Context, pool *BatchPool, batchSize int) (<-chan *Batch, <-chan error) {
	out := make(chan *Batch, 4)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		batch := pool.Get()
		batch.Schema = append(batch.Schema[:0], s.Fields...)
		flushBatch := func() {
			if batch.RowCount == 0 {
				return
			}
			select {
			case out <- batch:
			case <-ctx.Done():
			}
			batch = pool.Get()
			batch.Schema = append(batch.Schema[:0], s.Fields...)
		}
		s.Set.ScanAll(func(e memtable.Event) bool {
			select {
			case <-ctx.Done():
				return false
			default:
			}
			if e.UID != s.Plan.Definition.UID {
				return true
			}
			row := func(field string) value.Value { return metaOrPayload(e, field) }
			if !s.Plan.Where.Evaluate(row) {
				return true
			}
			appendRow(batch, s.Fields, e.EventID, row)
			if batch.RowCount >= batchSize {
				flushBatch()
			}
			return true
		})
		flushBatch()
	}()
	return out, errc
}

func metaOrPayload(e memtable.Event, field string) value.Value {
	switch field {
	case flush.MetaEventID:
		return value.NewString(e.EventID.String())
	case flush.MetaContextID:
		return value.NewString(e.ContextID)
	case flush.MetaTimestamp:
		return value.NewI64(e.Timestamp)
	default:
		return e.Field(field)
	}
}

func appendRow(b *Batch, fields []string, id uuid.UUID, row func(string) value.Value) {
	for _, f := range fields {
		b.Columns[f] = append(b.Columns[f], row(f))
	}
	b.EventIDs = append(b.EventIDs, id)
	b.RowCount++
}

// SegmentSource streams the rows of one on-disk segment's zones (for the
// plan's uid) that survive the prune chain and row-level evaluation.
type SegmentSource struct {
	Segment query.SegmentEntry
	Plan    *query.Plan
	Fields  []string

	// Cache, if set, routes decompressed zone blocks through the shard's
	// shared Hierarchy instead of re-decoding on every scan.
	Cache *cache.Hierarchy
}

func (s *SegmentSource) Run(ctx context.Context, pool *BatchPool, batchSize int) (<-chan *Batch, <-chan error) {
	out := make(chan *Batch, 4)
	errc := make(chan error, 1)
	go func() {
		defer close(out)
		defer close(errc)
		if err := s.run(ctx, pool, batchSize, out); err != nil {
			select {
			case errc <- err:
			default:
			}
		}
	}()
	return out, errc
}

func (s *SegmentSource) run(ctx context.Context, pool *BatchPool, batchSize int, out chan<- *Batch) error {
	def := s.Plan.Definition
	in, err := s.Plan.PruneInput(s.Segment)
	if err != nil {
		return err
	}
	survivors, err := prune.Chain(in, s.Plan.Where)
	if err != nil {
		return err
	}
	if survivors.IsEmpty() {
		return nil
	}

	readers := make(map[string]*segment.ColumnReader)
	files := make(map[string]*os.File)
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, field := range s.Fields {
		colPath := filepath.Join(s.Segment.SegmentDir, segment.ColumnFileName(def.UID, field))
		zfcPath := filepath.Join(s.Segment.SegmentDir, segment.ZfcFileName(def.UID, field))
		f, err := os.Open(colPath)
		if err != nil {
			if os.IsNotExist(err) {
				continue // field absent from this segment's schema version
			}
			return errs.Wrap(errs.IoError, "opening column file", err)
		}
		zf, err := os.Open(zfcPath)
		if err != nil {
			f.Close()
			return errs.Wrap(errs.IoError, "opening zfc file", err)
		}
		entries, err := segment.ReadZfcEntries(zf)
		zf.Close()
		if err != nil {
			f.Close()
			return err
		}
		readers[field] = segment.OpenColumnReader(f, entries)
		files[field] = f
	}

	batch := pool.Get()
	batch.Schema = append(batch.Schema[:0], s.Fields...)
	flushBatch := func() bool {
		if batch.RowCount == 0 {
			return true
		}
		select {
		case out <- batch:
		case <-ctx.Done():
			return false
		}
		batch = pool.Get()
		batch.Schema = append(batch.Schema[:0], s.Fields...)
		return true
	}

	it := survivors.Iterator()
	for it.HasNext() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		zoneID := it.Next()
		blocks := make(map[string]*segment.Block, len(readers))
		for field, r := range readers {
			b, err := s.readZoneBlock(r, field, zoneID)
			if err != nil {
				return err
			}
			blocks[field] = b
		}
		zr := eval.ZoneRow{Blocks: blocks}
		for _, rowIdx := range zr.MatchingRows(s.Plan.Where) {
			var eventID uuid.UUID
			for _, f := range s.Fields {
				v := value.Nil()
				if b, ok := blocks[f]; ok {
					v = b.At(rowIdx)
				}
				batch.Columns[f] = append(batch.Columns[f], v)
				if f == flush.MetaEventID {
					if parsed, err := uuid.Parse(v.Str()); err == nil {
						eventID = parsed
					}
				}
			}
			batch.EventIDs = append(batch.EventIDs, eventID)
			batch.RowCount++
			if batch.RowCount >= batchSize {
				if !flushBatch() {
					return nil
				}
			}
		}
	}
	flushBatch()
	return nil
}

// readZoneBlock decodes one field's zone block, through s.Cache's Blocks
// cache when one is configured (deduping concurrent same-key decompression
// via singleflight), or directly otherwise.
func (s *SegmentSource) readZoneBlock(r *segment.ColumnReader, field string, zoneID uint32) (*segment.Block, error) {
	if s.Cache == nil {
		return r.ReadZoneBlock(zoneID)
	}
	key := fmt.Sprintf("%s/%d/%s/%d", s.Segment.SegmentDir, s.Plan.Definition.UID, field, zoneID)
	v, err := s.Cache.Blocks.GetOrLoad(key, func() (any, int64, error) {
		b, err := r.ReadZoneBlock(zoneID)
		if err != nil {
			return nil, 0, err
		}
		return b, cache.BlockBytes(b), nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*segment.Block), nil
}
