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

// Package compact performs the background k-way, level-aware segment
// merge of §4.4: read back the N lowest-level segments of a shard into
// whole events, merge in (context_id, timestamp, event_id) order,
// deduplicate by event_id, and re-flush as one next-level segment.
// Grounded on storage/shard.go's rebuild() (generalized from "rebuild one
// shard's column" to "merge N segments"); the concurrent per-segment
// readback uses golang.org/x/sync/errgroup (teacher's indirect dependency,
// put to direct use here) for first-error propagation across the fan-out,
// in place of storage/partition.go's raw sync.WaitGroup pool.
package compact

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/carli2/hybridsort"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/segment"
)

// SegmentHandle identifies one input segment for a merge: its directory,
// its counter (for superseded-id bookkeeping), and the uids it holds data
// for (taken from the shard's segments.idx entry).
type SegmentHandle struct {
	Dir     string
	Counter uint32
	UIDs    []uint32
}

// TargetRows is target_rows(level) from §4.4: larger zones at higher
// levels so repeated compaction converges instead of merging the same
// row count forever.
func TargetRows(level int, eventPerZone int, fillFactor float64) int {
	return int(float64(eventPerZone) * fillFactor * float64(level+1))
}

// ShouldRun reports whether the periodic compaction poll should proceed,
// per §4.4's "skips if the I/O monitor reports sustained write rate above
// a configured threshold or if available system memory is below another
// threshold". It is a gate for a caller to check before invoking Merge;
// Merge itself does not call it.
func ShouldRun(writeRateMBs, ioThresholdMBs float64, freeMemMB, minFreeMemMB uint64) bool {
	if ioThresholdMBs > 0 && writeRateMBs > ioThresholdMBs {
		return false
	}
	if minFreeMemMB > 0 && freeMemMB < minFreeMemMB {
		return false
	}
	return true
}

// Result is what Merge produces: the re-flushed segment's per-uid zones
// plus the counters of the segments it superseded (the caller deletes or
// archives these and republishes segments.idx).
type Result struct {
	Flushed    []flush.Result
	Superseded []uint32
}

// Merge reads segments (ordered oldest-first: ties in event_id dedup favor
// the earliest segment, per §4.4's "deduplicates by event_id, first
// wins"), merges their events, and re-flushes them into outputDir as
// segment outputSegmentID with zones of eventPerZone rows.
func Merge(ctx context.Context, segments []SegmentHandle, registry *schema.Registry, outputDir string, outputSegmentID uint32, eventPerZone int) (*Result, error) {
	if len(segments) == 0 {
		return &Result{}, nil
	}

	perSegment := make([][]memtable.Event, len(segments))
	g, gctx := errgroup.WithContext(ctx)
	for i, seg := range segments {
		i, seg := i, seg
		g.Go(func() error {
			events, err := readSegmentEvents(gctx, seg, registry)
			if err != nil {
				return err
			}
			perSegment[i] = events
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := dedupMerge(perSegment)
	sortByMergeKey(merged)

	mt := memtable.New(0)
	for _, e := range merged {
		mt.Insert(e)
	}

	flushed, err := flush.Flush(outputDir, outputSegmentID, mt, registry, eventPerZone)
	if err != nil {
		return nil, err
	}

	superseded := make([]uint32, len(segments))
	for i, seg := range segments {
		superseded[i] = seg.Counter
	}
	return &Result{Flushed: flushed, Superseded: superseded}, nil
}

// readSegmentEvents decodes every uid seg holds data for back into whole
// memtable.Events, reconstructing identity from the __event_id/
// __context_id/__timestamp meta columns flush.go always writes.
func readSegmentEvents(ctx context.Context, seg SegmentHandle, registry *schema.Registry) ([]memtable.Event, error) {
	var out []memtable.Event
	for _, uid := range seg.UIDs {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		def, err := registry.ByUID(uid)
		if err != nil {
			return nil, err
		}
		events, err := readUIDEvents(seg.Dir, uid, def)
		if err != nil {
			return nil, err
		}
		out = append(out, events...)
	}
	return out, nil
}

func readUIDEvents(dir string, uid uint32, def *schema.Definition) ([]memtable.Event, error) {
	zonesPath := filepath.Join(dir, segment.ZonesFileName(uid))
	zf, err := os.Open(zonesPath)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "opening zones file for compaction", err)
	}
	zones, err := segment.ReadZones(zf)
	zf.Close()
	if err != nil {
		return nil, err
	}

	fields := make([]schema.FieldSpec, 0, len(def.Fields)+len(flush.MetaFields()))
	fields = append(fields, def.Fields...)
	fields = append(fields, flush.MetaFields()...)

	readers := make(map[string]*segment.ColumnReader, len(fields))
	files := make([]*os.File, 0, len(fields))
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()
	for _, field := range fields {
		colPath := filepath.Join(dir, segment.ColumnFileName(uid, field.Name))
		f, err := os.Open(colPath)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "opening column file for compaction", err)
		}
		files = append(files, f)
		zfcPath := filepath.Join(dir, segment.ZfcFileName(uid, field.Name))
		zfcFile, err := os.Open(zfcPath)
		if err != nil {
			return nil, errs.Wrap(errs.IoError, "opening zfc file for compaction", err)
		}
		entries, err := segment.ReadZfcEntries(zfcFile)
		zfcFile.Close()
		if err != nil {
			return nil, err
		}
		readers[field.Name] = segment.OpenColumnReader(f, entries)
	}

	var out []memtable.Event
	for _, z := range zones {
		blocks := make(map[string]*segment.Block, len(fields))
		for name, r := range readers {
			b, err := r.ReadZoneBlock(z.ZoneID)
			if err != nil {
				return nil, err
			}
			blocks[name] = b
		}
		rowCount := int(z.EndRow - z.StartRow)
		for i := 0; i < rowCount; i++ {
			e := memtable.Event{UID: uid, EventType: def.EventType}
			for _, field := range def.Fields {
				v := blocks[field.Name].At(i)
				e.Payload = append(e.Payload, schema.PayloadField{Name: field.Name, Value: v})
			}
			if idVal := blocks[flush.MetaEventID].At(i); !idVal.IsNil() {
				if parsed, err := uuid.Parse(idVal.Str()); err == nil {
					e.EventID = parsed
				}
			}
			e.ContextID = blocks[flush.MetaContextID].At(i).Str()
			e.Timestamp = blocks[flush.MetaTimestamp].At(i).I64()
			out = append(out, e)
		}
	}
	return out, nil
}

// dedupMerge flattens perSegment (already in oldest-first order) keeping
// only the first occurrence of each event_id, per §4.4's "first wins".
func dedupMerge(perSegment [][]memtable.Event) []memtable.Event {
	seen := make(map[uuid.UUID]struct{})
	var out []memtable.Event
	for _, events := range perSegment {
		for _, e := range events {
			if _, dup := seen[e.EventID]; dup {
				continue
			}
			seen[e.EventID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// mergeOrder sorts by (context_id, timestamp, event_id), the order a
// merged segment's zone cursors stream rows in per §4.4.
type mergeOrder []memtable.Event

func (m mergeOrder) Len() int { return len(m) }
func (m mergeOrder) Less(i, j int) bool {
	a, b := m[i], m[j]
	if a.ContextID != b.ContextID {
		return a.ContextID < b.ContextID
	}
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	return bytes.Compare(a.EventID[:], b.EventID[:]) < 0
}
func (m mergeOrder) Swap(i, j int) { m[i], m[j] = m[j], m[i] }

// sortByMergeKey sorts a merged event set with hybridsort, the teacher's
// indirect dependency for large-slice sorting (storage/index.go reserves
// sort.Slice for cold-path index building; a compaction merge's row sort
// is the corresponding hot path).
func sortByMergeKey(events []memtable.Event) {
	hybridsort.Sort(mergeOrder(events))
}
