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

// Package prune implements the zone finder / pruner chain of §4.6:
// event-type selector, context-id selector, temporal pruner (calendar hour
// buckets), enum-bitmap pruner, xor-filter pruner (`.zxf`, else `.xf`),
// materialization pruner; with no applicable index every zone is kept.
// Zone-surf (`.zsrf`) filters are not consulted. Grounded on storage/index.go's iterateIndex priority chain
// (event-type index checked first, then column indices, falling back to a
// full scan), generalized to roaring-bitmap zone sets instead of row ids.
package prune

import (
	"io"
	"math"
	"os"
	"path/filepath"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/segment"
)

// Input is everything the chain needs for one segment's worth of one
// uid's zones.
type Input struct {
	SegmentDir string
	UID        uint32
	Zones      []segment.Zone
	Catalog    *segment.IndexCatalog // this uid's .icx: which indices exist per field
	TimeField  string
	Since      int64 // 0 means unbounded
	Until      int64 // 0 means unbounded

	// MaterializationCreatedAt, when non-zero, drops zones created at or
	// before this timestamp (incremental-view support, §4.6 pruner 6).
	MaterializationCreatedAt int64
}

// Chain runs the pruner chain against one segment and returns the roaring
// bitmap of zone ids that might satisfy pred. It never produces a false
// negative: every pruner either narrows safely or declines and leaves the
// running set untouched.
func Chain(in Input, pred predicate.Predicate) (*roaring.Bitmap, error) {
	result := allZones(in.Zones)

	if in.Since != 0 || in.Until != 0 {
		cal, ok, err := loadCalendar(in.SegmentDir, in.UID, in.TimeField)
		if err != nil {
			return nil, err
		}
		if ok {
			until := in.Until
			if until == 0 {
				until = math.MaxInt64
			}
			result.And(cal.ZonesForRange(in.Since, until))
		}
	}

	for _, c := range pred.TopLevelClauses() {
		bm, applied, err := pruneClause(in, c)
		if err != nil {
			return nil, err
		}
		if applied {
			result.And(bm)
		}
	}

	if in.MaterializationCreatedAt != 0 {
		kept := roaring.New()
		for _, z := range in.Zones {
			if result.Contains(z.ZoneID) && z.CreatedAt > in.MaterializationCreatedAt {
				kept.Add(z.ZoneID)
			}
		}
		result = kept
	}

	return result, nil
}

func allZones(zones []segment.Zone) *roaring.Bitmap {
	bm := roaring.New()
	for _, z := range zones {
		bm.Add(z.ZoneID)
	}
	return bm
}

// pruneClause dispatches one top-level clause to the appropriate pruner.
// applied reports whether bm is a meaningful narrowing the caller should
// intersect in; false means "this pruner doesn't apply, defer to eval".
func pruneClause(in Input, c predicate.Clause) (bm *roaring.Bitmap, applied bool, err error) {
	switch c.Field {
	case "event_type":
		if c.Op != predicate.Eq {
			return nil, false, nil
		}
		return loadEventTypeZones(in, c.Value.Str())
	case flush.MetaContextID, "context_id":
		if c.Op != predicate.Eq {
			return nil, false, nil
		}
		return loadContextZones(in, c.Value.Str())
	}

	if c.Op != predicate.Eq && c.Op != predicate.In {
		return nil, false, nil
	}
	values := clauseValues(c)

	if in.Catalog != nil && in.Catalog.Has(c.Field, "ebm") {
		return loadEnumZones(in, c.Field, values)
	}
	if in.Catalog != nil && in.Catalog.Has(c.Field, "zxf") {
		return loadZoneXorZones(in, c.Field, values)
	}
	if in.Catalog != nil && in.Catalog.Has(c.Field, "xf") {
		return loadFieldXorZones(in, c.Field, values)
	}
	return nil, false, nil
}

func clauseValues(c predicate.Clause) []string {
	if c.Op == predicate.In {
		out := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			out = append(out, v.NumericString())
		}
		return out
	}
	return []string{c.Value.NumericString()}
}

func loadEventTypeZones(in Input, eventType string) (*roaring.Bitmap, bool, error) {
	idx, ok, err := readIndexFile(in.SegmentDir, segment.IdxFileName(in.UID), segment.ReadEventTypeIndex)
	if err != nil || !ok {
		return nil, false, err
	}
	bm, found := idx.Zones(eventType)
	if !found {
		return roaring.New(), true, nil
	}
	return bm.Clone(), true, nil
}

func loadContextZones(in Input, contextID string) (*roaring.Bitmap, bool, error) {
	idx, ok, err := readIndexFile(in.SegmentDir, segment.CtxFileName(in.UID), segment.ReadContextIndex)
	if err != nil || !ok {
		return nil, false, err
	}
	bm, found := idx.Zones(contextID)
	if !found {
		return roaring.New(), true, nil
	}
	return bm.Clone(), true, nil
}

func loadEnumZones(in Input, field string, values []string) (*roaring.Bitmap, bool, error) {
	idx, ok, err := readIndexFile(in.SegmentDir, segment.EbmFileName(in.UID, field), segment.ReadEnumBitmap)
	if err != nil || !ok {
		return nil, false, err
	}
	union := roaring.New()
	for _, v := range values {
		if bm, found := idx.Zones(v); found {
			union.Or(bm)
		}
	}
	return union, true, nil
}

func loadZoneXorZones(in Input, field string, values []string) (*roaring.Bitmap, bool, error) {
	idx, ok, err := readIndexFile(in.SegmentDir, segment.ZxfFileName(in.UID, field), segment.ReadZoneXorFilter)
	if err != nil || !ok {
		return nil, false, err
	}
	union := roaring.New()
	for _, z := range in.Zones {
		for _, v := range values {
			if idx.MayContain(z.ZoneID, v) {
				union.Add(z.ZoneID)
				break
			}
		}
	}
	return union, true, nil
}

func loadFieldXorZones(in Input, field string, values []string) (*roaring.Bitmap, bool, error) {
	idx, ok, err := readIndexFile(in.SegmentDir, segment.XfFileName(in.UID, field), segment.ReadFieldXorFilter)
	if err != nil || !ok {
		return nil, false, err
	}
	for _, v := range values {
		if idx.MayContain(v) {
			return allZones(in.Zones), true, nil // no zone-level narrowing possible
		}
	}
	return roaring.New(), true, nil // none of the values appear anywhere in the segment
}

func loadCalendar(segmentDir string, uid uint32, timeField string) (*segment.Calendar, bool, error) {
	return readIndexFile(segmentDir, segment.CalFileName(uid)+"."+timeField, segment.ReadCalendar)
}

func readIndexFile[T any](segmentDir, name string, read func(io.Reader) (T, error)) (T, bool, error) {
	var zero T
	f, err := os.Open(filepath.Join(segmentDir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return zero, false, nil
		}
		return zero, false, errs.Wrap(errs.IoError, "opening index file "+name, err)
	}
	defer f.Close()
	v, err := read(f)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}
