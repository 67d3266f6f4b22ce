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

// Package flush materializes a frozen memtable into an immutable on-disk
// segment: partition by uid, plan zones, encode column blocks, build
// indices, and write the segment's files. Publishing the segment into the
// shard's segments.idx is left to the caller. Grounded
// on the teacher's storageShard.rebuild two-phase scan/build lifecycle
// (storage/shard.go), generalized from in-place column rebuilding to
// whole-segment materialization.
package flush

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

// Result is what Flush produces for one uid's worth of a frozen memtable.
type Result struct {
	UID   uint32
	Zones []segment.Zone
}

// Flush materializes frozen's events into segmentDir (already named per
// segment.DirName(segmentID)), one sub-file-set per uid present, and
// returns the per-uid results.
func Flush(segmentDir string, segmentID uint32, frozen *memtable.Memtable, registry *schema.Registry, eventPerZone int) ([]Result, error) {
	if err := os.MkdirAll(segmentDir, 0750); err != nil {
		return nil, errs.Wrap(errs.IoError, "creating segment directory", err)
	}

	byUID := partitionByUID(frozen.Events())
	createdAt := time.Now().Unix()

	uids := make([]uint32, 0, len(byUID))
	for uid := range byUID {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })

	results := make([]Result, 0, len(uids))
	for _, uid := range uids {
		events := byUID[uid]
		def, err := registry.ByUID(uid)
		if err != nil {
			return nil, err
		}
		zones, err := flushUID(segmentDir, uid, segmentID, events, def, eventPerZone, createdAt)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{UID: uid, Zones: zones})
	}
	return results, nil
}

func partitionByUID(events []memtable.Event) map[uint32][]memtable.Event {
	byUID := make(map[uint32][]memtable.Event)
	for _, e := range events {
		byUID[e.UID] = append(byUID[e.UID], e)
	}
	return byUID
}

func flushUID(segmentDir string, uid uint32, segmentID uint32, events []memtable.Event, def *schema.Definition, eventPerZone int, createdAt int64) ([]segment.Zone, error) {
	timestamps := make([]int64, len(events))
	for i, e := range events {
		timestamps[i] = e.Timestamp
	}
	zones := segment.Plan(uid, segmentID, 0, len(events), eventPerZone, timestamps, createdAt)

	eventTypeIdx := segment.NewEventTypeIndex()
	contextIdx := segment.NewContextIndex()
	catalog := segment.NewIndexCatalog()

	for _, z := range zones {
		rows := events[z.StartRow:z.EndRow]
		seenTypes := make(map[string]struct{})
		for _, e := range rows {
			if _, ok := seenTypes[e.EventType]; !ok {
				seenTypes[e.EventType] = struct{}{}
				eventTypeIdx.Add(e.EventType, z.ZoneID)
			}
			contextIdx.Add(e.ContextID, z.ZoneID)
		}
	}

	for _, field := range def.Fields {
		if err := flushField(segmentDir, uid, field, events, zones, catalog, payloadValue(field.Name)); err != nil {
			return nil, err
		}
	}
	for _, field := range MetaFields() {
		if err := flushField(segmentDir, uid, field, events, zones, catalog, metaValue(field.Name)); err != nil {
			return nil, err
		}
	}

	if err := withFile(filepath.Join(segmentDir, segment.IdxFileName(uid)), eventTypeIdx.WriteTo); err != nil {
		return nil, err
	}
	if err := withFile(filepath.Join(segmentDir, segment.CtxFileName(uid)), contextIdx.WriteTo); err != nil {
		return nil, err
	}
	if err := withFile(filepath.Join(segmentDir, segment.IcxFileName(uid)), catalog.WriteTo); err != nil {
		return nil, err
	}
	zonesWriter := func(w io.Writer) error { return segment.WriteZones(w, zones) }
	if err := withFile(filepath.Join(segmentDir, segment.ZonesFileName(uid)), zonesWriter); err != nil {
		return nil, err
	}

	return zones, nil
}

// MetaFields are always-present per-row columns that carry identity and
// timing information no payload schema declares explicitly, so a segment
// can be read back into whole events (by compact and by row-level
// evaluation) without any side-channel. Named with a double underscore
// prefix, reserved and unavailable to user-defined schemas.
func MetaFields() []schema.FieldSpec {
	return []schema.FieldSpec{
		{Name: MetaEventID, Logical: value.String},
		{Name: MetaContextID, Logical: value.String},
		{Name: MetaTimestamp, Logical: value.I64},
	}
}

const (
	MetaEventID   = "__event_id"
	MetaContextID = "__context_id"
	MetaTimestamp = "__timestamp"
)

func payloadValue(name string) func(memtable.Event) value.Value {
	return func(e memtable.Event) value.Value { return e.Field(name) }
}

func metaValue(name string) func(memtable.Event) value.Value {
	switch name {
	case MetaEventID:
		return func(e memtable.Event) value.Value { return value.NewString(e.EventID.String()) }
	case MetaContextID:
		return func(e memtable.Event) value.Value { return value.NewString(e.ContextID) }
	case MetaTimestamp:
		return func(e memtable.Event) value.Value { return value.NewI64(e.Timestamp) }
	default:
		panic("flush: unknown meta field " + name)
	}
}

func flushField(segmentDir string, uid uint32, field schema.FieldSpec, events []memtable.Event, zones []segment.Zone, catalog *segment.IndexCatalog, valueOf func(memtable.Event) value.Value) error {
	phys := segment.LogicalToPhys(field.Logical)

	colPath := filepath.Join(segmentDir, segment.ColumnFileName(uid, field.Name))
	colFile, err := os.Create(colPath)
	if err != nil {
		return errs.Wrap(errs.IoError, "creating column file", err)
	}
	defer colFile.Close()

	w, err := segment.NewColumnWriter(colFile)
	if err != nil {
		return err
	}

	stringsByZone := make(map[uint32][]string)
	calendar := segment.NewCalendar()
	enum := segment.NewEnumBitmap()

	for _, z := range zones {
		rows := events[z.StartRow:z.EndRow]
		vals := make([]value.Value, len(rows))
		var strs []string
		for i, e := range rows {
			v := valueOf(e)
			vals[i] = v
			if v.Kind() == value.String {
				strs = append(strs, v.Str())
			}
		}
		block := segment.BlockFromValues(phys, vals)
		if _, err := w.WriteZoneBlock(z.ZoneID, block); err != nil {
			return err
		}
		if len(strs) > 0 {
			stringsByZone[z.ZoneID] = strs
			if field.Enum {
				for _, s := range strs {
					enum.Add(s, z.ZoneID)
				}
			}
		}
		if field.Temporal {
			calendar.AddZoneRange(z.ZoneID, z.TimestampMin, z.TimestampMax)
		}
	}
	catalog.Mark(field.Name, "zfc")

	if err := withFile(filepath.Join(segmentDir, segment.ZfcFileName(uid, field.Name)), w.WriteZfc); err != nil {
		return err
	}

	if len(stringsByZone) > 0 {
		zxf, err := segment.BuildZoneXorFilters(stringsByZone)
		if err != nil {
			return err
		}
		if err := withFile(filepath.Join(segmentDir, segment.ZxfFileName(uid, field.Name)), zxf.WriteTo); err != nil {
			return err
		}
		catalog.Mark(field.Name, "zxf")

		var allStrings []string
		for _, strs := range stringsByZone {
			allStrings = append(allStrings, strs...)
		}
		xf, err := segment.BuildFieldXorFilter(allStrings)
		if err != nil {
			return err
		}
		if err := withFile(filepath.Join(segmentDir, segment.XfFileName(uid, field.Name)), xf.WriteTo); err != nil {
			return err
		}
		catalog.Mark(field.Name, "xf")

		surf := segment.BuildZoneSurfFilter(stringsByZone)
		if err := withFile(filepath.Join(segmentDir, segment.ZsrfFileName(uid, field.Name)), surf.WriteTo); err != nil {
			return err
		}
		catalog.Mark(field.Name, "zsrf")
	}

	if field.Enum && len(enum.Variants) > 0 {
		if err := withFile(filepath.Join(segmentDir, segment.EbmFileName(uid, field.Name)), enum.WriteTo); err != nil {
			return err
		}
		catalog.Mark(field.Name, "ebm")
	}

	if field.Temporal {
		if err := withFile(filepath.Join(segmentDir, segment.CalFileName(uid)+"."+field.Name), calendar.WriteTo); err != nil {
			return err
		}
		catalog.Mark(field.Name, "cal")
	}

	return nil
}

func withFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return errs.Wrap(errs.IoError, "creating segment file", err)
	}
	defer f.Close()
	return write(f)
}
