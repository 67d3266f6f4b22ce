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
package segment

import (
	"encoding/binary"
	"io"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/btree"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

const (
	secondsPerHour = 3600
	secondsPerDay  = 86400
)

// Calendar maps hour and day buckets of a temporal field to the zones that
// intersect them (`.cal`). The temporal pruner (query/prune) unions hour
// buckets through ZonesForRange; day buckets are stored and can be looked
// up with ZonesForDay, but the pruner does not consult them.
type Calendar struct {
	byHour map[int64]*roaring.Bitmap
	byDay  map[int64]*roaring.Bitmap
}

func NewCalendar() *Calendar {
	return &Calendar{byHour: make(map[int64]*roaring.Bitmap), byDay: make(map[int64]*roaring.Bitmap)}
}

func hourBucket(ts int64) int64 { return ts / secondsPerHour }
func dayBucket(ts int64) int64  { return ts / secondsPerDay }

// AddZoneRange marks zoneID present in every hour/day bucket its
// [min, max] timestamp range intersects.
func (c *Calendar) AddZoneRange(zoneID uint32, min, max int64) {
	for h := hourBucket(min); h <= hourBucket(max); h++ {
		bm, ok := c.byHour[h]
		if !ok {
			bm = roaring.New()
			c.byHour[h] = bm
		}
		bm.Add(zoneID)
	}
	for d := dayBucket(min); d <= dayBucket(max); d++ {
		bm, ok := c.byDay[d]
		if !ok {
			bm = roaring.New()
			c.byDay[d] = bm
		}
		bm.Add(zoneID)
	}
}

// ZonesForHour returns the zones intersecting the hour bucket containing ts,
// and whether an hour-level entry exists at all.
func (c *Calendar) ZonesForHour(ts int64) (*roaring.Bitmap, bool) {
	bm, ok := c.byHour[hourBucket(ts)]
	return bm, ok
}

// ZonesForDay returns the zones intersecting the day bucket containing ts,
// and whether a day-level entry exists at all.
func (c *Calendar) ZonesForDay(ts int64) (*roaring.Bitmap, bool) {
	bm, ok := c.byDay[dayBucket(ts)]
	return bm, ok
}

// ZonesForRange unions hour buckets across [since, until], which is what a
// Gte/range predicate needs rather than a single point lookup.
func (c *Calendar) ZonesForRange(since, until int64) *roaring.Bitmap {
	result := roaring.New()
	lo, hi := hourBucket(since), hourBucket(until)
	for h, bm := range c.byHour {
		if h >= lo && h <= hi {
			result.Or(bm)
		}
	}
	return result
}

func (c *Calendar) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindCalendarDir, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	if err := writeBucketMap(w, c.byHour); err != nil {
		return err
	}
	if err := writeBucketMap(w, c.byDay); err != nil {
		return err
	}
	return nil
}

func ReadCalendar(r io.Reader) (*Calendar, error) {
	if _, err := framing.ReadHeader(r, framing.KindCalendarDir); err != nil {
		return nil, err
	}
	c := NewCalendar()
	var err error
	if c.byHour, err = readBucketMap(r); err != nil {
		return nil, err
	}
	if c.byDay, err = readBucketMap(r); err != nil {
		return nil, err
	}
	return c, nil
}

func writeBucketMap(w io.Writer, m map[int64]*roaring.Bitmap) error {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	if err := binary.Write(w, binary.LittleEndian, uint32(len(keys))); err != nil {
		return errs.Wrap(errs.IoError, "writing calendar bucket count", err)
	}
	for _, k := range keys {
		if err := binary.Write(w, binary.LittleEndian, k); err != nil {
			return errs.Wrap(errs.IoError, "writing calendar bucket key", err)
		}
		if err := writeBitmap(w, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func readBucketMap(r io.Reader) (map[int64]*roaring.Bitmap, error) {
	m := make(map[int64]*roaring.Bitmap)
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading calendar bucket count", err)
	}
	for i := uint32(0); i < count; i++ {
		var k int64
		if err := binary.Read(r, binary.LittleEndian, &k); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading calendar bucket key", err)
		}
		bm, err := readBitmap(r)
		if err != nil {
			return nil, err
		}
		m[k] = bm
	}
	return m, nil
}

// zoneRange is one temporal slab entry, ordered by TimestampMin so the
// slab's btree.BTreeG can answer "zones whose range could overlap [a,b]"
// by walking forward from the first candidate, grounded on the teacher's
// use of google/btree for its delta index (storage/index.go's deltaBtree).
type zoneRange struct {
	ZoneID       uint32
	TimestampMin int64
	TimestampMax int64
}

func zoneRangeLess(a, b zoneRange) bool {
	if a.TimestampMin != b.TimestampMin {
		return a.TimestampMin < b.TimestampMin
	}
	return a.ZoneID < b.ZoneID
}

// TemporalSlab is the per-field, per-segment zone temporal index: a
// btree ordered by timestamp_min enabling range refinement beyond
// calendar bucket granularity.
type TemporalSlab struct {
	tree *btree.BTreeG[zoneRange]
}

func NewTemporalSlab() *TemporalSlab {
	return &TemporalSlab{tree: btree.NewG(32, zoneRangeLess)}
}

func (s *TemporalSlab) Add(zoneID uint32, min, max int64) {
	s.tree.ReplaceOrInsert(zoneRange{ZoneID: zoneID, TimestampMin: min, TimestampMax: max})
}

// Overlapping returns the ids of zones whose [min,max] range intersects
// [since, until].
func (s *TemporalSlab) Overlapping(since, until int64) []uint32 {
	var ids []uint32
	s.tree.Ascend(func(zr zoneRange) bool {
		if zr.TimestampMin > until {
			return false // tree is ordered by TimestampMin: nothing further can match
		}
		if zr.TimestampMax >= since {
			ids = append(ids, zr.ZoneID)
		}
		return true
	})
	return ids
}
