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
	"github.com/FastFilter/xorfilter"
	"github.com/cespare/xxhash/v2"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// EventTypeIndex maps event_type -> zone ids known to contain it (`.idx`).
type EventTypeIndex struct {
	byType map[string]*roaring.Bitmap
}

func NewEventTypeIndex() *EventTypeIndex {
	return &EventTypeIndex{byType: make(map[string]*roaring.Bitmap)}
}

func (idx *EventTypeIndex) Add(eventType string, zoneID uint32) {
	bm, ok := idx.byType[eventType]
	if !ok {
		bm = roaring.New()
		idx.byType[eventType] = bm
	}
	bm.Add(zoneID)
}

func (idx *EventTypeIndex) Zones(eventType string) (*roaring.Bitmap, bool) {
	bm, ok := idx.byType[eventType]
	return bm, ok
}

func (idx *EventTypeIndex) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindZoneEventTypeIndex, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	types := make([]string, 0, len(idx.byType))
	for t := range idx.byType {
		types = append(types, t)
	}
	sort.Strings(types)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(types))); err != nil {
		return errs.Wrap(errs.IoError, "writing event-type index count", err)
	}
	for _, t := range types {
		if err := writeString(w, t); err != nil {
			return err
		}
		if err := writeBitmap(w, idx.byType[t]); err != nil {
			return err
		}
	}
	return nil
}

func ReadEventTypeIndex(r io.Reader) (*EventTypeIndex, error) {
	if _, err := framing.ReadHeader(r, framing.KindZoneEventTypeIndex); err != nil {
		return nil, err
	}
	idx := NewEventTypeIndex()
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading event-type index count", err)
	}
	for i := uint32(0); i < count; i++ {
		t, err := readString(r)
		if err != nil {
			return nil, err
		}
		bm, err := readBitmap(r)
		if err != nil {
			return nil, err
		}
		idx.byType[t] = bm
	}
	return idx, nil
}

// ContextIndex maps a hashed context_id -> zone bitmap (`.ctx`).
type ContextIndex struct {
	byHash map[uint64]*roaring.Bitmap
}

func NewContextIndex() *ContextIndex {
	return &ContextIndex{byHash: make(map[uint64]*roaring.Bitmap)}
}

func HashContextID(contextID string) uint64 {
	return xxhash.Sum64String(contextID)
}

func (idx *ContextIndex) Add(contextID string, zoneID uint32) {
	h := HashContextID(contextID)
	bm, ok := idx.byHash[h]
	if !ok {
		bm = roaring.New()
		idx.byHash[h] = bm
	}
	bm.Add(zoneID)
}

func (idx *ContextIndex) Zones(contextID string) (*roaring.Bitmap, bool) {
	bm, ok := idx.byHash[HashContextID(contextID)]
	return bm, ok
}

func (idx *ContextIndex) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindContextIndex, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	hashes := make([]uint64, 0, len(idx.byHash))
	for h := range idx.byHash {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool { return hashes[i] < hashes[j] })
	if err := binary.Write(w, binary.LittleEndian, uint32(len(hashes))); err != nil {
		return errs.Wrap(errs.IoError, "writing context index count", err)
	}
	for _, hv := range hashes {
		if err := binary.Write(w, binary.LittleEndian, hv); err != nil {
			return errs.Wrap(errs.IoError, "writing context hash", err)
		}
		if err := writeBitmap(w, idx.byHash[hv]); err != nil {
			return err
		}
	}
	return nil
}

func ReadContextIndex(r io.Reader) (*ContextIndex, error) {
	if _, err := framing.ReadHeader(r, framing.KindContextIndex); err != nil {
		return nil, err
	}
	idx := NewContextIndex()
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading context index count", err)
	}
	for i := uint32(0); i < count; i++ {
		var hv uint64
		if err := binary.Read(r, binary.LittleEndian, &hv); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading context hash", err)
		}
		bm, err := readBitmap(r)
		if err != nil {
			return nil, err
		}
		idx.byHash[hv] = bm
	}
	return idx, nil
}

// ZoneXorFilter is a per-zone BinaryFuse8 approximate membership filter
// over the hashes of one field's string values (`.zxf`).
type ZoneXorFilter struct {
	byZone map[uint32]*xorfilter.BinaryFuse8
}

func BuildZoneXorFilters(valuesByZone map[uint32][]string) (*ZoneXorFilter, error) {
	f := &ZoneXorFilter{byZone: make(map[uint32]*xorfilter.BinaryFuse8)}
	for zoneID, vals := range valuesByZone {
		if len(vals) == 0 {
			continue
		}
		keys := hashStrings(vals)
		bf, err := xorfilter.PopulateBinaryFuse8(keys)
		if err != nil {
			// BinaryFuse8 construction can fail on very small unique-hash
			// sets; tolerated by leaving this zone's filter absent rather
			// than failing the whole segment build (MayContain already
			// treats an absent filter as "cannot prune").
			continue
		}
		f.byZone[zoneID] = bf
	}
	return f, nil
}

// MayContain reports whether zoneID's filter might contain value. A false
// result is authoritative (the zone cannot contain it); true may be a false
// positive.
func (f *ZoneXorFilter) MayContain(zoneID uint32, value string) bool {
	bf, ok := f.byZone[zoneID]
	if !ok {
		return true // no filter built for this zone: cannot prune
	}
	return bf.Contains(xxhash.Sum64String(value))
}

// WriteTo serializes every zone's BinaryFuse8 filter plane (Seed,
// SegmentLength, SegmentLengthMask, SegmentCount, SegmentCountLength,
// Fingerprints), the exported fields the xorfilter package builds a
// BinaryFuse8 from, so a filter can be reconstructed without repopulating.
func (f *ZoneXorFilter) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindZoneXor, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	zones := make([]uint32, 0, len(f.byZone))
	for z := range f.byZone {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i] < zones[j] })
	if err := binary.Write(w, binary.LittleEndian, uint32(len(zones))); err != nil {
		return errs.Wrap(errs.IoError, "writing zone xor zone count", err)
	}
	for _, z := range zones {
		if err := binary.Write(w, binary.LittleEndian, z); err != nil {
			return errs.Wrap(errs.IoError, "writing zone xor zone id", err)
		}
		if err := writeBinaryFuse8(w, f.byZone[z]); err != nil {
			return err
		}
	}
	return nil
}

func ReadZoneXorFilter(r io.Reader) (*ZoneXorFilter, error) {
	if _, err := framing.ReadHeader(r, framing.KindZoneXor); err != nil {
		return nil, err
	}
	f := &ZoneXorFilter{byZone: make(map[uint32]*xorfilter.BinaryFuse8)}
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading zone xor zone count", err)
	}
	for i := uint32(0); i < count; i++ {
		var z uint32
		if err := binary.Read(r, binary.LittleEndian, &z); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading zone xor zone id", err)
		}
		bf, err := readBinaryFuse8(r)
		if err != nil {
			return nil, err
		}
		f.byZone[z] = bf
	}
	return f, nil
}

func writeBinaryFuse8(w io.Writer, bf *xorfilter.BinaryFuse8) error {
	if err := binary.Write(w, binary.LittleEndian, bf.Seed); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter seed", err)
	}
	if err := binary.Write(w, binary.LittleEndian, bf.SegmentLength); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter segment length", err)
	}
	if err := binary.Write(w, binary.LittleEndian, bf.SegmentLengthMask); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter segment length mask", err)
	}
	if err := binary.Write(w, binary.LittleEndian, bf.SegmentCount); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter segment count", err)
	}
	if err := binary.Write(w, binary.LittleEndian, bf.SegmentCountLength); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter segment count length", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(bf.Fingerprints))); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter fingerprint count", err)
	}
	if _, err := w.Write(bf.Fingerprints); err != nil {
		return errs.Wrap(errs.IoError, "writing xor filter fingerprints", err)
	}
	return nil
}

func readBinaryFuse8(r io.Reader) (*xorfilter.BinaryFuse8, error) {
	bf := &xorfilter.BinaryFuse8{}
	if err := binary.Read(r, binary.LittleEndian, &bf.Seed); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter seed", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &bf.SegmentLength); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter segment length", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &bf.SegmentLengthMask); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter segment length mask", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &bf.SegmentCount); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter segment count", err)
	}
	if err := binary.Read(r, binary.LittleEndian, &bf.SegmentCountLength); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter segment count length", err)
	}
	var fpCount uint32
	if err := binary.Read(r, binary.LittleEndian, &fpCount); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter fingerprint count", err)
	}
	bf.Fingerprints = make([]uint8, fpCount)
	if _, err := io.ReadFull(r, bf.Fingerprints); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading xor filter fingerprints", err)
	}
	return bf, nil
}

func hashStrings(vals []string) []uint64 {
	seen := make(map[uint64]struct{}, len(vals))
	keys := make([]uint64, 0, len(vals))
	for _, v := range vals {
		h := xxhash.Sum64String(v)
		if _, ok := seen[h]; ok {
			continue
		}
		seen[h] = struct{}{}
		keys = append(keys, h)
	}
	return keys
}

// FieldXorFilter is the whole-field fallback gate used when a `.zxf` miss
// occurs (`.xf`): one BinaryFuse8 over every distinct value in the field
// across the whole segment.
type FieldXorFilter struct {
	filter *xorfilter.BinaryFuse8
	empty  bool // true if the field genuinely has zero values in this segment
}

func BuildFieldXorFilter(allValues []string) (*FieldXorFilter, error) {
	keys := hashStrings(allValues)
	if len(keys) == 0 {
		return &FieldXorFilter{empty: true}, nil
	}
	bf, err := xorfilter.PopulateBinaryFuse8(keys)
	if err != nil {
		// Construction can fail on very small unique-hash sets; tolerated
		// by leaving the filter absent (MayContain then declines to prune)
		// rather than failing the whole segment build.
		return &FieldXorFilter{}, nil
	}
	return &FieldXorFilter{filter: bf}, nil
}

// MayContain reports whether value might be present in this field across
// the segment. A false result is authoritative: either the filter rules
// the value out or the field is known to be genuinely empty; an absent
// filter (construction declined or failed) cannot prune and so returns true.
func (f *FieldXorFilter) MayContain(value string) bool {
	if f.filter == nil {
		return !f.empty
	}
	return f.filter.Contains(xxhash.Sum64String(value))
}

// WriteTo serializes the whole-field BinaryFuse8 filter plane, same layout
// as a single ZoneXorFilter entry.
func (f *FieldXorFilter) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindFieldXor, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	present := f.filter != nil
	if err := binary.Write(w, binary.LittleEndian, present); err != nil {
		return errs.Wrap(errs.IoError, "writing field xor presence flag", err)
	}
	if !present {
		return nil
	}
	return writeBinaryFuse8(w, f.filter)
}

func ReadFieldXorFilter(r io.Reader) (*FieldXorFilter, error) {
	if _, err := framing.ReadHeader(r, framing.KindFieldXor); err != nil {
		return nil, err
	}
	var present bool
	if err := binary.Read(r, binary.LittleEndian, &present); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading field xor presence flag", err)
	}
	if !present {
		return &FieldXorFilter{}, nil
	}
	bf, err := readBinaryFuse8(r)
	if err != nil {
		return nil, err
	}
	return &FieldXorFilter{filter: bf}, nil
}

// EnumBitmap holds, for a low-cardinality field, one roaring bitmap of
// matching zone ids per distinct variant (`.ebm`).
type EnumBitmap struct {
	Variants  []string
	byVariant map[string]*roaring.Bitmap
}

func NewEnumBitmap() *EnumBitmap {
	return &EnumBitmap{byVariant: make(map[string]*roaring.Bitmap)}
}

func (e *EnumBitmap) Add(variant string, zoneID uint32) {
	bm, ok := e.byVariant[variant]
	if !ok {
		bm = roaring.New()
		e.byVariant[variant] = bm
		e.Variants = append(e.Variants, variant)
	}
	bm.Add(zoneID)
}

func (e *EnumBitmap) Zones(variant string) (*roaring.Bitmap, bool) {
	bm, ok := e.byVariant[variant]
	return bm, ok
}

func (e *EnumBitmap) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindEnumBitmap, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(e.Variants))); err != nil {
		return errs.Wrap(errs.IoError, "writing enum variant count", err)
	}
	for _, v := range e.Variants {
		if err := writeString(w, v); err != nil {
			return err
		}
		if err := writeBitmap(w, e.byVariant[v]); err != nil {
			return err
		}
	}
	return nil
}

func ReadEnumBitmap(r io.Reader) (*EnumBitmap, error) {
	if _, err := framing.ReadHeader(r, framing.KindEnumBitmap); err != nil {
		return nil, err
	}
	e := NewEnumBitmap()
	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading enum variant count", err)
	}
	for i := uint32(0); i < count; i++ {
		v, err := readString(r)
		if err != nil {
			return nil, err
		}
		bm, err := readBitmap(r)
		if err != nil {
			return nil, err
		}
		e.Variants = append(e.Variants, v)
		e.byVariant[v] = bm
	}
	return e, nil
}

// IndexCatalog enumerates which index kinds exist for each field of a uid,
// so the pruner chain can skip absent ones cheaply (`.icx`).
type IndexCatalog struct {
	Fields map[string][]string // field -> kinds present ("zxf","xf","zsrf","ebm","cal")
}

func NewIndexCatalog() *IndexCatalog {
	return &IndexCatalog{Fields: make(map[string][]string)}
}

func (c *IndexCatalog) Mark(field, kind string) {
	kinds := c.Fields[field]
	for _, k := range kinds {
		if k == kind {
			return
		}
	}
	c.Fields[field] = append(kinds, kind)
}

func (c *IndexCatalog) Has(field, kind string) bool {
	for _, k := range c.Fields[field] {
		if k == kind {
			return true
		}
	}
	return false
}

func (c *IndexCatalog) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindIndexCatalog, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	fields := make([]string, 0, len(c.Fields))
	for f := range c.Fields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(fields))); err != nil {
		return errs.Wrap(errs.IoError, "writing index catalog field count", err)
	}
	for _, f := range fields {
		if err := writeString(w, f); err != nil {
			return err
		}
		kinds := c.Fields[f]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(kinds))); err != nil {
			return errs.Wrap(errs.IoError, "writing index catalog kind count", err)
		}
		for _, k := range kinds {
			if err := writeString(w, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func ReadIndexCatalog(r io.Reader) (*IndexCatalog, error) {
	if _, err := framing.ReadHeader(r, framing.KindIndexCatalog); err != nil {
		return nil, err
	}
	c := NewIndexCatalog()
	var fieldCount uint32
	if err := binary.Read(r, binary.LittleEndian, &fieldCount); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading index catalog field count", err)
	}
	for i := uint32(0); i < fieldCount; i++ {
		f, err := readString(r)
		if err != nil {
			return nil, err
		}
		var kindCount uint32
		if err := binary.Read(r, binary.LittleEndian, &kindCount); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading index catalog kind count", err)
		}
		for j := uint32(0); j < kindCount; j++ {
			k, err := readString(r)
			if err != nil {
				return nil, err
			}
			c.Mark(f, k)
		}
	}
	return c, nil
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return errs.Wrap(errs.IoError, "writing string length", err)
	}
	if _, err := io.WriteString(w, s); err != nil {
		return errs.Wrap(errs.IoError, "writing string bytes", err)
	}
	return nil
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", errs.Wrap(errs.CorruptionError, "reading string length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", errs.Wrap(errs.CorruptionError, "reading string bytes", err)
	}
	return string(buf), nil
}

func writeBitmap(w io.Writer, bm *roaring.Bitmap) error {
	data, err := bm.MarshalBinary()
	if err != nil {
		return errs.Wrap(errs.IoError, "serializing roaring bitmap", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return errs.Wrap(errs.IoError, "writing bitmap length", err)
	}
	if _, err := w.Write(data); err != nil {
		return errs.Wrap(errs.IoError, "writing bitmap bytes", err)
	}
	return nil
}

func readBitmap(r io.Reader) (*roaring.Bitmap, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading bitmap length", err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading bitmap bytes", err)
	}
	bm := roaring.New()
	if err := bm.UnmarshalBinary(buf); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "parsing roaring bitmap", err)
	}
	return bm, nil
}
