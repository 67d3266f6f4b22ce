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
	"strings"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/framing"
)

// ZoneSurfFilter is a prefix-capable filter per zone (`.zsrf`): the sorted,
// deduplicated set of distinct string values seen in that zone. A sorted
// slice answers both equality and prefix membership by binary search over
// a contiguous range, the same query shape a surf/trie index answers,
// without needing a succinct trie implementation no library in the pack
// provides.
type ZoneSurfFilter struct {
	byZone map[uint32][]string
}

func NewZoneSurfFilter() *ZoneSurfFilter {
	return &ZoneSurfFilter{byZone: make(map[uint32][]string)}
}

func BuildZoneSurfFilter(valuesByZone map[uint32][]string) *ZoneSurfFilter {
	f := NewZoneSurfFilter()
	for zoneID, vals := range valuesByZone {
		seen := make(map[string]struct{}, len(vals))
		sorted := make([]string, 0, len(vals))
		for _, v := range vals {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			sorted = append(sorted, v)
		}
		sort.Strings(sorted)
		f.byZone[zoneID] = sorted
	}
	return f
}

// MatchesEquality reports whether value is present in zoneID's value set.
func (f *ZoneSurfFilter) MatchesEquality(zoneID uint32, value string) bool {
	vals, ok := f.byZone[zoneID]
	if !ok {
		return true // no filter built: cannot prune
	}
	i := sort.SearchStrings(vals, value)
	return i < len(vals) && vals[i] == value
}

// MatchesPrefix reports whether any value in zoneID's set starts with prefix.
func (f *ZoneSurfFilter) MatchesPrefix(zoneID uint32, prefix string) bool {
	vals, ok := f.byZone[zoneID]
	if !ok {
		return true
	}
	i := sort.SearchStrings(vals, prefix)
	return i < len(vals) && strings.HasPrefix(vals[i], prefix)
}

func (f *ZoneSurfFilter) WriteTo(w io.Writer) error {
	h := framing.NewHeader(framing.KindZoneSurf, 1, 0)
	if err := h.WriteTo(w); err != nil {
		return err
	}
	zones := make([]uint32, 0, len(f.byZone))
	for z := range f.byZone {
		zones = append(zones, z)
	}
	sort.Slice(zones, func(i, j int) bool { return zones[i] < zones[j] })
	if err := binary.Write(w, binary.LittleEndian, uint32(len(zones))); err != nil {
		return errs.Wrap(errs.IoError, "writing zone surf zone count", err)
	}
	for _, z := range zones {
		if err := binary.Write(w, binary.LittleEndian, z); err != nil {
			return errs.Wrap(errs.IoError, "writing zone surf zone id", err)
		}
		vals := f.byZone[z]
		if err := binary.Write(w, binary.LittleEndian, uint32(len(vals))); err != nil {
			return errs.Wrap(errs.IoError, "writing zone surf value count", err)
		}
		for _, v := range vals {
			if err := writeString(w, v); err != nil {
				return err
			}
		}
	}
	return nil
}

func ReadZoneSurfFilter(r io.Reader) (*ZoneSurfFilter, error) {
	if _, err := framing.ReadHeader(r, framing.KindZoneSurf); err != nil {
		return nil, err
	}
	f := NewZoneSurfFilter()
	var zoneCount uint32
	if err := binary.Read(r, binary.LittleEndian, &zoneCount); err != nil {
		return nil, errs.Wrap(errs.CorruptionError, "reading zone surf zone count", err)
	}
	for i := uint32(0); i < zoneCount; i++ {
		var z uint32
		if err := binary.Read(r, binary.LittleEndian, &z); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading zone surf zone id", err)
		}
		var valCount uint32
		if err := binary.Read(r, binary.LittleEndian, &valCount); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "reading zone surf value count", err)
		}
		vals := make([]string, valCount)
		for j := range vals {
			v, err := readString(r)
			if err != nil {
				return nil, err
			}
			vals[j] = v
		}
		f.byZone[z] = vals
	}
	return f, nil
}
