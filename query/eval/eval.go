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

// Package eval is row-level predicate evaluation: given a zone already
// decoded into per-field column blocks, decide which rows survive the
// filter. Grounded on storage/scan.go's (*storageShard).scan per-row loop,
// generalized from hard-coded column offsets into a typed accessor over
// segment.Block values, per §4.7.
package eval

import (
	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

// ZoneRow is one decoded zone's worth of column blocks, keyed by field
// name, that Evaluate reads rows out of.
type ZoneRow struct {
	Blocks map[string]*segment.Block
}

// RowCount is the number of rows any of the zone's blocks carries (all
// fields of one zone share the same row count by construction).
func (z ZoneRow) RowCount() int {
	for _, b := range z.Blocks {
		return int(b.RowCount)
	}
	return 0
}

// Accessor returns the field-value function Predicate.Evaluate expects,
// bound to row i of this zone.
func (z ZoneRow) Accessor(i int) func(string) value.Value {
	return func(field string) value.Value {
		b, ok := z.Blocks[field]
		if !ok {
			return value.Nil()
		}
		return b.At(i)
	}
}

// Matches reports whether row i of the zone satisfies pred.
func (z ZoneRow) Matches(pred predicate.Predicate, i int) bool {
	return pred.Evaluate(z.Accessor(i))
}

// MatchingRows returns the indices of every row in the zone that
// satisfies pred, in ascending order.
func (z ZoneRow) MatchingRows(pred predicate.Predicate) []int {
	n := z.RowCount()
	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if z.Matches(pred, i) {
			out = append(out, i)
		}
	}
	return out
}
