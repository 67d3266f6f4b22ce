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
package memtable

import (
	"sync"
	"sync/atomic"
)

// Frozen pairs a passive, no-longer-mutable memtable with the segment id
// its flush will produce, so the flush task can remove exactly this entry
// once that segment is durably published.
type Frozen struct {
	Table     *Memtable
	SegmentID uint32
}

// Set is a shard's active + passive memtable set. The active memtable is
// exclusively mutable by the writer path; the passive set holds
// already-frozen memtables visible to readers until their flush publishes.
// Freeze exchanges the active pointer atomically, mirroring the teacher's
// storageShard "next" chaining during rebuild (storage/shard.go).
type Set struct {
	active     atomic.Pointer[Memtable]
	passiveMu  sync.RWMutex
	passive    []Frozen
	rowCap     int
	nextSegID  uint32
}

func NewSet(rowCap int) *Set {
	s := &Set{rowCap: rowCap}
	s.active.Store(New(rowCap))
	return s
}

// Active returns the currently-active memtable for inserts.
func (s *Set) Active() *Memtable {
	return s.active.Load()
}

// Freeze atomically swaps in a fresh empty memtable and pushes the former
// active memtable onto the passive set, returning it tagged with the
// segment id the flush will produce.
func (s *Set) Freeze(segmentID uint32) Frozen {
	fresh := New(s.rowCap)
	old := s.active.Swap(fresh)
	frozen := Frozen{Table: old, SegmentID: segmentID}
	s.passiveMu.Lock()
	s.passive = append(s.passive, frozen)
	s.passiveMu.Unlock()
	return frozen
}

// Passive returns a snapshot of the current passive set.
func (s *Set) Passive() []Frozen {
	s.passiveMu.RLock()
	defer s.passiveMu.RUnlock()
	out := make([]Frozen, len(s.passive))
	copy(out, s.passive)
	return out
}

// Publish removes segmentID's frozen memtable from the passive set once its
// segment has been durably published; per §4.2 this is the only point a
// frozen memtable is discarded.
func (s *Set) Publish(segmentID uint32) {
	s.passiveMu.Lock()
	defer s.passiveMu.Unlock()
	out := s.passive[:0]
	for _, f := range s.passive {
		if f.SegmentID != segmentID {
			out = append(out, f)
		}
	}
	s.passive = out
}

// ScanAll visits active then passive events, in that order, for readers
// that need the full in-memory view (MemTableSource).
func (s *Set) ScanAll(visit func(Event) bool) {
	cont := true
	s.active.Load().Scan(func(e Event) bool {
		cont = visit(e)
		return cont
	})
	if !cont {
		return
	}
	for _, f := range s.Passive() {
		f.Table.Scan(func(e Event) bool {
			cont = visit(e)
			return cont
		})
		if !cont {
			return
		}
	}
}
