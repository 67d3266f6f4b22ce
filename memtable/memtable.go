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

// Package memtable is the in-memory, pre-flush event buffer: an ordered
// vector plus a context_id hash index, generalized from the teacher's
// storageShard active/passive/rebuild pattern (storage/shard.go) to hold
// whole events instead of columnar deltas.
package memtable

import (
	"sync"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

// Event is one stored row awaiting flush.
type Event struct {
	EventID   uuid.UUID
	EventType string
	UID       uint32
	ContextID string
	Timestamp int64
	Payload   []schema.PayloadField
}

// Field looks up a payload field by name, returning value.Nil() when absent
// (row-level predicate evaluation treats an absent field as null).
func (e Event) Field(name string) value.Value {
	for _, f := range e.Payload {
		if f.Name == name {
			return f.Value
		}
	}
	return value.Nil()
}

// Memtable is an ordered, insertion-order sequence of events plus a
// context_id index for replay/lookup support.
type Memtable struct {
	mu        sync.RWMutex
	events    []Event
	byContext map[string][]int
	cap       int
}

func New(rowCap int) *Memtable {
	return &Memtable{byContext: make(map[string][]int), cap: rowCap}
}

// Insert appends an event. The caller is responsible for freezing the
// memtable once Full reports true; Insert itself never rejects a write.
func (m *Memtable) Insert(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := len(m.events)
	m.events = append(m.events, e)
	m.byContext[e.ContextID] = append(m.byContext[e.ContextID], idx)
}

func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

func (m *Memtable) Full() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cap > 0 && len(m.events) >= m.cap
}

// Events returns a snapshot copy of the buffered events in insertion order.
func (m *Memtable) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByContext returns the events for a given context_id in insertion order.
func (m *Memtable) ByContext(contextID string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idxs := m.byContext[contextID]
	out := make([]Event, len(idxs))
	for i, idx := range idxs {
		out[i] = m.events[idx]
	}
	return out
}

// Scan visits every event currently buffered, calling visit for each until
// it returns false.
func (m *Memtable) Scan(visit func(Event) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.events {
		if !visit(e) {
			return
		}
	}
}
