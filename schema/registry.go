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

// Package schema is the event-type registry: event_type -> uid, and
// field -> logical type. Reads dominate writes, so it is guarded with a
// plain sync.RWMutex the way the teacher guards its own schema/table
// metadata (storage/table.go's t.mu, storage/database.go's schema save).
package schema

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/value"
)

// LogicalType is one of the seven scalar kinds a payload field can hold.
type LogicalType = value.Kind

// FieldSpec describes one payload field of an event type.
type FieldSpec struct {
	Name     string
	Logical  LogicalType
	Enum     bool // low cardinality -> eligible for .ebm bitmap index
	Temporal bool // eligible for .cal calendar index
}

// Definition is one registered event type.
type Definition struct {
	EventType string
	UID       uint32
	Version   int
	Fields    []FieldSpec // insertion order preserved, mirrors payload ordering
	byName    map[string]FieldSpec
}

func (d *Definition) Field(name string) (FieldSpec, bool) {
	f, ok := d.byName[name]
	return f, ok
}

// Registry maps event_type <-> uid and is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	byType   map[string]*Definition
	byUID    map[uint32]*Definition
	nextUID  uint32
}

func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]*Definition),
		byUID:  make(map[uint32]*Definition),
	}
}

// Define registers (or re-registers with a version bump) an event type.
// The uid assigned on first definition never changes.
func (r *Registry) Define(eventType string, fields []FieldSpec) (*Definition, error) {
	if eventType == "" {
		return nil, errs.New(errs.InvalidCommand, "event_type must not be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	byName := make(map[string]FieldSpec, len(fields))
	for _, f := range fields {
		byName[f.Name] = f
	}

	if existing, ok := r.byType[eventType]; ok {
		existing.Fields = fields
		existing.byName = byName
		existing.Version++
		return existing, nil
	}

	def := &Definition{
		EventType: eventType,
		UID:       r.nextUID,
		Version:   1,
		Fields:    fields,
		byName:    byName,
	}
	r.nextUID++
	r.byType[eventType] = def
	r.byUID[def.UID] = def
	return def, nil
}

// Resolve looks up a definition by event_type, or fails with SchemaError.
func (r *Registry) Resolve(eventType string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byType[eventType]
	if !ok {
		return nil, errs.New(errs.SchemaError, "undefined event type: "+eventType)
	}
	return def, nil
}

// Types lists every currently registered event type, for callers (e.g.
// a context-wide Replay with no event_type filter) that must fan out
// across all definitions rather than one.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byType))
	for t := range r.byType {
		out = append(out, t)
	}
	return out
}

// ByUID looks up a definition by its stable uid.
func (r *Registry) ByUID(uid uint32) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byUID[uid]
	if !ok {
		return nil, errs.New(errs.NotFound, "unknown schema uid")
	}
	return def, nil
}

// ValidatePayload checks that every field in the payload is registered and
// matches the schema's logical type for that field. Unknown fields are
// rejected; the schema is the source of truth for shape (§3.1 invariant).
func (d *Definition) ValidatePayload(payload []PayloadField) error {
	for _, f := range payload {
		spec, ok := d.byName[f.Name]
		if !ok {
			return errs.New(errs.SchemaError, "unknown field: "+f.Name)
		}
		if f.Value.IsNil() {
			continue // null is always acceptable regardless of logical type
		}
		if f.Value.Kind() != spec.Logical {
			return errs.New(errs.SchemaError, "field "+f.Name+" has wrong type")
		}
	}
	return nil
}

// PayloadField is one insertion-ordered (name, value) pair of an event payload.
type PayloadField struct {
	Name  string
	Value value.Value
}

// persisted mirrors the on-disk shape of the registry (schema.json per shard
// database directory), grounded on storage/schema_fs.go's JSON persistence.
type persisted struct {
	NextUID uint32               `json:"next_uid"`
	Types   []persistedDefinition `json:"types"`
}

type persistedDefinition struct {
	EventType string             `json:"event_type"`
	UID       uint32             `json:"uid"`
	Version   int                `json:"version"`
	Fields    []persistedField   `json:"fields"`
}

type persistedField struct {
	Name     string `json:"name"`
	Logical  uint8  `json:"logical"`
	Enum     bool   `json:"enum"`
	Temporal bool   `json:"temporal"`
}

// MarshalJSON serializes the whole registry for schema.json.
func (r *Registry) MarshalJSON() ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]persistedDefinition, 0, len(r.byType))
	for _, d := range r.byType {
		pf := make([]persistedField, len(d.Fields))
		for i, f := range d.Fields {
			pf[i] = persistedField{Name: f.Name, Logical: uint8(f.Logical), Enum: f.Enum, Temporal: f.Temporal}
		}
		defs = append(defs, persistedDefinition{
			EventType: d.EventType,
			UID:       d.UID,
			Version:   d.Version,
			Fields:    pf,
		})
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].UID < defs[j].UID })
	return json.Marshal(persisted{NextUID: r.nextUID, Types: defs})
}

// LoadRegistry deserializes schema.json contents into a fresh Registry.
func LoadRegistry(data []byte) (*Registry, error) {
	var p persisted
	if len(data) > 0 {
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errs.Wrap(errs.CorruptionError, "parsing schema.json", err)
		}
	}
	r := NewRegistry()
	r.nextUID = p.NextUID
	for _, pd := range p.Types {
		fields := make([]FieldSpec, len(pd.Fields))
		byName := make(map[string]FieldSpec, len(pd.Fields))
		for i, pf := range pd.Fields {
			fs := FieldSpec{Name: pf.Name, Logical: value.Kind(pf.Logical), Enum: pf.Enum, Temporal: pf.Temporal}
			fields[i] = fs
			byName[pf.Name] = fs
		}
		def := &Definition{EventType: pd.EventType, UID: pd.UID, Version: pd.Version, Fields: fields, byName: byName}
		r.byType[pd.EventType] = def
		r.byUID[pd.UID] = def
	}
	return r, nil
}
