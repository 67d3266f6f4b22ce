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

// Package query builds the plan and context a flow pipeline executes:
// resolving the schema, defaulting time_field, loading the per-segment
// .icx catalogs into an in-memory registry, and compiling the request
// into a filter plan. Grounded on §4.5; the teacher has no standalone
// query-planning stage (storage/scan.go inlines it per call), so this
// package is new rather than adapted.
package query

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/shardline/eventcore/aggregate"
	"github.com/shardline/eventcore/errs"
	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/query/prune"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

// DefaultTimeField is used when a request does not name one explicitly.
const DefaultTimeField = flush.MetaTimestamp

// Request is the read-path command surface from §6.5's `Query` variant.
type Request struct {
	EventType    string
	ContextID    string // empty means unconstrained
	Since        int64  // 0 means unbounded
	Until        int64  // 0 means unbounded
	TimeField    string // empty defaults to DefaultTimeField
	Where        predicate.Predicate
	Limit        int
	Offset       int
	OrderBy      string
	OrderDesc    bool
	Aggs         []aggregate.Spec
	TimeBucket   aggregate.BucketSpec
	GroupBy      []string

	// MaterializationCreatedAt supports incremental views (§4.6 pruner 6).
	MaterializationCreatedAt int64
}

// Plan is a compiled, ready-to-execute Request: schema resolved, time
// field defaulted, and the context_id clause folded into the predicate
// tree. Since and Until stay separate fields, handed to the pruner chain
// by PruneInput.
type Plan struct {
	Definition *schema.Definition
	TimeField  string
	Since      int64
	Until      int64
	Where      predicate.Predicate
	Limit      int
	Offset     int
	OrderBy    string
	OrderDesc  bool
	Aggs       []aggregate.Spec
	TimeBucket aggregate.BucketSpec
	GroupBy    []string

	MaterializationCreatedAt int64
}

// Compile resolves req.EventType against registry and folds context_id
// into the predicate, producing a Plan. Segments are not touched here;
// Plan.PruneInput below does that per segment.
func Compile(req Request, registry *schema.Registry) (*Plan, error) {
	def, err := registry.Resolve(req.EventType)
	if err != nil {
		return nil, err
	}
	timeField := req.TimeField
	if timeField == "" {
		timeField = DefaultTimeField
	}

	where := req.Where
	if req.ContextID != "" {
		ctxClause := predicate.Leaf(predicate.Clause{
			Field: flush.MetaContextID,
			Op:    predicate.Eq,
			Value: value.NewString(req.ContextID),
		})
		where = predicate.And(append([]predicate.Predicate{ctxClause}, flattenTop(where)...)...)
	}

	return &Plan{
		Definition:               def,
		TimeField:                timeField,
		Since:                    req.Since,
		Until:                    req.Until,
		Where:                    where,
		Limit:                    req.Limit,
		Offset:                   req.Offset,
		OrderBy:                  req.OrderBy,
		OrderDesc:                req.OrderDesc,
		Aggs:                     req.Aggs,
		TimeBucket:               req.TimeBucket,
		GroupBy:                  req.GroupBy,
		MaterializationCreatedAt: req.MaterializationCreatedAt,
	}, nil
}

func flattenTop(p predicate.Predicate) []predicate.Predicate {
	if p.IsUnconstrained() {
		return nil
	}
	return []predicate.Predicate{p}
}

// SegmentEntry is one candidate segment directory for this plan's uid.
type SegmentEntry struct {
	SegmentDir string
	SegmentID  uint32
}

// DiscoverSegments lists the segment directories under segmentsRoot that
// contain data for plan's uid (i.e. a `<uid>.zones` file is present),
// oldest-created first per the segment counter in the directory name.
func DiscoverSegments(segmentsRoot string, uid uint32) ([]SegmentEntry, error) {
	entries, err := os.ReadDir(segmentsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.Wrap(errs.IoError, "listing segments root", err)
	}
	var out []SegmentEntry
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dir := filepath.Join(segmentsRoot, e.Name())
		if _, err := os.Stat(filepath.Join(dir, segment.ZonesFileName(uid))); err != nil {
			continue
		}
		out = append(out, SegmentEntry{SegmentDir: dir, SegmentID: segmentCounter(e.Name())})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentID < out[j].SegmentID })
	return out, nil
}

func segmentCounter(dirName string) uint32 {
	var n uint32
	for _, c := range dirName {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + uint32(c-'0')
	}
	return n
}

// PruneInput loads seg's zones/catalog for the plan's uid and builds the
// prune.Input the pruner chain needs.
func (p *Plan) PruneInput(seg SegmentEntry) (prune.Input, error) {
	zonesPath := filepath.Join(seg.SegmentDir, segment.ZonesFileName(p.Definition.UID))
	f, err := os.Open(zonesPath)
	if err != nil {
		return prune.Input{}, errs.Wrap(errs.IoError, "opening zones file", err)
	}
	defer f.Close()
	zones, err := segment.ReadZones(f)
	if err != nil {
		return prune.Input{}, err
	}

	var catalog *segment.IndexCatalog
	icxPath := filepath.Join(seg.SegmentDir, segment.IcxFileName(p.Definition.UID))
	if cf, err := os.Open(icxPath); err == nil {
		catalog, err = segment.ReadIndexCatalog(cf)
		cf.Close()
		if err != nil {
			return prune.Input{}, err
		}
	}

	return prune.Input{
		SegmentDir:               seg.SegmentDir,
		UID:                      p.Definition.UID,
		Zones:                    zones,
		Catalog:                  catalog,
		TimeField:                p.TimeField,
		Since:                    p.Since,
		Until:                    p.Until,
		MaterializationCreatedAt: p.MaterializationCreatedAt,
	}, nil
}
