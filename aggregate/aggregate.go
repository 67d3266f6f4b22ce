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

// Package aggregate is the group-by/aggregation sink rows are folded into
// after row-level evaluation. Grounded on storage/scan.go's
// akkumulator/neutral/aggregate reduce contract, generalized from a single
// running accumulator into a map of per-group accumulator sets keyed by a
// precomputed hash, per §4.9.
package aggregate

import (
	"encoding/binary"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/shardline/eventcore/value"
)

const (
	secondsPerWeek      = 7 * 24 * 3600
	daysPerMonthBucket  = 30 // §9 open question: 30-day month approximation, not calendar months
	secondsPerDayBucket = 24 * 3600
)

// Kind is one of the supported aggregator functions.
type Kind int

const (
	CountAll Kind = iota
	CountField
	CountUnique
	Total
	Avg
	Min
	Max
)

// Spec names one aggregator in the output, e.g. Total on "amount" emits a
// "total_amount" column.
type Spec struct {
	Kind  Kind
	Field string // unused for CountAll
}

// OutputName is the column name Finalize's value is reported under.
func (s Spec) OutputName() string {
	switch s.Kind {
	case CountAll:
		return "count"
	case CountField:
		return "count_" + s.Field
	case CountUnique:
		return "count_unique_" + s.Field
	case Total:
		return "total_" + s.Field
	case Avg:
		return "avg_" + s.Field
	case Min:
		return "min_" + s.Field
	case Max:
		return "max_" + s.Field
	default:
		return "agg"
	}
}

// BucketSpec configures time bucketing over a timestamp field. A zero
// BucketSpec (Interval == 0) means no bucketing.
type BucketSpec struct {
	Field    string
	Interval time.Duration
	Calendar bool // carried with the spec but not read by bucketing: every bucket is naive floor division, with no timezone or week-start handling
}

// HourBucket, DayBucket, WeekBucket, and MonthBucket build the standard
// naive (non-calendar) bucket intervals named in the time_bucket command
// field. MonthBucket uses the §9 fixed 30-day approximation, not a
// calendar month.
func HourBucket(field string) BucketSpec {
	return BucketSpec{Field: field, Interval: time.Hour}
}
func DayBucket(field string) BucketSpec {
	return BucketSpec{Field: field, Interval: secondsPerDayBucket * time.Second}
}
func WeekBucket(field string) BucketSpec {
	return BucketSpec{Field: field, Interval: secondsPerWeek * time.Second}
}
func MonthBucket(field string) BucketSpec {
	return BucketSpec{Field: field, Interval: daysPerMonthBucket * secondsPerDayBucket * time.Second}
}

func (b BucketSpec) bucket(ts int64) int64 {
	if b.Interval <= 0 {
		return 0
	}
	secs := int64(b.Interval / time.Second)
	if secs <= 0 {
		secs = 1
	}
	return (ts / secs) * secs
}

// GroupValue is one group-by column's observed value, restricted to the
// two kinds a group-by key practically takes.
type GroupValue struct {
	IsString bool
	I        int64
	S        string
}

func groupValueOf(v value.Value) GroupValue {
	if v.Kind() == value.String {
		return GroupValue{IsString: true, S: v.Str()}
	}
	return GroupValue{I: v.I64()}
}

// GroupKey identifies one output row: an optional time bucket plus the
// group-by column values, with a precomputed hash so the sink's map
// lookup never re-hashes a multi-column key per row.
type GroupKey struct {
	HasBucket bool
	Bucket    int64
	Groups    []GroupValue
	prehash   uint64
}

func newGroupKey(hasBucket bool, bucket int64, groups []GroupValue) GroupKey {
	h := xxhash.New()
	if hasBucket {
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(bucket))
		h.Write(buf[:])
	}
	for _, g := range groups {
		if g.IsString {
			h.Write([]byte{1})
			h.Write([]byte(g.S))
		} else {
			h.Write([]byte{0})
			var buf [8]byte
			binary.LittleEndian.PutUint64(buf[:], uint64(g.I))
			h.Write(buf[:])
		}
	}
	return GroupKey{HasBucket: hasBucket, Bucket: bucket, Groups: groups, prehash: h.Sum64()}
}

func (k GroupKey) equal(o GroupKey) bool {
	if k.HasBucket != o.HasBucket || k.Bucket != o.Bucket || len(k.Groups) != len(o.Groups) {
		return false
	}
	for i := range k.Groups {
		if k.Groups[i] != o.Groups[i] {
			return false
		}
	}
	return true
}

// AggregatorState accumulates one Spec's running value for one group.
type AggregatorState struct {
	spec    Spec
	count   uint64
	sum     float64
	unique  map[string]struct{}
	haveMin bool
	min     value.Value
	haveMax bool
	max     value.Value
}

func newState(spec Spec) *AggregatorState {
	s := &AggregatorState{spec: spec}
	if spec.Kind == CountUnique {
		s.unique = make(map[string]struct{})
	}
	return s
}

func (s *AggregatorState) add(row func(string) value.Value) {
	switch s.spec.Kind {
	case CountAll:
		s.count++
	case CountField:
		v := row(s.spec.Field)
		if !v.IsNil() {
			s.count++
		}
	case CountUnique:
		v := row(s.spec.Field)
		if !v.IsNil() {
			s.unique[v.NumericString()] = struct{}{}
		}
	case Total, Avg:
		v := row(s.spec.Field)
		if f, ok := v.ParsesNumeric(); ok {
			s.sum += f
			s.count++
		}
	case Min:
		v := row(s.spec.Field)
		if v.IsNil() {
			return
		}
		if !s.haveMin || value.Less(v, s.min) {
			s.min, s.haveMin = v, true
		}
	case Max:
		v := row(s.spec.Field)
		if v.IsNil() {
			return
		}
		if !s.haveMax || value.Less(s.max, v) {
			s.max, s.haveMax = v, true
		}
	}
}

// Count, Sum, MinMax, and UniqueCount expose an aggregator's raw running
// state so a shard's partial contribution can be merged with other
// shards' partials before finalizing (see AggPartial): an average cannot
// be correctly re-derived from two already-divided averages, so the
// coordinator needs count+sum, not Finalize's result.
func (s *AggregatorState) Count() uint64 { return s.count }
func (s *AggregatorState) Sum() float64  { return s.sum }
func (s *AggregatorState) MinMax() (value.Value, bool) {
	if s.spec.Kind == Max {
		return s.max, s.haveMax
	}
	return s.min, s.haveMin
}
func (s *AggregatorState) UniqueCount() uint64 { return uint64(len(s.unique)) }

// Finalize returns the aggregator's output value once all rows in its
// group have been folded in.
func (s *AggregatorState) Finalize() value.Value {
	switch s.spec.Kind {
	case CountAll, CountField:
		return value.NewU64(s.count)
	case CountUnique:
		return value.NewU64(uint64(len(s.unique)))
	case Total:
		return value.NewF64(s.sum)
	case Avg:
		if s.count == 0 {
			return value.Nil()
		}
		return value.NewF64(s.sum / float64(s.count))
	case Min:
		if !s.haveMin {
			return value.Nil()
		}
		return s.min
	case Max:
		if !s.haveMax {
			return value.Nil()
		}
		return s.max
	default:
		return value.Nil()
	}
}

type group struct {
	key    GroupKey
	states []*AggregatorState
}

// Sink is the group-by/aggregation accumulator a flow pipeline folds
// matching rows into. One Sink instance belongs to one query (or one
// shard's partial contribution to a cross-shard query, see AggPartial).
type Sink struct {
	specs       []Spec
	bucket      BucketSpec
	groupFields []string
	dedup       map[uuid.UUID]struct{}
	byHash      map[uint64][]*group
	order       []GroupKey // first-seen order, for stable output
}

// NewSink builds an aggregation sink for specs, optionally bucketed by
// bucket and grouped by groupFields (evaluated in the given order).
func NewSink(specs []Spec, bucket BucketSpec, groupFields []string) *Sink {
	return &Sink{
		specs:       specs,
		bucket:      bucket,
		groupFields: groupFields,
		dedup:       make(map[uuid.UUID]struct{}),
		byHash:      make(map[uint64][]*group),
	}
}

// Add folds one row into the sink. eventID dedups cross-shard/cross-segment
// double-counting (the same invariant compaction/WAL replay rely on);
// timestamp and row are used for bucketing and field lookups respectively.
func (s *Sink) Add(eventID uuid.UUID, timestamp int64, row func(string) value.Value) {
	if _, seen := s.dedup[eventID]; seen {
		return
	}
	s.dedup[eventID] = struct{}{}

	hasBucket := s.bucket.Interval > 0
	var bucket int64
	if hasBucket {
		bucket = s.bucket.bucket(timestamp)
	}
	groups := make([]GroupValue, len(s.groupFields))
	for i, f := range s.groupFields {
		groups[i] = groupValueOf(row(f))
	}
	key := newGroupKey(hasBucket, bucket, groups)

	g := s.lookup(key)
	for _, st := range g.states {
		st.add(row)
	}
}

func (s *Sink) lookup(key GroupKey) *group {
	bucketList := s.byHash[key.prehash]
	for _, g := range bucketList {
		if g.key.equal(key) {
			return g
		}
	}
	states := make([]*AggregatorState, len(s.specs))
	for i, spec := range s.specs {
		states[i] = newState(spec)
	}
	g := &group{key: key, states: states}
	s.byHash[key.prehash] = append(bucketList, g)
	s.order = append(s.order, key)
	return g
}

// Row is one finalized output row: the group-by/bucket columns plus each
// Spec's finalized value, both addressable by name.
type Row struct {
	Bucket *int64
	Groups map[string]value.Value
	Aggs   map[string]value.Value
}

// Rows finalizes every group in first-seen order.
func (s *Sink) Rows() []Row {
	out := make([]Row, 0, len(s.order))
	for _, key := range s.order {
		var g *group
		for _, cand := range s.byHash[key.prehash] {
			if cand.key.equal(key) {
				g = cand
				break
			}
		}
		if g == nil {
			continue
		}
		row := Row{Groups: make(map[string]value.Value, len(s.groupFields)), Aggs: make(map[string]value.Value, len(s.specs))}
		if key.HasBucket {
			b := key.Bucket
			row.Bucket = &b
		}
		for i, f := range s.groupFields {
			row.Groups[f] = groupValueToValue(key.Groups[i])
		}
		for i, spec := range s.specs {
			row.Aggs[spec.OutputName()] = g.states[i].Finalize()
		}
		out = append(out, row)
	}
	return out
}

func groupValueToValue(g GroupValue) value.Value {
	if g.IsString {
		return value.NewString(g.S)
	}
	return value.NewI64(g.I)
}

// AggPartial is one group's serializable partial state, shipped from a
// shard to the coordinator for cross-shard merge (§4.11's shard manager
// fans a query out to every shard and merges the per-shard results).
type AggPartial struct {
	Bucket  *int64
	Groups  map[string]value.Value
	Counts  map[string]uint64
	Sums    map[string]float64
	Mins    map[string]value.Value
	Maxs    map[string]value.Value
	Uniques map[string]uint64
}

func groupKeyString(bucket *int64, groups map[string]value.Value) string {
	var sb []byte
	if bucket != nil {
		sb = append(sb, []byte(value.NewI64(*bucket).NumericString())...)
	}
	sb = append(sb, '|')
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sortStrings(keys)
	for _, k := range keys {
		sb = append(sb, []byte(k)...)
		sb = append(sb, '=')
		sb = append(sb, []byte(groups[k].NumericString())...)
		sb = append(sb, ';')
	}
	return string(sb)
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Partial extracts this sink's per-group raw state for cross-shard
// shipping.
func (s *Sink) Partial() []AggPartial {
	out := make([]AggPartial, 0, len(s.order))
	for _, row := range s.Rows() {
		p := AggPartial{Bucket: row.Bucket, Groups: row.Groups}
		var g *group
		key := s.keyFor(row)
		for _, cand := range s.byHash[key.prehash] {
			if cand.key.equal(key) {
				g = cand
				break
			}
		}
		if g == nil {
			continue
		}
		p.Counts = make(map[string]uint64)
		p.Sums = make(map[string]float64)
		p.Mins = make(map[string]value.Value)
		p.Maxs = make(map[string]value.Value)
		p.Uniques = make(map[string]uint64)
		for i, spec := range s.specs {
			name := spec.OutputName()
			st := g.states[i]
			switch spec.Kind {
			case CountAll, CountField, Total, Avg:
				p.Counts[name] = st.Count()
				p.Sums[name] = st.Sum()
			case CountUnique:
				p.Uniques[name] = st.UniqueCount()
			case Min:
				if v, ok := st.MinMax(); ok {
					p.Mins[name] = v
				}
			case Max:
				if v, ok := st.MinMax(); ok {
					p.Maxs[name] = v
				}
			}
		}
		out = append(out, p)
	}
	return out
}

func (s *Sink) keyFor(row Row) GroupKey {
	groups := make([]GroupValue, len(s.groupFields))
	for i, f := range s.groupFields {
		groups[i] = groupValueOf(row.Groups[f])
	}
	if row.Bucket != nil {
		return newGroupKey(true, *row.Bucket, groups)
	}
	return newGroupKey(false, 0, groups)
}

// MergePartials combines per-shard AggPartials for the same specs into
// final output rows. CountUnique is summed across shards (an upper bound,
// not an exact distinct count — exact cross-shard distinct merge would
// require shipping the full value sets, which defeats the point of
// aggregating at the shard).
func MergePartials(parts []AggPartial, specs []Spec) []Row {
	type acc struct {
		bucket  *int64
		groups  map[string]value.Value
		counts  map[string]uint64
		sums    map[string]float64
		mins    map[string]value.Value
		maxs    map[string]value.Value
		uniques map[string]uint64
		order   int
	}
	byKey := make(map[string]*acc)
	var order []string
	for _, p := range parts {
		k := groupKeyString(p.Bucket, p.Groups)
		a, ok := byKey[k]
		if !ok {
			a = &acc{
				bucket: p.Bucket, groups: p.Groups,
				counts: make(map[string]uint64), sums: make(map[string]float64),
				mins: make(map[string]value.Value), maxs: make(map[string]value.Value),
				uniques: make(map[string]uint64),
			}
			byKey[k] = a
			order = append(order, k)
		}
		for name, c := range p.Counts {
			a.counts[name] += c
		}
		for name, sum := range p.Sums {
			a.sums[name] += sum
		}
		for name, u := range p.Uniques {
			a.uniques[name] += u
		}
		for name, v := range p.Mins {
			cur, ok := a.mins[name]
			if !ok || value.Less(v, cur) {
				a.mins[name] = v
			}
		}
		for name, v := range p.Maxs {
			cur, ok := a.maxs[name]
			if !ok || value.Less(cur, v) {
				a.maxs[name] = v
			}
		}
	}

	out := make([]Row, 0, len(order))
	for _, k := range order {
		a := byKey[k]
		row := Row{Bucket: a.bucket, Groups: a.groups, Aggs: make(map[string]value.Value, len(specs))}
		for _, spec := range specs {
			name := spec.OutputName()
			switch spec.Kind {
			case CountAll, CountField:
				row.Aggs[name] = value.NewU64(a.counts[name])
			case Total:
				row.Aggs[name] = value.NewF64(a.sums[name])
			case Avg:
				if c := a.counts[name]; c > 0 {
					row.Aggs[name] = value.NewF64(a.sums[name] / float64(c))
				} else {
					row.Aggs[name] = value.Nil()
				}
			case CountUnique:
				row.Aggs[name] = value.NewU64(a.uniques[name])
			case Min:
				if v, ok := a.mins[name]; ok {
					row.Aggs[name] = v
				} else {
					row.Aggs[name] = value.Nil()
				}
			case Max:
				if v, ok := a.maxs[name]; ok {
					row.Aggs[name] = v
				} else {
					row.Aggs[name] = value.Nil()
				}
			}
		}
		out = append(out, row)
	}
	return out
}
