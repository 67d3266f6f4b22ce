package aggregate

import (
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/value"
)

func rowOf(fields map[string]value.Value) func(string) value.Value {
	return func(f string) value.Value {
		if v, ok := fields[f]; ok {
			return v
		}
		return value.Nil()
	}
}

func TestSinkCountAndTotal(t *testing.T) {
	sink := NewSink([]Spec{{Kind: CountAll}, {Kind: Total, Field: "amount"}}, BucketSpec{}, nil)
	sink.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(10)}))
	sink.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(20)}))

	rows := sink.Rows()
	if len(rows) != 1 {
		t.Fatalf("expected a single ungrouped row, got %d", len(rows))
	}
	if rows[0].Aggs["count"].I64() != 2 {
		t.Fatalf("expected count 2, got %v", rows[0].Aggs["count"])
	}
	if got := rows[0].Aggs["total_amount"]; got.F64() != 30 {
		t.Fatalf("expected total_amount 30, got %v", got)
	}
}

func TestSinkDedupsByEventID(t *testing.T) {
	sink := NewSink([]Spec{{Kind: CountAll}}, BucketSpec{}, nil)
	id := uuid.New()
	sink.Add(id, 0, rowOf(nil))
	sink.Add(id, 0, rowOf(nil)) // same event_id again, must not double-count

	rows := sink.Rows()
	if rows[0].Aggs["count"].I64() != 1 {
		t.Fatalf("expected dedup to keep count at 1, got %v", rows[0].Aggs["count"])
	}
}

func TestSinkGroupsByField(t *testing.T) {
	sink := NewSink([]Spec{{Kind: CountAll}}, BucketSpec{}, []string{"status"})
	sink.Add(uuid.New(), 0, rowOf(map[string]value.Value{"status": value.NewString("ok")}))
	sink.Add(uuid.New(), 0, rowOf(map[string]value.Value{"status": value.NewString("ok")}))
	sink.Add(uuid.New(), 0, rowOf(map[string]value.Value{"status": value.NewString("fail")}))

	rows := sink.Rows()
	if len(rows) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(rows))
	}
	counts := map[string]uint64{}
	for _, r := range rows {
		counts[r.Groups["status"].Str()] = r.Aggs["count"].U64()
	}
	if counts["ok"] != 2 || counts["fail"] != 1 {
		t.Fatalf("unexpected group counts: %+v", counts)
	}
}

func TestCountFieldCountsEmptyStringButNotMissingField(t *testing.T) {
	sink := NewSink([]Spec{{Kind: CountField, Field: "status"}}, BucketSpec{}, nil)
	sink.Add(uuid.New(), 0, rowOf(map[string]value.Value{"status": value.NewString("")})) // present, empty
	sink.Add(uuid.New(), 0, rowOf(nil))                                                   // field absent entirely

	rows := sink.Rows()
	if got := rows[0].Aggs["count_status"].I64(); got != 1 {
		t.Fatalf("expected count_status 1 (empty string counts, missing field does not), got %v", got)
	}
}

func TestDayBucketFloorsTimestamp(t *testing.T) {
	b := DayBucket("ts")
	day := int64(24 * 3600)
	if got := b.bucket(day + 100); got != day {
		t.Fatalf("expected bucket to floor to the day boundary, got %d", got)
	}
}

func TestMergePartialsKeepsAverageExact(t *testing.T) {
	specs := []Spec{{Kind: Avg, Field: "amount"}}

	shard1 := NewSink(specs, BucketSpec{}, nil)
	shard1.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(10)}))
	shard1.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(20)}))

	shard2 := NewSink(specs, BucketSpec{}, nil)
	shard2.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(30)}))

	parts := append(shard1.Partial(), shard2.Partial()...)
	merged := MergePartials(parts, specs)
	if len(merged) != 1 {
		t.Fatalf("expected a single merged group, got %d", len(merged))
	}
	// (10+20+30)/3 = 20, not avg(avg(10,20), 30) which would be skewed.
	if got := merged[0].Aggs["avg_amount"].F64(); got != 20 {
		t.Fatalf("expected exact cross-shard average 20, got %v", got)
	}
}

func TestMergePartialsMinMax(t *testing.T) {
	specs := []Spec{{Kind: Min, Field: "amount"}, {Kind: Max, Field: "amount"}}

	shard1 := NewSink(specs, BucketSpec{}, nil)
	shard1.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(5)}))

	shard2 := NewSink(specs, BucketSpec{}, nil)
	shard2.Add(uuid.New(), 0, rowOf(map[string]value.Value{"amount": value.NewI64(50)}))

	parts := append(shard1.Partial(), shard2.Partial()...)
	merged := MergePartials(parts, specs)
	if merged[0].Aggs["min_amount"].I64() != 5 {
		t.Fatalf("expected cross-shard min 5, got %v", merged[0].Aggs["min_amount"])
	}
	if merged[0].Aggs["max_amount"].I64() != 50 {
		t.Fatalf("expected cross-shard max 50, got %v", merged[0].Aggs["max_amount"])
	}
}
