package flow

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/flush"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/query"
	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

func testPlan(t *testing.T) *query.Plan {
	t.Helper()
	r := schema.NewRegistry()
	if _, err := r.Define("order.created", []schema.FieldSpec{{Name: "amount", Logical: value.I64}}); err != nil {
		t.Fatal(err)
	}
	plan, err := query.Compile(query.Request{EventType: "order.created", Where: predicate.And()}, r)
	if err != nil {
		t.Fatal(err)
	}
	return plan
}

func newEvent(uid uint32, contextID string, ts int64, amount int64) memtable.Event {
	return memtable.Event{
		EventID:   uuid.New(),
		EventType: "order.created",
		UID:       uid,
		ContextID: contextID,
		Timestamp: ts,
		Payload:   []schema.PayloadField{{Name: "amount", Value: value.NewI64(amount)}},
	}
}

func TestRunShardFromMemTableSource(t *testing.T) {
	plan := testPlan(t)
	set := memtable.NewSet(0)
	set.Active().Insert(newEvent(plan.Definition.UID, "a", 1, 10))
	set.Active().Insert(newEvent(plan.Definition.UID, "b", 2, 20))

	fields := RequiredFields(plan, nil)
	pool := NewBatchPool()
	src := &MemTableSource{Set: set, Plan: plan, Fields: fields}

	rows, err := RunShard(context.Background(), pool, 1024, []Source{src})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestRunShardDedupsAcrossSources(t *testing.T) {
	plan := testPlan(t)
	set := memtable.NewSet(0)
	e := newEvent(plan.Definition.UID, "a", 1, 10)
	set.Active().Insert(e)

	fields := RequiredFields(plan, nil)
	pool := NewBatchPool()
	// two sources emitting the same event_id must collapse to one row.
	src1 := &MemTableSource{Set: set, Plan: plan, Fields: fields}
	src2 := &MemTableSource{Set: set, Plan: plan, Fields: fields}

	rows, err := RunShard(context.Background(), pool, 1024, []Source{src1, src2})
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected dedup to collapse to 1 row, got %d", len(rows))
	}
}

func TestOrderLimitOffset(t *testing.T) {
	plan := testPlan(t)
	plan.OrderBy = "amount"
	plan.Limit = 2
	plan.Offset = 1

	rows := []Row{
		{EventID: uuid.New(), Values: map[string]value.Value{"amount": value.NewI64(30)}},
		{EventID: uuid.New(), Values: map[string]value.Value{"amount": value.NewI64(10)}},
		{EventID: uuid.New(), Values: map[string]value.Value{"amount": value.NewI64(20)}},
		{EventID: uuid.New(), Values: map[string]value.Value{"amount": value.NewI64(40)}},
	}
	out := OrderLimitOffset(plan, rows)
	if len(out) != 2 {
		t.Fatalf("expected 2 rows after offset 1 limit 2, got %d", len(out))
	}
	if out[0].field("amount").I64() != 20 || out[1].field("amount").I64() != 30 {
		t.Fatalf("expected [20, 30] after sort+offset+limit, got [%v, %v]",
			out[0].field("amount").I64(), out[1].field("amount").I64())
	}
}

func TestMergeShardsOrdersAcrossShardsWithLimit(t *testing.T) {
	mk := func(ts int64) Row {
		return Row{EventID: uuid.New(), Values: map[string]value.Value{flush.MetaTimestamp: value.NewI64(ts)}}
	}
	shard0 := []Row{mk(1), mk(4)}
	shard1 := []Row{mk(2), mk(3)}

	merged := MergeShards([][]Row{shard0, shard1}, flush.MetaTimestamp, false, 3, 0)
	if len(merged) != 3 {
		t.Fatalf("expected 3 rows (limit), got %d", len(merged))
	}
	for i := 0; i < len(merged)-1; i++ {
		if merged[i].timestamp() > merged[i+1].timestamp() {
			t.Fatalf("expected ascending timestamp order, got %+v", merged)
		}
	}
}
