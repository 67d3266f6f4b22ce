package eval

import (
	"testing"

	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

func TestMatchingRowsFiltersByClause(t *testing.T) {
	amount := &segment.Block{Phys: segment.PhysI64, RowCount: 3, I64: []int64{10, 20, 30}}
	status := &segment.Block{Phys: segment.PhysVarBytes, RowCount: 3, Bytes: [][]byte{[]byte("ok"), []byte("fail"), []byte("ok")}}

	zr := ZoneRow{Blocks: map[string]*segment.Block{"amount": amount, "status": status}}

	pred := predicate.And(
		predicate.Leaf(predicate.Clause{Field: "status", Op: predicate.Eq, Value: value.NewString("ok")}),
		predicate.Leaf(predicate.Clause{Field: "amount", Op: predicate.Gte, Value: value.NewI64(15)}),
	)

	rows := zr.MatchingRows(pred)
	if len(rows) != 1 || rows[0] != 2 {
		t.Fatalf("expected only row 2 to match, got %v", rows)
	}
}

func TestMatchingRowsUnconstrainedReturnsEveryRow(t *testing.T) {
	amount := &segment.Block{Phys: segment.PhysI64, RowCount: 2, I64: []int64{1, 2}}
	zr := ZoneRow{Blocks: map[string]*segment.Block{"amount": amount}}

	rows := zr.MatchingRows(predicate.And())
	if len(rows) != 2 || rows[0] != 0 || rows[1] != 1 {
		t.Fatalf("expected both rows for an unconstrained predicate, got %v", rows)
	}
}

func TestAccessorReturnsNilForMissingField(t *testing.T) {
	zr := ZoneRow{Blocks: map[string]*segment.Block{}}
	v := zr.Accessor(0)("missing")
	if !v.IsNil() {
		t.Fatalf("expected Nil for a field absent from the zone's blocks, got %v", v)
	}
}
