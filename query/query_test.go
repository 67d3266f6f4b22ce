package query

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

func testRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	r := schema.NewRegistry()
	if _, err := r.Define("order.created", []schema.FieldSpec{{Name: "amount", Logical: value.I64}}); err != nil {
		t.Fatal(err)
	}
	return r
}

func TestCompileFoldsContextIDIntoPredicate(t *testing.T) {
	r := testRegistry(t)
	req := Request{
		EventType: "order.created",
		ContextID: "cust-1",
		Where:     predicate.Leaf(predicate.Clause{Field: "amount", Op: predicate.Gt, Value: value.NewI64(5)}),
	}
	plan, err := Compile(req, r)
	if err != nil {
		t.Fatal(err)
	}
	if plan.TimeField != DefaultTimeField {
		t.Fatalf("expected default time field, got %q", plan.TimeField)
	}
	clauses := plan.Where.TopLevelClauses()
	if len(clauses) != 2 {
		t.Fatalf("expected context_id clause folded alongside the original filter, got %+v", clauses)
	}
}

func TestCompileUnknownEventType(t *testing.T) {
	r := schema.NewRegistry()
	if _, err := Compile(Request{EventType: "nope"}, r); err == nil {
		t.Fatal("expected an error for an undefined event type")
	}
}

func TestDiscoverSegmentsOrdersByCounterAndSkipsUnrelatedUIDs(t *testing.T) {
	root := t.TempDir()
	for _, counter := range []uint32{2, 0, 1} {
		dir := filepath.Join(root, segment.DirName(counter))
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		if counter != 1 { // segment 1 has no data for uid 7
			if err := os.WriteFile(filepath.Join(dir, segment.ZonesFileName(7)), nil, 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}

	segments, err := DiscoverSegments(root, 7)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 2 {
		t.Fatalf("expected 2 segments carrying uid 7 data, got %d", len(segments))
	}
	if segments[0].SegmentID != 0 || segments[1].SegmentID != 2 {
		t.Fatalf("expected segments ordered [0, 2], got %+v", segments)
	}
}

func TestDiscoverSegmentsMissingRootIsEmpty(t *testing.T) {
	segments, err := DiscoverSegments(filepath.Join(t.TempDir(), "missing"), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected no segments for a missing root, got %d", len(segments))
	}
}

func TestPlanPruneInputReadsZones(t *testing.T) {
	r := testRegistry(t)
	plan, err := Compile(Request{EventType: "order.created"}, r)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	f, err := os.Create(filepath.Join(dir, segment.ZonesFileName(plan.Definition.UID)))
	if err != nil {
		t.Fatal(err)
	}
	zones := []segment.Zone{{ZoneID: 0, UID: plan.Definition.UID}, {ZoneID: 1, UID: plan.Definition.UID}}
	if err := segment.WriteZones(f, zones); err != nil {
		t.Fatal(err)
	}
	f.Close()

	in, err := plan.PruneInput(SegmentEntry{SegmentDir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Zones) != 2 {
		t.Fatalf("expected 2 zones read back, got %d", len(in.Zones))
	}
}
