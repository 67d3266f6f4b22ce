package prune

import (
	"testing"

	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/segment"
	"github.com/shardline/eventcore/value"
)

func zones(ids ...uint32) []segment.Zone {
	out := make([]segment.Zone, len(ids))
	for i, id := range ids {
		out[i] = segment.Zone{ZoneID: id}
	}
	return out
}

func TestChainWithNoIndexesReturnsAllZones(t *testing.T) {
	in := Input{
		SegmentDir: t.TempDir(),
		UID:        1,
		Zones:      zones(0, 1, 2),
	}
	pred := predicate.Leaf(predicate.Clause{Field: "event_type", Op: predicate.Eq, Value: value.NewString("order.created")})
	bm, err := Chain(in, pred)
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 3 {
		t.Fatalf("expected all 3 zones to survive an absent index, got %d", bm.GetCardinality())
	}
}

func TestChainUnconstrainedReturnsAllZones(t *testing.T) {
	in := Input{
		SegmentDir: t.TempDir(),
		UID:        1,
		Zones:      zones(5, 6),
	}
	bm, err := Chain(in, predicate.And())
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 2 || !bm.Contains(5) || !bm.Contains(6) {
		t.Fatalf("expected both zones for an unconstrained predicate, got %v", bm.ToArray())
	}
}

func TestChainMaterializationPrunerDropsOldZones(t *testing.T) {
	in := Input{
		SegmentDir: t.TempDir(),
		UID:        1,
		Zones: []segment.Zone{
			{ZoneID: 0, CreatedAt: 100},
			{ZoneID: 1, CreatedAt: 200},
		},
		MaterializationCreatedAt: 150,
	}
	bm, err := Chain(in, predicate.And())
	if err != nil {
		t.Fatal(err)
	}
	if bm.GetCardinality() != 1 || !bm.Contains(1) {
		t.Fatalf("expected only zone 1 (created after 150) to survive, got %v", bm.ToArray())
	}
}
