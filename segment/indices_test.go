package segment

import (
	"bytes"
	"testing"
)

func TestEventTypeIndexRoundtrip(t *testing.T) {
	idx := NewEventTypeIndex()
	idx.Add("login", 0)
	idx.Add("login", 1)
	idx.Add("click", 1)

	var buf bytes.Buffer
	if err := idx.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadEventTypeIndex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	bm, ok := got.Zones("login")
	if !ok || !bm.Contains(0) || !bm.Contains(1) {
		t.Fatalf("expected login zones {0,1}, got %v", bm)
	}
	bm2, ok := got.Zones("click")
	if !ok || bm2.Contains(0) || !bm2.Contains(1) {
		t.Fatalf("expected click zones {1}, got %v", bm2)
	}
}

func TestContextIndexRoundtrip(t *testing.T) {
	idx := NewContextIndex()
	idx.Add("user-42", 3)
	idx.Add("user-42", 7)

	var buf bytes.Buffer
	if err := idx.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadContextIndex(&buf)
	if err != nil {
		t.Fatal(err)
	}
	bm, ok := got.Zones("user-42")
	if !ok || !bm.Contains(3) || !bm.Contains(7) {
		t.Fatalf("expected zones {3,7}, got %v", bm)
	}
	if _, ok := got.Zones("user-99"); ok {
		t.Fatalf("expected no entry for unseen context id")
	}
}

func TestZoneXorFilterNoFalseNegatives(t *testing.T) {
	f, err := BuildZoneXorFilters(map[uint32][]string{
		0: {"alpha", "beta", "gamma"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !f.MayContain(0, "alpha") || !f.MayContain(0, "beta") || !f.MayContain(0, "gamma") {
		t.Fatalf("xor filter produced a false negative")
	}
	if !f.MayContain(1, "anything") {
		t.Fatalf("zone without a built filter must not be pruned")
	}
}

func TestZoneXorFilterSerializationRoundtrip(t *testing.T) {
	f, err := BuildZoneXorFilters(map[uint32][]string{
		0: {"alpha", "beta", "gamma"},
		2: {"delta", "epsilon"},
	})
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := f.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadZoneXorFilter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.MayContain(0, "alpha") || !got.MayContain(0, "beta") || !got.MayContain(0, "gamma") {
		t.Fatalf("zone 0 filter lost a member across serialization")
	}
	if !got.MayContain(2, "delta") || !got.MayContain(2, "epsilon") {
		t.Fatalf("zone 2 filter lost a member across serialization")
	}
	if !got.MayContain(99, "anything") {
		t.Fatalf("zone with no built filter must not be pruned after deserialization")
	}
}

func TestEnumBitmapRoundtrip(t *testing.T) {
	e := NewEnumBitmap()
	e.Add("active", 0)
	e.Add("inactive", 1)
	e.Add("active", 1)

	var buf bytes.Buffer
	if err := e.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadEnumBitmap(&buf)
	if err != nil {
		t.Fatal(err)
	}
	bm, ok := got.Zones("active")
	if !ok || !bm.Contains(0) || !bm.Contains(1) {
		t.Fatalf("expected active zones {0,1}")
	}
}

func TestIndexCatalogRoundtrip(t *testing.T) {
	c := NewIndexCatalog()
	c.Mark("url", "zxf")
	c.Mark("url", "zsrf")
	c.Mark("created_at", "cal")

	var buf bytes.Buffer
	if err := c.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadIndexCatalog(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Has("url", "zxf") || !got.Has("url", "zsrf") || !got.Has("created_at", "cal") {
		t.Fatalf("index catalog lost entries on roundtrip")
	}
	if got.Has("url", "ebm") {
		t.Fatalf("unexpected index kind present")
	}
}
