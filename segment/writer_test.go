package segment

import (
	"bytes"
	"testing"

	"github.com/shardline/eventcore/value"
)

func TestColumnWriterReaderRoundtrip(t *testing.T) {
	var col bytes.Buffer
	w, err := NewColumnWriter(&col)
	if err != nil {
		t.Fatal(err)
	}

	zoneA := BlockFromValues(PhysI64, []value.Value{value.NewI64(1), value.NewI64(2), value.NewI64(3)})
	zoneB := BlockFromValues(PhysVarBytes, []value.Value{value.NewString("hello"), value.NewString("world")})

	if _, err := w.WriteZoneBlock(0, zoneA); err != nil {
		t.Fatal(err)
	}
	if _, err := w.WriteZoneBlock(1, zoneB); err != nil {
		t.Fatal(err)
	}

	var zfc bytes.Buffer
	if err := w.WriteZfc(&zfc); err != nil {
		t.Fatal(err)
	}

	entries, err := ReadZfcEntries(&zfc)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 zfc entries, got %d", len(entries))
	}

	colBytes := col.Bytes()
	reader := OpenColumnReader(bytes.NewReader(colBytes), entries)

	got0, err := reader.ReadZoneBlock(0)
	if err != nil {
		t.Fatal(err)
	}
	if got0.At(0).I64() != 1 || got0.At(2).I64() != 3 {
		t.Fatalf("zone 0 roundtrip mismatch")
	}

	got1, err := reader.ReadZoneBlock(1)
	if err != nil {
		t.Fatal(err)
	}
	if got1.At(0).Str() != "hello" || got1.At(1).Str() != "world" {
		t.Fatalf("zone 1 roundtrip mismatch")
	}
}

func TestReadZoneBlockUnknownZone(t *testing.T) {
	reader := OpenColumnReader(bytes.NewReader(nil), nil)
	_, err := reader.ReadZoneBlock(5)
	if err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
