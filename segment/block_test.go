package segment

import (
	"testing"

	"github.com/shardline/eventcore/value"
)

func TestEncodeDecodeVarBytesRoundtrip(t *testing.T) {
	vals := []value.Value{value.NewString("a"), value.Nil(), value.NewString("ccc")}
	b := BlockFromValues(PhysVarBytes, vals)
	raw, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.RowCount != 3 {
		t.Fatalf("expected 3 rows, got %d", got.RowCount)
	}
	if !got.At(1).IsNil() {
		t.Fatalf("expected row 1 to be null")
	}
	if got.At(0).Str() != "a" || got.At(2).Str() != "ccc" {
		t.Fatalf("roundtrip mismatch: %v %v", got.At(0), got.At(2))
	}
}

func TestEncodeDecodeI64WithNulls(t *testing.T) {
	vals := []value.Value{value.NewI64(1), value.NewI64(-5), value.Nil(), value.NewI64(42)}
	b := BlockFromValues(PhysI64, vals)
	raw, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(raw)%8 != 0 {
		// header+aux padded to 8, plus payload of 8-byte words, should stay aligned
		t.Fatalf("expected 8-byte aligned block, got len %d", len(raw))
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if got.At(0).I64() != 1 || got.At(1).I64() != -5 || got.At(3).I64() != 42 {
		t.Fatalf("roundtrip mismatch")
	}
	if !got.At(2).IsNil() {
		t.Fatalf("expected row 2 null")
	}
}

func TestEncodeDecodeBool(t *testing.T) {
	vals := []value.Value{value.NewBool(true), value.NewBool(false), value.NewBool(true)}
	b := BlockFromValues(PhysBool, vals)
	raw, err := Encode(b)
	if err != nil {
		t.Fatal(err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatal(err)
	}
	if !got.At(0).Bool() || got.At(1).Bool() || !got.At(2).Bool() {
		t.Fatalf("bool roundtrip mismatch")
	}
}

func TestDecodeTruncatedRejected(t *testing.T) {
	vals := []value.Value{value.NewF64(3.14)}
	b := BlockFromValues(PhysF64, vals)
	raw, _ := Encode(b)
	_, err := Decode(raw[:len(raw)-2])
	if err == nil {
		t.Fatalf("expected truncated block to be rejected")
	}
}
