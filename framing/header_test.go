package framing

import (
	"bytes"
	"testing"

	"github.com/shardline/eventcore/errs"
)

func TestHeaderRoundtrip(t *testing.T) {
	h := NewHeader(KindZoneMeta, 1, 0)
	var buf bytes.Buffer
	if err := h.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.Len() != HeaderLen {
		t.Fatalf("expected %d bytes, got %d", HeaderLen, buf.Len())
	}
	read, err := ReadHeader(&buf, KindZoneMeta)
	if err != nil {
		t.Fatal(err)
	}
	if read.Version != 1 || read.CRC != h.CRC {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", read, h)
	}
}

func TestTamperedFirst16BytesRejected(t *testing.T) {
	h := NewHeader(KindWAL, 1, 0)
	var buf bytes.Buffer
	h.WriteTo(&buf)
	raw := buf.Bytes()
	raw[0] ^= 0xFF // flip a magic byte
	_, err := ReadHeader(bytes.NewReader(raw), KindWAL)
	if err == nil {
		t.Fatalf("expected tampered header to fail to open")
	}
	if !errs.Is(err, errs.CorruptionError) {
		t.Fatalf("expected CorruptionError, got %v", err)
	}
}

func TestWrongMagicRejected(t *testing.T) {
	h := NewHeader(KindZoneMeta, 1, 0)
	var buf bytes.Buffer
	h.WriteTo(&buf)
	_, err := ReadHeader(&buf, KindWAL)
	if err == nil {
		t.Fatalf("expected wrong magic to be rejected")
	}
}

func TestTruncatedHeaderRejected(t *testing.T) {
	h := NewHeader(KindZoneMeta, 1, 0)
	var buf bytes.Buffer
	h.WriteTo(&buf)
	truncated := buf.Bytes()[:HeaderLen-1]
	_, err := ReadHeader(bytes.NewReader(truncated), KindZoneMeta)
	if err == nil {
		t.Fatalf("expected truncated header to fail")
	}
}
