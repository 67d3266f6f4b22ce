package segment

import (
	"path/filepath"
	"testing"
)

func TestSegmentIndexRoundtripAndAtomicPublish(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "segments.idx")

	entries := []IndexEntry{
		{Counter: 0, Label: "seg-0", UIDs: []uint32{1, 2}},
		{Counter: 1, Label: "seg-1", UIDs: []uint32{1}},
	}
	if err := WriteSegmentIndex(path, entries); err != nil {
		t.Fatal(err)
	}
	got, err := ReadSegmentIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Label != "seg-1" || len(got[0].UIDs) != 2 {
		t.Fatalf("segments.idx roundtrip mismatch: %+v", got)
	}

	// overwrite, verifying temp+rename replaces the previous contents wholesale
	if err := WriteSegmentIndex(path, entries[:1]); err != nil {
		t.Fatal(err)
	}
	got2, err := ReadSegmentIndex(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got2) != 1 {
		t.Fatalf("expected overwrite to replace entries, got %d", len(got2))
	}
}

func TestReadSegmentIndexMissingFileIsEmpty(t *testing.T) {
	got, err := ReadSegmentIndex(filepath.Join(t.TempDir(), "nope.idx"))
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("expected nil for missing segments.idx, got %v", got)
	}
}

func TestDirNameZeroPadded(t *testing.T) {
	if DirName(7) != "0000000007" {
		t.Fatalf("unexpected dir name: %s", DirName(7))
	}
}
