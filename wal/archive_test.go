package wal

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

func TestArchiveRoundtrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 1, true, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	e := Entry{
		EventID:   uuid.New(),
		EventType: "click",
		ContextID: "ctx-1",
		Timestamp: 555,
		Payload:   []schema.PayloadField{{Name: "url", Value: value.NewString("/checkout")}},
	}
	if err := l.Append(e); err != nil {
		t.Fatal(err)
	}
	l.Close()

	archiveDir := filepath.Join(dir, "archive")
	path, err := Archive(filepath.Join(dir, logFileName(1, 0)), archiveDir, 1, 0)
	if err != nil {
		t.Fatal(err)
	}

	hdr, entries, err := OpenArchive(path)
	if err != nil {
		t.Fatal(err)
	}
	if hdr.EntryCount != 1 {
		t.Fatalf("expected entry count 1, got %d", hdr.EntryCount)
	}
	if len(entries) != 1 || entries[0].ContextID != "ctx-1" {
		t.Fatalf("archive roundtrip mismatch: %+v", entries)
	}
}
