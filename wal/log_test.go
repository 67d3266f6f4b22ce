package wal

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

func newTestEntry(t *testing.T, ctx string, ts int64) Entry {
	t.Helper()
	return Entry{
		EventID:   uuid.New(),
		EventType: "login",
		ContextID: ctx,
		Timestamp: ts,
		Payload:   []schema.PayloadField{{Name: "ip", Value: value.NewString("1.2.3.4")}},
	}
}

func TestAppendAndReplayRoundtrip(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 0, true, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	e1 := newTestEntry(t, "ctx-a", 100)
	e2 := newTestEntry(t, "ctx-b", 200)
	if err := l.Append(e1); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(e2); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := Replay(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 replayed entries, got %d", len(got))
	}
	if got[0].ContextID != "ctx-a" || got[1].ContextID != "ctx-b" {
		t.Fatalf("replay order mismatch: %+v", got)
	}
}

func TestReplayDedupesByEventID(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 0, true, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEntry(t, "ctx-a", 100)
	if err := l.Append(e); err != nil {
		t.Fatal(err)
	}
	if err := l.Append(e); err != nil { // duplicate event_id
		t.Fatal(err)
	}
	l.Close()

	got, err := Replay(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected dedup to collapse to 1 entry, got %d", len(got))
	}
}

func TestReplaySkipsTrailingCorruptRecord(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 0, true, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	e := newTestEntry(t, "ctx-a", 100)
	if err := l.Append(e); err != nil {
		t.Fatal(err)
	}
	l.Close()

	path := filepath.Join(dir, logFileName(0, 0))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0640)
	if err != nil {
		t.Fatal(err)
	}
	// append a truncated frame header to simulate a crash mid-write
	if _, err := f.Write([]byte{1, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	f.Close()

	got, err := Replay(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected trailing corrupt record to be skipped, got %d entries", len(got))
	}
}

func TestRotationStartsNewFile(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 0, true, false, 2)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		if err := l.Append(newTestEntry(t, "ctx", int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	l.Close()

	if _, err := os.Stat(filepath.Join(dir, logFileName(0, 0))); err != nil {
		t.Fatalf("expected first wal file to exist: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, logFileName(0, 1))); err != nil {
		t.Fatalf("expected rotated second wal file to exist: %v", err)
	}
}
