package memtable

import "testing"

func TestFreezeSwapsActiveAndPreservesContents(t *testing.T) {
	s := NewSet(0)
	s.Active().Insert(newEvent("a"))

	frozen := s.Freeze(1)
	if frozen.Table.Len() != 1 {
		t.Fatalf("expected frozen memtable to retain its event")
	}
	if s.Active().Len() != 0 {
		t.Fatalf("expected fresh active memtable after freeze")
	}

	s.Active().Insert(newEvent("b"))
	if s.Active().Len() != 1 {
		t.Fatalf("expected new active memtable to accept inserts")
	}
}

func TestPublishRemovesOnlyMatchingSegment(t *testing.T) {
	s := NewSet(0)
	s.Active().Insert(newEvent("a"))
	s.Freeze(1)
	s.Active().Insert(newEvent("b"))
	s.Freeze(2)

	if len(s.Passive()) != 2 {
		t.Fatalf("expected 2 passive memtables, got %d", len(s.Passive()))
	}
	s.Publish(1)
	passive := s.Passive()
	if len(passive) != 1 || passive[0].SegmentID != 2 {
		t.Fatalf("expected only segment 2 to remain passive, got %+v", passive)
	}
}

func TestScanAllVisitsActiveThenPassive(t *testing.T) {
	s := NewSet(0)
	s.Active().Insert(newEvent("a"))
	s.Freeze(1)
	s.Active().Insert(newEvent("b"))

	var seen []string
	s.ScanAll(func(e Event) bool {
		seen = append(seen, e.ContextID)
		return true
	})
	if len(seen) != 2 || seen[0] != "b" || seen[1] != "a" {
		t.Fatalf("expected active-then-passive order [b a], got %v", seen)
	}
}
