package segment

import (
	"bytes"
	"testing"
)

func TestCalendarHourAndDayBuckets(t *testing.T) {
	c := NewCalendar()
	c.AddZoneRange(0, 1000, 1000+3*secondsPerHour)
	c.AddZoneRange(1, 50000000, 50000000+10)

	bm, ok := c.ZonesForHour(1000)
	if !ok || !bm.Contains(0) {
		t.Fatalf("expected zone 0 in hour bucket")
	}
	bmDay, ok := c.ZonesForDay(1000)
	if !ok || !bmDay.Contains(0) {
		t.Fatalf("expected zone 0 in day bucket")
	}

	union := c.ZonesForRange(1000, 1000+3*secondsPerHour)
	if !union.Contains(0) {
		t.Fatalf("expected range union to contain zone 0")
	}
}

func TestCalendarRoundtrip(t *testing.T) {
	c := NewCalendar()
	c.AddZoneRange(3, 0, secondsPerDay*2)

	var buf bytes.Buffer
	if err := c.WriteTo(&buf); err != nil {
		t.Fatal(err)
	}
	got, err := ReadCalendar(&buf)
	if err != nil {
		t.Fatal(err)
	}
	bm, ok := got.ZonesForDay(0)
	if !ok || !bm.Contains(3) {
		t.Fatalf("calendar roundtrip lost zone 3")
	}
}

func TestTemporalSlabOverlapping(t *testing.T) {
	s := NewTemporalSlab()
	s.Add(0, 100, 200)
	s.Add(1, 300, 400)
	s.Add(2, 150, 350)

	got := s.Overlapping(180, 320)
	want := map[uint32]bool{0: true, 1: true, 2: true}
	if len(got) != len(want) {
		t.Fatalf("expected 3 overlapping zones, got %v", got)
	}
	for _, z := range got {
		if !want[z] {
			t.Fatalf("unexpected zone %d in overlap result", z)
		}
	}
}
