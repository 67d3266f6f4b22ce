package memtable

import (
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

func newEvent(ctx string) Event {
	return Event{
		EventID:   uuid.New(),
		EventType: "login",
		ContextID: ctx,
		Timestamp: 1,
		Payload:   []schema.PayloadField{{Name: "ip", Value: value.NewString("10.0.0.1")}},
	}
}

func TestInsertPreservesOrderAndContextIndex(t *testing.T) {
	m := New(0)
	e1 := newEvent("a")
	e2 := newEvent("b")
	e3 := newEvent("a")
	m.Insert(e1)
	m.Insert(e2)
	m.Insert(e3)

	events := m.Events()
	if len(events) != 3 || events[1].ContextID != "b" {
		t.Fatalf("expected insertion order preserved, got %+v", events)
	}
	byA := m.ByContext("a")
	if len(byA) != 2 || byA[0].EventID != e1.EventID || byA[1].EventID != e3.EventID {
		t.Fatalf("context index mismatch: %+v", byA)
	}
}

func TestFullReportsAtCapacity(t *testing.T) {
	m := New(2)
	if m.Full() {
		t.Fatalf("empty memtable should not be full")
	}
	m.Insert(newEvent("a"))
	if m.Full() {
		t.Fatalf("memtable at 1/2 should not be full")
	}
	m.Insert(newEvent("b"))
	if !m.Full() {
		t.Fatalf("memtable at 2/2 should be full")
	}
}

func TestFieldReturnsNilForAbsentField(t *testing.T) {
	e := newEvent("a")
	if !e.Field("missing").IsNil() {
		t.Fatalf("expected missing field to read as null")
	}
	if e.Field("ip").Str() != "10.0.0.1" {
		t.Fatalf("expected ip field to be readable")
	}
}
