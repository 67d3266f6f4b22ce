package shard

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/cache"
	"github.com/shardline/eventcore/flow"
	"github.com/shardline/eventcore/memtable"
	"github.com/shardline/eventcore/query"
	"github.com/shardline/eventcore/query/predicate"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

func testShard(t *testing.T) (*Shard, *schema.Registry, *schema.Definition) {
	t.Helper()
	r := schema.NewRegistry()
	def, err := r.Define("order.created", []schema.FieldSpec{{Name: "amount", Logical: value.I64}})
	if err != nil {
		t.Fatal(err)
	}
	cacheH := cache.NewHierarchy(cache.Config{})
	sh := New(Config{SegmentsRoot: t.TempDir(), RowCap: 8, EventPerZone: 64, CommandCapacity: 4}, r, cacheH)
	t.Cleanup(func() { sh.Close() })
	return sh, r, def
}

// newUnstartedShard builds a Shard whose command channel has no consumer
// draining it, so tests can push raw writeCmds and observe queue occupancy
// without racing the background run() goroutine.
func newUnstartedShard(t *testing.T, cfg Config, registry *schema.Registry, cacheH *cache.Hierarchy) *Shard {
	t.Helper()
	cfg = cfg.resolve()
	return &Shard{
		cfg:      cfg,
		registry: registry,
		cacheH:   cacheH,
		pool:     flow.NewBatchPool(),
		set:      memtable.NewSet(cfg.RowCap),
		commands: make(chan writeCmd, cfg.CommandCapacity),
	}
}

func testEvent(def *schema.Definition, contextID string, ts int64, amount int64) memtable.Event {
	return memtable.Event{
		EventID: uuid.New(), EventType: def.EventType, UID: def.UID, ContextID: contextID, Timestamp: ts,
		Payload: []schema.PayloadField{{Name: "amount", Value: value.NewI64(amount)}},
	}
}

func TestShardStoreAndQueryRoundTrip(t *testing.T) {
	sh, r, def := testShard(t)
	if err := sh.Store(context.Background(), testEvent(def, "a", 1, 10)); err != nil {
		t.Fatal(err)
	}

	plan, err := query.Compile(query.Request{EventType: def.EventType, Where: predicate.And()}, r)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := sh.Query(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected the just-stored event to be visible from the active memtable, got %d rows", len(rows))
	}
}

func TestShardQueryNeverBlocksOnWriteChannel(t *testing.T) {
	r := schema.NewRegistry()
	def, err := r.Define("order.created", []schema.FieldSpec{{Name: "amount", Logical: value.I64}})
	if err != nil {
		t.Fatal(err)
	}
	sh := newUnstartedShard(t, Config{SegmentsRoot: t.TempDir(), EventPerZone: 64, CommandCapacity: 4}, r, cache.NewHierarchy(cache.Config{}))
	// fill the write channel with nothing consuming it, then confirm Query
	// still returns immediately since it never goes through commands.
	for i := 0; i < 4; i++ {
		sh.commands <- writeCmd{event: testEvent(def, "x", 1, 1), result: make(chan error, 1)}
	}

	plan, err := query.Compile(query.Request{EventType: def.EventType, Where: predicate.And()}, r)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sh.Query(context.Background(), plan); err != nil {
		t.Fatal(err)
	}
}

func TestShardRejectsWhenOverloaded(t *testing.T) {
	r := schema.NewRegistry()
	def, err := r.Define("order.created", []schema.FieldSpec{{Name: "amount", Logical: value.I64}})
	if err != nil {
		t.Fatal(err)
	}
	sh := newUnstartedShard(t, Config{SegmentsRoot: t.TempDir(), EventPerZone: 64, CommandCapacity: 4}, r, cache.NewHierarchy(cache.Config{}))
	// fill the command channel's buffer directly, with no consumer draining
	// it, to deterministically force overloaded() true.
	for i := 0; i < 4; i++ {
		sh.commands <- writeCmd{event: testEvent(def, "x", 1, 1), result: make(chan error, 1)}
	}
	if !sh.overloaded() {
		t.Fatal("expected a full 4-capacity queue to report overloaded at the default 0.8 threshold")
	}
}

func TestShardFreezeAndFlushOnFullMemtable(t *testing.T) {
	sh, _, def := testShard(t)
	for i := 0; i < 9; i++ { // RowCap is 8; the 8th insert fills the memtable and triggers a flush
		if err := sh.Store(context.Background(), testEvent(def, "a", int64(i), int64(i))); err != nil {
			t.Fatal(err)
		}
	}
	if sh.metrics.Flushes.Load() == 0 {
		t.Fatal("expected at least one flush once the memtable filled")
	}
}

func TestShardCloseIsIdempotent(t *testing.T) {
	sh, _, _ := testShard(t)
	if err := sh.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sh.Close(); err != nil {
		t.Fatalf("expected a second Close to be a no-op, got %v", err)
	}
}

func TestShardStoreRejectedAfterClose(t *testing.T) {
	sh, _, def := testShard(t)
	if err := sh.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sh.Store(context.Background(), testEvent(def, "a", 1, 1)); err == nil {
		t.Fatal("expected Store to fail on a closed shard")
	}
}
