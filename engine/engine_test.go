package engine

import (
	"context"
	"testing"

	"github.com/shardline/eventcore/command"
	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/shard"
	"github.com/shardline/eventcore/value"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	registry := schema.NewRegistry()
	shards := shard.NewManager(shard.ManagerConfig{
		ShardCount:  2,
		Root:        t.TempDir(),
		ShardConfig: shard.Config{RowCap: 64, EventPerZone: 64, CommandCapacity: 16},
	}, registry)
	t.Cleanup(func() { shards.Shutdown(context.Background()) })
	return New(registry, shards)
}

func TestEngineDefineThenStoreThenQuery(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	defResult, err := e.Dispatch(ctx, command.DefineCommand{
		EventType: "order.created",
		Fields:    []schema.FieldSpec{{Name: "amount", Logical: value.I64}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if defResult.Definition == nil || defResult.Definition.EventType != "order.created" {
		t.Fatalf("expected a definition result, got %+v", defResult)
	}

	storeResult, err := e.Dispatch(ctx, command.StoreCommand{
		EventType: "order.created",
		ContextID: "cust-1",
		Payload:   []schema.PayloadField{{Name: "amount", Value: value.NewI64(10)}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if storeResult.EventID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("expected a non-nil event id from Store")
	}

	queryResult, err := e.Dispatch(ctx, command.QueryCommand{EventType: "order.created", ContextID: "cust-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(queryResult.Rows) != 1 {
		t.Fatalf("expected 1 row back, got %d", len(queryResult.Rows))
	}
}

func TestEngineReplayFansOutAcrossAllTypesWhenUnfiltered(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()

	for _, et := range []string{"order.created", "order.shipped"} {
		if _, err := e.Dispatch(ctx, command.DefineCommand{EventType: et, Fields: []schema.FieldSpec{{Name: "amount", Logical: value.I64}}}); err != nil {
			t.Fatal(err)
		}
		if _, err := e.Dispatch(ctx, command.StoreCommand{EventType: et, ContextID: "cust-1", Payload: []schema.PayloadField{{Name: "amount", Value: value.NewI64(1)}}}); err != nil {
			t.Fatal(err)
		}
	}

	result, err := e.Dispatch(ctx, command.ReplayCommand{ContextID: "cust-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("expected replay to merge rows from both event types, got %d", len(result.Rows))
	}
}

func TestEnginePingAndFlush(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if _, err := e.Dispatch(ctx, command.PingCommand{}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Dispatch(ctx, command.FlushCommand{}); err != nil {
		t.Fatal(err)
	}
}

func TestEngineBatchStopsOnFirstErrorButKeepsPriorResults(t *testing.T) {
	e := testEngine(t)
	ctx := context.Background()
	if _, err := e.Dispatch(ctx, command.DefineCommand{EventType: "order.created", Fields: []schema.FieldSpec{{Name: "amount", Logical: value.I64}}}); err != nil {
		t.Fatal(err)
	}

	result, err := e.Dispatch(ctx, command.BatchCommand{Commands: []command.Command{
		command.StoreCommand{EventType: "order.created", ContextID: "a", Payload: []schema.PayloadField{{Name: "amount", Value: value.NewI64(1)}}},
		command.StoreCommand{EventType: "does.not.exist", ContextID: "a"},
	}})
	if err == nil {
		t.Fatal("expected the batch to surface the second command's error")
	}
	if len(result.Batch) != 2 {
		t.Fatalf("expected both results recorded (success then failure), got %d", len(result.Batch))
	}
	if result.Batch[0].EventID.String() == "00000000-0000-0000-0000-000000000000" {
		t.Fatal("expected the first sub-command's result to carry a real event id")
	}
}

// command.Command's isCommand() marker is unexported, so every value that
// satisfies it must be declared inside the command package — the default
// case in Dispatch's type switch is unreachable from outside and is not
// exercised here for that reason.
