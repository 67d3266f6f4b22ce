package wal

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/shardline/eventcore/schema"
	"github.com/shardline/eventcore/value"
)

func TestWriterAppendAndShutdown(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir, 0, true, false, 0)
	if err != nil {
		t.Fatal(err)
	}
	w := NewWriter(l, 4, nil, nil)

	ctx := context.Background()
	e := Entry{EventID: uuid.New(), EventType: "login", ContextID: "ctx", Timestamp: 1,
		Payload: []schema.PayloadField{{Name: "ip", Value: value.NewString("1.1.1.1")}}}
	if err := w.Append(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := w.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}

	got, err := Replay(dir, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry after shutdown, got %d", len(got))
	}
}
