package file

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/shardline/eventcore/errs"
)

func TestPutGetDeleteRoundtrip(t *testing.T) {
	b := New(t.TempDir())
	ctx := context.Background()

	if err := b.Put(ctx, "0000000001/5_status.col", bytes.NewReader([]byte("hello"))); err != nil {
		t.Fatal(err)
	}
	r, err := b.Get(ctx, "0000000001/5_status.col")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "hello" {
		t.Fatalf("expected hello, got %q", data)
	}

	if err := b.Delete(ctx, "0000000001/5_status.col"); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Get(ctx, "0000000001/5_status.col"); !errs.Is(err, errs.NotFound) {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestListFindsPrefixedKeys(t *testing.T) {
	b := New(t.TempDir())
	ctx := context.Background()
	b.Put(ctx, "0000000001/5_status.col", bytes.NewReader([]byte("a")))
	b.Put(ctx, "0000000001/5_status.zfc", bytes.NewReader([]byte("b")))
	b.Put(ctx, "0000000002/5_status.col", bytes.NewReader([]byte("c")))

	keys, err := b.List(ctx, "0000000001/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys under 0000000001/, got %v", keys)
	}
}
