package errs

import (
	"errors"
	"testing"
)

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("disk full")
	e := Wrap(IoError, "wal append failed", cause)
	if !errors.Is(e, cause) {
		t.Fatalf("expected wrapped cause to be reachable via errors.Is")
	}
	if !Is(e, IoError) {
		t.Fatalf("expected Is(e, IoError) to be true")
	}
	if Is(e, NotFound) {
		t.Fatalf("expected Is(e, NotFound) to be false")
	}
}

func TestStatusCodes(t *testing.T) {
	cases := map[Kind]int{
		InvalidCommand:  400,
		SchemaError:     422,
		NotFound:        404,
		IoError:         500,
		CorruptionError: 500,
		Overloaded:      503,
		Cancelled:       499,
	}
	for k, want := range cases {
		if got := k.StatusCode(); got != want {
			t.Errorf("%s: got %d want %d", k, got, want)
		}
	}
}

func TestKindOfUnclassified(t *testing.T) {
	plain := errors.New("boom")
	if KindOf(plain) != Unknown {
		t.Fatalf("expected unclassified error to report Unknown")
	}
}
