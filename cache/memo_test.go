package cache

import "testing"

func TestMemoPinsUntilEveryHandleReleased(t *testing.T) {
	m := NewMemo()
	loads := 0
	load := func() (any, error) {
		loads++
		return "v", nil
	}

	h1, err := m.GetOrLoad("k", load)
	if err != nil {
		t.Fatal(err)
	}
	h2, err := m.GetOrLoad("k", load)
	if err != nil {
		t.Fatal(err)
	}
	if loads != 1 {
		t.Fatalf("expected a single load shared by both handles, got %d", loads)
	}
	if m.Len() != 1 {
		t.Fatalf("expected 1 pinned key, got %d", m.Len())
	}

	h1.Release()
	if m.Len() != 1 {
		t.Fatal("expected the entry to remain pinned while h2 still holds a reference")
	}
	h2.Release()
	if m.Len() != 0 {
		t.Fatal("expected the entry to be freed once every handle released")
	}
}

func TestMemoValueReturnsLoadedData(t *testing.T) {
	m := NewMemo()
	h, err := m.GetOrLoad("k", func() (any, error) { return 42, nil })
	if err != nil {
		t.Fatal(err)
	}
	defer h.Release()
	if h.Value().(int) != 42 {
		t.Fatalf("expected 42, got %v", h.Value())
	}
}
