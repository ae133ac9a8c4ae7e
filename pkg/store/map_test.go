package store

import "testing"

func TestMapViewInsertGetRemove(t *testing.T) {
	ctx := newTestContext(t)
	m := NewMapView[string, string](ctx, stringKeyCodec{}, stringCodec{})

	if _, ok, err := m.Get("missing"); err != nil || ok {
		t.Fatalf("expected missing, got ok=%v err=%v", ok, err)
	}

	if err := m.Insert("k1", "v1"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	v, ok, err := m.Get("k1")
	if err != nil || !ok || v != "v1" {
		t.Fatalf("expected v1, got v=%q ok=%v err=%v", v, ok, err)
	}

	m.Remove("k1")
	if _, ok, err := m.Get("k1"); err != nil || ok {
		t.Fatalf("expected removed, got ok=%v err=%v", ok, err)
	}
}

func TestMapViewIndicesSortedAndForEach(t *testing.T) {
	ctx := newTestContext(t)
	m := NewMapView[string, string](ctx, stringKeyCodec{}, stringCodec{})

	_ = m.Insert("b", "2")
	_ = m.Insert("a", "1")
	_ = m.Insert("c", "3")

	idx, err := m.Indices()
	if err != nil {
		t.Fatalf("indices: %v", err)
	}
	want := []string{"a", "b", "c"}
	if len(idx) != len(want) {
		t.Fatalf("got %v, want %v", idx, want)
	}
	for i := range want {
		if idx[i] != want[i] {
			t.Fatalf("got %v, want %v", idx, want)
		}
	}

	seen := map[string]string{}
	err = m.ForEachIndexValue(func(k, v string) error {
		seen[k] = v
		return nil
	})
	if err != nil {
		t.Fatalf("foreach: %v", err)
	}
	if seen["a"] != "1" || seen["b"] != "2" || seen["c"] != "3" {
		t.Fatalf("unexpected foreach contents: %v", seen)
	}
}

func TestMapViewClear(t *testing.T) {
	ctx := newTestContext(t)
	m := NewMapView[string, string](ctx, stringKeyCodec{}, stringCodec{})
	_ = m.Insert("a", "1")
	_ = m.Insert("b", "2")

	if err := m.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	idx, err := m.Indices()
	if err != nil || len(idx) != 0 {
		t.Fatalf("expected empty map, got %v err=%v", idx, err)
	}
}
