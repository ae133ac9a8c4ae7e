package store

import (
	"bytes"
	"testing"
)

func TestPrefixUpperBound(t *testing.T) {
	cases := []struct {
		prefix []byte
		want   []byte
	}{
		{[]byte("a"), []byte("b")},
		{[]byte("ab"), []byte("ac")},
		{[]byte{0xff}, nil},
		{[]byte{0x01, 0xff}, []byte{0x02}},
		{nil, nil},
	}
	for _, c := range cases {
		got := PrefixUpperBound(c.prefix)
		if !bytes.Equal(got, c.want) {
			t.Errorf("PrefixUpperBound(%x) = %x, want %x", c.prefix, got, c.want)
		}
	}
}

func TestMemoryKVGetSetDelete(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()

	if v, err := kv.Get([]byte("a")); err != nil || v != nil {
		t.Fatalf("expected missing, got v=%v err=%v", v, err)
	}
	if err := kv.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := kv.Get([]byte("a"))
	if err != nil || string(v) != "1" {
		t.Fatalf("expected 1, got v=%s err=%v", v, err)
	}
	has, err := kv.Has([]byte("a"))
	if err != nil || !has {
		t.Fatalf("expected present, got has=%v err=%v", has, err)
	}
	if err := kv.Delete([]byte("a")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v, _ := kv.Get([]byte("a")); v != nil {
		t.Fatalf("expected deleted, got %v", v)
	}
}

func TestMemoryKVIteratorRange(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()

	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		if err := kv.Set([]byte(k), []byte(k)); err != nil {
			t.Fatalf("set %s: %v", k, err)
		}
	}

	it, err := kv.Iterator([]byte("a/"), PrefixUpperBound([]byte("a/")))
	if err != nil {
		t.Fatalf("iterator: %v", err)
	}
	defer it.Close()

	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	want := []string{"a/1", "a/2", "a/3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestMemoryKVBatchAtomicWrite(t *testing.T) {
	kv := NewMemoryKV()
	defer kv.Close()

	b := kv.NewBatch()
	defer b.Close()
	if err := b.Set([]byte("x"), []byte("1")); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := b.Set([]byte("y"), []byte("2")); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	if err := b.Write(); err != nil {
		t.Fatalf("batch write: %v", err)
	}

	for k, want := range map[string]string{"x": "1", "y": "2"} {
		v, err := kv.Get([]byte(k))
		if err != nil || string(v) != want {
			t.Fatalf("expected %s=%s, got v=%s err=%v", k, want, v, err)
		}
	}
}
