package store

import "testing"

func TestLogViewPushAndRead(t *testing.T) {
	ctx := newTestContext(t)
	l := NewLogView[string](ctx, stringCodec{})

	for _, v := range []string{"a", "b", "c"} {
		if err := l.Push(v); err != nil {
			t.Fatalf("push %q: %v", v, err)
		}
	}

	count, err := l.Count()
	if err != nil || count != 3 {
		t.Fatalf("expected count 3, got %d err=%v", count, err)
	}

	got, err := l.Read(0, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestLogViewReadClampsToCount(t *testing.T) {
	ctx := newTestContext(t)
	l := NewLogView[string](ctx, stringCodec{})
	_ = l.Push("only")

	got, err := l.Read(0, 100)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(got) != 1 || got[0] != "only" {
		t.Fatalf("expected [only], got %v", got)
	}
}

func TestLogViewMultiGet(t *testing.T) {
	ctx := newTestContext(t)
	l := NewLogView[string](ctx, stringCodec{})
	for _, v := range []string{"a", "b", "c", "d"} {
		_ = l.Push(v)
	}

	got, err := l.MultiGet([]uint64{3, 0})
	if err != nil {
		t.Fatalf("multiget: %v", err)
	}
	if len(got) != 2 || got[0] != "d" || got[1] != "a" {
		t.Fatalf("unexpected multiget result: %v", got)
	}
}

func TestLogViewPersistsAcrossContexts(t *testing.T) {
	ctx := newTestContext(t)
	l := NewLogView[string](ctx, stringCodec{})
	_ = l.Push("x")
	if err := ctx.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	l2 := NewLogView[string](NewContext(ctx.kv, ctx.Prefix()), stringCodec{})
	count, err := l2.Count()
	if err != nil || count != 1 {
		t.Fatalf("expected persisted count 1, got %d err=%v", count, err)
	}
}
