package store

import (
	"bytes"
	"sort"
	"sync"
)

// writeOp is one staged mutation: either a value to set or a tombstone.
type writeOp struct {
	deleted bool
	value   []byte
}

// stagedSet is the mutable batch shared by a Context and every Context
// derived from it via Clone, so that a single Flush commits the whole
// subtree's mutations atomically, per spec.md §4.1 contract (a).
type stagedSet struct {
	mu  sync.Mutex
	ops map[string]writeOp
}

// Context is a prefix-scoped view over a KV store. Derived contexts share
// the same backing store and staged-write set but extend the key prefix,
// per spec.md §4.1.
type Context struct {
	kv     KV
	prefix []byte
	staged *stagedSet
}

// NewContext roots a fresh persistence context at prefix over kv.
func NewContext(kv KV, prefix []byte) *Context {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &Context{kv: kv, prefix: p, staged: &stagedSet{ops: map[string]writeOp{}}}
}

// Clone returns a context rooted at prefix+suffix, sharing the same staged
// writes: a save on either context commits both.
func (c *Context) Clone(suffix []byte) *Context {
	p := make([]byte, 0, len(c.prefix)+len(suffix))
	p = append(p, c.prefix...)
	p = append(p, suffix...)
	return &Context{kv: c.kv, prefix: p, staged: c.staged}
}

// Prefix returns this context's full key prefix.
func (c *Context) Prefix() []byte { return append([]byte{}, c.prefix...) }

func (c *Context) fullKey(key []byte) []byte {
	fk := make([]byte, 0, len(c.prefix)+len(key))
	fk = append(fk, c.prefix...)
	fk = append(fk, key...)
	return fk
}

// Get returns the value at key, observing this context's own staged
// writes before falling back to the backing store.
func (c *Context) Get(key []byte) ([]byte, error) {
	fk := c.fullKey(key)
	c.staged.mu.Lock()
	op, ok := c.staged.ops[string(fk)]
	c.staged.mu.Unlock()
	if ok {
		if op.deleted {
			return nil, nil
		}
		return op.value, nil
	}
	return c.kv.Get(fk)
}

// Has reports whether key is present, honoring staged writes.
func (c *Context) Has(key []byte) (bool, error) {
	v, err := c.Get(key)
	return v != nil, err
}

// Set stages key=value for the next Flush.
func (c *Context) Set(key, value []byte) {
	fk := c.fullKey(key)
	v := make([]byte, len(value))
	copy(v, value)
	c.staged.mu.Lock()
	c.staged.ops[string(fk)] = writeOp{value: v}
	c.staged.mu.Unlock()
}

// Delete stages a tombstone for key.
func (c *Context) Delete(key []byte) {
	fk := c.fullKey(key)
	c.staged.mu.Lock()
	c.staged.ops[string(fk)] = writeOp{deleted: true}
	c.staged.mu.Unlock()
}

// Rollback discards every staged mutation shared by this context's subtree,
// per spec.md §4.1 contract (b).
func (c *Context) Rollback() {
	c.staged.mu.Lock()
	c.staged.ops = map[string]writeOp{}
	c.staged.mu.Unlock()
}

// Snapshot is an opaque capture of a Context's staged write set, taken by
// Context.Snapshot and consumed by Context.RestoreTo.
type Snapshot struct {
	ops map[string]writeOp
}

// Snapshot captures the staged write set at this point, so a later
// RestoreTo can undo everything staged after it without discarding writes
// that were already pending before it. Used to make one speculative
// execution (a block proposal that may never be confirmed) undoable on its
// own, independent of whatever else this chain's root context has pending.
func (c *Context) Snapshot() *Snapshot {
	c.staged.mu.Lock()
	defer c.staged.mu.Unlock()
	cp := make(map[string]writeOp, len(c.staged.ops))
	for k, v := range c.staged.ops {
		cp[k] = v
	}
	return &Snapshot{ops: cp}
}

// RestoreTo replaces the staged write set with snap, discarding anything
// staged since it was taken.
func (c *Context) RestoreTo(snap *Snapshot) {
	c.staged.mu.Lock()
	c.staged.ops = snap.ops
	c.staged.mu.Unlock()
}

// Flush atomically writes every staged mutation via a single store batch,
// then clears the staged set, per spec.md §4.1 contract (a).
func (c *Context) Flush() error {
	c.staged.mu.Lock()
	ops := c.staged.ops
	c.staged.ops = map[string]writeOp{}
	c.staged.mu.Unlock()

	if len(ops) == 0 {
		return nil
	}
	b := c.kv.NewBatch()
	defer b.Close()
	for k, op := range ops {
		if op.deleted {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		} else if err := b.Set([]byte(k), op.value); err != nil {
			return err
		}
	}
	return b.Write()
}

// stagedOverlay is one (key, op) pair within a scanned range, used to merge
// staged writes into a range scan so a context observes its own pending
// mutations during Iterate, not just single-key Get.
type stagedOverlay struct {
	key []byte
	op  writeOp
}

func (c *Context) stagedRange(start, end []byte) []stagedOverlay {
	c.staged.mu.Lock()
	defer c.staged.mu.Unlock()
	var out []stagedOverlay
	for k, op := range c.staged.ops {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			continue
		}
		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}
		out = append(out, stagedOverlay{key: kb, op: op})
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].key, out[j].key) < 0 })
	return out
}

// Iterate scans every key under this context's prefix extended by
// subPrefix, merging staged writes over the backing store's committed
// state so uncommitted mutations made earlier in the same logical
// operation are visible to later reads in that operation. The result is
// materialized eagerly: correctness of the merge matters far more here
// than streaming a possibly-huge range.
func (c *Context) Iterate(subPrefix []byte) (Iterator, error) {
	start := c.fullKey(subPrefix)
	end := PrefixUpperBound(start)

	base, err := c.kv.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	defer base.Close()

	merged := map[string][]byte{}
	for ; base.Valid(); base.Next() {
		k := append([]byte{}, base.Key()...)
		merged[string(k)] = append([]byte{}, base.Value()...)
	}
	if err := base.Error(); err != nil {
		return nil, err
	}
	for _, ov := range c.stagedRange(start, end) {
		if ov.op.deleted {
			delete(merged, string(ov.key))
		} else {
			merged[string(ov.key)] = ov.op.value
		}
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	prefixLen := len(c.prefix)
	entries := make([]sliceEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, sliceEntry{key: []byte(k)[prefixLen:], value: merged[k]})
	}
	return &sliceIterator{entries: entries}, nil
}

type sliceEntry struct {
	key   []byte
	value []byte
}

// sliceIterator iterates a pre-materialized, already-sorted slice of
// entries; Iterate builds one of these after merging staged writes over the
// backing store.
type sliceIterator struct {
	entries []sliceEntry
	pos     int
}

func (s *sliceIterator) Valid() bool   { return s.pos < len(s.entries) }
func (s *sliceIterator) Next()         { s.pos++ }
func (s *sliceIterator) Key() []byte   { return s.entries[s.pos].key }
func (s *sliceIterator) Value() []byte { return s.entries[s.pos].value }
func (s *sliceIterator) Error() error  { return nil }
func (s *sliceIterator) Close() error  { return nil }
