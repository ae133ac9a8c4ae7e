package store

import "encoding/binary"

var logCountKey = []byte("n")

func logEntryKey(i uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = 'e'
	binary.BigEndian.PutUint64(k[1:], i)
	return k
}

// LogView is an append-only sequence, per spec.md §4.1. Entries are
// addressed by index under a per-view prefix.
type LogView[T any] struct {
	ctx   *Context
	codec Codec[T]

	countLoaded bool
	count       uint64
}

// NewLogView roots a LogView at ctx using codec.
func NewLogView[T any](ctx *Context, codec Codec[T]) *LogView[T] {
	return &LogView[T]{ctx: ctx, codec: codec}
}

func (l *LogView[T]) loadCount() error {
	if l.countLoaded {
		return nil
	}
	b, err := l.ctx.Get(logCountKey)
	if err != nil {
		return err
	}
	if len(b) == 8 {
		l.count = binary.BigEndian.Uint64(b)
	}
	l.countLoaded = true
	return nil
}

// Count returns the number of entries appended so far.
func (l *LogView[T]) Count() (uint64, error) {
	if err := l.loadCount(); err != nil {
		return 0, err
	}
	return l.count, nil
}

// Push appends v as the next entry.
func (l *LogView[T]) Push(v T) error {
	if err := l.loadCount(); err != nil {
		return err
	}
	b, err := l.codec.Marshal(v)
	if err != nil {
		return err
	}
	l.ctx.Set(logEntryKey(l.count), b)
	l.count++
	cb := make([]byte, 8)
	binary.BigEndian.PutUint64(cb, l.count)
	l.ctx.Set(logCountKey, cb)
	return nil
}

// Read returns entries in [from, to).
func (l *LogView[T]) Read(from, to uint64) ([]T, error) {
	if err := l.loadCount(); err != nil {
		return nil, err
	}
	if to > l.count {
		to = l.count
	}
	out := make([]T, 0)
	for i := from; i < to; i++ {
		v, err := l.get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (l *LogView[T]) get(i uint64) (T, error) {
	var zero T
	b, err := l.ctx.Get(logEntryKey(i))
	if err != nil {
		return zero, err
	}
	if b == nil {
		return zero, nil
	}
	return l.codec.Unmarshal(b)
}

// MultiGet returns entries at the given indices, in order.
func (l *LogView[T]) MultiGet(indices []uint64) ([]T, error) {
	out := make([]T, 0, len(indices))
	for _, i := range indices {
		v, err := l.get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
