package store

import (
	"encoding/binary"
	"errors"
)

var queueCursorsKey = []byte("c")

// ErrEmptyQueue is returned by Front/Back/DeleteFront on an empty queue.
var ErrEmptyQueue = errors.New("store: queue is empty")

func queueElemKey(i uint64) []byte {
	k := make([]byte, 1+8)
	k[0] = 'q'
	binary.BigEndian.PutUint64(k[1:], i)
	return k
}

// QueueView is a FIFO deque indexed by a stored front/back cursor pair, per
// spec.md §4.1. Indices only ever increase: DeleteFront advances the front
// cursor rather than physically shifting remaining elements.
type QueueView[T any] struct {
	ctx   *Context
	codec Codec[T]

	loaded bool
	front  uint64
	back   uint64 // exclusive: next index push_back will use
}

// NewQueueView roots a QueueView at ctx using codec.
func NewQueueView[T any](ctx *Context, codec Codec[T]) *QueueView[T] {
	return &QueueView[T]{ctx: ctx, codec: codec}
}

func (q *QueueView[T]) loadCursors() error {
	b, err := q.ctx.Get(queueCursorsKey)
	if err != nil {
		return err
	}
	q.front, q.back = 0, 0
	if len(b) == 16 {
		q.front = binary.BigEndian.Uint64(b[:8])
		q.back = binary.BigEndian.Uint64(b[8:])
	}
	q.loaded = true
	return nil
}

func (q *QueueView[T]) saveCursors() {
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b[:8], q.front)
	binary.BigEndian.PutUint64(b[8:], q.back)
	q.ctx.Set(queueCursorsKey, b)
}

// Len returns the number of elements currently queued.
func (q *QueueView[T]) Len() (uint64, error) {
	if err := q.loadCursors(); err != nil {
		return 0, err
	}
	return q.back - q.front, nil
}

// PushBack appends v to the tail of the queue.
func (q *QueueView[T]) PushBack(v T) error {
	if err := q.loadCursors(); err != nil {
		return err
	}
	b, err := q.codec.Marshal(v)
	if err != nil {
		return err
	}
	q.ctx.Set(queueElemKey(q.back), b)
	q.back++
	q.saveCursors()
	return nil
}

// Front returns the element at the head of the queue.
func (q *QueueView[T]) Front() (T, error) {
	var zero T
	if err := q.loadCursors(); err != nil {
		return zero, err
	}
	if q.front >= q.back {
		return zero, ErrEmptyQueue
	}
	return q.get(q.front)
}

// Back returns the element at the tail of the queue.
func (q *QueueView[T]) Back() (T, error) {
	var zero T
	if err := q.loadCursors(); err != nil {
		return zero, err
	}
	if q.front >= q.back {
		return zero, ErrEmptyQueue
	}
	return q.get(q.back - 1)
}

// DeleteFront pops the head element.
func (q *QueueView[T]) DeleteFront() error {
	if err := q.loadCursors(); err != nil {
		return err
	}
	if q.front >= q.back {
		return ErrEmptyQueue
	}
	q.ctx.Delete(queueElemKey(q.front))
	q.front++
	q.saveCursors()
	return nil
}

// Elements returns every element currently queued, in FIFO order.
func (q *QueueView[T]) Elements() ([]T, error) {
	if err := q.loadCursors(); err != nil {
		return nil, err
	}
	out := make([]T, 0, q.back-q.front)
	for i := q.front; i < q.back; i++ {
		v, err := q.get(i)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (q *QueueView[T]) get(i uint64) (T, error) {
	var zero T
	b, err := q.ctx.Get(queueElemKey(i))
	if err != nil {
		return zero, err
	}
	if b == nil {
		return zero, nil
	}
	return q.codec.Unmarshal(b)
}
