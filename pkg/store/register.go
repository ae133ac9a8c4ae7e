package store

// Codec serializes/deserializes a view element. Structural views are
// generic over this rather than over encoding/json directly so callers can
// plug in pkg/wire's canonical binary codec for hash-sensitive state.
type Codec[T any] interface {
	Marshal(T) ([]byte, error)
	Unmarshal([]byte) (T, error)
}

var registerKey = []byte("r")

// RegisterView holds a single serialized value with dirty-bit tracked
// write-back, per spec.md §4.1.
type RegisterView[T any] struct {
	ctx   *Context
	codec Codec[T]

	loaded bool
	dirty  bool
	value  T
	zero   T
}

// NewRegisterView roots a RegisterView at ctx using codec.
func NewRegisterView[T any](ctx *Context, codec Codec[T]) *RegisterView[T] {
	return &RegisterView[T]{ctx: ctx, codec: codec}
}

func (r *RegisterView[T]) load() error {
	if r.loaded {
		return nil
	}
	b, err := r.ctx.Get(registerKey)
	if err != nil {
		return err
	}
	if b == nil {
		r.value = r.zero
		r.loaded = true
		return nil
	}
	v, err := r.codec.Unmarshal(b)
	if err != nil {
		return err
	}
	r.value = v
	r.loaded = true
	return nil
}

// Get returns the current logical value (staged or persisted).
func (r *RegisterView[T]) Get() (T, error) {
	if err := r.load(); err != nil {
		var zero T
		return zero, err
	}
	return r.value, nil
}

// Set stages a new value for the next Save.
func (r *RegisterView[T]) Set(v T) {
	r.value = v
	r.loaded = true
	r.dirty = true
}

// Dirty reports whether Set has been called since the last Save.
func (r *RegisterView[T]) Dirty() bool { return r.dirty }

// Save stages the current value into the owning context's batch if dirty.
func (r *RegisterView[T]) Save() error {
	if !r.dirty {
		return nil
	}
	b, err := r.codec.Marshal(r.value)
	if err != nil {
		return err
	}
	r.ctx.Set(registerKey, b)
	r.dirty = false
	return nil
}
