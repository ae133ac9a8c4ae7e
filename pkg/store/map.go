package store

// KeyCodec converts a structured key to and from its canonical byte
// representation, used by MapView and CollectionView so keys sort and scan
// the same way regardless of the Go type they represent.
type KeyCodec[K any] interface {
	Encode(K) []byte
	Decode([]byte) (K, error)
}

var mapEntryPrefix = []byte{'m'}

// MapView is a key→value map with prefix scanning, per spec.md §4.1.
type MapView[K comparable, V any] struct {
	ctx      *Context
	keyCodec KeyCodec[K]
	valCodec Codec[V]
}

// NewMapView roots a MapView at ctx.
func NewMapView[K comparable, V any](ctx *Context, keyCodec KeyCodec[K], valCodec Codec[V]) *MapView[K, V] {
	return &MapView[K, V]{ctx: ctx, keyCodec: keyCodec, valCodec: valCodec}
}

func (m *MapView[K, V]) entryKey(k K) []byte {
	out := make([]byte, 0, 1+16)
	out = append(out, mapEntryPrefix...)
	out = append(out, m.keyCodec.Encode(k)...)
	return out
}

// Get returns the value at k and whether it was present.
func (m *MapView[K, V]) Get(k K) (V, bool, error) {
	var zero V
	b, err := m.ctx.Get(m.entryKey(k))
	if err != nil {
		return zero, false, err
	}
	if b == nil {
		return zero, false, nil
	}
	v, err := m.valCodec.Unmarshal(b)
	return v, err == nil, err
}

// Insert sets k=v.
func (m *MapView[K, V]) Insert(k K, v V) error {
	b, err := m.valCodec.Marshal(v)
	if err != nil {
		return err
	}
	m.ctx.Set(m.entryKey(k), b)
	return nil
}

// Remove deletes k, if present.
func (m *MapView[K, V]) Remove(k K) {
	m.ctx.Delete(m.entryKey(k))
}

// Indices returns every key currently present, in byte-sorted order.
func (m *MapView[K, V]) Indices() ([]K, error) {
	it, err := m.ctx.Iterate(mapEntryPrefix)
	if err != nil {
		return nil, err
	}
	defer it.Close()
	var out []K
	for ; it.Valid(); it.Next() {
		k, err := m.keyCodec.Decode(it.Key()[len(mapEntryPrefix):])
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, it.Error()
}

// ForEachIndexValue calls f for every (key, value) pair, in byte-sorted key
// order, stopping early if f returns an error.
func (m *MapView[K, V]) ForEachIndexValue(f func(K, V) error) error {
	it, err := m.ctx.Iterate(mapEntryPrefix)
	if err != nil {
		return err
	}
	defer it.Close()
	for ; it.Valid(); it.Next() {
		k, err := m.keyCodec.Decode(it.Key()[len(mapEntryPrefix):])
		if err != nil {
			return err
		}
		v, err := m.valCodec.Unmarshal(it.Value())
		if err != nil {
			return err
		}
		if err := f(k, v); err != nil {
			return err
		}
	}
	return it.Error()
}

// Clear removes every entry currently present.
func (m *MapView[K, V]) Clear() error {
	keys, err := m.Indices()
	if err != nil {
		return err
	}
	for _, k := range keys {
		m.Remove(k)
	}
	return nil
}
