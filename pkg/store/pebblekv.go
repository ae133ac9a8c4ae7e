package store

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// PebbleKV adapts a CockroachDB Pebble store into the core's KV contract,
// grounded on the pack's pkg/storage.PebbleStore (uhyunpark/hyperlicked),
// demonstrating that the persistence context's "pluggable ordered byte
// store" is not CometBFT-specific: any LSM-tree KV engine with ordered
// iteration works.
type PebbleKV struct {
	db *pebble.DB
}

// NewPebbleKV opens (creating if absent) a Pebble store at dir.
func NewPebbleKV(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleKV{db: db}, nil
}

func (k *PebbleKV) Get(key []byte) ([]byte, error) {
	v, closer, err := k.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (k *PebbleKV) Has(key []byte) (bool, error) {
	v, err := k.Get(key)
	return v != nil, err
}

func (k *PebbleKV) Set(key, value []byte) error { return k.db.Set(key, value, pebble.Sync) }
func (k *PebbleKV) Delete(key []byte) error      { return k.db.Delete(key, pebble.Sync) }

func (k *PebbleKV) Iterator(start, end []byte) (Iterator, error) {
	it, err := k.db.NewIter(&pebble.IterOptions{LowerBound: start, UpperBound: end})
	if err != nil {
		return nil, err
	}
	it.First()
	return &pebbleIterator{it: it}, nil
}

func (k *PebbleKV) NewBatch() Batch { return &pebbleBatch{db: k.db, b: k.db.NewBatch()} }

func (k *PebbleKV) Close() error { return k.db.Close() }

type pebbleIterator struct {
	it      *pebble.Iterator
	started bool
}

func (i *pebbleIterator) Valid() bool { return i.it.Valid() }
func (i *pebbleIterator) Next()       { i.it.Next() }
func (i *pebbleIterator) Key() []byte { return i.it.Key() }
func (i *pebbleIterator) Value() []byte {
	v, _ := i.it.ValueAndErr()
	return v
}
func (i *pebbleIterator) Error() error { return i.it.Error() }
func (i *pebbleIterator) Close() error { return i.it.Close() }

type pebbleBatch struct {
	db *pebble.DB
	b  *pebble.Batch
}

func (b *pebbleBatch) Set(key, value []byte) error { return b.b.Set(key, value, nil) }
func (b *pebbleBatch) Delete(key []byte) error      { return b.b.Delete(key, nil) }
func (b *pebbleBatch) Write() error                 { return b.db.Apply(b.b, pebble.Sync) }
func (b *pebbleBatch) Close() error                 { return b.b.Close() }
