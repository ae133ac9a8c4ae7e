package store

import (
	dbm "github.com/cometbft/cometbft-db"
)

// CometKV adapts a CometBFT dbm.DB into the core's KV contract, the same
// shape as the teacher's pkg/kvdb.KVAdapter but exposing the richer
// iteration/batch surface the structural views need.
type CometKV struct {
	db dbm.DB
}

// NewCometKV wraps an already-open dbm.DB.
func NewCometKV(db dbm.DB) *CometKV { return &CometKV{db: db} }

// NewMemoryKV opens an in-memory CometBFT store, used by tests and by
// main.go when no data directory is configured.
func NewMemoryKV() *CometKV { return &CometKV{db: dbm.NewMemDB()} }

// NewGoLevelKV opens a durable GoLevelDB-backed store rooted at dir/name.
func NewGoLevelKV(name, dir string) (*CometKV, error) {
	db, err := dbm.NewGoLevelDB(name, dir)
	if err != nil {
		return nil, err
	}
	return &CometKV{db: db}, nil
}

func (k *CometKV) Get(key []byte) ([]byte, error) { return k.db.Get(key) }
func (k *CometKV) Has(key []byte) (bool, error)    { return k.db.Has(key) }

func (k *CometKV) Set(key, value []byte) error { return k.db.SetSync(key, value) }
func (k *CometKV) Delete(key []byte) error     { return k.db.DeleteSync(key) }

func (k *CometKV) Iterator(start, end []byte) (Iterator, error) {
	it, err := k.db.Iterator(start, end)
	if err != nil {
		return nil, err
	}
	return &cometIterator{it}, nil
}

func (k *CometKV) NewBatch() Batch { return &cometBatch{k.db.NewBatch()} }

func (k *CometKV) Close() error { return k.db.Close() }

type cometIterator struct{ it dbm.Iterator }

func (i *cometIterator) Valid() bool    { return i.it.Valid() }
func (i *cometIterator) Next()          { i.it.Next() }
func (i *cometIterator) Key() []byte    { return i.it.Key() }
func (i *cometIterator) Value() []byte  { return i.it.Value() }
func (i *cometIterator) Error() error   { return i.it.Error() }
func (i *cometIterator) Close() error   { return i.it.Close() }

type cometBatch struct{ b dbm.Batch }

func (b *cometBatch) Set(key, value []byte) error { return b.b.Set(key, value) }
func (b *cometBatch) Delete(key []byte) error      { return b.b.Delete(key) }
func (b *cometBatch) Write() error                 { return b.b.WriteSync() }
func (b *cometBatch) Close() error                 { return b.b.Close() }
