// Package kvstore wraps goleveldb with a namespaced-key "tree" abstraction
// so callers can pretend they have several independent key-value stores
// sharing one embedded database, mirroring the tree model the ledger layer
// is written against.
package kvstore

import (
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Tree name prefixes. A single byte keeps prefixed keys short and keeps
// byte-order iteration within a tree lexicographic, since goleveldb itself
// has one flat keyspace.
const (
	TreeBlocks       byte = 'b'
	TreeBlocksByHash byte = 'h'
	TreeTransactions byte = 't'
	TreeAccounts     byte = 'a'
	TreeMeta         byte = 'm'
)

// Store is an embedded, ordered, crash-durable key-value store.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a goleveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a goleveldb database backed by an in-memory storage,
// useful for tests and ephemeral nodes.
func OpenInMemory() (*Store, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// key builds a namespaced key: one prefix byte followed by the caller's raw
// key bytes.
func key(tree byte, k []byte) []byte {
	buf := make([]byte, 0, 1+len(k))
	buf = append(buf, tree)
	buf = append(buf, k...)
	return buf
}

// Get reads a single namespaced key. It returns leveldb.ErrNotFound
// (unwrapped) when the key is absent so callers can use errors.Is against
// it directly.
func (s *Store) Get(tree byte, k []byte) ([]byte, error) {
	return s.db.Get(key(tree, k), nil)
}

// Put writes a single namespaced key outside of any batch, with a
// synchronous (fsync'd) write.
func (s *Store) Put(tree byte, k, v []byte) error {
	return s.db.Put(key(tree, k), v, &opt.WriteOptions{Sync: true})
}

// Has reports whether a namespaced key exists.
func (s *Store) Has(tree byte, k []byte) (bool, error) {
	return s.db.Has(key(tree, k), nil)
}

// Iterate walks every key in tree in lexicographic key order, invoking fn
// with the unprefixed key and its value. Iteration stops early if fn returns
// false.
func (s *Store) Iterate(tree byte, fn func(k, v []byte) bool) error {
	rng := util.BytesPrefix([]byte{tree})
	it := s.db.NewIterator(rng, nil)
	defer it.Release()
	for it.Next() {
		k := it.Key()[1:]
		if !fn(k, it.Value()) {
			break
		}
	}
	return it.Error()
}

// Batch accumulates namespaced writes for a single atomic commit.
type Batch struct {
	b *leveldb.Batch
}

// NewBatch returns an empty Batch.
func (s *Store) NewBatch() *Batch { return &Batch{b: new(leveldb.Batch)} }

// Put stages a namespaced key write in the batch.
func (b *Batch) Put(tree byte, k, v []byte) { b.b.Put(key(tree, k), v) }

// Delete stages a namespaced key deletion in the batch.
func (b *Batch) Delete(tree byte, k []byte) { b.b.Delete(key(tree, k)) }

// Write commits the batch atomically and durably: either every staged
// mutation lands, or (on a crash before this call returns) none of them do.
func (s *Store) Write(b *Batch) error {
	return s.db.Write(b.b, &opt.WriteOptions{Sync: true})
}
