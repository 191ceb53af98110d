// Package badger implements a Store in a Badger key-value database.
package badger

import (
	"bytes"
	"context"

	"github.com/dgraph-io/badger/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

var prefix = []byte("b/")

// maxRetries bounds the retries of a transaction that conflicts with another.
const maxRetries = 10

// Store is a Badger-based Store.
type Store struct {
	db *badger.DB
}

// New produces a new Store using db for storage.
func New(db *badger.DB) *Store {
	return &Store{db: db}
}

// Open opens a Badger database in dir
// and produces a Store using it.
// The caller should Close the Store when done.
func Open(dir string, log logrus.FieldLogger) (*Store, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	if log == nil {
		opts = opts.WithLogger(nil)
	} else {
		opts = opts.WithLogger(log)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "opening badger db in %s", dir)
	}
	return New(db), nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func key(h hashtree.Hash) []byte {
	return append(append([]byte(nil), prefix...), h[:]...)
}

// Get gets the data with hash h.
func (s *Store) Get(_ context.Context, h hashtree.Hash) ([]byte, error) {
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(h))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, hashtree.ErrNotFound
	}
	return data, errors.Wrapf(err, "getting %s", h)
}

// Has tells whether h is present.
func (s *Store) Has(_ context.Context, h hashtree.Hash) (bool, error) {
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key(h))
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	return err == nil, errors.Wrapf(err, "checking %s", h)
}

// Put adds data to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	var added bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		k := key(h)
		_, err := txn.Get(k)
		if err == nil {
			added = false
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		added = true
		return txn.Set(k, append([]byte{}, data...))
	})
	return added, errors.Wrapf(err, "storing %s", h)
}

// Delete removes the data with hash h.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	var deleted bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		k := key(h)
		_, err := txn.Get(k)
		if errors.Is(err, badger.ErrKeyNotFound) {
			deleted = false
			return nil
		}
		if err != nil {
			return err
		}
		deleted = true
		return txn.Delete(k)
	})
	return deleted, errors.Wrapf(err, "deleting %s", h)
}

// update runs f in a read-write transaction,
// retrying when it conflicts with a concurrent one.
func (s *Store) update(ctx context.Context, f func(*badger.Txn) error) error {
	for i := 0; ; i++ {
		err := s.db.Update(f)
		if !errors.Is(err, badger.ErrConflict) || i >= maxRetries {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

// ListRefs produces all hashes in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		startKey := key(start)
		for it.Seek(startKey); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			if bytes.Equal(k, startKey) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(hashtree.HashFromBytes(k[len(prefix):])); err != nil {
				return err
			}
		}
		return nil
	})
}

func init() {
	store.Register("badger", func(_ context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		dir, _ := conf["dir"].(string)
		return Open(dir, logrus.StandardLogger().WithField("store", "badger"))
	})
}
