// Package lru implements a Store that acts as a least-recently-used cache for a nested Store.
package lru

import (
	"context"
	"errors"

	lru "github.com/hashicorp/golang-lru"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store implements a memory-based least-recently-used cache for a Store.
// Writes pass through to the nested store.
type Store struct {
	c *lru.Cache // Hash -> []byte
	s hashtree.Store
}

// New produces a new Store backed by s and caching up to size blobs.
func New(s hashtree.Store, size int) (*Store, error) {
	c, err := lru.New(size)
	return &Store{s: s, c: c}, err
}

// Get gets the blob with hash h.
func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	if got, ok := s.c.Get(h); ok {
		return got.([]byte), nil
	}
	b, err := s.s.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	s.c.Add(h, b)
	return b, nil
}

// Has tells whether the store has a blob with hash h.
func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	if s.c.Contains(h) {
		return true, nil
	}
	return s.s.Has(ctx, h)
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	added, err := s.s.Put(ctx, h, data)
	if err != nil {
		return false, err
	}
	s.c.Add(h, data)
	return added, nil
}

// Delete removes the blob with hash h from the cache and the nested store.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	s.c.Remove(h)
	return s.s.Delete(ctx, h)
}

// ListRefs produces all blob hashes in the nested store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	l, ok := s.s.(hashtree.Lister)
	if !ok {
		return errors.New("nested store is not a Lister")
	}
	return l.ListRefs(ctx, start, f)
}

// Len tells how many blobs are in the cache.
func (s *Store) Len() int {
	return s.c.Len()
}

func init() {
	store.Register("lru", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		size, ok := store.Int(conf, "size")
		if !ok {
			return nil, errors.New(`missing "size" parameter`)
		}
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested, size)
	})
}
