// Package mem implements an in-memory Store.
package mem

import (
	"context"
	"sort"
	"sync"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store is a memory-based implementation of a Store.
type Store struct {
	mu    sync.Mutex
	blobs map[hashtree.Hash][]byte
}

// New produces a new Store.
func New() *Store {
	return &Store{
		blobs: make(map[hashtree.Hash][]byte),
	}
}

// Get gets the blob with hash h.
func (s *Store) Get(_ context.Context, h hashtree.Hash) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(h)
}

// Caller must obtain a lock.
func (s *Store) get(h hashtree.Hash) ([]byte, error) {
	if b, ok := s.blobs[h]; ok {
		return b, nil
	}
	return nil, hashtree.ErrNotFound
}

// GetMulti gets multiple blobs in one call.
func (s *Store) GetMulti(_ context.Context, hashes []hashtree.Hash) (map[hashtree.Hash][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		result = make(map[hashtree.Hash][]byte)
		errmap hashtree.MultiErr
	)
	for _, h := range hashes {
		b, err := s.get(h)
		if err != nil {
			if errmap == nil {
				errmap = make(hashtree.MultiErr)
			}
			errmap[h] = err
			continue
		}
		result[h] = b
	}
	if errmap != nil {
		return result, errmap
	}
	return result, nil
}

// Has tells whether h is present.
func (s *Store) Has(_ context.Context, h hashtree.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blobs[h]
	return ok, nil
}

// Put adds a blob to the store if it wasn't already present.
func (s *Store) Put(_ context.Context, h hashtree.Hash, data []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[h]; ok {
		return false, nil
	}
	s.blobs[h] = append([]byte(nil), data...)
	return true, nil
}

// Delete removes a blob.
func (s *Store) Delete(_ context.Context, h hashtree.Hash) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.blobs[h]; !ok {
		return false, nil
	}
	delete(s.blobs, h)
	return true, nil
}

// Len tells how many blobs are stored.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.blobs)
}

// ListRefs produces all blob hashes in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	s.mu.Lock()
	hashes := make([]hashtree.Hash, 0, len(s.blobs))
	for h := range s.blobs {
		hashes = append(hashes, h)
	}
	s.mu.Unlock()

	sort.Slice(hashes, func(i, j int) bool { return hashes[i].Less(hashes[j]) })
	index := sort.Search(len(hashes), func(n int) bool {
		return start.Less(hashes[n])
	})

	for i := index; i < len(hashes); i++ {
		err := f(hashes[i])
		if err != nil {
			return err
		}
	}
	return nil
}

func init() {
	store.Register("mem", func(context.Context, map[string]interface{}) (hashtree.Store, error) {
		return New(), nil
	})
}
