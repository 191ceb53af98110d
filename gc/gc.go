// Package gc removes from a store the blobs that no protected tree refers to.
package gc

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/tree"
)

// Store is a store that gc can sweep.
type Store interface {
	hashtree.Store
	hashtree.Lister
}

// Keep is a set of hashes to protect from garbage collection.
type Keep interface {
	// Add adds a single hash to the Keep.
	// It returns true if it was newly added and false if it was already present.
	Add(context.Context, hashtree.Hash) (bool, error)

	// Contains tells whether a hash is in the Keep.
	Contains(context.Context, hashtree.Hash) (bool, error)
}

// AddTree adds to k every hash of the tree at root:
// the root itself, its interior nodes and its chunks,
// recursively through directories.
// The whole tree must be present in g.
func AddTree(ctx context.Context, k Keep, g hashtree.Getter, root hashtree.CID) error {
	err := tree.Refs(ctx, g, root, func(h hashtree.Hash) error {
		_, err := k.Add(ctx, h)
		return errors.Wrapf(err, "adding %s", h)
	})
	return errors.Wrapf(err, "protecting tree %s", root.Hash)
}

// Run runs a garbage collection on s,
// with k the set of hashes to keep.
// It returns the number of blobs deleted.
func Run(ctx context.Context, s Store, k Keep) (int, error) {
	var doomed []hashtree.Hash
	err := s.ListRefs(ctx, hashtree.Zero, func(h hashtree.Hash) error {
		found, err := k.Contains(ctx, h)
		if err != nil {
			return err
		}
		if !found {
			doomed = append(doomed, h)
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "listing store")
	}

	var n int
	for _, h := range doomed {
		deleted, err := s.Delete(ctx, h)
		if err != nil {
			return n, errors.Wrapf(err, "deleting %s", h)
		}
		if deleted {
			n++
		}
	}
	return n, nil
}

// MemKeep is an in-memory Keep.
type MemKeep struct {
	mu sync.Mutex
	m  map[hashtree.Hash]struct{}
}

// NewMemKeep produces an empty MemKeep.
func NewMemKeep() *MemKeep {
	return &MemKeep{m: make(map[hashtree.Hash]struct{})}
}

// Add adds h to the set.
// It reports whether h was newly added.
func (k *MemKeep) Add(_ context.Context, h hashtree.Hash) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.m[h]; ok {
		return false, nil
	}
	k.m[h] = struct{}{}
	return true, nil
}

// Contains tells whether h is in the set.
func (k *MemKeep) Contains(_ context.Context, h hashtree.Hash) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	_, ok := k.m[h]
	return ok, nil
}

// Len tells how many hashes are in k.
func (k *MemKeep) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.m)
}
