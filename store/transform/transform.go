// Package transform implements a Store that transforms blobs
// on their way into and out of a nested store.
//
// Blobs stay addressed by the hash of their untransformed bytes,
// so hashes listed by the nested store are hashes of the original content.
package transform

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store is a Store wrapping a nested Store and a Transformer.
type Store struct {
	s hashtree.Store
	x Transformer
}

// Transformer tells how to transform a blob on its way into and out of a Store.
// Out should be the inverse of In.
type Transformer interface {
	// In transforms a blob on its way into the store.
	In(context.Context, []byte) ([]byte, error)

	// Out transforms a blob on its way out of the store.
	Out(context.Context, []byte) ([]byte, error)
}

// New produces a new Store.
func New(s hashtree.Store, x Transformer) *Store {
	return &Store{s: s, x: x}
}

// Get gets the blob with hash h, untransformed.
func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	b, err := s.s.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	out, err := s.x.Out(ctx, b)
	return out, errors.Wrapf(err, "transforming %s out", h)
}

// Has tells whether the nested store has a blob with hash h.
func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	return s.s.Has(ctx, h)
}

// Put transforms data and stores it in the nested store under h.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	if ok, err := s.s.Has(ctx, h); err != nil {
		return false, err
	} else if ok {
		return false, nil
	}
	in, err := s.x.In(ctx, data)
	if err != nil {
		return false, errors.Wrapf(err, "transforming %s in", h)
	}
	return s.s.Put(ctx, h, in)
}

// Delete removes the blob with hash h from the nested store.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	return s.s.Delete(ctx, h)
}

// ListRefs lists the hashes in the nested store,
// which must be a hashtree.Lister.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	l, ok := s.s.(hashtree.Lister)
	if !ok {
		return errors.Errorf("nested store is a %T and not a Lister", s.s)
	}
	return l.ListRefs(ctx, start, f)
}
