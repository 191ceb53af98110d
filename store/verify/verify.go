// Package verify implements a Store that checks,
// on every Get,
// that the bytes from its nested store hash to the requested hash.
// Use it in front of stores that are not trusted,
// such as remote ones.
package verify

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store verifies the blobs of a nested Store.
// It also refuses to Put data under the wrong hash.
type Store struct {
	s hashtree.Store
}

func New(s hashtree.Store) *Store {
	return &Store{s: s}
}

func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	return hashtree.VerifyGet(ctx, s.s, h)
}

func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	return s.s.Has(ctx, h)
}

func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	if got := hashtree.Sum(data); got != h {
		return false, &hashtree.StorageError{Op: "put", Hash: h, Err: errors.Errorf("content hashes to %s", got)}
	}
	return s.s.Put(ctx, h, data)
}

func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	return s.s.Delete(ctx, h)
}

func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	l, ok := s.s.(hashtree.Lister)
	if !ok {
		return errors.Errorf("nested store is a %T and not a Lister", s.s)
	}
	return l.ListRefs(ctx, start, f)
}

func init() {
	store.Register("verify", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		return New(nested), nil
	})
}
