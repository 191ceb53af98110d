package hashtree

import (
	"context"

	"github.com/pkg/errors"
)

// Getter is the read-only half of a Store (qv).
type Getter interface {
	// Get gets the bytes stored under h.
	// It returns ErrNotFound if there are none.
	Get(ctx context.Context, h Hash) ([]byte, error)

	// Has tells whether bytes are stored under h.
	Has(ctx context.Context, h Hash) (bool, error)
}

// Store is a content-addressed store.
// It maps each hash to the byte sequence having that hash.
//
// Put must be idempotent:
// storing the same bytes twice is harmless,
// and only the first call reports that the bytes were added.
// Implementations need not verify that data hashes to h;
// callers that need that guarantee on untrusted stores use VerifyGet.
type Store interface {
	Getter

	// Put stores data under h.
	// It returns true iff the data had to be added.
	Put(ctx context.Context, h Hash, data []byte) (added bool, err error)

	// Delete removes the data under h.
	// It returns true iff there was something to remove.
	Delete(ctx context.Context, h Hash) (bool, error)
}

// Lister is a Getter that can enumerate its contents.
type Lister interface {
	Getter

	// ListRefs calls a function for each hash in the store in lexicographic order,
	// beginning with the first hash _after_ the specified one.
	//
	// If the callback function returns an error,
	// ListRefs exits with that error.
	ListRefs(ctx context.Context, start Hash, f func(Hash) error) error
}

// RefResolver maps human-readable mutable names to root hashes.
// This module does not implement it;
// applications built on trees consume it.
type RefResolver interface {
	Resolve(ctx context.Context, key string) (CID, error)
	Subscribe(ctx context.Context, key string, f func(CID)) (unsubscribe func(), err error)
	Publish(ctx context.Context, key string, c CID) (bool, error)
	List(ctx context.Context, prefix string, f func(key string, c CID)) (unsubscribe func(), err error)
}

// ErrNotFound is the error returned
// when a Getter tries to access a non-existent hash.
var ErrNotFound = errors.New("not found")

// Put computes the hash of data and stores it in s.
func Put(ctx context.Context, s Store, data []byte) (Hash, bool, error) {
	h := Sum(data)
	added, err := s.Put(ctx, h, data)
	if err != nil {
		return h, false, &StorageError{Op: "put", Hash: h, Err: err}
	}
	return h, added, nil
}

// VerifyGet gets the bytes under h from g
// and checks that they hash to h.
// A mismatch is reported as a StorageError.
func VerifyGet(ctx context.Context, g Getter, h Hash) ([]byte, error) {
	data, err := g.Get(ctx, h)
	if err != nil {
		return nil, err
	}
	if got := Sum(data); got != h {
		return nil, &StorageError{Op: "get", Hash: h, Err: errors.Errorf("content hashes to %s", got)}
	}
	return data, nil
}
