package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// Store checks the basic contract of a Store:
// idempotent Put, Get and Has of present and absent hashes,
// and Delete.
func Store(ctx context.Context, t *testing.T, s hashtree.Store) {
	t.Helper()

	for _, data := range [][]byte{[]byte("hello, world"), {}} {
		h := hashtree.Sum(data)

		added, err := s.Put(ctx, h, data)
		if err != nil {
			t.Fatal(err)
		}
		if !added {
			t.Errorf("first put of %x not added", data)
		}
		added, err = s.Put(ctx, h, data)
		if err != nil {
			t.Fatal(err)
		}
		if added {
			t.Errorf("second put of %x added", data)
		}

		got, err := s.Get(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("got %x, want %x", got, data)
		}
		ok, err := s.Has(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("Has(%s) is false after put", h)
		}

		deleted, err := s.Delete(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		if !deleted {
			t.Errorf("Delete(%s) deleted nothing", h)
		}
		deleted, err = s.Delete(ctx, h)
		if err != nil {
			t.Fatal(err)
		}
		if deleted {
			t.Errorf("second Delete(%s) deleted something", h)
		}
	}

	missing := hashtree.Sum([]byte("nonesuch"))
	if _, err := s.Get(ctx, missing); !errors.Is(err, hashtree.ErrNotFound) {
		t.Errorf("Get of missing hash: got error %v, want ErrNotFound", err)
	}
	ok, err := s.Has(ctx, missing)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("Has of missing hash is true")
	}
}
