package lru

import (
	"context"
	"testing"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
	"github.com/bobg/hashtree/store/mem"
	"github.com/bobg/hashtree/testutil"
)

func TestStore(t *testing.T) {
	ctx := context.Background()

	s, err := New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.Store(ctx, t, s)

	s, err = New(mem.New(), 1000)
	if err != nil {
		t.Fatal(err)
	}
	testutil.ReadWrite(ctx, t, s, nil)

	testutil.AllRefs(ctx, t, func() testutil.ListStore {
		s, err := New(mem.New(), 10)
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestCache(t *testing.T) {
	ctx := context.Background()

	nested := mem.New()
	s, err := New(nested, 2)
	if err != nil {
		t.Fatal(err)
	}

	var hashes []hashtree.Hash
	for _, str := range []string{"a", "b", "c"} {
		h, _, err := hashtree.Put(ctx, s, []byte(str))
		if err != nil {
			t.Fatal(err)
		}
		hashes = append(hashes, h)
	}
	if s.Len() != 2 {
		t.Errorf("got cache size %d, want 2", s.Len())
	}

	// Removing a blob behind the cache's back leaves the cached copy visible.
	if _, err := nested.Delete(ctx, hashes[2]); err != nil {
		t.Fatal(err)
	}
	got, err := s.Get(ctx, hashes[2])
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "c" {
		t.Errorf("got %q, want c", got)
	}

	// Deleting through the cache removes both copies.
	if _, err := s.Delete(ctx, hashes[1]); err != nil {
		t.Fatal(err)
	}
	if ok, err := s.Has(ctx, hashes[1]); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("deleted blob still present")
	}

	// The evicted blob is still in the nested store.
	got, err = s.Get(ctx, hashes[0])
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "a" {
		t.Errorf("got %q, want a", got)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	s, err := store.FromConfig(ctx, map[string]interface{}{
		"type":   "lru",
		"size":   100.0,
		"nested": map[string]interface{}{"type": "mem"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*Store); !ok {
		t.Errorf("got %T, want *Store", s)
	}
	if _, err = store.FromConfig(ctx, map[string]interface{}{"type": "lru", "nested": map[string]interface{}{"type": "mem"}}); err == nil {
		t.Error("lru store without size accepted")
	}
}
