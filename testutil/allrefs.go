package testutil

import (
	"context"
	"sort"
	"testing"
	"testing/quick"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

// ListStore is a Store that can list its contents.
type ListStore = store.ListStore

// AllRefs writes a random set of random blobs to an empty store
// and makes sure that the right set of refs comes back in a call to ListRefs.
func AllRefs(ctx context.Context, t *testing.T, storeFactory func() ListStore) {
	if err := quick.Check(allRefsHelper(ctx, t, storeFactory), &quick.Config{MaxCount: 20}); err != nil {
		t.Error(err)
	}
}

func allRefsHelper(ctx context.Context, t *testing.T, storeFactory func() ListStore) func([][]byte) bool {
	return func(blobs [][]byte) bool {
		var (
			s    = storeFactory()
			want []hashtree.Hash
		)
		for _, blob := range blobs {
			h, added, err := hashtree.Put(ctx, s, blob)
			if err != nil {
				t.Fatal(err)
			}
			if added {
				want = append(want, h)
			}
		}
		var got []hashtree.Hash
		err := s.ListRefs(ctx, hashtree.Zero, func(h hashtree.Hash) error {
			got = append(got, h)
			return nil
		})
		if err != nil {
			t.Fatal(err)
		}

		sort.Slice(want, func(i, j int) bool { return want[i].Less(want[j]) })
		if !sort.SliceIsSorted(got, func(i, j int) bool { return got[i].Less(got[j]) }) {
			t.Log("ListRefs out of order")
			return false
		}

		if diff := cmp.Diff(want, got); diff != "" {
			t.Logf("mismatch (-want +got):\n%s", diff)
			return false
		}

		if len(got) > 1 {
			var rest []hashtree.Hash
			err := s.ListRefs(ctx, got[0], func(h hashtree.Hash) error {
				rest = append(rest, h)
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(got[1:], rest); diff != "" {
				t.Logf("mismatch listing after first ref (-want +got):\n%s", diff)
				return false
			}
		}
		return true
	}
}
