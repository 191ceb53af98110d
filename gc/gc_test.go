package gc_test

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/hashtree"
	. "github.com/bobg/hashtree/gc"
	"github.com/bobg/hashtree/store/mem"
	"github.com/bobg/hashtree/tree"
)

func randBytes(seed int64, n int) []byte {
	b := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func listAll(ctx context.Context, t *testing.T, s hashtree.Lister) []hashtree.Hash {
	t.Helper()
	var result []hashtree.Hash
	err := s.ListRefs(ctx, hashtree.Zero, func(h hashtree.Hash) error {
		result = append(result, h)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return result
}

func TestGC(t *testing.T) {
	var (
		ctx   = context.Background()
		store = mem.New()
		opts  = []tree.Option{tree.ChunkSize(1024), tree.MaxLinks(4)}
	)

	keepFile, _, err := tree.PutFile(ctx, store, randBytes(1, 20000), opts...)
	if err != nil {
		t.Fatal(err)
	}
	keepEnc, _, err := tree.PutFile(ctx, store, randBytes(2, 5000), append(opts, tree.Encrypt(true))...)
	if err != nil {
		t.Fatal(err)
	}
	entry, err := tree.FileEntry(ctx, store, "enc", keepEnc, 5000)
	if err != nil {
		t.Fatal(err)
	}
	keepDir, _, err := tree.PutDirectory(ctx, store, []tree.DirEntry{entry}, opts...)
	if err != nil {
		t.Fatal(err)
	}

	k := NewMemKeep()
	for _, root := range []hashtree.CID{keepFile, keepDir} {
		if err := AddTree(ctx, k, store, root); err != nil {
			t.Fatal(err)
		}
	}

	want := listAll(ctx, t, store)

	garbage, _, err := tree.PutFile(ctx, store, randBytes(3, 30000), opts...)
	if err != nil {
		t.Fatal(err)
	}

	before := len(listAll(ctx, t, store))
	n, err := Run(ctx, store, k)
	if err != nil {
		t.Fatal(err)
	}
	if n != before-len(want) {
		t.Errorf("deleted %d blobs, want %d", n, before-len(want))
	}

	got := listAll(ctx, t, store)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	for _, root := range []hashtree.CID{keepFile, keepEnc} {
		if _, ok, err := tree.ReadFile(ctx, store, root); err != nil || !ok {
			t.Errorf("reading kept tree %s: ok=%v, err=%v", root, ok, err)
		}
	}
	if _, ok, err := tree.ReadFile(ctx, store, garbage); err != nil {
		t.Fatal(err)
	} else if ok {
		t.Error("collected tree is still readable")
	}
}

func TestAddTreeMissing(t *testing.T) {
	ctx := context.Background()
	err := AddTree(ctx, NewMemKeep(), mem.New(), hashtree.CID{Hash: hashtree.Sum([]byte("absent"))})
	var merr *hashtree.MissingChunkError
	if !errors.As(err, &merr) {
		t.Errorf("got %v, want MissingChunkError", err)
	}
}

func TestMemKeep(t *testing.T) {
	var (
		ctx = context.Background()
		k   = NewMemKeep()
		h   = hashtree.Sum([]byte("x"))
	)
	if added, _ := k.Add(ctx, h); !added {
		t.Error("first add not added")
	}
	if added, _ := k.Add(ctx, h); added {
		t.Error("second add added")
	}
	if ok, _ := k.Contains(ctx, h); !ok {
		t.Error("not contained")
	}
	if ok, _ := k.Contains(ctx, hashtree.Sum([]byte("y"))); ok {
		t.Error("absent hash contained")
	}
	if k.Len() != 1 {
		t.Errorf("got len %d, want 1", k.Len())
	}
}
