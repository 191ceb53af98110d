// Package testutil holds tests that any Store implementation should pass.
package testutil

import (
	"bytes"
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/tree"
)

// ReadWrite permits testing a Store implementation
// by writing some data to it as a tree, plain and encrypted,
// then reading it back out to make sure it's the same.
// If data is nil, a megabyte of pseudorandom bytes is used.
func ReadWrite(ctx context.Context, t *testing.T, store hashtree.Store, data []byte) {
	t.Helper()

	if data == nil {
		data = make([]byte, 1<<20)
		rand.New(rand.NewSource(1)).Read(data)
	}

	for _, encrypt := range []bool{false, true} {
		opts := []tree.Option{tree.ChunkSize(16 << 10), tree.Encrypt(encrypt)}

		t1 := time.Now()
		cid, size, err := tree.PutFile(ctx, store, data, opts...)
		if err != nil {
			t.Fatal(err)
		}
		if size != uint64(len(data)) {
			t.Fatalf("wrote size %d, want %d", size, len(data))
		}
		t.Logf("wrote %d bytes in %s (encrypt=%v)", len(data), time.Since(t1), encrypt)

		t2 := time.Now()
		got, ok, err := tree.ReadFile(ctx, store, cid)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Fatal("root not found")
		}
		t.Logf("read %d bytes in %s", len(got), time.Since(t2))

		if len(got) != len(data) {
			t.Errorf("got length %d, want %d", len(got), len(data))
		} else if !bytes.Equal(got, data) {
			for i := 0; i < len(got); i++ {
				if got[i] != data[i] {
					t.Fatalf("mismatch at position %d (of %d)", i, len(got))
				}
			}
		}
	}
}
