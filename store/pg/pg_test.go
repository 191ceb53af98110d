package pg

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/testutil"
)

func TestStore(t *testing.T) {
	withStore(t, func(ctx context.Context, store *Store) {
		testutil.Store(ctx, t, store)
		testutil.ReadWrite(ctx, t, store, nil)
	})
}

func TestGetMulti(t *testing.T) {
	withStore(t, func(ctx context.Context, store *Store) {
		present, _, err := hashtree.Put(ctx, store, []byte("present"))
		if err != nil {
			t.Fatal(err)
		}
		absent := hashtree.Sum([]byte("absent"))

		got, err := store.GetMulti(ctx, []hashtree.Hash{present, absent})
		var merr hashtree.MultiErr
		if !errors.As(err, &merr) {
			t.Fatalf("got error %v, want MultiErr", err)
		}
		if string(got[present]) != "present" {
			t.Errorf("got %q", got[present])
		}
		if !errors.Is(merr[absent], hashtree.ErrNotFound) {
			t.Errorf("got error %v for absent hash", merr[absent])
		}
	})
}

const connVar = "HASHTREE_PG_TESTING_CONN"

func withStore(t *testing.T, f func(context.Context, *Store)) {
	connstr := os.Getenv(connVar)
	if connstr == "" {
		t.Skipf("to run %s, set %s to a valid Postgresql connection string", t.Name(), connVar)
	}

	db, err := sql.Open("postgres", connstr)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `DROP TABLE IF EXISTS blobs`); err != nil {
		t.Fatal(err)
	}
	store, err := New(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	f(ctx, store)
}
