// Package sqlite3 implements a Store in a Sqlite database.
package sqlite3

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	_ "github.com/mattn/go-sqlite3" // register the sqlite3 type for sql.Open
	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store is a Sqlite-based Store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  ref BLOB PRIMARY KEY NOT NULL,
  data BLOB NOT NULL
);
`

// New produces a new Store using db for storage.
func New(ctx context.Context, db *sql.DB) (*Store, error) {
	_, err := db.ExecContext(ctx, Schema)
	return &Store{db: db}, errors.Wrap(err, "creating schema")
}

// Get gets the data with hash h.
func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	const q = `SELECT data FROM blobs WHERE ref = $1`

	var data []byte
	err := s.db.QueryRowContext(ctx, q, h).Scan(&data)
	if stderrs.Is(err, sql.ErrNoRows) {
		return nil, hashtree.ErrNotFound
	}
	return data, errors.Wrapf(err, "getting %s", h)
}

// Has tells whether h is present.
func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	const q = `SELECT COUNT(*) FROM blobs WHERE ref = $1`

	var n int
	err := s.db.QueryRowContext(ctx, q, h).Scan(&n)
	return n > 0, errors.Wrapf(err, "checking %s", h)
}

// Put adds data to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	const q = `INSERT INTO blobs (ref, data) VALUES ($1, $2) ON CONFLICT DO NOTHING`

	if data == nil {
		data = []byte{}
	}
	res, err := s.db.ExecContext(ctx, q, h, data)
	if err != nil {
		return false, errors.Wrap(err, "inserting blob")
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}
	return aff > 0, nil
}

// Delete removes the data with hash h.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	const q = `DELETE FROM blobs WHERE ref = $1`

	res, err := s.db.ExecContext(ctx, q, h)
	if err != nil {
		return false, errors.Wrap(err, "deleting blob")
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "counting affected rows")
	}
	return aff > 0, nil
}

// ListRefs produces all hashes in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	const q = `SELECT ref FROM blobs WHERE ref > $1 ORDER BY ref`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, f)
}

func init() {
	store.Register("sqlite3", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("sqlite3", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
