// Package pg implements a Store in a Postgresql database.
package pg

import (
	"context"
	"database/sql"
	stderrs "errors"

	"github.com/bobg/sqlutil"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store       = &Store{}
	_ hashtree.Lister      = &Store{}
	_ hashtree.MultiGetter = &Store{}
)

// Store is a Postgresql-based Store.
type Store struct {
	db *sql.DB
}

// Schema is the SQL that New executes.
// It creates the `blobs` table if it does not exist.
// (If it does exist, it must have the columns and constraints described here.)
const Schema = `
CREATE TABLE IF NOT EXISTS blobs (
  ref BYTEA PRIMARY KEY NOT NULL,
  data BYTEA NOT NULL
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

// GetMulti gets multiple blobs in one query.
// Hashes not in the store are reported in a hashtree.MultiErr.
func (s *Store) GetMulti(ctx context.Context, hashes []hashtree.Hash) (map[hashtree.Hash][]byte, error) {
	const q = `SELECT ref, data FROM blobs WHERE ref = ANY($1)`

	refs := make(pq.ByteaArray, 0, len(hashes))
	for _, h := range hashes {
		refs = append(refs, append([]byte(nil), h[:]...))
	}

	result := make(map[hashtree.Hash][]byte)
	err := sqlutil.ForQueryRows(ctx, s.db, q, refs, func(h hashtree.Hash, data []byte) {
		result[h] = data
	})
	if err != nil {
		return nil, errors.Wrap(err, "querying blobs")
	}

	var errmap hashtree.MultiErr
	for _, h := range hashes {
		if _, ok := result[h]; ok {
			continue
		}
		if errmap == nil {
			errmap = make(hashtree.MultiErr)
		}
		errmap[h] = hashtree.ErrNotFound
	}
	if errmap != nil {
		return result, errmap
	}
	return result, nil
}

// Has tells whether h is present.
func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM blobs WHERE ref = $1)`

	var ok bool
	err := s.db.QueryRowContext(ctx, q, h).Scan(&ok)
	return ok, errors.Wrapf(err, "checking %s", h)
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
	return aff > 0, errors.Wrap(err, "counting affected rows")
}

// Delete removes the data with hash h.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	const q = `DELETE FROM blobs WHERE ref = $1`

	res, err := s.db.ExecContext(ctx, q, h)
	if err != nil {
		return false, errors.Wrap(err, "deleting blob")
	}
	aff, err := res.RowsAffected()
	return aff > 0, errors.Wrap(err, "counting affected rows")
}

// ListRefs produces all hashes in the store, in lexical order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	const q = `SELECT ref FROM blobs WHERE ref > $1 ORDER BY ref`
	return sqlutil.ForQueryRows(ctx, s.db, q, start, f)
}

func init() {
	store.Register("pg", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		conn, ok := conf["conn"].(string)
		if !ok {
			return nil, errors.New(`missing "conn" parameter`)
		}
		db, err := sql.Open("postgres", conn)
		if err != nil {
			return nil, errors.Wrap(err, "opening db")
		}
		return New(ctx, db)
	})
}
