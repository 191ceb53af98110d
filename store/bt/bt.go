// Package bt implements a Store on Google Cloud Bigtable.
package bt

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/bigtable"
	"github.com/pkg/errors"
	"google.golang.org/api/option"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store       = &Store{}
	_ hashtree.Lister      = &Store{}
	_ hashtree.MultiGetter = &Store{}
)

// Store is a Google Cloud Bigtable-backed implementation of a Store.
// Each blob is a row keyed by "b:" and the hex of its hash.
type Store struct {
	t *bigtable.Table
}

const (
	blobcol = "blob"

	// Family is the column family that the table must have.
	Family = "blob"
)

// New produces a new Store.
func New(t *bigtable.Table) *Store {
	return &Store{t: t}
}

func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	row, err := s.t.ReadRow(ctx, blobKey(h), bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return nil, errors.Wrapf(err, "reading row %s", h)
	}
	return blobFromRow(row)
}

func blobFromRow(row bigtable.Row) ([]byte, error) {
	items := row[Family]
	if len(items) == 0 {
		return nil, hashtree.ErrNotFound
	}
	if items[0].Value == nil {
		return []byte{}, nil
	}
	return items[0].Value, nil
}

// GetMulti gets many blobs in a single ReadRows call.
func (s *Store) GetMulti(ctx context.Context, hashes []hashtree.Hash) (map[hashtree.Hash][]byte, error) {
	rowKeys := make(bigtable.RowList, len(hashes))
	for i, h := range hashes {
		rowKeys[i] = blobKey(h)
	}

	result := make(map[hashtree.Hash][]byte)
	var innerErr error
	err := s.t.ReadRows(ctx, rowKeys, func(row bigtable.Row) bool {
		h, err := hashFromKey(row.Key())
		if err != nil {
			innerErr = err
			return false
		}
		if b, err := blobFromRow(row); err == nil {
			result[h] = b
		}
		return true
	}, bigtable.RowFilter(bigtable.LatestNFilter(1)))
	if err != nil {
		return result, err
	}
	if innerErr != nil {
		return result, innerErr
	}

	var errmap hashtree.MultiErr
	for _, h := range hashes {
		if _, ok := result[h]; !ok {
			if errmap == nil {
				errmap = make(hashtree.MultiErr)
			}
			errmap[h] = hashtree.ErrNotFound
		}
	}
	if errmap != nil {
		return result, errmap
	}
	return result, nil
}

func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	row, err := s.t.ReadRow(ctx, blobKey(h), bigtable.RowFilter(bigtable.ChainFilters(
		bigtable.LatestNFilter(1),
		bigtable.StripValueFilter(),
	)))
	if err != nil {
		return false, errors.Wrapf(err, "reading row %s", h)
	}
	return len(row[Family]) > 0, nil
}

// ListRefs produces all blob hashes in the table, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	var innerErr error
	rowFn := func(row bigtable.Row) bool {
		key := row.Key()
		h, err := hashFromKey(key)
		if err != nil {
			innerErr = errors.Wrapf(err, "extracting hash from key %s", key)
			return false
		}
		if err = f(h); err != nil {
			innerErr = err
			return false
		}
		return true
	}
	// Every key has the same length, so appending a character skips exactly the start key.
	startKey := blobKey(start) + "0"
	filter := bigtable.ChainFilters(bigtable.LatestNFilter(1), bigtable.StripValueFilter())
	err := s.t.ReadRows(ctx, bigtable.NewRange(startKey, "c:"), rowFn, bigtable.RowFilter(filter))
	if err != nil {
		return err
	}
	return innerErr
}

// Put stores data under h unless a row for h already exists.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	mut := bigtable.NewMutation()
	mut.Set(Family, blobcol, bigtable.Now(), data)

	cmut := bigtable.NewCondMutation(bigtable.LatestNFilter(1), nil, mut)

	var alreadyPresent bool
	err := s.t.Apply(ctx, blobKey(h), cmut, bigtable.GetCondMutationResult(&alreadyPresent))
	return !alreadyPresent, err
}

func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	mut := bigtable.NewMutation()
	mut.DeleteRow()

	cmut := bigtable.NewCondMutation(bigtable.LatestNFilter(1), mut, nil)

	var present bool
	err := s.t.Apply(ctx, blobKey(h), cmut, bigtable.GetCondMutationResult(&present))
	return present, err
}

func blobKey(h hashtree.Hash) string {
	return fmt.Sprintf("b:%x", h[:])
}

func hashFromKey(key string) (hashtree.Hash, error) {
	if !strings.HasPrefix(key, "b:") {
		return hashtree.Zero, fmt.Errorf("malformed key %s", key)
	}
	return hashtree.HashFromHex(key[2:])
}

func init() {
	store.Register("bt", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		project, ok := conf["project"].(string)
		if !ok {
			return nil, errors.New(`missing "project" parameter`)
		}
		instance, ok := conf["instance"].(string)
		if !ok {
			return nil, errors.New(`missing "instance" parameter`)
		}
		table, ok := conf["table"].(string)
		if !ok {
			return nil, errors.New(`missing "table" parameter`)
		}

		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := bigtable.NewClient(ctx, project, instance, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating bigtable client")
		}
		return New(c.Open(table)), nil
	})
}
