// Package file implements a Store as a file hierarchy.
package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/google/renameio"
	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store is a file-based implementation of a Store.
// The data for hash h is in root/h[:2]/h[:4]/h, with h in hex.
type Store struct {
	root string
}

// New produces a new Store storing data beneath root.
func New(root string) *Store {
	return &Store{root: root}
}

func (s *Store) path(h hashtree.Hash) string {
	hex := h.String()
	return filepath.Join(s.root, hex[:2], hex[:4], hex)
}

// Get gets the data with hash h.
func (s *Store) Get(_ context.Context, h hashtree.Hash) ([]byte, error) {
	path := s.path(h)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, hashtree.ErrNotFound
	}
	return data, errors.Wrapf(err, "reading %s", path)
}

// Has tells whether h is present.
func (s *Store) Has(_ context.Context, h hashtree.Hash) (bool, error) {
	_, err := os.Stat(s.path(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	return err == nil, err
}

// Put adds data to the store if it wasn't already present.
// The file appears complete or not at all.
func (s *Store) Put(_ context.Context, h hashtree.Hash, data []byte) (bool, error) {
	var (
		path = s.path(h)
		dir  = filepath.Dir(path)
	)

	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return false, errors.Wrapf(err, "ensuring path %s exists", dir)
	}

	pf, err := renameio.TempFile(dir, path)
	if err != nil {
		return false, errors.Wrapf(err, "creating temp file for %s", path)
	}
	defer pf.Cleanup()

	if _, err := pf.Write(data); err != nil {
		return false, errors.Wrapf(err, "writing data for %s", path)
	}
	if err := pf.Sync(); err != nil {
		return false, errors.Wrapf(err, "syncing data for %s", path)
	}

	// Linking, unlike renaming, fails if another Put got there first.
	err = os.Link(pf.Name(), path)
	if os.IsExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "linking %s", path)
	}
	return true, nil
}

// Delete removes the data with hash h.
func (s *Store) Delete(_ context.Context, h hashtree.Hash) (bool, error) {
	err := os.Remove(s.path(h))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "removing %s", h)
	}
	return true, nil
}

// ListRefs produces all hashes in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	topLevel, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading dir %s", s.root)
	}

	startHex := start.String()
	topIndex := sort.Search(len(topLevel), func(n int) bool {
		return topLevel[n].Name() >= startHex[:2]
	})
	for i := topIndex; i < len(topLevel); i++ {
		topName := topLevel[i].Name()
		if !topLevel[i].IsDir() || !isHex(topName, 2) {
			continue
		}

		midLevel, err := os.ReadDir(filepath.Join(s.root, topName))
		if err != nil {
			return errors.Wrapf(err, "reading dir %s/%s", s.root, topName)
		}
		midIndex := sort.Search(len(midLevel), func(n int) bool {
			return midLevel[n].Name() >= startHex[:4]
		})
		for j := midIndex; j < len(midLevel); j++ {
			midName := midLevel[j].Name()
			if !midLevel[j].IsDir() || !isHex(midName, 4) {
				continue
			}

			entries, err := os.ReadDir(filepath.Join(s.root, topName, midName))
			if err != nil {
				return errors.Wrapf(err, "reading dir %s/%s/%s", s.root, topName, midName)
			}
			index := sort.Search(len(entries), func(n int) bool {
				return entries[n].Name() > startHex
			})
			for k := index; k < len(entries); k++ {
				if entries[k].IsDir() {
					continue
				}
				h, err := hashtree.HashFromHex(entries[k].Name())
				if err != nil {
					// Probably a temp file.
					continue
				}
				if err := f(h); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func isHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	_, err := strconv.ParseUint(s, 16, 64)
	return err == nil
}

func init() {
	store.Register("file", func(_ context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		root, ok := conf["root"].(string)
		if !ok {
			return nil, errors.New(`missing "root" parameter`)
		}
		return New(root), nil
	})
}
