// Package fs moves directory trees between the local filesystem and a Store.
package fs

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/tree"
)

type devInoPair struct {
	dev, ino uint64
}

// Add stores the file or directory at path in s.
// If path is a directory,
// this is recursive.
// The result is an entry, named for the last element of path,
// suitable for adding to a parent directory.
//
// Symlinks are skipped.
// Hard links to the same file are stored once.
func Add(ctx context.Context, s hashtree.Store, path string, opts ...tree.Option) (tree.DirEntry, error) {
	e, _, err := add(ctx, s, path, opts, map[devInoPair]tree.DirEntry{})
	return e, err
}

func add(ctx context.Context, s hashtree.Store, path string, opts []tree.Option, seen map[devInoPair]tree.DirEntry) (tree.DirEntry, bool, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return tree.DirEntry{}, false, errors.Wrapf(err, "statting %s", path)
	}

	name := info.Name()
	mode := info.Mode()

	if mode.IsDir() {
		e, err := addDir(ctx, s, path, opts, seen)
		e.Name = name
		return e, true, err
	}

	if mode&os.ModeSymlink != 0 {
		return tree.DirEntry{}, false, nil
	}

	if mode&os.ModeType != 0 {
		return tree.DirEntry{}, false, errors.Errorf("unsupported file type 0%o for %s", mode&os.ModeType, path)
	}

	var diPair devInoPair
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		diPair = devInoPair{dev: uint64(st.Dev), ino: uint64(st.Ino)}
		if e, ok := seen[diPair]; ok {
			e.Name = name
			return e, true, nil
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return tree.DirEntry{}, false, errors.Wrapf(err, "opening %s", path)
	}
	defer f.Close()

	c, size, err := tree.PutReader(ctx, s, f, opts...)
	if err != nil {
		return tree.DirEntry{}, false, errors.Wrapf(err, "storing %s", path)
	}
	e, err := tree.FileEntry(ctx, s, name, c, size)
	if err != nil {
		return tree.DirEntry{}, false, err
	}

	if diPair != (devInoPair{}) {
		seen[diPair] = e
	}
	return e, true, nil
}

func addDir(ctx context.Context, s hashtree.Store, path string, opts []tree.Option, seen map[devInoPair]tree.DirEntry) (tree.DirEntry, error) {
	dirents, err := os.ReadDir(path)
	if err != nil {
		return tree.DirEntry{}, errors.Wrapf(err, "reading dir %s", path)
	}

	var entries []tree.DirEntry
	for _, dirent := range dirents {
		e, ok, err := add(ctx, s, filepath.Join(path, dirent.Name()), opts, seen)
		if err != nil {
			return tree.DirEntry{}, err
		}
		if ok {
			entries = append(entries, e)
		}
	}

	c, size, err := tree.PutDirectory(ctx, s, entries, opts...)
	if err != nil {
		return tree.DirEntry{}, errors.Wrapf(err, "storing dir %s", path)
	}
	return tree.DirEntry{CID: c, Size: size, Type: hashtree.LinkDir}, nil
}

// Extract writes the tree at root into the local filesystem at path,
// which must not already exist.
// The root may be a directory or a file.
func Extract(ctx context.Context, g hashtree.Getter, root hashtree.CID, path string, opts ...tree.Option) error {
	links, err := tree.ListDirectory(ctx, g, root, opts...)
	if errors.Is(err, tree.ErrNotDir) {
		return extractFile(ctx, g, root, path)
	}
	if err != nil {
		return errors.Wrapf(err, "listing %s", path)
	}
	return extractDir(ctx, g, links, path, opts)
}

func extractDir(ctx context.Context, g hashtree.Getter, links []hashtree.Link, path string, opts []tree.Option) error {
	if err := os.Mkdir(path, 0755); err != nil {
		return err
	}
	for _, l := range links {
		subpath := filepath.Join(path, l.Name)
		if l.Type != hashtree.LinkDir {
			if err := extractFile(ctx, g, l.CID(), subpath); err != nil {
				return err
			}
			continue
		}
		sublinks, err := tree.ListDirectory(ctx, g, l.CID(), opts...)
		if err != nil {
			return errors.Wrapf(err, "listing %s", subpath)
		}
		if err := extractDir(ctx, g, sublinks, subpath, opts); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(ctx context.Context, g hashtree.Getter, c hashtree.CID, path string) error {
	r, err := tree.NewReader(ctx, g, c, 0, tree.DefaultPrefetch)
	if err != nil {
		return errors.Wrapf(err, "reading %s", path)
	}
	defer r.Close()

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err = io.Copy(f, r); err != nil {
		f.Close()
		return errors.Wrapf(err, "writing %s", path)
	}
	return f.Close()
}
