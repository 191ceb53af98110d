package tree

import (
	"context"
	"path"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// SkipDir may be returned by a Walk callback for a directory entry
// to skip the directory's contents.
var SkipDir = errors.New("skip this directory")

// WalkEntry is one item visited by Walk.
type WalkEntry struct {
	// Path is the slash-separated path from the root.
	// It is empty for the root itself.
	Path string

	CID  hashtree.CID
	Type hashtree.LinkType
	Size uint64
}

// Walk visits root and, if it is a directory, everything beneath it,
// depth first.
// A directory is visited before its entries,
// and entries are visited in name order.
// Files are visited but not descended into.
func Walk(ctx context.Context, g hashtree.Getter, root hashtree.CID, f func(WalkEntry) error, opts ...Option) error {
	conf := newConfig(opts)

	dir, err := loadDir(ctx, g, root, conf.concurrency)
	if errors.Is(err, ErrNotDir) {
		size, err := FileSize(ctx, g, root)
		if err != nil {
			return err
		}
		typ := hashtree.LinkBlob
		if n, ok, err := GetTreeNode(ctx, g, root); err != nil {
			return err
		} else if ok && n.Type == hashtree.NodeFile {
			typ = hashtree.LinkFile
		}
		return f(WalkEntry{CID: root, Type: typ, Size: size})
	}
	if err != nil {
		return err
	}

	err = f(WalkEntry{CID: root, Type: hashtree.LinkDir, Size: dir.TotalSize})
	if errors.Is(err, SkipDir) {
		return nil
	}
	if err != nil {
		return err
	}
	return walkDir(ctx, g, "", dir, f, conf)
}

func walkDir(ctx context.Context, g hashtree.Getter, prefix string, dir *hashtree.TreeNode, f func(WalkEntry) error, conf *config) error {
	for _, l := range dir.Links {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := WalkEntry{
			Path: path.Join(prefix, l.Name),
			CID:  l.CID(),
			Type: l.Type,
			Size: l.Size,
		}
		err := f(e)
		if errors.Is(err, SkipDir) {
			continue
		}
		if err != nil {
			return err
		}
		if l.Type != hashtree.LinkDir {
			continue
		}
		sub, err := loadDir(ctx, g, l.CID(), conf.concurrency)
		if err != nil {
			return errors.Wrapf(err, "loading directory %s", e.Path)
		}
		if err := walkDir(ctx, g, e.Path, sub, f, conf); err != nil {
			return err
		}
	}
	return nil
}

// Refs calls f with every hash stored for the tree at root:
// the root, every interior node and every chunk,
// including the nodes and chunks of everything in a directory tree.
// A hash shared by several parts of the tree is reported each time it is reached.
func Refs(ctx context.Context, g hashtree.Getter, root hashtree.CID, f func(hashtree.Hash) error, opts ...Option) error {
	conf := newConfig(opts)

	if err := f(root.Hash); err != nil {
		return err
	}
	data, err := fetch(ctx, g, root)
	if errors.Is(err, hashtree.ErrNotFound) {
		return &hashtree.MissingChunkError{Hash: root.Hash}
	}
	if err != nil {
		return err
	}
	n, err := hashtree.Decode(data)
	if err != nil {
		// A blob.
		return nil
	}
	return refsNode(ctx, g, n, true, f, conf)
}

// refsNode reports the hashes beneath n.
// If maybeDir is true and n is a File node,
// n may be a chunked directory,
// whose entries are then reported too.
func refsNode(ctx context.Context, g hashtree.Getter, n *hashtree.TreeNode, maybeDir bool, f func(hashtree.Hash) error, conf *config) error {
	var nodeLinks []hashtree.Link
	for _, l := range n.Links {
		if err := f(l.Hash); err != nil {
			return err
		}
		if l.Type != hashtree.LinkBlob {
			nodeLinks = append(nodeLinks, l)
		}
	}
	if len(nodeLinks) > 0 {
		datas, err := fetchLinks(ctx, g, nodeLinks, conf.concurrency)
		if err != nil {
			return err
		}
		for i, l := range nodeLinks {
			sub, err := decodeNode(l, datas[i])
			if err != nil {
				return err
			}
			if err := refsNode(ctx, g, sub, l.Type == hashtree.LinkDir, f, conf); err != nil {
				return err
			}
		}
	}

	if !maybeDir || n.Type != hashtree.NodeFile {
		return nil
	}
	dir, ok, err := chunkedDir(ctx, g, n, conf.concurrency)
	if err != nil || !ok {
		return err
	}
	return refsNode(ctx, g, dir, false, f, conf)
}
