package tree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// GetTreeNode gets the tree node at c.
// It returns false if c is not in g,
// or if it is a blob rather than a node.
func GetTreeNode(ctx context.Context, g hashtree.Getter, c hashtree.CID) (*hashtree.TreeNode, bool, error) {
	data, err := fetch(ctx, g, c)
	if errors.Is(err, hashtree.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	n, err := hashtree.Decode(data)
	if err != nil {
		return nil, false, nil
	}
	return n, true, nil
}

// ReadFile reads the whole content of the file at c.
// It returns false if c is not in g.
// Any missing chunk below the root is a *hashtree.MissingChunkError.
//
// A root that is not a File node is returned as-is,
// so reading a directory produces its encoding.
func ReadFile(ctx context.Context, g hashtree.Getter, c hashtree.CID, opts ...Option) ([]byte, bool, error) {
	conf := newConfig(opts)
	data, err := fetch(ctx, g, c)
	if errors.Is(err, hashtree.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	n, err := hashtree.Decode(data)
	if err != nil || n.Type != hashtree.NodeFile {
		return data, true, nil
	}
	content, err := readLinks(ctx, g, n.Links, conf.concurrency)
	return content, err == nil, err
}

// FileSize tells the size of the content at c
// without reading more than its root.
func FileSize(ctx context.Context, g hashtree.Getter, c hashtree.CID) (uint64, error) {
	data, err := fetch(ctx, g, c)
	if errors.Is(err, hashtree.ErrNotFound) {
		return 0, &hashtree.MissingChunkError{Hash: c.Hash}
	}
	if err != nil {
		return 0, err
	}
	if n, err := hashtree.Decode(data); err == nil && n.Type == hashtree.NodeFile {
		return n.TotalSize, nil
	}
	return uint64(len(data)), nil
}

// readLinks reads and concatenates the content under the links of a File node.
// The children of each node are fetched concurrently.
func readLinks(ctx context.Context, g hashtree.Getter, links []hashtree.Link, conc int) ([]byte, error) {
	datas, err := fetchLinks(ctx, g, links, conc)
	if err != nil {
		return nil, err
	}

	var total uint64
	for _, l := range links {
		total += l.Size
	}
	out := make([]byte, 0, total)

	for i, l := range links {
		data := datas[i]
		switch l.Type {
		case hashtree.LinkBlob:
			if uint64(len(data)) != l.Size {
				return nil, errors.Errorf("chunk %s has %d bytes, link says %d", l.Hash, len(data), l.Size)
			}
			out = append(out, data...)

		case hashtree.LinkFile:
			n, err := decodeNode(l, data)
			if err != nil {
				return nil, err
			}
			sub, err := readLinks(ctx, g, n.Links, conc)
			if err != nil {
				return nil, err
			}
			out = append(out, sub...)

		default:
			return nil, errors.Errorf("unexpected %s link %s in file", l.Type, l.Hash)
		}
	}
	return out, nil
}
