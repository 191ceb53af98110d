package tree

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/chk"
)

// WriteAt overwrites the bytes of the file at root
// starting at offset with data,
// returning the root of the modified file.
// The file at root is unaffected.
//
// Only the chunks overlapping the written range,
// and the nodes above them,
// are rewritten.
// Every other link keeps its hash,
// so the old and new files share those subtrees.
//
// The new content is encrypted if and only if root has a key.
// The write may not extend the file:
// if offset+len(data) exceeds its size,
// the result is a *hashtree.BoundsError and nothing is stored.
func WriteAt(ctx context.Context, s hashtree.Store, root hashtree.CID, offset uint64, data []byte, opts ...Option) (hashtree.CID, error) {
	conf := newConfig(opts)
	encrypt := root.Encrypted()

	plain, err := fetch(ctx, s, root)
	if errors.Is(err, hashtree.ErrNotFound) {
		return hashtree.CID{}, &hashtree.MissingChunkError{Hash: root.Hash}
	}
	if err != nil {
		return hashtree.CID{}, err
	}

	n, err := hashtree.Decode(plain)
	isNode := err == nil && n.Type == hashtree.NodeFile

	size := uint64(len(plain))
	if isNode {
		size = n.TotalSize
	}
	length := uint64(len(data))
	if offset > size || length > size-offset {
		return hashtree.CID{}, &hashtree.BoundsError{Offset: offset, Length: length, Size: size}
	}
	if length == 0 {
		return root, nil
	}

	if !isNode {
		return putBytes(ctx, s, splice(plain, offset, data), encrypt)
	}

	links, err := patchLinks(ctx, s, n.Links, offset, data, encrypt, conf)
	if err != nil {
		return hashtree.CID{}, err
	}
	l, err := putNode(ctx, s, &hashtree.TreeNode{Type: hashtree.NodeFile, Links: links, TotalSize: n.TotalSize}, encrypt)
	return l.CID(), err
}

// patchLinks writes data at offset (relative to the first link)
// into the content under links,
// returning the new links.
// Links not overlapping the write are returned unchanged.
func patchLinks(ctx context.Context, s hashtree.Store, links []hashtree.Link, offset uint64, data []byte, encrypt bool, conf *config) ([]hashtree.Link, error) {
	var (
		out = make([]hashtree.Link, len(links))
		end = offset + uint64(len(data))
		off uint64
	)
	copy(out, links)

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(conf.concurrency)

	for i, l := range links {
		lstart, lend := off, off+l.Size
		off = lend
		if lend <= offset || lstart >= end {
			continue
		}

		// The part of data that falls within this link,
		// and where it goes within the link.
		var (
			pstart = max(offset, lstart)
			pend   = min(end, lend)
			sub    = data[pstart-offset : pend-offset]
			at     = pstart - lstart
		)

		eg.Go(func() error {
			newLink, err := patchLink(ctx, s, l, at, sub, encrypt, conf)
			out[i] = newLink
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func patchLink(ctx context.Context, s hashtree.Store, l hashtree.Link, at uint64, data []byte, encrypt bool, conf *config) (hashtree.Link, error) {
	stored, err := s.Get(ctx, l.Hash)
	if errors.Is(err, hashtree.ErrNotFound) {
		return l, &hashtree.MissingChunkError{Hash: l.Hash}
	}
	if err != nil {
		return l, &hashtree.StorageError{Op: "get", Hash: l.Hash, Err: err}
	}

	// Link sizes are plaintext sizes.
	// An encrypted child's stored bytes are longer by the cipher overhead.
	wantLen := l.Size
	if l.Key != nil {
		wantLen = chk.CipherSize(l.Size)
	}

	switch l.Type {
	case hashtree.LinkBlob:
		if uint64(len(stored)) != wantLen {
			return l, errors.Errorf("chunk %s has %d stored bytes, want %d", l.Hash, len(stored), wantLen)
		}
		plain, err := open(l.CID(), stored)
		if err != nil {
			return l, err
		}
		c, err := putBytes(ctx, s, splice(plain, at, data), encrypt)
		if err != nil {
			return l, err
		}
		l.Hash, l.Key = c.Hash, c.Key
		return l, nil

	case hashtree.LinkFile:
		plain, err := open(l.CID(), stored)
		if err != nil {
			return l, err
		}
		n, err := decodeNode(l, plain)
		if err != nil {
			return l, err
		}
		links, err := patchLinks(ctx, s, n.Links, at, data, encrypt, conf)
		if err != nil {
			return l, err
		}
		return putNode(ctx, s, &hashtree.TreeNode{Type: hashtree.NodeFile, Links: links, TotalSize: n.TotalSize}, encrypt)
	}

	return l, errors.Errorf("unexpected %s link %s in file", l.Type, l.Hash)
}

// splice returns a copy of b with data written at offset.
func splice(b []byte, offset uint64, data []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	copy(out[offset:], data)
	return out
}
