package tree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/chk"
)

// ErrNotDir is returned when a directory operation is applied to something else.
var ErrNotDir = errors.New("not a directory")

// putBytes stores plaintext, encrypting it first if encrypt is true.
func putBytes(ctx context.Context, s hashtree.Store, plaintext []byte, encrypt bool) (hashtree.CID, error) {
	if !encrypt {
		h, _, err := hashtree.Put(ctx, s, plaintext)
		return hashtree.CID{Hash: h}, err
	}
	ciphertext, key, err := chk.Encrypt(plaintext)
	if err != nil {
		return hashtree.CID{}, errors.Wrap(err, "encrypting")
	}
	h, _, err := hashtree.Put(ctx, s, ciphertext)
	return hashtree.CID{Hash: h, Key: &key}, err
}

// putNode encodes and stores n.
// The result is a link to n with no name.
func putNode(ctx context.Context, s hashtree.Store, n *hashtree.TreeNode, encrypt bool) (hashtree.Link, error) {
	enc, err := hashtree.Encode(n)
	if err != nil {
		return hashtree.Link{}, errors.Wrap(err, "encoding node")
	}
	c, err := putBytes(ctx, s, enc, encrypt)
	if err != nil {
		return hashtree.Link{}, err
	}
	return hashtree.Link{
		Hash: c.Hash,
		Key:  c.Key,
		Size: n.TotalSize,
		Type: n.Type.LinkType(),
	}, nil
}

// fetch gets the bytes for c,
// verifies them,
// and decrypts them if c has a key.
// It returns hashtree.ErrNotFound if g lacks c.Hash.
func fetch(ctx context.Context, g hashtree.Getter, c hashtree.CID) ([]byte, error) {
	data, err := g.Get(ctx, c.Hash)
	if err != nil {
		if errors.Is(err, hashtree.ErrNotFound) {
			return nil, hashtree.ErrNotFound
		}
		return nil, &hashtree.StorageError{Op: "get", Hash: c.Hash, Err: err}
	}
	return open(c, data)
}

// open verifies and decrypts data fetched for c.
func open(c hashtree.CID, data []byte) ([]byte, error) {
	if got := hashtree.Sum(data); got != c.Hash {
		return nil, &hashtree.StorageError{Op: "get", Hash: c.Hash, Err: errors.Errorf("content hashes to %s", got)}
	}
	if c.Key == nil {
		return data, nil
	}
	return chk.Decrypt(data, *c.Key)
}

// fetchChild is fetch for a hash that a tree refers to,
// whose absence is a MissingChunkError.
func fetchChild(ctx context.Context, g hashtree.Getter, l hashtree.Link) ([]byte, error) {
	data, err := fetch(ctx, g, l.CID())
	if errors.Is(err, hashtree.ErrNotFound) {
		return nil, &hashtree.MissingChunkError{Hash: l.Hash}
	}
	return data, err
}

// fetchLinks gets the children of a node concurrently,
// returning their plaintexts in link order.
func fetchLinks(ctx context.Context, g hashtree.Getter, links []hashtree.Link, conc int) ([][]byte, error) {
	var (
		hashes = make([]hashtree.Hash, 0, len(links))
		seen   = make(map[hashtree.Hash]bool)
	)
	for _, l := range links {
		if !seen[l.Hash] {
			seen[l.Hash] = true
			hashes = append(hashes, l.Hash)
		}
	}
	blobs, err := hashtree.GetMulti(ctx, g, hashes, conc)
	var merr hashtree.MultiErr
	if err != nil && !errors.As(err, &merr) {
		return nil, err
	}
	out := make([][]byte, len(links))
	for i, l := range links {
		if e, ok := merr[l.Hash]; ok {
			if errors.Is(e, hashtree.ErrNotFound) {
				return nil, &hashtree.MissingChunkError{Hash: l.Hash}
			}
			return nil, &hashtree.StorageError{Op: "get", Hash: l.Hash, Err: e}
		}
		data, ok := blobs[l.Hash]
		if !ok {
			return nil, &hashtree.MissingChunkError{Hash: l.Hash}
		}
		if out[i], err = open(l.CID(), data); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// decodeNode decodes the plaintext of a link of type File or Dir.
func decodeNode(l hashtree.Link, data []byte) (*hashtree.TreeNode, error) {
	n, err := hashtree.Decode(data)
	if err != nil {
		return nil, errors.Wrapf(err, "node %s", l.Hash)
	}
	if l.Type == hashtree.LinkFile && n.Type != hashtree.NodeFile {
		return nil, errors.Errorf("node %s: file link to a directory node", l.Hash)
	}
	if n.TotalSize != l.Size {
		return nil, errors.Errorf("node %s: size %d, link says %d", l.Hash, n.TotalSize, l.Size)
	}
	return n, nil
}
