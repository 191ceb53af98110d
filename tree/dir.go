package tree

import (
	"bytes"
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// DirEntry is one named entry of a directory being built.
type DirEntry struct {
	Name string
	CID  hashtree.CID

	// Size is the size reported by PutFile, PutDirectory or Writer
	// for the entry's content.
	Size uint64

	// Type is LinkDir for subdirectories.
	// For files it is LinkFile when CID refers to a File node,
	// and LinkBlob when the file is a single chunk.
	Type hashtree.LinkType
}

// FileEntry makes a DirEntry for a file stored with PutFile or Writer.
// It fetches the root to learn whether it is a node or a single chunk.
func FileEntry(ctx context.Context, g hashtree.Getter, name string, c hashtree.CID, size uint64) (DirEntry, error) {
	n, ok, err := GetTreeNode(ctx, g, c)
	if err != nil {
		return DirEntry{}, err
	}
	e := DirEntry{Name: name, CID: c, Size: size, Type: hashtree.LinkBlob}
	if ok && n.Type == hashtree.NodeFile {
		e.Type = hashtree.LinkFile
	}
	return e, nil
}

// PutDirectory stores a directory with the given entries.
// Entry names must be unique and non-empty and may not contain a slash.
// Entries are sorted by name,
// so the result does not depend on their order.
//
// A directory whose encoding is larger than the chunk size,
// or that has more than MaxLinks entries,
// is stored by chunking its encoding through the file path.
// Readers detect this case by decoding the reassembled bytes.
func PutDirectory(ctx context.Context, s hashtree.Store, entries []DirEntry, opts ...Option) (hashtree.CID, uint64, error) {
	conf := newConfig(opts)

	links := make([]hashtree.Link, 0, len(entries))
	for _, e := range entries {
		if e.Name == "" || strings.Contains(e.Name, "/") {
			return hashtree.CID{}, 0, errors.Errorf("invalid entry name %q", e.Name)
		}
		links = append(links, hashtree.Link{
			Hash: e.CID.Hash,
			Key:  e.CID.Key,
			Name: e.Name,
			Size: e.Size,
			Type: e.Type,
		})
	}
	sort.Slice(links, func(i, j int) bool { return links[i].Name < links[j].Name })
	for i := 1; i < len(links); i++ {
		if links[i].Name == links[i-1].Name {
			return hashtree.CID{}, 0, errors.Errorf("duplicate entry name %q", links[i].Name)
		}
	}

	n := &hashtree.TreeNode{
		Type:     hashtree.NodeDir,
		Links:    links,
		Metadata: conf.metadata,
	}
	n.TotalSize = n.LinksSize()

	enc, err := hashtree.Encode(n)
	if err != nil {
		return hashtree.CID{}, 0, errors.Wrap(err, "encoding directory")
	}

	if len(enc) <= conf.chunkSize && len(links) <= conf.maxLinks {
		c, err := putBytes(ctx, s, enc, conf.encrypt)
		return c, n.TotalSize, err
	}

	// Chunk the encoding.
	// It must come out as at least two chunks,
	// or the single chunk would be a Dir node exceeding the fanout limit.
	chunkSize := conf.chunkSize
	if len(enc) <= chunkSize {
		chunkSize = (len(enc) + 1) / 2
	}
	var chunkLinks []hashtree.Link
	for off := 0; off < len(enc); off += chunkSize {
		end := off + chunkSize
		if end > len(enc) {
			end = len(enc)
		}
		c, err := putBytes(ctx, s, enc[off:end], conf.encrypt)
		if err != nil {
			return hashtree.CID{}, 0, err
		}
		chunkLinks = append(chunkLinks, hashtree.Link{Hash: c.Hash, Key: c.Key, Size: uint64(end - off)})
	}
	root, err := buildTree(ctx, s, chunkLinks, conf)
	return root.CID(), root.Size, err
}

// loadDir gets the Dir node for c,
// which is either stored directly
// or chunked as a file whose content decodes as a Dir node.
// It returns ErrNotDir if c is something else.
func loadDir(ctx context.Context, g hashtree.Getter, c hashtree.CID, conc int) (*hashtree.TreeNode, error) {
	data, err := fetch(ctx, g, c)
	if errors.Is(err, hashtree.ErrNotFound) {
		return nil, &hashtree.MissingChunkError{Hash: c.Hash}
	}
	if err != nil {
		return nil, err
	}
	n, err := hashtree.Decode(data)
	if err != nil {
		return nil, ErrNotDir
	}
	if n.Type == hashtree.NodeDir {
		return n, nil
	}

	dir, ok, err := chunkedDir(ctx, g, n, conc)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotDir
	}
	return dir, nil
}

// dirPrefix begins the encoding of every Dir node.
var dirPrefix = []byte{0x08, byte(hashtree.NodeDir)}

// chunkedDir tells whether the content of File node n decodes as a Dir node,
// and if so returns it.
// Only the first chunk is read when the answer is no.
//
// An ordinary file whose content happens to be a valid Dir encoding
// is indistinguishable from a chunked directory.
func chunkedDir(ctx context.Context, g hashtree.Getter, n *hashtree.TreeNode, conc int) (*hashtree.TreeNode, bool, error) {
	links := n.Links
	for len(links) > 0 {
		l := links[0]
		data, err := fetchChild(ctx, g, l)
		if err != nil {
			return nil, false, err
		}
		if l.Type == hashtree.LinkBlob {
			if !bytes.HasPrefix(data, dirPrefix) {
				return nil, false, nil
			}
			break
		}
		sub, err := decodeNode(l, data)
		if err != nil {
			return nil, false, err
		}
		links = sub.Links
	}
	content, err := readLinks(ctx, g, n.Links, conc)
	if err != nil {
		return nil, false, err
	}
	dir, err := hashtree.Decode(content)
	if err != nil || dir.Type != hashtree.NodeDir {
		return nil, false, nil
	}
	return dir, true, nil
}

// ListDirectory returns the entries of the directory at c,
// sorted by name.
func ListDirectory(ctx context.Context, g hashtree.Getter, c hashtree.CID, opts ...Option) ([]hashtree.Link, error) {
	conf := newConfig(opts)
	n, err := loadDir(ctx, g, c, conf.concurrency)
	if err != nil {
		return nil, err
	}
	return n.Links, nil
}

// ResolvePath follows a slash-separated path of entry names from the directory at root.
// Empty path elements are ignored,
// so "" and "/" both resolve to root itself.
// It returns false if some element of the path does not exist
// or names an entry in something other than a directory.
func ResolvePath(ctx context.Context, g hashtree.Getter, root hashtree.CID, path string, opts ...Option) (hashtree.CID, bool, error) {
	conf := newConfig(opts)
	cur := root
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		n, err := loadDir(ctx, g, cur, conf.concurrency)
		if errors.Is(err, ErrNotDir) {
			return hashtree.CID{}, false, nil
		}
		if err != nil {
			return hashtree.CID{}, false, err
		}
		l, ok := findEntry(n, name)
		if !ok {
			return hashtree.CID{}, false, nil
		}
		cur = l.CID()
	}
	return cur, true, nil
}

func findEntry(n *hashtree.TreeNode, name string) (hashtree.Link, bool) {
	i := sort.Search(len(n.Links), func(i int) bool { return n.Links[i].Name >= name })
	if i < len(n.Links) && n.Links[i].Name == name {
		return n.Links[i], true
	}
	return hashtree.Link{}, false
}
