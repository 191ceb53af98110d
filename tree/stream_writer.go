package tree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// Writer is an io.WriteCloser that builds a tree from a stream of appends.
// Full chunks are stored as soon as they are complete.
// The CID of the tree root is available as Writer.Root after a call to Close.
//
// Calls to Append, Write, CurrentRoot and Close must not be concurrent.
type Writer struct {
	Ctx  context.Context
	Root hashtree.CID // populated by Close
	Size uint64       // populated by Close

	s      hashtree.Store
	conf   *config
	buf    []byte
	links  []hashtree.Link
	closed bool
}

// NewWriter produces a new Writer writing to the given store.
// The given context object is stored in the Writer and used in subsequent calls to Write and Close.
// This is an antipattern but acceptable when an object must adhere to a context-free stdlib interface
// (https://github.com/golang/go/wiki/CodeReviewComments#contexts).
// Callers may replace the context object during the lifetime of the Writer as needed.
//
// A Writer always uses fixed-size chunks,
// so its result equals that of PutFile on the same bytes with the default chunker.
func NewWriter(ctx context.Context, s hashtree.Store, opts ...Option) *Writer {
	return &Writer{
		Ctx:  ctx,
		s:    s,
		conf: newConfig(opts),
	}
}

// Append adds data to the end of the stream.
func (w *Writer) Append(data []byte) error {
	if w.closed {
		return errors.New("append to closed writer")
	}
	w.buf = append(w.buf, data...)

	var (
		off int
		err error
	)
	for len(w.buf)-off >= w.conf.chunkSize {
		if err = w.flushChunk(w.buf[off : off+w.conf.chunkSize]); err != nil {
			break
		}
		off += w.conf.chunkSize
	}
	if off > 0 {
		w.buf = append([]byte(nil), w.buf[off:]...)
	}
	return err
}

func (w *Writer) flushChunk(chunk []byte) error {
	c, err := putBytes(w.Ctx, w.s, chunk, w.conf.encrypt)
	if err != nil {
		return err
	}
	w.links = append(w.links, hashtree.Link{Hash: c.Hash, Key: c.Key, Size: uint64(len(chunk))})
	return nil
}

// Write implements io.Writer.
func (w *Writer) Write(inp []byte) (int, error) {
	if err := w.Append(inp); err != nil {
		return 0, err
	}
	return len(inp), nil
}

// CurrentRoot stores a tree for everything appended so far
// and returns its root and size.
// Later appends are unaffected.
func (w *Writer) CurrentRoot() (hashtree.CID, uint64, error) {
	links := append([]hashtree.Link(nil), w.links...)
	if len(w.buf) > 0 {
		c, err := putBytes(w.Ctx, w.s, w.buf, w.conf.encrypt)
		if err != nil {
			return hashtree.CID{}, 0, err
		}
		links = append(links, hashtree.Link{Hash: c.Hash, Key: c.Key, Size: uint64(len(w.buf))})
	}
	root, err := buildTree(w.Ctx, w.s, links, w.conf)
	return root.CID(), root.Size, err
}

// Close implements io.Closer.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	root, size, err := w.CurrentRoot()
	if err != nil {
		return err
	}
	w.Root, w.Size = root, size
	w.closed = true
	w.buf, w.links = nil, nil
	return nil
}
