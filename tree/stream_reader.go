package tree

import (
	"context"
	"io"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// Reader streams the content of a file from a given offset,
// one chunk at a time,
// fetching up to a fixed number of chunks ahead of the consumer.
// Chunks are always delivered in order,
// whatever order their fetches complete in.
//
// A Reader is not restartable.
// Reading the same file again requires a new Reader.
type Reader struct {
	ctx      context.Context
	cancel   context.CancelFunc
	g        hashtree.Getter
	prefetch int
	skip     uint64

	// Nodes being traversed, innermost last.
	stack []frame

	// Fetches in flight, in content order.
	queue []chan fetchResult

	// Unconsumed part of the current chunk, for Read.
	cur []byte

	err error
}

type frame struct {
	links []hashtree.Link
	i     int
}

type fetchResult struct {
	data []byte
	err  error
}

// NewReader produces a Reader for the file at c starting at offset.
// Up to prefetch chunk fetches are kept in flight
// (at least one).
// The Reader's resources are released by Close
// or by reaching the end of the content.
func NewReader(ctx context.Context, g hashtree.Getter, c hashtree.CID, offset uint64, prefetch int) (*Reader, error) {
	if prefetch < 1 {
		prefetch = 1
	}
	data, err := fetch(ctx, g, c)
	if errors.Is(err, hashtree.ErrNotFound) {
		return nil, &hashtree.MissingChunkError{Hash: c.Hash}
	}
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	r := &Reader{
		ctx:      ctx,
		cancel:   cancel,
		g:        g,
		prefetch: prefetch,
		skip:     offset,
	}

	n, err := hashtree.Decode(data)
	if err != nil || n.Type != hashtree.NodeFile {
		// A single chunk, already fetched.
		if offset > uint64(len(data)) {
			offset = uint64(len(data))
		}
		ch := make(chan fetchResult, 1)
		ch <- fetchResult{data: data[offset:]}
		r.queue = append(r.queue, ch)
		r.skip = 0
		return r, nil
	}

	r.stack = []frame{{links: n.Links}}
	return r, nil
}

// Next returns the next chunk of content.
// It returns io.EOF after the last one.
func (r *Reader) Next() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	for {
		if err := r.fill(); err != nil {
			r.fail(err)
			return nil, err
		}
		if len(r.queue) == 0 {
			r.fail(io.EOF)
			return nil, io.EOF
		}
		ch := r.queue[0]
		r.queue = r.queue[1:]

		var res fetchResult
		select {
		case <-r.ctx.Done():
			res.err = r.ctx.Err()
		case res = <-ch:
		}
		if res.err != nil {
			r.fail(res.err)
			return nil, res.err
		}
		if len(res.data) > 0 {
			return res.data, nil
		}
	}
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	for len(r.cur) == 0 {
		chunk, err := r.Next()
		if err != nil {
			return 0, err
		}
		r.cur = chunk
	}
	n := copy(p, r.cur)
	r.cur = r.cur[n:]
	return n, nil
}

// Close releases the Reader's resources,
// abandoning any fetches in flight.
func (r *Reader) Close() error {
	r.fail(errors.New("reader closed"))
	return nil
}

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.cancel()
}

// fill starts fetches until prefetch of them are in flight
// or there are no more chunks.
// Interior nodes are fetched synchronously as the traversal reaches them.
func (r *Reader) fill() error {
	for len(r.queue) < r.prefetch {
		l, trim, ok, err := r.nextLeaf()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		ch := make(chan fetchResult, 1)
		go func() {
			data, err := fetchChild(r.ctx, r.g, l)
			if err == nil && uint64(len(data)) != l.Size {
				err = errors.Errorf("chunk %s has %d bytes, link says %d", l.Hash, len(data), l.Size)
			}
			if err == nil {
				data = data[trim:]
			}
			ch <- fetchResult{data: data, err: err}
		}()
		r.queue = append(r.queue, ch)
	}
	return nil
}

// nextLeaf advances the traversal to the next chunk that is not wholly skipped.
// It returns the chunk's link and the number of its leading bytes to skip.
func (r *Reader) nextLeaf() (hashtree.Link, uint64, bool, error) {
	for len(r.stack) > 0 {
		top := &r.stack[len(r.stack)-1]
		if top.i >= len(top.links) {
			r.stack = r.stack[:len(r.stack)-1]
			continue
		}
		l := top.links[top.i]
		top.i++

		if r.skip >= l.Size {
			r.skip -= l.Size
			continue
		}

		switch l.Type {
		case hashtree.LinkBlob:
			trim := r.skip
			r.skip = 0
			return l, trim, true, nil

		case hashtree.LinkFile:
			data, err := fetchChild(r.ctx, r.g, l)
			if err != nil {
				return l, 0, false, err
			}
			n, err := decodeNode(l, data)
			if err != nil {
				return l, 0, false, err
			}
			r.stack = append(r.stack, frame{links: n.Links})

		default:
			return l, 0, false, errors.Errorf("unexpected %s link %s in file", l.Type, l.Hash)
		}
	}
	return hashtree.Link{}, 0, false, nil
}
