package chunker

import (
	"io"

	"github.com/bobg/hashsplit"
	"github.com/pkg/errors"
)

// Hashsplit produces content-defined chunks
// using the rolling checksum of github.com/bobg/hashsplit.
// A chunk boundary falls wherever the low bits of the checksum are all zero,
// and no chunk (except the last) is shorter than minSize.
// Zero values select the package defaults.
func Hashsplit(minSize int, bits uint) Factory {
	return func(r io.Reader) Splitter {
		h := &hashsplitter{r: r, buf: make([]byte, 64<<10)}
		h.spl = hashsplit.NewSplitter(func(chunk []byte, _ uint) error {
			if len(chunk) == 0 {
				return nil
			}
			h.queue = append(h.queue, append([]byte(nil), chunk...))
			return nil
		})
		if minSize > 0 {
			h.spl.MinSize = minSize
		}
		if bits > 0 {
			h.spl.SplitBits = bits
		}
		return h
	}
}

// hashsplitter adapts the push-style hashsplit.Splitter
// to the pull-style Splitter interface.
type hashsplitter struct {
	r     io.Reader
	buf   []byte
	spl   *hashsplit.Splitter
	queue [][]byte
	done  bool
}

func (h *hashsplitter) NextBytes() ([]byte, error) {
	for len(h.queue) == 0 {
		if h.done {
			return nil, io.EOF
		}
		n, err := h.r.Read(h.buf)
		if n > 0 {
			if _, werr := h.spl.Write(h.buf[:n]); werr != nil {
				return nil, errors.Wrap(werr, "splitting input")
			}
		}
		if err == io.EOF {
			h.done = true
			if err := h.spl.Close(); err != nil {
				return nil, errors.Wrap(err, "flushing splitter")
			}
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "reading input")
		}
	}
	chunk := h.queue[0]
	h.queue = h.queue[1:]
	return chunk, nil
}
