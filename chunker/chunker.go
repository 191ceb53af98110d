// Package chunker splits byte streams into chunks for the tree builder.
package chunker

import (
	"io"

	boxochunker "github.com/ipfs/boxo/chunker"
)

const (
	// DefaultChunkSize is the chunk size for general files.
	DefaultChunkSize = 2 << 20

	// BEP52ChunkSize is the chunk size of BitTorrent v2 piece layers.
	// Use it when trees must line up with BEP 52 merkle trees.
	BEP52ChunkSize = 16 << 10
)

// Splitter produces the successive chunks of a stream.
// NextBytes returns io.EOF after the last chunk.
// This is the NextBytes half of boxo's chunker.Splitter,
// so those splitters satisfy it directly.
type Splitter interface {
	NextBytes() ([]byte, error)
}

// Factory creates a Splitter for a stream.
// The builder uses it to choose a chunking strategy.
type Factory func(r io.Reader) Splitter

// Fixed produces chunks of exactly size bytes,
// except possibly the last.
func Fixed(size int) Factory {
	return func(r io.Reader) Splitter {
		return boxochunker.NewSizeSplitter(r, int64(size))
	}
}

// Buzhash produces content-defined chunks
// using boxo's buzhash rolling checksum.
func Buzhash() Factory {
	return func(r io.Reader) Splitter {
		return boxochunker.NewBuzhash(r)
	}
}

// Bounded re-splits any chunk from s that is longer than max,
// so that no chunk exceeds max bytes.
func Bounded(s Splitter, max int) Splitter {
	return &bounded{s: s, max: max}
}

type bounded struct {
	s    Splitter
	max  int
	rest []byte
}

func (b *bounded) NextBytes() ([]byte, error) {
	if len(b.rest) == 0 {
		chunk, err := b.s.NextBytes()
		if err != nil {
			return nil, err
		}
		b.rest = chunk
	}
	n := len(b.rest)
	if n > b.max {
		n = b.max
	}
	chunk := b.rest[:n:n]
	b.rest = b.rest[n:]
	return chunk, nil
}

// All collects every chunk of s.
func All(s Splitter) ([][]byte, error) {
	var chunks [][]byte
	for {
		chunk, err := s.NextBytes()
		if err == io.EOF {
			return chunks, nil
		}
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
}
