package tree

import (
	"github.com/bobg/hashtree/chunker"
)

const (
	// DefaultMaxLinks is the default fanout limit of tree nodes.
	DefaultMaxLinks = 174

	// DefaultConcurrency is the default number of chunks
	// hashed, encrypted, stored or fetched at once.
	DefaultConcurrency = 8

	// DefaultPrefetch is the default read-ahead of a Reader.
	DefaultPrefetch = 4
)

type config struct {
	chunkSize   int
	maxLinks    int
	encrypt     bool
	chunker     chunker.Factory
	concurrency int
	metadata    map[string]string
}

// Option is the type of an option
// passed to the functions and constructors of this package.
type Option func(*config)

// ChunkSize sets the maximum size of a leaf chunk.
// The default is chunker.DefaultChunkSize.
func ChunkSize(n int) Option {
	return func(c *config) {
		c.chunkSize = n
	}
}

// MaxLinks sets the maximum number of links in any tree node.
// Values below 2 are treated as 2.
func MaxLinks(n int) Option {
	return func(c *config) {
		c.maxLinks = n
	}
}

// Encrypt causes every stored chunk and node to be encrypted with a content hash key.
func Encrypt(enc bool) Option {
	return func(c *config) {
		c.encrypt = enc
	}
}

// Chunker selects a chunking strategy.
// The default is fixed-size chunks of the configured chunk size.
// Chunks from any strategy are further split
// so none exceeds the configured chunk size.
func Chunker(f chunker.Factory) Option {
	return func(c *config) {
		c.chunker = f
	}
}

// Concurrency sets how many chunks are processed at once.
func Concurrency(n int) Option {
	return func(c *config) {
		c.concurrency = n
	}
}

// Metadata attaches metadata to a directory node built by PutDirectory.
func Metadata(m map[string]string) Option {
	return func(c *config) {
		c.metadata = m
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		chunkSize:   chunker.DefaultChunkSize,
		maxLinks:    DefaultMaxLinks,
		concurrency: DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.chunkSize < 1 {
		c.chunkSize = chunker.DefaultChunkSize
	}
	if c.maxLinks < 2 {
		c.maxLinks = 2
	}
	if c.concurrency < 1 {
		c.concurrency = 1
	}
	if c.chunker == nil {
		c.chunker = chunker.Fixed(c.chunkSize)
	}
	return c
}
