// Package compress implements a Store that compresses and uncompresses blobs
// on their way into and out of a nested store.
package compress

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
	"github.com/bobg/hashtree/store/transform"
)

// Compressor is a compression algorithm.
type Compressor interface {
	Compress([]byte) ([]byte, error)
	Uncompress([]byte) ([]byte, error)
}

// Each stored blob begins with one of these.
const (
	tagRaw        byte = 0
	tagCompressed byte = 1
)

// Transformer adapts a Compressor to a transform.Transformer.
// Blobs that do not shrink are stored uncompressed.
type Transformer struct {
	C Compressor
}

var _ transform.Transformer = Transformer{}

// In implements transform.Transformer.
func (x Transformer) In(_ context.Context, inp []byte) ([]byte, error) {
	c, err := x.C.Compress(inp)
	if err != nil {
		return nil, errors.Wrap(err, "compressing")
	}
	if len(c) < len(inp) {
		return append([]byte{tagCompressed}, c...), nil
	}
	return append([]byte{tagRaw}, inp...), nil
}

// Out implements transform.Transformer.
func (x Transformer) Out(_ context.Context, inp []byte) ([]byte, error) {
	if len(inp) == 0 {
		return nil, errors.New("empty compressed blob")
	}
	switch inp[0] {
	case tagRaw:
		return inp[1:], nil
	case tagCompressed:
		out, err := x.C.Uncompress(inp[1:])
		return out, errors.Wrap(err, "uncompressing")
	}
	return nil, fmt.Errorf("unknown compression tag %d", inp[0])
}

// New produces a Store that compresses blobs with c before storing them in s.
func New(s hashtree.Store, c Compressor) *transform.Store {
	return transform.New(s, Transformer{C: c})
}

func init() {
	store.Register("compress", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		compressor, _ := conf["compressor"].(string)
		switch compressor {
		case "", "zstd":
			level, _ := conf["level"].(string)
			z, err := NewZstd(level)
			if err != nil {
				return nil, err
			}
			return New(nested, z), nil

		case "s2":
			return New(nested, S2{}), nil

		case "flate":
			level := -1
			if l, ok := store.Int(conf, "level"); ok {
				level = l
			}
			return New(nested, Flate{Level: level}), nil

		default:
			return nil, fmt.Errorf(`unknown compressor "%s"`, compressor)
		}
	})
}
