package compress

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Zstd is a Compressor implementing Zstandard.
// It is safe for concurrent use.
type Zstd struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// NewZstd produces a Zstd compressor.
// The level is one of "fastest", "default", "better", or "best".
// The empty string means "default".
func NewZstd(level string) (*Zstd, error) {
	lvl := zstd.SpeedDefault
	if level != "" {
		ok, l := zstd.EncoderLevelFromString(level)
		if !ok {
			return nil, fmt.Errorf(`unknown zstd level "%s"`, level)
		}
		lvl = l
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &Zstd{enc: enc, dec: dec}, nil
}

func (z *Zstd) Compress(inp []byte) ([]byte, error) {
	return z.enc.EncodeAll(inp, nil), nil
}

func (z *Zstd) Uncompress(inp []byte) ([]byte, error) {
	return z.dec.DecodeAll(inp, nil)
}

// S2 is a Compressor implementing S2, a Snappy extension.
type S2 struct{}

func (S2) Compress(inp []byte) ([]byte, error) {
	return s2.Encode(nil, inp), nil
}

func (S2) Uncompress(inp []byte) ([]byte, error) {
	return s2.Decode(nil, inp)
}

// Flate is a Compressor implementing RFC1951 DEFLATE compression.
type Flate struct {
	Level int
}

func (f Flate) Compress(inp []byte) ([]byte, error) {
	level := f.Level
	if level < flate.HuffmanOnly || level > flate.BestCompression {
		level = flate.DefaultCompression
	}
	buf := new(bytes.Buffer)
	w, err := flate.NewWriter(buf, level)
	if err != nil {
		return nil, err
	}
	if _, err = w.Write(inp); err != nil {
		return nil, err
	}
	if err = w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Flate) Uncompress(inp []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(inp))
	defer r.Close()
	return io.ReadAll(r)
}
