package compress

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
	"github.com/bobg/hashtree/store/mem"
	"github.com/bobg/hashtree/testutil"
)

var text = []byte(strings.Repeat("These are the times that try men's souls. ", 2000))

func compressors(t *testing.T) map[string]Compressor {
	z, err := NewZstd("")
	if err != nil {
		t.Fatal(err)
	}
	zbest, err := NewZstd("best")
	if err != nil {
		t.Fatal(err)
	}
	result := map[string]Compressor{
		"zstd":      z,
		"zstd-best": zbest,
		"s2":        S2{},
	}
	for _, level := range []int{-2, -1, 0, 1, 9} {
		result["flate"+strings.Repeat("+", level+2)] = Flate{Level: level}
	}
	return result
}

func TestCompress(t *testing.T) {
	ctx := context.Background()
	for name, c := range compressors(t) {
		t.Run(name, func(t *testing.T) {
			testutil.Store(ctx, t, New(mem.New(), c))
			testutil.ReadWrite(ctx, t, New(mem.New(), c), text)
			testutil.ReadWrite(ctx, t, New(mem.New(), c), nil)
		})
	}
}

func TestCompressShrinks(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = mem.New()
		s      = New(nested, S2{})
	)
	h, _, err := hashtree.Put(ctx, s, text)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := nested.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if raw[0] != tagCompressed {
		t.Errorf("got tag %d, want %d", raw[0], tagCompressed)
	}
	if len(raw) >= len(text) {
		t.Errorf("stored %d bytes for %d bytes of input", len(raw), len(text))
	}
	got, err := s.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, text) {
		t.Error("mismatch")
	}
}

func TestIncompressible(t *testing.T) {
	var (
		ctx    = context.Background()
		nested = mem.New()
		s      = New(nested, S2{})
		data   = []byte{0x42}
	)
	h, _, err := hashtree.Put(ctx, s, data)
	if err != nil {
		t.Fatal(err)
	}
	raw, err := nested.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(raw, []byte{tagRaw, 0x42}) {
		t.Errorf("got %x", raw)
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	for _, conf := range []map[string]interface{}{
		{"type": "compress", "nested": map[string]interface{}{"type": "mem"}},
		{"type": "compress", "compressor": "zstd", "level": "fastest", "nested": map[string]interface{}{"type": "mem"}},
		{"type": "compress", "compressor": "s2", "nested": map[string]interface{}{"type": "mem"}},
		{"type": "compress", "compressor": "flate", "level": 6.0, "nested": map[string]interface{}{"type": "mem"}},
	} {
		s, err := store.FromConfig(ctx, conf)
		if err != nil {
			t.Fatal(err)
		}
		testutil.ReadWrite(ctx, t, s, text)
	}
	if _, err := store.FromConfig(ctx, map[string]interface{}{"type": "compress", "compressor": "lzw", "nested": map[string]interface{}{"type": "mem"}}); err == nil {
		t.Error("unknown compressor accepted")
	}
}
