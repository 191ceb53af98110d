package permalink

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"pgregory.net/rapid"

	"github.com/bobg/hashtree"
)

func drawKey(t *rapid.T, label string) *hashtree.Key {
	if !rapid.Bool().Draw(t, label+"?") {
		return nil
	}
	return hashtree.KeyFromBytes(rapid.SliceOfN(rapid.Byte(), hashtree.Size, hashtree.Size).Draw(t, label))
}

func TestHashRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := hashtree.CID{
			Hash: hashtree.HashFromBytes(rapid.SliceOfN(rapid.Byte(), hashtree.Size, hashtree.Size).Draw(t, "hash")),
			Key:  drawKey(t, "key"),
		}
		s, err := EncodeHash(c)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(s, "nhash1") {
			t.Fatalf("got %s", s)
		}
		got, err := DecodeHash(s)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(c, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestPathRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		var p Path
		copy(p.PubKey[:], rapid.SliceOfN(rapid.Byte(), 32, 32).Draw(t, "pubkey"))
		p.Tree = rapid.StringN(0, 40, 255).Draw(t, "tree")
		p.Segments = rapid.SliceOfN(rapid.StringN(1, 20, 255), 0, 6).Draw(t, "segments")
		if len(p.Segments) == 0 {
			p.Segments = nil
		}
		p.Key = drawKey(t, "key")

		s, err := EncodePath(p)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(s, "npath1") {
			t.Fatalf("got %s", s)
		}
		got, err := DecodePath(s)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(p, got); diff != "" {
			t.Fatalf("mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestDecodeErrors(t *testing.T) {
	c := hashtree.CID{Hash: hashtree.Sum([]byte("hello"))}
	s, err := EncodeHash(c)
	if err != nil {
		t.Fatal(err)
	}

	// Change one data character.
	i := len(HashPrefix) + 5
	flip := byte('q')
	if s[i] == flip {
		flip = 'p'
	}
	corrupt := s[:i] + string(flip) + s[i+1:]

	if _, err := DecodeHash(corrupt); err == nil {
		t.Error("corrupt link decoded")
	}
	if _, err := DecodePath(s); err == nil {
		t.Error("hash link decoded as path link")
	}
	if _, err := DecodeHash("nhash1"); err == nil {
		t.Error("empty link decoded")
	}

	long := Path{Tree: strings.Repeat("x", 256)}
	if _, err := EncodePath(long); err == nil {
		t.Error("overlong tree name encoded")
	}
}
