package hashtree

import (
	"testing"
	"testing/quick"
)

func TestHashHex(t *testing.T) {
	err := quick.Check(func(h Hash) bool {
		got, err := HashFromHex(h.String())
		if err != nil {
			t.Log(err)
			return false
		}
		return got == h
	}, nil)
	if err != nil {
		t.Error(err)
	}
}

func TestEmptyHash(t *testing.T) {
	const want = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := EmptyHash.String(); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestCIDString(t *testing.T) {
	err := quick.Check(func(h Hash, k Key, encrypted bool) bool {
		c := CID{Hash: h}
		if encrypted {
			c.Key = &k
		}
		got, err := ParseCID(c.String())
		if err != nil {
			t.Log(err)
			return false
		}
		if got.Hash != c.Hash || got.Encrypted() != c.Encrypted() {
			return false
		}
		return !encrypted || *got.Key == k
	}, nil)
	if err != nil {
		t.Error(err)
	}

	if _, err := ParseCID("xyz"); err == nil {
		t.Error("got no error parsing a malformed cid")
	}
}

func TestHashScan(t *testing.T) {
	var h Hash
	if err := h.Scan([]byte{1, 2, 3}); err == nil {
		t.Error("got no error scanning short bytes")
	}
	want := Sum([]byte("x"))
	v, err := want.Value()
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Scan(v); err != nil {
		t.Fatal(err)
	}
	if h != want {
		t.Errorf("got %s, want %s", h, want)
	}
}
