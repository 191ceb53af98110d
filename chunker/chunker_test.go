package chunker

import (
	"bytes"
	"math/rand"
	"testing"
)

func testData(n int) []byte {
	r := rand.New(rand.NewSource(1))
	b := make([]byte, n)
	r.Read(b)
	return b
}

func TestStrategies(t *testing.T) {
	data := testData(300 << 10)

	cases := map[string]struct {
		f   Factory
		max int
	}{
		"fixed":     {f: Fixed(4096), max: 4096},
		"buzhash":   {f: Buzhash(), max: 8192},
		"hashsplit": {f: Hashsplit(1024, 12), max: 8192},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			chunks, err := All(Bounded(c.f(bytes.NewReader(data)), c.max))
			if err != nil {
				t.Fatal(err)
			}
			if len(chunks) < 2 {
				t.Fatalf("got %d chunks, want several", len(chunks))
			}
			for i, chunk := range chunks {
				if len(chunk) == 0 {
					t.Errorf("chunk %d is empty", i)
				}
				if len(chunk) > c.max {
					t.Errorf("chunk %d has length %d > %d", i, len(chunk), c.max)
				}
			}
			if got := bytes.Join(chunks, nil); !bytes.Equal(got, data) {
				t.Error("chunks do not reassemble into the input")
			}
		})
	}
}

func TestFixedSizes(t *testing.T) {
	chunks, err := All(Fixed(256)(bytes.NewReader(testData(700))))
	if err != nil {
		t.Fatal(err)
	}
	var sizes []int
	for _, chunk := range chunks {
		sizes = append(sizes, len(chunk))
	}
	if len(sizes) != 3 || sizes[0] != 256 || sizes[1] != 256 || sizes[2] != 188 {
		t.Errorf("got sizes %v, want [256 256 188]", sizes)
	}
}

func TestEmpty(t *testing.T) {
	for _, f := range []Factory{Fixed(16), Buzhash(), Hashsplit(0, 0)} {
		chunks, err := All(f(bytes.NewReader(nil)))
		if err != nil {
			t.Fatal(err)
		}
		if len(chunks) != 0 {
			t.Errorf("got %d chunks from empty input", len(chunks))
		}
	}
}

func TestContentDefinedStability(t *testing.T) {
	// Inserting bytes near the front should leave most later chunks unchanged.
	data := testData(256 << 10)
	edited := append(append([]byte("inserted"), data[:100]...), data[100:]...)

	split := func(b []byte) map[string]bool {
		chunks, err := All(Hashsplit(1024, 12)(bytes.NewReader(b)))
		if err != nil {
			t.Fatal(err)
		}
		m := make(map[string]bool)
		for _, c := range chunks {
			m[string(c)] = true
		}
		return m
	}

	a, b := split(data), split(edited)
	var shared int
	for c := range a {
		if b[c] {
			shared++
		}
	}
	if shared < len(a)/2 {
		t.Errorf("only %d of %d chunks survived a small insertion", shared, len(a))
	}
}
