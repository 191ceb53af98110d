package tree

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store/mem"
)

func putFileEntry(ctx context.Context, t *testing.T, s hashtree.Store, name string, data []byte, opts ...Option) DirEntry {
	t.Helper()
	c, size, err := PutFile(ctx, s, data, opts...)
	if err != nil {
		t.Fatal(err)
	}
	e, err := FileEntry(ctx, s, name, c, size)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestDirectorySorted(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New()
		b   = putFileEntry(ctx, t, s, "b.txt", []byte("bee"))
		a   = putFileEntry(ctx, t, s, "a.txt", []byte("ay"))
	)

	c1, size, err := PutDirectory(ctx, s, []DirEntry{b, a})
	if err != nil {
		t.Fatal(err)
	}
	if size != 5 {
		t.Errorf("got size %d, want 5", size)
	}
	n, ok, err := GetTreeNode(ctx, s, c1)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || n.Type != hashtree.NodeDir {
		t.Fatal("directory root is not a Dir node")
	}
	var names []string
	for _, l := range n.Links {
		names = append(names, l.Name)
	}
	if diff := cmp.Diff([]string{"a.txt", "b.txt"}, names); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}

	c2, _, err := PutDirectory(ctx, s, []DirEntry{a, b})
	if err != nil {
		t.Fatal(err)
	}
	if c1 != c2 {
		t.Errorf("insertion order changed the hash: %s vs. %s", c1, c2)
	}
}

func TestDirectoryBadNames(t *testing.T) {
	var (
		ctx = context.Background()
		s   = mem.New()
		e   = putFileEntry(ctx, t, s, "x", []byte("x"))
	)
	cases := map[string][]string{
		"duplicate": {"x", "y", "x"},
		"empty":     {""},
		"slash":     {"a/b"},
	}
	for name, names := range cases {
		t.Run(name, func(t *testing.T) {
			var entries []DirEntry
			for _, n := range names {
				e2 := e
				e2.Name = n
				entries = append(entries, e2)
			}
			if _, _, err := PutDirectory(ctx, s, entries); err == nil {
				t.Error("got no error")
			}
		})
	}
}

func TestLargeDirectory(t *testing.T) {
	const numEntries = 50

	cases := []struct {
		name     string
		opts     []Option
		maxLinks int
	}{
		{name: "by count", opts: []Option{MaxLinks(4)}, maxLinks: 4},
		{name: "by size", opts: []Option{ChunkSize(300), MaxLinks(8)}, maxLinks: 8},
		{name: "encrypted", opts: []Option{MaxLinks(5), Encrypt(true)}, maxLinks: 5},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var (
				ctx     = context.Background()
				s       = mem.New()
				entries []DirEntry
				want    []string
			)
			for i := 0; i < numEntries; i++ {
				name := fmt.Sprintf("file%03d", numEntries-i)
				entries = append(entries, putFileEntry(ctx, t, s, name, []byte(name), c.opts...))
				want = append(want, name)
			}
			sort.Strings(want)

			root, _, err := PutDirectory(ctx, s, entries, c.opts...)
			if err != nil {
				t.Fatal(err)
			}

			checkFanout(ctx, t, s, root, c.maxLinks)
			if n, ok, err := GetTreeNode(ctx, s, root); err != nil {
				t.Fatal(err)
			} else if !ok || n.Type != hashtree.NodeFile {
				t.Error("want a chunked directory")
			}

			links, err := ListDirectory(ctx, s, root)
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for _, l := range links {
				got = append(got, l.Name)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}

			for _, name := range []string{"file001", "file025", "file050"} {
				fc, ok, err := ResolvePath(ctx, s, root, name)
				if err != nil {
					t.Fatal(err)
				}
				if !ok {
					t.Fatalf("%s not found", name)
				}
				data, _, err := ReadFile(ctx, s, fc)
				if err != nil {
					t.Fatal(err)
				}
				if string(data) != name {
					t.Errorf("%s: got content %q", name, data)
				}
			}
		})
	}
}

// buildNested stores:
//
//	docs/
//	  readme.md
//	x.txt
func buildNested(ctx context.Context, t *testing.T, s hashtree.Store, opts ...Option) hashtree.CID {
	t.Helper()
	readme := putFileEntry(ctx, t, s, "readme.md", randBytes(6, 3000), append([]Option{ChunkSize(1000)}, opts...)...)
	docs, docsSize, err := PutDirectory(ctx, s, []DirEntry{readme}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	x := putFileEntry(ctx, t, s, "x.txt", []byte("x marks the spot"), opts...)
	root, _, err := PutDirectory(ctx, s, []DirEntry{
		x,
		{Name: "docs", CID: docs, Size: docsSize, Type: hashtree.LinkDir},
	}, opts...)
	if err != nil {
		t.Fatal(err)
	}
	return root
}

func TestResolvePath(t *testing.T) {
	var (
		ctx  = context.Background()
		s    = mem.New()
		root = buildNested(ctx, t, s)
	)

	cases := []struct {
		path string
		ok   bool
	}{
		{path: "", ok: true},
		{path: "docs", ok: true},
		{path: "docs/readme.md", ok: true},
		{path: "/docs//readme.md", ok: true},
		{path: "x.txt", ok: true},
		{path: "missing", ok: false},
		{path: "docs/missing", ok: false},
		{path: "x.txt/inside", ok: false},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			_, ok, err := ResolvePath(ctx, s, root, c.path)
			if err != nil {
				t.Fatal(err)
			}
			if ok != c.ok {
				t.Errorf("got ok=%v, want %v", ok, c.ok)
			}
		})
	}

	if _, err := ListDirectory(ctx, s, mustResolve(ctx, t, s, root, "x.txt")); !errors.Is(err, ErrNotDir) {
		t.Errorf("listing a file: got error %v, want ErrNotDir", err)
	}
}

func mustResolve(ctx context.Context, t *testing.T, g hashtree.Getter, root hashtree.CID, path string) hashtree.CID {
	t.Helper()
	c, ok, err := ResolvePath(ctx, g, root, path)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatalf("%s not found", path)
	}
	return c
}

func TestWalk(t *testing.T) {
	for _, encrypt := range []bool{false, true} {
		t.Run(fmt.Sprintf("encrypt=%v", encrypt), func(t *testing.T) {
			var (
				ctx  = context.Background()
				s    = mem.New()
				root = buildNested(ctx, t, s, Encrypt(encrypt))
				got  []string
			)
			err := Walk(ctx, s, root, func(e WalkEntry) error {
				got = append(got, fmt.Sprintf("%s:%s:%d", e.Path, e.Type, e.Size))
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			want := []string{
				":dir:3016",
				"docs:dir:3000",
				"docs/readme.md:file:3000",
				"x.txt:blob:16",
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}

			got = nil
			err = Walk(ctx, s, root, func(e WalkEntry) error {
				got = append(got, e.Path)
				if e.Path == "docs" {
					return SkipDir
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff([]string{"", "docs", "x.txt"}, got); diff != "" {
				t.Errorf("SkipDir mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRefs(t *testing.T) {
	cases := []struct {
		name  string
		build func(context.Context, *testing.T, hashtree.Store) hashtree.CID
	}{
		{name: "nested", build: func(ctx context.Context, t *testing.T, s hashtree.Store) hashtree.CID {
			return buildNested(ctx, t, s)
		}},
		{name: "chunked", build: func(ctx context.Context, t *testing.T, s hashtree.Store) hashtree.CID {
			var entries []DirEntry
			for i := 0; i < 20; i++ {
				name := fmt.Sprintf("f%02d", i)
				entries = append(entries, putFileEntry(ctx, t, s, name, randBytes(int64(i), 50), ChunkSize(20)))
			}
			root, _, err := PutDirectory(ctx, s, entries, MaxLinks(3))
			if err != nil {
				t.Fatal(err)
			}
			return root
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var (
				ctx  = context.Background()
				s    = mem.New()
				root = c.build(ctx, t, s)
				want = make(map[hashtree.Hash]bool)
				got  = make(map[hashtree.Hash]bool)
			)
			err := s.ListRefs(ctx, hashtree.Zero, func(h hashtree.Hash) error {
				want[h] = true
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			err = Refs(ctx, s, root, func(h hashtree.Hash) error {
				got[h] = true
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}
