package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/chunker"
	hfs "github.com/bobg/hashtree/fs"
	"github.com/bobg/hashtree/tree"
)

func treeOptions(fs *flag.FlagSet) func() []tree.Option {
	var (
		chunkSize = fs.Int("chunk", chunker.DefaultChunkSize, "maximum chunk size")
		maxLinks  = fs.Int("fanout", tree.DefaultMaxLinks, "maximum links per node")
		encrypt   = fs.Bool("encrypt", false, "encrypt with content-hash keys")
		buzhash   = fs.Bool("buzhash", false, "content-defined chunking")
	)
	return func() []tree.Option {
		opts := []tree.Option{tree.ChunkSize(*chunkSize), tree.MaxLinks(*maxLinks)}
		if *encrypt {
			opts = append(opts, tree.Encrypt(true))
		}
		if *buzhash {
			opts = append(opts, tree.Chunker(chunker.Buzhash()))
		}
		return opts
	}
}

func (c maincmd) put(ctx context.Context, fs *flag.FlagSet, args []string) error {
	opts := treeOptions(fs)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	in := io.Reader(os.Stdin)
	if args = fs.Args(); len(args) > 0 {
		info, err := os.Stat(args[0])
		if err != nil {
			return errors.Wrapf(err, "statting %s", args[0])
		}
		if info.IsDir() {
			e, err := hfs.Add(ctx, c.s, args[0], opts()...)
			if err != nil {
				return errors.Wrapf(err, "storing %s", args[0])
			}
			fmt.Println(e.CID)
			return nil
		}

		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrapf(err, "opening %s", args[0])
		}
		defer f.Close()
		in = f
	}

	cid, size, err := tree.PutReader(ctx, c.s, in, opts()...)
	if err != nil {
		return errors.Wrap(err, "storing input")
	}
	c.log.WithField("size", size).Debug("stored")
	fmt.Println(cid)
	return nil
}

func (c maincmd) get(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		offset   = fs.Uint64("offset", 0, "starting offset")
		prefetch = fs.Int("prefetch", tree.DefaultPrefetch, "chunks to fetch ahead")
	)
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	r, err := tree.NewReader(ctx, c.s, cid, *offset, *prefetch)
	if err != nil {
		return errors.Wrapf(err, "reading %s", cid)
	}
	defer r.Close()
	_, err = io.Copy(os.Stdout, r)
	return errors.Wrap(err, "writing to stdout")
}

func (c maincmd) extract(ctx context.Context, fs *flag.FlagSet, args []string) error {
	cid, args, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return errors.New("missing destination")
	}
	return hfs.Extract(ctx, c.s, cid, args[0])
}

// browse serves the directory tree at a CID over HTTP.
func (c maincmd) browse(ctx context.Context, fs *flag.FlagSet, args []string) error {
	addr := fs.String("addr", "localhost:8080", "HTTP listen address")
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:    *addr,
		Handler: http.FileServer(http.FS(hfs.NewFS(ctx, c.s, cid))),
	}
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	c.log.WithField("addr", *addr).WithField("root", cid).Info("serving tree over HTTP")
	err = srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (c maincmd) rangecmd(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		start = fs.Int64("start", 0, "first byte")
		end   = fs.Int64("end", -1, "end of range, exclusive (default: end of file)")
	)
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	data, err := tree.ReadFileRange(ctx, c.s, cid, *start, *end)
	if err != nil {
		return errors.Wrapf(err, "reading range [%d, %d) of %s", *start, *end, cid)
	}
	_, err = os.Stdout.Write(data)
	return errors.Wrap(err, "writing to stdout")
}

func (c maincmd) ls(ctx context.Context, fs *flag.FlagSet, args []string) error {
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	links, err := tree.ListDirectory(ctx, c.s, cid)
	if err != nil {
		return errors.Wrapf(err, "listing %s", cid)
	}
	for _, l := range links {
		name := l.Name
		if l.Type == hashtree.LinkDir {
			name += "/"
		}
		fmt.Printf("%s %d %s\n", name, l.Size, l.CID())
	}
	return nil
}

func (c maincmd) walk(ctx context.Context, fs *flag.FlagSet, args []string) error {
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	return tree.Walk(ctx, c.s, cid, func(e tree.WalkEntry) error {
		path := e.Path
		if path == "" {
			path = "."
		}
		fmt.Printf("%s %s %d %s\n", e.Type, path, e.Size, e.CID)
		return nil
	})
}

func (c maincmd) resolve(ctx context.Context, fs *flag.FlagSet, args []string) error {
	cid, args, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	var path string
	if len(args) > 0 {
		path = args[0]
	}
	got, ok, err := tree.ResolvePath(ctx, c.s, cid, path)
	if err != nil {
		return errors.Wrapf(err, "resolving %s in %s", path, cid)
	}
	if !ok {
		return fmt.Errorf("%s not found in %s", path, cid)
	}
	fmt.Println(got)
	return nil
}

func (c maincmd) writeAt(ctx context.Context, fs *flag.FlagSet, args []string) error {
	offset := fs.Uint64("offset", 0, "where to write")
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return errors.Wrap(err, "reading stdin")
	}
	newRoot, err := tree.WriteAt(ctx, c.s, cid, *offset, data)
	if err != nil {
		return errors.Wrapf(err, "writing %d bytes at %d in %s", len(data), *offset, cid)
	}
	fmt.Println(newRoot)
	return nil
}

// mkdir takes arguments of the form name=cid.
func (c maincmd) mkdir(ctx context.Context, fs *flag.FlagSet, args []string) error {
	opts := treeOptions(fs)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}

	var entries []tree.DirEntry
	for _, arg := range fs.Args() {
		name, cidstr, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("argument %q is not of the form name=cid", arg)
		}
		cid, err := parseCID(cidstr)
		if err != nil {
			return errors.Wrapf(err, "parsing cid for %s", name)
		}
		e, err := dirEntry(ctx, c.s, name, cid)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}

	cid, _, err := tree.PutDirectory(ctx, c.s, entries, opts()...)
	if err != nil {
		return errors.Wrap(err, "storing directory")
	}
	fmt.Println(cid)
	return nil
}

func dirEntry(ctx context.Context, g hashtree.Getter, name string, cid hashtree.CID) (tree.DirEntry, error) {
	n, ok, err := tree.GetTreeNode(ctx, g, cid)
	if err != nil {
		return tree.DirEntry{}, errors.Wrapf(err, "getting %s", cid)
	}
	if ok && n.Type == hashtree.NodeDir {
		return tree.DirEntry{Name: name, CID: cid, Size: n.TotalSize, Type: hashtree.LinkDir}, nil
	}
	size, err := tree.FileSize(ctx, g, cid)
	if err != nil {
		return tree.DirEntry{}, errors.Wrapf(err, "getting size of %s", cid)
	}
	return tree.FileEntry(ctx, g, name, cid, size)
}
