package fs

import (
	"context"
	"io"
	"io/fs"
	"path"
	"time"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/tree"
)

// In this file, we implement various interfaces from the Go stdlib's io/fs package.

var (
	_ fs.FS          = (*FS)(nil)
	_ fs.ReadDirFS   = (*FS)(nil)
	_ fs.StatFS      = (*FS)(nil)
	_ fs.File        = (*fsFile)(nil)
	_ io.ReadSeeker  = (*fsFile)(nil)
	_ io.ReaderAt    = (*fsFile)(nil)
	_ fs.ReadDirFile = (*fsDir)(nil)
	_ fs.FileInfo    = (*fsFileInfo)(nil)
	_ fs.DirEntry    = (*fsDirEntry)(nil)
)

// FS implements io/fs.FS on a directory tree in a Getter.
type FS struct {
	Ctx context.Context

	g    hashtree.Getter
	root hashtree.CID
}

// NewFS creates a new *FS reading from the given Getter and rooted at the directory at root.
// The given context object is stored in the FS and used in subsequent calls to Open, Stat, ReadDir, etc.
// This is an antipattern but acceptable when an object must adhere to a context-free stdlib interface
// (https://github.com/golang/go/wiki/CodeReviewComments#contexts).
// Callers may replace the context object during the lifetime of the FS as needed.
func NewFS(ctx context.Context, g hashtree.Getter, root hashtree.CID) *FS {
	return &FS{Ctx: ctx, g: g, root: root}
}

// lookup finds the link for name,
// which must be a valid path.
// The root is reported as a directory link with no name.
func (f *FS) lookup(name string) (hashtree.Link, error) {
	if !fs.ValidPath(name) {
		return hashtree.Link{}, fs.ErrInvalid
	}
	if name == "." {
		return hashtree.Link{Hash: f.root.Hash, Key: f.root.Key, Type: hashtree.LinkDir}, nil
	}
	dir, base := path.Split(name)
	parent, ok, err := tree.ResolvePath(f.Ctx, f.g, f.root, dir)
	if err != nil {
		return hashtree.Link{}, err
	}
	if !ok {
		return hashtree.Link{}, fs.ErrNotExist
	}
	links, err := tree.ListDirectory(f.Ctx, f.g, parent)
	if errors.Is(err, tree.ErrNotDir) {
		return hashtree.Link{}, fs.ErrNotExist
	}
	if err != nil {
		return hashtree.Link{}, err
	}
	for _, l := range links {
		if l.Name == base {
			return l, nil
		}
	}
	return hashtree.Link{}, fs.ErrNotExist
}

func pathErr(op, name string, err error) error {
	if err == nil {
		return nil
	}
	return &fs.PathError{Op: op, Path: name, Err: err}
}

// Open opens the file or directory at the given path in FS.
func (f *FS) Open(name string) (fs.File, error) {
	l, err := f.lookup(name)
	if err != nil {
		return nil, pathErr("open", name, err)
	}
	info := newFileInfo(path.Base(name), l)
	if l.Type == hashtree.LinkDir {
		entries, err := f.readDir(l.CID())
		if err != nil {
			return nil, pathErr("open", name, err)
		}
		return &fsDir{info: info, entries: entries}, nil
	}
	return &fsFile{fs: f, c: l.CID(), info: info}, nil
}

// ReadDir implements io/fs.ReadDirFS.
func (f *FS) ReadDir(name string) ([]fs.DirEntry, error) {
	l, err := f.lookup(name)
	if err != nil {
		return nil, pathErr("readdir", name, err)
	}
	if l.Type != hashtree.LinkDir {
		return nil, pathErr("readdir", name, tree.ErrNotDir)
	}
	entries, err := f.readDir(l.CID())
	return entries, pathErr("readdir", name, err)
}

func (f *FS) readDir(c hashtree.CID) ([]fs.DirEntry, error) {
	links, err := tree.ListDirectory(f.Ctx, f.g, c)
	if err != nil {
		return nil, err
	}
	result := make([]fs.DirEntry, 0, len(links))
	for _, l := range links {
		result = append(result, &fsDirEntry{info: newFileInfo(l.Name, l)})
	}
	return result, nil
}

// Stat implements io/fs.StatFS.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	l, err := f.lookup(name)
	if err != nil {
		return nil, pathErr("stat", name, err)
	}
	return newFileInfo(path.Base(name), l), nil
}

// fsFile implements io/fs.File.
// It reads only the chunks its reads overlap.
type fsFile struct {
	fs   *FS
	c    hashtree.CID
	info *fsFileInfo
	pos  int64
}

func (f *fsFile) Stat() (fs.FileInfo, error) {
	return f.info, nil
}

func (f *fsFile) ReadAt(buf []byte, off int64) (int, error) {
	if off < 0 {
		return 0, errors.New("negative offset")
	}
	if off >= f.info.size {
		return 0, io.EOF
	}
	data, err := tree.ReadFileRange(f.fs.Ctx, f.fs.g, f.c, off, off+int64(len(buf)))
	if err != nil {
		return 0, err
	}
	n := copy(buf, data)
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

func (f *fsFile) Read(buf []byte) (int, error) {
	if f.pos >= f.info.size {
		return 0, io.EOF
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := f.ReadAt(buf, f.pos)
	f.pos += int64(n)
	if err == io.EOF && n > 0 {
		err = nil
	}
	return n, err
}

func (f *fsFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += f.pos
	case io.SeekEnd:
		offset += f.info.size
	default:
		return 0, errors.Errorf("invalid whence %d", whence)
	}
	if offset < 0 {
		return 0, errors.New("negative position")
	}
	f.pos = offset
	return offset, nil
}

func (f *fsFile) Close() error {
	return nil
}

// fsDir implements io/fs.ReadDirFile.
type fsDir struct {
	info    *fsFileInfo
	entries []fs.DirEntry
	pos     int
}

func (d *fsDir) Stat() (fs.FileInfo, error) { return d.info, nil }
func (d *fsDir) Close() error               { return nil }

func (d *fsDir) Read([]byte) (int, error) {
	return 0, &fs.PathError{Op: "read", Path: d.info.name, Err: errors.New("is a directory")}
}

func (d *fsDir) ReadDir(n int) ([]fs.DirEntry, error) {
	rest := d.entries[d.pos:]
	if n <= 0 {
		d.pos = len(d.entries)
		return rest, nil
	}
	if len(rest) == 0 {
		return nil, io.EOF
	}
	if n > len(rest) {
		n = len(rest)
	}
	d.pos += n
	return rest[:n], nil
}

type fsFileInfo struct {
	name string
	mode fs.FileMode
	size int64
}

func newFileInfo(name string, l hashtree.Link) *fsFileInfo {
	if l.Type == hashtree.LinkDir {
		return &fsFileInfo{name: name, mode: fs.ModeDir | 0555}
	}
	return &fsFileInfo{name: name, mode: 0444, size: int64(l.Size)}
}

func (info *fsFileInfo) Name() string       { return info.name }
func (info *fsFileInfo) Size() int64        { return info.size }
func (info *fsFileInfo) Mode() fs.FileMode  { return info.mode }
func (info *fsFileInfo) ModTime() time.Time { return time.Time{} }
func (info *fsFileInfo) IsDir() bool        { return info.mode.IsDir() }
func (info *fsFileInfo) Sys() interface{}   { return nil }

type fsDirEntry struct {
	info *fsFileInfo
}

func (e *fsDirEntry) Name() string               { return e.info.name }
func (e *fsDirEntry) IsDir() bool                { return e.info.IsDir() }
func (e *fsDirEntry) Type() fs.FileMode          { return e.info.mode.Type() }
func (e *fsDirEntry) Info() (fs.FileInfo, error) { return e.info, nil }
