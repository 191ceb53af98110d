package tree

import (
	"context"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree"
)

// ReadFileRange reads bytes [start, end) of the file at c.
// A negative end means the end of the file,
// and an end past the end of the file is clamped to it.
//
// Only the chunks overlapping the range are fetched.
// Links lying wholly before or after the range are skipped
// using their recorded sizes.
func ReadFileRange(ctx context.Context, g hashtree.Getter, c hashtree.CID, start, end int64, opts ...Option) ([]byte, error) {
	if start < 0 {
		return nil, errors.Errorf("negative start %d", start)
	}
	conf := newConfig(opts)

	data, err := fetch(ctx, g, c)
	if errors.Is(err, hashtree.ErrNotFound) {
		return nil, &hashtree.MissingChunkError{Hash: c.Hash}
	}
	if err != nil {
		return nil, err
	}

	n, err := hashtree.Decode(data)
	if err != nil || n.Type != hashtree.NodeFile {
		s, e := clampRange(uint64(start), end, uint64(len(data)))
		return data[s:e], nil
	}

	s, e := clampRange(uint64(start), end, n.TotalSize)
	out := make([]byte, 0, e-s)
	return readRange(ctx, g, n.Links, s, e, out, conf.concurrency)
}

func clampRange(start uint64, end int64, size uint64) (uint64, uint64) {
	e := size
	if end >= 0 && uint64(end) < size {
		e = uint64(end)
	}
	if start > e {
		start = e
	}
	return start, e
}

// readRange appends bytes [start, end) of the content under links to out.
// Offsets are relative to the first link.
func readRange(ctx context.Context, g hashtree.Getter, links []hashtree.Link, start, end uint64, out []byte, conc int) ([]byte, error) {
	if start >= end {
		return out, nil
	}

	var (
		first   = -1
		last    int
		offsets []uint64
		off     uint64
	)
	for i, l := range links {
		lstart, lend := off, off+l.Size
		off = lend
		if lend <= start {
			continue
		}
		if lstart >= end {
			break
		}
		if first < 0 {
			first = i
		}
		last = i
		offsets = append(offsets, lstart)
	}
	if first < 0 {
		return out, nil
	}

	overlapping := links[first : last+1]
	datas, err := fetchLinks(ctx, g, overlapping, conc)
	if err != nil {
		return nil, err
	}

	for i, l := range overlapping {
		var (
			lstart = offsets[i]
			s      = uint64(0)
			e      = l.Size
		)
		if start > lstart {
			s = start - lstart
		}
		if end < lstart+l.Size {
			e = end - lstart
		}

		switch l.Type {
		case hashtree.LinkBlob:
			data := datas[i]
			if uint64(len(data)) != l.Size {
				return nil, errors.Errorf("chunk %s has %d bytes, link says %d", l.Hash, len(data), l.Size)
			}
			out = append(out, data[s:e]...)

		case hashtree.LinkFile:
			n, err := decodeNode(l, datas[i])
			if err != nil {
				return nil, err
			}
			if out, err = readRange(ctx, g, n.Links, s, e, out, conc); err != nil {
				return nil, err
			}

		default:
			return nil, errors.Errorf("unexpected %s link %s in file", l.Type, l.Hash)
		}
	}
	return out, nil
}
