// Package tree builds, reads and patches merkle trees in a hashtree.Store.
//
// A file is split into chunks,
// each stored as a blob under its own hash.
// When there is more than one chunk,
// their links are gathered into File nodes of at most MaxLinks links each,
// level by level,
// until a single root remains.
// A file of one chunk has that chunk as its root.
//
// A directory is a Dir node whose links are its named entries,
// sorted by name.
package tree

import (
	"bytes"
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/chunker"
)

// PutBlob stores data as a single unencrypted blob and returns its hash.
func PutBlob(ctx context.Context, s hashtree.Store, data []byte) (hashtree.Hash, error) {
	h, _, err := hashtree.Put(ctx, s, data)
	return h, err
}

// PutFile stores data as a tree.
// It returns the root CID and the size of the data.
func PutFile(ctx context.Context, s hashtree.Store, data []byte, opts ...Option) (hashtree.CID, uint64, error) {
	return PutReader(ctx, s, bytes.NewReader(data), opts...)
}

// PutReader stores the contents of r as a tree.
// It returns the root CID and the number of bytes read.
func PutReader(ctx context.Context, s hashtree.Store, r io.Reader, opts ...Option) (hashtree.CID, uint64, error) {
	conf := newConfig(opts)
	links, err := putChunks(ctx, s, chunker.Bounded(conf.chunker(r), conf.chunkSize), conf)
	if err != nil {
		return hashtree.CID{}, 0, err
	}
	l, err := buildTree(ctx, s, links, conf)
	return l.CID(), l.Size, err
}

// putChunks stores the chunks from spl concurrently,
// returning their links in order.
func putChunks(ctx context.Context, s hashtree.Store, spl chunker.Splitter, conf *config) ([]hashtree.Link, error) {
	var results []*hashtree.Link

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(conf.concurrency)

	var readErr error
	for egctx.Err() == nil {
		chunk, err := spl.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			readErr = errors.Wrap(err, "splitting input")
			break
		}

		res := new(hashtree.Link)
		results = append(results, res)
		eg.Go(func() error {
			c, err := putBytes(egctx, s, chunk, conf.encrypt)
			if err != nil {
				return err
			}
			*res = hashtree.Link{Hash: c.Hash, Key: c.Key, Size: uint64(len(chunk))}
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	if readErr != nil {
		return nil, readErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	links := make([]hashtree.Link, 0, len(results))
	for _, res := range results {
		links = append(links, *res)
	}
	return links, nil
}

// buildTree gathers links into File nodes of at most maxLinks links,
// one level at a time,
// storing every node of a level before starting the next.
// The result is a link to the root.
func buildTree(ctx context.Context, s hashtree.Store, links []hashtree.Link, conf *config) (hashtree.Link, error) {
	switch len(links) {
	case 0:
		c, err := putBytes(ctx, s, nil, conf.encrypt)
		return hashtree.Link{Hash: c.Hash, Key: c.Key}, err
	case 1:
		return links[0], nil
	}

	for len(links) > conf.maxLinks {
		var (
			next = make([]hashtree.Link, (len(links)+conf.maxLinks-1)/conf.maxLinks)
			eg   errgroup.Group
		)
		eg.SetLimit(conf.concurrency)
		for i := range next {
			var (
				i     = i
				start = i * conf.maxLinks
				end   = start + conf.maxLinks
			)
			if end > len(links) {
				end = len(links)
			}
			batch := links[start:end]
			eg.Go(func() error {
				l, err := putNode(ctx, s, fileNode(batch), conf.encrypt)
				next[i] = l
				return err
			})
		}
		if err := eg.Wait(); err != nil {
			return hashtree.Link{}, err
		}
		links = next
	}

	return putNode(ctx, s, fileNode(links), conf.encrypt)
}

func fileNode(links []hashtree.Link) *hashtree.TreeNode {
	n := &hashtree.TreeNode{
		Type:  hashtree.NodeFile,
		Links: links,
	}
	n.TotalSize = n.LinksSize()
	return n
}
