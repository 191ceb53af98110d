package store

import (
	"context"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/hashtree"
)

// ListStore is a Store that can also list its contents.
type ListStore interface {
	hashtree.Store
	hashtree.Lister
}

// Sync synchronizes two or more stores.
// It runs ListRefs on all input stores.
// When a hash is found to be in some but not all stores,
// its blob is added to the stores where it's missing.
// The result is the number of blobs copied.
func Sync(ctx context.Context, stores []ListStore) (int, error) {
	if len(stores) < 2 {
		return 0, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)

	chans := make([]chan hashtree.Hash, len(stores))
	for i, s := range stores {
		ch := make(chan hashtree.Hash)
		chans[i] = ch
		g.Go(func() error {
			defer close(ch)
			return s.ListRefs(gctx, hashtree.Zero, func(h hashtree.Hash) error {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case ch <- h:
					return nil
				}
			})
		})
	}

	type head struct {
		h  hashtree.Hash
		ok bool
	}
	heads := make([]head, len(stores))
	for i, ch := range chans {
		heads[i].h, heads[i].ok = <-ch
	}

	var copied int
	for {
		var (
			best  hashtree.Hash
			found bool
		)
		for _, hd := range heads {
			if hd.ok && (!found || hd.h.Less(best)) {
				best, found = hd.h, true
			}
		}
		if !found {
			// We've reached the end of input on all channels.
			break
		}

		var haver hashtree.Store
		var needers []hashtree.Store
		for i, hd := range heads {
			if hd.ok && hd.h == best {
				haver = stores[i]
			} else {
				needers = append(needers, stores[i])
			}
		}

		if len(needers) > 0 {
			blob, err := haver.Get(ctx, best)
			if err != nil {
				return copied, errors.Wrapf(err, "getting blob for %s", best)
			}
			for _, s := range needers {
				added, err := s.Put(ctx, best, blob)
				if err != nil {
					return copied, errors.Wrapf(err, "storing blob for %s", best)
				}
				if added {
					copied++
				}
			}
		}

		for i := range heads {
			if heads[i].ok && heads[i].h == best {
				heads[i].h, heads[i].ok = <-chans[i]
			}
		}
	}

	return copied, g.Wait()
}
