package hashtree

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// MultiGetter is a Getter that can fetch many hashes in one call.
type MultiGetter interface {
	GetMulti(context.Context, []Hash) (map[Hash][]byte, error)
}

// MultiPutter is a Store that can store many blobs in one call.
type MultiPutter interface {
	PutMulti(context.Context, [][]byte) (map[Hash]bool, error)
}

// GetMulti gets multiple blobs with a single call.
// By default this is implemented as a bunch of concurrent individual Get calls,
// at most limit of them at a time
// (no limit if limit <= 0).
// However, if g implements MultiGetter, its GetMulti method is used instead.
// The return value is a mapping of input hashes to the blobs that were found in g.
// The returned error may be a MultiErr,
// mapping input hashes to errors encountered retrieving those specific hashes.
// This function may return a successful partial result even in case of error.
// In particular, when the error return is a MultiErr,
// every input hash appears in either the result map or the MultiErr map.
func GetMulti(ctx context.Context, g Getter, hashes []Hash, limit int) (map[Hash][]byte, error) {
	if m, ok := g.(MultiGetter); ok {
		return m.GetMulti(ctx, hashes)
	}

	type triple struct {
		h    Hash
		blob []byte
		err  error
	}

	var (
		res = make(map[Hash][]byte)
		ch  = make(chan triple, len(hashes))
		eg  errgroup.Group
	)
	if limit > 0 {
		eg.SetLimit(limit)
	}

	for _, h := range hashes {
		h := h
		eg.Go(func() error {
			blob, err := g.Get(ctx, h)
			ch <- triple{h: h, blob: blob, err: err}
			return nil
		})
	}
	eg.Wait()
	close(ch)

	var errmap MultiErr

	for trip := range ch {
		if trip.err != nil {
			if errmap == nil {
				errmap = make(MultiErr)
			}
			errmap[trip.h] = trip.err
			continue
		}
		res[trip.h] = trip.blob
	}

	if errmap == nil {
		return res, nil
	}
	return res, errmap
}

// MultiErr is a type of error returned by GetMulti and PutMulti.
// It maps individual hashes to errors encountered trying to Get or Put them.
type MultiErr map[Hash]error

// Error implements the error interface.
func (e MultiErr) Error() string {
	var strs []string
	for h, err := range e {
		strs = append(strs, fmt.Sprintf("%s: %s", h, err))
	}
	return "error(s): " + strings.Join(strs, "; ")
}

// PutMulti stores multiple blobs with a single call.
// By default this is implemented as a bunch of concurrent individual Put calls.
// However, if s implements MultiPutter, its PutMulti method is used instead.
// The return value is a mapping of input blobs' hashes to a boolean indicating whether each was a new addition to s.
// The returned error may be a MultiErr,
// mapping input blobs' hashes to errors encountered writing those specific blobs.
func PutMulti(ctx context.Context, s Store, blobs [][]byte) (map[Hash]bool, error) {
	if m, ok := s.(MultiPutter); ok {
		return m.PutMulti(ctx, blobs)
	}

	type triple struct {
		h     Hash
		added bool
		err   error
	}

	var (
		res = make(map[Hash]bool)
		ch  = make(chan triple)
	)

	for _, blob := range blobs {
		blob := blob
		go func() {
			h, added, err := Put(ctx, s, blob)
			ch <- triple{h: h, added: added, err: err}
		}()
	}

	var errmap MultiErr

	for i := 0; i < len(blobs); i++ {
		trip := <-ch
		if trip.err != nil {
			if errmap == nil {
				errmap = make(MultiErr)
			}
			errmap[trip.h] = trip.err
			continue
		}
		if prev, ok := res[trip.h]; ok {
			// The same blob appeared twice in the input.
			trip.added = trip.added || prev
		}
		res[trip.h] = trip.added
	}

	if errmap == nil {
		return res, nil
	}
	return res, errmap
}
