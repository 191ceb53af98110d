// Package replica implements a Store that writes to several nested stores.
package replica

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = (*Store)(nil)
	_ hashtree.Lister = (*Store)(nil)
)

// Store is a Store that delegates reads and writes to two sets of nested stores.
// One set is synchronous:
// writes to all of these must succeed before a call to Put returns,
// and an error from any will cause Put to fail.
// The other set is asynchronous:
// a call to Put queues writes on these stores but does not wait for them to finish.
// However, if any asynchronous write encounters an error,
// the whole Store is put into an error state and further operations will fail.
type Store struct {
	sync   []hashtree.Store
	async  []chan<- op
	cancel context.CancelFunc

	mu  sync.Mutex // protects err
	err error      // the error from an async goroutine, if any
}

// An op is a queued write to an async store.
type op struct {
	h    hashtree.Hash
	data []byte // nil means delete
}

// New produces a new Store.
// The set of synchronous stores must be non-empty.
// The set of asynchronous stores may be empty.
// If there are any asynchronous stores,
// goroutines are launched for them,
// and canceling the given context object causes those to exit,
// placing the Store in an error state.
//
// Normally, writes to asynchronous stores do not block calls to Put,
// but the queue for each nested store has a fixed length given by n,
// which must be 1 or greater.
// If any async store falls too far behind,
// Put will block until all requests can be queued.
func New(ctx context.Context, sync []hashtree.Store, async []hashtree.Store, n int) *Store {
	result := &Store{sync: sync}

	if len(async) > 0 {
		ctx, result.cancel = context.WithCancel(ctx)
		for _, a := range async {
			ops := make(chan op, n)
			result.async = append(result.async, ops)
			go func() {
				if err := runAsync(ctx, a, ops); err != nil {
					result.setErr(err)
				}
			}()
		}
	}

	return result
}

// Runs until ctx is canceled or an error occurs.
func runAsync(ctx context.Context, s hashtree.Store, ops <-chan op) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case o := <-ops:
			var err error
			if o.data == nil {
				_, err = s.Delete(ctx, o.h)
			} else {
				_, err = s.Put(ctx, o.h, o.data)
			}
			if err != nil {
				return errors.Wrapf(err, "async write of %s", o.h)
			}
		}
	}
}

func (s *Store) setErr(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.cancel()
}

func (s *Store) checkErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return errors.Wrap(s.err, "in async-store goroutine")
}

func (s *Store) enqueue(ctx context.Context, o op) error {
	for _, a := range s.async {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case a <- o:
		}
	}
	return nil
}

// Put stores data in all synchronous nested stores.
// An error from any of them causes Put to return an error.
// The result is true if any synchronous store added the data.
//
// A request to write the blob is queued for any asynchronous nested stores.
// Normally this does not block the call to Put,
// but if any async store falls too far behind,
// Put must wait for space to open in its request queue before proceeding.
// The size of this queue is given by the int passed to New.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	if err := s.checkErr(); err != nil {
		return false, err
	}
	if data == nil {
		data = []byte{}
	}

	var (
		g, gctx = errgroup.WithContext(ctx)
		mu      sync.Mutex
		added   bool
	)
	for _, st := range s.sync {
		g.Go(func() error {
			a, err := st.Put(gctx, h, data)
			if err != nil {
				return err
			}
			mu.Lock()
			added = added || a
			mu.Unlock()
			return nil
		})
	}

	if err := s.enqueue(ctx, op{h: h, data: data}); err != nil {
		return false, err
	}

	err := g.Wait()
	return added, err
}

// Get delegates the request to all of the synchronous stores in s,
// returning the result from the first one to respond without error
// and canceling the request to the others.
// If all synchronous stores respond with an error,
// one of those errors is returned.
func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	if err := s.checkErr(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		g  errgroup.Group
		ch = make(chan []byte, len(s.sync))
	)
	for _, st := range s.sync {
		g.Go(func() error {
			b, err := st.Get(ctx, h)
			if err != nil {
				return err
			}
			ch <- b
			cancel()
			return nil
		})
	}
	err := g.Wait()
	select {
	case b := <-ch:
		return b, nil
	default:
		return nil, err
	}
}

// Has tells whether any synchronous store has h.
func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	if err := s.checkErr(); err != nil {
		return false, err
	}
	for _, st := range s.sync {
		ok, err := st.Has(ctx, h)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Delete removes h from all the synchronous stores,
// and queues its removal from the asynchronous ones.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	if err := s.checkErr(); err != nil {
		return false, err
	}
	var deleted bool
	for _, st := range s.sync {
		d, err := st.Delete(ctx, h)
		if err != nil {
			return false, err
		}
		deleted = deleted || d
	}
	return deleted, s.enqueue(ctx, op{h: h})
}

// ListRefs delegates the request to all of the synchronous stores in s
// and synthesizes the result from the union of their hashes.
// Each synchronous store must be a hashtree.Lister.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	if err := s.checkErr(); err != nil {
		return err
	}

	listers := make([]hashtree.Lister, 0, len(s.sync))
	for _, st := range s.sync {
		l, ok := st.(hashtree.Lister)
		if !ok {
			return fmt.Errorf("nested store is a %T and not a Lister", st)
		}
		listers = append(listers, l)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	chans := make([]chan hashtree.Hash, len(listers))
	for i, l := range listers {
		ch := make(chan hashtree.Hash, 1)
		chans[i] = ch
		g.Go(func() error {
			defer close(ch)
			return l.ListRefs(ctx, start, func(h hashtree.Hash) error {
				select {
				case <-ctx.Done():
					return ctx.Err()
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
	heads := make([]head, len(chans))
	for i, ch := range chans {
		heads[i].h, heads[i].ok = <-ch
	}

	for {
		best := -1
		for i, hd := range heads {
			if hd.ok && (best < 0 || hd.h.Less(heads[best].h)) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		h := heads[best].h
		if err := f(h); err != nil {
			return err
		}
		for i := range heads {
			if heads[i].ok && heads[i].h == h {
				heads[i].h, heads[i].ok = <-chans[i]
			}
		}
	}

	return g.Wait()
}

func nestedList(ctx context.Context, conf map[string]interface{}, key string) ([]hashtree.Store, error) {
	items, _ := conf[key].([]interface{})
	var result []hashtree.Store
	for i, item := range items {
		nested, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf(`%s item %d is not an object`, key, i)
		}
		s, err := store.FromConfig(ctx, nested)
		if err != nil {
			return nil, errors.Wrapf(err, "creating nested %s store %d", key, i)
		}
		result = append(result, s)
	}
	return result, nil
}

func init() {
	store.Register("replica", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		syncStores, err := nestedList(ctx, conf, "sync")
		if err != nil {
			return nil, err
		}
		if len(syncStores) == 0 {
			return nil, errors.New(`missing "sync" parameter`)
		}
		asyncStores, err := nestedList(ctx, conf, "async")
		if err != nil {
			return nil, err
		}
		queueLen, ok := store.Int(conf, "queuelen")
		if !ok || queueLen < 1 {
			queueLen = 10
		}
		return New(ctx, syncStores, asyncStores, queueLen), nil
	})
}
