// Package logging implements a store that delegates everything to a nested store,
// logging operations as they happen.
package logging

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

type Store struct {
	s   hashtree.Store
	log logrus.FieldLogger
}

// New produces a Store that logs calls on s to log.
// A nil log means the standard logrus logger.
func New(s hashtree.Store, log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{s: s, log: log}
}

func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	b, err := s.s.Get(ctx, h)
	entry := s.log.WithFields(logrus.Fields{"op": "get", "hash": h})
	switch {
	case errors.Is(err, hashtree.ErrNotFound):
		entry.Debug("not found")
	case err != nil:
		entry.WithError(err).Error("get failed")
	default:
		entry.WithField("len", len(b)).Debug("get")
	}
	return b, err
}

func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	ok, err := s.s.Has(ctx, h)
	entry := s.log.WithFields(logrus.Fields{"op": "has", "hash": h})
	if err != nil {
		entry.WithError(err).Error("has failed")
	} else {
		entry.WithField("has", ok).Debug("has")
	}
	return ok, err
}

func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	added, err := s.s.Put(ctx, h, data)
	entry := s.log.WithFields(logrus.Fields{"op": "put", "hash": h, "len": len(data)})
	if err != nil {
		entry.WithError(err).Error("put failed")
	} else {
		entry.WithField("added", added).Debug("put")
	}
	return added, err
}

func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	deleted, err := s.s.Delete(ctx, h)
	entry := s.log.WithFields(logrus.Fields{"op": "delete", "hash": h})
	if err != nil {
		entry.WithError(err).Error("delete failed")
	} else {
		entry.WithField("deleted", deleted).Debug("delete")
	}
	return deleted, err
}

func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	l, ok := s.s.(hashtree.Lister)
	if !ok {
		return errors.New("nested store is not a Lister")
	}
	log := s.log.WithFields(logrus.Fields{"op": "listrefs", "start": start})
	log.Debug("listing")
	err := l.ListRefs(ctx, start, func(h hashtree.Hash) error {
		err := f(h)
		if err != nil {
			log.WithField("hash", h).WithError(err).Error("callback failed")
		} else {
			log.WithField("hash", h).Trace("listed")
		}
		return err
	})
	if err != nil {
		log.WithError(err).Error("listing failed")
	}
	return err
}

func init() {
	store.Register("logging", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		nested, err := store.Nested(ctx, conf)
		if err != nil {
			return nil, err
		}
		log := logrus.StandardLogger()
		if level, ok := conf["level"].(string); ok {
			lvl, err := logrus.ParseLevel(level)
			if err != nil {
				return nil, err
			}
			log = logrus.New()
			log.SetLevel(lvl)
		}
		return New(nested, log), nil
	})
}
