// Package gcs implements a Store on Google Cloud Storage.
package gcs

import (
	"context"
	stderrs "errors"
	"io"
	"net/http"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Store{}
	_ hashtree.Lister = &Store{}
)

// Store is a Google Cloud Storage-based implementation of a Store.
type Store struct {
	bucket *storage.BucketHandle
}

// New produces a new Store.
func New(bucket *storage.BucketHandle) *Store {
	return &Store{bucket: bucket}
}

// Get gets the data with hash h.
func (s *Store) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	name := objName(h)
	r, err := s.bucket.Object(name).NewReader(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return nil, hashtree.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading info of object %s", name)
	}
	defer r.Close()

	data := make([]byte, r.Attrs.Size)
	_, err = io.ReadFull(r, data)
	return data, errors.Wrapf(err, "reading contents of object %s", name)
}

// Has tells whether h is present.
func (s *Store) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	name := objName(h)
	_, err := s.bucket.Object(name).Attrs(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "getting attrs of object %s", name)
	}
	return true, nil
}

// Put adds data to the store if it wasn't already present.
func (s *Store) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	var (
		name = objName(h)
		obj  = s.bucket.Object(name).If(storage.Conditions{DoesNotExist: true})
		w    = obj.NewWriter(ctx)
	)
	if _, err := w.Write(data); err != nil {
		w.Close()
		if isPreconditionFailed(err) {
			return false, nil
		}
		return false, errors.Wrapf(err, "writing object %s", name)
	}

	// The precondition is checked when the upload completes.
	err := w.Close()
	if isPreconditionFailed(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "writing object %s", name)
	}
	return true, nil
}

func isPreconditionFailed(err error) bool {
	var e *googleapi.Error
	return stderrs.As(err, &e) && e.Code == http.StatusPreconditionFailed
}

// Delete removes the data with hash h.
func (s *Store) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	name := objName(h)
	err := s.bucket.Object(name).Delete(ctx)
	if stderrs.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "deleting object %s", name)
	}
	return true, nil
}

// ListRefs produces all hashes in the store, in lexicographic order.
func (s *Store) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	// Google Cloud Storage iterators have no API for starting in the middle of a bucket.
	// But they can filter by object-name prefix.
	// So we take (the hex encoding of) start and repeatedly compute prefixes for the objects we want.
	// If start is e67a, for example, the sequence of generated prefixes is:
	//   e67b e67c e67d e67e e67f
	//   e68 e69 e6a e6b e6c e6d e6e e6f
	//   e7 e8 e9 ea eb ec ed ee ef
	//   f
	return eachHexPrefix(start.String(), false, func(prefix string) error {
		return s.listRefs(ctx, prefix, f)
	})
}

func (s *Store) listRefs(ctx context.Context, prefix string, f func(hashtree.Hash) error) error {
	iter := s.bucket.Objects(ctx, &storage.Query{Prefix: objPrefix + prefix})
	for {
		obj, err := iter.Next()
		if stderrs.Is(err, iterator.Done) {
			return nil
		}
		if err != nil {
			return err
		}
		h, err := hashFromObjName(obj.Name)
		if err != nil {
			return errors.Wrapf(err, "decoding object name %s", obj.Name)
		}
		if err := f(h); err != nil {
			return err
		}
	}
}

func eachHexPrefix(prefix string, incl bool, f func(string) error) error {
	prefix = strings.ToLower(prefix)
	for len(prefix) > 0 {
		end := hexval(prefix[len(prefix)-1:][0])
		if !incl {
			end++
		}
		prefix = prefix[:len(prefix)-1]
		for c := end; c < 16; c++ {
			err := f(prefix + string(hexdigit(c)))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func hexval(b byte) int {
	switch {
	case '0' <= b && b <= '9':
		return int(b - '0')
	case 'a' <= b && b <= 'f':
		return int(10 + b - 'a')
	case 'A' <= b && b <= 'F':
		return int(10 + b - 'A')
	}
	return 0
}

func hexdigit(n int) byte {
	if n < 10 {
		return byte(n + '0')
	}
	return byte(n - 10 + 'a')
}

const objPrefix = "b:"

func objName(h hashtree.Hash) string {
	return objPrefix + h.String()
}

func hashFromObjName(name string) (hashtree.Hash, error) {
	if !strings.HasPrefix(name, objPrefix) {
		return hashtree.Zero, errors.New("missing prefix")
	}
	return hashtree.HashFromHex(name[len(objPrefix):])
}

func init() {
	store.Register("gcs", func(ctx context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		bucketName, ok := conf["bucket"].(string)
		if !ok {
			return nil, errors.New(`missing "bucket" parameter`)
		}
		var options []option.ClientOption
		if creds, ok := conf["creds"].(string); ok {
			options = append(options, option.WithCredentialsFile(creds))
		}
		c, err := storage.NewClient(ctx, options...)
		if err != nil {
			return nil, errors.Wrap(err, "creating cloud storage client")
		}
		return New(c.Bucket(bucketName)), nil
	})
}
