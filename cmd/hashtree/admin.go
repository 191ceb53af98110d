package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"strings"

	"github.com/pkg/errors"

	"github.com/bobg/hashtree/gc"
	"github.com/bobg/hashtree/permalink"
	"github.com/bobg/hashtree/store"
)

// gc deletes everything in the store
// not reachable from the trees named on the command line.
func (c maincmd) gc(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	s, ok := c.s.(gc.Store)
	if !ok {
		return fmt.Errorf("a %T store cannot list its contents", c.s)
	}

	k := gc.NewMemKeep()
	for _, arg := range fs.Args() {
		root, err := parseCID(arg)
		if err != nil {
			return errors.Wrapf(err, "parsing cid %s", arg)
		}
		if err = gc.AddTree(ctx, k, s, root); err != nil {
			return err
		}
	}

	n, err := gc.Run(ctx, s, k)
	c.log.WithField("kept", k.Len()).WithField("deleted", n).Info("garbage collected")
	return err
}

// sync makes this store and the stores of the config files named on the command line
// hold the same blobs.
func (c maincmd) sync(ctx context.Context, fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	s, ok := c.s.(store.ListStore)
	if !ok {
		return fmt.Errorf("a %T store cannot list its contents", c.s)
	}
	stores := []store.ListStore{s}
	for _, arg := range fs.Args() {
		other, err := listStoreFromConfig(ctx, arg)
		if err != nil {
			return errors.Wrapf(err, "reading %s", arg)
		}
		stores = append(stores, other)
	}

	n, err := store.Sync(ctx, stores)
	c.log.WithField("copied", n).Info("synced")
	return err
}

// link converts between CIDs and their bech32 forms.
// With -pubkey it produces an npath link naming a location in a published tree.
func (c maincmd) link(_ context.Context, fs *flag.FlagSet, args []string) error {
	var (
		pubkey = fs.String("pubkey", "", "publisher key, hex-encoded, for an npath link")
		name   = fs.String("tree", "", "published tree name, for an npath link")
		decode = fs.Bool("d", false, "decode instead of encode")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return errors.New("missing argument")
	}

	if *decode {
		if strings.HasPrefix(args[0], permalink.PathPrefix+"1") {
			p, err := permalink.DecodePath(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("pubkey %x\ntree %s\npath %s\n", p.PubKey, p.Tree, strings.Join(p.Segments, "/"))
			if p.Key != nil {
				fmt.Printf("key %s\n", p.Key)
			}
			return nil
		}
		cid, err := permalink.DecodeHash(args[0])
		if err != nil {
			return err
		}
		fmt.Println(cid)
		return nil
	}

	if *pubkey != "" {
		var p permalink.Path
		b, err := hex.DecodeString(*pubkey)
		if err != nil || len(b) != len(p.PubKey) {
			return fmt.Errorf("pubkey must be %d hex-encoded bytes", len(p.PubKey))
		}
		copy(p.PubKey[:], b)
		p.Tree = *name
		if args[0] != "" {
			p.Segments = strings.Split(args[0], "/")
		}
		s, err := permalink.EncodePath(p)
		if err != nil {
			return err
		}
		fmt.Println(s)
		return nil
	}

	cid, err := parseCID(args[0])
	if err != nil {
		return errors.Wrapf(err, "parsing cid %s", args[0])
	}
	s, err := permalink.EncodeHash(cid)
	if err != nil {
		return err
	}
	fmt.Println(s)
	return nil
}
