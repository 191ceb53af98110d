// Command hashtree is a general purpose CLI interface to merkle trees in content-addressed stores,
// and to the peer-to-peer network that exchanges them.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"

	"github.com/bobg/subcmd"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/p2p"
	"github.com/bobg/hashtree/permalink"
	"github.com/bobg/hashtree/store"
	_ "github.com/bobg/hashtree/store/badger"
	_ "github.com/bobg/hashtree/store/bt"
	_ "github.com/bobg/hashtree/store/compress"
	_ "github.com/bobg/hashtree/store/file"
	_ "github.com/bobg/hashtree/store/gcs"
	_ "github.com/bobg/hashtree/store/logging"
	_ "github.com/bobg/hashtree/store/lru"
	_ "github.com/bobg/hashtree/store/mem"
	_ "github.com/bobg/hashtree/store/pg"
	_ "github.com/bobg/hashtree/store/replica"
	_ "github.com/bobg/hashtree/store/rpc"
	_ "github.com/bobg/hashtree/store/sqlite3"
	_ "github.com/bobg/hashtree/store/verify"
)

type maincmd struct {
	s   hashtree.Store
	p2p p2p.Config
	log *logrus.Logger
}

func main() {
	var (
		config  = flag.String("config", "hashtreeconf.json", "path to config file")
		verbose = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetOutput(os.Stderr)

	if *config == "" {
		log.Fatal("Config value not set")
	}

	conf, err := readConfig(*config)
	if err != nil {
		log.Fatal(err)
	}
	if conf.LogLevel != "" {
		lvl, err := logrus.ParseLevel(conf.LogLevel)
		if err != nil {
			log.Fatalf("Parsing log level: %s", err)
		}
		log.SetLevel(lvl)
	}
	if *verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s, err := store.FromConfig(ctx, conf.Store)
	if err != nil {
		log.Fatalf("Creating store: %s", err)
	}

	err = subcmd.Run(ctx, maincmd{s: s, p2p: conf.P2P, log: log}, flag.Args())
	if err != nil {
		log.Fatal(err)
	}
}

func (c maincmd) Subcmds() map[string]subcmd.Subcmd {
	return map[string]subcmd.Subcmd{
		"browse":   c.browse,
		"extract":  c.extract,
		"fetch":    c.fetch,
		"gc":       c.gc,
		"get":      c.get,
		"link":     c.link,
		"ls":       c.ls,
		"mkdir":    c.mkdir,
		"put":      c.put,
		"range":    c.rangecmd,
		"resolve":  c.resolve,
		"serve":    c.serve,
		"sync":     c.sync,
		"walk":     c.walk,
		"write-at": c.writeAt,
	}
}

// parseCID parses a CID in hex form or in nhash form.
func parseCID(s string) (hashtree.CID, error) {
	if strings.HasPrefix(s, permalink.HashPrefix+"1") {
		return permalink.DecodeHash(s)
	}
	return hashtree.ParseCID(s)
}

func cidArg(fs *flag.FlagSet, args []string) (hashtree.CID, []string, error) {
	if err := fs.Parse(args); err != nil {
		return hashtree.CID{}, nil, errors.Wrap(err, "parsing args")
	}
	args = fs.Args()
	if len(args) == 0 {
		return hashtree.CID{}, nil, errors.New("missing cid")
	}
	c, err := parseCID(args[0])
	if err != nil {
		return hashtree.CID{}, nil, errors.Wrapf(err, "parsing cid %s", args[0])
	}
	return c, args[1:], nil
}
