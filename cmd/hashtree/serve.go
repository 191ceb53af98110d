package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/bobg/hashtree/p2p"
	"github.com/bobg/hashtree/p2p/quictransport"
	"github.com/bobg/hashtree/p2p/wstransport"
	"github.com/bobg/hashtree/store/rpc"
	"github.com/bobg/hashtree/tree"
)

func (c maincmd) newNode() *p2p.Node {
	return p2p.NewNode(c.s, c.p2p, p2p.WithLogger(c.log))
}

// dialPeers keeps n connected to the peers named in the config
// until ctx is canceled.
func (c maincmd) dialPeers(ctx context.Context, g *errgroup.Group, n *p2p.Node) {
	for _, addr := range c.p2p.QUICPeers {
		g.Go(func() error {
			return n.Maintain(ctx, addr, quictransport.Dialer(addr), p2p.NewBackoff(time.Second, time.Minute, 2, 0.2))
		})
	}
	for _, url := range c.p2p.WSPeers {
		r := wstransport.NewRedialer(n, url)
		g.Go(func() error { return r.Run(ctx) })
	}
}

func (c maincmd) serve(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		quicAddr = fs.String("quic", c.p2p.QUICListen, "QUIC listen address for peers")
		wsAddr   = fs.String("ws", c.p2p.WSListen, "websocket listen address for peers")
		rpcAddr  = fs.String("rpc", "", "gRPC listen address for store clients")
	)
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "parsing args")
	}
	if *quicAddr == "" && *wsAddr == "" && *rpcAddr == "" {
		return errors.New("nothing to serve")
	}

	n := c.newNode()
	defer n.Close()

	g, ctx := errgroup.WithContext(ctx)

	if *quicAddr != "" {
		l, err := quictransport.Listen(*quicAddr, c.log)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", *quicAddr)
		}
		c.log.WithField("addr", l.Addr()).Info("listening for QUIC peers")
		g.Go(func() error {
			defer l.Close()
			return n.Serve(ctx, l)
		})
	}

	if *wsAddr != "" {
		h := wstransport.NewHandler(c.log)
		srv := &http.Server{Addr: *wsAddr, Handler: h}
		c.log.WithField("addr", *wsAddr).Info("listening for websocket peers")
		g.Go(func() error { return n.Serve(ctx, h) })
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			h.Close()
			return srv.Shutdown(context.Background())
		})
	}

	if *rpcAddr != "" {
		lis, err := net.Listen("tcp", *rpcAddr)
		if err != nil {
			return errors.Wrapf(err, "listening on %s", *rpcAddr)
		}
		gs := grpc.NewServer(grpc.UnaryInterceptor(rpc.LogInterceptor(c.log)))

		// Clients of the gRPC service reach the whole network through the node.
		rpc.NewServer(n).Register(gs)

		c.log.WithField("addr", lis.Addr()).Info("serving store over gRPC")
		g.Go(func() error { return gs.Serve(lis) })
		g.Go(func() error {
			<-ctx.Done()
			gs.GracefulStop()
			return nil
		})
	}

	c.dialPeers(ctx, g, n)

	g.Go(func() error {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				for name, stats := range n.Pools().Stats() {
					log := c.log.WithField("pool", name).WithField("peers", stats.Count)
					if n.Pools().NeedsPeers(name) {
						log.WithField("target", stats.Target).Info("pool below target")
					} else {
						log.Debug("pool stats")
					}
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// fetch reads a tree,
// getting any parts missing from the local store from peers.
func (c maincmd) fetch(ctx context.Context, fs *flag.FlagSet, args []string) error {
	var (
		wait = fs.Duration("wait", 5*time.Second, "how long to wait for a peer connection")
		out  = fs.String("o", "", "output file (default stdout)")
	)
	cid, _, err := cidArg(fs, args)
	if err != nil {
		return err
	}

	n := c.newNode()
	defer n.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	c.dialPeers(ctx, &g, n)
	defer g.Wait()
	defer cancel()

	deadline := time.Now().Add(*wait)
	for !connected(n) && time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}

	data, ok, err := tree.ReadFile(ctx, n, cid)
	if err != nil {
		return errors.Wrapf(err, "reading %s", cid)
	}
	if !ok {
		return errors.Errorf("%s not found", cid)
	}

	if *out == "" {
		_, err = os.Stdout.Write(data)
		return errors.Wrap(err, "writing to stdout")
	}
	return errors.Wrapf(os.WriteFile(*out, data, 0644), "writing %s", *out)
}

func connected(n *p2p.Node) bool {
	for _, p := range n.Peers() {
		if p.State() == p2p.StateConnected {
			return true
		}
	}
	return false
}
