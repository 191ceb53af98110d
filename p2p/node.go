package p2p

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree"
)

// ErrPoolFull is the error from AddPeer
// when the peer's pool is at its maximum.
var ErrPoolFull = errors.New("peer pool full")

// Node is a hashtree.Store backed by a local store and a set of peers.
// Get consults the local store first and then asks peers,
// writing whatever they supply back to the local store.
// A Node also answers its peers' requests from the local store,
// forwarding the ones it cannot answer.
type Node struct {
	local hashtree.Store
	conf  Config
	pools *Pools
	log   logrus.FieldLogger

	rngMu sync.Mutex
	rng   *rand.Rand

	mu    sync.Mutex
	peers map[string]*Peer
}

var _ hashtree.Store = (*Node)(nil)

// NodeOption configures a Node.
type NodeOption func(*nodeOptions)

type nodeOptions struct {
	log      logrus.FieldLogger
	classify Classifier
	rng      *rand.Rand
}

// WithLogger sets the logger of a Node.
// The default is the logrus standard logger.
func WithLogger(log logrus.FieldLogger) NodeOption {
	return func(o *nodeOptions) { o.log = log }
}

// WithClassifier sets the function that assigns peers to pools.
func WithClassifier(c Classifier) NodeOption {
	return func(o *nodeOptions) { o.classify = c }
}

// WithRand sets the random source from which per-peer HTL policies are drawn.
// The default is seeded from Config.Seed, or from the time if that is zero.
func WithRand(r *rand.Rand) NodeOption {
	return func(o *nodeOptions) { o.rng = r }
}

// NewNode creates a Node over the given local store.
func NewNode(local hashtree.Store, conf Config, opts ...NodeOption) *Node {
	conf = conf.withDefaults()

	o := nodeOptions{log: logrus.StandardLogger()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rng == nil {
		seed := conf.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		o.rng = rand.New(rand.NewSource(seed))
	}

	return &Node{
		local: local,
		conf:  conf,
		pools: NewPools(o.classify, conf.Pools),
		log:   o.log,
		rng:   o.rng,
		peers: make(map[string]*Peer),
	}
}

// Pools gives the Node's peer pools.
func (n *Node) Pools() *Pools {
	return n.pools
}

// Local gives the Node's local store.
func (n *Node) Local() hashtree.Store {
	return n.local
}

func (n *Node) newHTLPolicy() HTLPolicy {
	n.rngMu.Lock()
	defer n.rngMu.Unlock()
	return NewHTLPolicy(n.conf.HTL, n.rng)
}

// AddPeer connects to a peer with the given dial function
// and adds it to the Node.
// The peer is removed from the Node when it disconnects.
func (n *Node) AddPeer(ctx context.Context, id string, dial DialFunc) (*Peer, error) {
	n.mu.Lock()
	if _, ok := n.peers[id]; ok {
		n.mu.Unlock()
		return nil, errors.Errorf("peer %s already added", id)
	}
	pool, ok := n.pools.Admit(id)
	if !ok {
		n.mu.Unlock()
		return nil, errors.Wrapf(ErrPoolFull, "adding peer %s to pool %s", id, pool)
	}

	log := n.log.WithFields(logrus.Fields{"peer": id, "pool": pool})
	p, err := newPeer(id, dial, n.conf, n.newHTLPolicy(), log, n)
	if err != nil {
		n.pools.Release(id)
		n.mu.Unlock()
		return nil, err
	}
	p.Pool = pool
	p.onFinish = func() { n.removePeer(p) }
	n.peers[id] = p
	n.mu.Unlock()

	if err := p.start(ctx); err != nil {
		return nil, err
	}
	log.Info("peer connected")
	return p, nil
}

func (n *Node) removePeer(p *Peer) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.peers[p.ID] != p {
		return
	}
	delete(n.peers, p.ID)
	n.pools.Release(p.ID)
}

// Peer gives the connected peer with the given ID, if there is one.
func (n *Node) Peer(id string) (*Peer, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	p, ok := n.peers[id]
	return p, ok
}

// Peers lists the Node's connected peers
// in pool priority order,
// and by ID within a pool.
func (n *Node) Peers() []*Peer {
	return n.peersExcept(nil)
}

func (n *Node) peersExcept(except *Peer) []*Peer {
	n.mu.Lock()
	out := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		if p != except && p.State() == StateConnected {
			out = append(out, p)
		}
	}
	n.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		pi, pj := n.pools.Priority(out[i].Pool), n.pools.Priority(out[j].Pool)
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Close disconnects from every peer.
func (n *Node) Close() error {
	n.mu.Lock()
	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}
	n.mu.Unlock()

	for _, p := range peers {
		p.Close()
	}
	return nil
}

// Get implements hashtree.Getter.
// It returns hashtree.ErrNotFound only if
// neither the local store nor any peer has h.
func (n *Node) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	data, err := n.local.Get(ctx, h)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, hashtree.ErrNotFound) {
		return nil, err
	}
	data, ok := n.fetch(ctx, h, n.conf.HTL, nil)
	if !ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, hashtree.ErrNotFound
	}
	return data, nil
}

// Has implements hashtree.Getter.
// It consults only the local store.
func (n *Node) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	return n.local.Has(ctx, h)
}

// Put implements hashtree.Store.
// Peers that asked for h are sent the data.
func (n *Node) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	added, err := n.local.Put(ctx, h, data)
	if err != nil {
		return false, err
	}
	n.notify(h, data)
	return added, nil
}

// Delete implements hashtree.Store.
// It deletes only from the local store.
func (n *Node) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	return n.local.Delete(ctx, h)
}

// fetch asks each connected peer but except for h in turn,
// stopping at the first one that supplies it.
func (n *Node) fetch(ctx context.Context, h hashtree.Hash, htl int, except *Peer) ([]byte, bool) {
	for _, p := range n.peersExcept(except) {
		data, ok, err := p.Request(ctx, h, htl)
		if err != nil {
			if ctx.Err() != nil {
				return nil, false
			}
			n.log.WithError(err).WithFields(logrus.Fields{"peer": p.ID, "hash": h}).Debug("request failed")
			continue
		}
		if !ok {
			continue
		}
		n.store(ctx, h, data)
		return data, true
	}
	return nil, false
}

// store writes verified data from a peer to the local store
// and passes it on to peers waiting for it.
func (n *Node) store(ctx context.Context, h hashtree.Hash, data []byte) {
	if _, err := n.local.Put(ctx, h, data); err != nil {
		n.log.WithError(err).WithField("hash", h).Warn("storing fetched data")
	}
	n.notify(h, data)
}

// notify sends data to every peer that asked for h
// when we could not supply it.
func (n *Node) notify(h hashtree.Hash, data []byte) {
	for _, p := range n.Peers() {
		if !p.takeTheirRequest(h) {
			continue
		}
		go func(p *Peer) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.conf.RequestTimeout))
			defer cancel()
			if err := p.Respond(ctx, h, data); err != nil {
				n.log.WithError(err).WithFields(logrus.Fields{"peer": p.ID, "hash": h}).Debug("pushing data")
			}
		}(p)
	}
}

func (n *Node) handleRequest(p *Peer, h hashtree.Hash, htl int) {
	log := n.log.WithFields(logrus.Fields{"peer": p.ID, "hash": h, "htl": htl})

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.conf.RequestTimeout))
	defer cancel()

	data, err := n.local.Get(ctx, h)
	if err == nil {
		if err := p.Respond(ctx, h, data); err != nil {
			log.WithError(err).Debug("responding")
		}
		return
	}
	if !errors.Is(err, hashtree.ErrNotFound) {
		log.WithError(err).Warn("reading local store")
		return
	}

	fwd, ok := p.htl.Next(htl)
	if !ok {
		log.Debug("not forwarding request")
		return
	}

	// The answer reaches p through notify,
	// now or whenever the data arrives.
	p.recordTheirRequest(h)
	if _, ok := n.fetch(ctx, h, fwd, p); !ok {
		log.Debug("forwarded request unmet")
	}
}

func (n *Node) handlePush(p *Peer, h hashtree.Hash, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.conf.RequestTimeout))
	defer cancel()
	n.store(ctx, h, data)
}

// Listener produces inbound peer connections.
// Transports implement it.
type Listener interface {
	// Accept waits for the next inbound connection
	// and gives an identifier for the remote peer.
	Accept(ctx context.Context) (string, Conn, error)
	Close() error
}

// Serve adds a peer for each connection accepted from l
// until ctx is canceled or l fails.
// A connection is refused if its pool is full,
// or if it would take the place of a peer that a higher-priority pool still needs
// (see Pools.Deferred).
func (n *Node) Serve(ctx context.Context, l Listener) error {
	for {
		id, c, err := l.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "accepting connection")
		}
		if n.pools.Deferred(id) {
			n.log.WithField("peer", id).Info("rejecting peer while higher-priority pools are below target")
			c.Close()
			continue
		}
		if _, err := n.AddPeer(ctx, id, Accepted(c)); err != nil {
			n.log.WithError(err).WithField("peer", id).Info("rejecting peer")
			c.Close()
		}
	}
}

// Maintain keeps a connection to a peer,
// redialing after each disconnect
// at intervals given by b,
// until ctx is canceled.
func (n *Node) Maintain(ctx context.Context, id string, dial DialFunc, b *Backoff) error {
	for {
		p, err := n.AddPeer(ctx, id, dial)
		if err == nil {
			b.Reset()
			select {
			case <-p.Done():
			case <-ctx.Done():
				p.Close()
				return ctx.Err()
			}
		} else {
			n.log.WithError(err).WithField("peer", id).Debug("dialing peer")
		}

		t := time.NewTimer(b.Next())
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}
