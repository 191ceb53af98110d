package p2p

import (
	"context"
	"io"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/bobg/hashtree"
)

// State is the connection state of a Peer.
type State int

// Peer states.
// A Peer moves forward through these,
// ending in StateClosed or StateFailed.
const (
	StateNew State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

func (s State) terminal() bool {
	return s == StateClosed || s == StateFailed
}

// Event reports a state change of a Peer.
type Event struct {
	PeerID string
	State  State

	// Err is the transport error, for StateFailed.
	Err error
}

// handler receives what a Peer cannot handle by itself.
type handler interface {
	// handleRequest is called, in its own goroutine,
	// for each request the peer sends,
	// as long as fewer than Config.MaxInbound such calls are running.
	handleRequest(p *Peer, h hashtree.Hash, htl int)

	// handlePush is called with verified data
	// that arrived after the request for it timed out.
	handlePush(p *Peer, h hashtree.Hash, data []byte)
}

// Peer is one connection to a remote node.
// It correlates our requests with their responses
// and records the requests it could not yet answer.
type Peer struct {
	ID   string
	Pool string

	dial    DialFunc
	handler handler
	htl     HTLPolicy
	timeout time.Duration
	log     logrus.FieldLogger

	sendMu sync.Mutex

	// Handlers of the peer's requests.
	inbound errgroup.Group

	mu       sync.Mutex
	conn     Conn
	state    State
	closing  bool
	cancel   context.CancelFunc
	pending  map[hashtree.Hash]*pendingRequest
	frags    map[hashtree.Hash]*reassembly
	events   chan Event
	done     chan struct{}
	onFinish func()

	// Hashes the remote peer asked for that we could not supply yet.
	theirRequests *lru.Cache

	// Hashes we asked for whose requests timed out.
	// Late responses for these are still accepted.
	expired *lru.Cache
}

type pendingRequest struct {
	done  chan struct{}
	data  []byte
	timer *time.Timer
}

func newPeer(id string, dial DialFunc, conf Config, htl HTLPolicy, log logrus.FieldLogger, h handler) (*Peer, error) {
	theirRequests, err := lru.New(conf.TheirRequestsSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating their-requests cache")
	}
	expired, err := lru.New(conf.ExpiredSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating expired-requests cache")
	}
	p := &Peer{
		ID:            id,
		dial:          dial,
		handler:       h,
		htl:           htl,
		timeout:       time.Duration(conf.RequestTimeout),
		log:           log,
		pending:       make(map[hashtree.Hash]*pendingRequest),
		frags:         make(map[hashtree.Hash]*reassembly),
		events:        make(chan Event, 4),
		done:          make(chan struct{}),
		theirRequests: theirRequests,
		expired:       expired,
	}
	p.inbound.SetLimit(conf.MaxInbound)
	return p, nil
}

// Events delivers the Peer's state changes.
// It is closed after the final one.
// It is buffered to hold every change,
// so a caller that ignores it does not block the Peer.
func (p *Peer) Events() <-chan Event {
	return p.events
}

// Done is closed when the Peer reaches StateClosed or StateFailed.
func (p *Peer) Done() <-chan struct{} {
	return p.done
}

// State gives the Peer's current state.
func (p *Peer) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// HTLPolicy gives the HTL policy of this connection.
func (p *Peer) HTLPolicy() HTLPolicy {
	return p.htl
}

// start dials the peer and begins reading from it.
func (p *Peer) start(ctx context.Context) error {
	p.setState(StateConnecting, nil)
	conn, err := p.dial(ctx)
	if err != nil {
		err = errors.Wrapf(err, "connecting to %s", p.ID)
		p.setState(StateFailed, err)
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		cancel()
		conn.Close()
		return errors.Errorf("peer %s closed while connecting", p.ID)
	}
	p.conn = conn
	p.cancel = cancel
	p.mu.Unlock()

	p.setState(StateConnected, nil)
	go p.readLoop(runCtx, conn)
	return nil
}

func (p *Peer) setState(s State, err error) {
	p.mu.Lock()
	if p.state.terminal() || s <= p.state {
		p.mu.Unlock()
		return
	}
	p.state = s
	p.events <- Event{PeerID: p.ID, State: s, Err: err}

	if !s.terminal() {
		p.mu.Unlock()
		return
	}

	close(p.events)
	for h, pr := range p.pending {
		p.resolveLocked(h, pr, nil)
	}
	p.frags = make(map[hashtree.Hash]*reassembly)
	onFinish := p.onFinish
	p.mu.Unlock()

	if err != nil {
		p.log.WithError(err).Info("peer failed")
	} else {
		p.log.Debug("peer closed")
	}
	if onFinish != nil {
		onFinish()
	}
	close(p.done)
}

// Close disconnects from the peer.
// Requests outstanding to it resolve as not found.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.closing = true
	conn, cancel := p.conn, p.cancel
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if conn != nil {
		err = conn.Close()
	}
	p.setState(StateClosed, nil)
	return err
}

func (p *Peer) readLoop(ctx context.Context, conn Conn) {
	for {
		b, err := conn.Recv(ctx)
		if err != nil {
			p.mu.Lock()
			closing := p.closing
			p.mu.Unlock()

			conn.Close()
			if closing || errors.Is(err, io.EOF) || ctx.Err() != nil {
				p.setState(StateClosed, nil)
			} else {
				p.setState(StateFailed, err)
			}
			return
		}

		m, err := DecodeMessage(b)
		if err != nil {
			p.log.WithError(err).Debug("dropping malformed message")
			continue
		}
		switch m.Type {
		case MsgRequest:
			var (
				h   = hashtree.HashFromBytes(m.Request.Hash)
				htl = m.Request.HTL
			)
			ok := p.inbound.TryGo(func() error {
				p.handler.handleRequest(p, h, htl)
				return nil
			})
			if !ok {
				p.log.WithField("hash", h).Debug("too many requests in progress, dropping request")
			}
		case MsgResponse:
			p.handleResponse(m.Response)
		}
	}
}

func (p *Peer) send(ctx context.Context, msg []byte) error {
	p.mu.Lock()
	conn, state := p.conn, p.state
	p.mu.Unlock()
	if state != StateConnected {
		return errors.Errorf("peer %s is %s", p.ID, state)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	return conn.Send(ctx, msg)
}

// Request asks the peer for the data with hash h,
// forwardable with the given HTL.
// Concurrent requests for the same hash share one wire request.
// If no verified answer arrives within the request timeout,
// or the peer disconnects,
// the result is false with no error.
func (p *Peer) Request(ctx context.Context, h hashtree.Hash, htl int) ([]byte, bool, error) {
	p.mu.Lock()
	if p.state != StateConnected {
		p.mu.Unlock()
		return nil, false, nil
	}
	pr, ok := p.pending[h]
	if !ok {
		pr = &pendingRequest{done: make(chan struct{})}
		p.pending[h] = pr
		pr.timer = time.AfterFunc(p.timeout, func() { p.expire(h, pr) })
	}
	p.mu.Unlock()

	if !ok {
		msg, err := EncodeRequest(&Request{Hash: h[:], HTL: htl})
		if err == nil {
			err = p.send(ctx, msg)
		}
		if err != nil {
			p.mu.Lock()
			p.resolveLocked(h, pr, nil)
			p.mu.Unlock()
			return nil, false, errors.Wrapf(err, "sending request to %s", p.ID)
		}
		p.log.WithFields(logrus.Fields{"hash": h, "htl": htl}).Debug("sent request")
	}

	select {
	case <-pr.done:
		return pr.data, pr.data != nil, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (p *Peer) expire(h hashtree.Hash, pr *pendingRequest) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending[h] != pr {
		return
	}
	p.expired.Add(h, struct{}{})
	p.resolveLocked(h, pr, nil)
	p.log.WithField("hash", h).Debug("request timed out")
}

// resolveLocked completes a pending request.
// The caller must hold p.mu.
func (p *Peer) resolveLocked(h hashtree.Hash, pr *pendingRequest, data []byte) {
	if p.pending[h] != pr {
		return
	}
	delete(p.pending, h)
	if pr.timer != nil {
		pr.timer.Stop()
	}
	pr.data = data
	close(pr.done)
}

func (p *Peer) handleResponse(resp *Response) {
	var (
		h    = hashtree.HashFromBytes(resp.Hash)
		data = resp.Data
		log  = p.log.WithField("hash", h)
	)

	if resp.FragmentIndex != nil || resp.FragmentCount != nil {
		if resp.FragmentIndex == nil || resp.FragmentCount == nil {
			log.Debug("dropping fragment with missing index or count")
			return
		}
		index, count := *resp.FragmentIndex, *resp.FragmentCount
		if count < 1 || count > maxFragments || index < 0 || index >= count {
			log.WithFields(logrus.Fields{"index": index, "count": count}).Debug("dropping fragment with bad index or count")
			return
		}

		p.mu.Lock()
		if _, ok := p.pending[h]; !ok && !p.expired.Contains(h) {
			p.mu.Unlock()
			log.Debug("dropping unsolicited fragment")
			return
		}
		r := p.frags[h]
		if r == nil || len(r.parts) != count {
			r = &reassembly{parts: make([][]byte, count)}
			p.frags[h] = r
		}
		whole, ok := r.add(index, data)
		if ok {
			delete(p.frags, h)
		}
		p.mu.Unlock()

		if !ok {
			return
		}
		data = whole
	}

	if got := hashtree.Sum(data); got != h {
		log.WithField("got", got).Warn("dropping response that does not match its hash")
		return
	}
	if data == nil {
		// Distinguishes the empty blob from not found.
		data = []byte{}
	}

	p.mu.Lock()
	if pr, ok := p.pending[h]; ok {
		p.resolveLocked(h, pr, data)
		p.mu.Unlock()
		return
	}
	late := p.expired.Contains(h)
	if late {
		p.expired.Remove(h)
	}
	p.mu.Unlock()

	if !late {
		log.Debug("dropping unsolicited response")
		return
	}
	log.Debug("accepting late response")
	p.handler.handlePush(p, h, data)
}

// Respond sends data for h to the peer,
// in fragments if necessary.
func (p *Peer) Respond(ctx context.Context, h hashtree.Hash, data []byte) error {
	for _, resp := range Fragments(h, data) {
		msg, err := EncodeResponse(resp)
		if err != nil {
			return err
		}
		if err := p.send(ctx, msg); err != nil {
			return errors.Wrapf(err, "responding to %s", p.ID)
		}
	}
	return nil
}

// recordTheirRequest notes that the peer wants h,
// so that it can be sent when it arrives.
func (p *Peer) recordTheirRequest(h hashtree.Hash) {
	p.theirRequests.Add(h, struct{}{})
}

// takeTheirRequest tells whether the peer is waiting for h,
// and forgets that it is.
func (p *Peer) takeTheirRequest(h hashtree.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.theirRequests.Contains(h) {
		return false
	}
	p.theirRequests.Remove(h)
	return true
}
