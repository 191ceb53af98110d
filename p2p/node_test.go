package p2p

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store/mem"
)

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newTestNode(seed int64, timeout time.Duration) *Node {
	conf := Config{RequestTimeout: Duration(timeout)}
	return NewNode(mem.New(), conf, WithRand(rand.New(rand.NewSource(seed))), WithLogger(testLogger()))
}

// connect links a and b with an in-memory pipe.
// It returns a's Peer for b and b's Peer for a.
func connect(ctx context.Context, t *testing.T, a, b *Node, aID, bID string) (*Peer, *Peer) {
	t.Helper()
	ca, cb := Pipe()
	pb, err := a.AddPeer(ctx, bID, Accepted(ca))
	if err != nil {
		t.Fatal(err)
	}
	pa, err := b.AddPeer(ctx, aID, Accepted(cb))
	if err != nil {
		t.Fatal(err)
	}
	return pb, pa
}

func randData(seed int64, n int) []byte {
	data := make([]byte, n)
	rand.New(rand.NewSource(seed)).Read(data)
	return data
}

func waitFor(t *testing.T, what string, f func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !f() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func hasLocal(ctx context.Context, n *Node, h hashtree.Hash) bool {
	ok, err := n.Local().Has(ctx, h)
	return err == nil && ok
}

func TestFetchFromPeer(t *testing.T) {
	ctx := context.Background()

	for _, size := range []int{0, 100, FragmentSize, 3*FragmentSize + 17} {
		a, b := newTestNode(1, time.Second), newTestNode(2, time.Second)
		connect(ctx, t, a, b, "a", "b")

		data := randData(int64(size), size)
		h, _, err := hashtree.Put(ctx, a, data)
		if err != nil {
			t.Fatal(err)
		}

		got, err := b.Get(ctx, h)
		if err != nil {
			t.Fatalf("size %d: %s", size, err)
		}
		if !bytes.Equal(got, data) {
			t.Fatalf("size %d: got different data", size)
		}
		if !hasLocal(ctx, b, h) {
			t.Errorf("size %d: fetched data not written to local store", size)
		}
		a.Close()
		b.Close()
	}
}

func TestGetNotFound(t *testing.T) {
	ctx := context.Background()
	a, b := newTestNode(1, 100*time.Millisecond), newTestNode(2, 100*time.Millisecond)
	connect(ctx, t, a, b, "a", "b")
	defer a.Close()
	defer b.Close()

	_, err := b.Get(ctx, hashtree.Sum([]byte("nonesuch")))
	if !errors.Is(err, hashtree.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}

	lonely := newTestNode(3, time.Second)
	if _, err := lonely.Get(ctx, hashtree.Sum([]byte("nonesuch"))); !errors.Is(err, hashtree.ErrNotFound) {
		t.Errorf("got error %v from node with no peers", err)
	}
}

// chain connects nodes in a line
// and returns, for each node but the last,
// its Peer for the next node,
// and, for each node but the first,
// its Peer for the previous one.
func chain(ctx context.Context, t *testing.T, nodes ...*Node) (next, prev []*Peer) {
	next = make([]*Peer, len(nodes))
	prev = make([]*Peer, len(nodes))
	for i := 0; i+1 < len(nodes); i++ {
		next[i], prev[i+1] = connect(ctx, t, nodes[i], nodes[i+1], string(rune('a'+i)), string(rune('a'+i+1)))
	}
	return next, prev
}

func TestForwarding(t *testing.T) {
	ctx := context.Background()
	a, b, c := newTestNode(1, time.Second), newTestNode(2, time.Second), newTestNode(3, time.Second)
	chain(ctx, t, a, b, c)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	data := randData(1, 2*FragmentSize)
	h, _, err := hashtree.Put(ctx, c, data)
	if err != nil {
		t.Fatal(err)
	}

	got, err := a.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("got different data")
	}
	waitFor(t, "intermediate node to store data", func() bool { return hasLocal(ctx, b, h) })
}

func TestHTLZeroNotForwarded(t *testing.T) {
	ctx := context.Background()
	a, b, c := newTestNode(1, 200*time.Millisecond), newTestNode(2, time.Second), newTestNode(3, time.Second)
	next, _ := chain(ctx, t, a, b, c)
	defer a.Close()
	defer b.Close()
	defer c.Close()

	data := []byte("only c has this")
	h, _, err := hashtree.Put(ctx, c, data)
	if err != nil {
		t.Fatal(err)
	}

	_, ok, err := next[0].Request(ctx, h, 0)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("request with htl 0 was answered from two hops away")
	}
	if hasLocal(ctx, b, h) {
		t.Error("request with htl 0 was forwarded")
	}
}

func TestHTLOneGoesOneHop(t *testing.T) {
	ctx := context.Background()

	cases := []struct {
		name           string
		decrementAtMin bool
		holder         int
		wantFound      bool
	}{
		{"next-but-one", false, 2, true},
		{"dropped at min", true, 2, false},
		{"too far", false, 3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nodes := []*Node{
				newTestNode(1, 300*time.Millisecond),
				newTestNode(2, 300*time.Millisecond),
				newTestNode(3, 300*time.Millisecond),
				newTestNode(4, 300*time.Millisecond),
			}
			next, prev := chain(ctx, t, nodes...)
			for _, n := range nodes {
				defer n.Close()
			}
			for _, p := range prev[1:] {
				p.htl = HTLPolicy{Max: MaxHTL, DecrementAtMin: tc.decrementAtMin}
			}

			data := []byte(tc.name)
			h, _, err := hashtree.Put(ctx, nodes[tc.holder], data)
			if err != nil {
				t.Fatal(err)
			}

			got, ok, err := next[0].Request(ctx, h, 1)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tc.wantFound {
				t.Fatalf("found = %v, want %v", ok, tc.wantFound)
			}
			if ok && !bytes.Equal(got, data) {
				t.Error("got different data")
			}
		})
	}
}

// fakePeer is the far end of a Pipe,
// driven directly by a test.
type fakePeer struct {
	t    *testing.T
	conn Conn
}

func newFakePeer(ctx context.Context, t *testing.T, n *Node) (*fakePeer, *Peer) {
	t.Helper()
	ours, theirs := Pipe()
	p, err := n.AddPeer(ctx, "fake", Accepted(ours))
	if err != nil {
		t.Fatal(err)
	}
	return &fakePeer{t: t, conn: theirs}, p
}

func (f *fakePeer) recvRequest(ctx context.Context) (*Request, error) {
	b, err := f.conn.Recv(ctx)
	if err != nil {
		return nil, err
	}
	m, err := DecodeMessage(b)
	if err != nil {
		return nil, err
	}
	if m.Type != MsgRequest {
		return nil, errors.Errorf("got message type %d", m.Type)
	}
	return m.Request, nil
}

func (f *fakePeer) send(ctx context.Context, h hashtree.Hash, data []byte) {
	f.t.Helper()
	for _, resp := range Fragments(h, data) {
		b, err := EncodeResponse(resp)
		if err != nil {
			f.t.Fatal(err)
		}
		if err := f.conn.Send(ctx, b); err != nil {
			f.t.Fatal(err)
		}
	}
}

func TestCoalescing(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(1, 5*time.Second)
	defer n.Close()
	fake, _ := newFakePeer(ctx, t, n)

	data := randData(1, 1000)
	h := hashtree.Sum(data)

	var (
		wg      sync.WaitGroup
		results = make([][]byte, 5)
		errs    = make([]error, 5)
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = n.Get(ctx, h)
		}(i)
	}

	req, err := fake.recvRequest(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if hashtree.HashFromBytes(req.Hash) != h || req.HTL != MaxHTL {
		t.Fatalf("got request %x with htl %d", req.Hash, req.HTL)
	}

	time.Sleep(100 * time.Millisecond)
	quietCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	if req, err := fake.recvRequest(quietCtx); err == nil {
		t.Fatalf("got second request %x", req.Hash)
	}

	fake.send(ctx, h, data)
	wg.Wait()
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %s", i, errs[i])
		}
		if !bytes.Equal(results[i], data) {
			t.Fatalf("waiter %d got different data", i)
		}
	}
}

func TestBadResponseDropped(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(1, 200*time.Millisecond)
	defer n.Close()
	fake, _ := newFakePeer(ctx, t, n)

	h := hashtree.Sum([]byte("wanted"))
	go func() {
		if _, err := fake.recvRequest(ctx); err == nil {
			fake.send(ctx, h, []byte("something else"))
		}
	}()

	if _, err := n.Get(ctx, h); !errors.Is(err, hashtree.ErrNotFound) {
		t.Errorf("got error %v, want ErrNotFound", err)
	}
	if hasLocal(ctx, n, h) {
		t.Error("unverified data stored")
	}
}

func TestLateResponse(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(1, 100*time.Millisecond)
	defer n.Close()
	fake, _ := newFakePeer(ctx, t, n)

	var (
		data = []byte("late")
		h    = hashtree.Sum(data)

		unsolicited  = []byte("unsolicited")
		uh           = hashtree.Sum(unsolicited)
		marker       = []byte("marker")
		mh           = hashtree.Sum(marker)
		markerResult = make(chan []byte)
	)

	if _, err := n.Get(ctx, h); !errors.Is(err, hashtree.ErrNotFound) {
		t.Fatalf("got error %v, want ErrNotFound", err)
	}
	if _, err := fake.recvRequest(ctx); err != nil {
		t.Fatal(err)
	}

	// Responses are handled in order,
	// so once the marker is answered
	// the two before it have been handled too.
	fake.send(ctx, uh, unsolicited)
	fake.send(ctx, h, data)
	go func() {
		got, _ := n.Get(ctx, mh)
		markerResult <- got
	}()
	if _, err := fake.recvRequest(ctx); err != nil {
		t.Fatal(err)
	}
	fake.send(ctx, mh, marker)
	if got := <-markerResult; !bytes.Equal(got, marker) {
		t.Fatal("marker request failed")
	}

	if !hasLocal(ctx, n, h) {
		t.Error("late response not stored")
	}
	if hasLocal(ctx, n, uh) {
		t.Error("unsolicited response stored")
	}
}

func TestPushToEarlierRequester(t *testing.T) {
	ctx := context.Background()
	a, b := newTestNode(1, 5*time.Second), newTestNode(2, 5*time.Second)
	_, pa := connect(ctx, t, a, b, "a", "b")
	defer a.Close()
	defer b.Close()

	data := []byte("arrives later")
	h := hashtree.Sum(data)

	type result struct {
		data []byte
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		got, err := a.Get(ctx, h)
		ch <- result{got, err}
	}()

	waitFor(t, "b to record a's request", func() bool { return pa.theirRequests.Contains(h) })

	if _, err := b.Put(ctx, h, data); err != nil {
		t.Fatal(err)
	}
	res := <-ch
	if res.err != nil {
		t.Fatal(res.err)
	}
	if !bytes.Equal(res.data, data) {
		t.Error("got different data")
	}
	if pa.theirRequests.Contains(h) {
		t.Error("their-request still recorded after push")
	}
}

func TestPeerClose(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(1, 5*time.Second)
	defer n.Close()
	fake, p := newFakePeer(ctx, t, n)

	done := make(chan bool)
	go func() {
		_, ok, _ := p.Request(ctx, hashtree.Sum([]byte("x")), 3)
		done <- ok
	}()
	if _, err := fake.recvRequest(ctx); err != nil {
		t.Fatal(err)
	}
	fake.conn.Close()

	if <-done {
		t.Error("request to closed peer succeeded")
	}
	<-p.Done()
	if s := p.State(); s != StateClosed {
		t.Errorf("got state %s, want closed", s)
	}

	var states []State
	for ev := range p.Events() {
		states = append(states, ev.State)
	}
	want := []State{StateConnecting, StateConnected, StateClosed}
	if len(states) != len(want) {
		t.Fatalf("got states %v, want %v", states, want)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("got states %v, want %v", states, want)
		}
	}

	waitFor(t, "peer removal", func() bool {
		_, ok := n.Peer("fake")
		return !ok
	})
	if _, ok, err := p.Request(ctx, hashtree.Sum([]byte("y")), 3); ok || err != nil {
		t.Errorf("request after close: %v, %v", ok, err)
	}
}

func TestDialFailure(t *testing.T) {
	ctx := context.Background()
	n := newTestNode(1, time.Second)
	defer n.Close()

	_, err := n.AddPeer(ctx, "x", func(context.Context) (Conn, error) {
		return nil, errors.New("unreachable")
	})
	if err == nil {
		t.Fatal("got no error")
	}
	if _, ok := n.Peer("x"); ok {
		t.Error("failed peer still present")
	}
	if got := n.Pools().Stats()[DefaultPool].Count; got != 0 {
		t.Errorf("failed peer still counted in pool (%d)", got)
	}
}

func TestPoolLimit(t *testing.T) {
	ctx := context.Background()
	conf := Config{Pools: []PoolConfig{{Name: DefaultPool, Max: 1}}}
	n := NewNode(mem.New(), conf, WithLogger(testLogger()))
	defer n.Close()

	c1, _ := Pipe()
	p1, err := n.AddPeer(ctx, "p1", Accepted(c1))
	if err != nil {
		t.Fatal(err)
	}
	c2, _ := Pipe()
	if _, err := n.AddPeer(ctx, "p2", Accepted(c2)); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("got error %v, want ErrPoolFull", err)
	}
	if _, err := n.AddPeer(ctx, "p1", Accepted(c2)); err == nil {
		t.Fatal("added duplicate peer")
	}

	p1.Close()
	waitFor(t, "pool release", func() bool { return n.Pools().Stats()[DefaultPool].Count == 0 })
	if _, err := n.AddPeer(ctx, "p2", Accepted(c2)); err != nil {
		t.Fatal(err)
	}
}

func TestPeerOrder(t *testing.T) {
	ctx := context.Background()
	classify := func(id string) string {
		if id == "z-trusted" {
			return "trusted"
		}
		return DefaultPool
	}
	conf := Config{Pools: []PoolConfig{{Name: "trusted"}}}
	n := NewNode(mem.New(), conf, WithLogger(testLogger()), WithClassifier(classify))
	defer n.Close()

	for _, id := range []string{"b", "z-trusted", "a"} {
		c, _ := Pipe()
		if _, err := n.AddPeer(ctx, id, Accepted(c)); err != nil {
			t.Fatal(err)
		}
	}
	var ids []string
	for _, p := range n.Peers() {
		ids = append(ids, p.ID)
	}
	if len(ids) != 3 || ids[0] != "z-trusted" || ids[1] != "a" || ids[2] != "b" {
		t.Errorf("got peer order %v", ids)
	}
}

func TestMaintain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNode(1, time.Second)
	defer n.Close()

	var (
		mu    sync.Mutex
		dials int
		fars  = make(chan Conn, 10)
	)
	dial := func(context.Context) (Conn, error) {
		mu.Lock()
		defer mu.Unlock()
		dials++
		if dials%2 == 1 {
			return nil, errors.New("not yet")
		}
		ours, theirs := Pipe()
		fars <- theirs
		return ours, nil
	}

	errch := make(chan error, 1)
	go func() {
		errch <- n.Maintain(ctx, "m", dial, NewBackoff(time.Millisecond, 10*time.Millisecond, 2, 0))
	}()

	far := <-fars
	waitFor(t, "connection", func() bool { _, ok := n.Peer("m"); return ok })
	far.Close()

	<-fars
	waitFor(t, "reconnection", func() bool {
		p, ok := n.Peer("m")
		return ok && p.State() == StateConnected
	})

	cancel()
	if err := <-errch; !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, want context.Canceled", err)
	}
}

// drain reads and discards everything sent to c until it closes.
func drain(c Conn) {
	for {
		if _, err := c.Recv(context.Background()); err != nil {
			return
		}
	}
}

func TestInboundLimit(t *testing.T) {
	ctx := context.Background()

	const limit = 8
	conf := Config{RequestTimeout: Duration(10 * time.Second), MaxInbound: limit}
	n := NewNode(mem.New(), conf, WithRand(rand.New(rand.NewSource(1))), WithLogger(testLogger()))
	defer n.Close()

	// A peer that never answers,
	// so forwarded requests wait out the full timeout.
	silentOurs, silentTheirs := Pipe()
	if _, err := n.AddPeer(ctx, "silent", Accepted(silentOurs)); err != nil {
		t.Fatal(err)
	}
	go drain(silentTheirs)

	floodOurs, floodTheirs := Pipe()
	if _, err := n.AddPeer(ctx, "flood", Accepted(floodOurs)); err != nil {
		t.Fatal(err)
	}

	before := runtime.NumGoroutine()

	const numRequests = 5000
	for i := 0; i < numRequests; i++ {
		h := hashtree.Sum([]byte{byte(i), byte(i >> 8)})
		msg, err := EncodeRequest(&Request{Hash: h[:], HTL: 5})
		if err != nil {
			t.Fatal(err)
		}
		if err := floodTheirs.Send(ctx, msg); err != nil {
			t.Fatal(err)
		}
	}

	// Let the read loop get through what is still buffered.
	time.Sleep(100 * time.Millisecond)

	if after := runtime.NumGoroutine(); after-before > limit+10 {
		t.Errorf("goroutines grew from %d to %d after %d requests, want growth of at most about %d", before, after, numRequests, limit)
	}
}

// chanListener is a Listener fed by a test.
type chanListener struct {
	ch chan accepted
}

type accepted struct {
	id   string
	conn Conn
}

func (l *chanListener) Accept(ctx context.Context) (string, Conn, error) {
	select {
	case a := <-l.ch:
		return a.id, a.conn, nil
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

func (l *chanListener) Close() error { return nil }

func TestServePoolTargets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conf := Config{Pools: []PoolConfig{{Name: "trusted", Target: 1, Peers: []string{"t1"}}}}
	n := NewNode(mem.New(), conf, WithLogger(testLogger()))
	defer n.Close()

	l := &chanListener{ch: make(chan accepted)}
	errch := make(chan error, 1)
	go func() { errch <- n.Serve(ctx, l) }()

	dial := func(id string) Conn {
		ours, theirs := Pipe()
		l.ch <- accepted{id: id, conn: ours}
		return theirs
	}

	// While the trusted pool is empty, other peers are turned away.
	far := dial("x")
	if _, err := far.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("got %v from refused connection, want EOF", err)
	}
	if _, ok := n.Peer("x"); ok {
		t.Fatal("untrusted peer admitted while trusted pool is below target")
	}

	dial("t1")
	waitFor(t, "trusted peer", func() bool { _, ok := n.Peer("t1"); return ok })
	if p, _ := n.Peer("t1"); p.Pool != "trusted" {
		t.Errorf("t1 is in pool %q, want trusted", p.Pool)
	}

	dial("y")
	waitFor(t, "untrusted peer", func() bool { _, ok := n.Peer("y"); return ok })
	if p, _ := n.Peer("y"); p.Pool != DefaultPool {
		t.Errorf("y is in pool %q, want %s", p.Pool, DefaultPool)
	}

	cancel()
	if err := <-errch; !errors.Is(err, context.Canceled) {
		t.Errorf("got error %v, want context.Canceled", err)
	}
}
