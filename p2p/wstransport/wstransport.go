// Package wstransport carries the p2p protocol over websockets,
// one binary websocket message per protocol message.
// It is the fallback for peers that cannot be reached directly over QUIC.
package wstransport

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree/p2p"
)

const (
	maxMessage   = 1 << 20
	closeTimeout = time.Second
)

// Dial connects to the websocket peer at url (ws:// or wss://).
func Dial(ctx context.Context, url string) (p2p.Conn, error) {
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "dialing %s (status %s)", url, resp.Status)
		}
		return nil, errors.Wrapf(err, "dialing %s", url)
	}
	return newConn(ws), nil
}

// Dialer gives a p2p.DialFunc for the websocket peer at url.
func Dialer(url string) p2p.DialFunc {
	return func(ctx context.Context) (p2p.Conn, error) {
		return Dial(ctx, url)
	}
}

// Handler is an http.Handler that upgrades requests to websocket peer connections.
// It is also a p2p.Listener delivering those connections through Accept.
type Handler struct {
	upgrader websocket.Upgrader
	log      logrus.FieldLogger

	conns chan accepted
	done  chan struct{}
	once  sync.Once
}

type accepted struct {
	id string
	c  p2p.Conn
}

var (
	_ http.Handler = (*Handler)(nil)
	_ p2p.Listener = (*Handler)(nil)
)

// NewHandler creates a Handler.
func NewHandler(log logrus.FieldLogger) *Handler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Handler{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		log:   log,
		conns: make(chan accepted),
		done:  make(chan struct{}),
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "closed", http.StatusServiceUnavailable)
		return
	default:
	}

	ws, err := h.upgrader.Upgrade(w, req, nil)
	if err != nil {
		h.log.WithError(err).WithField("peer", req.RemoteAddr).Info("upgrading to websocket")
		return
	}
	c := newConn(ws)
	select {
	case h.conns <- accepted{id: req.RemoteAddr, c: c}:
	case <-h.done:
		c.Close()
	}
}

// Accept waits for the next peer to connect.
// The peer's ID is its remote address.
func (h *Handler) Accept(ctx context.Context) (string, p2p.Conn, error) {
	select {
	case a := <-h.conns:
		return a.id, a.c, nil
	case <-h.done:
		return "", nil, errors.New("handler closed")
	case <-ctx.Done():
		return "", nil, ctx.Err()
	}
}

// Close stops the Handler from accepting connections.
func (h *Handler) Close() error {
	h.once.Do(func() { close(h.done) })
	return nil
}

// Redialer keeps a Node connected to one websocket peer,
// reconnecting with backoff whenever the connection drops.
type Redialer struct {
	Node    *p2p.Node
	ID      string
	URL     string
	Backoff *p2p.Backoff
}

// NewRedialer creates a Redialer for the peer at url
// with a backoff growing from one second to one minute.
func NewRedialer(n *p2p.Node, url string) *Redialer {
	return &Redialer{
		Node:    n,
		ID:      url,
		URL:     url,
		Backoff: p2p.NewBackoff(time.Second, time.Minute, 2, 0.2),
	}
}

// Run maintains the connection until ctx is canceled.
func (r *Redialer) Run(ctx context.Context) error {
	return r.Node.Maintain(ctx, r.ID, Dialer(r.URL), r.Backoff)
}

// conn is a p2p.Conn on a websocket.
// A Recv interrupted by its context leaves the websocket unusable,
// as gorilla/websocket read errors are permanent.
type conn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
	once    sync.Once
}

func newConn(ws *websocket.Conn) *conn {
	ws.SetReadLimit(maxMessage)
	return &conn{ws: ws}
}

func (c *conn) Send(ctx context.Context, msg []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.ws.SetWriteDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.ws.SetWriteDeadline(time.Now()) })
	defer stop()

	if err := c.ws.WriteMessage(websocket.BinaryMessage, msg); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *conn) Recv(ctx context.Context) ([]byte, error) {
	stop := context.AfterFunc(ctx, func() { c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	for {
		typ, msg, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, io.EOF
			}
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return msg, nil
		}
	}
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(closeTimeout))
		err = c.ws.Close()
	})
	return err
}
