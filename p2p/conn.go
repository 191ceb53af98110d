package p2p

import (
	"context"
	"io"
	"sync"
)

// Conn is an ordered, reliable, message-oriented channel to one peer.
// Transports implement it.
// Send may be called concurrently with Recv,
// but neither may be called concurrently with itself.
// After Close, or after the other end closes,
// Recv returns io.EOF.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// DialFunc establishes a Conn.
type DialFunc func(context.Context) (Conn, error)

// Accepted is a DialFunc for a Conn that is already established,
// such as one accepted by a listener.
func Accepted(c Conn) DialFunc {
	return func(context.Context) (Conn, error) {
		return c, nil
	}
}

// Pipe produces two connected in-memory Conns.
// Messages sent on one are received on the other.
func Pipe() (Conn, Conn) {
	var (
		ab   = make(chan []byte, 64)
		ba   = make(chan []byte, 64)
		done = make(chan struct{})
		once = new(sync.Once)
	)
	return &pipeConn{in: ba, out: ab, done: done, once: once},
		&pipeConn{in: ab, out: ba, done: done, once: once}
}

type pipeConn struct {
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once *sync.Once
}

func (c *pipeConn) Send(ctx context.Context, msg []byte) error {
	select {
	case <-c.done:
		return io.ErrClosedPipe
	default:
	}
	select {
	case c.out <- append([]byte(nil), msg...):
		return nil
	case <-c.done:
		return io.ErrClosedPipe
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *pipeConn) Recv(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-c.in:
		return msg, nil
	case <-c.done:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}
