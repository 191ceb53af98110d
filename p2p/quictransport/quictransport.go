// Package quictransport carries the p2p protocol over QUIC.
//
// Each peer connection is one QUIC connection
// with one bidirectional stream,
// on which messages are framed by a uvarint length prefix.
// The dialing side opens the stream and writes a short preamble,
// since QUIC announces a new stream to the other side only when data arrives on it.
//
// TLS certificates are self-signed and not verified.
// Peers are not trusted in any case:
// every response is checked against the hash it claims to answer.
package quictransport

import (
	"bufio"
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/binary"
	"io"
	"math/big"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree/p2p"
)

const (
	nextProto        = "hashtree-p2p"
	maxFrame         = 1 << 20
	handshakeTimeout = 10 * time.Second
)

var preamble = []byte("hashtree/1\n")

var quicConf = &quic.Config{
	MaxIdleTimeout:  time.Minute,
	KeepAlivePeriod: 15 * time.Second,
}

// Dial connects to the peer listening at addr.
func Dial(ctx context.Context, addr string) (p2p.Conn, error) {
	tlsConf := &tls.Config{
		InsecureSkipVerify: true,
		NextProtos:         []string{nextProto},
	}
	qc, err := quic.DialAddr(ctx, addr, tlsConf, quicConf)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", addr)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		qc.CloseWithError(1, "opening stream")
		return nil, errors.Wrap(err, "opening stream")
	}
	if _, err := stream.Write(preamble); err != nil {
		qc.CloseWithError(1, "writing preamble")
		return nil, errors.Wrap(err, "writing preamble")
	}
	return newConn(qc, stream), nil
}

// Dialer gives a p2p.DialFunc for the peer listening at addr.
func Dialer(addr string) p2p.DialFunc {
	return func(ctx context.Context) (p2p.Conn, error) {
		return Dial(ctx, addr)
	}
}

// Listener accepts inbound QUIC peer connections.
// It implements p2p.Listener.
type Listener struct {
	ql  *quic.Listener
	log logrus.FieldLogger
}

var _ p2p.Listener = (*Listener)(nil)

// Listen listens for peers on the UDP address addr.
func Listen(addr string, log logrus.FieldLogger) (*Listener, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	tlsConf, err := selfSignedTLS()
	if err != nil {
		return nil, errors.Wrap(err, "creating TLS config")
	}
	ql, err := quic.ListenAddr(addr, tlsConf, quicConf)
	if err != nil {
		return nil, errors.Wrapf(err, "listening on %s", addr)
	}
	return &Listener{ql: ql, log: log}, nil
}

// Addr is the address the Listener listens on.
func (l *Listener) Addr() net.Addr {
	return l.ql.Addr()
}

// Accept waits for the next peer to connect.
// The peer's ID is its remote address.
// Connections that fail the handshake are dropped and logged.
func (l *Listener) Accept(ctx context.Context) (string, p2p.Conn, error) {
	for {
		qc, err := l.ql.Accept(ctx)
		if err != nil {
			return "", nil, err
		}
		c, err := handshake(ctx, qc)
		if err != nil {
			l.log.WithError(err).WithField("peer", qc.RemoteAddr().String()).Info("dropping QUIC connection")
			qc.CloseWithError(1, "handshake failed")
			continue
		}
		return qc.RemoteAddr().String(), c, nil
	}
}

func handshake(ctx context.Context, qc *quic.Conn) (*conn, error) {
	ctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	defer cancel()

	stream, err := qc.AcceptStream(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "accepting stream")
	}
	if err := stream.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	c := newConn(qc, stream)
	got := make([]byte, len(preamble))
	if _, err := io.ReadFull(c.r, got); err != nil {
		return nil, errors.Wrap(err, "reading preamble")
	}
	if string(got) != string(preamble) {
		return nil, errors.Errorf("bad preamble %q", got)
	}
	if err := stream.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return c, nil
}

// Close stops listening.
// Connections already accepted are unaffected.
func (l *Listener) Close() error {
	return l.ql.Close()
}

type conn struct {
	qc     *quic.Conn
	stream *quic.Stream
	r      *bufio.Reader
	once   sync.Once
}

func newConn(qc *quic.Conn, stream *quic.Stream) *conn {
	return &conn{qc: qc, stream: stream, r: bufio.NewReader(stream)}
}

func (c *conn) Send(ctx context.Context, msg []byte) error {
	if len(msg) > maxFrame {
		return errors.Errorf("message of %d bytes exceeds limit", len(msg))
	}
	if err := c.stream.SetWriteDeadline(time.Time{}); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { c.stream.SetWriteDeadline(time.Now()) })
	defer stop()

	buf := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(msg)), uint64(len(msg)))
	buf = append(buf, msg...)
	if _, err := c.stream.Write(buf); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (c *conn) Recv(ctx context.Context) ([]byte, error) {
	if err := c.stream.SetReadDeadline(time.Time{}); err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { c.stream.SetReadDeadline(time.Now()) })
	defer stop()

	n, err := binary.ReadUvarint(c.r)
	if err != nil {
		return nil, c.recvErr(ctx, err)
	}
	if n > maxFrame {
		return nil, errors.Errorf("frame of %d bytes exceeds limit", n)
	}
	msg := make([]byte, n)
	if _, err := io.ReadFull(c.r, msg); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, c.recvErr(ctx, err)
	}
	return msg, nil
}

// recvErr maps an orderly close by the other side to io.EOF.
func (c *conn) recvErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var appErr *quic.ApplicationError
	if errors.As(err, &appErr) && appErr.ErrorCode == 0 {
		return io.EOF
	}
	return err
}

func (c *conn) Close() error {
	var err error
	c.once.Do(func() {
		c.stream.Close()
		err = c.qc.CloseWithError(0, "closed")
	})
	return err
}

func selfSignedTLS() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 64))
	if err != nil {
		return nil, err
	}
	template := x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{Organization: []string{"hashtree"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{nextProto},
	}, nil
}
