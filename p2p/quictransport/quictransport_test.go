package quictransport

import (
	"bytes"
	"context"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/p2p"
	"github.com/bobg/hashtree/store/mem"
)

func quietLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func TestConn(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	l, err := Listen("127.0.0.1:0", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	type accepted struct {
		c   p2p.Conn
		err error
	}
	ch := make(chan accepted, 1)
	go func() {
		_, c, err := l.Accept(ctx)
		ch <- accepted{c, err}
	}()

	client, err := Dial(ctx, l.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	a := <-ch
	if a.err != nil {
		t.Fatal(a.err)
	}
	server := a.c

	big := make([]byte, 200<<10)
	rand.New(rand.NewSource(1)).Read(big)

	for _, msg := range [][]byte{[]byte("hello"), {}, big} {
		if err := client.Send(ctx, msg); err != nil {
			t.Fatal(err)
		}
		got, err := server.Recv(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, msg) {
			t.Fatalf("server got %d bytes, want %d", len(got), len(msg))
		}
	}

	if err := server.Send(ctx, []byte("reply")); err != nil {
		t.Fatal(err)
	}
	got, err := client.Recv(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "reply" {
		t.Errorf("client got %q", got)
	}

	shortCtx, shortCancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer shortCancel()
	if _, err := server.Recv(shortCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got error %v, want context.DeadlineExceeded", err)
	}

	client.Close()
	if _, err := server.Recv(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("got error %v after close, want io.EOF", err)
	}
}

func TestNodesOverQUIC(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conf := p2p.Config{RequestTimeout: p2p.Duration(5 * time.Second)}
	a := p2p.NewNode(mem.New(), conf, p2p.WithLogger(quietLogger()))
	b := p2p.NewNode(mem.New(), conf, p2p.WithLogger(quietLogger()))
	defer a.Close()
	defer b.Close()

	l, err := Listen("127.0.0.1:0", quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	go b.Serve(ctx, l)

	data := make([]byte, 3*p2p.FragmentSize+1)
	rand.New(rand.NewSource(2)).Read(data)
	h, _, err := hashtree.Put(ctx, b, data)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := a.AddPeer(ctx, "b", Dialer(l.Addr().String())); err != nil {
		t.Fatal(err)
	}
	got, err := a.Get(ctx, h)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Error("got different data")
	}
}
