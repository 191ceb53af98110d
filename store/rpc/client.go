package rpc

import (
	"context"
	"crypto/tls"
	"io"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/bobg/hashtree"
	"github.com/bobg/hashtree/store"
)

var (
	_ hashtree.Store  = &Client{}
	_ hashtree.Lister = &Client{}
)

// Client is a Store whose contents live in a remote Server.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req, resp interface{}) error {
	err := c.cc.Invoke(ctx, "/"+serviceName+"/"+method, req, resp, grpc.CallContentSubtype(codecName))
	if status.Code(err) == codes.NotFound {
		return hashtree.ErrNotFound
	}
	return err
}

func (c *Client) Get(ctx context.Context, h hashtree.Hash) ([]byte, error) {
	var resp blobMsg
	if err := c.invoke(ctx, "Get", &hashMsg{Hash: h[:]}, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []byte{}
	}
	return resp.Data, nil
}

func (c *Client) Has(ctx context.Context, h hashtree.Hash) (bool, error) {
	var resp boolMsg
	err := c.invoke(ctx, "Has", &hashMsg{Hash: h[:]}, &resp)
	return resp.OK, err
}

func (c *Client) Put(ctx context.Context, h hashtree.Hash, data []byte) (bool, error) {
	var resp boolMsg
	err := c.invoke(ctx, "Put", &putMsg{Hash: h[:], Data: data}, &resp)
	return resp.OK, err
}

func (c *Client) Delete(ctx context.Context, h hashtree.Hash) (bool, error) {
	var resp boolMsg
	err := c.invoke(ctx, "Delete", &hashMsg{Hash: h[:]}, &resp)
	return resp.OK, err
}

func (c *Client) ListRefs(ctx context.Context, start hashtree.Hash, f func(hashtree.Hash) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], "/"+serviceName+"/ListRefs", grpc.CallContentSubtype(codecName))
	if err != nil {
		return errors.Wrap(err, "opening stream")
	}
	if err = stream.SendMsg(&hashMsg{Hash: start[:]}); err != nil {
		return errors.Wrap(err, "sending request")
	}
	if err = stream.CloseSend(); err != nil {
		return errors.Wrap(err, "closing send side")
	}
	for {
		var resp hashMsg
		err := stream.RecvMsg(&resp)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "receiving response")
		}
		if err = f(hashtree.HashFromBytes(resp.Hash)); err != nil {
			return err
		}
	}
}

func init() {
	store.Register("rpc", func(_ context.Context, conf map[string]interface{}) (hashtree.Store, error) {
		addr, ok := conf["addr"].(string)
		if !ok {
			return nil, errors.New(`missing "addr" parameter`)
		}
		creds := credentials.NewTLS(&tls.Config{})
		if ins, _ := conf["insecure"].(bool); ins {
			creds = insecure.NewCredentials()
		}
		cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(creds))
		if err != nil {
			return nil, errors.Wrapf(err, "connecting to %s", addr)
		}
		return NewClient(cc), nil
	})
}
