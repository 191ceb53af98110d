// Package rpc exposes a Store over gRPC, and implements a Store that is a client of one.
package rpc

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bobg/hashtree"
)

const serviceName = "hashtree.Store"

type storeServer interface {
	store() hashtree.Store
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*storeServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Get", func(ctx context.Context, s hashtree.Store, req *hashMsg) (interface{}, error) {
			data, err := s.Get(ctx, hashtree.HashFromBytes(req.Hash))
			return &blobMsg{Data: data}, err
		}),
		unary("Has", func(ctx context.Context, s hashtree.Store, req *hashMsg) (interface{}, error) {
			ok, err := s.Has(ctx, hashtree.HashFromBytes(req.Hash))
			return &boolMsg{OK: ok}, err
		}),
		unary("Put", func(ctx context.Context, s hashtree.Store, req *putMsg) (interface{}, error) {
			if req.Data == nil {
				req.Data = []byte{}
			}
			added, err := s.Put(ctx, hashtree.HashFromBytes(req.Hash), req.Data)
			return &boolMsg{OK: added}, err
		}),
		unary("Delete", func(ctx context.Context, s hashtree.Store, req *hashMsg) (interface{}, error) {
			deleted, err := s.Delete(ctx, hashtree.HashFromBytes(req.Hash))
			return &boolMsg{OK: deleted}, err
		}),
	},
	Streams: []grpc.StreamDesc{{
		StreamName:    "ListRefs",
		Handler:       listRefs,
		ServerStreams: true,
	}},
	Metadata: "hashtree/store/rpc",
}

func unary[Req any](name string, f func(context.Context, hashtree.Store, *Req) (interface{}, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			req := new(Req)
			if err := dec(req); err != nil {
				return nil, err
			}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				resp, err := f(ctx, srv.(storeServer).store(), req.(*Req))
				return resp, toStatus(err)
			}
			if interceptor == nil {
				return handler(ctx, req)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + name}
			return interceptor(ctx, req, info, handler)
		},
	}
}

func listRefs(srv interface{}, stream grpc.ServerStream) error {
	var req hashMsg
	if err := stream.RecvMsg(&req); err != nil {
		return err
	}
	s := srv.(storeServer).store()
	l, ok := s.(hashtree.Lister)
	if !ok {
		return status.Errorf(codes.Unimplemented, "store is a %T and not a Lister", s)
	}
	err := l.ListRefs(stream.Context(), hashtree.HashFromBytes(req.Hash), func(h hashtree.Hash) error {
		return stream.SendMsg(&hashMsg{Hash: h[:]})
	})
	return toStatus(err)
}

func toStatus(err error) error {
	if errors.Is(err, hashtree.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return err
}

// Server serves a Store over gRPC.
type Server struct {
	s hashtree.Store
}

func (s *Server) store() hashtree.Store { return s.s }

// NewServer produces a Server for s.
func NewServer(s hashtree.Store) *Server {
	return &Server{s: s}
}

// Register registers s with a gRPC server.
func (s *Server) Register(gs grpc.ServiceRegistrar) {
	gs.RegisterService(&serviceDesc, s)
}

// LogInterceptor logs each unary call at debug level,
// and failed calls at warning level.
func LogInterceptor(log logrus.FieldLogger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		entry := log.WithField("method", info.FullMethod)
		if err != nil && status.Code(err) != codes.NotFound {
			entry.WithError(err).Warn("rpc failed")
		} else {
			entry.Debug("rpc")
		}
		return resp, err
	}
}
