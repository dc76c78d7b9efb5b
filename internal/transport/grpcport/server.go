package grpcport

import (
	"context"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/memorall/core/internal/rpc"
)

// Server is the host side of the gRPC port transport: one *rpc.Dispatcher
// per accepted stream, since transactions are scoped to a single
// connection's lifetime (§4.3).
type Server struct {
	addr       string
	grpcServer *grpc.Server
	driver     dispatcherFactory
	logger     *zap.Logger
}

// dispatcherFactory builds a fresh *rpc.Dispatcher for each new stream.
type dispatcherFactory func() *rpc.Dispatcher

// NewServer builds a gRPC port server listening on addr. newDispatcher is
// called once per incoming stream so each client gets its own transaction
// table.
func NewServer(addr string, newDispatcher dispatcherFactory, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{addr: addr, driver: newDispatcher, logger: logger}
	s.grpcServer = grpc.NewServer()
	s.grpcServer.RegisterService(&serviceDesc, s)
	return s
}

// Serve blocks accepting connections until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		s.grpcServer.GracefulStop()
	}()
	s.logger.Info("grpc port transport listening", zap.String("addr", s.addr))
	return s.grpcServer.Serve(lis)
}

// Close stops the server immediately.
func (s *Server) Close() error {
	s.grpcServer.Stop()
	return nil
}

func (s *Server) handleStream(stream grpc.ServerStream) error {
	dispatcher := s.driver()
	ctx := stream.Context()

	for {
		var f frame
		if err := stream.RecvMsg(&f); err != nil {
			return err
		}
		req, err := rpc.DecodeRequest(f.data)
		if err != nil {
			s.logger.Debug("dropping malformed request", zap.Error(err))
			continue
		}

		resp := dispatcher.Handle(ctx, req)
		data, err := encodeResponse(resp)
		if err != nil {
			s.logger.Error("encode response", zap.Error(err))
			continue
		}
		if err := stream.SendMsg(&frame{data: data}); err != nil {
			return err
		}
	}
}

func encodeResponse(resp *rpc.Response) ([]byte, error) {
	buf, err := rpc.EncodeResponse(resp)
	if err != nil {
		return nil, err
	}
	data := append([]byte(nil), buf.B...)
	bufferPutRaw(buf)
	return data, nil
}
