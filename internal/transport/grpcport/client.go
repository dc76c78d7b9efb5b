package grpcport

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/rpc"
)

// Client is a reconnecting transport.Transport over a gRPC bidi stream.
type Client struct {
	addr   string
	logger *zap.Logger

	mu     sync.Mutex
	conn   *grpc.ClientConn
	stream grpc.ClientStream
	closed bool

	responses chan *rpc.Response
}

// Dial connects to a host's gRPC port and starts its read loop.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{addr: addr, logger: logger, responses: make(chan *rpc.Response, 64)}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.readLoop(ctx)
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, err := grpc.NewClient(c.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return errkind.Wrap(errkind.TransportClosed, "grpc dial", err)
	}

	stream, err := conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod, grpc.CallContentSubtype(codecName))
	if err != nil {
		conn.Close()
		return errkind.Wrap(errkind.TransportClosed, "grpc new stream", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.stream = stream
	c.mu.Unlock()
	return nil
}

// Send implements rpc.Sender.
func (c *Client) Send(ctx context.Context, req *rpc.Request) error {
	buf, err := rpc.EncodeRequest(req)
	if err != nil {
		return err
	}
	data := append([]byte(nil), buf.B...)
	bufferPutRaw(buf)

	c.mu.Lock()
	stream := c.stream
	c.mu.Unlock()
	if stream == nil {
		return errkind.New(errkind.TransportClosed, "not connected")
	}
	if err := stream.SendMsg(&frame{data: data}); err != nil {
		return errkind.Wrap(errkind.TransportClosed, "grpc send", err)
	}
	return nil
}

func (c *Client) Responses() <-chan *rpc.Response { return c.responses }

// Close tears the connection down permanently.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// readLoop pumps incoming frames into Responses, reconnecting with the
// shared backoff ladder (100ms, 200ms, 400ms, 800ms, 1.6s capped at 2s, 5
// attempts) before giving up and closing Responses.
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.responses)

	attempt := 0
	for {
		c.mu.Lock()
		stream := c.stream
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		var f frame
		err := stream.RecvMsg(&f)
		if err != nil {
			if closed {
				return
			}
			c.logger.Warn("grpc stream read failed, reconnecting", zap.Error(err))
			if attempt >= 5 {
				c.logger.Error("grpc port transport giving up")
				return
			}
			delay := 100 << attempt
			if delay > 2000 {
				delay = 2000
			}
			attempt++
			select {
			case <-time.After(time.Duration(delay) * time.Millisecond):
			case <-ctx.Done():
				return
			}
			if err := c.connect(ctx); err != nil {
				continue
			}
			continue
		}

		attempt = 0
		resp, err := rpc.DecodeResponse(f.data)
		if err != nil {
			c.logger.Debug("dropping malformed response", zap.Error(err))
			continue
		}
		c.responses <- resp
	}
}
