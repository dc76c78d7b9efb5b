// Package wsport implements transport.Transport over a gorilla/websocket
// connection, the fallback carrier §4.2 describes for environments a gRPC
// port is unreachable from (e.g. a browser extension's background page).
package wsport

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/rpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is a reconnecting WebSocket transport.Transport.
type Client struct {
	url    string
	logger *zap.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool

	responses chan *rpc.Response
}

// Dial connects to a host's WebSocket RPC endpoint and starts its read loop.
func Dial(ctx context.Context, url string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{url: url, logger: logger, responses: make(chan *rpc.Response, 64)}
	if err := c.connect(ctx); err != nil {
		return nil, err
	}
	go c.readLoop(ctx)
	return c, nil
}

func (c *Client) connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return errkind.Wrap(errkind.TransportClosed, "websocket dial", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return nil
}

// Send implements rpc.Sender.
func (c *Client) Send(ctx context.Context, req *rpc.Request) error {
	buf, err := rpc.EncodeRequest(req)
	if err != nil {
		return err
	}
	defer bufferPut(buf)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return errkind.New(errkind.TransportClosed, "not connected")
	}
	if err := conn.WriteMessage(websocket.TextMessage, buf.B); err != nil {
		return errkind.Wrap(errkind.TransportClosed, "websocket write", err)
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
// shared backoff ladder on failure, and closing Responses once it gives up
// (matching the ladder transport.go defines: 100ms, 200ms, 400ms, 800ms,
// 1.6s, capped at 2s, 5 attempts).
func (c *Client) readLoop(ctx context.Context) {
	defer close(c.responses)

	attempt := 0
	for {
		c.mu.Lock()
		conn := c.conn
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if closed {
				return
			}
			c.logger.Warn("websocket read failed, reconnecting", zap.Error(err))
			if attempt >= 5 {
				c.logger.Error("websocket transport giving up")
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
		resp, err := rpc.DecodeResponse(data)
		if err != nil {
			c.logger.Debug("dropping malformed response", zap.Error(err))
			continue
		}
		c.responses <- resp
	}
}

// Handler upgrades an incoming HTTP request to a WebSocket and pumps frames
// through a rpc.Dispatcher, the host side of this transport. Every connection
// it accepts shares that one Dispatcher and its transaction table.
type Handler struct {
	dispatcher *rpc.Dispatcher
	logger     *zap.Logger
}

// NewHandler builds a host-side WebSocket handler bound to dispatcher.
func NewHandler(dispatcher *rpc.Dispatcher, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{dispatcher: dispatcher, logger: logger}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx := r.Context()
	var writeMu sync.Mutex

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		req, err := rpc.DecodeRequest(data)
		if err != nil {
			h.logger.Debug("dropping malformed request", zap.Error(err))
			continue
		}

		resp := h.dispatcher.Handle(ctx, req)
		buf, err := rpc.EncodeResponse(resp)
		if err != nil {
			h.logger.Error("encode response", zap.Error(err))
			continue
		}

		writeMu.Lock()
		err = conn.WriteMessage(websocket.TextMessage, buf.B)
		writeMu.Unlock()
		bufferPut(buf)
		if err != nil {
			return
		}
	}
}
