package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
)

// DefaultTimeout is the default time a caller waits for a correlated
// response before the pending entry is dropped and RpcTimeout is returned
// (§4.2).
const DefaultTimeout = 30 * time.Second

// maxInFlight bounds the in-flight id->channel correlation table so a
// misbehaving host that never replies cannot grow it unbounded.
const maxInFlight = 4096

// Sender is whatever pushes an encoded Request onto the wire; satisfied by
// both grpcport.Client and wsport.Client.
type Sender interface {
	Send(ctx context.Context, req *Request) error
}

// Correlator matches outgoing Requests to incoming Responses by id, the
// client-side half of the request/response protocol in §4.2. It generalizes
// the teacher's stdio transport's implicit 1:1 request/response pairing to a
// true concurrent multiplexed table, since a proxy.Driver may have many
// in-flight queries from different goroutines.
type Correlator struct {
	mu      sync.Mutex
	nextID  uint32
	pending *lru.Cache[uint32, chan *Response]
	timeout time.Duration
	logger  *zap.Logger
}

// NewCorrelator builds a Correlator with the given per-call timeout (zero
// means DefaultTimeout).
func NewCorrelator(timeout time.Duration, logger *zap.Logger) *Correlator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cache, _ := lru.New[uint32, chan *Response](maxInFlight)
	return &Correlator{pending: cache, timeout: timeout, logger: logger}
}

// nextRequestID returns the next id in the 32-bit wrapping sequence,
// skipping zero so zero can mean "no transaction" in Request.TxID.
func (c *Correlator) nextRequestID() uint32 {
	for {
		id := atomic.AddUint32(&c.nextID, 1)
		if id != 0 {
			return id
		}
	}
}

// Call sends req through sender and blocks until the matching Response
// arrives, ctx is cancelled, or the timeout elapses.
func (c *Correlator) Call(ctx context.Context, sender Sender, req *Request) (*Response, error) {
	req.ID = c.nextRequestID()

	ch := make(chan *Response, 1)
	c.mu.Lock()
	c.pending.Add(req.ID, ch)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending.Remove(req.ID)
		c.mu.Unlock()
	}()

	if err := sender.Send(ctx, req); err != nil {
		return nil, errkind.Wrap(errkind.TransportClosed, "send request", err)
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, errkind.Wrap(errkind.Cancelled, "rpc call cancelled", ctx.Err())
	case <-timer.C:
		return nil, errkind.New(errkind.RpcTimeout, "no response within timeout")
	}
}

// Deliver routes an incoming Response to its waiting Call, if any. Responses
// for unknown or already-timed-out ids are dropped.
func (c *Correlator) Deliver(resp *Response) {
	c.mu.Lock()
	ch, ok := c.pending.Get(resp.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("dropping response for unknown id", zap.Uint32("id", resp.ID))
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// Abort fails every pending call with TransportClosed, used when the
// underlying transport drops (§4.2's "transport closed mid-call" edge case).
func (c *Correlator) Abort() {
	c.mu.Lock()
	keys := c.pending.Keys()
	c.mu.Unlock()

	for _, id := range keys {
		c.mu.Lock()
		ch, ok := c.pending.Get(id)
		c.mu.Unlock()
		if !ok {
			continue
		}
		select {
		case ch <- &Response{ID: id, Error: &ErrorPayload{Kind: string(errkind.TransportClosed), Message: "transport closed"}}:
		default:
		}
	}
}
