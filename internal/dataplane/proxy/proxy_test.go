package proxy

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorall/core/internal/dataplane"
	"github.com/memorall/core/internal/rpc"
)

// fakeTransport is an in-memory transport.Transport: Send hands the request
// to a handler function running synchronously, which replies by pushing onto
// the responses channel — enough to exercise Driver's RPC plumbing without a
// real gRPC/WebSocket connection.
type fakeTransport struct {
	mu      sync.Mutex
	handle  func(req *rpc.Request) *rpc.Response
	resps   chan *rpc.Response
	sent    []*rpc.Request
	closeCh chan struct{}
}

func newFakeTransport(handle func(req *rpc.Request) *rpc.Response) *fakeTransport {
	return &fakeTransport{
		handle:  handle,
		resps:   make(chan *rpc.Response, 16),
		closeCh: make(chan struct{}),
	}
}

func (f *fakeTransport) Send(ctx context.Context, req *rpc.Request) error {
	f.mu.Lock()
	f.sent = append(f.sent, req)
	f.mu.Unlock()
	go func() {
		f.resps <- f.handle(req)
	}()
	return nil
}

func (f *fakeTransport) Responses() <-chan *rpc.Response { return f.resps }

func (f *fakeTransport) Close() error {
	select {
	case <-f.closeCh:
	default:
		close(f.closeCh)
		close(f.resps)
	}
	return nil
}

func (f *fakeTransport) opsSent() []rpc.Op {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]rpc.Op, len(f.sent))
	for i, r := range f.sent {
		out[i] = r.Op
	}
	return out
}

func alwaysHealthyHandler(extra func(req *rpc.Request) *rpc.Response) func(req *rpc.Request) *rpc.Response {
	return func(req *rpc.Request) *rpc.Response {
		if req.Op == rpc.OpHealth {
			return &rpc.Response{ID: req.ID}
		}
		return extra(req)
	}
}

func TestDriverWaitReadyResolvesOnFirstHealthCheck(t *testing.T) {
	tr := newFakeTransport(alwaysHealthyHandler(func(req *rpc.Request) *rpc.Response {
		return &rpc.Response{ID: req.ID}
	}))
	d := New(tr, time.Second, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitReady(ctx))
}

func TestDriverTransactionCommitsOnSuccess(t *testing.T) {
	tr := newFakeTransport(alwaysHealthyHandler(func(req *rpc.Request) *rpc.Response {
		switch req.Op {
		case rpc.OpBegin:
			return &rpc.Response{ID: req.ID, TxID: 5}
		case rpc.OpQuery:
			return &rpc.Response{ID: req.ID, Result: &dataplane.Result{RowCount: 1}}
		case rpc.OpCommit:
			return &rpc.Response{ID: req.ID}
		default:
			return &rpc.Response{ID: req.ID}
		}
	}))
	d := New(tr, time.Second, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitReady(ctx))

	err := d.Transaction(ctx, func(ctx context.Context, tx dataplane.Driver) error {
		_, err := tx.Query(ctx, "select 1", nil, dataplane.RowModeObject)
		return err
	})
	require.NoError(t, err)

	ops := tr.opsSent()
	assert.Contains(t, ops, rpc.OpBegin)
	assert.Contains(t, ops, rpc.OpCommit)
	assert.NotContains(t, ops, rpc.OpRollback)
}

func TestDriverTransactionRollsBackWhenFnErrors(t *testing.T) {
	tr := newFakeTransport(alwaysHealthyHandler(func(req *rpc.Request) *rpc.Response {
		switch req.Op {
		case rpc.OpBegin:
			return &rpc.Response{ID: req.ID, TxID: 9}
		case rpc.OpRollback:
			return &rpc.Response{ID: req.ID}
		default:
			return &rpc.Response{ID: req.ID}
		}
	}))
	d := New(tr, time.Second, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitReady(ctx))

	boom := errors.New("handler failed")
	err := d.Transaction(ctx, func(ctx context.Context, tx dataplane.Driver) error {
		return boom
	})
	require.ErrorIs(t, err, boom)

	ops := tr.opsSent()
	assert.Contains(t, ops, rpc.OpBegin)
	assert.Contains(t, ops, rpc.OpRollback)
	assert.NotContains(t, ops, rpc.OpCommit)
}

func TestDriverQueryPropagatesTypedError(t *testing.T) {
	tr := newFakeTransport(alwaysHealthyHandler(func(req *rpc.Request) *rpc.Response {
		return &rpc.Response{ID: req.ID, Error: &rpc.ErrorPayload{Kind: "QueryError", Message: "bad sql"}}
	}))
	d := New(tr, time.Second, nil)
	defer d.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, d.WaitReady(ctx))

	_, err := d.Query(ctx, "not sql", nil, dataplane.RowModeObject)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad sql")
}
