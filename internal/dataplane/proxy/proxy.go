// Package proxy is the client-side dataplane.Driver implementation: every
// Query/Exec/Transaction call is marshalled into an internal/rpc.Request,
// sent over a internal/transport.Transport, and the matching
// internal/rpc.Response is decoded back — the "client sees the same query
// API as the host" contract of §4.3, the other half of internal/storage.Store.
package proxy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/dataplane"
	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/rpc"
	"github.com/memorall/core/internal/transport"
)

// Driver is the client-side dataplane.Driver over one Transport connection.
type Driver struct {
	t          transport.Transport
	correlator *rpc.Correlator
	logger     *zap.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	readyErr  error

	closed chan struct{}
}

// New wraps an already-connected Transport as a Driver and starts its
// dispatch loop. The first successful health round trip resolves WaitReady.
func New(t transport.Transport, timeout time.Duration, logger *zap.Logger) *Driver {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Driver{
		t:          t,
		correlator: rpc.NewCorrelator(timeout, logger),
		logger:     logger,
		readyCh:    make(chan struct{}),
		closed:     make(chan struct{}),
	}
	go d.dispatchLoop()
	go d.probeReady()
	return d
}

// dispatchLoop routes every Response off the transport to its waiting Call,
// and aborts all pending calls once the transport's Responses channel
// closes (a dropped connection, §4.2's "transport closed mid-call" case).
func (d *Driver) dispatchLoop() {
	for resp := range d.t.Responses() {
		d.correlator.Deliver(resp)
	}
	d.correlator.Abort()
	close(d.closed)
}

// probeReady issues health RPCs until one succeeds, resolving WaitReady's
// promise exactly once.
func (d *Driver) probeReady() {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, err := d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpHealth})
		cancel()
		if err == nil {
			d.readyOnce.Do(func() { close(d.readyCh) })
			return
		}
		select {
		case <-d.closed:
			d.readyOnce.Do(func() {
				d.readyErr = errkind.New(errkind.TransportClosed, "transport closed before ready")
				close(d.readyCh)
			})
			return
		case <-time.After(200 * time.Millisecond):
		}
	}
}

// WaitReady blocks until the first successful health round trip, ctx is
// cancelled, or the transport closes first.
func (d *Driver) WaitReady(ctx context.Context) error {
	select {
	case <-d.readyCh:
		return d.readyErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Query implements dataplane.Driver over RPC.
func (d *Driver) Query(ctx context.Context, sql string, params []any, rowMode dataplane.RowMode) (*dataplane.Result, error) {
	return d.queryTx(ctx, sql, params, rowMode, 0)
}

func (d *Driver) queryTx(ctx context.Context, sql string, params []any, rowMode dataplane.RowMode, txID uint32) (*dataplane.Result, error) {
	resp, err := d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpQuery, SQL: sql, Params: params, RowMode: rowMode, TxID: txID})
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, errkind.New(errkind.Kind(resp.Error.Kind), resp.Error.Message)
	}
	return resp.Result, nil
}

// Exec implements dataplane.Driver over RPC.
func (d *Driver) Exec(ctx context.Context, sql string) error {
	return d.execTx(ctx, sql, 0)
}

func (d *Driver) execTx(ctx context.Context, sql string, txID uint32) error {
	resp, err := d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpExec, SQL: sql, TxID: txID})
	if err != nil {
		return err
	}
	if resp.Error != nil {
		return errkind.New(errkind.Kind(resp.Error.Kind), resp.Error.Message)
	}
	return nil
}

// Transaction opens a remote transaction with OpBegin, runs fn against a
// Driver scoped to that TxID, then issues OpCommit or OpRollback depending
// on whether fn returned an error — all over the same connection, since the
// host's transaction lives on a single pgx.Tx bound to this stream.
func (d *Driver) Transaction(ctx context.Context, fn func(ctx context.Context, tx dataplane.Driver) error) error {
	beginResp, err := d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpBegin})
	if err != nil {
		return err
	}
	if beginResp.Error != nil {
		return errkind.New(errkind.Kind(beginResp.Error.Kind), beginResp.Error.Message)
	}

	txDriver := &txDriver{parent: d, txID: beginResp.TxID}

	defer func() {
		if p := recover(); p != nil {
			_, _ = d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpRollback, TxID: beginResp.TxID})
			panic(p)
		}
	}()

	if fnErr := fn(ctx, txDriver); fnErr != nil {
		_, _ = d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpRollback, TxID: beginResp.TxID})
		return fnErr
	}

	commitResp, err := d.correlator.Call(ctx, d.t, &rpc.Request{Op: rpc.OpCommit, TxID: beginResp.TxID})
	if err != nil {
		return err
	}
	if commitResp.Error != nil {
		return errkind.New(errkind.Kind(commitResp.Error.Kind), commitResp.Error.Message)
	}
	return nil
}

// Close releases the underlying transport. Calls still pending when the
// transport's Responses channel closes fail with errkind.TransportClosed, as
// do later calls whose Send fails; errkind.ProxyClosed is not returned.
func (d *Driver) Close() error {
	return d.t.Close()
}

// txDriver scopes Query/Exec to one remote transaction id.
type txDriver struct {
	parent *Driver
	txID   uint32
}

func (t *txDriver) Query(ctx context.Context, sql string, params []any, rowMode dataplane.RowMode) (*dataplane.Result, error) {
	return t.parent.queryTx(ctx, sql, params, rowMode, t.txID)
}

func (t *txDriver) Exec(ctx context.Context, sql string) error {
	return t.parent.execTx(ctx, sql, t.txID)
}

// Transaction called within an already-open remote transaction runs fn
// inline, matching storage.txStore's single-level semantics.
func (t *txDriver) Transaction(ctx context.Context, fn func(ctx context.Context, tx dataplane.Driver) error) error {
	return fn(ctx, t)
}

func (t *txDriver) WaitReady(ctx context.Context) error { return nil }
func (t *txDriver) Close() error                        { return nil }
