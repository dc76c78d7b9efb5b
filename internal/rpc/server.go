package rpc

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/memorall/core/internal/dataplane"
	"github.com/memorall/core/internal/errkind"
)

// Dispatcher executes incoming Requests against a dataplane.Driver and
// produces the matching Response, the host-side half of §4.2/§4.3. Its
// transaction table is shared by every connection it serves: grpcport's
// server builds one Dispatcher per stream, while wsport.Handler uses a single
// Dispatcher for all of its connections.
type Dispatcher struct {
	driver dataplane.Driver
	logger *zap.Logger

	mu   sync.Mutex
	txs  map[uint32]dataplane.Driver
	next uint32
}

// NewDispatcher builds a Dispatcher over the host's direct driver (an
// *storage.Store, via its dataplane.Driver interface).
func NewDispatcher(driver dataplane.Driver, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{driver: driver, logger: logger, txs: make(map[uint32]dataplane.Driver)}
}

// Handle executes one Request and returns its Response. It never returns a
// Go error itself — failures are carried inside Response.Error so the
// caller can always forward the Response back over the wire.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Response {
	switch req.Op {
	case OpHealth:
		if err := d.driver.WaitReady(ctx); err != nil {
			return errorResponse(req.ID, err)
		}
		return &Response{ID: req.ID}

	case OpQuery:
		target := d.driverFor(req.TxID)
		if target == nil {
			return errorResponse(req.ID, errkind.New(errkind.QueryError, "unknown transaction"))
		}
		result, err := target.Query(ctx, req.SQL, req.Params, req.RowMode)
		if err != nil {
			return errorResponse(req.ID, err)
		}
		return &Response{ID: req.ID, Result: result}

	case OpExec:
		target := d.driverFor(req.TxID)
		if target == nil {
			return errorResponse(req.ID, errkind.New(errkind.QueryError, "unknown transaction"))
		}
		if err := target.Exec(ctx, req.SQL); err != nil {
			return errorResponse(req.ID, err)
		}
		return &Response{ID: req.ID}

	case OpBegin:
		return d.handleBegin(ctx, req)

	case OpCommit:
		return d.handleEnd(req, true)

	case OpRollback:
		return d.handleEnd(req, false)

	case OpClose:
		return &Response{ID: req.ID}

	default:
		return errorResponse(req.ID, errkind.New(errkind.QueryError, "unknown op: "+string(req.Op)))
	}
}

// driverFor resolves the Driver a request should run against: the ambient
// connection when TxID is zero, or a previously opened transaction.
func (d *Dispatcher) driverFor(txID uint32) dataplane.Driver {
	if txID == 0 {
		return d.driver
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.txs[txID]
}

// handleBegin opens a transaction on a background goroutine parked on a
// done channel, since pgx.Tx has no standalone Begin/Commit API outside of
// Driver.Transaction's closure form; the goroutine blocks until Commit or
// Rollback signals it to return.
func (d *Dispatcher) handleBegin(ctx context.Context, req *Request) *Response {
	d.mu.Lock()
	d.next++
	txID := d.next
	d.mu.Unlock()

	ready := make(chan dataplane.Driver, 1)
	end := make(chan bool, 1)
	errCh := make(chan error, 1)

	go func() {
		err := d.driver.Transaction(ctx, func(ctx context.Context, tx dataplane.Driver) error {
			ready <- tx
			if commit := <-end; !commit {
				return errkind.New(errkind.Cancelled, "client requested rollback")
			}
			return nil
		})
		errCh <- err
	}()

	tx := <-ready

	d.mu.Lock()
	d.txs[txID] = &pendingTx{Driver: tx, end: end, errCh: errCh}
	d.mu.Unlock()

	return &Response{ID: req.ID, TxID: txID}
}

func (d *Dispatcher) handleEnd(req *Request, commit bool) *Response {
	d.mu.Lock()
	pt, ok := d.txs[req.TxID].(*pendingTx)
	if ok {
		delete(d.txs, req.TxID)
	}
	d.mu.Unlock()

	if !ok {
		return errorResponse(req.ID, errkind.New(errkind.QueryError, "unknown transaction"))
	}

	pt.end <- commit
	if err := <-pt.errCh; err != nil && commit {
		return errorResponse(req.ID, err)
	}
	return &Response{ID: req.ID}
}

// pendingTx binds a live Driver transaction to the goroutine awaiting its
// commit/rollback signal.
type pendingTx struct {
	dataplane.Driver
	end   chan bool
	errCh chan error
}

func errorResponse(id uint32, err error) *Response {
	kind := errkind.QueryError
	if e, ok := err.(*errkind.Error); ok {
		kind = e.Kind
	}
	return &Response{ID: id, Error: &ErrorPayload{Kind: string(kind), Message: err.Error()}}
}
