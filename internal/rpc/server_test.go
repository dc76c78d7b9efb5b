package rpc

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memorall/core/internal/dataplane"
)

// fakeDriver is a minimal in-memory dataplane.Driver standing in for
// internal/storage.Store, enough to exercise Dispatcher's request handling
// without a real Postgres connection.
type fakeDriver struct {
	queryErr error
	execErr  error
	readyErr error
	rows     []map[string]any
}

func (f *fakeDriver) Query(ctx context.Context, sql string, params []any, rowMode dataplane.RowMode) (*dataplane.Result, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return &dataplane.Result{Rows: f.rows, RowCount: len(f.rows)}, nil
}

func (f *fakeDriver) Exec(ctx context.Context, sql string) error { return f.execErr }

func (f *fakeDriver) Transaction(ctx context.Context, fn func(ctx context.Context, tx dataplane.Driver) error) error {
	return fn(ctx, f)
}

func (f *fakeDriver) WaitReady(ctx context.Context) error { return f.readyErr }
func (f *fakeDriver) Close() error                        { return nil }

func TestDispatcherHealthOK(t *testing.T) {
	d := NewDispatcher(&fakeDriver{}, nil)
	resp := d.Handle(context.Background(), &Request{ID: 1, Op: OpHealth})
	assert.Nil(t, resp.Error)
}

func TestDispatcherHealthPropagatesNotReadyError(t *testing.T) {
	d := NewDispatcher(&fakeDriver{readyErr: errors.New("store not ready")}, nil)
	resp := d.Handle(context.Background(), &Request{ID: 1, Op: OpHealth})
	require.NotNil(t, resp.Error)
	assert.Contains(t, resp.Error.Message, "store not ready")
}

func TestDispatcherQueryAgainstAmbientConnection(t *testing.T) {
	drv := &fakeDriver{rows: []map[string]any{{"id": "n1"}}}
	d := NewDispatcher(drv, nil)
	resp := d.Handle(context.Background(), &Request{ID: 2, Op: OpQuery, SQL: "select 1"})
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	assert.Equal(t, 1, resp.Result.RowCount)
}

func TestDispatcherQueryOnUnknownTransactionErrors(t *testing.T) {
	d := NewDispatcher(&fakeDriver{}, nil)
	resp := d.Handle(context.Background(), &Request{ID: 3, Op: OpQuery, TxID: 999})
	require.NotNil(t, resp.Error)
	assert.Equal(t, "QueryError", resp.Error.Kind)
}

func TestDispatcherUnknownOpErrors(t *testing.T) {
	d := NewDispatcher(&fakeDriver{}, nil)
	resp := d.Handle(context.Background(), &Request{ID: 4, Op: Op("bogus")})
	require.NotNil(t, resp.Error)
}

func TestDispatcherBeginCommitRoundTrip(t *testing.T) {
	drv := &fakeDriver{rows: []map[string]any{{"id": "n1"}}}
	d := NewDispatcher(drv, nil)

	begin := d.Handle(context.Background(), &Request{ID: 5, Op: OpBegin})
	require.Nil(t, begin.Error)
	require.NotZero(t, begin.TxID)

	query := d.Handle(context.Background(), &Request{ID: 6, Op: OpQuery, TxID: begin.TxID, SQL: "select 1"})
	require.Nil(t, query.Error)
	assert.Equal(t, 1, query.Result.RowCount)

	commit := d.Handle(context.Background(), &Request{ID: 7, Op: OpCommit, TxID: begin.TxID})
	assert.Nil(t, commit.Error)

	// The tx table entry must be gone: the same TxID is now unknown.
	after := d.Handle(context.Background(), &Request{ID: 8, Op: OpQuery, TxID: begin.TxID})
	require.NotNil(t, after.Error)
}

func TestDispatcherBeginRollbackReturnsNoError(t *testing.T) {
	d := NewDispatcher(&fakeDriver{}, nil)

	begin := d.Handle(context.Background(), &Request{ID: 9, Op: OpBegin})
	require.Nil(t, begin.Error)

	rollback := d.Handle(context.Background(), &Request{ID: 10, Op: OpRollback, TxID: begin.TxID})
	assert.Nil(t, rollback.Error)
}

func TestDispatcherCommitOnUnknownTxErrors(t *testing.T) {
	d := NewDispatcher(&fakeDriver{}, nil)
	resp := d.Handle(context.Background(), &Request{ID: 11, Op: OpCommit, TxID: 12345})
	require.NotNil(t, resp.Error)
}
