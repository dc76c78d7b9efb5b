// Package dataplane defines the single query surface shared by the host's
// direct store (internal/storage) and the client-side proxy
// (internal/dataplane/proxy). Both implement Driver identically so calling
// code never needs to know whether it is talking to Postgres directly or
// through an RPC hop — this is the "client sees the same query API as the
// host" contract from §4.3.
package dataplane

import "context"

// RowMode selects how Query results are shaped.
type RowMode string

const (
	RowModeObject RowMode = "object"
	RowModeArray  RowMode = "array"
)

// Result is the outcome of a Query call.
type Result struct {
	Rows     []map[string]any
	RowCount int
}

// Driver is the surface a caller issues SQL through, regardless of whether
// it runs in the host process or a client proxying over RPC.
type Driver interface {
	// Query runs sql with params and returns decoded rows. rowMode controls
	// whether each row is returned as a map keyed by column name (object) or
	// a positional slice re-keyed under numeric string keys (array); in Go
	// both shapes are carried in Result.Rows for a uniform call site.
	Query(ctx context.Context, sql string, params []any, rowMode RowMode) (*Result, error)

	// Exec runs a statement that returns no rows (DDL, or DML where the
	// caller does not need RowCount/Rows back).
	Exec(ctx context.Context, sql string) error

	// Transaction runs fn with a Driver bound to one underlying transaction:
	// BEGIN before fn, COMMIT on success, ROLLBACK (errors swallowed) if fn
	// returns an error or panics; a panic is re-raised after the rollback.
	Transaction(ctx context.Context, fn func(ctx context.Context, tx Driver) error) error

	// WaitReady resolves once the driver has completed its first successful
	// health check (a successful round trip to the host).
	WaitReady(ctx context.Context) error

	// Close releases the driver's resources. Further calls fail with
	// errkind.TransportClosed (proxy; errkind.ProxyClosed is not returned) or
	// a closed-pool error (direct store).
	Close() error
}
