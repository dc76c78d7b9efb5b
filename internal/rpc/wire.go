// Package rpc defines the wire protocol clients and the host speak over a
// Transport (§4.2): a request/response envelope correlated by a wrapping
// 32-bit id, carrying dataplane.Driver operations (query/exec/transaction
// begin-commit-rollback) plus health and close. This is the generalization
// of the teacher's mcp.MCPRequest/MCPResponse envelope to the data-plane
// proxy's needs.
package rpc

import (
	"github.com/memorall/core/internal/dataplane"
)

// Op enumerates the operations a client may issue over the wire.
type Op string

const (
	OpQuery     Op = "query"
	OpExec      Op = "exec"
	OpBegin     Op = "begin"
	OpCommit    Op = "commit"
	OpRollback  Op = "rollback"
	OpHealth    Op = "health"
	OpClose     Op = "close"
)

// Request is one envelope sent from client to host.
type Request struct {
	ID      uint32          `json:"id"`
	Op      Op              `json:"op"`
	SQL     string          `json:"sql,omitempty"`
	Params  []any           `json:"params,omitempty"`
	RowMode dataplane.RowMode `json:"rowMode,omitempty"`

	// TxID scopes the operation to a previously-opened transaction; zero
	// means "run against the ambient connection" per §4.3.
	TxID uint32 `json:"txId,omitempty"`
}

// ErrorPayload carries a typed error kind across the wire so the client can
// reconstruct an errkind.Error rather than a bare string (§7).
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Response is one envelope sent from host to client, correlated to a
// Request by ID.
type Response struct {
	ID     uint32            `json:"id"`
	Result *dataplane.Result `json:"result,omitempty"`
	TxID   uint32            `json:"txId,omitempty"`
	Error  *ErrorPayload     `json:"error,omitempty"`
}
