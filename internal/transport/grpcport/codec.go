// Package grpcport implements transport.Transport over a raw gRPC
// bidi-streaming call, the preferred "port" carrier of §4.2. Request/Response
// envelopes are already self-describing JSON (internal/rpc), so frames are
// carried as opaque bytes through a minimal codec rather than through
// generated protobuf types — the wire framing gRPC/HTTP2 gives us (length
// prefixing, flow control, multiplexed streams) is the reason to prefer
// this transport over WebSocket, not protobuf itself.
package grpcport

import (
	"google.golang.org/grpc/encoding"
)

const codecName = "memorall-raw"

// rawCodec implements encoding.Codec by passing raw bytes straight through,
// since internal/rpc already owns encoding (sonic-backed JSON) for the
// envelopes it carries.
type rawCodec struct{}

func (rawCodec) Marshal(v interface{}) ([]byte, error) {
	switch m := v.(type) {
	case []byte:
		return m, nil
	case *frame:
		return m.data, nil
	}
	return nil, errUnsupportedType
}

func (rawCodec) Unmarshal(data []byte, v interface{}) error {
	switch m := v.(type) {
	case *[]byte:
		*m = append([]byte(nil), data...)
		return nil
	case *frame:
		m.data = append([]byte(nil), data...)
		return nil
	}
	return errUnsupportedType
}

func (rawCodec) Name() string { return codecName }

// frame is the concrete type streamed through the generic bidi call.
type frame struct{ data []byte }

var errUnsupportedType = errType{}

type errType struct{}

func (errType) Error() string { return "grpcport: unsupported message type for raw codec" }

func init() {
	encoding.RegisterCodec(rawCodec{})
}
