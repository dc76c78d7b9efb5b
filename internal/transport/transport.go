// Package transport implements the two wire carriers the client proxy can
// speak to reach the host (§4.2): a preferred gRPC bidi-streaming "port"
// (internal/transport/grpcport) and a WebSocket fallback
// (internal/transport/wsport). internal/transport/broadcast is a separate,
// NATS-based fan-out channel used only for progress/notification events,
// never for the request/response RPC path.
package transport

import (
	"context"

	"github.com/memorall/core/internal/rpc"
)

// Transport is the carrier a proxy.Driver sends rpc.Requests over and
// receives rpc.Responses from. Both implementations reconnect on their own
// using the same backoff ladder before surfacing errkind.TransportClosed.
type Transport interface {
	rpc.Sender

	// Responses returns the channel of Responses read off the wire. It is
	// closed once the transport gives up reconnecting.
	Responses() <-chan *rpc.Response

	// Close tears the transport down and stops any reconnect loop.
	Close() error
}

// Server accepts client connections and dispatches their requests against a
// rpc.Dispatcher, the host-side half of a Transport.
type Server interface {
	Serve(ctx context.Context) error
	Close() error
}

// backoff is the reconnect ladder both client transports follow: 100ms
// initial delay, doubling, capped at 2s, giving up after 5 attempts.
// grpcport.Client and wsport.Client compute the same ladder inline in their
// read loops instead of using this type.
type backoff struct {
	attempt int
}

const (
	backoffInitial    = 100 // milliseconds
	backoffCap        = 2000
	backoffMaxAttempt = 5
)

// next returns the delay in milliseconds for the next attempt, and whether
// the caller should give up instead.
func (b *backoff) next() (delayMs int, giveUp bool) {
	if b.attempt >= backoffMaxAttempt {
		return 0, true
	}
	delay := backoffInitial << b.attempt
	if delay > backoffCap {
		delay = backoffCap
	}
	b.attempt++
	return delay, false
}

func (b *backoff) reset() { b.attempt = 0 }
