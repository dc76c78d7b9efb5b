// Package broadcast is the NATS-based fan-out layer used by the registry
// (job lifecycle events) and the shared key/value store (storage-changed
// events). It is deliberately separate from internal/rpc/internal/transport:
// those carry request/response calls, this carries best-effort notifications
// nobody needs to ack, the same split the teacher's kernel.go draws between
// JetStream durable consumption and plain pub/sub.
package broadcast

import (
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/jsonx"
)

// Subject names for the event types §4.5/§4.9 describe.
const (
	SubjectNewJob         = "memorall.job.new"
	SubjectJobUpdated     = "memorall.job.updated"
	SubjectJobCompleted   = "memorall.job.completed"
	SubjectStorageChanged = "memorall.storage.changed"
)

// Bus wraps a core NATS connection used only for fire-and-forget fan-out,
// never for durable queueing — the job queue's durability lives in
// Postgres, not JetStream (§4.5).
type Bus struct {
	conn   *nats.Conn
	logger *zap.Logger
}

// Connect dials addr with the teacher's reconnect policy (10 max reconnects,
// 2s reconnect wait).
func Connect(addr string, logger *zap.Logger) (*Bus, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(addr,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(10),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportClosed, "nats connect", err)
	}
	return &Bus{conn: conn, logger: logger}, nil
}

// Publish marshals payload and publishes it to subject, logging (not
// failing) on error — fan-out is advisory, never load-bearing.
func (b *Bus) Publish(subject string, payload any) {
	data, err := jsonx.Marshal(payload)
	if err != nil {
		b.logger.Error("broadcast marshal failed", zap.String("subject", subject), zap.Error(err))
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.Warn("broadcast publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// Subscribe registers handler for subject, decoding each message into a
// fresh T. Decode failures are dropped, not surfaced, to match Publish's
// best-effort contract.
func Subscribe[T any](b *Bus, subject string, handler func(T)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		var v T
		if err := jsonx.Unmarshal(msg.Data, &v); err != nil {
			b.logger.Debug("dropping malformed broadcast", zap.String("subject", subject), zap.Error(err))
			return
		}
		handler(v)
	})
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportClosed, "nats subscribe", err)
	}
	return sub, nil
}

// Close closes the underlying connection without draining it.
func (b *Bus) Close() error {
	b.conn.Close()
	return nil
}

// JobEvent is the payload carried on SubjectNewJob/JobUpdated/JobCompleted.
type JobEvent struct {
	JobID    string `json:"jobId"`
	JobType  string `json:"jobType"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
}

// StorageChangedEvent is the payload carried on SubjectStorageChanged (§4.9).
type StorageChangedEvent struct {
	Key       string `json:"key"`
	OldValue  any    `json:"oldValue"`
	NewValue  any    `json:"newValue"`
	Timestamp int64  `json:"timestamp"`
}
