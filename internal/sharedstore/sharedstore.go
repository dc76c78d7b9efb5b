// Package sharedstore is the small typed key/value layer the browser
// extension and host share for settings like the current model or whether
// the UI tour has run (§4.9). It is a thin wrapper over redis.Client plus a
// broadcast.Bus fan-out, generalized from the teacher's own ad hoc
// redisClient.Get/Set call sites in internal/kernel (consultation.go's
// response cache, ingestion_lock.go's SetNX lock) into one typed surface
// with change notification.
package sharedstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/memorall/core/internal/errkind"
	"github.com/memorall/core/internal/transport/broadcast"
)

// Known keys (§4.9's "current_model" and "ui_tour_completed").
const (
	KeyCurrentModel    = "current_model"
	KeyUITourCompleted = "ui_tour_completed"
)

const keyPrefix = "memorall:shared:"

// Store is a typed KV over redis with last-writer-wins semantics across
// processes, broadcasting every change on broadcast.SubjectStorageChanged.
type Store struct {
	redis  *redis.Client
	bus    *broadcast.Bus
	logger *zap.Logger
}

// New wires a Store over an already-connected redis client and broadcast
// bus. The bus may be nil in tests; a nil bus just means changes
// aren't announced. A nil redisClient is not checked: Get, Set and Remove
// call it directly and panic.
func New(redisClient *redis.Client, bus *broadcast.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{redis: redisClient, bus: bus, logger: logger}
}

// Get decodes the value stored at key into out, reporting (false, nil) if
// the key is unset.
func (s *Store) Get(ctx context.Context, key string, out any) (bool, error) {
	raw, err := s.redis.Get(ctx, keyPrefix+key).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, errkind.Wrap(errkind.QueryError, "sharedstore get", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, errkind.Wrap(errkind.QueryError, "sharedstore decode", err)
	}
	return true, nil
}

// Set stores value at key and broadcasts the change. Last-writer-wins: the
// broadcast carries a timestamp so subscribers can discard stale updates
// that arrive out of order (§4.9/§5).
func (s *Store) Set(ctx context.Context, key string, value any) error {
	var old json.RawMessage
	_, _ = s.Get(ctx, key, &old)

	data, err := json.Marshal(value)
	if err != nil {
		return errkind.Wrap(errkind.QueryError, "sharedstore encode", err)
	}
	if err := s.redis.Set(ctx, keyPrefix+key, data, 0).Err(); err != nil {
		return errkind.Wrap(errkind.QueryError, "sharedstore set", err)
	}

	if s.bus != nil {
		s.bus.Publish(broadcast.SubjectStorageChanged, broadcast.StorageChangedEvent{
			Key:       key,
			OldValue:  old,
			NewValue:  value,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return nil
}

// Remove deletes key and broadcasts a change with a nil NewValue.
func (s *Store) Remove(ctx context.Context, key string) error {
	var old json.RawMessage
	_, _ = s.Get(ctx, key, &old)

	if err := s.redis.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errkind.Wrap(errkind.QueryError, "sharedstore remove", err)
	}
	if s.bus != nil {
		s.bus.Publish(broadcast.SubjectStorageChanged, broadcast.StorageChangedEvent{
			Key:       key,
			OldValue:  old,
			NewValue:  nil,
			Timestamp: time.Now().UnixMilli(),
		})
	}
	return nil
}

// Subscribe registers handler for every STORAGE_CHANGED event, regardless of
// key; callers filter on event.Key themselves (mirrors the wire contract in
// §6, which broadcasts one subject for all keys).
func Subscribe(bus *broadcast.Bus, handler func(broadcast.StorageChangedEvent)) error {
	_, err := broadcast.Subscribe(bus, broadcast.SubjectStorageChanged, handler)
	return err
}
