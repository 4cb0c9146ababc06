package cache

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrCacheMiss = errors.New("cache: key not found")
	// ErrLockLost is returned by Unlock when the lease expired and the key
	// is no longer held under the caller's token.
	ErrLockLost = errors.New("cache: lock not held")
)

// Service is the key-value contract used for component state snapshots.
// Values are encoded with msgpack so any backend round-trips typed structs.
type Service interface {
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Get(ctx context.Context, key string, dest interface{}) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, keys ...string) (bool, error)
	// TryLock takes a lease on key. The returned token identifies the
	// owner; it is empty when the lease is held elsewhere.
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	// Unlock releases the lease only if it is still held under token.
	Unlock(ctx context.Context, key, token string) error
	Close() error
}

func newLockToken() string { return uuid.NewString() }

func encode(value interface{}) ([]byte, error) {
	if b, ok := value.([]byte); ok {
		return b, nil
	}
	return msgpack.Marshal(value)
}

func decode(data []byte, dest interface{}) error {
	if b, ok := dest.(*[]byte); ok {
		*b = append((*b)[:0], data...)
		return nil
	}
	return msgpack.Unmarshal(data, dest)
}
