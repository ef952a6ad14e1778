package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// SolverDirectory is the shared set of addresses allowed to settle.
type SolverDirectory interface {
	IsSolver(ctx context.Context, addr common.Address) (bool, error)
	Add(ctx context.Context, addr common.Address) error
	Remove(ctx context.Context, addr common.Address) error
	List(ctx context.Context) ([]common.Address, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams. PublishDurable appends
// payload to stream and publishes it on channel in one round trip.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	PublishDurable(ctx context.Context, channel, stream string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// Bus channel and stream names.
const (
	ChannelEvents  = "settle:events"
	StreamEvents   = "settle:events:stream"
	ChannelReverts = "settle:reverts"
)
