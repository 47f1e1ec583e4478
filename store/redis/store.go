package redis

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"

	goredis "github.com/redis/go-redis/v9"

	"github.com/syncwell/pulse/dlq"
	"github.com/syncwell/pulse/job"
	"github.com/syncwell/pulse/ratelimit"
	"github.com/syncwell/pulse/sched"
)

// Compile-time interface checks.
var (
	_ job.Store       = (*Store)(nil)
	_ sched.Store     = (*Store)(nil)
	_ dlq.Store       = (*Store)(nil)
	_ ratelimit.Store = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client goredis.Cmdable
	logger *slog.Logger

	// seq disambiguates rate window members admitted in the same instant.
	seq atomic.Int64
}

// New creates a new Redis-backed store. The caller owns the Redis client
// lifecycle.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Client returns the underlying Redis client.
func (s *Store) Client() goredis.Cmdable { return s.client }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op. The caller owns the Redis client lifecycle.
func (s *Store) Close() error { return nil }

// ── JSON entity helpers ──

func (s *Store) setEntity(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, key, b, 0).Err()
}

func (s *Store) getEntity(ctx context.Context, key string, v any) error {
	b, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}
