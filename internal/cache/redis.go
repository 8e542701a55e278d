package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const otelScope = "growrelay/cache"

// DefaultOpTimeout bounds every Redis round trip.
const DefaultOpTimeout = 3 * time.Second

// Redis is a Cache backed by a Redis server. The connection is established
// lazily, so constructing one against an unreachable server succeeds and the
// first operations simply miss.
type Redis struct {
	client    *redis.Client
	opTimeout time.Duration
	log       *slog.Logger
	tracer    trace.Tracer
}

// NewRedis parses url (redis://[user:pass@]host:port/db) and returns a cache.
// A zero opTimeout uses [DefaultOpTimeout].
func NewRedis(url string, opTimeout time.Duration, logger *slog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return newRedis(redis.NewClient(opts), opTimeout, logger), nil
}

func newRedis(client *redis.Client, opTimeout time.Duration, logger *slog.Logger) *Redis {
	if opTimeout <= 0 {
		opTimeout = DefaultOpTimeout
	}
	return &Redis{
		client:    client,
		opTimeout: opTimeout,
		log:       logger,
		tracer:    otel.Tracer(otelScope),
	}
}

// Get implements Cache.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, span := r.tracer.Start(ctx, "cache.get", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("cache.hit", false))
		return nil, false
	}
	if err != nil {
		r.log.Debug("redis get failed", "key", key, "error", err)
		span.RecordError(err)
		return nil, false
	}
	span.SetAttributes(attribute.Bool("cache.hit", true))
	return val, true
}

// Set implements Cache.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	ctx, span := r.tracer.Start(ctx, "cache.set", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		r.log.Debug("redis set failed", "key", key, "error", err)
		span.RecordError(err)
	}
}

// Ping implements Cache.
func (r *Redis) Ping(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, r.opTimeout)
	defer cancel()

	if err := r.client.Ping(ctx).Err(); err != nil {
		r.log.Debug("redis ping failed", "error", err)
		return StatusUnavailable
	}
	return StatusOK
}

// Close releases the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}
