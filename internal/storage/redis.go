package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"resume-intake/internal/config"
	"resume-intake/internal/tracing"
)

// DigestSetKey holds the SHA-256 digests of every ingested document.
const DigestSetKey = "resume_intake:document_digests"

var redisTracer = otel.Tracer("resume-intake/storage/redis")

// checkAndAddScript returns 1 when the member was already present. The set
// expiry is refreshed on every call.
var checkAndAddScript = redis.NewScript(`
	local exists = redis.call('SISMEMBER', KEYS[1], ARGV[1])
	redis.call('SADD', KEYS[1], ARGV[1])
	redis.call('EXPIRE', KEYS[1], ARGV[2])
	return exists
`)

// Redis wraps the client used for content-digest dedupe.
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
}

// NewRedis connects, installs tracing and pings the server.
func NewRedis(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, errors.New("redis config is nil")
	}
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Address,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,
		MaxRetries:   cfg.MaxRetries,
	})

	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("instrument redis tracing: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis at %s: %w", cfg.Address, err)
	}

	return &Redis{Client: client, config: cfg}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return errors.New("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

// DigestExpiry is how long the digest set survives without writes.
func (r *Redis) DigestExpiry() time.Duration {
	days := r.config.DigestExpireDays
	if days <= 0 {
		days = 365
	}
	return time.Duration(days) * 24 * time.Hour
}

// CheckAndAddDigest atomically records digest and reports whether it was
// already present.
func (r *Redis) CheckAndAddDigest(ctx context.Context, digest string) (bool, error) {
	ctx, span := redisTracer.Start(ctx, "Redis.CheckAndAddDigest",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemRedis,
			attribute.String("db.redis.database", strconv.Itoa(r.config.DB)),
			attribute.String("db.operation", "EVALSHA"),
			attribute.String("db.redis.key", DigestSetKey),
		))
	defer span.End()

	if r.Client == nil {
		err := errors.New("redis client is not initialized")
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, err
	}

	expiry := int64(r.DigestExpiry().Seconds())
	exists, err := checkAndAddScript.Run(ctx, r.Client, []string{DigestSetKey}, digest, expiry).Int64()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, fmt.Errorf("check and add digest: %w", err)
	}

	span.SetAttributes(attribute.Bool("already_exists", exists == 1))
	return exists == 1, nil
}

// RemoveDigest forgets digest so the document can be ingested again. It is
// used to roll back a dedupe mark when the run later fails.
func (r *Redis) RemoveDigest(ctx context.Context, digest string) error {
	if r.Client == nil {
		return errors.New("redis client is not initialized")
	}
	if err := r.Client.SRem(ctx, DigestSetKey, digest).Err(); err != nil {
		return fmt.Errorf("remove digest: %w", err)
	}
	return nil
}

// ContentDigest returns the hex SHA-256 of data.
func ContentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
