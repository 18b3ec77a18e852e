// Package db holds the persistence layer: the Postgres offer ledger and the
// Redis store used for nonces, pacing counters, publisher spend and worker
// heartbeats.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RedisStore wraps the shared cache. All keys carry explicit TTLs; nothing
// here is durable, the Postgres offer ledger is the long-term record.
type RedisStore struct {
	Client *redis.Client
}

// NewRedisStore connects to Redis at addr and instruments the client for
// tracing. The connection is verified with a ping.
func NewRedisStore(ctx context.Context, addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := redisotel.InstrumentTracing(client); err != nil {
		zap.L().Warn("failed to instrument redis tracing", zap.Error(err))
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{Client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client. Tests use this with
// miniredis.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{Client: client}
}

func nonceKey(ad, nonce, kind string) string {
	return fmt.Sprintf("offer:%s:%s:%s", ad, nonce, kind)
}

// SetNonce arms a nonce for one use of kind ("view" or "click").
func (s *RedisStore) SetNonce(ctx context.Context, ad, nonce, kind string, ttl time.Duration) error {
	return s.Client.Set(ctx, nonceKey(ad, nonce, kind), 0, ttl).Err()
}

// SetNoncePublisher binds the nonce to the publisher it was offered on.
func (s *RedisStore) SetNoncePublisher(ctx context.Context, ad, nonce, publisher string, ttl time.Duration) error {
	return s.Client.Set(ctx, nonceKey(ad, nonce, "publisher"), publisher, ttl).Err()
}

// ConsumeNonce atomically checks and invalidates a nonce. GETDEL guarantees
// at most one caller ever sees true for a given (ad, nonce, kind).
func (s *RedisStore) ConsumeNonce(ctx context.Context, ad, nonce, kind string) (bool, error) {
	err := s.Client.GetDel(ctx, nonceKey(ad, nonce, kind)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("consume nonce: %w", err)
	}
	return true, nil
}

// PeekNonce reports whether a nonce is still armed without consuming it.
func (s *RedisStore) PeekNonce(ctx context.Context, ad, nonce, kind string) (bool, error) {
	err := s.Client.Get(ctx, nonceKey(ad, nonce, kind)).Err()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NoncePublisher returns the publisher slug bound to a nonce, or "" when
// the nonce is gone.
func (s *RedisStore) NoncePublisher(ctx context.Context, ad, nonce string) (string, error) {
	v, err := s.Client.Get(ctx, nonceKey(ad, nonce, "publisher")).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func flightIntervalKey(flight, kind string, intervalStart time.Time) string {
	return fmt.Sprintf("pacing:flight:%s:%s:%d", flight, kind, intervalStart.Unix())
}

func flightDayKey(flight, kind string, day time.Time) string {
	return fmt.Sprintf("day:flight:%s:%s:%s", flight, kind, day.UTC().Format("2006-01-02"))
}

// IncrFlightEvent bumps both the interval and day counters for a billed
// view or click. Keys expire two intervals after they stop mattering.
func (s *RedisStore) IncrFlightEvent(ctx context.Context, flight, kind string, intervalStart time.Time, interval time.Duration, day time.Time) error {
	pipe := s.Client.TxPipeline()
	ik := flightIntervalKey(flight, kind, intervalStart)
	dk := flightDayKey(flight, kind, day)
	pipe.Incr(ctx, ik)
	pipe.Expire(ctx, ik, 2*interval)
	pipe.Incr(ctx, dk)
	pipe.Expire(ctx, dk, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// FlightIntervalCounts returns the views and clicks recorded during the
// current pacing interval.
func (s *RedisStore) FlightIntervalCounts(ctx context.Context, flight string, intervalStart time.Time) (views, clicks int64, err error) {
	vals, err := s.Client.MGet(ctx,
		flightIntervalKey(flight, "views", intervalStart),
		flightIntervalKey(flight, "clicks", intervalStart),
	).Result()
	if err != nil {
		return 0, 0, err
	}
	return parseCount(vals[0]), parseCount(vals[1]), nil
}

// FlightDayCounts returns the views and clicks billed so far today, used
// for the monetary daily cap.
func (s *RedisStore) FlightDayCounts(ctx context.Context, flight string, day time.Time) (views, clicks int64, err error) {
	vals, err := s.Client.MGet(ctx,
		flightDayKey(flight, "views", day),
		flightDayKey(flight, "clicks", day),
	).Result()
	if err != nil {
		return 0, 0, err
	}
	return parseCount(vals[0]), parseCount(vals[1]), nil
}

func parseCount(v interface{}) int64 {
	str, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscanf(str, "%d", &n)
	return n
}

func publisherSpendKey(publisher string, day time.Time) string {
	return fmt.Sprintf("spend:publisher:%s:%s", publisher, day.UTC().Format("2006-01-02"))
}

// AddPublisherSpend adds a billed amount to the publisher's earnings today.
func (s *RedisStore) AddPublisherSpend(ctx context.Context, publisher string, day time.Time, amount decimal.Decimal) error {
	key := publisherSpendKey(publisher, day)
	f, _ := amount.Float64()
	pipe := s.Client.TxPipeline()
	pipe.IncrByFloat(ctx, key, f)
	pipe.Expire(ctx, key, 48*time.Hour)
	_, err := pipe.Exec(ctx)
	return err
}

// PublisherSpendToday returns the publisher's billed earnings so far today.
func (s *RedisStore) PublisherSpendToday(ctx context.Context, publisher string, day time.Time) (decimal.Decimal, error) {
	v, err := s.Client.Get(ctx, publisherSpendKey(publisher, day)).Result()
	if err == redis.Nil {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse publisher spend: %w", err)
	}
	return d, nil
}

// SetHeartbeat records that the named worker just completed a run.
func (s *RedisStore) SetHeartbeat(ctx context.Context, name string, now time.Time) error {
	return s.Client.Set(ctx, "heartbeat:"+name, now.UTC().Format(time.RFC3339), 0).Err()
}

// Heartbeat returns the time of the worker's last run. The zero time means
// no heartbeat has been written yet.
func (s *RedisStore) Heartbeat(ctx context.Context, name string) (time.Time, error) {
	v, err := s.Client.Get(ctx, "heartbeat:"+name).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse heartbeat: %w", err)
	}
	return t, nil
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.Client.Close()
}
