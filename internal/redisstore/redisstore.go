// Package redisstore provides the Redis-backed pieces shared between replicas: the exchange
// rate snapshot and the reconcile-pass lock.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"invoicehub/internal/core"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

const ratesKey = "invoicehub:rates:snapshot"

// Connect opens a client and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("unable to ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}

// RateSnapshots stores the last good rate table as a JSON object with an expiry.
type RateSnapshots struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRateSnapshots(rdb *redis.Client, ttl time.Duration) *RateSnapshots {
	return &RateSnapshots{rdb: rdb, ttl: ttl}
}

// LoadRates returns (nil, nil) when no snapshot is stored.
func (s *RateSnapshots) LoadRates(ctx context.Context) (core.RateTable, error) {
	val, err := s.rdb.Get(ctx, ratesKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("load rate snapshot: %w", err)
	}
	var table core.RateTable
	if err := json.Unmarshal(val, &table); err != nil {
		return nil, fmt.Errorf("decode rate snapshot: %w", err)
	}
	return table, nil
}

func (s *RateSnapshots) SaveRates(ctx context.Context, rates core.RateTable) error {
	data, err := json.Marshal(rates)
	if err != nil {
		return fmt.Errorf("encode rate snapshot: %w", err)
	}
	if err := s.rdb.Set(ctx, ratesKey, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("save rate snapshot: %w", err)
	}
	return nil
}

// Locker takes short-lived distributed locks through redislock.
type Locker struct {
	client *redislock.Client
}

func NewLocker(rdb *redis.Client) *Locker {
	return &Locker{client: redislock.New(rdb)}
}

// TryLock obtains key without retrying. ok is false when another holder has it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, bool, error) {
	lock, err := l.client.Obtain(ctx, "lock:"+key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func(ctx context.Context) error {
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			return err
		}
		return nil
	}, true, nil
}
