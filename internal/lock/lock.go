// Package lock serializes reconciliations of the same document, across
// replicas through Redis or within one process.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

var logger = logrus.StandardLogger().WithField("package", "lock")

// ErrBusy is returned when the lock could not be obtained before the wait ran out.
var ErrBusy = errors.New("document is being processed by another request")

// RedisLocker takes a redislock lease per key.
type RedisLocker struct {
	client *redis.Client
	locker *redislock.Client
	ttl    time.Duration
	wait   time.Duration
}

// NewRedisLocker connects to addr and verifies it with a ping.
func NewRedisLocker(ctx context.Context, addr string, ttl, wait time.Duration) (*RedisLocker, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: 20,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &RedisLocker{client: rdb, locker: redislock.New(rdb), ttl: ttl, wait: wait}, nil
}

// Lock obtains the lease for key, retrying until the wait elapses. The lease
// expires after the TTL if the holder dies without releasing it.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	opts := &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), int(l.wait/(100*time.Millisecond))),
	}
	lk, err := l.locker.Obtain(ctx, "qrtrace:lock:"+key, l.ttl, opts)
	if errors.Is(err, redislock.ErrNotObtained) {
		logger.WithField("key", key).Warn("could not obtain redis lock")
		return nil, ErrBusy
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}
	return func() {
		// The request context may already be cancelled.
		if err := lk.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			logger.WithField("key", key).Warnf("failed to release redis lock: %v", err)
		}
	}, nil
}

// Close closes the Redis connection pool.
func (l *RedisLocker) Close() error { return l.client.Close() }

// LocalLocker is the in-process fallback when Redis is not configured. A key
// is tracked only while someone holds or waits for it.
type LocalLocker struct {
	mu   sync.Mutex
	keys map[string]*localKey
}

type localKey struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{keys: map[string]*localKey{}}
}

// Lock blocks until key is free or ctx is done.
func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	k, ok := l.keys[key]
	if !ok {
		k = &localKey{ch: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	l.mu.Unlock()

	select {
	case k.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-k.ch
				l.release(key, k)
			})
		}, nil
	case <-ctx.Done():
		l.release(key, k)
		return nil, ErrBusy
	}
}

func (l *LocalLocker) release(key string, k *localKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}

// Len returns the number of keys currently held or waited on.
func (l *LocalLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.keys)
}
