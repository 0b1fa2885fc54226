package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"vpool/pkg/logger"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const (
	defaultTTL      = 30 * time.Second // Expiry so a crashed holder cannot wedge the job
	acquireTimeout  = 5 * time.Second
	renewInterval   = 10 * time.Second
	maxHoldDuration = 5 * time.Minute
)

// unlockScript deletes the key only if we still own it
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`)

// renewScript extends the key only if we still own it
var renewScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("expire", KEYS[1], ARGV[2])
else
	return 0
end
`)

// DistributedLock mutual exclusion across service replicas
type DistributedLock interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
	IsHeld() bool
}

// RedisDistributedLock SET NX lock with an owner token and background renewal.
// A nil client degrades to an always-acquired lock for single-instance runs.
type RedisDistributedLock struct {
	client     *redis.Client
	key        string
	token      string
	ttl        time.Duration
	held       bool
	acquiredAt time.Time
	stopRenew  chan struct{}
	stopped    bool
	mu         sync.Mutex
}

// NewRedisDistributedLock creates a lock on key, e.g. "vpool:lock:pool-sizing"
func NewRedisDistributedLock(client *redis.Client, key string) *RedisDistributedLock {
	return &RedisDistributedLock{
		client: client,
		key:    key,
		token:  fmt.Sprintf("%s-%s", key, uuid.NewString()),
		ttl:    defaultTTL,
	}
}

// TryLock attempts to take the lock without waiting for the current holder
func (l *RedisDistributedLock) TryLock(ctx context.Context) (bool, error) {
	if l.client == nil {
		logger.DebugCtx(ctx, "redis client is nil, lock %s runs in single-instance mode", l.key)
		l.mu.Lock()
		l.held = true
		l.mu.Unlock()
		return true, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, acquireTimeout)
	defer cancel()

	acquired, err := l.client.SetNX(acquireCtx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock %s: %w", l.key, err)
	}
	if !acquired {
		logger.DebugCtx(ctx, "lock %s held by another instance", l.key)
		return false, nil
	}

	l.mu.Lock()
	l.held = true
	l.acquiredAt = time.Now()
	// fresh channel per acquisition so TryLock/Unlock can cycle
	l.stopRenew = make(chan struct{})
	l.stopped = false
	stop := l.stopRenew
	l.mu.Unlock()

	go l.renew(ctx, stop)
	return true, nil
}

// Unlock releases the lock if this instance still owns it
func (l *RedisDistributedLock) Unlock(ctx context.Context) error {
	l.mu.Lock()
	if !l.held && (l.stopRenew == nil || l.stopped) {
		l.mu.Unlock()
		return nil
	}
	l.held = false
	if l.stopRenew != nil && !l.stopped {
		l.stopped = true
		close(l.stopRenew)
	}
	l.mu.Unlock()

	if l.client == nil {
		return nil
	}

	result, err := unlockScript.Run(ctx, l.client, []string{l.key}, l.token).Int64()
	if err != nil {
		return fmt.Errorf("failed to release lock %s: %w", l.key, err)
	}
	if result == 0 {
		logger.WarnCtx(ctx, "lock %s was already released or taken over", l.key)
	}
	return nil
}

// IsHeld reports whether this instance believes it holds the lock
func (l *RedisDistributedLock) IsHeld() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.held
}

func (l *RedisDistributedLock) renew(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(renewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			held := time.Since(l.acquiredAt)
			l.mu.Unlock()

			if held > maxHoldDuration {
				logger.WarnCtx(ctx, "lock %s held for %.0fs, no longer renewing", l.key, held.Seconds())
				l.markLost()
				return
			}

			ok, err := renewScript.Run(ctx, l.client, []string{l.key}, l.token, int(l.ttl.Seconds())).Int64()
			if err != nil || ok == 0 {
				logger.WarnCtx(ctx, "lock %s lost during renewal: %v", l.key, err)
				l.markLost()
				return
			}
		}
	}
}

func (l *RedisDistributedLock) markLost() {
	l.mu.Lock()
	l.held = false
	l.mu.Unlock()
}
