package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/warp/allocation-engine/inventory"
	"github.com/warp/allocation-engine/logger"
)

// =============================================================================
// POOL LOCK - inventory.Locker shared across server instances
// =============================================================================

// releaseScript deletes the lock only if it still holds our token, so an
// expired lock taken over by another instance is never released by us.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

const defaultRetryInterval = 25 * time.Millisecond

// PoolLocker serializes allocation decisions through SET NX PX. The TTL
// bounds how long a crashed holder can block a pool; the ledger's version
// check still catches a decision that outlives its lock.
type PoolLocker struct {
	client        *Client
	ttl           time.Duration
	retryInterval time.Duration
}

var _ inventory.Locker = (*PoolLocker)(nil)

func NewPoolLocker(client *Client, ttl time.Duration) *PoolLocker {
	return &PoolLocker{client: client, ttl: ttl, retryInterval: defaultRetryInterval}
}

// Lock blocks until the lock is taken or ctx is done.
func (l *PoolLocker) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := l.client.LockKey(key)
	token := uuid.NewString()

	for {
		ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl)
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}

	released := false
	return func() {
		if released {
			return
		}
		released = true
		// The caller's context may already be cancelled; the release must
		// still go out.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.client.store.Eval(relCtx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			logger.Warn(logger.WithFields(ctx, map[string]any{"lock": key, "error": err.Error()}), "pool lock release failed, waiting for ttl")
		}
	}, nil
}
