package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the leader key's TTL only if this instance still owns
// it; a plain GET-then-EXPIRE would race with a takeover.
var renewScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// Leader elects a single sweeper instance via a Redis SETNX lease so only one
// replica runs the reassignment sweep at a time.
type Leader struct {
	client     *redis.Client
	key        string
	instanceID string
	ttl        time.Duration
}

// NewLeader returns a leader-election handle for the given lease key.
func NewLeader(client *redis.Client, key, instanceID string, ttl time.Duration) *Leader {
	return &Leader{client: client, key: key, instanceID: instanceID, ttl: ttl}
}

// AcquireOrRenew attempts to take the lease, or extends it if this instance
// already holds it. Returns true when this instance is the leader.
func (l *Leader) AcquireOrRenew(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.instanceID, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("leader election SetNX: %w", err)
	}
	if ok {
		return true, nil
	}

	result, err := renewScript.Run(ctx, l.client, []string{l.key}, l.instanceID, l.ttl.Milliseconds()).Int()
	if err != nil && !errors.Is(err, redis.Nil) {
		return false, fmt.Errorf("leader renewal: %w", err)
	}
	return result == 1, nil
}
