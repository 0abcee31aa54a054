package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/price-tracker/internal/domain"
	"github.com/user/price-tracker/pkg/utils"
)

// RedisRunTracker keeps the run lock and the last run status in Redis so
// several processes sharing one catalog never scrape at the same time.
type RedisRunTracker struct {
	client    *redis.Client
	lockKey   string
	statusKey string
	token     string
}

// NewRedisRunTracker scopes its keys to the configuration document so
// independent deployments can share a Redis server.
func NewRedisRunTracker(opts *redis.Options, document string) *RedisRunTracker {
	scope := utils.HashKey(document)[:16]
	return &RedisRunTracker{
		client:    redis.NewClient(opts),
		lockKey:   fmt.Sprintf("scrape:lock:%s", scope),
		statusKey: fmt.Sprintf("scrape:status:%s", scope),
		token:     fmt.Sprintf("%d", time.Now().UnixNano()),
	}
}

func (s *RedisRunTracker) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisRunTracker) Close() error {
	return s.client.Close()
}

// TryAcquire takes the run lock for at most ttl.
func (s *RedisRunTracker) TryAcquire(ctx context.Context, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, s.lockKey, s.token, ttl).Result()
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Release drops the lock if this tracker still owns it.
func (s *RedisRunTracker) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, s.client, []string{s.lockKey}, s.token).Err()
}

var refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)

// Refresh extends the lock to ttl from now. It reports false when the lock
// is no longer held by this tracker.
func (s *RedisRunTracker) Refresh(ctx context.Context, ttl time.Duration) (bool, error) {
	n, err := refreshScript.Run(ctx, s.client, []string{s.lockKey}, s.token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *RedisRunTracker) SetStatus(ctx context.Context, status domain.RunStatus) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.statusKey, data, 0).Err()
}

func (s *RedisRunTracker) Status(ctx context.Context) (domain.RunStatus, error) {
	data, err := s.client.Get(ctx, s.statusKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.RunStatus{State: domain.RunIdle}, nil
	}
	if err != nil {
		return domain.RunStatus{}, err
	}
	var status domain.RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return domain.RunStatus{}, err
	}
	return status, nil
}
