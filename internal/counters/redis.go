package counters

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"dialer-service/pkg/utils"
)

const (
	campaignKeyPrefix = "campaign:"
	cycleLockPrefix   = "dialer:cycle:"
)

// decrFloorScript decrements a hash field but clamps it at zero.
var decrFloorScript = redis.NewScript(`
-- KEYS[1] = campaign hash key
-- ARGV[1] = field name
local v = redis.call('HINCRBY', KEYS[1], ARGV[1], -1)
if v < 0 then
  redis.call('HSET', KEYS[1], ARGV[1], 0)
  return 0
end
return v
`)

// RedisStore is the production Store backed by per-campaign Redis hashes.
type RedisStore struct {
	rdb *redis.Client

	// now is swappable for tests.
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb, now: time.Now}
}

func campaignKey(id string) string { return campaignKeyPrefix + id }

func (s *RedisStore) Init(ctx context.Context, campaignID string) error {
	return s.rdb.HSet(ctx, campaignKey(campaignID), map[string]any{
		"status":           StatusDraft,
		FieldActiveCalls:   0,
		FieldTotalCalls:    0,
		FieldAnsweredCalls: 0,
		"created_at":       s.now().UTC().Format(time.RFC3339),
	}).Err()
}

func (s *RedisStore) Status(ctx context.Context, campaignID string) (string, error) {
	v, err := s.rdb.HGet(ctx, campaignKey(campaignID), "status").Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("counters: get status: %w", err)
	}
	return v, nil
}

func (s *RedisStore) SetStatus(ctx context.Context, campaignID, status string) error {
	fields := map[string]any{"status": status}
	switch status {
	case StatusActive:
		fields["started_at"] = s.now().UTC().Format(time.RFC3339)
	case StatusCompleted, StatusCancelled:
		fields["completed_at"] = s.now().UTC().Format(time.RFC3339)
	}
	return s.rdb.HSet(ctx, campaignKey(campaignID), fields).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, campaignID, field string, delta int64) (int64, error) {
	v, err := s.rdb.HIncrBy(ctx, campaignKey(campaignID), field, delta).Result()
	if err != nil {
		return 0, fmt.Errorf("counters: incr %s: %w", field, err)
	}
	return v, nil
}

func (s *RedisStore) DecrFloor(ctx context.Context, campaignID, field string) (int64, error) {
	v, err := decrFloorScript.Run(ctx, s.rdb, []string{campaignKey(campaignID)}, field).Int64()
	if err != nil {
		return 0, fmt.Errorf("counters: decr %s: %w", field, err)
	}
	return v, nil
}

func (s *RedisStore) Counters(ctx context.Context, campaignID string) (Counters, error) {
	vals, err := s.rdb.HMGet(ctx, campaignKey(campaignID), FieldActiveCalls, FieldTotalCalls, FieldAnsweredCalls).Result()
	if err != nil {
		return Counters{}, fmt.Errorf("counters: read: %w", err)
	}
	return Counters{
		ActiveCalls:   parseCounter(vals[0]),
		TotalCalls:    parseCounter(vals[1]),
		AnsweredCalls: parseCounter(vals[2]),
	}, nil
}

func (s *RedisStore) ActiveCampaigns(ctx context.Context) ([]string, error) {
	var out []string
	iter := s.rdb.Scan(ctx, 0, campaignKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		id := strings.TrimPrefix(key, campaignKeyPrefix)
		status, err := s.rdb.HGet(ctx, key, "status").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("counters: scan status: %w", err)
		}
		if status == StatusActive {
			out = append(out, id)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("counters: scan: %w", err)
	}
	return out, nil
}

func (s *RedisStore) Delete(ctx context.Context, campaignID string) error {
	return s.rdb.Del(ctx, campaignKey(campaignID)).Err()
}

func (s *RedisStore) AcquireCycleLock(ctx context.Context, campaignID string, ttl time.Duration) (bool, error) {
	return utils.AcquireSlot(ctx, s.rdb, cycleLockPrefix+campaignID, 1, ttl)
}

func (s *RedisStore) ReleaseCycleLock(ctx context.Context, campaignID string) error {
	return utils.ReleaseSlot(ctx, s.rdb, cycleLockPrefix+campaignID)
}

func parseCounter(v any) int64 {
	sv, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(sv, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
