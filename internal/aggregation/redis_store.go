package aggregation

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps window entries in a per-user sorted set scored by
// observation time, so multiple API instances share one window. Members are
// stable JSON payloads; a dedupe refresh is just a score update.
type RedisStore struct {
	client *redis.Client
	window time.Duration
}

func NewRedisStore(client *redis.Client, window time.Duration) *RedisStore {
	if client == nil {
		panic("aggregation: redis client required")
	}
	if window <= 0 {
		window = 6 * time.Hour
	}
	return &RedisStore{client: client, window: window}
}

func windowKey(userRef string) string {
	return "crisis:window:" + userRef
}

func (s *RedisStore) Append(ctx context.Context, userRef string, entry WindowEntry) error {
	return s.add(ctx, userRef, entry, entry.ObservedAt)
}

func (s *RedisStore) Touch(ctx context.Context, userRef string, entry WindowEntry, seenAt time.Time) error {
	return s.add(ctx, userRef, entry, seenAt)
}

func (s *RedisStore) add(ctx context.Context, userRef string, entry WindowEntry, at time.Time) error {
	member, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("aggregation: marshal entry: %w", err)
	}
	key := windowKey(userRef)

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: string(member)})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(at.Add(-s.window).UnixMilli(), 10))
	pipe.Expire(ctx, key, s.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("aggregation: write window: %w", err)
	}
	return nil
}

func (s *RedisStore) Recent(ctx context.Context, userRef string, since time.Time) ([]WindowEntry, error) {
	results, err := s.client.ZRangeByScoreWithScores(ctx, windowKey(userRef), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixMilli(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("aggregation: read window: %w", err)
	}

	entries := make([]WindowEntry, 0, len(results))
	for _, z := range results {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		var entry WindowEntry
		if err := json.Unmarshal([]byte(member), &entry); err != nil {
			return nil, fmt.Errorf("aggregation: decode window entry: %w", err)
		}
		entry.ObservedAt = time.UnixMilli(int64(z.Score)).UTC()
		entries = append(entries, entry)
	}
	return entries, nil
}
