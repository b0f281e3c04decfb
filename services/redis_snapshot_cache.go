package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strikefeed/interfaces"
	"strings"

	"github.com/redis/go-redis/v9"
)

const redisSnapshotPrefix = "strikefeed:snapshot:"

// RedisSnapshotCache shares snapshots between processes. Entries never expire.
type RedisSnapshotCache struct {
	client *redis.Client
}

// NewRedisSnapshotCache connects to the Redis instance at url
func NewRedisSnapshotCache(ctx context.Context, url string) (*RedisSnapshotCache, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to reach redis: %w", err)
	}
	return &RedisSnapshotCache{client: client}, nil
}

func redisSnapshotKey(key interfaces.SnapshotKey) string {
	return redisSnapshotPrefix + key.Symbol + ":" + key.Expiration
}

// Put overwrites the stored snapshot
func (r *RedisSnapshotCache) Put(ctx context.Context, snapshot *interfaces.Snapshot) error {
	if snapshot == nil {
		return nil
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := r.client.Set(ctx, redisSnapshotKey(snapshot.Key), payload, 0).Err(); err != nil {
		return fmt.Errorf("failed to store snapshot: %w", err)
	}
	return nil
}

// Get loads the snapshot for key
func (r *RedisSnapshotCache) Get(ctx context.Context, key interfaces.SnapshotKey) (*interfaces.Snapshot, bool, error) {
	payload, err := r.client.Get(ctx, redisSnapshotKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to load snapshot: %w", err)
	}

	var snapshot interfaces.Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return nil, false, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return &snapshot, true, nil
}

// Keys scans the snapshot keyspace
func (r *RedisSnapshotCache) Keys(ctx context.Context) ([]interfaces.SnapshotKey, error) {
	var keys []interfaces.SnapshotKey
	iter := r.client.Scan(ctx, 0, redisSnapshotPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		rest := strings.TrimPrefix(iter.Val(), redisSnapshotPrefix)
		symbol, expiration, ok := strings.Cut(rest, ":")
		if !ok {
			continue
		}
		keys = append(keys, interfaces.SnapshotKey{Symbol: symbol, Expiration: expiration})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	sortKeys(keys)
	return keys, nil
}

// Close releases the connection pool
func (r *RedisSnapshotCache) Close() error {
	return r.client.Close()
}
