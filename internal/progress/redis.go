package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ingest:batch:"

// SnapshotKey holds the latest snapshot JSON of a batch.
func SnapshotKey(batchID string) string { return keyPrefix + batchID }

// EventsChannel is the pub/sub channel carrying a batch's events.
func EventsChannel(batchID string) string { return keyPrefix + batchID + ":events" }

// CancelKey is set when cancellation of a batch is requested.
func CancelKey(batchID string) string { return keyPrefix + batchID + ":cancel" }

// ErrSnapshotNotFound is returned when Redis has no snapshot for a batch.
var ErrSnapshotNotFound = errors.New("batch snapshot not found")

// RedisClient is the subset of *redis.Client used here.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewRedisClient parses url and verifies connectivity.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// RedisSink mirrors a batch into Redis so other processes can read it.
type RedisSink struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisSink stores snapshots for ttl after the last change.
func NewRedisSink(client RedisClient, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisSink{client: client, ttl: ttl}
}

func (s *RedisSink) Publish(ctx context.Context, snap Snapshot, ev Event) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, SnapshotKey(snap.BatchID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	evRaw, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.client.Publish(ctx, EventsChannel(snap.BatchID), evRaw).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// RedisStore reads snapshots and carries cancellation between processes.
type RedisStore struct {
	client RedisClient
	ttl    time.Duration
}

// NewRedisStore wraps client. ttl bounds how long a cancel flag lives.
func NewRedisStore(client RedisClient, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &RedisStore{client: client, ttl: ttl}
}

// Load returns the last published snapshot of a batch.
func (s *RedisStore) Load(ctx context.Context, batchID string) (Snapshot, error) {
	raw, err := s.client.Get(ctx, SnapshotKey(batchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("redis get: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// RequestCancel sets the cancel flag of a batch.
func (s *RedisStore) RequestCancel(ctx context.Context, batchID string) error {
	if err := s.client.Set(ctx, CancelKey(batchID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// CancelRequested reports whether cancellation of a batch was requested.
func (s *RedisStore) CancelRequested(ctx context.Context, batchID string) (bool, error) {
	n, err := s.client.Exists(ctx, CancelKey(batchID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}
