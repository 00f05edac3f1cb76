package draft

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
)

const redisKeyPrefix = "certsvc:draft:"

// RedisSnapshotStore persists snapshots in Redis so drafts survive client
// restarts and can be resumed from another host. Snapshots expire after TTL
// when one is set.
type RedisSnapshotStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSnapshotStore wraps an existing Redis client. A zero ttl keeps
// snapshots until they are deleted on successful save.
func NewRedisSnapshotStore(client *redis.Client, ttl time.Duration) *RedisSnapshotStore {
	return &RedisSnapshotStore{client: client, ttl: ttl}
}

func (s *RedisSnapshotStore) Put(ctx context.Context, snap *Snapshot) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+snap.DocumentID, raw, s.ttl).Err()
}

func (s *RedisSnapshotStore) Get(ctx context.Context, documentID string) (*Snapshot, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+documentID).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *RedisSnapshotStore) Delete(ctx context.Context, documentID string) error {
	return s.client.Del(ctx, redisKeyPrefix+documentID).Err()
}
