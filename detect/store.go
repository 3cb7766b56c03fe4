package detect

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/entitygraph/internal/cache"
)

// Store 是候选关系快照的二级（共享）存储，按模式指纹寻址
type Store interface {
	// Load 返回指纹对应的快照；不存在时返回 (nil, false, nil)
	Load(ctx context.Context, fingerprint string) (*Snapshot, bool, error)
	Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error
	// Purge 删除所有快照，返回删除数量
	Purge(ctx context.Context) (int, error)
}

const snapshotKeyPrefix = "candidates:"

// RedisStore 将快照以 JSON 形式保存在 Redis 中
type RedisStore struct {
	cache *cache.Manager
}

// NewRedisStore 基于缓存管理器创建 Store
func NewRedisStore(m *cache.Manager) *RedisStore {
	return &RedisStore{cache: m}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, fingerprint string) (*Snapshot, bool, error) {
	var snap Snapshot
	if err := s.cache.GetJSON(ctx, snapshotKeyPrefix+fingerprint, &snap); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("load candidate snapshot: %w", err)
	}
	return &snap, true, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, snap *Snapshot, ttl time.Duration) error {
	if err := s.cache.SetJSON(ctx, snapshotKeyPrefix+snap.Fingerprint, snap, ttl); err != nil {
		return fmt.Errorf("save candidate snapshot: %w", err)
	}
	return nil
}

// Purge implements Store.
func (s *RedisStore) Purge(ctx context.Context) (int, error) {
	return s.cache.DeletePrefix(ctx, snapshotKeyPrefix)
}
