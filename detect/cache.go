package detect

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 💾 候选关系缓存
// =============================================================================

const (
	cacheTypeLocal = "candidates_local"
	cacheTypeStore = "candidates_store"

	// DefaultLoadTimeout 共享检测的上限，与任一调用方的 ctx 无关
	DefaultLoadTimeout = 5 * time.Minute
)

// Cache 持有模式级的候选关系快照，读多写少，可被并发读取。
// 并发未命中只触发一次检测；Refresh 重新内省并替换快照。
type Cache struct {
	detector *Detector
	src      SchemaSource
	store    Store
	ttl      time.Duration
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu    sync.RWMutex
	snap  *Snapshot
	group singleflight.Group
}

// CacheOption 配置 Cache
type CacheOption func(*Cache)

// WithStore 启用二级存储，ttl 为快照过期时间
func WithStore(store Store, ttl time.Duration) CacheOption {
	return func(c *Cache) {
		c.store = store
		c.ttl = ttl
	}
}

// WithLoadTimeout 设置共享检测的超时，非正值保持默认
func WithLoadTimeout(d time.Duration) CacheOption {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCacheLogger 设置日志
func WithCacheLogger(logger *zap.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCacheMetrics 设置指标收集器
func WithCacheMetrics(m *metrics.Collector) CacheOption {
	return func(c *Cache) { c.metrics = m }
}

// NewCache 创建候选关系缓存，首次读取时才执行检测
func NewCache(detector *Detector, src SchemaSource, opts ...CacheOption) *Cache {
	c := &Cache{
		detector: detector,
		src:      src,
		timeout:  DefaultLoadTimeout,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "candidate_cache"))
	return c
}

// Relations implements types.CandidateSource.
func (c *Cache) Relations(ctx context.Context, entity string) ([]types.RelationshipCandidate, error) {
	snap, err := c.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Relations(ctx, entity)
}

// Snapshot 返回当前快照，必要时执行内省与检测
func (c *Cache) Snapshot(ctx context.Context) (*Snapshot, error) {
	if snap := c.current(); snap != nil {
		c.metrics.RecordCacheHit(cacheTypeLocal)
		return snap, nil
	}
	c.metrics.RecordCacheMiss(cacheTypeLocal)

	return c.shared(ctx, "snapshot", false)
}

// Refresh 重新内省数据源并重新检测，跳过二级存储中的旧快照
func (c *Cache) Refresh(ctx context.Context) (*Snapshot, error) {
	return c.shared(ctx, "refresh", true)
}

// shared 合并并发加载。加载本身脱离调用方的取消信号运行，
// 某个调用方放弃等待不会让其他等待者失败；每个调用方仍按自己的 ctx 返回。
func (c *Cache) shared(ctx context.Context, key string, force bool) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, cancelledWait(ctx)
	}
	ch := c.group.DoChan(key, func() (any, error) {
		if !force {
			if snap := c.current(); snap != nil {
				return snap, nil
			}
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		return c.load(loadCtx, force)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, cancelledWait(ctx)
	}
}

func cancelledWait(ctx context.Context) error {
	return types.NewError(types.ErrCancelled, "waiting for candidate detection cancelled").
		WithCause(context.Cause(ctx))
}

// Invalidate 丢弃本地快照并清空二级存储
func (c *Cache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.snap = nil
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	n, err := c.store.Purge(ctx)
	if err != nil {
		return err
	}
	c.logger.Info("candidate snapshots purged", zap.Int("count", n))
	return nil
}

func (c *Cache) current() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snap
}

func (c *Cache) load(ctx context.Context, force bool) (*Snapshot, error) {
	snap, err := c.detector.Introspect(ctx, c.src)
	if err != nil {
		return nil, err
	}

	if !force && c.store != nil {
		stored, ok, err := c.store.Load(ctx, snap.Fingerprint)
		switch {
		case err != nil:
			c.logger.Warn("candidate store unavailable", zap.Error(err))
		case ok:
			c.metrics.RecordCacheHit(cacheTypeStore)
			c.set(stored)
			c.logger.Debug("candidate snapshot loaded from store", zap.String("fingerprint", stored.Fingerprint))
			return stored, nil
		default:
			c.metrics.RecordCacheMiss(cacheTypeStore)
		}
	}

	if err := c.detector.DetectSnapshot(ctx, snap, c.src); err != nil {
		return nil, err
	}

	if c.store != nil {
		if err := c.store.Save(ctx, snap, c.ttl); err != nil {
			c.logger.Warn("failed to save candidate snapshot", zap.Error(err))
		}
	}
	c.set(snap)
	return snap, nil
}

func (c *Cache) set(snap *Snapshot) {
	c.mu.Lock()
	c.snap = snap
	c.mu.Unlock()
}
