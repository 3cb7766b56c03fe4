package entitygraph

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/detect"
	"github.com/BaSui01/entitygraph/graph"
	"github.com/BaSui01/entitygraph/internal/cache"
	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/rag"
	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// ⚙️ 选项
// =============================================================================

type options struct {
	detectorCfg config.DetectorConfig
	builderCfg  config.BuilderConfig
	chunkCfg    config.ChunkingConfig

	candidates types.CandidateSource
	declared   types.CandidateSet
	store      detect.Store
	tokenizer  rag.Tokenizer

	logger  *zap.Logger
	metrics *metrics.Collector
	newID   func() string
}

func defaultOptions() options {
	return options{
		detectorCfg: config.DefaultDetectorConfig(),
		builderCfg:  config.DefaultBuilderConfig(),
		chunkCfg:    config.DefaultChunkingConfig(),
		tokenizer:   rag.EstimatorTokenizer{},
		logger:      zap.NewNop(),
		newID:       uuid.NewString,
	}
}

func (o *options) validate() error {
	if t := o.detectorCfg.ConfidenceThreshold; t < 0 || t > 1 {
		return types.NewConfigError("confidence_threshold must be in [0, 1], got %g", t)
	}
	if o.detectorCfg.SampleSize <= 0 {
		return types.NewConfigError("sample_size must be positive, got %d", o.detectorCfg.SampleSize)
	}
	if err := graph.ValidateLimits(o.builderCfg.MaxDepth, o.builderCfg.PerRelationLimit); err != nil {
		return err
	}
	if o.builderCfg.MaxConcurrentFetches <= 0 || o.builderCfg.MaxConcurrentBuilds <= 0 {
		return types.NewConfigError("builder concurrency must be positive, got fetches=%d builds=%d",
			o.builderCfg.MaxConcurrentFetches, o.builderCfg.MaxConcurrentBuilds)
	}
	return rag.ValidateChunking(o.chunkCfg)
}

// Option 配置 Pipeline
type Option func(*options)

// WithDetectorConfig 设置关系检测参数
func WithDetectorConfig(cfg config.DetectorConfig) Option {
	return func(o *options) { o.detectorCfg = cfg }
}

// WithBuilderConfig 设置图构建参数
func WithBuilderConfig(cfg config.BuilderConfig) Option {
	return func(o *options) { o.builderCfg = cfg }
}

// WithChunkingConfig 设置分块参数
func WithChunkingConfig(cfg config.ChunkingConfig) Option {
	return func(o *options) { o.chunkCfg = cfg }
}

// WithCandidates 使用给定的候选关系构建图，跳过自动检测。Detect 仍然可用。
func WithCandidates(c types.CandidateSource) Option {
	return func(o *options) { o.candidates = c }
}

// WithDeclaredRelationships 设置声明的关系。声明的字段跳过自动检测，
// 在候选快照中以 Rank 0 出现；其余字段照常检测。
func WithDeclaredRelationships(set types.CandidateSet) Option {
	return func(o *options) { o.declared = set }
}

// WithStore 设置候选快照的二级存储（TTL 取 DetectorConfig.CacheTTL）
func WithStore(s detect.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTokenizer 设置分块的 token 计数器
func WithTokenizer(t rag.Tokenizer) Option {
	return func(o *options) {
		if t != nil {
			o.tokenizer = t
		}
	}
}

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithIDGenerator 设置构建 ID 生成函数，默认 UUIDv4
func WithIDGenerator(fn func() string) Option {
	return func(o *options) {
		if fn != nil {
			o.newID = fn
		}
	}
}

// =============================================================================
// 🏭 从配置创建
// =============================================================================

// CloseFunc 释放 FromConfig 打开的资源
type CloseFunc func(ctx context.Context) error

// FromConfig 按完整配置打开数据源、可选的 Redis 存储与指标，并创建 Pipeline。
// opts 在配置之后应用，可覆盖任意一项。
func FromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Pipeline, CloseFunc, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	src, closeSource, err := source.Open(ctx, cfg.Source, logger)
	if err != nil {
		return nil, nil, err
	}
	closers := []CloseFunc{CloseFunc(closeSource)}

	base := []Option{
		WithDetectorConfig(cfg.Detector),
		WithBuilderConfig(cfg.Builder),
		WithChunkingConfig(cfg.Chunking),
		WithTokenizer(rag.NewTokenizer(cfg.Chunking.TokenizerModel, logger)),
		WithDeclaredRelationships(cfg.DeclaredCandidates()),
		WithLogger(logger),
	}
	// 收集器只能注册一次，调用方已通过 opts 提供时不再创建
	if cfg.Metrics.Enabled && !hasMetrics(opts) {
		base = append(base, WithMetrics(metrics.NewCollector(cfg.Metrics.Namespace, nil, logger)))
	}

	if cfg.Redis.Enabled {
		mgr, err := cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Detector.CacheTTL,
			MaxRetries:   cache.DefaultConfig().MaxRetries,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			TLS:          cfg.Redis.TLS,
			KeyPrefix:    cfg.Redis.KeyPrefix,
		}, logger)
		if err != nil {
			// 二级缓存不可用时只用进程内缓存
			logger.Warn("redis unavailable, candidate snapshots stay in process", zap.Error(err))
		} else {
			base = append(base, WithStore(detect.NewRedisStore(mgr)))
			closers = append(closers, func(context.Context) error { return mgr.Close() })
		}
	}

	closeAll := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	p, err := New(src, append(base, opts...)...)
	if err != nil {
		_ = closeAll(ctx)
		return nil, nil, err
	}
	return p, closeAll, nil
}

func hasMetrics(opts []Option) bool {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o.metrics != nil
}
