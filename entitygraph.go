// Package entitygraph 把一个异构数据源中的记录展开为有界实体图，并切分为可检索的上下文分块。
//
// 用法:
//
//	import "github.com/BaSui01/entitygraph"
//
//	p, err := entitygraph.New(src)
//	res, err := p.Run(ctx, "users", "42")
//	for _, c := range res.Chunks { ... }
//
// 数据流固定为 检测（detect）→ 构建（graph）→ 分块（rag）。
// 候选关系按模式检测一次并缓存，之后的每次 Run 只做构建与分块。
package entitygraph

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/detect"
	"github.com/BaSui01/entitygraph/graph"
	"github.com/BaSui01/entitygraph/internal/ctxkeys"
	"github.com/BaSui01/entitygraph/internal/telemetry"
	"github.com/BaSui01/entitygraph/rag"
	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🔗 Pipeline
// =============================================================================

// Pipeline 串联关系检测、图构建与分块。
// 除候选缓存外不持有可变状态，可被多个 goroutine 并发使用。
type Pipeline struct {
	src        source.Source
	cache      *detect.Cache
	candidates types.CandidateSource
	builder    *graph.Builder
	chunker    *rag.ContextChunker

	builderCfg config.BuilderConfig
	chunkCfg   config.ChunkingConfig

	logger *zap.Logger
	newID  func() string
}

// Root 标识一次构建的根记录
type Root struct {
	Entity string `json:"entity"`
	UID    string `json:"uid"`
}

// Result 是一次 Run 的输出
type Result struct {
	BuildID   string             `json:"build_id"`
	Namespace string             `json:"namespace"`
	Graph     *graph.Graph       `json:"graph"`
	Chunks    []rag.ContextChunk `json:"chunks"`
}

// Partial reports whether the build was cut short by cancellation.
func (r *Result) Partial() bool { return r != nil && r.Graph != nil && r.Graph.Partial }

// New 创建 Pipeline。配置非法时返回 CONFIG_INVALID。
func New(src source.Source, opts ...Option) (*Pipeline, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if src == nil {
		return nil, types.NewConfigError("pipeline requires a data source")
	}
	if err := o.validate(); err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("component", "pipeline"))

	det := detect.New(o.detectorCfg,
		detect.WithLogger(o.logger),
		detect.WithMetrics(o.metrics),
		detect.WithDeclared(o.declared),
	)
	cacheOpts := []detect.CacheOption{detect.WithCacheLogger(o.logger), detect.WithCacheMetrics(o.metrics)}
	if o.store != nil {
		cacheOpts = append(cacheOpts, detect.WithStore(o.store, o.detectorCfg.CacheTTL))
	}
	cache := detect.NewCache(det, src, cacheOpts...)

	var candidates types.CandidateSource = cache
	if o.candidates != nil {
		candidates = o.candidates
	}

	return &Pipeline{
		src:        src,
		cache:      cache,
		candidates: candidates,
		builder: graph.NewBuilder(src, candidates,
			graph.WithLogger(o.logger),
			graph.WithMetrics(o.metrics),
			graph.WithConcurrency(o.builderCfg.MaxConcurrentFetches),
		),
		chunker: rag.NewContextChunker(
			rag.WithTokenizer(o.tokenizer),
			rag.WithChunkerLogger(o.logger),
			rag.WithChunkerMetrics(o.metrics),
		),
		builderCfg: o.builderCfg,
		chunkCfg:   o.chunkCfg,
		logger:     logger,
		newID:      o.newID,
	}, nil
}

// Source returns the underlying data source.
func (p *Pipeline) Source() source.Source { return p.src }

// =============================================================================
// 🔍 检测
// =============================================================================

// Detect 返回当前的候选关系快照，首次调用时内省数据源并检测
func (p *Pipeline) Detect(ctx context.Context) (*detect.Snapshot, error) {
	return p.cache.Snapshot(ctx)
}

// Refresh 重新内省数据源并替换候选关系快照
func (p *Pipeline) Refresh(ctx context.Context) (*detect.Snapshot, error) {
	return p.cache.Refresh(ctx)
}

// Invalidate 丢弃缓存的候选关系，下次使用时重新检测
func (p *Pipeline) Invalidate(ctx context.Context) error {
	return p.cache.Invalidate(ctx)
}

// =============================================================================
// 🏃 运行
// =============================================================================

// Build 只构建实体图，不分块
func (p *Pipeline) Build(ctx context.Context, entity, uid string) (*graph.Graph, error) {
	return p.builder.Build(ctx, entity, uid, p.builderCfg.MaxDepth, p.builderCfg.PerRelationLimit)
}

// Run 以 (entity, uid) 为根构建实体图并分块。
//
// 根记录不存在时返回 NOT_FOUND。ctx 在构建中途取消时返回部分结果
// （Result.Partial() 为 true），分块基于已构建的部分图。
func (p *Pipeline) Run(ctx context.Context, entity, uid string) (*Result, error) {
	ns, err := rag.Namespace(entity, uid)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	id := p.newID()
	ctx = ctxkeys.WithBuildID(ctx, id)
	ctx = ctxkeys.WithRootNode(ctx, ns)
	ctx, span := telemetry.Tracer("pipeline").Start(ctx, "entitygraph.run", trace.WithAttributes(
		attribute.String("build_id", id),
		attribute.String("namespace", ns),
	))
	defer span.End()

	logger := p.logger.With(zap.String("build_id", id), zap.String("namespace", ns))

	g, err := p.Build(ctx, entity, uid)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Debug("build failed", zap.Error(err))
		return nil, err
	}

	chunks, err := p.chunker.Chunk(g, p.chunkCfg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.Int("chunks", len(chunks)), attribute.Bool("partial", g.Partial))
	logger.Info("pipeline run completed",
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("chunks", len(chunks)),
		zap.Int("warnings", len(g.Warnings)),
		zap.Bool("partial", g.Partial),
		zap.Duration("duration", time.Since(start)),
	)
	return &Result{BuildID: id, Namespace: ns, Graph: g, Chunks: chunks}, nil
}

// RunAndIndex 运行并把分块交给 sink
func (p *Pipeline) RunAndIndex(ctx context.Context, entity, uid string, sink Sink) (*Result, error) {
	res, err := p.Run(ctx, entity, uid)
	if err != nil {
		return nil, err
	}
	if err := sink.Index(ctx, res.Namespace, res.Chunks); err != nil {
		return res, types.NewError(types.ErrTransport, "index chunks").WithEntity(entity).WithCause(err)
	}
	return res, nil
}

// RunMany 并发运行多个根，并发数由 MaxConcurrentBuilds 限制。
// 结果与 roots 一一对应；任一根失败时取消其余运行并返回该错误。
func (p *Pipeline) RunMany(ctx context.Context, roots []Root) ([]*Result, error) {
	results := make([]*Result, len(roots))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(p.builderCfg.MaxConcurrentBuilds)
	for i, r := range roots {
		i, r := i, r
		eg.Go(func() error {
			res, err := p.Run(egCtx, r.Entity, r.UID)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
