package graph

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/internal/ctxkeys"
	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/internal/telemetry"
	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🏗️ 图构建器
// =============================================================================

// 构建结果状态，用于指标标签
const (
	statusOK      = "ok"
	statusPartial = "partial"
	statusFailed  = "failed"
)

// Fetcher 是图构建所需的数据源能力，Name 作为节点的来源标签
type Fetcher interface {
	source.Fetcher
	Name() string
}

// Builder 从根记录出发，沿候选关系做有界广度优先展开。
// Builder 不持有构建状态，可被多个 goroutine 并发调用。
type Builder struct {
	src         Fetcher
	candidates  types.CandidateSource
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Collector
}

// Option 配置 Builder
type Option func(*Builder)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(b *Builder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithConcurrency 设置同层并发拉取上限，n <= 0 时使用默认值
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// NewBuilder 创建图构建器
func NewBuilder(src Fetcher, candidates types.CandidateSource, opts ...Option) *Builder {
	b := &Builder{
		src:         src,
		candidates:  candidates,
		concurrency: config.DefaultBuilderConfig().MaxConcurrentFetches,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With(zap.String("component", "graph_builder"))
	return b
}

// ValidateLimits 在遍历开始前校验构建参数
func ValidateLimits(maxDepth, perRelationLimit int) error {
	if maxDepth < 0 {
		return types.NewConfigError("max_depth must be non-negative, got %d", maxDepth)
	}
	if perRelationLimit <= 0 {
		return types.NewConfigError("per_relation_limit must be positive, got %d", perRelationLimit)
	}
	return nil
}

// Build 以 (rootEntity, rootUID) 为根构建实体图。
//
// 根记录不存在返回 NOT_FOUND；单个关系拉取失败只记录告警。
// ctx 在遍历中途取消时返回已构建的部分图（Partial=true），不返回错误。
func (b *Builder) Build(ctx context.Context, rootEntity, rootUID string, maxDepth, perRelationLimit int) (*Graph, error) {
	if err := ValidateLimits(maxDepth, perRelationLimit); err != nil {
		return nil, err
	}

	start := time.Now()
	ctx, span := telemetry.Tracer("graph").Start(ctx, "graph.build", trace.WithAttributes(
		attribute.String("root.entity", rootEntity),
		attribute.String("root.uid", rootUID),
		attribute.Int("max_depth", maxDepth),
		attribute.Int("per_relation_limit", perRelationLimit),
	))
	defer span.End()

	logger := b.logger.With(zap.String("root_entity", rootEntity), zap.String("root_uid", rootUID))
	if id, ok := ctxkeys.BuildID(ctx); ok {
		logger = logger.With(zap.String("build_id", id))
	}

	bs := &build{
		b:        b,
		ctx:      ctx,
		logger:   logger,
		limit:    perRelationLimit,
		g:        newGraph(),
		relCache: make(map[string][]types.RelationshipCandidate),
	}

	if err := bs.fetchRoot(rootEntity, rootUID); err != nil {
		b.metrics.RecordBuild(rootEntity, statusFailed, 0, time.Since(start))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	bs.run(maxDepth)

	g := bs.g
	status := statusOK
	if g.Partial {
		status = statusPartial
	}
	b.metrics.RecordBuild(rootEntity, status, len(g.Nodes), time.Since(start))
	span.SetAttributes(
		attribute.Int("nodes", len(g.Nodes)),
		attribute.Int("warnings", len(g.Warnings)),
		attribute.Bool("partial", g.Partial),
	)
	logger.Debug("graph built",
		zap.Int("nodes", len(g.Nodes)),
		zap.Int("expanded", g.Expanded()),
		zap.Int("warnings", len(g.Warnings)),
		zap.Bool("partial", g.Partial),
		zap.Duration("duration", time.Since(start)),
	)
	return g, nil
}

// =============================================================================
// 🏃 单次构建
// =============================================================================

type build struct {
	b        *Builder
	ctx      context.Context
	logger   *zap.Logger
	limit    int
	g        *Graph
	relCache map[string][]types.RelationshipCandidate
}

// fetchTask 是一次关系拉取：parent 节点的第 relation 个关系
type fetchTask struct {
	parent   int
	relation int
	entity   string
	localKey string
	value    types.Value
}

type fetchResult struct {
	records []source.Record
	err     error
}

func (s *build) fetchRoot(entity, uid string) error {
	if err := s.ctx.Err(); err != nil {
		return types.NewError(types.ErrCancelled, "build cancelled before root fetch").WithEntity(entity).WithCause(err)
	}
	rec, err := s.b.src.FetchByKey(s.ctx, entity, uid)
	if err != nil {
		var typed *types.Error
		switch {
		case s.ctx.Err() != nil:
			return types.NewError(types.ErrCancelled, "build cancelled during root fetch").WithEntity(entity).WithCause(err)
		case types.IsNotFound(err):
			return err
		case errors.As(err, &typed):
			return typed
		default:
			return types.NewTransportError(entity, err)
		}
	}
	s.g.Root = s.g.add(s.node(entity, rec, 0))
	return nil
}

func (s *build) node(entity string, rec source.Record, depth int) *Node {
	if rec.Entity != "" {
		entity = rec.Entity
	}
	return &Node{
		Entity: entity,
		UID:    rec.UID,
		Data:   rec.Data,
		Metadata: Metadata{
			Depth:     depth,
			Source:    s.b.src.Name(),
			Timestamp: rec.Timestamp,
		},
	}
}

// run 逐层展开：同层的拉取并发执行，结果按任务顺序应用
func (s *build) run(maxDepth int) {
	level := []int{s.g.Root}
	for depth := 0; len(level) > 0; depth++ {
		if depth >= maxDepth {
			for _, i := range level {
				s.g.Nodes[i].Truncated = true
			}
			return
		}
		if err := s.ctx.Err(); err != nil {
			s.cancelled(s.g.RootNode(), err)
			return
		}

		tasks := s.plan(level)
		results := s.fetch(tasks)
		level = s.apply(tasks, results, depth+1)
		if err := s.ctx.Err(); err != nil {
			s.cancelled(s.g.RootNode(), err)
			return
		}
	}
}

// plan 为本层每个节点解析关系并生成拉取任务
func (s *build) plan(level []int) []fetchTask {
	var tasks []fetchTask
	for _, idx := range level {
		if s.ctx.Err() != nil {
			break
		}
		n := s.g.Nodes[idx]
		for _, edge := range s.edges(n) {
			n.Relations = append(n.Relations, Relation{Name: edge.name})
			tasks = append(tasks, fetchTask{
				parent:   idx,
				relation: len(n.Relations) - 1,
				entity:   edge.entity,
				localKey: edge.localKey,
				value:    edge.value,
			})
		}
	}
	return tasks
}

func (s *build) fetch(tasks []fetchTask) []fetchResult {
	results := make([]fetchResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}

	var eg errgroup.Group
	eg.SetLimit(s.b.concurrency)
	for i, t := range tasks {
		i, t := i, t
		eg.Go(func() error {
			if err := s.ctx.Err(); err != nil {
				results[i].err = err
				return nil
			}
			recs, err := s.b.src.FetchRelated(s.ctx, t.entity, t.localKey, t.value, s.limit)
			results[i] = fetchResult{records: recs, err: err}
			return nil
		})
	}
	_ = eg.Wait()
	return results
}

// apply 按任务顺序挂载子节点，返回下一层待展开的节点
func (s *build) apply(tasks []fetchTask, results []fetchResult, depth int) []int {
	var next []int
	for i, t := range tasks {
		parent := s.g.Nodes[t.parent]
		res := results[i]
		if res.err != nil {
			if err := s.ctx.Err(); err != nil {
				s.cancelled(parent, err)
				continue
			}
			s.fetchFailed(parent, t, res.err)
			continue
		}

		recs := res.records
		if len(recs) > s.limit {
			recs = recs[:s.limit]
		}
		children := make([]int, 0, len(recs))
		for _, rec := range recs {
			entity := t.entity
			if rec.Entity != "" {
				entity = rec.Entity
			}
			if s.g.visited(entity, rec.UID) {
				children = append(children, s.g.add(&Node{
					Entity:        entity,
					UID:           rec.UID,
					Metadata:      Metadata{Depth: depth, Source: s.b.src.Name()},
					ReferenceOnly: true,
				}))
				continue
			}
			idx := s.g.add(s.node(entity, rec, depth))
			children = append(children, idx)
			next = append(next, idx)
		}
		parent.Relations[t.relation].Children = children
	}
	return next
}

func (s *build) fetchFailed(parent *Node, t fetchTask, err error) {
	name := parent.Relations[t.relation].Name
	s.g.Warnings = append(s.g.Warnings, Warning{
		Entity:   parent.Entity,
		UID:      parent.UID,
		Relation: name,
		Code:     types.ErrPartialFetch,
		Message:  "relation fetch failed: " + err.Error(),
		Err:      types.NewError(types.ErrPartialFetch, "relation fetch failed").WithEntity(t.entity).WithCause(err),
	})
	s.b.metrics.RecordFetchFailure(t.entity)
	s.logger.Warn("relation fetch failed, continuing with empty children",
		zap.String("entity", parent.Entity),
		zap.String("uid", parent.UID),
		zap.String("relation", name),
		zap.String("target", t.entity),
		zap.Error(err),
	)
}

func (s *build) cancelled(at *Node, err error) {
	if s.g.Partial {
		return
	}
	s.g.Partial = true
	s.g.Warnings = append(s.g.Warnings, Warning{
		Entity:  at.Entity,
		UID:     at.UID,
		Code:    types.ErrCancelled,
		Message: "build cancelled, graph is partial",
		Err:     types.NewError(types.ErrCancelled, "build cancelled").WithEntity(at.Entity).WithCause(err),
	})
	s.logger.Info("build cancelled, returning partial graph", zap.Int("nodes", len(s.g.Nodes)), zap.Error(err))
}
