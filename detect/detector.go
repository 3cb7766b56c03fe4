package detect

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jinzhu/inflection"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/internal/telemetry"
	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🔍 关系检测器
// =============================================================================

// 检测阶段名称，用于日志与指标标签
const (
	passEntities   = "entities"
	passSample     = "sample_values"
	passTargetKeys = "target_keys"
)

// defaultTargetKey 无法采样目标实体时假定的主键列
const defaultTargetKey = "id"

// SchemaSource 是检测整个模式所需的数据源能力
type SchemaSource interface {
	source.Introspector
	source.Sampler
}

// Detector 通过命名规则、值形态与统计重叠三个独立阶段推断候选关系。
// Detector 无状态，可被多个 goroutine 并发使用。
type Detector struct {
	cfg      config.DetectorConfig
	declared map[string][]types.RelationshipCandidate
	logger   *zap.Logger
	metrics  *metrics.Collector
	now      func() time.Time
}

// Option 配置 Detector
type Option func(*Detector)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(d *Detector) { d.metrics = m }
}

// WithDeclared 设置声明的关系。声明的 (SourceEntity, LocalKey) 不再检测，
// 直接以置信度 1、Rank 0 输出。TargetKey 为空时取 "id"，Kind 为空时取 many_to_one。
func WithDeclared(set types.CandidateSet) Option {
	return func(d *Detector) {
		if len(set) == 0 {
			return
		}
		d.declared = make(map[string][]types.RelationshipCandidate)
		for _, c := range set {
			if c.TargetKey == "" {
				c.TargetKey = defaultTargetKey
			}
			if c.Kind == "" {
				c.Kind = types.RelationManyToOne
			}
			c.Confidence = 1
			c.Method = types.DetectionDeclared
			c.Evidence = []types.DetectionMethod{types.DetectionDeclared}
			c.Rank = 0
			d.declared[c.SourceEntity] = append(d.declared[c.SourceEntity], c)
		}
	}
}

// New 创建检测器。SampleSize 与 MaxShapeTargets 非正时使用默认值。
func New(cfg config.DetectorConfig, opts ...Option) *Detector {
	defaults := config.DefaultDetectorConfig()
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = defaults.SampleSize
	}
	if cfg.MaxShapeTargets <= 0 {
		cfg.MaxShapeTargets = defaults.MaxShapeTargets
	}
	d := &Detector{
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(zap.String("component", "detector"))
	return d
}

// Config returns the effective detector configuration.
func (d *Detector) Config() config.DetectorConfig { return d.cfg }

// Detect 推断 entity 各字段的候选关系。
// 无法采样的实体返回空列表而不是错误；只有 ctx 被取消时返回 CANCELLED。
func (d *Detector) Detect(ctx context.Context, entity string, fields []types.Field, sampler source.Sampler) ([]types.RelationshipCandidate, error) {
	run := d.newRun(ctx, sampler)
	entities, err := sampler.Entities(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled(entity, ctxErr)
		}
		run.unavailable(entity, "", passEntities, err)
	} else {
		run.entities, run.entitiesKnown = entities, true
	}
	return run.detect(entity, fields)
}

// Introspect 列出实体与字段并计算指纹，不执行检测
func (d *Detector) Introspect(ctx context.Context, src SchemaSource) (*Snapshot, error) {
	entities, err := src.Entities(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, cancelled("", ctxErr)
		}
		return nil, types.NewError(types.ErrSamplingUnavailable, "cannot list entities").WithCause(err)
	}

	fields := make(map[string][]types.Field, len(entities))
	for _, e := range entities {
		fs, err := src.ListFields(ctx, e)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, cancelled(e, ctxErr)
			}
			d.logger.Warn("cannot list fields, entity skipped", zap.String("entity", e), zap.Error(err))
			continue
		}
		fields[e] = fs
	}

	return &Snapshot{
		Fingerprint: Fingerprint(fields, d.declaredList()...),
		Entities:    entities,
		Fields:      fields,
	}, nil
}

// DetectSnapshot 对快照中的每个实体执行检测，填充 Candidates 与 DetectedAt。
// 目标实体的主键样本在实体之间共享。
func (d *Detector) DetectSnapshot(ctx context.Context, snap *Snapshot, sampler source.Sampler) error {
	run := d.newRun(ctx, sampler)
	run.entities, run.entitiesKnown = snap.Entities, true

	var all []types.RelationshipCandidate
	for _, e := range snap.Entities {
		fs, ok := snap.Fields[e]
		if !ok {
			continue
		}
		cands, err := run.detect(e, fs)
		if err != nil {
			return err
		}
		all = append(all, cands...)
	}
	for e := range d.declared {
		if _, ok := snap.Fields[e]; !ok {
			d.logger.Warn("declared relationships reference an unknown entity", zap.String("entity", e))
		}
	}
	types.SortCandidates(all)
	snap.Candidates = all
	snap.DetectedAt = d.now().UTC()

	d.logger.Info("schema relationships detected",
		zap.String("fingerprint", snap.Fingerprint),
		zap.Int("entities", len(snap.Entities)),
		zap.Int("candidates", len(all)),
	)
	return nil
}

// DetectSchema 内省整个数据源并检测所有实体的候选关系
func (d *Detector) DetectSchema(ctx context.Context, src SchemaSource) (*Snapshot, error) {
	snap, err := d.Introspect(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := d.DetectSnapshot(ctx, snap, src); err != nil {
		return nil, err
	}
	return snap, nil
}

// =============================================================================
// 🏃 单次检测
// =============================================================================

// targetSample 是目标实体主键的采样结果
type targetSample struct {
	ok    bool
	pk    string
	keys  map[string]struct{}
	shape idShape
}

type detection struct {
	ctx           context.Context
	d             *Detector
	sampler       source.Sampler
	entities      []string
	entitiesKnown bool
	targets       map[string]*targetSample
}

func (d *Detector) newRun(ctx context.Context, sampler source.Sampler) *detection {
	return &detection{
		ctx:     ctx,
		d:       d,
		sampler: sampler,
		targets: make(map[string]*targetSample),
	}
}

func (r *detection) detect(entity string, fields []types.Field) ([]types.RelationshipCandidate, error) {
	start := time.Now()
	ctx, span := telemetry.Tracer("detect").Start(r.ctx, "detect.entity",
		trace.WithAttributes(attribute.String("entity", entity), attribute.Int("fields", len(fields))))
	defer span.End()

	if err := ctx.Err(); err != nil {
		return nil, cancelled(entity, err)
	}

	pkField := ""
	for _, f := range fields {
		if f.PrimaryKey {
			pkField = f.Name
			break
		}
	}
	if pkField == "" {
		if pk, err := r.sampler.PrimaryKey(ctx, entity); err == nil {
			pkField = pk
		}
	}

	declared := r.d.declared[entity]
	isDeclared := func(field string) bool {
		for _, c := range declared {
			if c.LocalKey == field {
				return true
			}
		}
		return false
	}

	m := newMerger()
	for _, f := range fields {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(entity, err)
		}
		if f.Name == pkField || f.PrimaryKey || f.Type == types.FieldTypeObject || f.Type == types.FieldTypeArray {
			continue
		}
		if isDeclared(f.Name) {
			continue
		}
		r.field(entity, f, m)
	}
	if err := ctx.Err(); err != nil {
		return nil, cancelled(entity, err)
	}

	out := m.result(r.d.cfg.ConfidenceThreshold)
	if len(declared) > 0 {
		out = append(out, declared...)
		types.SortCandidates(out)
	}
	for _, c := range out {
		r.d.metrics.RecordCandidate(string(c.Method), string(c.Kind))
		r.d.logger.Debug("relationship candidate",
			zap.String("entity", entity),
			zap.String("local_key", c.LocalKey),
			zap.String("target", c.TargetEntity+"."+c.TargetKey),
			zap.String("method", string(c.Method)),
			zap.Float64("confidence", c.Confidence),
			zap.Int("rank", c.Rank),
		)
	}
	r.d.metrics.RecordDetection(entity, time.Since(start))
	span.SetAttributes(attribute.Int("candidates", len(out)))
	return out, nil
}

func (r *detection) field(entity string, f types.Field, m *merger) {
	cfg := r.d.cfg

	// 1. 命名规则
	nameTarget := ""
	if prefix, ok := referencePrefix(f.Name); ok {
		switch {
		case r.entitiesKnown:
			if target, found := resolveEntity(prefix, r.entities); found {
				nameTarget = target
				m.add(r.candidate(entity, f.Name, target, types.DetectionNamePattern, cfg.NamePatternConfidence, types.RelationManyToOne))
			}
		default:
			// 实体列表不可用时输出复数形式的猜测
			guess := inflection.Plural(prefix)
			m.add(types.RelationshipCandidate{
				SourceEntity: entity,
				LocalKey:     f.Name,
				TargetEntity: guess,
				TargetKey:    defaultTargetKey,
				Kind:         types.RelationManyToOne,
				Confidence:   cfg.NamePatternConfidence,
				Method:       types.DetectionNamePattern,
			})
		}
	}

	raw, err := r.sampler.SampleValues(r.ctx, entity, f.Name, cfg.SampleSize)
	if err != nil {
		r.unavailable(entity, f.Name, passSample, err)
		return
	}
	values := scalars(raw)
	if len(values) == 0 || !r.entitiesKnown {
		return
	}

	// 2. 值形态
	r.valueShape(entity, f, values, nameTarget, m)

	// 3. 统计重叠
	r.statistical(entity, f, values, m)
}

func (r *detection) valueShape(entity string, f types.Field, values []types.Value, nameTarget string, m *merger) {
	cfg := r.d.cfg
	shape, fraction := dominantShape(values)
	if shape == shapeNone || fraction < cfg.ValueShapeMinFraction {
		return
	}

	var compatible []string
	nameCompatible := false
	for _, e := range r.entities {
		t := r.target(e)
		if !t.ok || t.shape != shape {
			continue
		}
		compatible = append(compatible, e)
		if e == nameTarget {
			nameCompatible = true
		}
	}

	switch {
	case nameCompatible:
		m.add(r.candidate(entity, f.Name, nameTarget, types.DetectionValueShape, fraction, types.RelationManyToOne))
	case len(compatible) > 0 && len(compatible) <= cfg.MaxShapeTargets:
		for _, e := range compatible {
			m.add(r.candidate(entity, f.Name, e, types.DetectionValueShape, fraction, types.RelationManyToOne))
		}
	}
}

func (r *detection) statistical(entity string, f types.Field, values []types.Value, m *merger) {
	cfg := r.d.cfg
	distinct := make(map[string]struct{}, len(values))
	for _, v := range values {
		distinct[v.Key()] = struct{}{}
	}
	if float64(len(distinct))/float64(len(values)) < cfg.MinCardinalityRatio {
		return
	}

	// 重叠率并列最高的目标全部保留，由合并阶段排名
	var best []string
	bestOverlap := 0.0
	for _, e := range r.entities {
		t := r.target(e)
		if !t.ok || len(t.keys) == 0 {
			continue
		}
		hits := 0
		for k := range distinct {
			if _, ok := t.keys[k]; ok {
				hits++
			}
		}
		overlap := float64(hits) / float64(len(distinct))
		switch {
		case overlap > bestOverlap:
			best, bestOverlap = []string{e}, overlap
		case overlap == bestOverlap && overlap > 0:
			best = append(best, e)
		}
	}
	if len(best) == 0 || bestOverlap < cfg.OverlapAcceptance {
		return
	}

	kind := types.RelationManyToOne
	if len(distinct) == len(values) && len(values) >= cfg.OneToOneMinSample {
		kind = types.RelationOneToOne
	}
	for _, e := range best {
		m.add(r.candidate(entity, f.Name, e, types.DetectionStatistical, bestOverlap, kind))
	}
}

// target 惰性采样目标实体的主键，结果在本次运行内复用
func (r *detection) target(entity string) *targetSample {
	if t, ok := r.targets[entity]; ok {
		return t
	}
	t := &targetSample{}
	r.targets[entity] = t

	pk, err := r.sampler.PrimaryKey(r.ctx, entity)
	if err != nil {
		r.unavailable(entity, "", passTargetKeys, err)
		return t
	}
	raw, err := r.sampler.SamplePrimaryKeys(r.ctx, entity, r.d.cfg.SampleSize)
	if err != nil {
		r.unavailable(entity, pk, passTargetKeys, err)
		return t
	}
	keys := scalars(raw)
	t.ok = true
	t.pk = pk
	t.keys = make(map[string]struct{}, len(keys))
	for _, k := range keys {
		t.keys[k.Key()] = struct{}{}
	}
	if shape, fraction := dominantShape(keys); fraction >= r.d.cfg.ValueShapeMinFraction {
		t.shape = shape
	}
	return t
}

func (r *detection) candidate(entity, localKey, target string, method types.DetectionMethod, confidence float64, kind types.RelationKind) types.RelationshipCandidate {
	targetKey := defaultTargetKey
	if t := r.target(target); t.ok && t.pk != "" {
		targetKey = t.pk
	}
	return types.RelationshipCandidate{
		SourceEntity: entity,
		LocalKey:     localKey,
		TargetEntity: target,
		TargetKey:    targetKey,
		Kind:         kind,
		Confidence:   confidence,
		Method:       method,
	}
}

// declaredList 按实体名返回全部声明关系，用于指纹
func (d *Detector) declaredList() []types.RelationshipCandidate {
	if len(d.declared) == 0 {
		return nil
	}
	entities := make([]string, 0, len(d.declared))
	for e := range d.declared {
		entities = append(entities, e)
	}
	sort.Strings(entities)
	var out []types.RelationshipCandidate
	for _, e := range entities {
		out = append(out, d.declared[e]...)
	}
	return out
}

func (r *detection) unavailable(entity, field, pass string, err error) {
	r.d.metrics.RecordSamplingFailure(entity, pass)
	fields := []zap.Field{
		zap.String("entity", entity),
		zap.String("pass", pass),
		zap.Error(err),
	}
	if field != "" {
		fields = append(fields, zap.String("field", field))
	}
	if types.IsErrorCode(err, types.ErrSamplingUnavailable) || errors.Is(err, context.Canceled) {
		r.d.logger.Debug("sampling unavailable", fields...)
		return
	}
	r.d.logger.Warn("sampling failed", fields...)
}

// scalars 过滤掉 Null 与复合值
func scalars(values []types.Value) []types.Value {
	out := make([]types.Value, 0, len(values))
	for _, v := range values {
		if v.IsNull() || !v.IsScalar() {
			continue
		}
		out = append(out, v)
	}
	return out
}

func cancelled(entity string, cause error) error {
	return types.NewError(types.ErrCancelled, "detection cancelled").WithEntity(entity).WithCause(cause)
}
