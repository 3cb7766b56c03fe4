package detect

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"pgregory.net/rapid"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/testutil"
	"github.com/BaSui01/entitygraph/testutil/fixtures"
	"github.com/BaSui01/entitygraph/testutil/mocks"
	"github.com/BaSui01/entitygraph/types"
)

func newDetector(opts ...Option) *Detector {
	return New(config.DefaultDetectorConfig(), opts...)
}

func fieldsOf(t *testing.T, src source.Introspector, entity string) []types.Field {
	t.Helper()
	fields, err := src.ListFields(context.Background(), entity)
	require.NoError(t, err)
	return fields
}

// =============================================================================
// 🧪 单实体检测
// =============================================================================

func TestDetector_ForeignKeyToUsers(t *testing.T) {
	src := fixtures.UsersOrders()
	cands, err := newDetector().Detect(testutil.TestContext(t), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, "orders", c.SourceEntity)
	assert.Equal(t, "user_id", c.LocalKey)
	assert.Equal(t, "users", c.TargetEntity)
	assert.Equal(t, "id", c.TargetKey)
	assert.Equal(t, types.RelationManyToOne, c.Kind)
	assert.GreaterOrEqual(t, c.Confidence, 0.7)
	assert.Equal(t, types.DetectionStatistical, c.Method)
	assert.Equal(t, 0, c.Rank)
}

func TestDetector_MergeKeepsMaxAndEvidence(t *testing.T) {
	src := fixtures.UsersOrders()
	cands, err := newDetector().Detect(context.Background(), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)

	c := testutil.AssertHasCandidate(t, cands, "orders", "user_id", "users")
	// 三个阶段都命中，置信度取最大值而不是累加
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, []types.DetectionMethod{
		types.DetectionStatistical,
		types.DetectionValueShape,
		types.DetectionNamePattern,
	}, c.Evidence)
}

func TestDetector_SelfReference(t *testing.T) {
	src := fixtures.Employees()
	cands, err := newDetector().Detect(context.Background(), "employees", fieldsOf(t, src, "employees"), src)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.True(t, c.IsSelfReference())
	assert.Equal(t, "manager_id", c.LocalKey)
	assert.Equal(t, types.DetectionStatistical, c.Method)
	// manager 不是实体名，命名规则不参与
	assert.NotContains(t, c.Evidence, types.DetectionNamePattern)
}

func TestDetector_SelfReferenceAmongSharedIntegerKeys(t *testing.T) {
	// users、orders、order_items 与 employees 的主键都是小整数
	src := fixtures.Employees().
		AddTable(source.Table{Name: "users", Rows: []types.Value{
			fixtures.Row("id", 1), fixtures.Row("id", 2), fixtures.Row("id", 3),
		}}).
		AddTable(source.Table{Name: "orders", Rows: []types.Value{
			fixtures.Row("id", 101, "user_id", 1),
			fixtures.Row("id", 102, "user_id", 1),
			fixtures.Row("id", 103, "user_id", 2),
			fixtures.Row("id", 104, "user_id", 1),
			fixtures.Row("id", 105, "user_id", 3),
		}}).
		AddTable(source.Table{Name: "order_items", Rows: []types.Value{
			fixtures.Row("id", 1001, "quantity", 1),
			fixtures.Row("id", 1002, "quantity", 2),
			fixtures.Row("id", 1003, "quantity", 1),
			fixtures.Row("id", 1004, "quantity", 1),
			fixtures.Row("id", 1005, "quantity", 1),
		}})

	snap, err := newDetector().DetectSchema(context.Background(), src)
	require.NoError(t, err)

	var managers []types.RelationshipCandidate
	for _, c := range snap.Candidates {
		if c.SourceEntity == "employees" && c.LocalKey == "manager_id" {
			managers = append(managers, c)
		}
	}
	// 并列的目标都保留，自引用排在最前
	require.Len(t, managers, 2)
	assert.Equal(t, "employees", managers[0].TargetEntity)
	assert.Equal(t, 0, managers[0].Rank)
	assert.Equal(t, "users", managers[1].TargetEntity)
	assert.Equal(t, 1, managers[1].Rank)
	for _, c := range managers {
		assert.Equal(t, 1.0, c.Confidence)
		assert.Equal(t, types.DetectionStatistical, c.Method)
	}

	// 命名规则的证据让 users 胜过同样完全重叠的 employees
	top := types.TopRanked(snap.Candidates)
	c := testutil.AssertHasCandidate(t, top, "orders", "user_id", "users")
	assert.Contains(t, c.Evidence, types.DetectionNamePattern)
	testutil.AssertHasCandidate(t, snap.Candidates, "orders", "user_id", "employees")

	// 低基数的度量列不是外键
	assert.Empty(t, snap.ForSource("order_items"))
}

func ticketsSource() *source.MemorySource {
	return source.NewMemorySource("helpdesk").
		AddTable(source.Table{Name: "accounts", Rows: []types.Value{
			fixtures.Row("id", "a1"), fixtures.Row("id", "a2"),
		}}).
		AddTable(source.Table{Name: "tickets", Rows: []types.Value{
			fixtures.Row("id", 1, "owner", "a1"),
			fixtures.Row("id", 2, "owner", "a1"),
			fixtures.Row("id", 3, "owner", "a1"),
			fixtures.Row("id", 4, "owner", "a1"),
			fixtures.Row("id", 5, "owner", "a1"),
			fixtures.Row("id", 6, "owner", "a2"),
		}})
}

func TestDetector_DeclaredRelationship(t *testing.T) {
	src := ticketsSource()

	// owner 既不符合命名规则，基数也太低
	snap, err := newDetector().DetectSchema(context.Background(), src)
	require.NoError(t, err)
	assert.Empty(t, snap.ForSource("tickets"))

	declared := types.CandidateSet{{SourceEntity: "tickets", LocalKey: "owner", TargetEntity: "accounts"}}
	withDeclared, err := newDetector(WithDeclared(declared)).DetectSchema(context.Background(), src)
	require.NoError(t, err)

	cands := withDeclared.ForSource("tickets")
	require.Len(t, cands, 1)
	c := cands[0]
	assert.Equal(t, "accounts", c.TargetEntity)
	assert.Equal(t, "id", c.TargetKey)
	assert.Equal(t, types.RelationManyToOne, c.Kind)
	assert.Equal(t, 1.0, c.Confidence)
	assert.Equal(t, types.DetectionDeclared, c.Method)
	assert.Equal(t, []types.DetectionMethod{types.DetectionDeclared}, c.Evidence)
	assert.Equal(t, 0, c.Rank)

	// 声明关系参与指纹
	assert.NotEqual(t, snap.Fingerprint, withDeclared.Fingerprint)
}

func TestDetector_DeclaredReplacesDetection(t *testing.T) {
	src := fixtures.UsersOrders()
	declared := types.CandidateSet{
		{SourceEntity: "orders", LocalKey: "user_id", TargetEntity: "users", Kind: types.RelationOneToOne},
	}

	cands, err := newDetector(WithDeclared(declared)).Detect(context.Background(), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, types.DetectionDeclared, cands[0].Method)
	assert.Equal(t, types.RelationOneToOne, cands[0].Kind)
	assert.NotContains(t, cands[0].Evidence, types.DetectionStatistical)
}

func TestDetector_NoCandidatesForPlainFields(t *testing.T) {
	src := fixtures.UsersOrders()
	cands, err := newDetector().Detect(context.Background(), "users", fieldsOf(t, src, "users"), src)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestDetector_OneToOne(t *testing.T) {
	users := make([]types.Value, 0, 25)
	profiles := make([]types.Value, 0, 25)
	for i := 1; i <= 25; i++ {
		users = append(users, fixtures.Row("id", i, "name", fmt.Sprintf("user-%d", i)))
		profiles = append(profiles, fixtures.Row("id", 1000+i, "user_id", i, "bio", "hello"))
	}
	src := source.NewMemorySource("one-to-one").
		AddTable(source.Table{Name: "users", Rows: users}).
		AddTable(source.Table{Name: "profiles", Rows: profiles})

	cands, err := newDetector().Detect(context.Background(), "profiles", fieldsOf(t, src, "profiles"), src)
	require.NoError(t, err)

	c := testutil.AssertHasCandidate(t, cands, "profiles", "user_id", "users")
	assert.Equal(t, types.RelationOneToOne, c.Kind)
}

func TestDetector_OneToOneNeedsEnoughSamples(t *testing.T) {
	src := source.NewMemorySource("small").
		AddTable(source.Table{Name: "users", Rows: []types.Value{
			fixtures.Row("id", 1), fixtures.Row("id", 2),
		}}).
		AddTable(source.Table{Name: "profiles", Rows: []types.Value{
			fixtures.Row("id", 10, "user_id", 1), fixtures.Row("id", 11, "user_id", 2),
		}})

	cands, err := newDetector().Detect(context.Background(), "profiles", fieldsOf(t, src, "profiles"), src)
	require.NoError(t, err)

	c := testutil.AssertHasCandidate(t, cands, "profiles", "user_id", "users")
	assert.Equal(t, types.RelationManyToOne, c.Kind)
}

// =============================================================================
// 🧪 采样失败与降级
// =============================================================================

func TestDetector_SamplingUnavailable(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	src := mocks.NewMockSource(fixtures.UsersOrders()).
		WithSampleError("orders", types.NewError(types.ErrSamplingUnavailable, "view without scan access"))

	cands, err := newDetector(WithLogger(logger)).Detect(context.Background(), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)

	// 只剩命名规则的候选
	require.Len(t, cands, 1)
	assert.Equal(t, types.DetectionNamePattern, cands[0].Method)
	assert.Equal(t, 0.6, cands[0].Confidence)
	assert.Equal(t, "users", cands[0].TargetEntity)

	assert.NotZero(t, logs.FilterMessage("sampling unavailable").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len())
}

func TestDetector_ThresholdDropsWeakCandidates(t *testing.T) {
	cfg := config.DefaultDetectorConfig()
	cfg.ConfidenceThreshold = 0.7
	src := mocks.NewMockSource(fixtures.UsersOrders()).
		WithSampleError("orders", errors.New("permission denied"))

	cands, err := New(cfg).Detect(context.Background(), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestDetector_EntitiesUnavailableGuessesPlural(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	src := mocks.NewMockSource(fixtures.UsersOrders()).
		WithEntitiesError(errors.New("information_schema unavailable"))

	cands, err := newDetector(WithLogger(logger)).Detect(context.Background(), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)
	require.Len(t, cands, 1)

	c := cands[0]
	assert.Equal(t, "users", c.TargetEntity)
	assert.Equal(t, "id", c.TargetKey)
	assert.Equal(t, types.DetectionNamePattern, c.Method)
	assert.Equal(t, 1, logs.FilterMessage("sampling failed").Len())
}

func TestDetector_SkipsNestedFields(t *testing.T) {
	src := fixtures.UsersOrders()
	fields := []types.Field{
		{Name: "id", Type: types.FieldTypeInteger, PrimaryKey: true},
		{Name: "user_id", Type: types.FieldTypeObject},
		{Name: "tags", Type: types.FieldTypeArray},
	}
	cands, err := newDetector().Detect(context.Background(), "orders", fields, src)
	require.NoError(t, err)
	assert.Empty(t, cands)
}

func TestDetector_Cancelled(t *testing.T) {
	src := fixtures.UsersOrders()
	_, err := newDetector().Detect(testutil.CancelledContext(), "orders", fieldsOf(t, src, "orders"), src)
	testutil.AssertErrorCode(t, err, types.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// 🧪 模式级检测
// =============================================================================

func TestDetector_DetectSchema(t *testing.T) {
	fixed := time.Date(2024, 6, 1, 12, 0, 0, 0, time.FixedZone("CST", 8*3600))
	d := newDetector()
	d.now = func() time.Time { return fixed }

	snap, err := d.DetectSchema(context.Background(), fixtures.Shop())
	require.NoError(t, err)

	assert.Equal(t, []string{"order_items", "orders", "products", "users"}, snap.Entities)
	assert.NotEmpty(t, snap.Fingerprint)
	assert.Equal(t, fixed.UTC(), snap.DetectedAt)

	for _, want := range fixtures.ShopCandidates() {
		c := testutil.AssertHasCandidate(t, snap.Candidates, want.SourceEntity, want.LocalKey, want.TargetEntity)
		assert.Equal(t, 0, c.Rank, "%s.%s", want.SourceEntity, want.LocalKey)
	}
	assert.Len(t, snap.ForSource("order_items"), 5)

	rels, err := snap.Relations(context.Background(), "orders")
	require.NoError(t, err)
	testutil.AssertHasCandidate(t, rels, "orders", "user_id", "users")
	testutil.AssertHasCandidate(t, rels, "order_items", "order_id", "orders")
}

func TestDetector_RanksAmbiguousTargets(t *testing.T) {
	snap, err := newDetector().DetectSchema(context.Background(), fixtures.Shop())
	require.NoError(t, err)

	// quantity 的值 1..3 与 users.id 完全重叠，形态上还兼容 orders 与 order_items
	var ranked []types.RelationshipCandidate
	for _, c := range snap.Candidates {
		if c.SourceEntity == "order_items" && c.LocalKey == "quantity" {
			ranked = append(ranked, c)
		}
	}
	require.Len(t, ranked, 3)
	assert.Equal(t, "users", ranked[0].TargetEntity)
	assert.Equal(t, 0, ranked[0].Rank)
	assert.Equal(t, "order_items", ranked[1].TargetEntity)
	assert.Equal(t, 1, ranked[1].Rank)
	assert.Equal(t, "orders", ranked[2].TargetEntity)
	assert.Equal(t, 2, ranked[2].Rank)

	for _, c := range types.TopRanked(snap.Candidates) {
		assert.Equal(t, 0, c.Rank)
	}
}

func TestDetector_IntrospectEntitiesFailure(t *testing.T) {
	src := mocks.NewMockSource(fixtures.Shop()).WithEntitiesError(errors.New("timeout"))
	_, err := newDetector().DetectSchema(context.Background(), src)
	testutil.AssertErrorCode(t, err, types.ErrSamplingUnavailable)
}

func TestDetector_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector("eg", reg, nil)
	src := mocks.NewMockSource(fixtures.UsersOrders()).
		WithSampleError("orders", errors.New("boom"))

	_, err := newDetector(WithMetrics(collector)).Detect(context.Background(), "orders", fieldsOf(t, src, "orders"), src)
	require.NoError(t, err)

	n, err := promtest.GatherAndCount(reg, "eg_relationship_candidates_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = promtest.GatherAndCount(reg, "eg_sampling_failures_total")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = promtest.GatherAndCount(reg, "eg_detect_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFingerprint(t *testing.T) {
	a := map[string][]types.Field{
		"users":  {{Name: "id", Type: types.FieldTypeInteger, PrimaryKey: true}},
		"orders": {{Name: "id", Type: types.FieldTypeInteger, PrimaryKey: true}, {Name: "user_id", Type: types.FieldTypeInteger}},
	}
	b := map[string][]types.Field{
		"orders": {{Name: "id", Type: types.FieldTypeInteger, PrimaryKey: true}, {Name: "user_id", Type: types.FieldTypeInteger}},
		"users":  {{Name: "id", Type: types.FieldTypeInteger, PrimaryKey: true}},
	}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b["orders"][1].Nullable = true
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))
}

// =============================================================================
// 🎲 属性测试
// =============================================================================

func TestDetector_CandidateInvariants(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		parents := rapid.IntRange(1, 15).Draw(rt, "parents")
		children := rapid.IntRange(1, 30).Draw(rt, "children")

		parentRows := make([]types.Value, parents)
		for i := range parentRows {
			parentRows[i] = fixtures.Row("id", i+1)
		}
		childRows := make([]types.Value, children)
		for i := range childRows {
			ref := rapid.IntRange(-5, 40).Draw(rt, fmt.Sprintf("ref_%d", i))
			childRows[i] = fixtures.Row("id", 100+i, "parent_id", ref, "score", ref*3)
		}
		src := source.NewMemorySource("prop").
			AddTable(source.Table{Name: "parents", Rows: parentRows}).
			AddTable(source.Table{Name: "children", Rows: childRows})

		cfg := config.DefaultDetectorConfig()
		cfg.ConfidenceThreshold = rapid.Float64Range(0, 1).Draw(rt, "threshold")

		fields, err := src.ListFields(context.Background(), "children")
		if err != nil {
			rt.Fatal(err)
		}
		cands, err := New(cfg).Detect(context.Background(), "children", fields, src)
		if err != nil {
			rt.Fatal(err)
		}

		ranks := make(map[string]int)
		seen := make(map[string]bool)
		for _, c := range cands {
			if c.Confidence < 0 || c.Confidence > 1 {
				rt.Fatalf("confidence out of range: %v", c.Confidence)
			}
			if c.Confidence < cfg.ConfidenceThreshold {
				rt.Fatalf("candidate below threshold: %v < %v", c.Confidence, cfg.ConfidenceThreshold)
			}
			key := c.LocalKey + "->" + c.TargetEntity
			if seen[key] {
				rt.Fatalf("duplicate candidate %s", key)
			}
			seen[key] = true
			if c.Rank != ranks[c.LocalKey] {
				rt.Fatalf("rank gap for %s: got %d want %d", c.LocalKey, c.Rank, ranks[c.LocalKey])
			}
			ranks[c.LocalKey]++
		}
	})
}
