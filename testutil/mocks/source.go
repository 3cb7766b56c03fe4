// =============================================================================
// 🗄️ MockSource - 数据源模拟实现
// =============================================================================
// 包装任意 source.Source，支持按实体注入错误、模拟延迟和调用计数
//
// 使用方法:
//
//	src := mocks.NewMockSource(fixtures.UsersOrders()).
//		WithFetchRelatedError("orders", errors.New("connection reset"))
//	g, err := builder.Build(ctx, "users", "1", 2, 10)
//
// =============================================================================
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/entitygraph/source"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🎯 MockSource 结构
// =============================================================================

// MockSource 是数据源的模拟实现
type MockSource struct {
	inner source.Source

	mu sync.Mutex

	// 错误注入（按实体）
	fetchRelatedErr map[string]error
	fetchByKeyErr   map[string]error
	sampleErr       map[string]error
	entitiesErr     error

	// 行为控制
	delay       time.Duration
	onFetch     func(entity string)
	concurrency int
	maxInFlight int

	// 调用记录
	calls map[string]int
}

// NewMockSource 创建包装 inner 的 MockSource
func NewMockSource(inner source.Source) *MockSource {
	return &MockSource{
		inner:           inner,
		fetchRelatedErr: make(map[string]error),
		fetchByKeyErr:   make(map[string]error),
		sampleErr:       make(map[string]error),
		calls:           make(map[string]int),
	}
}

// =============================================================================
// 🔧 Builder 方法
// =============================================================================

// WithFetchRelatedError 对 entity 的 FetchRelated 调用返回 err
func (m *MockSource) WithFetchRelatedError(entity string, err error) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchRelatedErr[entity] = err
	return m
}

// WithFetchByKeyError 对 entity 的 FetchByKey 调用返回 err
func (m *MockSource) WithFetchByKeyError(entity string, err error) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchByKeyErr[entity] = err
	return m
}

// WithSampleError 对 entity 的所有采样调用返回 err
func (m *MockSource) WithSampleError(entity string, err error) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sampleErr[entity] = err
	return m
}

// WithEntitiesError 使 Entities 返回 err
func (m *MockSource) WithEntitiesError(err error) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entitiesErr = err
	return m
}

// WithDelay 为每次 Fetch 调用增加延迟（可被 ctx 取消）
func (m *MockSource) WithDelay(d time.Duration) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFetchHook 在每次 Fetch 调用开始时回调
func (m *MockSource) WithFetchHook(fn func(entity string)) *MockSource {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFetch = fn
	return m
}

// =============================================================================
// 📊 调用统计
// =============================================================================

// Calls 返回指定方法的调用次数
func (m *MockSource) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// MaxInFlight 返回观察到的最大并发 Fetch 数
func (m *MockSource) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockSource) record(method string) {
	m.mu.Lock()
	m.calls[method]++
	m.mu.Unlock()
}

func (m *MockSource) enterFetch(ctx context.Context, entity string) error {
	m.mu.Lock()
	m.concurrency++
	if m.concurrency > m.maxInFlight {
		m.maxInFlight = m.concurrency
	}
	delay, hook := m.delay, m.onFetch
	m.mu.Unlock()

	if hook != nil {
		hook(entity)
	}
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (m *MockSource) exitFetch() {
	m.mu.Lock()
	m.concurrency--
	m.mu.Unlock()
}

func (m *MockSource) injected(table map[string]error, entity string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return table[entity]
}

// =============================================================================
// 🗄️ source.Source 实现
// =============================================================================

func (m *MockSource) Name() string { return "mock:" + m.inner.Name() }

func (m *MockSource) Entities(ctx context.Context) ([]string, error) {
	m.record("Entities")
	m.mu.Lock()
	err := m.entitiesErr
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.Entities(ctx)
}

func (m *MockSource) ListFields(ctx context.Context, entity string) ([]types.Field, error) {
	m.record("ListFields")
	return m.inner.ListFields(ctx, entity)
}

func (m *MockSource) PrimaryKey(ctx context.Context, entity string) (string, error) {
	m.record("PrimaryKey")
	return m.inner.PrimaryKey(ctx, entity)
}

func (m *MockSource) SampleValues(ctx context.Context, entity, field string, n int) ([]types.Value, error) {
	m.record("SampleValues")
	if err := m.injected(m.sampleErr, entity); err != nil {
		return nil, err
	}
	return m.inner.SampleValues(ctx, entity, field, n)
}

func (m *MockSource) SamplePrimaryKeys(ctx context.Context, entity string, n int) ([]types.Value, error) {
	m.record("SamplePrimaryKeys")
	if err := m.injected(m.sampleErr, entity); err != nil {
		return nil, err
	}
	return m.inner.SamplePrimaryKeys(ctx, entity, n)
}

func (m *MockSource) FetchByKey(ctx context.Context, entity, uid string) (source.Record, error) {
	m.record("FetchByKey")
	if err := m.enterFetch(ctx, entity); err != nil {
		m.exitFetch()
		return source.Record{}, err
	}
	defer m.exitFetch()
	if err := m.injected(m.fetchByKeyErr, entity); err != nil {
		return source.Record{}, err
	}
	return m.inner.FetchByKey(ctx, entity, uid)
}

func (m *MockSource) FetchRelated(ctx context.Context, entity, localKey string, value types.Value, limit int) ([]source.Record, error) {
	m.record("FetchRelated")
	if err := m.enterFetch(ctx, entity); err != nil {
		m.exitFetch()
		return nil, err
	}
	defer m.exitFetch()
	if err := m.injected(m.fetchRelatedErr, entity); err != nil {
		return nil, err
	}
	return m.inner.FetchRelated(ctx, entity, localKey, value, limit)
}

var _ source.Source = (*MockSource)(nil)
