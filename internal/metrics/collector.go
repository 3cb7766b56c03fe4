// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 的所有记录方法都是空操作。
type Collector struct {
	// 关系检测指标
	candidatesTotal  *prometheus.CounterVec
	detectDuration   *prometheus.HistogramVec
	samplingFailures *prometheus.CounterVec

	// 图构建指标
	buildsTotal   *prometheus.CounterVec
	buildDuration *prometheus.HistogramVec
	graphNodes    prometheus.Histogram
	fetchFailures *prometheus.CounterVec

	// 分块指标
	chunksTotal *prometheus.CounterVec
	chunkRunes  prometheus.Histogram

	// 缓存指标
	cacheHits   *prometheus.CounterVec
	cacheMisses *prometheus.CounterVec

	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpResponseSize    *prometheus.HistogramVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，reg 为 nil 时注册到默认 Registerer
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.candidatesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationship_candidates_total",
			Help:      "Total number of relationship candidates emitted",
		},
		[]string{"method", "kind"},
	)

	c.detectDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "Relationship detection duration per entity in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"entity"},
	)

	c.samplingFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sampling_failures_total",
			Help:      "Total number of sampling calls that were unavailable",
		},
		[]string{"entity", "pass"},
	)

	c.buildsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "graph_builds_total",
			Help:      "Total number of entity graph builds",
		},
		[]string{"root_entity", "status"},
	)

	c.buildDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_build_duration_seconds",
			Help:      "Entity graph build duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"root_entity"},
	)

	c.graphNodes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Number of nodes per built graph",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	c.fetchFailures = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Total number of relation fetches that failed during graph builds",
		},
		[]string{"entity"},
	)

	c.chunksTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_emitted_total",
			Help:      "Total number of context chunks emitted",
		},
		[]string{"root_entity"},
	)

	c.chunkRunes = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_size_runes",
			Help:      "Context chunk length in characters",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 8),
		},
	)

	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.httpResponseSize = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 7),
		},
		[]string{"method", "path"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🔍 关系检测指标记录
// =============================================================================

// RecordCandidate 记录一条输出的候选关系
func (c *Collector) RecordCandidate(method, kind string) {
	if c == nil {
		return
	}
	c.candidatesTotal.WithLabelValues(method, kind).Inc()
}

// RecordDetection 记录一次实体检测耗时
func (c *Collector) RecordDetection(entity string, duration time.Duration) {
	if c == nil {
		return
	}
	c.detectDuration.WithLabelValues(entity).Observe(duration.Seconds())
}

// RecordSamplingFailure 记录一次采样不可用
func (c *Collector) RecordSamplingFailure(entity, pass string) {
	if c == nil {
		return
	}
	c.samplingFailures.WithLabelValues(entity, pass).Inc()
}

// =============================================================================
// 🕸️ 图构建指标记录
// =============================================================================

// RecordBuild 记录一次图构建
func (c *Collector) RecordBuild(rootEntity, status string, nodes int, duration time.Duration) {
	if c == nil {
		return
	}
	c.buildsTotal.WithLabelValues(rootEntity, status).Inc()
	c.buildDuration.WithLabelValues(rootEntity).Observe(duration.Seconds())
	if nodes > 0 {
		c.graphNodes.Observe(float64(nodes))
	}
}

// RecordFetchFailure 记录一次关系拉取失败
func (c *Collector) RecordFetchFailure(entity string) {
	if c == nil {
		return
	}
	c.fetchFailures.WithLabelValues(entity).Inc()
}

// =============================================================================
// ✂️ 分块指标记录
// =============================================================================

// RecordChunks 记录一次分块输出
func (c *Collector) RecordChunks(rootEntity string, sizes []int) {
	if c == nil {
		return
	}
	c.chunksTotal.WithLabelValues(rootEntity).Add(float64(len(sizes)))
	for _, n := range sizes {
		c.chunkRunes.Observe(float64(n))
	}
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(cacheType string) {
	if c == nil {
		return
	}
	c.cacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(cacheType string) {
	if c == nil {
		return
	}
	c.cacheMisses.WithLabelValues(cacheType).Inc()
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration, responseSize int64) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	c.httpResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}
