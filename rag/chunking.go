package rag

import (
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph/config"
	"github.com/BaSui01/entitygraph/graph"
	"github.com/BaSui01/entitygraph/internal/metrics"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 📦 上下文分块
// =============================================================================

// ContextChunk 是一段可独立嵌入的图上下文
type ContextChunk struct {
	ID        string        `json:"id"`
	Namespace string        `json:"namespace"`
	Content   string        `json:"content"`
	Metadata  ChunkMetadata `json:"metadata"`
}

// ChunkMetadata 分块元数据。
// Relations 是整张图出现过的关系名并集（排序），每个分块都相同。
type ChunkMetadata struct {
	Entity      string   `json:"entity"`
	UID         string   `json:"uid"`
	Relations   []string `json:"relations"`
	ChunkIndex  int      `json:"chunk_index"`
	TotalChunks int      `json:"total_chunks"`
	// Timestamp 取自根记录，根记录没有时间戳时为零值
	Timestamp  time.Time `json:"timestamp"`
	Start      int       `json:"start"`
	End        int       `json:"end"`
	TokenCount int       `json:"token_count"`
}

// ContextChunker 把实体图展平并切分为 ContextChunk。
// 不持有分块状态，可并发使用。
type ContextChunker struct {
	tokenizer Tokenizer
	logger    *zap.Logger
	metrics   *metrics.Collector
}

// ChunkerOption 配置 ContextChunker
type ChunkerOption func(*ContextChunker)

// WithTokenizer 设置分词器，默认使用估算器
func WithTokenizer(t Tokenizer) ChunkerOption {
	return func(c *ContextChunker) {
		if t != nil {
			c.tokenizer = t
		}
	}
}

// WithChunkerLogger 设置日志
func WithChunkerLogger(logger *zap.Logger) ChunkerOption {
	return func(c *ContextChunker) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithChunkerMetrics 设置指标收集器
func WithChunkerMetrics(m *metrics.Collector) ChunkerOption {
	return func(c *ContextChunker) { c.metrics = m }
}

// NewContextChunker 创建分块器
func NewContextChunker(opts ...ChunkerOption) *ContextChunker {
	c := &ContextChunker{
		tokenizer: EstimatorTokenizer{},
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "context_chunker"))
	return c
}

// ValidateChunking 校验分块参数
func ValidateChunking(cfg config.ChunkingConfig) error {
	if cfg.ChunkSize <= 0 {
		return types.NewConfigError("chunk_size must be positive, got %d", cfg.ChunkSize)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.ChunkSize {
		return types.NewConfigError("overlap must be in [0, %d), got %d", cfg.ChunkSize, cfg.Overlap)
	}
	if cfg.FlattenDepthCutoff < 0 {
		return types.NewConfigError("flatten_depth_cutoff must be non-negative, got %d", cfg.FlattenDepthCutoff)
	}
	return nil
}

// Chunk 展平图并切分。相同的图与参数总是得到相同的输出。
func (c *ContextChunker) Chunk(g *graph.Graph, cfg config.ChunkingConfig) ([]ContextChunk, error) {
	if err := ValidateChunking(cfg); err != nil {
		return nil, err
	}
	root := g.RootNode()
	if root == nil {
		return nil, types.NewError(types.ErrInternalError, "graph has no root node")
	}
	ns, err := Namespace(root.Entity, root.UID)
	if err != nil {
		return nil, err
	}

	runes := []rune(Flatten(g, cfg.FlattenDepthCutoff))
	spans := splitRunes(runes, cfg.ChunkSize, cfg.Overlap)
	relations := g.RelationNames()

	chunks := make([]ContextChunk, len(spans))
	sizes := make([]int, len(spans))
	for i, s := range spans {
		content := string(runes[s.Start:s.End])
		rels := make([]string, len(relations))
		copy(rels, relations)
		chunks[i] = ContextChunk{
			ID:        chunkID(ns, i),
			Namespace: ns,
			Content:   content,
			Metadata: ChunkMetadata{
				Entity:      root.Entity,
				UID:         root.UID,
				Relations:   rels,
				ChunkIndex:  i,
				TotalChunks: len(spans),
				Timestamp:   root.Metadata.Timestamp,
				Start:       s.Start,
				End:         s.End,
				TokenCount:  c.tokenizer.CountTokens(content),
			},
		}
		sizes[i] = s.Len()
	}

	c.metrics.RecordChunks(root.Entity, sizes)
	c.logger.Debug("graph chunked",
		zap.String("namespace", ns),
		zap.Int("text_runes", len(runes)),
		zap.Int("chunks", len(chunks)),
		zap.String("tokenizer", c.tokenizer.Name()),
	)
	return chunks, nil
}

func chunkID(ns string, i int) string {
	return ns + ":chunk:" + strconv.Itoa(i)
}

// =============================================================================
// 📈 分块统计
// =============================================================================

// ChunkStats 汇总一次切分的规模
type ChunkStats struct {
	TotalTextLength int `json:"total_text_length"`
	TotalChunks     int `json:"total_chunks"`
	AvgChunkSize    int `json:"avg_chunk_size"`
	ChunkSize       int `json:"chunk_size"`
	Overlap         int `json:"overlap"`
}

// Stats 返回图按 cfg 切分后的统计
func (c *ContextChunker) Stats(g *graph.Graph, cfg config.ChunkingConfig) (ChunkStats, error) {
	if err := ValidateChunking(cfg); err != nil {
		return ChunkStats{}, err
	}
	return TextStats(Flatten(g, cfg.FlattenDepthCutoff), cfg.ChunkSize, cfg.Overlap), nil
}

// TextStats 返回文本按 chunkSize/overlap 切分后的统计，长度以 rune 计。
// 参数约束同 SplitText。
func TextStats(text string, chunkSize, overlap int) ChunkStats {
	runes := []rune(text)
	spans := splitRunes(runes, chunkSize, overlap)
	total := 0
	for _, s := range spans {
		total += s.Len()
	}
	return ChunkStats{
		TotalTextLength: len(runes),
		TotalChunks:     len(spans),
		AvgChunkSize:    total / len(spans),
		ChunkSize:       chunkSize,
		Overlap:         overlap,
	}
}
