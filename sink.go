package entitygraph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/BaSui01/entitygraph/rag"
)

// =============================================================================
// 📤 分块输出
// =============================================================================

// Sink 接收一个命名空间的全部分块，通常是嵌入/向量存储的适配器
type Sink interface {
	Index(ctx context.Context, namespace string, chunks []rag.ContextChunk) error
}

// SinkFunc 把函数适配为 Sink
type SinkFunc func(ctx context.Context, namespace string, chunks []rag.ContextChunk) error

func (f SinkFunc) Index(ctx context.Context, namespace string, chunks []rag.ContextChunk) error {
	return f(ctx, namespace, chunks)
}

// JSONLSink 每行写出一个 JSON 编码的分块，可被多个 goroutine 共用
type JSONLSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONLSink 创建写入 w 的 JSONLSink
func NewJSONLSink(w io.Writer) *JSONLSink {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONLSink{enc: enc}
}

// Index 按顺序写出分块；同一命名空间的分块总是连续的
func (s *JSONLSink) Index(ctx context.Context, namespace string, chunks []rag.ContextChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.enc.Encode(&chunks[i]); err != nil {
			return fmt.Errorf("write chunk %s: %w", chunks[i].ID, err)
		}
	}
	return nil
}
