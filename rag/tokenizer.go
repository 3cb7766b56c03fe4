package rag

import (
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// =============================================================================
// 🔢 分词器
// =============================================================================

// Tokenizer 为分块统计 token 数
type Tokenizer interface {
	CountTokens(text string) int
	Name() string
}

// NewTokenizer 按模型名创建分词器；model 为空时返回估算器
func NewTokenizer(model string, logger *zap.Logger) Tokenizer {
	if model == "" {
		return EstimatorTokenizer{}
	}
	return NewTiktokenTokenizer(model, logger)
}

// -----------------------------------------------------------------------------
// 估算
// -----------------------------------------------------------------------------

// EstimatorTokenizer 按字符数估算 token：ASCII 约 4 字符/token，CJK 约 1.5 字符/token
type EstimatorTokenizer struct{}

// CountTokens 返回估算的 token 数，非空文本至少为 1
func (EstimatorTokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	total := utf8.RuneCountInString(text)
	cjk := 0
	for _, r := range text {
		if isCJK(r) {
			cjk++
		}
	}
	n := int(float64(cjk)/1.5 + float64(total-cjk)/4.0)
	if n == 0 {
		n = 1
	}
	return n
}

func (EstimatorTokenizer) Name() string { return "estimator" }

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}

// -----------------------------------------------------------------------------
// tiktoken
// -----------------------------------------------------------------------------

// modelEncodings 将模型名映射到 tiktoken 编码
var modelEncodings = map[string]string{
	"gpt-4o":                 "o200k_base",
	"gpt-4o-mini":            "o200k_base",
	"gpt-4-turbo":            "cl100k_base",
	"gpt-4":                  "cl100k_base",
	"gpt-3.5-turbo":          "cl100k_base",
	"text-embedding-3-large": "cl100k_base",
	"text-embedding-3-small": "cl100k_base",
	"text-embedding-ada-002": "cl100k_base",
}

// TiktokenTokenizer 使用 tiktoken 精确计数。
// 编码数据在首次使用时加载；加载失败时回退到估算并记录一次告警。
type TiktokenTokenizer struct {
	model    string
	encoding string
	logger   *zap.Logger

	once    sync.Once
	enc     *tiktoken.Tiktoken
	initErr error
}

// NewTiktokenTokenizer 创建 tiktoken 分词器，未知模型使用 cl100k_base
func NewTiktokenTokenizer(model string, logger *zap.Logger) *TiktokenTokenizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TiktokenTokenizer{
		model:    model,
		encoding: encodingFor(model),
		logger:   logger.With(zap.String("component", "tokenizer")),
	}
}

func encodingFor(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	// 最长前缀匹配，避免 "gpt-4" 抢先匹配 "gpt-4o-2024-08-06"
	best := ""
	for prefix := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best != "" {
		return modelEncodings[best]
	}
	return "cl100k_base"
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			t.logger.Warn("tiktoken unavailable, falling back to estimate",
				zap.String("model", t.model), zap.Error(t.initErr))
			return
		}
		t.enc = enc
	})
	return t.initErr
}

// CountTokens 返回 tiktoken 计数，编码不可用时返回估算值
func (t *TiktokenTokenizer) CountTokens(text string) int {
	if err := t.init(); err != nil {
		return EstimatorTokenizer{}.CountTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
