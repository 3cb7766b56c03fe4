package rag

import "unicode"

// =============================================================================
// ✂️ 文本切分
// =============================================================================

// minBreakRatio 是自然断点在窗口中可接受的最小位置
const minBreakRatio = 0.7

// Span 是一段文本的 rune 偏移区间 [Start, End)
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the span length in runes.
func (s Span) Len() int { return s.End - s.Start }

// SplitText 按 rune 把文本切分为不超过 chunkSize 的重叠片段。
//
// 文本不超过 chunkSize 时原样返回一个片段。否则从 start+chunkSize 向前查找
// 自然断点，优先级依次为段落、换行、". "、单词边界；断点必须落在窗口 70% 之后，
// 否则在 chunkSize 处硬切。下一片段从 断点-overlap 开始，且严格大于上一片段起点。
//
// 调用方保证 chunkSize > 0 且 0 <= overlap < chunkSize。
func SplitText(text string, chunkSize, overlap int) []Span {
	runes := []rune(text)
	return splitRunes(runes, chunkSize, overlap)
}

func splitRunes(runes []rune, chunkSize, overlap int) []Span {
	n := len(runes)
	if n <= chunkSize {
		return []Span{{Start: 0, End: n}}
	}

	var spans []Span
	start := 0
	for {
		end := start + chunkSize
		if end >= n {
			spans = append(spans, Span{Start: start, End: n})
			return spans
		}
		brk := findBreak(runes, start, end, chunkSize)
		spans = append(spans, Span{Start: start, End: brk})

		next := brk - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}
}

// findBreak 返回 (start, end] 内优先级最高、位置最靠后的断点，断点位于分隔符之后
func findBreak(runes []rune, start, end, chunkSize int) int {
	lo := start + int(float64(chunkSize)*minBreakRatio)
	if lo <= start {
		lo = start + 1
	}

	matchers := []func(i int) bool{
		// 段落
		func(i int) bool { return i-2 >= start && runes[i-1] == '\n' && runes[i-2] == '\n' },
		// 换行
		func(i int) bool { return runes[i-1] == '\n' },
		// 句末
		func(i int) bool { return i-2 >= start && runes[i-1] == ' ' && runes[i-2] == '.' },
		// 单词边界
		func(i int) bool { return unicode.IsSpace(runes[i-1]) },
	}
	for _, match := range matchers {
		for i := end; i >= lo; i-- {
			if match(i) {
				return i
			}
		}
	}
	return end
}
