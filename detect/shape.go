package detect

import (
	"math"
	"strconv"

	"github.com/google/uuid"

	"github.com/BaSui01/entitygraph/types"
)

// idShape 是标识符值的形态
type idShape int

const (
	shapeNone idShape = iota
	shapeInteger
	shapeHex
	shapeUUID
)

func (s idShape) String() string {
	switch s {
	case shapeUUID:
		return "uuid"
	case shapeHex:
		return "hex"
	case shapeInteger:
		return "integer"
	default:
		return "none"
	}
}

// minHexTokenLen 十六进制令牌的最小长度
const minHexTokenLen = 16

// shapeOf 判断单个值的标识符形态
func shapeOf(v types.Value) idShape {
	switch v.Kind() {
	case types.KindNumber:
		n, _ := v.AsNumber()
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return shapeInteger
		}
	case types.KindString:
		s, _ := v.AsString()
		if len(s) == 36 && uuid.Validate(s) == nil {
			return shapeUUID
		}
		if _, err := strconv.ParseInt(s, 10, 64); err == nil && s[0] != '+' {
			return shapeInteger
		}
		if len(s) >= minHexTokenLen && isHex(s) {
			return shapeHex
		}
	}
	return shapeNone
}

func isHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F') {
			return false
		}
	}
	return true
}

// dominantShape 返回样本中占比最高的形态及其比例。
// 相同计数时 uuid > hex > integer。
func dominantShape(values []types.Value) (idShape, float64) {
	if len(values) == 0 {
		return shapeNone, 0
	}
	var counts [shapeUUID + 1]int
	for _, v := range values {
		counts[shapeOf(v)]++
	}
	best := shapeNone
	for s := shapeUUID; s > shapeNone; s-- {
		if counts[s] > counts[best] || (best == shapeNone && counts[s] > 0) {
			best = s
		}
	}
	if best == shapeNone {
		return shapeNone, 0
	}
	return best, float64(counts[best]) / float64(len(values))
}
