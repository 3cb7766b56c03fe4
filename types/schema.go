package types

import (
	"context"
	"sort"
)

// FieldType 字段声明类型
type FieldType string

const (
	FieldTypeString    FieldType = "string"
	FieldTypeInteger   FieldType = "integer"
	FieldTypeFloat     FieldType = "float"
	FieldTypeBoolean   FieldType = "boolean"
	FieldTypeTimestamp FieldType = "timestamp"
	FieldTypeUUID      FieldType = "uuid"
	FieldTypeObject    FieldType = "object"
	FieldTypeArray     FieldType = "array"
	FieldTypeUnknown   FieldType = "unknown"
)

// Field 描述实体的一个字段
type Field struct {
	Name       string    `json:"name" yaml:"name"`
	Type       FieldType `json:"type" yaml:"type"`
	Nullable   bool      `json:"nullable" yaml:"nullable"`
	PrimaryKey bool      `json:"primary_key" yaml:"primary_key"`
	ForeignKey bool      `json:"foreign_key" yaml:"foreign_key"`
}

// RelationKind 关系基数
type RelationKind string

const (
	RelationOneToMany RelationKind = "one_to_many"
	RelationManyToOne RelationKind = "many_to_one"
	RelationOneToOne  RelationKind = "one_to_one"
)

// DetectionMethod 候选关系的检测来源
type DetectionMethod string

const (
	DetectionNamePattern DetectionMethod = "name_pattern"
	DetectionValueShape  DetectionMethod = "value_shape"
	DetectionStatistical DetectionMethod = "statistical"
	// DetectionDeclared 来自配置的声明关系，覆盖同一 LocalKey 的检测结果
	DetectionDeclared DetectionMethod = "declared"
)

// Priority 用于置信度相同时的排序：基于证据的检测优先于字面猜测
func (m DetectionMethod) Priority() int {
	switch m {
	case DetectionDeclared:
		return 4
	case DetectionStatistical:
		return 3
	case DetectionValueShape:
		return 2
	case DetectionNamePattern:
		return 1
	default:
		return 0
	}
}

// RelationshipCandidate 表示"SourceEntity.LocalKey 引用 TargetEntity.TargetKey"的假设
type RelationshipCandidate struct {
	SourceEntity string            `json:"source_entity"`
	LocalKey     string            `json:"local_key"`
	TargetEntity string            `json:"target_entity"`
	TargetKey    string            `json:"target_key"`
	Kind         RelationKind      `json:"kind"`
	Confidence   float64           `json:"confidence"`
	Method       DetectionMethod   `json:"method"`
	Evidence     []DetectionMethod `json:"evidence,omitempty"`
	// Rank 是同一 LocalKey 下多个目标的排名，0 为最优
	Rank int `json:"rank"`
}

// ValidRelationKind reports whether k is one of the known cardinalities.
func ValidRelationKind(k RelationKind) bool {
	switch k {
	case RelationOneToMany, RelationManyToOne, RelationOneToOne:
		return true
	}
	return false
}

// IsSelfReference reports whether the candidate points back at its own entity.
func (c RelationshipCandidate) IsSelfReference() bool {
	return c.SourceEntity == c.TargetEntity
}

// ClampConfidence 将置信度限制在 [0,1]
func ClampConfidence(c float64) float64 {
	switch {
	case c != c: // NaN
		return 0
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}

// SortCandidates 按置信度降序排序，相同置信度时按检测方法优先级。
// 同一 LocalKey 的并列目标依次按证据数量降序、自引用优先、TargetEntity 升序排列。
func SortCandidates(cands []RelationshipCandidate) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Confidence != b.Confidence {
			return a.Confidence > b.Confidence
		}
		if pa, pb := a.Method.Priority(), b.Method.Priority(); pa != pb {
			return pa > pb
		}
		if a.SourceEntity != b.SourceEntity {
			return a.SourceEntity < b.SourceEntity
		}
		if a.LocalKey != b.LocalKey {
			return a.LocalKey < b.LocalKey
		}
		if len(a.Evidence) != len(b.Evidence) {
			return len(a.Evidence) > len(b.Evidence)
		}
		if sa, sb := a.IsSelfReference(), b.IsSelfReference(); sa != sb {
			return sa
		}
		return a.TargetEntity < b.TargetEntity
	})
}

// TopRanked 只保留每个 (SourceEntity, LocalKey) 的最优目标
func TopRanked(cands []RelationshipCandidate) []RelationshipCandidate {
	out := make([]RelationshipCandidate, 0, len(cands))
	for _, c := range cands {
		if c.Rank == 0 {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// 📚 候选关系集合
// =============================================================================

// CandidateSource 为图构建提供某实体相关的候选关系（作为源或目标）
type CandidateSource interface {
	Relations(ctx context.Context, entity string) ([]RelationshipCandidate, error)
}

// CandidateSet 是静态的候选关系集合，实现 CandidateSource
type CandidateSet []RelationshipCandidate

// Relations returns the candidates where entity is the source or the target,
// in the set's order.
func (s CandidateSet) Relations(_ context.Context, entity string) ([]RelationshipCandidate, error) {
	var out []RelationshipCandidate
	for _, c := range s {
		if c.SourceEntity == entity || c.TargetEntity == entity {
			out = append(out, c)
		}
	}
	return out, nil
}
