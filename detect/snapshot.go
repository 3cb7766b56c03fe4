package detect

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/BaSui01/entitygraph/types"
)

// Snapshot 是一次模式内省与关系检测的结果，可在多次图构建间复用
type Snapshot struct {
	// Fingerprint 是内省字段的 xxhash（十六进制），模式不变时保持不变
	Fingerprint string                        `json:"fingerprint"`
	Entities    []string                      `json:"entities"`
	Fields      map[string][]types.Field      `json:"fields"`
	Candidates  []types.RelationshipCandidate `json:"candidates"`
	DetectedAt  time.Time                     `json:"detected_at"`
}

// Relations implements types.CandidateSource.
func (s *Snapshot) Relations(_ context.Context, entity string) ([]types.RelationshipCandidate, error) {
	if s == nil {
		return nil, nil
	}
	var out []types.RelationshipCandidate
	for _, c := range s.Candidates {
		if c.SourceEntity == entity || c.TargetEntity == entity {
			out = append(out, c)
		}
	}
	return out, nil
}

// ForSource returns the candidates whose source entity is entity.
func (s *Snapshot) ForSource(entity string) []types.RelationshipCandidate {
	if s == nil {
		return nil
	}
	var out []types.RelationshipCandidate
	for _, c := range s.Candidates {
		if c.SourceEntity == entity {
			out = append(out, c)
		}
	}
	return out
}

// Fingerprint 计算模式指纹：实体按名称排序，字段保持内省顺序。
// declared 非空时一并参与计算，声明关系变化会使二级存储中的旧快照失效。
func Fingerprint(fields map[string][]types.Field, declared ...types.RelationshipCandidate) string {
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)

	d := xxhash.New()
	for _, n := range names {
		_, _ = d.WriteString(n)
		_, _ = d.WriteString("\x00")
		for _, f := range fields[n] {
			_, _ = d.WriteString(f.Name)
			_, _ = d.WriteString("\x1f")
			_, _ = d.WriteString(string(f.Type))
			_, _ = d.WriteString("\x1f")
			_, _ = d.WriteString(strconv.FormatBool(f.Nullable))
			_, _ = d.WriteString(strconv.FormatBool(f.PrimaryKey))
			_, _ = d.WriteString(strconv.FormatBool(f.ForeignKey))
			_, _ = d.WriteString("\x1e")
		}
	}
	for _, c := range declared {
		_, _ = d.WriteString("\x1d")
		for _, part := range []string{c.SourceEntity, c.LocalKey, c.TargetEntity, c.TargetKey, string(c.Kind)} {
			_, _ = d.WriteString(part)
			_, _ = d.WriteString("\x1f")
		}
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
