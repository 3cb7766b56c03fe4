package detect

import (
	"sort"

	"github.com/BaSui01/entitygraph/types"
)

type mergeKey struct {
	localKey string
	target   string
}

// merger 合并三个阶段的候选：同一 (localKey, targetEntity) 取最大置信度，不累加
type merger struct {
	order []mergeKey
	byKey map[mergeKey]*types.RelationshipCandidate
}

func newMerger() *merger {
	return &merger{byKey: make(map[mergeKey]*types.RelationshipCandidate)}
}

func (m *merger) add(c types.RelationshipCandidate) {
	c.Confidence = types.ClampConfidence(c.Confidence)
	key := mergeKey{localKey: c.LocalKey, target: c.TargetEntity}

	existing, ok := m.byKey[key]
	if !ok {
		c.Evidence = []types.DetectionMethod{c.Method}
		m.byKey[key] = &c
		m.order = append(m.order, key)
		return
	}

	if !hasMethod(existing.Evidence, c.Method) {
		existing.Evidence = append(existing.Evidence, c.Method)
	}
	if c.Confidence > existing.Confidence ||
		(c.Confidence == existing.Confidence && c.Method.Priority() > existing.Method.Priority()) {
		existing.Confidence = c.Confidence
		existing.Method = c.Method
	}
	// 只有统计阶段掌握基数信息
	if c.Method == types.DetectionStatistical {
		existing.Kind = c.Kind
	}
	if existing.TargetKey == defaultTargetKey && c.TargetKey != "" {
		existing.TargetKey = c.TargetKey
	}
}

// result 丢弃低于阈值的候选，排序并为每个 LocalKey 的多个目标编排名次
func (m *merger) result(threshold float64) []types.RelationshipCandidate {
	out := make([]types.RelationshipCandidate, 0, len(m.order))
	for _, key := range m.order {
		c := *m.byKey[key]
		if c.Confidence < threshold {
			continue
		}
		sort.SliceStable(c.Evidence, func(i, j int) bool {
			return c.Evidence[i].Priority() > c.Evidence[j].Priority()
		})
		out = append(out, c)
	}

	types.SortCandidates(out)

	ranks := make(map[string]int, len(out))
	for i := range out {
		k := out[i].SourceEntity + "\x00" + out[i].LocalKey
		out[i].Rank = ranks[k]
		ranks[k]++
	}
	return out
}

func hasMethod(methods []types.DetectionMethod, m types.DetectionMethod) bool {
	for _, x := range methods {
		if x == m {
			return true
		}
	}
	return false
}
