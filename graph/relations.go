package graph

import (
	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph/types"
)

// edge 是节点的一个待拉取关系
type edge struct {
	name     string
	entity   string
	localKey string
	value    types.Value
	incoming bool
	source   string
}

// relations 返回实体的最优候选（每个 LocalKey 只取 Rank 0），同一次构建内复用
func (s *build) relations(entity string) []types.RelationshipCandidate {
	if cands, ok := s.relCache[entity]; ok {
		return cands
	}
	cands, err := s.b.candidates.Relations(s.ctx, entity)
	if err != nil {
		s.logger.Warn("candidate lookup failed, entity treated as a leaf",
			zap.String("entity", entity), zap.Error(err))
		cands = nil
	}
	cands = types.TopRanked(cands)
	s.relCache[entity] = cands
	return cands
}

// edges 把候选关系展开为节点的具体拉取：
//
//   - 出边（节点是候选的源）: FetchRelated(target, targetKey, record[localKey])，名称为 localKey
//   - 入边（节点是候选的目标）: FetchRelated(source, localKey, record[targetKey])，名称为源实体，
//     与其他关系重名时改用 "source.localKey"
//
// 关联值为空或非标量时跳过该关系。
func (s *build) edges(n *Node) []edge {
	var out []edge
	for _, c := range s.relations(n.Entity) {
		if c.SourceEntity == n.Entity {
			if v, ok := scalarField(n.Data, c.LocalKey); ok {
				out = append(out, edge{
					name:     c.LocalKey,
					entity:   c.TargetEntity,
					localKey: c.TargetKey,
					value:    v,
				})
			}
		}
		if c.TargetEntity == n.Entity {
			if v, ok := scalarField(n.Data, c.TargetKey); ok {
				out = append(out, edge{
					name:     c.SourceEntity,
					entity:   c.SourceEntity,
					localKey: c.LocalKey,
					value:    v,
					incoming: true,
					source:   c.SourceEntity + "." + c.LocalKey,
				})
			}
		}
	}

	counts := make(map[string]int, len(out))
	for _, e := range out {
		counts[e.name]++
	}
	for i := range out {
		if out[i].incoming && counts[out[i].name] > 1 {
			out[i].name = out[i].source
		}
	}
	return out
}

func scalarField(data types.Value, field string) (types.Value, bool) {
	v, ok := data.Get(field)
	if !ok || v.IsNull() || !v.IsScalar() {
		return types.Value{}, false
	}
	return v, true
}
