// Package graph 把一条根记录沿候选关系展开为有界的实体图。
//
// 图以 arena 形式保存：Graph.Nodes 是扁平数组，关系的子节点是下标。
// 同一 (entity, uid) 只展开一次，之后的引用记为 ReferenceOnly 叶子；
// maxDepth 限制跳数，perRelationLimit 限制每个关系的子节点数。
// 同层的关系拉取以有界并发执行，结果按确定顺序挂载。
package graph
