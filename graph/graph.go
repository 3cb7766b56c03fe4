package graph

import (
	"sort"
	"time"

	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🌳 实体图（arena 结构）
// =============================================================================

// Relation 是节点的一个命名关系，Children 为子节点在 Graph.Nodes 中的下标，
// 顺序与数据源返回顺序一致
type Relation struct {
	Name     string `json:"name"`
	Children []int  `json:"children"`
}

// Metadata 节点元数据
type Metadata struct {
	Depth  int    `json:"depth"`
	Source string `json:"source"`
	// Timestamp 为零值表示记录没有时间戳
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// HasTimestamp reports whether the node carries a record timestamp.
func (m Metadata) HasTimestamp() bool { return !m.Timestamp.IsZero() }

// Node 是实体图中的一个记录
type Node struct {
	Entity    string      `json:"entity"`
	UID       string      `json:"uid"`
	Data      types.Value `json:"data"`
	Relations []Relation  `json:"relations,omitempty"`
	Metadata  Metadata    `json:"metadata"`

	// ReferenceOnly 表示该记录已在图中其他位置展开，这里只保留 entity+uid
	ReferenceOnly bool `json:"reference_only,omitempty"`
	// Truncated 表示节点位于 maxDepth，不再展开关系
	Truncated bool `json:"truncated,omitempty"`
}

// Graph 以扁平数组保存节点，边为下标。
// 同一 (entity, uid) 最多有一个非引用节点，index 指向它。
type Graph struct {
	Nodes    []*Node   `json:"nodes"`
	Root     int       `json:"root"`
	Warnings []Warning `json:"warnings,omitempty"`
	// Partial 表示构建被取消，图只包含取消前完成的部分
	Partial bool `json:"partial,omitempty"`

	index map[string]int
}

func newGraph() *Graph {
	return &Graph{index: make(map[string]int)}
}

// nodeKey 是 visited 索引的键
func nodeKey(entity, uid string) string {
	return entity + "\x00" + uid
}

// add 追加节点并返回其下标；非引用节点同时登记到 visited 索引
func (g *Graph) add(n *Node) int {
	idx := len(g.Nodes)
	g.Nodes = append(g.Nodes, n)
	if !n.ReferenceOnly {
		g.index[nodeKey(n.Entity, n.UID)] = idx
	}
	return idx
}

func (g *Graph) visited(entity, uid string) bool {
	_, ok := g.index[nodeKey(entity, uid)]
	return ok
}

// RootNode returns the root node, or nil for an empty graph.
func (g *Graph) RootNode() *Node {
	if g == nil || g.Root < 0 || g.Root >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[g.Root]
}

// Node returns the node at index i.
func (g *Graph) Node(i int) *Node {
	if i < 0 || i >= len(g.Nodes) {
		return nil
	}
	return g.Nodes[i]
}

// Lookup 返回 (entity, uid) 对应的展开节点
func (g *Graph) Lookup(entity, uid string) (*Node, bool) {
	if g == nil {
		return nil, false
	}
	if g.index == nil {
		g.reindex()
	}
	i, ok := g.index[nodeKey(entity, uid)]
	if !ok {
		return nil, false
	}
	return g.Nodes[i], true
}

// reindex 重建 visited 索引（例如从 JSON 解码之后）
func (g *Graph) reindex() {
	g.index = make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if !n.ReferenceOnly {
			g.index[nodeKey(n.Entity, n.UID)] = i
		}
	}
}

// Children 返回节点指定关系下的子节点
func (g *Graph) Children(n *Node, relation string) []*Node {
	for _, r := range n.Relations {
		if r.Name != relation {
			continue
		}
		out := make([]*Node, 0, len(r.Children))
		for _, i := range r.Children {
			out = append(out, g.Nodes[i])
		}
		return out
	}
	return nil
}

// RelationNames 返回图中出现过的所有关系名（去重、排序）
func (g *Graph) RelationNames() []string {
	seen := make(map[string]struct{})
	for _, n := range g.Nodes {
		for _, r := range n.Relations {
			seen[r.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Expanded 返回非引用节点数量
func (g *Graph) Expanded() int {
	n := 0
	for _, node := range g.Nodes {
		if !node.ReferenceOnly {
			n++
		}
	}
	return n
}

// =============================================================================
// ⚠️ 构建告警
// =============================================================================

// Warning 记录构建过程中被降级处理的失败，构建本身仍然成功
type Warning struct {
	Entity   string          `json:"entity"`
	UID      string          `json:"uid"`
	Relation string          `json:"relation,omitempty"`
	Code     types.ErrorCode `json:"code"`
	Message  string          `json:"message"`
	Err      error           `json:"-"`
}

func (w Warning) Error() string {
	if w.Relation != "" {
		return string(w.Code) + ": " + w.Entity + ":" + w.UID + " " + w.Relation + ": " + w.Message
	}
	return string(w.Code) + ": " + w.Entity + ":" + w.UID + ": " + w.Message
}

func (w Warning) Unwrap() error { return w.Err }
