package rag

import (
	"strconv"
	"strings"
	"time"

	"github.com/BaSui01/entitygraph/graph"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 📝 图展平
// =============================================================================

const (
	indentUnit = "  "
	// listPreview 是列表值最多展示的元素个数
	listPreview = 3
)

// Flatten 以深度优先先序把图渲染为规范文本。
//
// 每个节点输出头部 "=== entity (ID: uid) ==="、元数据、Data 块和 Relationships 块；
// 子节点深度不超过 depthCutoff 时递归展开，否则与 ReferenceOnly 节点一样
// 只输出 "entity (ID: uid) - [Reference Only]"。相同的图总是得到相同的文本。
func Flatten(g *graph.Graph, depthCutoff int) string {
	root := g.RootNode()
	if root == nil {
		return ""
	}
	f := &flattener{g: g, cutoff: depthCutoff}
	f.node(root, 0)
	return strings.TrimRight(f.b.String(), "\n")
}

type flattener struct {
	g      *graph.Graph
	cutoff int
	b      strings.Builder
}

func (f *flattener) line(level int, parts ...string) {
	for i := 0; i < level; i++ {
		f.b.WriteString(indentUnit)
	}
	for _, p := range parts {
		f.b.WriteString(p)
	}
	f.b.WriteByte('\n')
}

func (f *flattener) node(n *graph.Node, level int) {
	f.line(level, "=== ", n.Entity, " (ID: ", n.UID, ") ===")
	if n.Metadata.HasTimestamp() {
		f.line(level, "Timestamp: ", formatTime(n.Metadata.Timestamp))
	}
	f.line(level, "Depth: ", strconv.Itoa(n.Metadata.Depth))
	f.line(level, "Source: ", n.Metadata.Source)

	if n.Data.Len() == 0 {
		f.line(level, "Data: {}")
	} else {
		f.line(level, "Data:")
		f.fields(n.Data, level+1)
	}

	if len(n.Relations) == 0 {
		return
	}
	f.line(level, "Relationships:")
	for _, r := range n.Relations {
		if len(r.Children) == 0 {
			f.line(level+1, r.Name, ": (none)")
			continue
		}
		f.line(level+1, r.Name, ":")
		for _, idx := range r.Children {
			child := f.g.Node(idx)
			if child == nil {
				continue
			}
			if child.ReferenceOnly || child.Metadata.Depth > f.cutoff {
				f.line(level+2, reference(child))
				continue
			}
			f.node(child, level+2)
		}
	}
}

func reference(n *graph.Node) string {
	return n.Entity + " (ID: " + n.UID + ") - [Reference Only]"
}

// fields 渲染 Map 的键值行，嵌套 Map 逐层缩进
func (f *flattener) fields(m types.Value, level int) {
	for _, k := range m.Keys() {
		v, _ := m.Get(k)
		f.field(k, v, level)
	}
}

func (f *flattener) field(key string, v types.Value, level int) {
	switch v.Kind() {
	case types.KindMap:
		if v.Len() == 0 {
			f.line(level, key, ": {}")
			return
		}
		f.line(level, key, ":")
		f.fields(v, level+1)
	case types.KindList:
		items := v.Items()
		f.line(level, key, ": [", strconv.Itoa(len(items)), " items]")
		for i, item := range items {
			if i == listPreview {
				f.line(level+1, "- ... (", strconv.Itoa(len(items)-listPreview), " more)")
				break
			}
			f.line(level+1, "- ", formatScalar(item))
		}
	default:
		f.line(level, key, ": ", formatScalar(v))
	}
}

// formatScalar 返回值的单行文本；容器只给出规模
func formatScalar(v types.Value) string {
	switch v.Kind() {
	case types.KindNull:
		return "null"
	case types.KindTimestamp:
		t, _ := v.AsTime()
		return formatTime(t)
	default:
		// 数值已是最短形式；列表与 Map 得到 "[n items]" / "{n fields}"
		return v.Key()
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
