package rag

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/entitygraph/graph"
	"github.com/BaSui01/entitygraph/testutil/fixtures"
	"github.com/BaSui01/entitygraph/types"
)

// sampleGraph 手工构造的小图：用户 1 有两个订单，订单 101 反向引用用户 1
func sampleGraph() *graph.Graph {
	meta := func(depth int) graph.Metadata {
		return graph.Metadata{Depth: depth, Source: "memory:fixture"}
	}
	rootMeta := meta(0)
	rootMeta.Timestamp = fixtures.BaseTime

	return &graph.Graph{
		Root: 0,
		Nodes: []*graph.Node{
			{
				Entity: "users",
				UID:    "1",
				Data: fixtures.Row(
					"id", 1,
					"name", "Alice",
					"tags", types.List(types.String("a"), types.String("b"), types.String("c"), types.String("d")),
					"address", fixtures.Row("city", "Berlin", "zip", nil),
				),
				Relations: []graph.Relation{
					{Name: "orders", Children: []int{1, 2}},
					{Name: "profile"},
				},
				Metadata: rootMeta,
			},
			{
				Entity:    "orders",
				UID:       "101",
				Data:      fixtures.Row("id", 101, "total", 19.99, "placed_at", fixtures.BaseTime),
				Relations: []graph.Relation{{Name: "user_id", Children: []int{3}}},
				Metadata:  meta(1),
			},
			{
				Entity:   "orders",
				UID:      "102",
				Data:     types.NewMap(),
				Metadata: meta(1),
			},
			{
				Entity:        "users",
				UID:           "1",
				Metadata:      meta(2),
				ReferenceOnly: true,
			},
		},
	}
}

func TestFlatten_Format(t *testing.T) {
	want := strings.Join([]string{
		"=== users (ID: 1) ===",
		"Timestamp: 2024-01-15T08:00:00Z",
		"Depth: 0",
		"Source: memory:fixture",
		"Data:",
		"  id: 1",
		"  name: Alice",
		"  tags: [4 items]",
		"    - a",
		"    - b",
		"    - c",
		"    - ... (1 more)",
		"  address:",
		"    city: Berlin",
		"    zip: null",
		"Relationships:",
		"  orders:",
		"    === orders (ID: 101) ===",
		"    Depth: 1",
		"    Source: memory:fixture",
		"    Data:",
		"      id: 101",
		"      total: 19.99",
		"      placed_at: 2024-01-15T08:00:00Z",
		"    Relationships:",
		"      user_id:",
		"        users (ID: 1) - [Reference Only]",
		"    === orders (ID: 102) ===",
		"    Depth: 1",
		"    Source: memory:fixture",
		"    Data: {}",
		"  profile: (none)",
	}, "\n")

	assert.Equal(t, want, Flatten(sampleGraph(), 2))
}

func TestFlatten_DepthCutoff(t *testing.T) {
	out := Flatten(sampleGraph(), 0)

	assert.Contains(t, out, "  orders:\n    orders (ID: 101) - [Reference Only]\n    orders (ID: 102) - [Reference Only]")
	assert.NotContains(t, out, "=== orders")
	assert.NotContains(t, out, "total: 19.99")
}

func TestFlatten_EmptyGraph(t *testing.T) {
	assert.Empty(t, Flatten(&graph.Graph{}, 2))
	assert.Empty(t, Flatten(nil, 2))
}

func TestFormatScalar(t *testing.T) {
	tests := []struct {
		name string
		v    types.Value
		want string
	}{
		{"null", types.Null(), "null"},
		{"bool", types.Bool(true), "true"},
		{"integral number", types.Number(42), "42"},
		{"fraction", types.Number(0.5), "0.5"},
		{"string", types.String("x y"), "x y"},
		{"timestamp in utc", types.Timestamp(fixtures.BaseTime), "2024-01-15T08:00:00Z"},
		{"nested list", types.List(types.Int(1), types.Int(2)), "[2 items]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, formatScalar(tt.v))
		})
	}
}
