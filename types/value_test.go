package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValue_ZeroIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	assert.Equal(t, KindNull, v.Kind())
	assert.Equal(t, "", v.Key())
}

func TestValue_Key(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600))

	tests := []struct {
		name string
		v    Value
		want string
	}{
		{"integer number", Int(42), "42"},
		{"float number", Number(3.25), "3.25"},
		{"string", String("u1"), "u1"},
		{"bool", Bool(true), "true"},
		{"timestamp is utc", Timestamp(ts), "2024-03-01T11:30:00Z"},
		{"list", List(Int(1), Int(2)), "[2 items]"},
		{"map", NewMap().Set("a", Int(1)), "{1 fields}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.v.Key())
		})
	}
}

func TestValue_NumericAndStringKeysAgree(t *testing.T) {
	// 主键在不同数据源中可能是 int64 或 string
	assert.Equal(t, FromAny(int64(7)).Key(), FromAny("7").Key())
}

func TestValue_MapKeepsInsertionOrder(t *testing.T) {
	m := NewMap().Set("zeta", Int(1)).Set("alpha", Int(2)).Set("zeta", Int(3))

	assert.Equal(t, []string{"zeta", "alpha"}, m.Keys())
	z, ok := m.Get("zeta")
	require.True(t, ok)
	assert.Equal(t, "3", z.Key())
	assert.Equal(t, 2, m.Len())
}

func TestValue_SetDoesNotMutateReceiver(t *testing.T) {
	base := NewMap().Set("a", Int(1))
	_ = base.Set("b", Int(2))

	assert.Equal(t, []string{"a"}, base.Keys())
}

func TestOrderedMap(t *testing.T) {
	m := OrderedMap([]string{"id", "name", "missing"}, map[string]Value{
		"name":  String("Alice"),
		"id":    Int(1),
		"email": String("a@example.com"),
	})

	assert.Equal(t, []string{"id", "name", "email"}, m.Keys())
}

func TestFromAny(t *testing.T) {
	ts := time.Date(2023, 1, 2, 3, 4, 5, 0, time.UTC)
	v := FromAny(map[string]any{
		"id":      int64(1),
		"name":    []byte("Alice"),
		"score":   float32(1.5),
		"created": ts,
		"tags":    []any{"a", "b"},
		"profile": map[string]any{"age": 30},
		"deleted": nil,
	})

	require.Equal(t, KindMap, v.Kind())
	assert.Equal(t, []string{"created", "deleted", "id", "name", "profile", "score", "tags"}, v.Keys())

	name, _ := v.Get("name")
	s, ok := name.AsString()
	assert.True(t, ok)
	assert.Equal(t, "Alice", s)

	created, _ := v.Get("created")
	got, ok := created.AsTime()
	assert.True(t, ok)
	assert.True(t, got.Equal(ts))

	tags, _ := v.Get("tags")
	assert.Equal(t, 2, tags.Len())

	deleted, _ := v.Get("deleted")
	assert.True(t, deleted.IsNull())
}

func TestValue_Equal(t *testing.T) {
	a := NewMap().Set("x", List(Int(1), String("y")))
	b := NewMap().Set("x", List(Int(1), String("y")))
	c := NewMap().Set("x", List(Int(2), String("y")))

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
	assert.False(t, Int(1).Equal(String("1")))
}

func TestValue_JSON(t *testing.T) {
	v := NewMap().
		Set("id", Int(1)).
		Set("name", String("Alice")).
		Set("tags", List(String("a"))).
		Set("gone", Null())

	data, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"name":"Alice","tags":["a"],"gone":null}`, string(data))
	// 键顺序保持插入顺序
	assert.Equal(t, `{"id":1,"name":"Alice","tags":["a"],"gone":null}`, string(data))

	var back Value
	require.NoError(t, json.Unmarshal(data, &back))
	name, _ := back.Get("name")
	assert.Equal(t, "Alice", name.Key())
}
