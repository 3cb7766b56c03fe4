package source

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/entitygraph/types"
)

// Fixture 是 YAML 描述的内存数据集
//
//	name: shop
//	tables:
//	  - name: users
//	    primary_key: id
//	    timestamp_field: created_at
//	    rows:
//	      - {id: u1, name: Alice}
type Fixture struct {
	Name   string         `yaml:"name"`
	Tables []FixtureTable `yaml:"tables"`
}

// FixtureTable 是 fixture 中的一张表，行保持 YAML 中的键顺序
type FixtureTable struct {
	Table `yaml:",inline"`
	Rows  []yaml.Node `yaml:"rows"`
}

// LoadFixture 从文件或目录加载 fixture 并构造 MemorySource，格式由扩展名决定
func LoadFixture(path string) (*MemorySource, error) {
	return NewFixtureRegistry().Load(context.Background(), path)
}

// ParseFixture 解析 YAML fixture
func ParseFixture(data []byte) (*MemorySource, error) {
	var fx Fixture
	if err := yaml.Unmarshal(data, &fx); err != nil {
		return nil, fmt.Errorf("failed to parse fixture: %w", err)
	}
	src := NewMemorySource(fx.Name)
	for _, ft := range fx.Tables {
		if ft.Name == "" {
			return nil, fmt.Errorf("fixture table without name")
		}
		t := ft.Table
		t.Rows = make([]types.Value, 0, len(ft.Rows))
		for i := range ft.Rows {
			row, err := nodeToValue(&ft.Rows[i])
			if err != nil {
				return nil, fmt.Errorf("table %s row %d: %w", ft.Name, i, err)
			}
			if row.Kind() != types.KindMap {
				return nil, fmt.Errorf("table %s row %d: expected mapping", ft.Name, i)
			}
			t.Rows = append(t.Rows, row)
		}
		src.AddTable(t)
	}
	return src, nil
}

func nodeToValue(n *yaml.Node) (types.Value, error) {
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return types.Null(), nil
		}
		return nodeToValue(n.Content[0])
	case yaml.AliasNode:
		return nodeToValue(n.Alias)
	case yaml.MappingNode:
		keys := make([]string, 0, len(n.Content)/2)
		entries := make(map[string]types.Value, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k := n.Content[i].Value
			v, err := nodeToValue(n.Content[i+1])
			if err != nil {
				return types.Null(), err
			}
			if _, dup := entries[k]; !dup {
				keys = append(keys, k)
			}
			entries[k] = v
		}
		return types.OrderedMap(keys, entries), nil
	case yaml.SequenceNode:
		items := make([]types.Value, 0, len(n.Content))
		for _, c := range n.Content {
			v, err := nodeToValue(c)
			if err != nil {
				return types.Null(), err
			}
			items = append(items, v)
		}
		return types.List(items...), nil
	default:
		return scalarToValue(n)
	}
}

func scalarToValue(n *yaml.Node) (types.Value, error) {
	switch n.ShortTag() {
	case "!!null":
		return types.Null(), nil
	case "!!bool":
		var b bool
		if err := n.Decode(&b); err != nil {
			return types.Null(), err
		}
		return types.Bool(b), nil
	case "!!int":
		var i int64
		if err := n.Decode(&i); err != nil {
			return types.Null(), err
		}
		return types.Int(i), nil
	case "!!float":
		var f float64
		if err := n.Decode(&f); err != nil {
			return types.Null(), err
		}
		return types.Number(f), nil
	case "!!timestamp":
		var t time.Time
		if err := n.Decode(&t); err != nil {
			return types.Null(), err
		}
		return types.Timestamp(t), nil
	default:
		return types.String(n.Value), nil
	}
}
