package types

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Kind 标识 Value 的具体类型
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindTimestamp
	KindList
	KindMap
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindTimestamp:
		return "timestamp"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// TimestampLayout 是渲染与比较时使用的规范时间格式（UTC）
const TimestampLayout = time.RFC3339

// Value 是数据源记录的动态值（tagged union）。
// 零值为 Null。Map 保留插入顺序，保证渲染结果确定。
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	t    time.Time
	list []Value
	keys []string
	m    map[string]Value
}

// Null 返回空值
func Null() Value { return Value{} }

// Bool 构造布尔值
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number 构造数值
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// Int 构造整数数值
func Int(n int64) Value { return Value{kind: KindNumber, n: float64(n)} }

// String 构造字符串值
func String(s string) Value { return Value{kind: KindString, s: s} }

// Timestamp 构造时间值，统一转换为 UTC
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t.UTC()} }

// List 构造列表值
func List(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: KindList, list: cp}
}

// NewMap 构造空的有序 Map 值
func NewMap() Value {
	return Value{kind: KindMap, m: make(map[string]Value)}
}

// MapOf 从普通 map 构造 Map 值，键按字典序排列
func MapOf(entries map[string]Value) Value {
	v := NewMap()
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v.keys = append(v.keys, k)
		v.m[k] = entries[k]
	}
	return v
}

// OrderedMap 按给定键顺序构造 Map 值；不在 keys 中的条目按字典序追加到末尾
func OrderedMap(keys []string, entries map[string]Value) Value {
	v := NewMap()
	for _, k := range keys {
		if x, ok := entries[k]; ok {
			if _, dup := v.m[k]; dup {
				continue
			}
			v.keys = append(v.keys, k)
			v.m[k] = x
		}
	}
	var rest []string
	for k := range entries {
		if _, ok := v.m[k]; !ok {
			rest = append(rest, k)
		}
	}
	sort.Strings(rest)
	for _, k := range rest {
		v.keys = append(v.keys, k)
		v.m[k] = entries[k]
	}
	return v
}

// Set 返回设置了 key 的 Map 副本。已存在的 key 保持原位置。
// 对非 Map 值调用时先转换为空 Map。
func (v Value) Set(key string, val Value) Value {
	if v.kind != KindMap {
		v = NewMap()
	}
	out := Value{kind: KindMap, keys: make([]string, len(v.keys), len(v.keys)+1), m: make(map[string]Value, len(v.m)+1)}
	copy(out.keys, v.keys)
	for k, x := range v.m {
		out.m[k] = x
	}
	if _, exists := out.m[key]; !exists {
		out.keys = append(out.keys, key)
	}
	out.m[key] = val
	return out
}

// Kind returns the value kind.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is Null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsBool returns the bool payload.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsNumber returns the numeric payload.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == KindNumber }

// AsString returns the string payload.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsTime returns the timestamp payload.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTimestamp }

// Items returns list elements (nil for non-lists).
func (v Value) Items() []Value {
	if v.kind != KindList {
		return nil
	}
	return v.list
}

// Keys returns map keys in insertion order (nil for non-maps).
func (v Value) Keys() []string {
	if v.kind != KindMap {
		return nil
	}
	return v.keys
}

// Get looks up a map key.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	x, ok := v.m[key]
	return x, ok
}

// Len returns the number of list elements or map entries.
func (v Value) Len() int {
	switch v.kind {
	case KindList:
		return len(v.list)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// IsScalar reports whether v is neither a list nor a map.
func (v Value) IsScalar() bool {
	return v.kind != KindList && v.kind != KindMap
}

// Key 返回标量值的规范文本形式，用于身份比较（uid、重叠率计算）。
// 数值 1 与字符串 "1" 得到相同的 Key，便于跨数据源比较主键。
func (v Value) Key() string {
	switch v.kind {
	case KindNull:
		return ""
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return formatNumber(v.n)
	case KindString:
		return v.s
	case KindTimestamp:
		return v.t.Format(TimestampLayout)
	case KindList:
		return fmt.Sprintf("[%d items]", len(v.list))
	default:
		return fmt.Sprintf("{%d fields}", len(v.keys))
	}
}

// String implements fmt.Stringer with the canonical scalar form.
func (v Value) String() string { return v.Key() }

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		if len(v.keys) != len(o.keys) {
			return false
		}
		for i, k := range v.keys {
			if o.keys[i] != k || !v.m[k].Equal(o.m[k]) {
				return false
			}
		}
		return true
	}
}

func formatNumber(n float64) string {
	if math.IsInf(n, 0) || math.IsNaN(n) {
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
	if n == math.Trunc(n) && math.Abs(n) < 1e15 {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'f', -1, 64)
}

// =============================================================================
// 🔄 显式构造
// =============================================================================

// FromAny 将数据源返回的行/文档表示转换为 Value。
// 只处理已知类型（type switch），未知类型回退为 fmt 文本。
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Number(float64(t))
	case uint8:
		return Number(float64(t))
	case uint16:
		return Number(float64(t))
	case uint32:
		return Number(float64(t))
	case uint64:
		return Number(float64(t))
	case float32:
		return Number(float64(t))
	case float64:
		return Number(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return String(t.String())
		}
		return Number(f)
	case time.Time:
		return Timestamp(t)
	case *time.Time:
		if t == nil {
			return Null()
		}
		return Timestamp(*t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = FromAny(e)
		}
		return Value{kind: KindList, list: items}
	case []string:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = String(e)
		}
		return Value{kind: KindList, list: items}
	case map[string]any:
		entries := make(map[string]Value, len(t))
		for k, e := range t {
			entries[k] = FromAny(e)
		}
		return MapOf(entries)
	case fmt.Stringer:
		return String(t.String())
	default:
		return String(fmt.Sprint(t))
	}
}

// MarshalJSON 输出自然的 JSON 表示（Map 保留键顺序）
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		if math.IsInf(v.n, 0) || math.IsNaN(v.n) {
			return json.Marshal(formatNumber(v.n))
		}
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindTimestamp:
		return json.Marshal(v.t.Format(TimestampLayout))
	case KindList:
		return json.Marshal(v.list)
	default:
		buf := []byte{'{'}
		for i, k := range v.keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := v.m[k].MarshalJSON()
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	}
}

// UnmarshalJSON decodes arbitrary JSON into a Value. Object key order is not preserved
// (keys are sorted), timestamps arrive as strings.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*v = FromAny(raw)
	return nil
}
