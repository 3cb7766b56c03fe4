package source

import (
	"context"
	"sort"
	"sync"

	"github.com/BaSui01/entitygraph/types"
)

// Table 是内存数据源中的一张表
type Table struct {
	Name           string        `yaml:"name" json:"name"`
	PrimaryKey     string        `yaml:"primary_key" json:"primary_key"`
	TimestampField string        `yaml:"timestamp_field" json:"timestamp_field"`
	Fields         []types.Field `yaml:"fields" json:"fields"`
	Rows           []types.Value `yaml:"-" json:"rows"`
}

// MemorySource 是基于内存表的数据源，采样取前 n 行，结果完全确定。
// 用于 fixture 演示与测试。
type MemorySource struct {
	name   string
	mu     sync.RWMutex
	tables map[string]*Table
}

// NewMemorySource 创建内存数据源
func NewMemorySource(name string) *MemorySource {
	if name == "" {
		name = "memory"
	}
	return &MemorySource{name: name, tables: make(map[string]*Table)}
}

// AddTable 注册一张表。PrimaryKey 缺省为 "id"，Fields 缺省从行推断。
func (s *MemorySource) AddTable(t Table) *MemorySource {
	if t.PrimaryKey == "" {
		t.PrimaryKey = "id"
	}
	if len(t.Fields) == 0 {
		t.Fields = inferFields(t.Rows, t.PrimaryKey)
	}
	rows := make([]types.Value, len(t.Rows))
	copy(rows, t.Rows)
	t.Rows = rows

	s.mu.Lock()
	s.tables[t.Name] = &t
	s.mu.Unlock()
	return s
}

// Insert 追加行到已有表
func (s *MemorySource) Insert(entity string, rows ...types.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[entity]
	if !ok {
		return types.Errorf(types.ErrNotFound, "entity %q not registered", entity).WithEntity(entity)
	}
	t.Rows = append(t.Rows, rows...)
	return nil
}

// Name returns the source tag.
func (s *MemorySource) Name() string { return s.name }

// Entities returns table names sorted.
func (s *MemorySource) Entities(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tables))
	for n := range s.tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

// ListFields returns the declared or inferred fields.
func (s *MemorySource) ListFields(_ context.Context, entity string) ([]types.Field, error) {
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	out := make([]types.Field, len(t.Fields))
	copy(out, t.Fields)
	return out, nil
}

// PrimaryKey returns the table's primary key field.
func (s *MemorySource) PrimaryKey(_ context.Context, entity string) (string, error) {
	t, err := s.table(entity)
	if err != nil {
		return "", err
	}
	return t.PrimaryKey, nil
}

// SampleValues returns the field value of the first n rows (missing → Null).
func (s *MemorySource) SampleValues(ctx context.Context, entity, field string, n int) ([]types.Value, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Value, 0, min(n, len(t.Rows)))
	for _, row := range t.Rows {
		if len(out) >= n {
			break
		}
		v, _ := row.Get(field)
		out = append(out, v)
	}
	return out, nil
}

// SamplePrimaryKeys samples the primary key column.
func (s *MemorySource) SamplePrimaryKeys(ctx context.Context, entity string, n int) ([]types.Value, error) {
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	return s.SampleValues(ctx, entity, t.PrimaryKey, n)
}

// FetchByKey finds the row whose primary key matches uid.
func (s *MemorySource) FetchByKey(ctx context.Context, entity, uid string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	t, err := s.table(entity)
	if err != nil {
		return Record{}, types.NewNotFoundError(entity, uid).WithCause(err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, row := range t.Rows {
		if v, ok := row.Get(t.PrimaryKey); ok && !v.IsNull() && v.Key() == uid {
			return s.record(t, row), nil
		}
	}
	return Record{}, types.NewNotFoundError(entity, uid)
}

// FetchRelated returns rows whose localKey equals value, in insertion order.
func (s *MemorySource) FetchRelated(ctx context.Context, entity, localKey string, value types.Value, limit int) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t, err := s.table(entity)
	if err != nil {
		return nil, err
	}
	if value.IsNull() || limit <= 0 {
		return nil, nil
	}
	key := value.Key()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Record
	for _, row := range t.Rows {
		if len(out) >= limit {
			break
		}
		v, ok := row.Get(localKey)
		if !ok || v.IsNull() || !v.IsScalar() || v.Key() != key {
			continue
		}
		out = append(out, s.record(t, row))
	}
	return out, nil
}

func (s *MemorySource) table(entity string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[entity]
	if !ok {
		return nil, unavailable(entity, "unknown entity %q", entity)
	}
	return t, nil
}

func (s *MemorySource) record(t *Table, row types.Value) Record {
	pk, _ := row.Get(t.PrimaryKey)
	rec := Record{Entity: t.Name, UID: pk.Key(), Data: row}
	if t.TimestampField != "" {
		rec.Timestamp = timestampOf(row, []string{t.TimestampField})
	}
	return rec
}

// inferFields 按首次出现顺序合并所有行的键，类型取第一个非空值
func inferFields(rows []types.Value, pk string) []types.Field {
	var fields []types.Field
	index := make(map[string]int)
	for _, row := range rows {
		for _, k := range row.Keys() {
			v, _ := row.Get(k)
			i, seen := index[k]
			if !seen {
				index[k] = len(fields)
				fields = append(fields, types.Field{Name: k, Type: types.FieldTypeUnknown, PrimaryKey: k == pk})
				i = len(fields) - 1
			}
			if v.IsNull() {
				fields[i].Nullable = true
				continue
			}
			if fields[i].Type == types.FieldTypeUnknown {
				fields[i].Type = fieldTypeOf(v)
			}
		}
	}
	// 某些行缺失的字段视为可空
	for i := range fields {
		for _, row := range rows {
			if _, ok := row.Get(fields[i].Name); !ok {
				fields[i].Nullable = true
				break
			}
		}
	}
	return fields
}

func fieldTypeOf(v types.Value) types.FieldType {
	switch v.Kind() {
	case types.KindBool:
		return types.FieldTypeBoolean
	case types.KindNumber:
		n, _ := v.AsNumber()
		if n == float64(int64(n)) {
			return types.FieldTypeInteger
		}
		return types.FieldTypeFloat
	case types.KindString:
		return types.FieldTypeString
	case types.KindTimestamp:
		return types.FieldTypeTimestamp
	case types.KindList:
		return types.FieldTypeArray
	case types.KindMap:
		return types.FieldTypeObject
	default:
		return types.FieldTypeUnknown
	}
}
