package source

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 📂 Fixture 加载器注册表
// =============================================================================

// FixtureLoader 把一个 fixture 文件读入内存数据源
type FixtureLoader interface {
	Load(ctx context.Context, path string) (*MemorySource, error)
	// SupportedTypes 返回处理的扩展名（含前导点）
	SupportedTypes() []string
}

// FixtureRegistry 按扩展名把 fixture 路由到对应的加载器。
// 路径为目录时加载其中所有已注册格式的文件并合并为一个数据源。
type FixtureRegistry struct {
	mu      sync.RWMutex
	loaders map[string]FixtureLoader
}

// NewFixtureRegistry 创建预置 YAML/JSON 与 CSV 加载器的注册表
func NewFixtureRegistry() *FixtureRegistry {
	r := &FixtureRegistry{loaders: make(map[string]FixtureLoader)}
	for _, l := range []FixtureLoader{YAMLFixtureLoader{}, NewCSVFixtureLoader(',')} {
		for _, ext := range l.SupportedTypes() {
			r.loaders[strings.ToLower(ext)] = l
		}
	}
	return r
}

// Register 添加或替换扩展名对应的加载器
func (r *FixtureRegistry) Register(ext string, l FixtureLoader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[strings.ToLower(ext)] = l
}

// SupportedTypes 返回所有已注册的扩展名（排序）
func (r *FixtureRegistry) SupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exts := make([]string, 0, len(r.loaders))
	for ext := range r.loaders {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

func (r *FixtureRegistry) loaderFor(path string) (FixtureLoader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[strings.ToLower(filepath.Ext(path))]
	return l, ok
}

// Load 加载文件或目录
func (r *FixtureRegistry) Load(ctx context.Context, path string) (*MemorySource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	if !info.IsDir() {
		l, ok := r.loaderFor(path)
		if !ok {
			return nil, fmt.Errorf("no fixture loader registered for %q", filepath.Ext(path))
		}
		return l.Load(ctx, path)
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture dir: %w", err)
	}
	src := NewMemorySource(filepath.Base(path))
	loaded := 0
	// ReadDir 已按文件名排序，同名表以后加载者为准
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		file := filepath.Join(path, e.Name())
		l, ok := r.loaderFor(file)
		if !ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := l.Load(ctx, file)
		if err != nil {
			return nil, err
		}
		src.merge(part)
		loaded++
	}
	if loaded == 0 {
		return nil, fmt.Errorf("fixture dir %s contains no loadable files", path)
	}
	return src, nil
}

// merge 把 o 的表复制到 s
func (s *MemorySource) merge(o *MemorySource) {
	o.mu.RLock()
	tables := make([]Table, 0, len(o.tables))
	for _, t := range o.tables {
		tables = append(tables, *t)
	}
	o.mu.RUnlock()
	for _, t := range tables {
		s.AddTable(t)
	}
}

// =============================================================================
// 📄 YAML / JSON
// =============================================================================

// YAMLFixtureLoader 加载 Fixture 结构的 YAML 文件；JSON 作为 YAML 的子集一并处理
type YAMLFixtureLoader struct{}

func (YAMLFixtureLoader) Load(ctx context.Context, path string) (*MemorySource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	src, err := ParseFixture(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return src, nil
}

func (YAMLFixtureLoader) SupportedTypes() []string {
	return []string{".yaml", ".yml", ".json"}
}

// =============================================================================
// 📊 CSV
// =============================================================================

// CSVFixtureLoader 把一个 CSV 文件加载为一张表：表名取文件名，首行为列名。
// 单元格按 整数、浮点、布尔、RFC3339 时间、字符串 的顺序推断类型，空单元格为 null。
type CSVFixtureLoader struct {
	delimiter rune
}

// NewCSVFixtureLoader 创建 CSV 加载器，delimiter 为 0 时使用 ','
func NewCSVFixtureLoader(delimiter rune) *CSVFixtureLoader {
	if delimiter == 0 {
		delimiter = ','
	}
	return &CSVFixtureLoader{delimiter: delimiter}
}

func (l *CSVFixtureLoader) Load(ctx context.Context, path string) (*MemorySource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv fixture: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = l.delimiter
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv fixture: parsing %s: %w", path, err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("csv fixture: %s has no header", path)
	}

	header := records[0]
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	rows := make([]types.Value, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := types.NewMap()
		for i, col := range header {
			row = row.Set(col, parseCell(rec[i]))
		}
		rows = append(rows, row)
	}

	return NewMemorySource(name).AddTable(Table{Name: name, Rows: rows}), nil
}

func (l *CSVFixtureLoader) SupportedTypes() []string {
	return []string{".csv"}
}

func parseCell(s string) types.Value {
	if s == "" {
		return types.Null()
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return types.Int(i)
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return types.Number(f)
	}
	switch s {
	case "true":
		return types.Bool(true)
	case "false":
		return types.Bool(false)
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return types.Timestamp(t)
	}
	return types.String(s)
}
