package source

import (
	"context"
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/entitygraph/internal/database"
	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🗄️ SQL 数据源（GORM）
// =============================================================================

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// DefaultTimestampFields 记录时间戳的候选列，按优先级排列
var DefaultTimestampFields = []string{"updated_at", "created_at"}

// SQLSource 通过 GORM 读取关系型数据库中的表
type SQLSource struct {
	pool            *database.PoolManager
	logger          *zap.Logger
	primaryKeys     map[string]string
	timestampFields []string
	maxRetries      int

	mu     sync.RWMutex
	fields map[string][]types.Field
}

// SQLOption SQL 数据源选项
type SQLOption func(*SQLSource)

// WithPrimaryKeys 覆盖指定表的主键列
func WithPrimaryKeys(keys map[string]string) SQLOption {
	return func(s *SQLSource) {
		for k, v := range keys {
			s.primaryKeys[k] = v
		}
	}
}

// WithTimestampFields 设置时间戳候选列
func WithTimestampFields(fields ...string) SQLOption {
	return func(s *SQLSource) {
		if len(fields) > 0 {
			s.timestampFields = fields
		}
	}
}

// WithSQLLogger 设置日志
func WithSQLLogger(logger *zap.Logger) SQLOption {
	return func(s *SQLSource) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMaxRetries 设置可重试错误的最大尝试次数
func WithMaxRetries(n int) SQLOption {
	return func(s *SQLSource) { s.maxRetries = n }
}

// NewSQLSource 创建 SQL 数据源
func NewSQLSource(pool *database.PoolManager, opts ...SQLOption) *SQLSource {
	s := &SQLSource{
		pool:            pool,
		logger:          zap.NewNop(),
		primaryKeys:     make(map[string]string),
		timestampFields: DefaultTimestampFields,
		maxRetries:      3,
		fields:          make(map[string][]types.Field),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("component", "sql_source"))
	return s
}

// Name returns "sql:<dialect>".
func (s *SQLSource) Name() string {
	return "sql:" + s.pool.DB().Dialector.Name()
}

// Entities lists user tables, sorted.
func (s *SQLSource) Entities(ctx context.Context) ([]string, error) {
	var tables []string
	err := s.pool.WithRetry(ctx, s.maxRetries, func(db *gorm.DB) error {
		var err error
		tables, err = db.Migrator().GetTables()
		return err
	})
	if err != nil {
		return nil, s.wrap("", err)
	}
	out := tables[:0]
	for _, t := range tables {
		if strings.HasPrefix(t, "sqlite_") {
			continue
		}
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

// ListFields introspects column metadata. Results are cached per table.
func (s *SQLSource) ListFields(ctx context.Context, entity string) ([]types.Field, error) {
	if !identifierPattern.MatchString(entity) {
		return nil, unavailable(entity, "invalid table name %q", entity)
	}
	s.mu.RLock()
	cached, ok := s.fields[entity]
	s.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var cols []gorm.ColumnType
	err := s.pool.WithRetry(ctx, s.maxRetries, func(db *gorm.DB) error {
		if !db.Migrator().HasTable(entity) {
			return errUnknownTable
		}
		var err error
		cols, err = db.Migrator().ColumnTypes(entity)
		return err
	})
	if errors.Is(err, errUnknownTable) {
		return nil, unavailable(entity, "unknown entity %q", entity)
	}
	if err != nil {
		return nil, s.wrap(entity, err)
	}

	override := s.primaryKeys[entity]
	fields := make([]types.Field, 0, len(cols))
	hasPK := false
	for _, ct := range cols {
		f := types.Field{Name: ct.Name(), Type: mapSQLType(ct.DatabaseTypeName())}
		if nullable, ok := ct.Nullable(); ok {
			f.Nullable = nullable
		}
		if override != "" {
			f.PrimaryKey = f.Name == override
		} else if pk, ok := ct.PrimaryKey(); ok && pk {
			f.PrimaryKey = true
		}
		hasPK = hasPK || f.PrimaryKey
		fields = append(fields, f)
	}
	if !hasPK {
		for i := range fields {
			if fields[i].Name == "id" {
				fields[i].PrimaryKey = true
				break
			}
		}
	}

	s.mu.Lock()
	s.fields[entity] = fields
	s.mu.Unlock()
	return fields, nil
}

// PrimaryKey returns the first primary key column.
func (s *SQLSource) PrimaryKey(ctx context.Context, entity string) (string, error) {
	fields, err := s.ListFields(ctx, entity)
	if err != nil {
		return "", err
	}
	for _, f := range fields {
		if f.PrimaryKey {
			return f.Name, nil
		}
	}
	return "", unavailable(entity, "entity %q has no primary key", entity)
}

// SampleValues reads up to n values of field in random order.
func (s *SQLSource) SampleValues(ctx context.Context, entity, field string, n int) ([]types.Value, error) {
	fields, err := s.ListFields(ctx, entity)
	if err != nil {
		return nil, err
	}
	if !hasField(fields, field) {
		return nil, unavailable(entity, "unknown field %s.%s", entity, field)
	}
	rows, err := s.query(ctx, entity, fields, n, func(db *gorm.DB) *gorm.DB {
		return db.Select(db.Statement.Quote(field)).
			Order(clause.OrderBy{Expression: randomOrder(db.Dialector.Name())})
	})
	if err != nil {
		return nil, err
	}
	out := make([]types.Value, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.FromAny(row[field]))
	}
	return out, nil
}

// SamplePrimaryKeys samples the primary key column.
func (s *SQLSource) SamplePrimaryKeys(ctx context.Context, entity string, n int) ([]types.Value, error) {
	pk, err := s.PrimaryKey(ctx, entity)
	if err != nil {
		return nil, err
	}
	return s.SampleValues(ctx, entity, pk, n)
}

// FetchByKey loads one row by primary key.
func (s *SQLSource) FetchByKey(ctx context.Context, entity, uid string) (Record, error) {
	fields, err := s.ListFields(ctx, entity)
	if err != nil {
		if types.IsErrorCode(err, types.ErrSamplingUnavailable) {
			return Record{}, types.NewNotFoundError(entity, uid).WithCause(err)
		}
		return Record{}, err
	}
	pk := primaryKeyOf(fields)
	if pk == nil {
		return Record{}, types.NewNotFoundError(entity, uid)
	}
	arg := sqlKeyArg(*pk, uid)
	rows, err := s.query(ctx, entity, fields, 1, func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Eq{Column: clause.Column{Name: pk.Name}, Value: arg})
	})
	if err != nil {
		return Record{}, err
	}
	if len(rows) == 0 {
		return Record{}, types.NewNotFoundError(entity, uid)
	}
	return s.record(entity, fields, pk.Name, rows[0]), nil
}

// FetchRelated loads rows whose localKey equals value.
func (s *SQLSource) FetchRelated(ctx context.Context, entity, localKey string, value types.Value, limit int) ([]Record, error) {
	fields, err := s.ListFields(ctx, entity)
	if err != nil {
		return nil, err
	}
	if !hasField(fields, localKey) {
		return nil, unavailable(entity, "unknown field %s.%s", entity, localKey)
	}
	if value.IsNull() || !value.IsScalar() || limit <= 0 {
		return nil, nil
	}
	pk := primaryKeyOf(fields)
	if pk == nil {
		return nil, unavailable(entity, "entity %q has no primary key", entity)
	}
	arg := sqlArg(value)
	rows, err := s.query(ctx, entity, fields, limit, func(db *gorm.DB) *gorm.DB {
		return db.Where(clause.Eq{Column: clause.Column{Name: localKey}, Value: arg})
	})
	if err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, s.record(entity, fields, pk.Name, row))
	}
	return out, nil
}

var errUnknownTable = errors.New("unknown table")

func (s *SQLSource) query(ctx context.Context, entity string, fields []types.Field, limit int, scope func(*gorm.DB) *gorm.DB) ([]map[string]any, error) {
	var rows []map[string]any
	err := s.pool.WithRetry(ctx, s.maxRetries, func(db *gorm.DB) error {
		rows = nil
		q := scope(db.Table(entity))
		// scope 未指定排序时按主键排序，保证拉取顺序稳定
		_, ordered := q.Statement.Clauses[clause.OrderBy{}.Name()]
		if pk := primaryKeyOf(fields); pk != nil && !ordered {
			q = q.Order(clause.OrderByColumn{Column: clause.Column{Name: pk.Name}})
		}
		return q.Limit(limit).Find(&rows).Error
	})
	if err != nil {
		return nil, s.wrap(entity, err)
	}
	return rows, nil
}

// randomOrder 返回方言的随机排序函数，采样不偏向主键最小的行
func randomOrder(dialect string) clause.Expression {
	if dialect == "mysql" {
		return clause.Expr{SQL: "RAND()"}
	}
	return clause.Expr{SQL: "RANDOM()"}
}

func (s *SQLSource) record(entity string, fields []types.Field, pk string, row map[string]any) Record {
	keys := make([]string, 0, len(fields))
	entries := make(map[string]types.Value, len(row))
	for _, f := range fields {
		keys = append(keys, f.Name)
	}
	for k, v := range row {
		entries[k] = types.FromAny(v)
	}
	data := types.OrderedMap(keys, entries)
	uid, _ := data.Get(pk)
	return Record{
		Entity:    entity,
		UID:       uid.Key(),
		Data:      data,
		Timestamp: timestampOf(data, s.timestampFields),
	}
}

func (s *SQLSource) wrap(entity string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCancelled, "query cancelled").WithEntity(entity).WithCause(err)
	}
	s.logger.Warn("sql query failed", zap.String("entity", entity), zap.Error(err))
	return types.NewTransportError(entity, err)
}

func hasField(fields []types.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

func primaryKeyOf(fields []types.Field) *types.Field {
	for i := range fields {
		if fields[i].PrimaryKey {
			return &fields[i]
		}
	}
	return nil
}

// sqlKeyArg 将 uid 文本转换为与主键列类型匹配的参数
func sqlKeyArg(pk types.Field, uid string) any {
	if pk.Type == types.FieldTypeInteger {
		if n, err := strconv.ParseInt(uid, 10, 64); err == nil {
			return n
		}
	}
	return uid
}

func sqlArg(v types.Value) any {
	switch v.Kind() {
	case types.KindBool:
		b, _ := v.AsBool()
		return b
	case types.KindNumber:
		n, _ := v.AsNumber()
		if n == float64(int64(n)) {
			return int64(n)
		}
		return n
	case types.KindTimestamp:
		t, _ := v.AsTime()
		return t
	default:
		return v.Key()
	}
}

// mapSQLType 将数据库列类型名映射为字段类型
func mapSQLType(dbType string) types.FieldType {
	t := strings.ToUpper(dbType)
	switch {
	case t == "UUID":
		return types.FieldTypeUUID
	case strings.Contains(t, "INTERVAL"), strings.Contains(t, "POINT"):
		return types.FieldTypeUnknown
	case strings.Contains(t, "INT") || t == "SERIAL" || t == "BIGSERIAL":
		return types.FieldTypeInteger
	case strings.Contains(t, "BOOL"):
		return types.FieldTypeBoolean
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"),
		strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return types.FieldTypeFloat
	case strings.Contains(t, "TIME"), strings.Contains(t, "DATE"):
		return types.FieldTypeTimestamp
	case strings.Contains(t, "JSON"):
		return types.FieldTypeObject
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"):
		return types.FieldTypeString
	case strings.HasSuffix(t, "[]") || strings.HasPrefix(t, "_"):
		return types.FieldTypeArray
	default:
		return types.FieldTypeUnknown
	}
}
