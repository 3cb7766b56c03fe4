package source

import (
	"context"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/entitygraph/types"
)

// =============================================================================
// 🍃 MongoDB 数据源
// =============================================================================

// MongoPrimaryKey 是 MongoDB 文档的主键字段
const MongoPrimaryKey = "_id"

// fieldInferenceSample 推断集合字段时读取的文档数
const fieldInferenceSample = 20

// MongoSource 将集合视为实体、文档视为记录
type MongoSource struct {
	db              *mongo.Database
	logger          *zap.Logger
	timestampFields []string
}

// NewMongoSource 创建 MongoDB 数据源
func NewMongoSource(db *mongo.Database, logger *zap.Logger, timestampFields ...string) *MongoSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(timestampFields) == 0 {
		timestampFields = DefaultTimestampFields
	}
	return &MongoSource{
		db:              db,
		logger:          logger.With(zap.String("component", "mongo_source")),
		timestampFields: timestampFields,
	}
}

// Name returns "mongo:<database>".
func (s *MongoSource) Name() string { return "mongo:" + s.db.Name() }

// Entities lists collection names, sorted.
func (s *MongoSource) Entities(ctx context.Context) ([]string, error) {
	names, err := s.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, s.wrap("", err)
	}
	sort.Strings(names)
	return names, nil
}

// ListFields infers fields from the first documents of the collection.
func (s *MongoSource) ListFields(ctx context.Context, entity string) ([]types.Field, error) {
	var docs []bson.D
	if err := s.find(ctx, entity, bson.D{}, fieldInferenceSample, nil, &docs); err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, unavailable(entity, "collection %q is empty", entity)
	}
	rows := make([]types.Value, len(docs))
	for i, d := range docs {
		rows[i] = fromBSON(d)
	}
	return inferFields(rows, MongoPrimaryKey), nil
}

// PrimaryKey is always _id.
func (s *MongoSource) PrimaryKey(_ context.Context, _ string) (string, error) {
	return MongoPrimaryKey, nil
}

// SampleValues projects field over the first n documents.
func (s *MongoSource) SampleValues(ctx context.Context, entity, field string, n int) ([]types.Value, error) {
	var docs []bson.D
	projection := bson.D{{Key: field, Value: 1}}
	if err := s.find(ctx, entity, bson.D{}, n, projection, &docs); err != nil {
		return nil, err
	}
	out := make([]types.Value, 0, len(docs))
	for _, d := range docs {
		v, _ := fromBSON(d).Get(field)
		out = append(out, v)
	}
	return out, nil
}

// SamplePrimaryKeys samples _id.
func (s *MongoSource) SamplePrimaryKeys(ctx context.Context, entity string, n int) ([]types.Value, error) {
	return s.SampleValues(ctx, entity, MongoPrimaryKey, n)
}

// FetchByKey finds a document by _id. uid may be an ObjectID hex, a number or a string.
func (s *MongoSource) FetchByKey(ctx context.Context, entity, uid string) (Record, error) {
	var doc bson.D
	err := s.db.Collection(entity).FindOne(ctx, keyFilter(MongoPrimaryKey, uidCandidates(uid))).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return Record{}, types.NewNotFoundError(entity, uid)
	}
	if err != nil {
		return Record{}, s.wrap(entity, err)
	}
	return s.record(entity, doc), nil
}

// FetchRelated finds documents whose localKey matches value.
func (s *MongoSource) FetchRelated(ctx context.Context, entity, localKey string, value types.Value, limit int) ([]Record, error) {
	if value.IsNull() || !value.IsScalar() || limit <= 0 {
		return nil, nil
	}
	var docs []bson.D
	if err := s.find(ctx, entity, keyFilter(localKey, valueCandidates(value)), limit, nil, &docs); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, s.record(entity, d))
	}
	return out, nil
}

func (s *MongoSource) find(ctx context.Context, entity string, filter bson.D, limit int, projection bson.D, out *[]bson.D) error {
	opts := options.Find().SetLimit(int64(limit))
	if projection != nil {
		opts.SetProjection(projection)
	}
	cur, err := s.db.Collection(entity).Find(ctx, filter, opts)
	if err != nil {
		return s.wrap(entity, err)
	}
	if err := cur.All(ctx, out); err != nil {
		return s.wrap(entity, err)
	}
	return nil
}

func (s *MongoSource) record(entity string, doc bson.D) Record {
	data := fromBSON(doc)
	id, _ := data.Get(MongoPrimaryKey)
	return Record{
		Entity:    entity,
		UID:       id.Key(),
		Data:      data,
		Timestamp: timestampOf(data, s.timestampFields),
	}
}

func (s *MongoSource) wrap(entity string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return types.NewError(types.ErrCancelled, "query cancelled").WithEntity(entity).WithCause(err)
	}
	s.logger.Warn("mongo query failed", zap.String("entity", entity), zap.Error(err))
	return types.NewTransportError(entity, err)
}

// =============================================================================
// 🔄 BSON 转换
// =============================================================================

// keyFilter 构造 {field: {$in: candidates}}，单候选时直接等值匹配
func keyFilter(field string, candidates []any) bson.D {
	if len(candidates) == 1 {
		return bson.D{{Key: field, Value: candidates[0]}}
	}
	return bson.D{{Key: field, Value: bson.D{{Key: "$in", Value: bson.A(candidates)}}}}
}

// uidCandidates 列出 uid 文本可能对应的 BSON 值：ObjectID、整数、原始字符串
func uidCandidates(uid string) []any {
	out := make([]any, 0, 3)
	if oid, err := bson.ObjectIDFromHex(uid); err == nil {
		out = append(out, oid)
	}
	if n, err := strconv.ParseInt(uid, 10, 64); err == nil {
		out = append(out, n, int32(n))
	}
	return append(out, uid)
}

func valueCandidates(v types.Value) []any {
	switch v.Kind() {
	case types.KindString:
		s, _ := v.AsString()
		out := make([]any, 0, 2)
		if oid, err := bson.ObjectIDFromHex(s); err == nil {
			out = append(out, oid)
		}
		return append(out, s)
	case types.KindNumber:
		n, _ := v.AsNumber()
		if n == float64(int64(n)) {
			return []any{int64(n), int32(n), n}
		}
		return []any{n}
	case types.KindBool:
		b, _ := v.AsBool()
		return []any{b}
	case types.KindTimestamp:
		t, _ := v.AsTime()
		return []any{bson.NewDateTimeFromTime(t)}
	default:
		return []any{v.Key()}
	}
}

// fromBSON 将解码后的 BSON 值转换为 Value，保留文档字段顺序
func fromBSON(x any) types.Value {
	switch t := x.(type) {
	case bson.D:
		keys := make([]string, 0, len(t))
		entries := make(map[string]types.Value, len(t))
		for _, e := range t {
			if _, dup := entries[e.Key]; !dup {
				keys = append(keys, e.Key)
			}
			entries[e.Key] = fromBSON(e.Value)
		}
		return types.OrderedMap(keys, entries)
	case bson.M:
		entries := make(map[string]types.Value, len(t))
		for k, e := range t {
			entries[k] = fromBSON(e)
		}
		return types.MapOf(entries)
	case bson.A:
		items := make([]types.Value, len(t))
		for i, e := range t {
			items[i] = fromBSON(e)
		}
		return types.List(items...)
	case bson.ObjectID:
		return types.String(t.Hex())
	case bson.DateTime:
		return types.Timestamp(t.Time())
	case bson.Timestamp:
		return types.Timestamp(time.Unix(int64(t.T), 0))
	case bson.Decimal128:
		return types.String(t.String())
	case bson.Binary:
		return types.String(hex.EncodeToString(t.Data))
	case bson.Null, bson.Undefined:
		return types.Null()
	default:
		return types.FromAny(x)
	}
}
