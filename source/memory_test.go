package source

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/entitygraph/types"
)

func row(kv ...any) types.Value {
	v := types.NewMap()
	for i := 0; i+1 < len(kv); i += 2 {
		v = v.Set(kv[i].(string), types.FromAny(kv[i+1]))
	}
	return v
}

func newShop() *MemorySource {
	created := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return NewMemorySource("shop").
		AddTable(Table{
			Name:           "users",
			TimestampField: "created_at",
			Rows: []types.Value{
				row("id", 1, "name", "Alice", "created_at", created),
				row("id", 2, "name", "Bob", "created_at", nil),
			},
		}).
		AddTable(Table{
			Name: "orders",
			Rows: []types.Value{
				row("id", 10, "user_id", 1, "total", 9.5),
				row("id", 11, "user_id", 1, "total", 20),
				row("id", 12, "user_id", 2),
				row("id", 13, "user_id", 1, "total", 3),
			},
		})
}

func TestMemorySource_Entities(t *testing.T) {
	names, err := newShop().Entities(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"orders", "users"}, names)
}

func TestMemorySource_InferFields(t *testing.T) {
	fields, err := newShop().ListFields(context.Background(), "orders")
	require.NoError(t, err)
	require.Len(t, fields, 3)

	assert.Equal(t, types.Field{Name: "id", Type: types.FieldTypeInteger, PrimaryKey: true}, fields[0])
	assert.Equal(t, types.Field{Name: "user_id", Type: types.FieldTypeInteger}, fields[1])
	// total 缺失于一行，且首个非空值为小数
	assert.Equal(t, types.Field{Name: "total", Type: types.FieldTypeFloat, Nullable: true}, fields[2])
}

func TestMemorySource_Sampling(t *testing.T) {
	src := newShop()
	ctx := context.Background()

	vals, err := src.SampleValues(ctx, "orders", "total", 3)
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.True(t, vals[2].IsNull())

	pks, err := src.SamplePrimaryKeys(ctx, "users", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2"}, []string{pks[0].Key(), pks[1].Key()})

	_, err = src.SampleValues(ctx, "missing", "id", 3)
	assert.Equal(t, types.ErrSamplingUnavailable, types.GetErrorCode(err))
}

func TestMemorySource_FetchByKey(t *testing.T) {
	src := newShop()
	ctx := context.Background()

	rec, err := src.FetchByKey(ctx, "users", "1")
	require.NoError(t, err)
	assert.Equal(t, "users", rec.Entity)
	assert.Equal(t, "1", rec.UID)
	assert.True(t, rec.HasTimestamp())
	assert.Equal(t, time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC), rec.Timestamp)

	rec, err = src.FetchByKey(ctx, "users", "2")
	require.NoError(t, err)
	assert.False(t, rec.HasTimestamp())

	_, err = src.FetchByKey(ctx, "users", "99")
	assert.True(t, types.IsNotFound(err))

	_, err = src.FetchByKey(ctx, "ghosts", "1")
	assert.True(t, types.IsNotFound(err))
}

func TestMemorySource_FetchRelated(t *testing.T) {
	src := newShop()
	ctx := context.Background()

	recs, err := src.FetchRelated(ctx, "orders", "user_id", types.Int(1), 10)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, []string{"10", "11", "13"}, []string{recs[0].UID, recs[1].UID, recs[2].UID})

	// 字符串 "1" 与数值 1 的 Key 相同
	recs, err = src.FetchRelated(ctx, "orders", "user_id", types.String("1"), 2)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = src.FetchRelated(ctx, "orders", "user_id", types.Null(), 10)
	require.NoError(t, err)
	assert.Empty(t, recs)

	ctxCancel, cancel := context.WithCancel(ctx)
	cancel()
	_, err = src.FetchRelated(ctxCancel, "orders", "user_id", types.Int(1), 10)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySource_Insert(t *testing.T) {
	src := newShop()
	require.NoError(t, src.Insert("users", row("id", 3, "name", "Carol")))

	rec, err := src.FetchByKey(context.Background(), "users", "3")
	require.NoError(t, err)
	name, _ := rec.Data.Get("name")
	assert.Equal(t, "Carol", name.Key())

	err = src.Insert("ghosts", row("id", 1))
	assert.True(t, types.IsNotFound(err))
}
