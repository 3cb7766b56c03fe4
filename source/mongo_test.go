package source

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BaSui01/entitygraph/types"
)

func TestFromBSON_Document(t *testing.T) {
	oid := bson.NewObjectID()
	at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	doc := bson.D{
		{Key: "_id", Value: oid},
		{Key: "name", Value: "Alice"},
		{Key: "age", Value: int32(41)},
		{Key: "joined", Value: bson.NewDateTimeFromTime(at)},
		{Key: "tags", Value: bson.A{"a", int64(2)}},
		{Key: "address", Value: bson.D{{Key: "zip", Value: "10115"}, {Key: "city", Value: "Berlin"}}},
		{Key: "deleted", Value: nil},
	}

	v := fromBSON(doc)
	require.Equal(t, types.KindMap, v.Kind())
	assert.Equal(t, []string{"_id", "name", "age", "joined", "tags", "address", "deleted"}, v.Keys())

	id, _ := v.Get("_id")
	assert.Equal(t, oid.Hex(), id.Key())

	age, _ := v.Get("age")
	assert.Equal(t, "41", age.Key())

	joined, _ := v.Get("joined")
	ts, ok := joined.AsTime()
	require.True(t, ok)
	assert.True(t, at.Equal(ts))

	tags, _ := v.Get("tags")
	assert.Equal(t, 2, tags.Len())

	addr, _ := v.Get("address")
	assert.Equal(t, []string{"zip", "city"}, addr.Keys())

	deleted, _ := v.Get("deleted")
	assert.True(t, deleted.IsNull())
}

func TestFromBSON_Scalars(t *testing.T) {
	assert.True(t, fromBSON(bson.Null{}).IsNull())
	assert.Equal(t, "0a0b", fromBSON(bson.Binary{Data: []byte{0x0a, 0x0b}}).Key())

	m := fromBSON(bson.M{"b": 1, "a": "x"})
	assert.Equal(t, []string{"a", "b"}, m.Keys())
}

func TestUIDCandidates(t *testing.T) {
	oid := bson.NewObjectID()
	got := uidCandidates(oid.Hex())
	require.Len(t, got, 2)
	assert.Equal(t, oid, got[0])
	assert.Equal(t, oid.Hex(), got[1])

	assert.Equal(t, []any{int64(42), int32(42), "42"}, uidCandidates("42"))
	assert.Equal(t, []any{"alice"}, uidCandidates("alice"))
}

func TestValueCandidates(t *testing.T) {
	assert.Equal(t, []any{int64(3), int32(3), 3.0}, valueCandidates(types.Int(3)))
	assert.Equal(t, []any{2.5}, valueCandidates(types.Number(2.5)))
	assert.Equal(t, []any{"bob"}, valueCandidates(types.String("bob")))
	assert.Equal(t, []any{true}, valueCandidates(types.Bool(true)))
}

func TestKeyFilter(t *testing.T) {
	single := keyFilter("user_id", []any{"u1"})
	assert.Equal(t, bson.D{{Key: "user_id", Value: "u1"}}, single)

	multi := keyFilter("_id", []any{int64(1), "1"})
	assert.Equal(t, bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: bson.A{int64(1), "1"}}}}}, multi)
}
