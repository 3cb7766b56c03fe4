package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/entitygraph/types"
)

func TestShapeOf(t *testing.T) {
	tests := []struct {
		name  string
		value types.Value
		want  idShape
	}{
		{"int", types.Int(42), shapeInteger},
		{"integral float", types.Number(7), shapeInteger},
		{"fraction", types.Number(7.5), shapeNone},
		{"numeric string", types.String("1024"), shapeInteger},
		{"negative string", types.String("-3"), shapeInteger},
		{"plus sign", types.String("+3"), shapeNone},
		{"uuid", types.String("0b6f5f0e-8d0b-4c55-9a57-6b1f1f3f6a01"), shapeUUID},
		{"object id", types.String("65a1f0c2e4b0a1b2c3d4e5f6"), shapeHex},
		{"short hex", types.String("deadbeef"), shapeNone},
		{"word", types.String("shipped"), shapeNone},
		{"bool", types.Bool(true), shapeNone},
		{"timestamp", types.Timestamp(time.Unix(0, 0)), shapeNone},
		{"null", types.Null(), shapeNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shapeOf(tt.value), tt.want.String())
		})
	}
}

func TestDominantShape(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		shape, fraction := dominantShape(nil)
		assert.Equal(t, shapeNone, shape)
		assert.Zero(t, fraction)
	})

	t.Run("majority", func(t *testing.T) {
		shape, fraction := dominantShape([]types.Value{
			types.Int(1), types.Int(2), types.Int(3), types.String("n/a"),
		})
		assert.Equal(t, shapeInteger, shape)
		assert.InDelta(t, 0.75, fraction, 1e-9)
	})

	t.Run("tie prefers uuid", func(t *testing.T) {
		shape, fraction := dominantShape([]types.Value{
			types.Int(1),
			types.String("7c1d2e3f-4a5b-4c6d-8e7f-9a0b1c2d3e02"),
		})
		assert.Equal(t, shapeUUID, shape)
		assert.InDelta(t, 0.5, fraction, 1e-9)
	})

	t.Run("no identifiers", func(t *testing.T) {
		shape, fraction := dominantShape([]types.Value{types.String("a"), types.Bool(false)})
		assert.Equal(t, shapeNone, shape)
		assert.Zero(t, fraction)
	})
}
