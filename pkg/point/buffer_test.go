package point_test

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
	"pc-pipeline/pkg/schema"
)

func testSchema(t *testing.T) *schema.Schema {
	t.Helper()
	s := schema.New()
	assert.NoError(t, s.Append(schema.Dim("X", schema.Double)))
	assert.NoError(t, s.Append(schema.Dim("Intensity", schema.Uint16)))
	return s
}

func makeRow(x float64, intensity uint16) []byte {
	row := make([]byte, 10)
	binary.NativeEndian.PutUint64(row[0:8], math.Float64bits(x))
	binary.NativeEndian.PutUint16(row[8:10], intensity)
	return row
}

func TestBufferAppendAndRead(t *testing.T) {
	s := testSchema(t)
	buf := point.New(s, 3)

	assert.Equal(t, 10, buf.Stride())
	assert.Equal(t, 3, buf.Cap())
	assert.Equal(t, 0, buf.Len())

	assert.NoError(t, buf.AppendRow(makeRow(1.5, 42)))
	assert.NoError(t, buf.AppendRow(makeRow(-2.25, 7)))
	assert.Equal(t, 2, buf.Len())

	assert.Equal(t, makeRow(1.5, 42), buf.Row(0))
	assert.Equal(t, makeRow(-2.25, 7), buf.Row(1))

	x, err := buf.Float(1, "X")
	assert.NoError(t, err)
	assert.Equal(t, -2.25, x)

	i, err := buf.Float(0, "Intensity")
	assert.NoError(t, err)
	assert.Equal(t, 42.0, i)

	_, err = buf.Float(0, "Nope")
	assert.ErrorIs(t, err, pcerror.ErrFormat)
}

func TestBufferCapacityAndReset(t *testing.T) {
	s := testSchema(t)
	buf := point.New(s, 1)

	assert.NoError(t, buf.AppendRow(makeRow(1, 1)))
	err := buf.AppendRow(makeRow(2, 2))
	assert.ErrorIs(t, err, pcerror.ErrCapacity)

	buf.Reset()
	assert.Equal(t, 0, buf.Len())
	assert.Equal(t, 1, buf.Cap())
	assert.NoError(t, buf.AppendRow(makeRow(3, 3)))
}

func TestBufferRejectsWrongStride(t *testing.T) {
	s := testSchema(t)
	buf := point.New(s, 2)

	err := buf.AppendRow([]byte{1, 2, 3})
	assert.ErrorIs(t, err, pcerror.ErrFormat)
}
