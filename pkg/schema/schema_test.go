package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/schema"
)

func buildSchema(t *testing.T, dims ...schema.Dimension) *schema.Schema {
	t.Helper()
	s := schema.New()
	for _, d := range dims {
		assert.NoError(t, s.Append(d))
	}
	return s
}

func TestPackStripsIgnoredDimensions(t *testing.T) {
	s := buildSchema(t,
		schema.Dimension{Name: "A", Size: 4, Kind: schema.Float, Parent: -1},
		schema.Dimension{Name: "B", Size: 2, Kind: schema.Uint16, Ignored: true, Parent: 0},
		schema.Dimension{Name: "C", Size: 8, Kind: schema.Double, Parent: 1},
	)

	assert.Equal(t, uint32(14), s.ByteSize())
	assert.Equal(t, uint32(12), s.PackedSize())

	packed := s.Pack()
	assert.Equal(t, 2, packed.Len())

	a, ok := packed.Dimension("A")
	assert.True(t, ok)
	assert.Equal(t, 0, a.Position)
	assert.Equal(t, -1, a.Parent)

	c, ok := packed.Dimension("C")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Position)
	assert.Equal(t, -1, c.Parent)

	_, ok = packed.Dimension("B")
	assert.False(t, ok)
	assert.Equal(t, uint32(12), packed.PackedSize())

	// Packing must not mutate the input schema.
	assert.Equal(t, 3, s.Len())
	c2, _ := s.Dimension("C")
	assert.Equal(t, 2, c2.Position)
	assert.Equal(t, 1, c2.Parent)
}

func TestStructuralEquality(t *testing.T) {
	a := buildSchema(t,
		schema.Dim("X", schema.Double),
		schema.Dim("Y", schema.Double),
	)
	// Same packed layout, an extra ignored dimension and different parents.
	b := buildSchema(t,
		schema.Dim("X", schema.Double),
		schema.Dimension{Name: "Junk", Size: 2, Kind: schema.Int16, Ignored: true, Parent: 0},
		schema.Dim("Y", schema.Double),
	)
	assert.True(t, a.Equal(b))
	assert.True(t, b.Equal(a))

	// Same names, different width.
	c := buildSchema(t,
		schema.Dim("X", schema.Float),
		schema.Dim("Y", schema.Double),
	)
	assert.False(t, a.Equal(c))

	// Same widths, different order.
	d := buildSchema(t,
		schema.Dim("Y", schema.Double),
		schema.Dim("X", schema.Double),
	)
	assert.False(t, a.Equal(d))
}

func TestAppendRejectsBadDimensions(t *testing.T) {
	s := schema.New()
	assert.NoError(t, s.Append(schema.Dim("X", schema.Double)))

	err := s.Append(schema.Dim("X", schema.Float))
	assert.ErrorIs(t, err, pcerror.ErrConfiguration)

	err = s.Append(schema.Dimension{Name: "", Size: 4})
	assert.ErrorIs(t, err, pcerror.ErrConfiguration)

	err = s.Append(schema.Dimension{Name: "Z", Size: 0})
	assert.ErrorIs(t, err, pcerror.ErrConfiguration)
}

func TestDescriptorRoundTrip(t *testing.T) {
	s := buildSchema(t,
		schema.Dim("X", schema.Double),
		schema.Dim("Y", schema.Double),
		schema.Dim("Intensity", schema.Uint16),
	)

	text, err := schema.MarshalDescriptor(s, "dimensional")
	assert.NoError(t, err)

	parsed, meta, err := schema.ParseDescriptor(text)
	assert.NoError(t, err)
	assert.True(t, s.Equal(parsed))
	assert.Equal(t, "dimensional", meta[schema.CompressionKey])

	in, _ := s.Dimension("Intensity")
	out, ok := parsed.Dimension("Intensity")
	assert.True(t, ok)
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Size, out.Size)
	assert.Equal(t, in.Position, out.Position)
}

func TestParseDescriptorRejectsGarbage(t *testing.T) {
	_, _, err := schema.ParseDescriptor("{not json")
	assert.ErrorIs(t, err, pcerror.ErrFormat)

	_, _, err = schema.ParseDescriptor(`{"dimensions":[{"name":"X","size":8,"kind":"quux"}]}`)
	assert.ErrorIs(t, err, pcerror.ErrFormat)
}

func TestOffsets(t *testing.T) {
	s := buildSchema(t,
		schema.Dim("A", schema.Uint8),
		schema.Dim("B", schema.Uint32),
		schema.Dim("C", schema.Double),
	)
	assert.Equal(t, uint32(0), s.Offset(0))
	assert.Equal(t, uint32(1), s.Offset(1))
	assert.Equal(t, uint32(5), s.Offset(2))
	assert.Equal(t, uint32(13), s.ByteSize())
}
