// Package point holds the row-addressable buffer one streamed batch of
// points travels in.
package point

import (
	"encoding/binary"
	"fmt"
	"math"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/schema"
)

// Buffer is one streamed batch: a schema plus raw storage for up to a fixed
// number of points. Rows use the schema's full byte layout, ignored
// dimensions included; stripping happens at encode time.
type Buffer struct {
	schema *schema.Schema
	stride int
	data   []byte
	n      int
}

func New(s *schema.Schema, capacity int) *Buffer {
	stride := int(s.ByteSize())
	return &Buffer{
		schema: s,
		stride: stride,
		data:   make([]byte, 0, capacity*stride),
	}
}

func (b *Buffer) Schema() *schema.Schema {
	return b.schema
}

// Len is the number of points currently held.
func (b *Buffer) Len() int {
	return b.n
}

// Cap is the number of points the buffer can hold.
func (b *Buffer) Cap() int {
	if b.stride == 0 {
		return 0
	}
	return cap(b.data) / b.stride
}

// Stride is the byte width of one full row.
func (b *Buffer) Stride() int {
	return b.stride
}

// Row returns the raw bytes of point i.
func (b *Buffer) Row(i int) []byte {
	return b.data[i*b.stride : (i+1)*b.stride]
}

// AppendRow copies one full row into the buffer.
func (b *Buffer) AppendRow(row []byte) error {
	if len(row) != b.stride {
		return fmt.Errorf("%w: row is %d bytes, schema stride is %d", pcerror.ErrFormat, len(row), b.stride)
	}
	if b.n >= b.Cap() {
		return fmt.Errorf("%w: buffer full at %d points", pcerror.ErrCapacity, b.n)
	}
	b.data = append(b.data, row...)
	b.n++
	return nil
}

// Reset empties the buffer, keeping its storage.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.n = 0
}

// Float reads the named dimension of point row as a float64, decoding the
// raw bytes in the producer's native byte order.
func (b *Buffer) Float(row int, name string) (float64, error) {
	d, ok := b.schema.Dimension(name)
	if !ok {
		return 0, fmt.Errorf("%w: no dimension %q", pcerror.ErrFormat, name)
	}
	off := int(b.schema.Offset(d.Position))
	raw := b.Row(row)[off : off+int(d.Size)]
	if d.Kind.Size() != d.Size {
		return 0, fmt.Errorf("%w: dimension %q is %d bytes but kind %s implies %d",
			pcerror.ErrFormat, name, d.Size, d.Kind, d.Kind.Size())
	}
	switch d.Kind {
	case schema.Int8:
		return float64(int8(raw[0])), nil
	case schema.Uint8:
		return float64(raw[0]), nil
	case schema.Int16:
		return float64(int16(binary.NativeEndian.Uint16(raw))), nil
	case schema.Uint16:
		return float64(binary.NativeEndian.Uint16(raw)), nil
	case schema.Int32:
		return float64(int32(binary.NativeEndian.Uint32(raw))), nil
	case schema.Uint32:
		return float64(binary.NativeEndian.Uint32(raw)), nil
	case schema.Int64:
		return float64(int64(binary.NativeEndian.Uint64(raw))), nil
	case schema.Uint64:
		return float64(binary.NativeEndian.Uint64(raw)), nil
	case schema.Float:
		return float64(math.Float32frombits(binary.NativeEndian.Uint32(raw))), nil
	case schema.Double:
		return math.Float64frombits(binary.NativeEndian.Uint64(raw)), nil
	}
	return 0, fmt.Errorf("%w: dimension %q has unreadable kind %s", pcerror.ErrFormat, name, d.Kind)
}
