package stream

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
	"pc-pipeline/pkg/schema"
)

// ArrowSource streams points out of Apache Arrow record batches, packing one
// row at a time into the point schema's byte layout. Every dimension of the
// schema must be backed by a column of the matching type; columns the schema
// does not name are ignored. The chunk-size hint is not used, the effective
// granularity is the caller's buffer capacity.
type ArrowSource struct {
	Cursor
	schema *schema.Schema
	recs   []arrow.RecordBatch
	colIdx []int
	starts []uint64
	total  uint64
	row    []byte
}

var (
	_ Sequential = (*ArrowSource)(nil)
	_ Random     = (*ArrowSource)(nil)
)

func NewArrowSource(s *schema.Schema, recs []arrow.RecordBatch) (*ArrowSource, error) {
	if len(recs) == 0 {
		return nil, fmt.Errorf("%w: no record batches", pcerror.ErrFormat)
	}
	as := recs[0].Schema()
	for _, rec := range recs[1:] {
		if !rec.Schema().Equal(as) {
			return nil, fmt.Errorf("%w: record batches carry differing schemas", pcerror.ErrFormat)
		}
	}

	colIdx := make([]int, s.Len())
	for i, d := range s.Dimensions() {
		colIdx[i] = -1
		for j, f := range as.Fields() {
			if f.Name != d.Name {
				continue
			}
			kind, err := kindForArrow(f.Type)
			if err != nil {
				return nil, err
			}
			if kind != d.Kind {
				return nil, fmt.Errorf("%w: column %q is %s, dimension expects %s",
					pcerror.ErrFormat, f.Name, f.Type, d.Kind)
			}
			colIdx[i] = j
			break
		}
		if colIdx[i] < 0 {
			return nil, fmt.Errorf("%w: no column for dimension %q", pcerror.ErrFormat, d.Name)
		}
	}

	src := &ArrowSource{
		schema: s,
		recs:   recs,
		colIdx: colIdx,
		starts: make([]uint64, len(recs)),
		row:    make([]byte, s.ByteSize()),
	}
	for i, rec := range recs {
		src.starts[i] = src.total
		src.total += uint64(rec.NumRows())
	}
	return src, nil
}

// Len is the total number of points across all record batches.
func (s *ArrowSource) Len() uint64 {
	return s.total
}

func (s *ArrowSource) Read(buf *point.Buffer) (int, error) {
	if buf.Stride() != int(s.schema.ByteSize()) {
		return 0, fmt.Errorf("%w: destination stride %d does not match schema stride %d",
			pcerror.ErrFormat, buf.Stride(), s.schema.ByteSize())
	}
	var n int
	for s.Index() < s.total && buf.Len() < buf.Cap() {
		ri := sort.Search(len(s.starts), func(i int) bool {
			return s.starts[i] > s.Index()
		}) - 1
		rec := s.recs[ri]
		rowInRec := int(s.Index() - s.starts[ri])
		if err := s.packRow(rec, rowInRec); err != nil {
			return n, err
		}
		if err := buf.AppendRow(s.row); err != nil {
			return n, err
		}
		s.Advance(1)
		n++
	}
	return n, nil
}

// Skip positions directly; the arrow rows stay untouched.
func (s *ArrowSource) Skip(count uint64) (uint64, error) {
	remaining := s.total - s.Index()
	if count > remaining {
		count = remaining
	}
	s.Advance(count)
	return count, nil
}

func (s *ArrowSource) AtEnd() bool {
	return s.Index() >= s.total
}

func (s *ArrowSource) Seek(position uint64) (uint64, error) {
	if position > s.total {
		position = s.total
	}
	s.MoveTo(position)
	return position, nil
}

func (s *ArrowSource) packRow(rec arrow.RecordBatch, row int) error {
	for i, d := range s.schema.Dimensions() {
		dst := s.row[s.schema.Offset(i) : s.schema.Offset(i)+d.Size]
		col := rec.Column(s.colIdx[i])
		switch col := col.(type) {
		case *array.Float64:
			binary.NativeEndian.PutUint64(dst, math.Float64bits(col.Value(row)))
		case *array.Float32:
			binary.NativeEndian.PutUint32(dst, math.Float32bits(col.Value(row)))
		case *array.Int64:
			binary.NativeEndian.PutUint64(dst, uint64(col.Value(row)))
		case *array.Int32:
			binary.NativeEndian.PutUint32(dst, uint32(col.Value(row)))
		case *array.Int16:
			binary.NativeEndian.PutUint16(dst, uint16(col.Value(row)))
		case *array.Int8:
			dst[0] = byte(col.Value(row))
		case *array.Uint64:
			binary.NativeEndian.PutUint64(dst, col.Value(row))
		case *array.Uint32:
			binary.NativeEndian.PutUint32(dst, col.Value(row))
		case *array.Uint16:
			binary.NativeEndian.PutUint16(dst, col.Value(row))
		case *array.Uint8:
			dst[0] = col.Value(row)
		default:
			return fmt.Errorf("%w: column %q has unsupported array type %T",
				pcerror.ErrFormat, d.Name, col)
		}
	}
	return nil
}

// SchemaFromArrow derives a point schema from an arrow schema. Only fixed
// width numeric columns can feed a point stream.
func SchemaFromArrow(as *arrow.Schema) (*schema.Schema, error) {
	s := schema.New()
	for _, f := range as.Fields() {
		kind, err := kindForArrow(f.Type)
		if err != nil {
			return nil, err
		}
		if err := s.Append(schema.Dim(f.Name, kind)); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func kindForArrow(t arrow.DataType) (schema.Kind, error) {
	switch t.(type) {
	case *arrow.Float64Type:
		return schema.Double, nil
	case *arrow.Float32Type:
		return schema.Float, nil
	case *arrow.Int64Type:
		return schema.Int64, nil
	case *arrow.Int32Type:
		return schema.Int32, nil
	case *arrow.Int16Type:
		return schema.Int16, nil
	case *arrow.Int8Type:
		return schema.Int8, nil
	case *arrow.Uint64Type:
		return schema.Uint64, nil
	case *arrow.Uint32Type:
		return schema.Uint32, nil
	case *arrow.Uint16Type:
		return schema.Uint16, nil
	case *arrow.Uint8Type:
		return schema.Uint8, nil
	}
	return 0, fmt.Errorf("%w: unsupported arrow type %s", pcerror.ErrFormat, t)
}
