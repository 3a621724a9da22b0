// Package schema describes the named, sized attributes of a point and their
// packed byte layout.
package schema

import (
	"fmt"

	"pc-pipeline/pkg/pcerror"
)

// Kind is the value interpretation of a dimension's bytes.
type Kind uint8

const (
	Int8 Kind = iota
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Int64
	Uint64
	Float
	Double
)

var kindNames = map[Kind]string{
	Int8:   "int8",
	Uint8:  "uint8",
	Int16:  "int16",
	Uint16: "uint16",
	Int32:  "int32",
	Uint32: "uint32",
	Int64:  "int64",
	Uint64: "uint64",
	Float:  "float",
	Double: "double",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Size returns the byte width implied by the interpretation.
func (k Kind) Size() uint32 {
	switch k {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float:
		return 4
	default:
		return 8
	}
}

// ParseKind parses the descriptor spelling of a kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown dimension kind %q", pcerror.ErrFormat, s)
}

// Dimension is one named attribute of a point.
//
// Parent is a lineage link to a same-named dimension in an ancestor schema,
// kept as an index into that schema's dimension table. It is a weak
// back-reference only, never an ownership relation; -1 means no parent.
type Dimension struct {
	Name     string
	Size     uint32
	Kind     Kind
	Ignored  bool
	Position int
	Parent   int
}

// Dim builds a dimension with the size implied by its kind and no parent.
func Dim(name string, kind Kind) Dimension {
	return Dimension{Name: name, Size: kind.Size(), Kind: kind, Parent: -1}
}

// Schema is an ordered sequence of dimensions. The order defines the packed
// byte layout of a point.
type Schema struct {
	dims    []Dimension
	byName  map[string]int
	offsets []uint32
	stride  uint32
}

func New() *Schema {
	return &Schema{byName: make(map[string]int)}
}

// Append adds a dimension at the end of the layout. The dimension's position
// is assigned from the append order.
func (s *Schema) Append(d Dimension) error {
	if d.Name == "" {
		return fmt.Errorf("%w: dimension has no name", pcerror.ErrConfiguration)
	}
	if _, ok := s.byName[d.Name]; ok {
		return fmt.Errorf("%w: duplicate dimension %q", pcerror.ErrConfiguration, d.Name)
	}
	if d.Size == 0 {
		return fmt.Errorf("%w: dimension %q has zero byte size", pcerror.ErrConfiguration, d.Name)
	}
	d.Position = len(s.dims)
	s.byName[d.Name] = d.Position
	s.offsets = append(s.offsets, s.stride)
	s.stride += d.Size
	s.dims = append(s.dims, d)
	return nil
}

// Dimension looks up a dimension by name.
func (s *Schema) Dimension(name string) (Dimension, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Dimension{}, false
	}
	return s.dims[i], true
}

// Dimensions returns the ordered dimension list.
func (s *Schema) Dimensions() []Dimension {
	return s.dims
}

func (s *Schema) Len() int {
	return len(s.dims)
}

// Offset returns the byte offset of dimension i within a full point row.
func (s *Schema) Offset(i int) uint32 {
	return s.offsets[i]
}

// ByteSize is the full row stride, ignored dimensions included.
func (s *Schema) ByteSize() uint32 {
	return s.stride
}

// PackedSize is the byte width of a point with ignored dimensions stripped.
func (s *Schema) PackedSize() uint32 {
	var n uint32
	for _, d := range s.dims {
		if !d.Ignored {
			n += d.Size
		}
	}
	return n
}

// Pack derives the packed form of the schema: ignored dimensions removed,
// positions renumbered from 0 and parent links cleared, since lineage across
// a stripped dimension is meaningless. The receiver is not mutated.
func (s *Schema) Pack() *Schema {
	packed := New()
	for _, d := range s.dims {
		if d.Ignored {
			continue
		}
		d.Parent = -1
		// Append renumbers the position.
		packed.Append(d)
	}
	return packed
}

// Equal reports structural equality: the packed forms have identical
// (name, byte width) sequences in the same order.
func (s *Schema) Equal(o *Schema) bool {
	a, b := s.Pack(), o.Pack()
	if len(a.dims) != len(b.dims) {
		return false
	}
	for i := range a.dims {
		if a.dims[i].Name != b.dims[i].Name || a.dims[i].Size != b.dims[i].Size {
			return false
		}
	}
	return true
}
