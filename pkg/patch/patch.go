// Package patch turns one point buffer into the opaque binary record stored
// per row in the point-cloud table, and back.
//
// Wire layout: [endianFlag:1][schemaID:4][compression:4][pointCount:4]
// followed by the packed payload, the whole sequence hex-encoded for
// embedding in a textual column. The flag records the producer's byte order
// at encode time (1 little-endian, 0 big-endian); the three counters are
// serialized in that order. A consumer must honor the flag: the format does
// not normalize to a fixed wire order.
package patch

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
	"pc-pipeline/pkg/schema"
)

// Compression identifies how a patch payload is encoded. The header always
// records the compression actually applied to the payload, not the nominal
// preference registered in the catalog.
type Compression uint32

const (
	// None stores the packed rows as-is.
	None Compression = iota
	// Dimensional rearranges the payload column-major and LZ4-compresses
	// each dimension's bytes separately.
	Dimensional
	// Generic zstd-compresses the whole row-major payload.
	Generic
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case Dimensional:
		return "dimensional"
	case Generic:
		return "generic"
	}
	return fmt.Sprintf("compression(%d)", uint32(c))
}

// ParseCompression parses a configured compression preference.
func ParseCompression(s string) (Compression, error) {
	switch s {
	case "", "none":
		return None, nil
	case "dimensional":
		return Dimensional, nil
	case "generic":
		return Generic, nil
	}
	return 0, fmt.Errorf("%w: unknown compression %q", pcerror.ErrConfiguration, s)
}

// HeaderSize is the byte length of the patch header.
const HeaderSize = 13

// hostOrder is the producer's native byte order.
var hostOrder binary.ByteOrder = func() binary.ByteOrder {
	if binary.NativeEndian.Uint16([]byte{0x01, 0x00}) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}()

func orderIsLittle(order binary.ByteOrder) bool {
	return order.Uint16([]byte{0x01, 0x00}) == 1
}

// Patch is one decoded record.
type Patch struct {
	SchemaID    uint32
	Compression Compression
	NumPoints   uint32
	// Payload holds the uncompressed packed rows, pointCount rows of
	// packedWidth bytes each.
	Payload []byte
}

// Encoder encodes point buffers under a fixed per-patch capacity and
// compression preference.
type Encoder struct {
	capacity    uint32
	compression Compression
	order       binary.ByteOrder
}

type Option func(*Encoder)

// WithByteOrder overrides the byte order declared and used by the encoder.
// The default is the host's native order.
func WithByteOrder(order binary.ByteOrder) Option {
	return func(e *Encoder) { e.order = order }
}

// NewEncoder creates an encoder. A capacity of 0 disables the capacity
// check.
func NewEncoder(capacity uint32, compression Compression, opts ...Option) *Encoder {
	e := &Encoder{capacity: capacity, compression: compression, order: hostOrder}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode packs the buffer's non-ignored dimensions in packed-schema order,
// applies the configured compression and returns the hex-encoded record.
// A buffer holding more points than the configured capacity is rejected,
// never truncated.
func (e *Encoder) Encode(schemaID uint32, buf *point.Buffer) (string, error) {
	n := buf.Len()
	if e.capacity > 0 && uint32(n) > e.capacity {
		return "", fmt.Errorf("%w: buffer holds %d points, per-patch capacity is %d",
			pcerror.ErrCapacity, n, e.capacity)
	}

	s := buf.Schema()
	packedWidth := int(s.PackedSize())
	payload := make([]byte, 0, n*packedWidth)
	for i := 0; i < n; i++ {
		row := buf.Row(i)
		for j, d := range s.Dimensions() {
			if d.Ignored {
				continue
			}
			off := s.Offset(j)
			payload = append(payload, row[off:off+d.Size]...)
		}
	}

	payload, err := compressPayload(payload, s.Pack(), uint32(n), e.compression, e.order)
	if err != nil {
		return "", err
	}

	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	if orderIsLittle(e.order) {
		out[0] = 1
	}
	e.order.PutUint32(out[1:5], schemaID)
	e.order.PutUint32(out[5:9], uint32(e.compression))
	e.order.PutUint32(out[9:13], uint32(n))
	out = append(out, payload...)

	return hex.EncodeToString(out), nil
}

// Decode is the exact inverse of Encode. The packed schema must be the one
// the patch was encoded against; it sizes the rows and, for dimensionally
// compressed patches, the per-dimension columns.
func Decode(encoded string, packed *schema.Schema) (*Patch, error) {
	raw, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: patch is not valid hex: %v", pcerror.ErrFormat, err)
	}
	if len(raw) < HeaderSize {
		return nil, fmt.Errorf("%w: patch is %d bytes, header needs %d", pcerror.ErrFormat, len(raw), HeaderSize)
	}

	var order binary.ByteOrder
	switch raw[0] {
	case 1:
		order = binary.LittleEndian
	case 0:
		order = binary.BigEndian
	default:
		return nil, fmt.Errorf("%w: invalid endianness flag %d", pcerror.ErrFormat, raw[0])
	}

	p := &Patch{
		SchemaID:    order.Uint32(raw[1:5]),
		Compression: Compression(order.Uint32(raw[5:9])),
		NumPoints:   order.Uint32(raw[9:13]),
	}
	if p.Compression > Generic {
		return nil, fmt.Errorf("%w: unknown compression code %d", pcerror.ErrFormat, uint32(p.Compression))
	}

	payload, err := decompressPayload(raw[HeaderSize:], packed, p.NumPoints, p.Compression, order)
	if err != nil {
		return nil, err
	}
	if want := int(p.NumPoints) * int(packed.PackedSize()); len(payload) != want {
		return nil, fmt.Errorf("%w: payload is %d bytes, %d points of width %d need %d",
			pcerror.ErrFormat, len(payload), p.NumPoints, packed.PackedSize(), want)
	}
	p.Payload = payload
	return p, nil
}
