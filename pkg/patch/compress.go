package patch

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/schema"
)

// Compressed kinds frame each unit as [rawSize:4][compSize:4][data], with
// compSize 0 marking a unit stored raw because compression did not shrink
// it. The two counters use the patch's declared byte order. Generic patches
// carry one zstd unit for the whole payload; dimensional patches carry one
// LZ4 unit per packed dimension, each holding that dimension's bytes for all
// points (column-major).
const blockHeaderSize = 8

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressPayload(payload []byte, packed *schema.Schema, numPoints uint32, kind Compression, order binary.ByteOrder) ([]byte, error) {
	switch kind {
	case None:
		return payload, nil
	case Generic:
		return appendBlock(nil, zstdEncoder.EncodeAll(payload, nil), payload, order), nil
	case Dimensional:
		out := make([]byte, 0, len(payload))
		for _, col := range splitColumns(payload, packed, numPoints) {
			compressed, err := compressLZ4(col)
			if err != nil {
				return nil, err
			}
			out = appendBlock(out, compressed, col, order)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown compression %q", pcerror.ErrConfiguration, kind)
}

func decompressPayload(data []byte, packed *schema.Schema, numPoints uint32, kind Compression, order binary.ByteOrder) ([]byte, error) {
	switch kind {
	case None:
		return data, nil
	case Generic:
		payload, rest, err := readBlock(data, order, true)
		if err != nil {
			return nil, err
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes after payload block", pcerror.ErrFormat, len(rest))
		}
		return payload, nil
	case Dimensional:
		cols := make([][]byte, 0, packed.Len())
		rest := data
		for range packed.Dimensions() {
			var col []byte
			var err error
			col, rest, err = readBlock(rest, order, false)
			if err != nil {
				return nil, err
			}
			cols = append(cols, col)
		}
		if len(rest) != 0 {
			return nil, fmt.Errorf("%w: %d trailing bytes after dimension blocks", pcerror.ErrFormat, len(rest))
		}
		return joinColumns(cols, packed, numPoints)
	}
	return nil, fmt.Errorf("%w: unknown compression code %d", pcerror.ErrFormat, uint32(kind))
}

// splitColumns rearranges a row-major payload into one byte column per
// packed dimension.
func splitColumns(payload []byte, packed *schema.Schema, numPoints uint32) [][]byte {
	width := int(packed.PackedSize())
	cols := make([][]byte, packed.Len())
	for i, d := range packed.Dimensions() {
		col := make([]byte, 0, int(numPoints)*int(d.Size))
		off := int(packed.Offset(i))
		for p := 0; p < int(numPoints); p++ {
			row := payload[p*width:]
			col = append(col, row[off:off+int(d.Size)]...)
		}
		cols[i] = col
	}
	return cols
}

func joinColumns(cols [][]byte, packed *schema.Schema, numPoints uint32) ([]byte, error) {
	width := int(packed.PackedSize())
	payload := make([]byte, int(numPoints)*width)
	for i, d := range packed.Dimensions() {
		size := int(d.Size)
		if len(cols[i]) != int(numPoints)*size {
			return nil, fmt.Errorf("%w: dimension %q column is %d bytes, expected %d",
				pcerror.ErrFormat, d.Name, len(cols[i]), int(numPoints)*size)
		}
		off := int(packed.Offset(i))
		for p := 0; p < int(numPoints); p++ {
			copy(payload[p*width+off:], cols[i][p*size:(p+1)*size])
		}
	}
	return payload, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compression failed: %w", err)
	}
	if n == 0 {
		// Incompressible; the block is stored raw.
		return nil, nil
	}
	return dst[:n], nil
}

// appendBlock frames one unit. A nil or non-shrinking compressed form falls
// back to storing the raw bytes with compSize 0.
func appendBlock(out, compressed, raw []byte, order binary.ByteOrder) []byte {
	var hdr [blockHeaderSize]byte
	order.PutUint32(hdr[0:4], uint32(len(raw)))
	if len(compressed) == 0 || len(compressed) >= len(raw) {
		order.PutUint32(hdr[4:8], 0)
		out = append(out, hdr[:]...)
		return append(out, raw...)
	}
	order.PutUint32(hdr[4:8], uint32(len(compressed)))
	out = append(out, hdr[:]...)
	return append(out, compressed...)
}

// readBlock decodes one framed unit and returns it with the remaining
// bytes.
func readBlock(data []byte, order binary.ByteOrder, useZstd bool) ([]byte, []byte, error) {
	if len(data) < blockHeaderSize {
		return nil, nil, fmt.Errorf("%w: truncated block header", pcerror.ErrFormat)
	}
	rawSize := int(order.Uint32(data[0:4]))
	compSize := int(order.Uint32(data[4:8]))
	body := data[blockHeaderSize:]

	if compSize == 0 {
		if len(body) < rawSize {
			return nil, nil, fmt.Errorf("%w: block holds %d bytes, expected %d", pcerror.ErrFormat, len(body), rawSize)
		}
		return body[:rawSize], body[rawSize:], nil
	}

	if len(body) < compSize {
		return nil, nil, fmt.Errorf("%w: block holds %d bytes, expected %d compressed", pcerror.ErrFormat, len(body), compSize)
	}
	compressed := body[:compSize]

	if useZstd {
		raw, err := zstdDecoder.DecodeAll(compressed, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: zstd payload: %v", pcerror.ErrFormat, err)
		}
		if len(raw) != rawSize {
			return nil, nil, fmt.Errorf("%w: zstd payload is %d bytes, header says %d", pcerror.ErrFormat, len(raw), rawSize)
		}
		return raw, body[compSize:], nil
	}

	raw := make([]byte, rawSize)
	n, err := lz4.UncompressBlock(compressed, raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: lz4 block: %v", pcerror.ErrFormat, err)
	}
	if n != rawSize {
		return nil, nil, fmt.Errorf("%w: lz4 block is %d bytes, header says %d", pcerror.ErrFormat, n, rawSize)
	}
	return raw, body[compSize:], nil
}
