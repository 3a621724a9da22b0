package stream

import (
	"fmt"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
)

// BlockSource exposes a random-access source at multi-point block
// granularity: positioning lands on block boundaries only, reading is
// unchanged.
type BlockSource struct {
	inner     Random
	blockSize uint64
}

var _ Block = (*BlockSource)(nil)

func NewBlockSource(inner Random, blockSize int) (*BlockSource, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", pcerror.ErrConfiguration, blockSize)
	}
	return &BlockSource{inner: inner, blockSize: uint64(blockSize)}, nil
}

func (s *BlockSource) Read(buf *point.Buffer) (int, error) {
	return s.inner.Read(buf)
}

func (s *BlockSource) Index() uint64 {
	return s.inner.Index()
}

func (s *BlockSource) ChunkSize() int {
	return s.inner.ChunkSize()
}

func (s *BlockSource) SetChunkSize(n int) {
	s.inner.SetChunkSize(n)
}

func (s *BlockSource) BlockSize() int {
	return int(s.blockSize)
}

// Seek moves to the block boundary nearest to, and not past, the requested
// position. When the inner source clamps the target to the stream length the
// result is floored again so the cursor still lands on a boundary.
func (s *BlockSource) Seek(position uint64) (uint64, error) {
	target := position / s.blockSize * s.blockSize
	got, err := s.inner.Seek(target)
	if err != nil {
		return got, err
	}
	if got != target {
		return s.inner.Seek(got / s.blockSize * s.blockSize)
	}
	return got, nil
}
