package stream

import (
	"fmt"

	"pc-pipeline/pkg/pcerror"
	"pc-pipeline/pkg/point"
)

// BufferSource iterates over an in-memory point buffer. It supports both
// sequential and random access; the chunk-size hint is ignored since rows
// are already materialized.
type BufferSource struct {
	Cursor
	src *point.Buffer
}

var (
	_ Sequential = (*BufferSource)(nil)
	_ Random     = (*BufferSource)(nil)
)

func NewBufferSource(src *point.Buffer) *BufferSource {
	return &BufferSource{src: src}
}

// Len is the total number of points in the source.
func (s *BufferSource) Len() uint64 {
	return uint64(s.src.Len())
}

func (s *BufferSource) Read(buf *point.Buffer) (int, error) {
	if buf.Stride() != s.src.Stride() {
		return 0, fmt.Errorf("%w: destination stride %d does not match source stride %d",
			pcerror.ErrFormat, buf.Stride(), s.src.Stride())
	}
	var n int
	for s.Index() < s.Len() && buf.Len() < buf.Cap() {
		if err := buf.AppendRow(s.src.Row(int(s.Index()))); err != nil {
			return n, err
		}
		s.Advance(1)
		n++
	}
	return n, nil
}

// Skip positions directly instead of reading the skipped points.
func (s *BufferSource) Skip(count uint64) (uint64, error) {
	remaining := s.Len() - s.Index()
	if count > remaining {
		count = remaining
	}
	s.Advance(count)
	return count, nil
}

func (s *BufferSource) AtEnd() bool {
	return s.Index() >= s.Len()
}

func (s *BufferSource) Seek(position uint64) (uint64, error) {
	if position > s.Len() {
		position = s.Len()
	}
	s.MoveTo(position)
	return position, nil
}
