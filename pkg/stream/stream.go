// Package stream is the pull protocol every pipeline stage uses to advance
// through a point stream. Iteration comes in exactly three shapes:
// sequential, random access and block access.
package stream

import (
	"pc-pipeline/pkg/point"
	"pc-pipeline/pkg/schema"
)

// DefaultChunkSize is the buffering-granularity hint a source starts with.
const DefaultChunkSize = 1024

// Iterator is the contract shared by all iteration modes.
//
// Read fills the caller-supplied buffer up to its capacity, advances the
// cursor by the count actually filled and returns it. A short count signals
// end of stream or a resource limit, not a failure; once the stream has
// ended Read keeps returning 0 with no side effects.
type Iterator interface {
	Read(buf *point.Buffer) (int, error)

	// Index is the cursor: the index of the next unread point.
	Index() uint64

	// ChunkSize is a buffering-granularity hint. Sources may ignore it
	// but must document the effective granularity they use.
	ChunkSize() int
	SetChunkSize(n int)
}

// Sequential is a forward-only stream. Once AtEnd reports true no further
// reads can produce points.
type Sequential interface {
	Iterator

	// Skip advances the cursor by up to count points without necessarily
	// materializing them, returning min(count, remaining).
	Skip(count uint64) (uint64, error)

	AtEnd() bool
}

// Random adds absolute positioning. Seek moves the cursor to an absolute
// point index clamped to [0, length] and returns the position reached;
// repeated seeks to the same position reproduce the same subsequent reads.
type Random interface {
	Iterator

	Seek(position uint64) (uint64, error)
}

// Block positions at multi-point block granularity: Seek moves to the block
// boundary nearest to, and not past, the requested position.
type Block interface {
	Iterator

	Seek(position uint64) (uint64, error)
	BlockSize() int
}

// Cursor is the shared iterator base: a monotonically advancing point index
// plus the chunk-size hint. Sources embed it and move it through Advance or,
// for random access, MoveTo.
type Cursor struct {
	index uint64
	chunk int
}

func (c *Cursor) Index() uint64 {
	return c.index
}

func (c *Cursor) ChunkSize() int {
	if c.chunk == 0 {
		return DefaultChunkSize
	}
	return c.chunk
}

func (c *Cursor) SetChunkSize(n int) {
	if n > 0 {
		c.chunk = n
	}
}

// Advance moves the cursor forward by n points.
func (c *Cursor) Advance(n uint64) {
	c.index += n
}

// MoveTo repositions the cursor absolutely. Only random and block access
// sources may move it backward.
func (c *Cursor) MoveTo(i uint64) {
	c.index = i
}

// NaiveSkip advances it by up to count points by reading into a scratch
// buffer and discarding the result. It is correct for any source but reads
// every skipped point; sources with a direct positioning mechanism should
// implement Skip themselves, preserving the min(count, remaining) contract.
func NaiveSkip(it Iterator, s *schema.Schema, count uint64) (uint64, error) {
	if count == 0 {
		return 0, nil
	}
	chunk := uint64(it.ChunkSize())
	if chunk > count {
		chunk = count
	}
	scratch := point.New(s, int(chunk))
	var skipped uint64
	for skipped < count {
		// Size the scratch buffer so the read never overshoots the request.
		if remaining := count - skipped; remaining < chunk {
			chunk = remaining
			scratch = point.New(s, int(chunk))
		}
		scratch.Reset()
		n, err := it.Read(scratch)
		if err != nil {
			return skipped, err
		}
		if n == 0 {
			break
		}
		skipped += uint64(n)
	}
	return skipped, nil
}
