package frame

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxBufferSize bounds the bytes held while waiting for a terminator.
const DefaultMaxBufferSize = 64 * 1024

// ErrBufferLimitExceeded is returned when unterminated data outgrows the buffer cap.
var ErrBufferLimitExceeded = errors.New("frame buffer limit exceeded")

// ReadFrame extracts the first terminated frame from data.
// Returns the frame (without terminator), the bytes after the terminator,
// and whether a terminator was found. An empty frame is valid.
func ReadFrame(data, terminator []byte) (frame []byte, remaining []byte, ok bool) {
	if len(terminator) == 0 {
		return nil, data, false
	}

	idx := bytes.Index(data, terminator)
	if idx < 0 {
		return nil, data, false
	}

	return data[:idx], data[idx+len(terminator):], true
}

// Accumulator collects arbitrarily chunked fragments and yields
// terminator-delimited frames one at a time.
type Accumulator struct {
	terminator []byte
	maxSize    int
	buf        []byte
}

// NewAccumulator creates an Accumulator for the given terminator.
// maxSize <= 0 selects DefaultMaxBufferSize.
func NewAccumulator(terminator []byte, maxSize int) *Accumulator {
	if maxSize <= 0 {
		maxSize = DefaultMaxBufferSize
	}
	return &Accumulator{
		terminator: append([]byte(nil), terminator...),
		maxSize:    maxSize,
	}
}

// Next appends fragment to the buffer and returns the first complete
// frame, if any. A terminator at the start of the buffer yields an empty
// frame. Frames beyond the first stay buffered for later calls; pass a nil
// fragment to drain them.
func (a *Accumulator) Next(fragment []byte) ([]byte, bool, error) {
	a.buf = append(a.buf, fragment...)

	if frame, remaining, ok := ReadFrame(a.buf, a.terminator); ok {
		// Copy out before the buffer is compacted underneath it.
		out := append([]byte{}, frame...)
		a.advance(remaining)
		return out, true, nil
	}

	if len(a.buf) > a.maxSize {
		n := len(a.buf)
		a.buf = a.buf[:0]
		return nil, false, fmt.Errorf("%w: %d bytes without terminator (limit %d)", ErrBufferLimitExceeded, n, a.maxSize)
	}

	return nil, false, nil
}

// advance drops everything before remaining from the buffer.
func (a *Accumulator) advance(remaining []byte) {
	n := copy(a.buf, remaining)
	a.buf = a.buf[:n]
}

// Buffered returns the number of bytes waiting for a terminator.
func (a *Accumulator) Buffered() int {
	return len(a.buf)
}

// Pending reports whether the buffer already holds another terminator.
func (a *Accumulator) Pending() bool {
	return bytes.Contains(a.buf, a.terminator)
}

// Reset discards any buffered data.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
}
