// Package chunker splits a single-pass byte stream into fixed size parts.
package chunker

import (
	"errors"
	"fmt"
	"io"
)

// ByteStream is a lazy, finite, single-pass sequence of byte buffers.
// Next returns io.EOF exactly once the stream is exhausted. Buffers may have any length,
// including zero, and must not be retained by the stream after they are returned.
type ByteStream interface {
	Next() ([]byte, error)
}

// DefaultReadSize is the buffer size used by ReaderStream when none is given.
const DefaultReadSize = 64 * 1024

type readerStream struct {
	reader io.Reader
	size   int
	done   bool
}

// NewReaderStream adapts an io.Reader to a ByteStream, reading at most bufSize bytes per buffer.
func NewReaderStream(r io.Reader, bufSize int) ByteStream {
	if bufSize <= 0 {
		bufSize = DefaultReadSize
	}
	return &readerStream{reader: r, size: bufSize}
}

func (s *readerStream) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.size)
	n, err := s.reader.Read(buf)
	if errors.Is(err, io.EOF) {
		s.done = true
		if n > 0 {
			return buf[:n], nil
		}
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read stream: %w", err)
	}

	return buf[:n], nil
}

type sliceStream struct {
	buffers [][]byte
	index   int
}

// NewSliceStream returns a ByteStream that yields the given buffers in order.
func NewSliceStream(buffers [][]byte) ByteStream {
	return &sliceStream{buffers: buffers}
}

func (s *sliceStream) Next() ([]byte, error) {
	if s.index >= len(s.buffers) {
		return nil, io.EOF
	}
	buf := s.buffers[s.index]
	s.index++
	return buf, nil
}
