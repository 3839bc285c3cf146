package chunker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Result tells the caller what NextPart placed into the destination.
type Result int

const (
	// Complete means the destination holds exactly partSize bytes and more data may follow.
	Complete Result = iota
	// Final means the stream is exhausted and the destination holds the last, shorter part.
	Final
	// Exhausted means the stream is exhausted and nothing was written; no part must be emitted.
	Exhausted
)

func (r Result) String() string {
	switch r {
	case Complete:
		return "complete"
	case Final:
		return "final"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

var (
	// ErrContractViolation is wrapped by every error caused by invalid arguments.
	ErrContractViolation = errors.New("chunker contract violation")
	// ErrInvalidPartSize ...
	ErrInvalidPartSize = fmt.Errorf("%w: part size must be greater than 0", ErrContractViolation)
	// ErrNilDestination ...
	ErrNilDestination = fmt.Errorf("%w: destination is not set", ErrContractViolation)
	// ErrDestinationNotEmpty ...
	ErrDestinationNotEmpty = fmt.Errorf("%w: destination must be empty", ErrContractViolation)
	// ErrNilStream ...
	ErrNilStream = fmt.Errorf("%w: stream is not set", ErrContractViolation)
	// ErrCounterMismatch is returned by Verify when the bytes read and written differ.
	ErrCounterMismatch = errors.New("read and written byte counters differ")
)

// Chunker turns an irregular ByteStream into parts of a fixed size.
// Bytes pulled from the stream that do not fit into the current part are carried over to the
// next call. A Chunker belongs to exactly one stream and is not safe for concurrent use.
type Chunker struct {
	carry     []byte
	exhausted bool
	read      int64
	written   int64
}

// New ...
func New() *Chunker {
	return &Chunker{}
}

// NextPart fills the empty dst with the next part of at most partSize bytes.
func (c *Chunker) NextPart(stream ByteStream, partSize int64, dst *bytes.Buffer) (Result, error) {
	if partSize <= 0 {
		return Exhausted, ErrInvalidPartSize
	}
	if dst == nil {
		return Exhausted, ErrNilDestination
	}
	if dst.Len() != 0 {
		return Exhausted, ErrDestinationNotEmpty
	}
	if stream == nil {
		return Exhausted, ErrNilStream
	}

	if len(c.carry) > 0 {
		c.writeCarry(partSize, dst)
		if int64(dst.Len()) == partSize {
			return Complete, nil
		}
	}

	for !c.exhausted {
		buf, err := stream.Next()
		if errors.Is(err, io.EOF) {
			c.exhausted = true
			break
		}
		if err != nil {
			return Exhausted, fmt.Errorf("pull next buffer: %w", err)
		}
		if len(buf) == 0 {
			continue
		}
		c.read += int64(len(buf))

		room := partSize - int64(dst.Len())
		if int64(len(buf)) > room {
			c.write(dst, buf[:room])
			c.carry = append(c.carry[:0], buf[room:]...)
			return Complete, nil
		}

		c.write(dst, buf)
		if int64(dst.Len()) == partSize {
			return Complete, nil
		}
	}

	if dst.Len() == 0 {
		return Exhausted, nil
	}
	return Final, nil
}

// Read returns the number of bytes pulled from the stream so far.
func (c *Chunker) Read() int64 {
	return c.read
}

// Written returns the number of bytes placed into parts so far.
func (c *Chunker) Written() int64 {
	return c.written
}

// Pending returns the number of carried bytes not yet placed into a part.
func (c *Chunker) Pending() int {
	return len(c.carry)
}

// Verify checks that every byte pulled from the stream ended up in a part.
// It is meant to be called once NextPart returned Final or Exhausted.
func (c *Chunker) Verify() error {
	if c.read != c.written || len(c.carry) != 0 {
		return fmt.Errorf("%w: read %d, written %d, pending %d", ErrCounterMismatch, c.read, c.written, len(c.carry))
	}
	return nil
}

func (c *Chunker) writeCarry(partSize int64, dst *bytes.Buffer) {
	room := partSize - int64(dst.Len())
	if int64(len(c.carry)) > room {
		c.write(dst, c.carry[:room])
		c.carry = c.carry[room:]
		return
	}

	c.write(dst, c.carry)
	c.carry = c.carry[:0]
}

func (c *Chunker) write(dst *bytes.Buffer, p []byte) {
	// bytes.Buffer.Write never returns an error; it panics on out of memory.
	n, _ := dst.Write(p)
	c.written += int64(n)
}
