// Package treehash computes the SHA-256 tree hash used by Amazon S3 Glacier to verify archives.
//
// The object is cut into 1 MiB blocks, every block is hashed, and the digests are combined
// pairwise, level by level, until a single root digest remains.
package treehash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// BlockSize is the size of the leaf blocks. It does not depend on the upload part size.
const BlockSize = 1024 * 1024

var (
	// ErrNoBlocks is returned when a root is requested before any block was added.
	ErrNoBlocks = errors.New("tree hash has no blocks")
	// ErrMisalignedBlock is returned for a block that breaks the 1 MiB grid.
	ErrMisalignedBlock = errors.New("tree hash block is not aligned to 1 MiB")
)

// Accumulator collects leaf digests in stream order.
// An Accumulator describes exactly one object and must not be shared between uploads.
type Accumulator struct {
	digests [][]byte
	short   bool
}

// New ...
func New() *Accumulator {
	return &Accumulator{}
}

// AddBlock hashes one leaf block. Every block must be exactly BlockSize long except the
// last block of the object.
func (a *Accumulator) AddBlock(block []byte) error {
	if len(block) == 0 || len(block) > BlockSize {
		return fmt.Errorf("%w: block size %d", ErrMisalignedBlock, len(block))
	}
	if a.short {
		return fmt.Errorf("%w: block %d follows a short block", ErrMisalignedBlock, len(a.digests))
	}

	sum := sha256.Sum256(block)
	a.digests = append(a.digests, sum[:])
	a.short = len(block) < BlockSize

	return nil
}

// AddPart hashes every 1 MiB aligned block of an upload part, in order.
// Parts must start on a 1 MiB boundary of the object.
func (a *Accumulator) AddPart(part []byte) error {
	for len(part) > 0 {
		n := BlockSize
		if len(part) < n {
			n = len(part)
		}
		if err := a.AddBlock(part[:n]); err != nil {
			return err
		}
		part = part[n:]
	}
	return nil
}

// Blocks returns the number of leaf digests collected so far.
func (a *Accumulator) Blocks() int {
	return len(a.digests)
}

// Sum reduces the leaf digests to the root digest. The leaves are left untouched.
func (a *Accumulator) Sum() ([]byte, error) {
	if len(a.digests) == 0 {
		return nil, ErrNoBlocks
	}
	return reduce(a.digests), nil
}

// SumHex returns the root digest hex encoded, the form the Glacier API expects.
func (a *Accumulator) SumHex() (string, error) {
	sum, err := a.Sum()
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

// Writer cuts contiguous data into leaf blocks on the fly, regardless of how the data is
// split across Write calls.
type Writer struct {
	acc *Accumulator
	buf []byte
}

// NewWriter ...
func NewWriter() *Writer {
	return &Writer{acc: New(), buf: make([]byte, 0, BlockSize)}
}

func (w *Writer) Write(p []byte) (int, error) {
	written := len(p)
	for len(p) > 0 {
		n := BlockSize - len(w.buf)
		if n > len(p) {
			n = len(p)
		}
		w.buf = append(w.buf, p[:n]...)
		p = p[n:]

		if len(w.buf) == BlockSize {
			if err := w.acc.AddBlock(w.buf); err != nil {
				return 0, err
			}
			w.buf = w.buf[:0]
		}
	}
	return written, nil
}

// SumHex flushes the pending short block and returns the hex root digest.
func (w *Writer) SumHex() (string, error) {
	if len(w.buf) > 0 {
		if err := w.acc.AddBlock(w.buf); err != nil {
			return "", err
		}
		w.buf = w.buf[:0]
	}
	return w.acc.SumHex()
}

// Compute returns the hex tree hash of everything read from r.
func Compute(r io.Reader) (string, error) {
	w := NewWriter()
	if _, err := io.Copy(w, r); err != nil {
		return "", fmt.Errorf("read data: %w", err)
	}
	return w.SumHex()
}

func reduce(level [][]byte) []byte {
	for len(level) > 1 {
		next := make([][]byte, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			h := sha256.New()
			h.Write(level[i])
			h.Write(level[i+1])
			next = append(next, h.Sum(nil))
		}
		level = next
	}
	return level[0]
}
