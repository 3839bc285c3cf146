// Package partuploader transmits already materialized upload parts in parallel.
// It bounds the number of parts in flight, retries failed parts with backoff and detects
// hung transmissions. Every part knows its byte range up front, so the order in which
// transmissions finish does not matter.
package partuploader

import (
	"context"
	"fmt"
)

// Part is one contiguous slice of the uploaded object.
type Part struct {
	// Index is the zero based position of the part in the object.
	Index int
	// Start is the offset of the first byte of the part.
	Start int64
	// Data holds the part's bytes. It must stay valid until the part's done callback runs.
	Data []byte
}

// End returns the offset of the last byte of the part.
func (p Part) End() int64 {
	return p.Start + int64(len(p.Data)) - 1
}

// Size ...
func (p Part) Size() int64 {
	return int64(len(p.Data))
}

// String renders the part for log messages.
func (p Part) String() string {
	return fmt.Sprintf("part %d [%d-%d]", p.Index, p.Start, p.End())
}

// TransmitFunc sends one part to the remote store.
// It must honour ctx cancellation; it may be called several times for the same part.
type TransmitFunc func(ctx context.Context, part Part) error

// DoneFunc is called exactly once per submitted part, after its last transmission attempt.
// err is nil if the part was transmitted.
type DoneFunc func(part Part, err error)
