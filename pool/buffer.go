// Package pool provides reusable scratch buffers for upload parts.
//
// A part buffer is owned by exactly one part at a time: it is acquired before the part is
// filled and released once the part was transmitted or the upload gave up on it.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// PartBuffers hands out buffers sized for one upload part.
type PartBuffers struct {
	partSize    int64
	pool        sync.Pool
	outstanding int64
}

// NewPartBuffers creates a pool of buffers able to hold partSize bytes without growing.
func NewPartBuffers(partSize int64) *PartBuffers {
	p := &PartBuffers{partSize: partSize}
	p.pool.New = func() interface{} {
		return new(bytes.Buffer)
	}
	return p
}

// Get returns an empty buffer with room for one part.
// The caller is responsible for calling Put once the buffer is no longer used.
func (p *PartBuffers) Get() *bytes.Buffer {
	buf := p.pool.Get().(*bytes.Buffer)
	buf.Reset()
	buf.Grow(int(p.partSize))
	atomic.AddInt64(&p.outstanding, 1)
	return buf
}

// Put releases a buffer acquired with Get. The buffer must not be used afterwards.
// Buffers that grew beyond the part size are dropped instead of being pooled.
func (p *PartBuffers) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	atomic.AddInt64(&p.outstanding, -1)
	if int64(buf.Cap()) > 2*p.partSize {
		return
	}
	buf.Reset()
	p.pool.Put(buf)
}

// Outstanding returns the number of buffers acquired but not yet released.
func (p *PartBuffers) Outstanding() int64 {
	return atomic.LoadInt64(&p.outstanding)
}
