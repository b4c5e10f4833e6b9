// Package pool provides pooled byte buffers for the streaming paths.
package pool

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// CopyBufferSize is the chunk size of pooled copy buffers. One chunk is
// flushed to the client per write.
const CopyBufferSize = 32 << 10

// maxRetainedBuffer bounds what ByteBuffers keeps; larger buffers are left
// to the GC so a single big asset does not pin memory.
const maxRetainedBuffer = 4 << 20

// Pool is a generic object pool.
type Pool[T any] struct {
	pool  sync.Pool
	reset func(*T) bool

	// Metrics
	gets atomic.Int64
	puts atomic.Int64
	news atomic.Int64
}

// NewPool creates a new object pool. reset prepares an object for reuse
// and returns false when it should be dropped instead.
func NewPool[T any](newFunc func() T, reset func(*T) bool) *Pool[T] {
	p := &Pool[T]{reset: reset}
	p.pool.New = func() any {
		p.news.Add(1)
		return newFunc()
	}
	return p
}

// Get retrieves an object from the pool.
func (p *Pool[T]) Get() T {
	p.gets.Add(1)
	return p.pool.Get().(T)
}

// Put returns an object to the pool.
func (p *Pool[T]) Put(obj T) {
	if p.reset != nil && !p.reset(&obj) {
		return
	}
	p.puts.Add(1)
	p.pool.Put(obj)
}

// Stats returns pool statistics.
func (p *Pool[T]) Stats() Stats {
	return Stats{
		Gets: p.gets.Load(),
		Puts: p.puts.Load(),
		News: p.news.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Gets int64 `json:"gets"`
	Puts int64 `json:"puts"`
	News int64 `json:"news"`
}

// CopyBuffers hands out fixed-size chunks for io.CopyBuffer.
var CopyBuffers = NewPool(
	func() *[]byte {
		b := make([]byte, CopyBufferSize)
		return &b
	},
	func(b **[]byte) bool {
		return len(**b) == CopyBufferSize
	},
)

// ByteBuffers provides growable buffers for bounded in-memory reads.
var ByteBuffers = NewPool(
	func() *bytes.Buffer {
		return bytes.NewBuffer(make([]byte, 0, 64<<10))
	},
	func(b **bytes.Buffer) bool {
		if (*b).Cap() > maxRetainedBuffer {
			return false
		}
		(*b).Reset()
		return true
	},
)
