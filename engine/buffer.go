package engine

import (
	"sync"
)

// DefaultBufferSize is the copy buffer size used when none is configured.
const DefaultBufferSize = 1 * 1024 * 1024

// BufferPool hands out reusable copy buffers for cross-filesystem moves.
type BufferPool struct {
	pool sync.Pool
}

// NewBufferPool creates a BufferPool of size-byte buffers.
// If size is <= 0, DefaultBufferSize is used.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

func (bp *BufferPool) Get() *[]byte {
	return bp.pool.Get().(*[]byte)
}

func (bp *BufferPool) Put(b *[]byte) {
	if b != nil {
		bp.pool.Put(b)
	}
}
