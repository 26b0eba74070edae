package collections

import (
	"sync"
)

// ============================================================================
// BufferPool - reusable fixed-size byte buffers
// ============================================================================

// BufferPool hands out byte slices of a fixed length. Scanners reading one
// page at a time use it to avoid allocating per page.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a pool of size-byte buffers. A non-positive size
// defaults to 4096.
func NewBufferPool(size int) *BufferPool {
	if size <= 0 {
		size = 4096
	}
	p := &BufferPool{size: size}
	p.pool.New = func() interface{} {
		b := make([]byte, size)
		return &b
	}
	return p
}

// Size returns the length of every buffer in the pool.
func (p *BufferPool) Size() int {
	return p.size
}

// Get returns a buffer of Size() bytes. Its contents are unspecified.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns b to the pool. Buffers of the wrong length are dropped.
func (p *BufferPool) Put(b *[]byte) {
	if b == nil || len(*b) != p.size {
		return
	}
	p.pool.Put(b)
}
