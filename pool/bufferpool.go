// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// SlabPool implements api.BufferPool on top of the generic SyncPool defined
// in objpool.go, bucketing by power-of-two size class so a connection's
// small control-frame reads don't churn a pool sized for the largest
// payload it ever saw.

package pool

import (
	"sync"

	"github.com/corvidlabs/wsrelay/api"
)

type pooledBuffer struct {
	buf     []byte
	class   int
	release func(*pooledBuffer)
}

func (b *pooledBuffer) Bytes() []byte { return b.buf }

func (b *pooledBuffer) Release() {
	if b.release != nil {
		b.release(b)
	}
}

// SlabPool is a size-classed, goroutine-safe byte buffer pool.
type SlabPool struct {
	mu      sync.Mutex
	classes map[int]*SyncPool[*pooledBuffer]
}

// NewSlabPool constructs an empty SlabPool; size classes are created lazily
// on first Get.
func NewSlabPool() *SlabPool {
	return &SlabPool{classes: make(map[int]*SyncPool[*pooledBuffer])}
}

// Get returns a Buffer of at least size bytes, rounded up to the next
// power-of-two size class.
func (p *SlabPool) Get(size int) api.Buffer {
	class := nextPow2(size)
	sp := p.classFor(class)
	b := sp.Get()
	if cap(b.buf) < class {
		b.buf = make([]byte, class)
	}
	b.buf = b.buf[:size]
	b.release = func(x *pooledBuffer) { sp.Put(x) }
	return b
}

func (p *SlabPool) classFor(class int) *SyncPool[*pooledBuffer] {
	p.mu.Lock()
	defer p.mu.Unlock()
	sp, ok := p.classes[class]
	if ok {
		return sp
	}
	sp = NewSyncPool(func() *pooledBuffer {
		return &pooledBuffer{buf: make([]byte, class), class: class}
	})
	p.classes[class] = sp
	return sp
}

func nextPow2(n int) int {
	if n <= 64 {
		return 64
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
