package engine

import (
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/experimental"

	wasmcapi "github.com/wippyai/wasm-capi"
)

// Allocator supplies the backing buffers of linear memories.
type Allocator = wasmcapi.Allocator

// MemoryAllocator adapts a to wazero's memory allocation hook.
func MemoryAllocator(a Allocator) experimental.MemoryAllocator {
	if a == nil {
		return nil
	}
	return experimental.MemoryAllocatorFunc(func(_, max uint64) experimental.LinearMemory {
		return &linearMemory{alloc: a, max: max}
	})
}

// allocError is raised when the initial buffer of a linear memory cannot be
// allocated. Instantiate recovers it.
type allocError struct {
	size uint64
}

func (e allocError) Error() string {
	return fmt.Sprintf("cannot allocate %d bytes of linear memory", e.size)
}

type linearMemory struct {
	alloc Allocator
	buf   []byte
	max   uint64
}

func (m *linearMemory) Reallocate(size uint64) []byte {
	if size > m.max {
		return nil
	}
	switch {
	case m.buf == nil:
		b := m.alloc.Malloc(size)
		if uint64(len(b)) < size {
			// wazero has no failure path for the initial allocation.
			panic(allocError{size: size})
		}
		m.buf = b[:size]
	case size <= uint64(cap(m.buf)):
		m.buf = m.buf[:size]
	default:
		b := m.alloc.Realloc(m.buf, size)
		if uint64(len(b)) < size {
			return nil
		}
		m.buf = b[:size]
	}
	return m.buf
}

func (m *linearMemory) Free() {
	if m.buf != nil {
		m.alloc.Free(m.buf[:cap(m.buf)])
		m.buf = nil
	}
}

// PoolAllocator hands out linear memory from a fixed byte budget shared by
// every instance of an engine.
type PoolAllocator struct {
	mu    sync.Mutex
	limit uint64
	used  uint64
}

// NewPoolAllocator creates a pool holding at most limit bytes.
func NewPoolAllocator(limit uint64) *PoolAllocator {
	return &PoolAllocator{limit: limit}
}

func (p *PoolAllocator) Malloc(size uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.used+size > p.limit {
		debugf("pool: malloc %d bytes refused (%d/%d in use)", size, p.used, p.limit)
		return nil
	}
	p.used += size
	return make([]byte, size)
}

func (p *PoolAllocator) Realloc(buf []byte, size uint64) []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := uint64(cap(buf))
	if size <= old {
		return buf[:size]
	}
	if p.used+size-old > p.limit {
		debugf("pool: realloc to %d bytes refused (%d/%d in use)", size, p.used, p.limit)
		return nil
	}
	p.used += size - old
	b := make([]byte, size)
	copy(b, buf)
	return b
}

func (p *PoolAllocator) Free(buf []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := uint64(cap(buf))
	if n > p.used {
		n = p.used
	}
	p.used -= n
}

// Used returns the number of bytes currently handed out.
func (p *PoolAllocator) Used() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.used
}

// Limit returns the pool size in bytes.
func (p *PoolAllocator) Limit() uint64 {
	return p.limit
}
