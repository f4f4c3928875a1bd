//go:build linux

package v4l2

import (
	"fmt"
	"sync"
	"syscall"
)

// Plane is one mmap'd memory plane of a frame buffer.
type Plane struct {
	mem    []byte
	length uint32
}

// Mem returns the mapped plane memory.
func (p *Plane) Mem() []byte {
	return p.mem
}

// Length returns the plane length in bytes.
func (p *Plane) Length() uint32 {
	return p.length
}

// Buffer is a single frame's memory plus completion metadata. A buffer
// handle refers to one slot of the pool that created it; the handle is
// owned by the caller while the underlying memory stays with the pool.
type Buffer struct {
	Index     int
	BytesUsed uint32
	Timestamp uint64
	Sequence  uint32
	Status    BufferStatus

	pool *BufferPool
}

// Planes returns the mapped memory planes of the buffer's pool slot.
func (b *Buffer) Planes() []Plane {
	return b.pool.planes(b.Index)
}

// Mem returns the first plane's mapped memory, which is the whole frame
// for single-planar formats.
func (b *Buffer) Mem() []byte {
	planes := b.Planes()
	if len(planes) == 0 {
		return nil
	}
	return planes[0].mem
}

// BufferPool owns a fixed-count set of frame buffers backed by memory the
// driver exported for one stream. Slots are index addressed; the pool
// conservatively tracks buffers queued in the kernel and refuses teardown
// while any is in flight.
type BufferPool struct {
	mu    sync.Mutex
	slots [][]Plane
	inUse map[int]*Buffer
}

// Count returns the number of buffer slots in the pool.
func (p *BufferPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots)
}

// InFlight returns the number of buffers currently queued in the kernel.
func (p *BufferPool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inUse)
}

// CreateBuffer hands out an owned buffer handle referring to slot index.
// It returns nil if the pool has no such slot.
func (p *BufferPool) CreateBuffer(index int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.slots) {
		return nil
	}

	return &Buffer{Index: index, pool: p}
}

func (p *BufferPool) planes(index int) []Plane {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index < 0 || index >= len(p.slots) {
		return nil
	}
	return p.slots[index]
}

// CreateBuffers installs count empty buffer slots. The owning video
// device fills the slots with exported memory; pools used without a
// device carry no mappings.
func (p *BufferPool) CreateBuffers(count int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.slots = make([][]Plane, count)
	p.inUse = make(map[int]*Buffer)
}

func (p *BufferPool) setPlanes(index int, planes []Plane) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.slots[index] = planes
}

// markQueued records a buffer as handed to the kernel.
func (p *BufferPool) markQueued(b *Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, queued := p.inUse[b.Index]; queued {
		return fmt.Errorf("buffer %d already queued: %w", b.Index, syscall.EBUSY)
	}
	p.inUse[b.Index] = b

	return nil
}

// markDequeued returns the buffer handle that was queued at index, or nil
// if the kernel returned a buffer the pool does not consider in flight.
func (p *BufferPool) markDequeued(index int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	b := p.inUse[index]
	delete(p.inUse, index)

	return b
}

// cancelQueued transitions every in-flight buffer out of the queued state
// without waiting for kernel completions. The cancelled handles are
// returned with their status set.
func (p *BufferPool) cancelQueued() []*Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	var cancelled []*Buffer
	for index, b := range p.inUse {
		b.Status = BufferCancelled
		cancelled = append(cancelled, b)
		delete(p.inUse, index)
	}

	return cancelled
}

// Release unmaps and drops all buffer memory. It fails with EBUSY while
// any buffer is still queued in the kernel.
func (p *BufferPool) Release() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.inUse) > 0 {
		return fmt.Errorf("%d buffers still queued: %w", len(p.inUse), syscall.EBUSY)
	}

	for _, planes := range p.slots {
		for i := range planes {
			if planes[i].mem != nil {
				_ = munmap(planes[i].mem)
			}
		}
	}
	p.slots = nil

	return nil
}
