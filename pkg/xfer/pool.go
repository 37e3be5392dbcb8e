// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package xfer

import (
	"context"
	"sort"
	"sync"

	sysinfo "github.com/elastic/go-sysinfo"
)

// DefaultPoolCapacity is the requested backing-region size used when
// Options.PoolCapacity is zero.
const DefaultPoolCapacity = 100 << 20 // 10^8 bytes, order of magnitude per spec §4.2

// allocatedBlock tracks one outstanding lease, sorted by startIndex.
type allocatedBlock struct {
	startIndex int64
	size       int64
}

// MemoryPool owns a single contiguous byte region of fixed capacity and
// lends non-overlapping sub-slices ("MemoryBlocks") to callers, reusing
// freed regions via a first-fit search over the sorted occupancy list
// (including holes between allocated blocks, not just before the first or
// after the last one). All operations are safe for concurrent use.
type MemoryPool struct {
	backing  []byte
	capacity int64

	mu        sync.Mutex
	allocated []allocatedBlock // sorted by startIndex, non-overlapping
	waiters   []chan struct{}  // FIFO queue of obtain() callers waiting for space
}

// NewMemoryPool creates a pool of the given requested capacity, clamped to
// at most 80% of currently free system memory (spec §4.2 "Sizing"). A
// requested value <= 0 uses DefaultPoolCapacity.
func NewMemoryPool(requested int64) *MemoryPool {
	if requested <= 0 {
		requested = DefaultPoolCapacity
	}
	cap := requested
	if free := freeSystemMemory(); free > 0 {
		if budget := int64(float64(free) * 0.8); budget < cap {
			cap = budget
		}
	}
	if cap <= 0 {
		cap = requested
	}
	return &MemoryPool{
		backing:  make([]byte, cap),
		capacity: cap,
	}
}

// freeSystemMemory returns the host's currently available memory in bytes,
// or 0 if it cannot be determined. Grounded on the same elastic/go-sysinfo
// host-memory probe used for sizing decisions elsewhere in the retrieval
// pack (docker/model-runner's pkg/inference/memory).
func freeSystemMemory() int64 {
	host, err := sysinfo.Host()
	if err != nil {
		return 0
	}
	mem, err := host.Memory()
	if err != nil {
		return 0
	}
	if mem.Available > 0 {
		return int64(mem.Available)
	}
	return int64(mem.Free)
}

// Capacity returns the pool's fixed backing-region size.
func (p *MemoryPool) Capacity() int64 {
	return p.capacity
}

// AvailableSize returns the capacity currently unallocated.
func (p *MemoryPool) AvailableSize() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity - p.allocatedTotalLocked()
}

func (p *MemoryPool) allocatedTotalLocked() int64 {
	var n int64
	for _, b := range p.allocated {
		n += b.size
	}
	return n
}

// findFreeSlotLocked performs a first-fit search over the sorted occupancy
// list: before the first block, between two adjacent blocks, or after the
// last block, whichever comes first with room for size bytes.
func (p *MemoryPool) findFreeSlotLocked(size int64) (int64, bool) {
	prevEnd := int64(0)
	for _, b := range p.allocated {
		if b.startIndex-prevEnd >= size {
			return prevEnd, true
		}
		prevEnd = b.startIndex + b.size
	}
	if p.capacity-prevEnd >= size {
		return prevEnd, true
	}
	return 0, false
}

func (p *MemoryPool) insertLocked(start, size int64) {
	i := sort.Search(len(p.allocated), func(i int) bool { return p.allocated[i].startIndex >= start })
	p.allocated = append(p.allocated, allocatedBlock{})
	copy(p.allocated[i+1:], p.allocated[i:])
	p.allocated[i] = allocatedBlock{startIndex: start, size: size}
}

func (p *MemoryPool) removeLocked(start int64) {
	for i, b := range p.allocated {
		if b.startIndex == start {
			p.allocated = append(p.allocated[:i], p.allocated[i+1:]...)
			return
		}
	}
}

// Obtain lends the lowest-indexed free slot large enough to hold size
// bytes, blocking until one becomes available or ctx is canceled. Every
// release wakes all current waiters at once and each retries the search, so
// the order in which waiters obtain freed space is not defined. Returns
// ErrOutOfMemoryPool immediately, without waiting, if size exceeds the
// pool's total capacity.
func (p *MemoryPool) Obtain(ctx context.Context, size int64) (*MemoryBlock, error) {
	if size > p.capacity {
		return nil, ErrOutOfMemoryPool
	}
	for {
		p.mu.Lock()
		if start, ok := p.findFreeSlotLocked(size); ok {
			p.insertLocked(start, size)
			p.mu.Unlock()
			return &MemoryBlock{
				pool:       p,
				startIndex: start,
				size:       size,
				view:       p.backing[start : start+size],
			}, nil
		}
		wake := make(chan struct{})
		p.waiters = append(p.waiters, wake)
		p.mu.Unlock()

		select {
		case <-wake:
			// A release happened; loop around and retry the search.
		case <-ctx.Done():
			p.dropWaiter(wake)
			return nil, ctx.Err()
		}
	}
}

func (p *MemoryPool) dropWaiter(ch chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == ch {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// release removes the block's allocation and wakes every waiter registered
// at that moment.
// Idempotent: releasing an already-released block (startIndex < 0) is a
// no-op.
func (p *MemoryPool) release(startIndex int64) {
	if startIndex < 0 {
		return
	}
	p.mu.Lock()
	p.removeLocked(startIndex)
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}
}

// MemoryBlock names a sub-region [startIndex, startIndex+size) of a
// MemoryPool's backing array. It is exclusively held by whoever obtained
// it until Release is called, after which the region becomes available
// again and the block's fields read as startIndex=-1, size=0, view=empty.
type MemoryBlock struct {
	pool *MemoryPool

	mu         sync.Mutex
	released   bool
	startIndex int64
	size       int64
	view       []byte
}

// StartIndex returns the block's offset into the pool's backing region, or
// -1 once released.
func (b *MemoryBlock) StartIndex() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startIndex
}

// Size returns the block's byte length, or 0 once released.
func (b *MemoryBlock) Size() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// View returns the block's backing slice, or nil once released. The slice
// aliases the pool's backing array and must not be retained past Release.
func (b *MemoryBlock) View() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.view
}

// Release returns the block's region to the pool. Idempotent: a second
// call is a no-op.
func (b *MemoryBlock) Release() {
	b.mu.Lock()
	if b.released {
		b.mu.Unlock()
		return
	}
	b.released = true
	start := b.startIndex
	b.startIndex = -1
	b.size = 0
	b.view = nil
	b.mu.Unlock()

	b.pool.release(start)
}
