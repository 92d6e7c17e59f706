package allocator

import (
	"fmt"
	"math"
)

/*
Heap allocates linear memory buffers on the Go heap. Resize reuses the spare
capacity of the buffer when there is enough of it, otherwise the content is
moved to a new buffer, ie the address of the memory may change.
*/
type Heap struct {
	// growth factor for the capacity of the relocated buffer, in percents
	// of the requested size. Zero means no spare capacity is reserved.
	spare uint64
}

func NewHeap() *Heap {
	return &Heap{}
}

/*
NewHeapWithSpare returns heap allocator which reserves "percent" of extra
capacity when it has to move the buffer, so that subsequent small growth
requests can be served in place.
*/
func NewHeapWithSpare(percent uint64) *Heap {
	return &Heap{spare: percent}
}

func (h *Heap) Allocate(size uint64) []byte {
	if size > math.MaxInt {
		return nil
	}
	return make([]byte, size)
}

func (h *Heap) Resize(buf []byte, size uint64) []byte {
	if size > math.MaxInt {
		return nil
	}
	if size <= uint64(cap(buf)) {
		return buf[:size]
	}
	capacity := size + size*h.spare/100
	if capacity > math.MaxInt || capacity < size {
		capacity = size
	}
	nb := make([]byte, size, capacity)
	copy(nb, buf)
	return nb
}

// Free is a no-op, the garbage collector reclaims buffers.
func (h *Heap) Free([]byte) {}

func (h *Heap) String() string {
	return fmt.Sprintf("heap(spare=%d%%)", h.spare)
}
