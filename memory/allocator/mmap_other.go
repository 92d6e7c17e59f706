//go:build !unix

package allocator

import "fmt"

// Mmap falls back to heap allocations with the reservation limit on platforms without mmap.
type Mmap struct {
	reserve uint64
	heap    Heap
}

func NewMmap(reserve uint64) *Mmap {
	return &Mmap{reserve: reserve}
}

func (a *Mmap) Allocate(size uint64) []byte {
	if size == 0 || size > a.reserve {
		return nil
	}
	return a.heap.Allocate(size)
}

func (a *Mmap) Resize(buf []byte, size uint64) []byte {
	if size > a.reserve {
		return nil
	}
	return a.heap.Resize(buf, size)
}

func (a *Mmap) Free(buf []byte) {}

func (a *Mmap) String() string {
	return fmt.Sprintf("mmap(reserve=%d)", a.reserve)
}
