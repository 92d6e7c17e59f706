package bumpallocator

import (
	"fmt"
	"math"

	"github.com/alphabill-org/linmem/memory"
)

// Alignment of the addresses returned by Alloc.
const Alignment = 8

// Memory is the linear memory the allocator carves the buffers from.
type Memory interface {
	// Size returns the size of the memory in bytes.
	Size() uint32
	// Grow grows the memory by "deltaPages" pages and returns the size of the
	// memory in pages before the call, ok is false when the memory can't grow.
	Grow(deltaPages uint32) (previousPages uint32, ok bool)
}

// MemInfo describes the limits of the memory.
type MemInfo interface {
	Max() (uint32, bool)
}

type Stats struct {
	AllocCount    uint64 `json:"alloc_count"`
	FreeCount     uint64 `json:"free_count"`
	AllocDataSize uint64 `json:"alloc_data_size"`
}

/*
BumpAllocator hands out buffers from the linear memory starting at the heap
base, buffers are never reused. When the memory is exhausted it is grown by
doubling its size (capped to the page limit of the memory).
*/
type BumpAllocator struct {
	heapBase     uint32
	freePtr      uint32
	arenaSize    uint32
	memPageLimit uint32
	stats        Stats
	errState     error
}

func New(heapBase uint32, info MemInfo) *BumpAllocator {
	return &BumpAllocator{
		heapBase:     heapBase,
		freePtr:      heapBase,
		memPageLimit: maxPages(info),
	}
}

func maxPages(info MemInfo) uint32 {
	if pages, encoded := info.Max(); encoded {
		return pages
	}
	return memory.MaxPages
}

// align rounds the address up to the next multiple of Alignment.
func align(addr uint64) uint64 {
	return (addr + Alignment - 1) &^ (Alignment - 1)
}

// addrToPage returns the number of pages needed to hold "addr" bytes.
func addrToPage(addr uint64) (uint32, error) {
	pages := (addr + memory.PageSize - 1) >> memory.PageSizeInBits
	if pages > memory.MaxPages {
		return 0, fmt.Errorf("address %d is out of memory pages", addr)
	}
	return uint32(pages), nil
}

/*
Alloc returns address of a buffer of "size" bytes. Once Alloc or Free has
failed the allocator stays in the error state and all subsequent calls fail.
*/
func (b *BumpAllocator) Alloc(mem Memory, size uint32) (ptr uint32, err error) {
	if b.errState != nil {
		return 0, b.errState
	}
	defer func() {
		if err != nil {
			b.errState = err
		}
	}()
	if err = b.monitorArenaSize(mem.Size()); err != nil {
		return 0, err
	}
	return b.bumpAlloc(mem, size)
}

func (b *BumpAllocator) Free(_ Memory, _ uint32) error {
	if b.errState != nil {
		return b.errState
	}
	b.stats.FreeCount++
	return nil
}

func (b *BumpAllocator) HeapBase() uint32 { return b.heapBase }

func (b *BumpAllocator) Stats() Stats { return b.stats }

func (b *BumpAllocator) monitorArenaSize(currentSize uint32) error {
	if b.arenaSize > currentSize && b.freePtr > currentSize {
		return fmt.Errorf("memory arena has shrunk unexpectedly from %d to %d bytes", b.arenaSize, currentSize)
	}
	b.arenaSize = currentSize
	return nil
}

func (b *BumpAllocator) bumpAlloc(mem Memory, size uint32) (uint32, error) {
	newFreePtr := align(uint64(b.freePtr) + uint64(size))
	if newFreePtr > math.MaxUint32 {
		return 0, fmt.Errorf("out of memory, can't allocate %d bytes", size)
	}

	if uint64(b.arenaSize) < newFreePtr {
		requiredPages, err := addrToPage(newFreePtr)
		if err != nil {
			return 0, fmt.Errorf("memory page allocation error: %w", err)
		}
		currentPages := mem.Size() >> memory.PageSizeInBits
		// double the memory if possible, but at least to the required size
		incPages := max(min(currentPages*2, b.memPageLimit), requiredPages)
		if _, ok := mem.Grow(incPages - currentPages); !ok {
			return 0, fmt.Errorf("linear memory grow error: from %d pages to %d pages", currentPages, incPages)
		}
		b.arenaSize = mem.Size()
		if pages := b.arenaSize >> memory.PageSizeInBits; pages != incPages {
			return 0, fmt.Errorf("memory has %d pages after growing from %d to %d pages", pages, currentPages, incPages)
		}
	}

	b.stats.AllocCount++
	b.stats.AllocDataSize += uint64(size)
	addr := b.freePtr
	b.freePtr = uint32(newFreePtr)
	return addr, nil
}
