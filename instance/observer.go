package instance

import (
	"sync/atomic"

	"github.com/alphabill-org/linmem/trap"
)

// MemoryUpdate describes the change of the memory region of an instance.
type MemoryUpdate struct {
	OldBase uintptr
	NewBase uintptr
	OldLen  uint64
	NewLen  uint64
}

// Relocated returns true when the region moved to a different address.
func (u MemoryUpdate) Relocated() bool {
	return u.OldBase != 0 && u.OldBase != u.NewBase
}

/*
MemoryObserver is implemented by the structures which cache the base address
or size of the memory of an instance (ie compiled code with embedded bounds
check constants). MemoryUpdated is called after successful growth, when the new
view of the memory has already been published, and when the memory of the
instance is released.

The observer is called while the instance is locked, it must not call back
into the instance.
*/
type MemoryObserver interface {
	MemoryUpdated(u MemoryUpdate)
}

/*
BoundsCache holds copy of the memory base and length as used by compiled code
for bounds checks. It must be registered as observer of the instance to stay
in sync with the memory.
*/
type BoundsCache struct {
	base atomic.Uintptr
	size atomic.Uint64
}

func (bc *BoundsCache) MemoryUpdated(u MemoryUpdate) {
	bc.base.Store(u.NewBase)
	bc.size.Store(u.NewLen)
}

func (bc *BoundsCache) Base() uintptr { return bc.base.Load() }

func (bc *BoundsCache) Len() uint64 { return bc.size.Load() }

/*
Check returns out of bounds trap when access to "n" bytes at "offset" is
outside of the memory described by the cache.
*/
func (bc *BoundsCache) Check(offset, n uint64) error {
	size := bc.size.Load()
	if offset > size || n > size-offset {
		return trap.Raise(trap.MemoryOutOfBounds, "accessing %d bytes at offset %d, memory size %d", n, offset, size)
	}
	return nil
}
