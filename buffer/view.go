package buffer

import (
	"errors"
	"sync"
	"unsafe"

	"github.com/alphabill-org/linmem/trap"
)

var ErrDetached = errors.New("view is detached")

/*
View is non-owning view of the bytes of linear memory region. The view is
valid until it is released, after that every accessor reports the view as
detached. The region the view describes is owned by the module instance, the
view must not outlive it.
*/
type View struct {
	owner uint64
	reg   *Registry
	size  uint64 // length of the data at the time of acquiring

	mu       sync.RWMutex
	data     []byte
	detached bool
}

// Owner returns ID of the owner the view has been acquired for.
func (v *View) Owner() uint64 { return v.owner }

/*
Bytes returns the underlying memory or nil when the view is detached.
The returned slice is valid only until the view is released.
*/
func (v *View) Bytes() []byte {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data
}

func (v *View) Len() uint64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return uint64(len(v.data))
}

// Base returns address of the first byte of the memory, zero when view is detached or empty.
func (v *View) Base() uintptr {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.data) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(v.data)))
}

func (v *View) Detached() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.detached
}

/*
Read returns copy of "n" bytes starting at "offset".
*/
func (v *View) Read(offset uint64, n uint32) ([]byte, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.detached {
		return nil, ErrDetached
	}
	if !inBounds(offset, uint64(n), uint64(len(v.data))) {
		return nil, trap.Raise(trap.MemoryOutOfBounds, "reading %d bytes at offset %d, memory size %d", n, offset, len(v.data))
	}
	return append([]byte(nil), v.data[offset:offset+uint64(n)]...), nil
}

/*
Write copies "data" into the memory starting at "offset". Either all the
bytes are written or none.
*/
func (v *View) Write(offset uint64, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.detached {
		return ErrDetached
	}
	if !inBounds(offset, uint64(len(data)), uint64(len(v.data))) {
		return trap.Raise(trap.MemoryOutOfBounds, "writing %d bytes at offset %d, memory size %d", len(data), offset, len(v.data))
	}
	copy(v.data[offset:], data)
	return nil
}

/*
Release detaches the view from the memory and removes it from the registry.
Only the first call has an effect, subsequent calls return nil.
*/
func (v *View) Release() error {
	if !v.detach() {
		return nil
	}
	return v.reg.Unregister(v)
}

// detach returns false when the view has already been detached.
func (v *View) detach() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.detached {
		return false
	}
	v.detached = true
	v.data = nil
	return true
}

func inBounds(offset, n, size uint64) bool {
	return offset <= size && n <= size-offset
}
