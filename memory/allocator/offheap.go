package allocator

import (
	"math"
	"unsafe"

	"github.com/moontrade/unsafe/memory"
)

/*
Offheap allocates linear memory buffers outside of the Go heap. Resize is
realloc, the buffer may move and the bytes after the old length are not
zeroed. Buffers must be freed explicitly, the garbage collector doesn't see
them.
*/
type Offheap struct{}

func NewOffheap() *Offheap {
	return &Offheap{}
}

func (Offheap) Allocate(size uint64) []byte {
	if size == 0 || size > math.MaxInt {
		return nil
	}
	p := memory.Alloc(uintptr(size))
	if uintptr(p) == 0 {
		return nil
	}
	memory.Zero(unsafe.Pointer(uintptr(p)), uintptr(size))
	return toBytes(p, size)
}

func (Offheap) Resize(buf []byte, size uint64) []byte {
	if size > math.MaxInt {
		return nil
	}
	if cap(buf) == 0 {
		return Offheap{}.Allocate(size)
	}
	p := memory.Realloc(memory.Pointer(unsafe.Pointer(unsafe.SliceData(buf))), uintptr(size))
	if uintptr(p) == 0 {
		return nil
	}
	return toBytes(p, size)
}

func (Offheap) Free(buf []byte) {
	if cap(buf) == 0 {
		return
	}
	memory.Free(memory.Pointer(unsafe.Pointer(unsafe.SliceData(buf))))
}

func (Offheap) String() string { return NameOffheap }

func toBytes(p memory.Pointer, size uint64) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(p))), size)
}
