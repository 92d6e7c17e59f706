package memory

import (
	"fmt"
	"unsafe"

	"github.com/alphabill-org/linmem/trap"
)

/*
Allocator is the host buffer allocator backing linear memory regions.
  - Allocate returns zero initialized buffer of "size" bytes;
  - Resize returns buffer of "size" bytes which starts with the content of
    "buf", the bytes after len(buf) are not guaranteed to be zero. The returned
    buffer may be at different address than "buf";
  - Free releases the buffer.

Allocate and Resize return nil when the request can't be satisfied, in that
case the buffer passed to Resize must remain valid and unchanged. A non-nil
buffer returned by Resize replaces "buf", which must not be used afterwards.
*/
type Allocator interface {
	Allocate(size uint64) []byte
	Resize(buf []byte, size uint64) []byte
	Free(buf []byte)
}

/*
Region is the byte buffer backing linear memory of a module instance. The
region owns its buffer, zero value is an absent region (no memory has been
allocated yet).
*/
type Region struct {
	buf []byte
}

func (r *Region) Bytes() []byte { return r.buf }

func (r *Region) Len() uint64 { return uint64(len(r.buf)) }

func (r *Region) Pages() uint32 { return BytesToPages(uint64(len(r.buf))) }

// Absent returns true when no buffer has been allocated for the region yet.
func (r *Region) Absent() bool { return r.buf == nil }

/*
Base returns the address of the first byte of the region, zero for absent
region. Only to be used to detect relocation, never dereferenced.
*/
func (r *Region) Base() uintptr {
	if len(r.buf) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(r.buf)))
}

/*
Grow ensures the region is "newLen" bytes long and that all the bytes after
the current length are zero. Returns the length of the region before the
call.

Growth is all-or-nothing: when the allocator fails allocation failure trap
is returned and the region (length, address and content) is not changed.
The exception is allocator returning buffer of wrong length from Resize: the
old buffer may already have been freed so the returned buffer is freed too
and the region becomes absent, the content of the memory is lost.
*/
func (r *Region) Grow(alloc Allocator, newLen uint64) (oldLen uint64, err error) {
	oldLen = uint64(len(r.buf))
	switch {
	case newLen < oldLen:
		return oldLen, fmt.Errorf("region can't shrink from %d to %d bytes", oldLen, newLen)
	case newLen == oldLen:
		return oldLen, nil
	}

	if r.buf == nil {
		buf := alloc.Allocate(newLen)
		if buf == nil {
			return oldLen, trap.Raise(trap.AllocationFailure, "allocating %d bytes", newLen)
		}
		if uint64(len(buf)) != newLen {
			alloc.Free(buf)
			return oldLen, trap.Raise(trap.AllocationFailure, "allocator returned buffer of %d bytes, requested %d", len(buf), newLen)
		}
		verifyZeroed(buf, 0)
		r.buf = buf
		return oldLen, nil
	}

	buf := alloc.Resize(r.buf, newLen)
	if buf == nil {
		return oldLen, trap.Raise(trap.AllocationFailure, "resizing from %d to %d bytes", oldLen, newLen)
	}
	if uint64(len(buf)) != newLen {
		// r.buf is invalid once Resize returned non-nil buffer
		alloc.Free(buf)
		r.buf = nil
		return oldLen, trap.Raise(trap.AllocationFailure, "allocator returned buffer of %d bytes when resizing from %d to %d bytes, memory has been released", len(buf), oldLen, newLen)
	}
	// resize is not required to zero the new tail
	clear(buf[oldLen:])
	r.buf = buf
	return oldLen, nil
}

// Release frees the buffer of the region, the region becomes absent.
func (r *Region) Release(alloc Allocator) {
	if r.buf != nil {
		alloc.Free(r.buf)
		r.buf = nil
	}
}
