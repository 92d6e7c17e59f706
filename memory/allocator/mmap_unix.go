//go:build unix

package allocator

import (
	"fmt"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

var osPageSize = uint64(unix.Getpagesize())

/*
Mmap is non-moving allocator: every buffer reserves "reserve" bytes of address
space up front and commits memory as the buffer grows, so the address of the
buffer never changes. Resize beyond the reservation fails.
*/
type Mmap struct {
	reserve uint64

	mu       sync.Mutex
	mappings map[uintptr]*mapping
}

// The slice covers the entire mapping:
//   - len(buf) is the already committed memory,
//   - cap(buf) is the reserved address space.
type mapping struct {
	buf []byte
}

func NewMmap(reserve uint64) *Mmap {
	return &Mmap{
		reserve:  roundUp(reserve),
		mappings: make(map[uintptr]*mapping),
	}
}

func (a *Mmap) Allocate(size uint64) []byte {
	if size == 0 || size > a.reserve || a.reserve > math.MaxInt {
		return nil
	}
	// protected, private, anonymous mapping does not commit memory
	b, err := unix.Mmap(-1, 0, int(a.reserve), unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil
	}
	m := &mapping{buf: b[:0]}
	if err := m.commit(size); err != nil {
		_ = unix.Munmap(b)
		return nil
	}

	a.mu.Lock()
	a.mappings[baseOf(b)] = m
	a.mu.Unlock()
	return m.buf[:size:len(m.buf)]
}

func (a *Mmap) Resize(buf []byte, size uint64) []byte {
	a.mu.Lock()
	m, ok := a.mappings[baseOf(buf)]
	a.mu.Unlock()
	if !ok || size > uint64(cap(m.buf)) {
		return nil
	}
	if err := m.commit(size); err != nil {
		return nil
	}
	// limit capacity as bytes beyond len(m.buf) have not been committed
	return m.buf[:size:len(m.buf)]
}

func (a *Mmap) Free(buf []byte) {
	a.mu.Lock()
	m, ok := a.mappings[baseOf(buf)]
	delete(a.mappings, baseOf(buf))
	a.mu.Unlock()
	if ok {
		if err := unix.Munmap(m.buf[:cap(m.buf)]); err != nil {
			panic(fmt.Errorf("releasing memory mapping: %w", err))
		}
		m.buf = nil
	}
}

func (a *Mmap) String() string {
	return fmt.Sprintf("mmap(reserve=%d)", a.reserve)
}

func (m *mapping) commit(size uint64) error {
	committed := uint64(len(m.buf))
	if committed >= size {
		return nil
	}
	newLen := roundUp(size)
	if err := unix.Mprotect(m.buf[committed:newLen], unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("committing memory: %w", err)
	}
	m.buf = m.buf[:newLen]
	return nil
}

func roundUp(n uint64) uint64 {
	rnd := osPageSize - 1
	return (n + rnd) &^ rnd
}

func baseOf(b []byte) uintptr {
	if cap(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
