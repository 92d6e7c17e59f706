package allocator

import (
	"fmt"
	"sync"
)

// Allocator is the interface implemented by all the allocators of the package.
type Allocator interface {
	Allocate(size uint64) []byte
	Resize(buf []byte, size uint64) []byte
	Free(buf []byte)
}

/*
Limited enforces budget of bytes in use by all the buffers allocated through
it. Requests which would exceed the budget fail (return nil) without calling
the underlying allocator.
*/
type Limited struct {
	alloc  Allocator
	budget uint64

	mu    sync.Mutex
	inUse uint64
}

func NewLimited(alloc Allocator, budget uint64) *Limited {
	return &Limited{alloc: alloc, budget: budget}
}

func (l *Limited) Allocate(size uint64) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.fits(size) {
		return nil
	}
	buf := l.alloc.Allocate(size)
	if buf != nil {
		l.inUse += uint64(len(buf))
	}
	return buf
}

func (l *Limited) Resize(buf []byte, size uint64) []byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	oldLen := uint64(len(buf))
	if size > oldLen && !l.fits(size-oldLen) {
		return nil
	}
	nb := l.alloc.Resize(buf, size)
	if nb != nil {
		l.inUse = l.inUse - oldLen + uint64(len(nb))
	}
	return nb
}

func (l *Limited) Free(buf []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.inUse -= min(l.inUse, uint64(len(buf)))
	l.alloc.Free(buf)
}

// InUse returns number of bytes currently allocated through the allocator.
func (l *Limited) InUse() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inUse
}

func (l *Limited) fits(n uint64) bool {
	return l.inUse+n >= l.inUse && l.inUse+n <= l.budget
}

func (l *Limited) String() string {
	return fmt.Sprintf("limited(%v, budget=%d)", l.alloc, l.budget)
}
