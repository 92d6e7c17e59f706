package allocator

import "fmt"

const (
	NameHeap    = "heap"
	NameMmap    = "mmap"
	NameOffheap = "offheap"

	// address space reserved per buffer by the mmap allocator, enough for
	// the largest 32-bit linear memory.
	defaultReserve = 1 << 32
)

/*
ByName returns allocator by its configuration name. When "budget" is not zero
the allocator is wrapped into Limited allocator with that budget.
*/
func ByName(name string, budget uint64) (Allocator, error) {
	var alloc Allocator
	switch name {
	case "", NameHeap:
		alloc = NewHeapWithSpare(25)
	case NameMmap:
		alloc = NewMmap(defaultReserve)
	case NameOffheap:
		alloc = NewOffheap()
	default:
		return nil, fmt.Errorf("unknown allocator %q, expected one of: %s, %s, %s", name, NameHeap, NameMmap, NameOffheap)
	}
	if budget > 0 {
		alloc = NewLimited(alloc, budget)
	}
	return alloc, nil
}
