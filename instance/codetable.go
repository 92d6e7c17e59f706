package instance

import (
	"fmt"
	"slices"
	"sort"
	"sync"
)

/*
CodeTable maps ranges of native code to the module instance the code has been
compiled for. It is used to find the owner of the memory when the only thing
known about the caller is the program counter of the call site.
*/
type CodeTable struct {
	mu     sync.RWMutex
	ranges []codeRange // sorted by start, non-overlapping
}

type codeRange struct {
	start, end uintptr // [start, end)
	owner      Handle
}

func NewCodeTable() *CodeTable {
	return &CodeTable{}
}

/*
Register records that code in the range [start, end) belongs to the instance "h".
The range must not overlap with any already registered range.
*/
func (ct *CodeTable) Register(start, end uintptr, h Handle) error {
	if start >= end {
		return fmt.Errorf("invalid code range [%#x, %#x)", start, end)
	}
	if h.IsZero() {
		return fmt.Errorf("invalid instance handle %s", h)
	}

	ct.mu.Lock()
	defer ct.mu.Unlock()
	// index of the first range which starts after "start"
	idx := sort.Search(len(ct.ranges), func(i int) bool { return ct.ranges[i].start > start })
	if idx > 0 && ct.ranges[idx-1].end > start {
		prev := ct.ranges[idx-1]
		return fmt.Errorf("code range [%#x, %#x) overlaps with [%#x, %#x) of instance %s", start, end, prev.start, prev.end, prev.owner)
	}
	if idx < len(ct.ranges) && ct.ranges[idx].start < end {
		next := ct.ranges[idx]
		return fmt.Errorf("code range [%#x, %#x) overlaps with [%#x, %#x) of instance %s", start, end, next.start, next.end, next.owner)
	}
	ct.ranges = slices.Insert(ct.ranges, idx, codeRange{start: start, end: end, owner: h})
	return nil
}

/*
Lookup returns handle of the instance which owns the code at "pc".
*/
func (ct *CodeTable) Lookup(pc uintptr) (Handle, bool) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	idx := sort.Search(len(ct.ranges), func(i int) bool { return ct.ranges[i].start > pc })
	if idx == 0 {
		return Handle{}, false
	}
	if r := ct.ranges[idx-1]; pc < r.end {
		return r.owner, true
	}
	return Handle{}, false
}

// unregister removes all the code ranges of the instance "h".
func (ct *CodeTable) unregister(h Handle) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.ranges = slices.DeleteFunc(ct.ranges, func(r codeRange) bool { return r.owner == h })
}
