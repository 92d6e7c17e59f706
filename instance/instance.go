package instance

import (
	"sync"

	"github.com/alphabill-org/linmem/buffer"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/trap"
)

/*
Instance is a module instance with single linear memory. Instances are created
and owned by the Store, other components refer to them by Handle.
*/
type Instance struct {
	h      Handle
	name   string
	limits memory.Limits

	// guards the fields below; the growth operator holds it for the
	// whole duration of the operation.
	mu        sync.Mutex
	region    memory.Region
	view      *buffer.View
	observers []MemoryObserver
	closed    bool
}

func (inst *Instance) Handle() Handle { return inst.h }

func (inst *Instance) Name() string { return inst.name }

func (inst *Instance) Limits() memory.Limits { return inst.limits }

// Pages returns current size of the memory in pages.
func (inst *Instance) Pages() uint32 {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.region.Pages()
}

/*
Memory returns the live view of the memory of the instance, nil when memory
hasn't been allocated yet. The view is detached when the memory grows so
callers shouldn't hold on to it.
*/
func (inst *Instance) Memory() *buffer.View {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	return inst.view
}

/*
AddObserver registers observer to be notified about changes of the memory.
The observer is immediately called with the current state of the memory.
*/
func (inst *Instance) AddObserver(o MemoryObserver) {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	inst.observers = append(inst.observers, o)
	o.MemoryUpdated(MemoryUpdate{NewBase: inst.region.Base(), NewLen: inst.region.Len()})
}

/*
handoff replaces the live view of the instance with the view of the current
region and notifies observers about the change. It can't fail, publishable
must have been checked before the region was modified.
Must be called while holding the lock of the instance.
*/
func (inst *Instance) handoff(reg *buffer.Registry, u MemoryUpdate) {
	inst.view = reg.Replace(inst.view, inst.h.ID(), inst.region.Bytes())
	for _, o := range inst.observers {
		o.MemoryUpdated(u)
	}
}

/*
discard drops the view of the memory which has been lost, the memory of the
instance is absent afterwards. Must be called while holding the lock of the
instance.
*/
func (inst *Instance) discard(reg *buffer.Registry, u MemoryUpdate) {
	reg.Retire(inst.view)
	inst.view = nil
	for _, o := range inst.observers {
		o.MemoryUpdated(u)
	}
}

// publishable checks that the registry lets the instance replace its live view.
func (inst *Instance) publishable(reg *buffer.Registry) error {
	if err := reg.CanReplace(inst.h.ID(), inst.view); err != nil {
		return trap.Wrap(trap.InvalidModule, err, "memory of instance %s can't be published", inst.h)
	}
	return nil
}

/*
release frees the memory of the instance and returns the number of bytes
freed. Must be called while holding the lock of the instance.
*/
func (inst *Instance) release(reg *buffer.Registry, alloc memory.Allocator) uint64 {
	inst.closed = true
	reg.Retire(inst.view)
	inst.view = nil
	u := MemoryUpdate{OldBase: inst.region.Base(), OldLen: inst.region.Len()}
	inst.region.Release(alloc)
	for _, o := range inst.observers {
		o.MemoryUpdated(u)
	}
	inst.observers = nil
	return u.OldLen
}
