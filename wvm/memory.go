package wvm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero/experimental"

	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/memory"
)

/*
memoryAllocator creates the linear memories of the wazero modules as instances
in the Store so that the memory.grow instruction executed by the guest is
served by the Store.GrowMemory operator.

The runtime allocates memory while instantiating a module, the name of the
module being instantiated is set by the VM before the call (see "prepare").
*/
type memoryAllocator struct {
	ctx   context.Context
	store *instance.Store
	log   *slog.Logger

	mu   sync.Mutex
	name string
	last *linearMemory
}

func newMemoryAllocator(ctx context.Context, store *instance.Store, log *slog.Logger) *memoryAllocator {
	return &memoryAllocator{
		ctx:   context.WithoutCancel(ctx),
		store: store,
		log:   log,
	}
}

// prepare sets the name for the memory allocated next, returns the memory allocated previously.
func (ma *memoryAllocator) prepare(name string) *linearMemory {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	lm := ma.last
	ma.name = name
	ma.last = nil
	return lm
}

/*
Allocate implements experimental.MemoryAllocator. The "max" is the maximum size
of the memory in bytes as declared by the module (or the memory limit of the
runtime), it becomes the page ceiling of the instance.
*/
func (ma *memoryAllocator) Allocate(_, max uint64) experimental.LinearMemory {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	lm := &linearMemory{ctx: ma.ctx, store: ma.store, log: ma.log}
	ma.last = lm
	limits := memory.Limits{Max: memory.BytesToPages(min(max, memory.PagesToBytes(memory.MaxPages)))}
	// initial size is allocated by the runtime calling Reallocate
	lm.h, lm.err = ma.store.Instantiate(ma.ctx, ma.name, limits)
	if lm.err != nil {
		ma.log.ErrorContext(ma.ctx, fmt.Sprintf("creating memory for module %q", ma.name), logger.Error(lm.err))
	}
	return lm
}

/*
linearMemory implements experimental.LinearMemory on top of the instance in the
Store. Reallocate returns nil (the runtime reports failure to the guest) when
the growth fails for any reason.
*/
type linearMemory struct {
	ctx   context.Context
	store *instance.Store
	log   *slog.Logger
	h     instance.Handle
	err   error // instantiation error
	free  sync.Once
}

func (lm *linearMemory) Reallocate(size uint64) []byte {
	if lm.err != nil {
		return nil
	}
	inst, err := lm.store.Instance(lm.h)
	if err != nil {
		lm.log.ErrorContext(lm.ctx, "reallocating memory", logger.Instance(lm.h.String()), logger.Error(err))
		return nil
	}

	curLen := memory.PagesToBytes(inst.Pages())
	if size < curLen || size%memory.PageSize != 0 {
		lm.log.ErrorContext(lm.ctx, fmt.Sprintf("invalid reallocation of %d bytes, current size %d", size, curLen), logger.Instance(lm.h.String()))
		return nil
	}
	if size > curLen {
		// failure has been logged by the store
		if _, err := lm.store.GrowMemory(lm.ctx, lm.h, memory.BytesToPages(size-curLen)); err != nil {
			return nil
		}
	}

	if view := inst.Memory(); view != nil {
		return view.Bytes()
	}
	return []byte{}
}

// Free closes the instance, safe to call multiple times.
func (lm *linearMemory) Free() {
	if lm.err != nil {
		return
	}
	lm.free.Do(func() {
		if err := lm.store.Close(lm.ctx, lm.h); err != nil {
			lm.log.ErrorContext(lm.ctx, "freeing memory", logger.Instance(lm.h.String()), logger.Error(err))
		}
	})
}
