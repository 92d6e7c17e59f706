package instance

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/trap"
)

/*
GrowMemory implements the memory.grow instruction: the memory of the instance
"h" is grown by "delta" pages and the previous size of the memory (in pages)
is returned.

On error the memory of the instance is not modified. The error is a trap.Error
with one of the codes:
  - InvalidModule: "h" doesn't refer to a live instance or the registry holds
    a live view of the instance the store didn't publish;
  - MemoryOutOfBounds: the new size would exceed the maximum of the memory;
  - AllocationFailure: the allocator couldn't provide the buffer.
*/
func (s *Store) GrowMemory(ctx context.Context, h Handle, delta uint32) (uint32, error) {
	inst, err := s.Instance(h)
	if err != nil {
		s.report(ctx, nil, h, delta, 0, nil, err)
		return 0, err
	}

	inst.mu.Lock()
	defer inst.mu.Unlock()

	prev, upd, err := s.grow(inst, delta)
	s.report(ctx, inst, h, delta, prev, upd, err)
	if err != nil {
		return 0, err
	}
	return prev, nil
}

/*
GrowMemoryAt is GrowMemory for callers which only know the program counter of
the code executing the instruction, the owner of the memory is resolved using
the code table of the store.
*/
func (s *Store) GrowMemoryAt(ctx context.Context, pc uintptr, delta uint32) (uint32, error) {
	h, err := s.Resolve(pc)
	if err != nil {
		s.report(ctx, nil, h, delta, 0, nil, err)
		return 0, err
	}
	return s.GrowMemory(ctx, h, delta)
}

/*
grow performs capacity check, (re)allocation of the region and handoff of the
memory view. Must be called while holding the lock of the instance.
Returns the previous size of the memory in pages and description of the
memory update (nil when the memory didn't change).
*/
func (s *Store) grow(inst *Instance, delta uint32) (uint32, *MemoryUpdate, error) {
	if inst.closed {
		return 0, nil, trap.Raise(trap.InvalidModule, "instance %s has been closed", inst.h)
	}
	oldLen := inst.region.Len()
	prevPages := memory.BytesToPages(oldLen)

	newLen, err := memory.GrowLength(oldLen, delta, inst.limits.Max)
	if err != nil {
		return prevPages, nil, err
	}
	if newLen == oldLen {
		return prevPages, nil, nil
	}

	// nothing may fail once the region has been grown
	if err := inst.publishable(s.registry); err != nil {
		return prevPages, nil, err
	}
	oldBase := inst.region.Base()
	if _, err := inst.region.Grow(s.alloc, newLen); err != nil {
		if inst.region.Len() != oldLen {
			// allocator broke the contract of Resize and the memory is gone
			upd := &MemoryUpdate{OldBase: oldBase, OldLen: oldLen}
			inst.discard(s.registry, *upd)
			return prevPages, upd, err
		}
		return prevPages, nil, err
	}

	upd := &MemoryUpdate{OldBase: oldBase, NewBase: inst.region.Base(), OldLen: oldLen, NewLen: newLen}
	inst.handoff(s.registry, *upd)
	return prevPages, upd, nil
}

func (s *Store) report(ctx context.Context, inst *Instance, h Handle, delta, prev uint32, upd *MemoryUpdate, err error) {
	var added uint64
	newPages := prev
	if upd != nil {
		if upd.NewLen > upd.OldLen {
			added = upd.NewLen - upd.OldLen
		} else {
			s.metrics.released(ctx, upd.OldLen-upd.NewLen)
		}
		newPages = memory.BytesToPages(upd.NewLen)
	}
	s.metrics.growth(ctx, delta, added, err)

	name := ""
	if inst != nil {
		name = inst.name
	}
	if err != nil {
		s.log.WarnContext(ctx, fmt.Sprintf("growing memory of %q by %d pages", name, delta),
			logger.Instance(h.String()), logger.Pages(prev), logger.Error(err))
	} else {
		s.log.DebugContext(ctx, fmt.Sprintf("memory of %q grown by %d pages", name, delta),
			logger.Instance(h.String()), logger.Pages(newPages))
	}

	if s.journal == nil {
		return
	}
	ev := journal.Event{
		Instance:  h.ID(),
		Name:      name,
		Delta:     delta,
		PrevPages: prev,
		NewPages:  newPages,
		Relocated: upd != nil && upd.Relocated(),
		Trap:      trap.CodeOf(err),
	}
	if _, jerr := s.journal.Record(ev); jerr != nil {
		s.log.LogAttrs(ctx, slog.LevelError, "recording memory growth event", logger.Instance(h.String()), logger.Error(jerr))
	}
}
