package instance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphabill-org/linmem/buffer"
	"github.com/alphabill-org/linmem/journal"
	"github.com/alphabill-org/linmem/logger"
	"github.com/alphabill-org/linmem/memory"
	"github.com/alphabill-org/linmem/trap"
)

/*
Store is an arena of module instances. Instances are referred to by Handle,
closing an instance invalidates all the handles referring to it.
*/
type Store struct {
	alloc    memory.Allocator
	registry *buffer.Registry
	journal  *journal.Journal
	codes    *CodeTable
	log      *slog.Logger
	metrics  *metrics

	mu    sync.RWMutex
	slots []slot
	free  []uint32 // indexes of unused slots
}

type slot struct {
	gen  uint32
	inst *Instance
}

func NewStore(opts ...Option) (*Store, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("initializing metrics: %w", err)
	}
	if o.journal != nil {
		if _, err := o.journal.StartRun(); err != nil {
			return nil, fmt.Errorf("starting journal run: %w", err)
		}
	}
	if err := o.registry.Claim(); err != nil {
		return nil, fmt.Errorf("registry of memory views: %w", err)
	}

	return &Store{
		alloc:    o.alloc,
		registry: o.registry,
		journal:  o.journal,
		codes:    NewCodeTable(),
		log:      o.log,
		metrics:  m,
	}, nil
}

// Codes returns the table used to resolve the owner of the native code.
func (s *Store) Codes() *CodeTable { return s.codes }

// Registry returns registry of the live memory views of the instances.
func (s *Store) Registry() *buffer.Registry { return s.registry }

/*
Instantiate creates new module instance with memory of given limits. The memory
is grown to the minimum size of the limits using the same operator as the
memory.grow instruction uses.
*/
func (s *Store) Instantiate(ctx context.Context, name string, limits memory.Limits) (Handle, error) {
	if err := limits.Validate(); err != nil {
		return Handle{}, fmt.Errorf("%w: %w", memory.ErrInvalidLimits, err)
	}

	s.mu.Lock()
	var idx uint32
	if n := len(s.free); n > 0 {
		idx, s.free = s.free[n-1], s.free[:n-1]
	} else {
		idx = uint32(len(s.slots))
		s.slots = append(s.slots, slot{})
	}
	sl := &s.slots[idx]
	sl.gen++
	if sl.gen == 0 {
		// zero generation is reserved for zero value of the Handle
		sl.gen = 1
	}
	h := Handle{index: idx, gen: sl.gen}
	sl.inst = &Instance{h: h, name: name, limits: limits}
	s.mu.Unlock()

	if limits.Min > 0 {
		if _, err := s.GrowMemory(ctx, h, limits.Min); err != nil {
			err = fmt.Errorf("allocating initial memory of %d pages: %w", limits.Min, err)
			return Handle{}, errors.Join(err, s.Close(ctx, h))
		}
	}
	s.log.DebugContext(ctx, fmt.Sprintf("instantiated %q as %s", name, h), logger.Instance(h.String()))
	return h, nil
}

/*
Close releases the memory of the instance and removes it from the store.
*/
func (s *Store) Close(ctx context.Context, h Handle) error {
	s.mu.Lock()
	inst, err := s.lookup(h)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.slots[h.index].inst = nil
	s.free = append(s.free, h.index)
	s.mu.Unlock()

	s.codes.unregister(h)

	inst.mu.Lock()
	defer inst.mu.Unlock()
	s.metrics.released(ctx, inst.release(s.registry, s.alloc))
	return nil
}

/*
Instance returns the instance referred to by "h". Invalid module error is
returned when the handle is stale or unknown.
*/
func (s *Store) Instance(h Handle) (*Instance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lookup(h)
}

// Instances returns handles of all the live instances.
func (s *Store) Instances() []Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var hs []Handle
	for _, sl := range s.slots {
		if sl.inst != nil {
			hs = append(hs, sl.inst.h)
		}
	}
	return hs
}

/*
Resolve returns handle of the instance which owns the native code at "pc".
*/
func (s *Store) Resolve(pc uintptr) (Handle, error) {
	h, ok := s.codes.Lookup(pc)
	if !ok {
		return Handle{}, trap.Raise(trap.InvalidModule, "no module instance owns code at %#x", pc)
	}
	if _, err := s.Instance(h); err != nil {
		return Handle{}, fmt.Errorf("resolving owner of code at %#x: %w", pc, err)
	}
	return h, nil
}

// must be called while holding the store lock.
func (s *Store) lookup(h Handle) (*Instance, error) {
	if h.IsZero() || int(h.index) >= len(s.slots) {
		return nil, trap.Raise(trap.InvalidModule, "unknown instance %s", h)
	}
	sl := s.slots[h.index]
	if sl.gen != h.gen || sl.inst == nil {
		return nil, trap.Raise(trap.InvalidModule, "instance %s has been closed", h)
	}
	return sl.inst, nil
}
