package buffer

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrAlreadyLive = errors.New("owner already has a live view")
	ErrClaimed     = errors.New("registry is already claimed")
)

/*
Registry keeps track of the views of linear memory which are visible outside
of the runtime. For every owner there is at most one live view at a time,
the previous view must be released before a new one can be acquired or the
views must be swapped with Replace.
*/
type Registry struct {
	mu      sync.Mutex
	live    map[uint64]*View
	bytes   uint64
	claimed bool
}

type Stats struct {
	LiveViews     int    `json:"live_views"`
	ExternalBytes uint64 `json:"external_bytes"`
}

func NewRegistry() *Registry {
	return &Registry{live: make(map[uint64]*View)}
}

/*
Acquire creates view of "data" for the owner "id" and registers it. The view
must be released with View.Release when the memory it describes is replaced.
*/
/*
Claim marks the registry as used by a single owner space (ie a store of
module instances). Owner IDs of different spaces may collide so two spaces
can't share a registry, the second claim fails with ErrClaimed.
*/
func (r *Registry) Claim() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed {
		return ErrClaimed
	}
	r.claimed = true
	return nil
}

func (r *Registry) Acquire(id uint64, data []byte) (*View, error) {
	v := &View{owner: id, reg: r, data: data, size: uint64(len(data))}
	if err := r.Register(v); err != nil {
		return nil, err
	}
	return v, nil
}

func (r *Registry) Register(v *View) error {
	if v == nil {
		return errors.New("view is nil")
	}
	if v.reg != r {
		return errors.New("view belongs to another registry")
	}
	if v.Detached() {
		return ErrDetached
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[v.owner]; ok {
		if cur == v {
			return fmt.Errorf("view of owner %d is already registered", v.owner)
		}
		return fmt.Errorf("registering view of owner %d: %w", v.owner, ErrAlreadyLive)
	}
	r.live[v.owner] = v
	r.bytes += v.size
	return nil
}

/*
Unregister removes the view from the registry. Unregistering view which is
not the live view of its owner is an error.
*/
func (r *Registry) Unregister(v *View) error {
	if v == nil {
		return errors.New("view is nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[v.owner]; !ok || cur != v {
		return fmt.Errorf("view of owner %d is not registered", v.owner)
	}
	delete(r.live, v.owner)
	r.bytes -= min(r.bytes, v.size)
	return nil
}

/*
CanReplace checks that "cur" may be replaced by a new view of the owner "id",
ie that the registry doesn't hold a live view of the owner other than "cur".
"cur" may be nil (owner has no view yet) or a view which has been removed
from the registry by Unregister.
*/
func (r *Registry) CanReplace(id uint64, cur *View) error {
	if cur != nil && (cur.reg != r || cur.owner != id) {
		return fmt.Errorf("view of owner %d can't be replaced by view of owner %d", cur.owner, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if live, ok := r.live[id]; ok && live != cur {
		return fmt.Errorf("replacing view of owner %d: %w", id, ErrAlreadyLive)
	}
	return nil
}

/*
Replace detaches "old" and registers view of "data" as the live view of the
owner "id" in single step. It can't fail, a live view of the owner other than
"old" is detached too. Callers use CanReplace before modifying the memory to
make sure they don't take over a view they do not own.
*/
func (r *Registry) Replace(old *View, id uint64, data []byte) *View {
	v := &View{owner: id, reg: r, data: data, size: uint64(len(data))}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[id]; ok {
		cur.detach()
		r.bytes -= min(r.bytes, cur.size)
	}
	if old != nil {
		old.detach()
	}
	r.live[id] = v
	r.bytes += v.size
	return v
}

/*
Retire detaches the view and removes it from the registry when it is still
the live view of its owner. Unlike Release it doesn't fail when the view
has already been unregistered.
*/
func (r *Registry) Retire(v *View) {
	if v == nil {
		return
	}
	v.detach()

	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.live[v.owner]; ok && cur == v {
		delete(r.live, v.owner)
		r.bytes -= min(r.bytes, v.size)
	}
}

// Live returns the live view of the owner "id".
func (r *Registry) Live(id uint64) (*View, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.live[id]
	return v, ok
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{LiveViews: len(r.live), ExternalBytes: r.bytes}
}
