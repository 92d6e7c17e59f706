package wvm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.opentelemetry.io/otel/metric"

	"github.com/alphabill-org/linmem/instance"
	"github.com/alphabill-org/linmem/wvm/bumpallocator"
)

type rtCtxKey string

const runtimeContextKey = rtCtxKey("rt.VM")

type (
	Observability interface {
		Meter(name string, opts ...metric.MeterOption) metric.Meter
		Logger() *slog.Logger
	}

	/*
	WasmVM runs WASM modules on wazero runtime with the linear memories of the
	modules managed by the instance Store.
	*/
	WasmVM struct {
		runtime     wazero.Runtime
		store       *instance.Store
		alloc       *memoryAllocator
		log         *slog.Logger
		mallocBytes metric.Int64Counter

		mu      sync.RWMutex
		modules map[string]*module
	}

	module struct {
		mod    api.Module
		mem    *linearMemory
		bounds *instance.BoundsCache
		heap   *bumpallocator.BumpAllocator
	}
)

// New creates new wazero based WASM VM which allocates memory of the modules from the "store".
func New(ctx context.Context, store *instance.Store, observe Observability, opts ...Option) (*WasmVM, error) {
	if store == nil {
		return nil, errors.New("instance store is nil")
	}
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}

	mallocBytes, err := observe.Meter("wvm").Int64Counter("malloc.bytes",
		metric.WithDescription("Bytes allocated by the modules using host allocator"),
		metric.WithUnit("By"))
	if err != nil {
		return nil, fmt.Errorf("creating malloc counter: %w", err)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, options.cfg.WithMemoryLimitPages(options.maxPages))
	if err := addHostModule(ctx, rt); err != nil {
		return nil, errors.Join(fmt.Errorf("adding host module: %w", err), rt.Close(ctx))
	}

	return &WasmVM{
		runtime:     rt,
		store:       store,
		alloc:       newMemoryAllocator(ctx, store, observe.Logger()),
		log:         observe.Logger(),
		mallocBytes: mallocBytes,
		modules:     map[string]*module{},
	}, nil
}

/*
Instantiate compiles and instantiates the WASM module under the "name". The
module must define its own linear memory, it is created as an instance in the
store and the handle of the instance is returned.
*/
func (vm *WasmVM) Instantiate(ctx context.Context, name string, wasm []byte) (instance.Handle, error) {
	if len(wasm) == 0 {
		return instance.Handle{}, errors.New("module binary is empty")
	}
	vm.mu.Lock()
	defer vm.mu.Unlock()
	if _, ok := vm.modules[name]; ok {
		return instance.Handle{}, fmt.Errorf("module %q is already instantiated", name)
	}

	vm.alloc.prepare(name)
	mod, err := vm.runtime.InstantiateWithConfig(experimental.WithMemoryAllocator(ctx, vm.alloc), wasm, wazero.NewModuleConfig().WithName(name))
	lm := vm.alloc.prepare("")
	if err != nil {
		if lm != nil {
			lm.Free()
		}
		return instance.Handle{}, fmt.Errorf("instantiating module %q: %w", name, err)
	}

	m := &module{mod: mod, mem: lm}
	if err := vm.initMemory(m); err != nil {
		err = fmt.Errorf("initializing memory of module %q: %w", name, err)
		return instance.Handle{}, errors.Join(err, m.close(ctx))
	}
	vm.modules[name] = m
	vm.log.DebugContext(ctx, fmt.Sprintf("module %q instantiated with memory %s", name, lm.h))
	return lm.h, nil
}

func (vm *WasmVM) initMemory(m *module) error {
	mem := m.mod.Memory()
	if m.mem == nil || mem == nil {
		return errors.New("module doesn't define linear memory")
	}
	if m.mem.err != nil {
		return m.mem.err
	}
	inst, err := vm.store.Instance(m.mem.h)
	if err != nil {
		return err
	}
	if minPages := mem.Definition().Min(); inst.Pages() < minPages {
		return fmt.Errorf("allocating initial memory of %d pages failed", minPages)
	}

	m.bounds = &instance.BoundsCache{}
	inst.AddObserver(m.bounds)

	heapBase := mem.Size()
	if g := m.mod.ExportedGlobal("__heap_base"); g != nil {
		heapBase = api.DecodeU32(g.Get())
	}
	m.heap = bumpallocator.New(heapBase, mem.Definition())
	return nil
}

/*
Call calls the function "fn" exported by the module "name".
*/
func (vm *WasmVM) Call(ctx context.Context, name, fn string, params ...uint64) ([]uint64, error) {
	m, err := vm.module(name)
	if err != nil {
		return nil, err
	}
	f := m.mod.ExportedFunction(fn)
	if f == nil {
		return nil, fmt.Errorf("module %q doesn't export function %q", name, fn)
	}

	res, err := f.Call(context.WithValue(ctx, runtimeContextKey, vm), params...)
	if err != nil {
		return nil, fmt.Errorf("calling %s.%s: %w", name, fn, err)
	}
	vm.log.DebugContext(ctx, fmt.Sprintf("%s.%s.RESULT: %#v", name, fn, res))
	return res, nil
}

// Handle returns the handle of the memory instance of the module.
func (vm *WasmVM) Handle(name string) (instance.Handle, error) {
	m, err := vm.module(name)
	if err != nil {
		return instance.Handle{}, err
	}
	return m.mem.h, nil
}

// Modules returns names of the instantiated modules.
func (vm *WasmVM) Modules() []string {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	names := make([]string, 0, len(vm.modules))
	for n := range vm.modules {
		names = append(names, n)
	}
	return names
}

// CloseModule closes the module and releases its memory.
func (vm *WasmVM) CloseModule(ctx context.Context, name string) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	m, ok := vm.modules[name]
	if !ok {
		return fmt.Errorf("module %q not found", name)
	}
	delete(vm.modules, name)
	return m.close(ctx)
}

func (vm *WasmVM) Close(ctx context.Context) error {
	vm.mu.Lock()
	defer vm.mu.Unlock()
	err := vm.runtime.Close(ctx)
	for _, m := range vm.modules {
		m.mem.Free()
	}
	clear(vm.modules)
	return err
}

func (vm *WasmVM) module(name string) (*module, error) {
	vm.mu.RLock()
	defer vm.mu.RUnlock()
	m, ok := vm.modules[name]
	if !ok {
		return nil, fmt.Errorf("module %q not found", name)
	}
	return m, nil
}

func (m *module) close(ctx context.Context) error {
	err := m.mod.Close(ctx)
	if m.mem != nil {
		m.mem.Free()
	}
	return err
}

func extractVM(ctx context.Context) *WasmVM {
	vm, ok := ctx.Value(runtimeContextKey).(*WasmVM)
	if !ok || vm == nil {
		// when ctx doesn't contain the value something has gone very wrong...
		panic("context doesn't contain VM value")
	}
	return vm
}
