package wvm

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/fxamacker/cbor/v2"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/alphabill-org/linmem/logger"
)

// exit code of the module when host API call fails
const exitCodeHostAPIError = 0xBAD00BAD

/*
addHostModule adds "host" module to the "rt".
The host module provides "utility APIs" for the modules, ie memory manager and logging.
*/
func addHostModule(ctx context.Context, rt wazero.Runtime) error {
	_, err := rt.NewHostModuleBuilder("host").
		NewFunctionBuilder().WithGoModuleFunction(hostAPI(logMsg), []api.ValueType{api.ValueTypeI32, api.ValueTypeI64}, []api.ValueType{}).Export("log_msg").
		NewFunctionBuilder().WithGoModuleFunction(hostAPI(extMalloc), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).Export("ext_malloc").
		NewFunctionBuilder().WithGoModuleFunction(hostAPI(extFree), []api.ValueType{api.ValueTypeI32}, []api.ValueType{}).Export("ext_free").
		NewFunctionBuilder().WithGoModuleFunction(hostAPI(memoryGrow), []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).Export("memory_grow").
		NewFunctionBuilder().WithGoModuleFunction(hostAPI(heapStats), []api.ValueType{}, []api.ValueType{api.ValueTypeI64}).Export("heap_stats").
		Instantiate(ctx)
	return err
}

/*
hostAPI allows to use more convenient function signature for implementing
wazero host module functions:
  - the VM and the state of the calling module are passed as params to the func;
  - when API func returns error the module is closed.
*/
func hostAPI(f func(ctx context.Context, vm *WasmVM, m *module, stack []uint64) error) api.GoModuleFunc {
	return func(ctx context.Context, mod api.Module, stack []uint64) {
		vm := extractVM(ctx)
		m, err := vm.module(mod.Name())
		if err == nil {
			err = f(ctx, vm, m, stack)
		}
		if err != nil {
			vm.log.ErrorContext(ctx, fmt.Sprintf("host API called by %q returned error", mod.Name()), logger.Error(err))
			if err = mod.CloseWithExitCode(ctx, exitCodeHostAPIError); err != nil {
				vm.log.ErrorContext(ctx, "host API close with exit", logger.Error(err))
			}
		}
	}
}

// newPointerSize packs uint32 pointer and uint32 size into uint64.
func newPointerSize(ptr, size uint32) uint64 {
	return uint64(ptr) | (uint64(size) << 32)
}

func splitPointerSize(pointerSize uint64) (ptr, size uint32) {
	return uint32(pointerSize), uint32(pointerSize >> 32)
}

// read returns copy of the memory described by the pointer-size.
func (m *module) read(pointerSize uint64) ([]byte, error) {
	ptr, size := splitPointerSize(pointerSize)
	if err := m.bounds.Check(uint64(ptr), uint64(size)); err != nil {
		return nil, err
	}
	data, ok := m.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, fmt.Errorf("out of range read of %d bytes at %d", size, ptr)
	}
	return append([]byte(nil), data...), nil
}

// write allocates buffer in the memory of the module and copies the data into it.
func (m *module) write(data []byte) (uint64, error) {
	if uint64(len(data)) > math.MaxUint32 {
		return 0, fmt.Errorf("data of %d bytes doesn't fit into memory", len(data))
	}
	size := uint32(len(data))
	addr, err := m.heap.Alloc(m.mod.Memory(), size)
	if err != nil {
		return 0, fmt.Errorf("allocating memory: %w", err)
	}
	if ok := m.mod.Memory().Write(addr, data); !ok {
		return 0, errors.New("out of range when writing data into memory")
	}
	return newPointerSize(addr, size), nil
}

func logMsg(ctx context.Context, vm *WasmVM, m *module, stack []uint64) error {
	level := api.DecodeU32(stack[0])
	msg, err := m.read(stack[1])
	if err != nil {
		return fmt.Errorf("reading log message: %w", err)
	}
	switch level {
	case 0:
		vm.log.ErrorContext(ctx, string(msg))
	case 1:
		vm.log.WarnContext(ctx, string(msg))
	case 2:
		vm.log.InfoContext(ctx, string(msg))
	case 3:
		vm.log.DebugContext(ctx, string(msg))
	default:
		vm.log.ErrorContext(ctx, fmt.Sprintf("unknown level %d: %s", level, msg))
	}
	return nil
}

func extMalloc(ctx context.Context, vm *WasmVM, m *module, stack []uint64) error {
	size := api.DecodeU32(stack[0])
	addr, err := m.heap.Alloc(m.mod.Memory(), size)
	if err != nil {
		return fmt.Errorf("allocating %d bytes: %w", size, err)
	}
	vm.mallocBytes.Add(ctx, int64(size))
	stack[0] = api.EncodeU32(addr)
	return nil
}

func extFree(_ context.Context, _ *WasmVM, m *module, stack []uint64) error {
	return m.heap.Free(m.mod.Memory(), api.DecodeU32(stack[0]))
}

/*
memoryGrow is the memory.grow instruction callable as host function. Returns
the previous size of the memory in pages or -1 when the memory can't grow.
*/
func memoryGrow(_ context.Context, _ *WasmVM, m *module, stack []uint64) error {
	delta := api.DecodeU32(stack[0])
	// grow through the runtime so that it picks up the new buffer
	prev, ok := m.mod.Memory().Grow(delta)
	if !ok {
		stack[0] = api.EncodeI32(-1)
		return nil
	}
	stack[0] = api.EncodeU32(prev)
	return nil
}

/*
heapStats returns statistics of the host allocator of the module as CBOR
encoded buffer allocated in the memory of the module (pointer-size).
*/
func heapStats(_ context.Context, _ *WasmVM, m *module, stack []uint64) error {
	// the stats are taken before the buffer for them is allocated
	buf, err := cbor.Marshal(m.heap.Stats())
	if err != nil {
		return fmt.Errorf("encoding heap stats: %w", err)
	}
	addr, err := m.write(buf)
	if err != nil {
		return err
	}
	stack[0] = addr
	return nil
}
