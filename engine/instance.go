package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
)

// WazeroInstance is an instantiated module together with the runtime that
// holds its host modules.
type WazeroInstance struct {
	module *WazeroModule
	rt     wazero.Runtime
	mod    api.Module
	byIdx  map[exportKey]backend.Export

	stackSize uint32
	heapSize  uint32

	mu     sync.Mutex
	closed bool
}

var _ backend.Instance = (*WazeroInstance)(nil)

type exportKey struct {
	kind  backend.ExternKind
	index uint32
}

func newWazeroInstance(m *WazeroModule, rt wazero.Runtime, mod api.Module, stackSize, heapSize uint32) *WazeroInstance {
	byIdx := make(map[exportKey]backend.Export, len(m.exports))
	for _, e := range m.exports {
		key := exportKey{kind: e.Kind, index: e.Index}
		if _, dup := byIdx[key]; !dup {
			byIdx[key] = e
		}
	}
	return &WazeroInstance{
		module:    m,
		rt:        rt,
		mod:       mod,
		byIdx:     byIdx,
		stackSize: stackSize,
		heapSize:  heapSize,
	}
}

// Exports implements backend.Instance.
func (i *WazeroInstance) Exports() []backend.Export {
	return i.module.exports
}

func (i *WazeroInstance) export(kind backend.ExternKind, idx uint32) (backend.Export, error) {
	e, ok := i.byIdx[exportKey{kind: kind, index: idx}]
	if !ok {
		return backend.Export{}, errors.New(errors.PhaseCall, errors.KindNotFound).
			Detail("no %s export at index %d", kind, idx).
			Build()
	}
	return e, nil
}

func (i *WazeroInstance) live() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return errors.Deleted(errors.PhaseCall, "instance")
	}
	return nil
}

// Call implements backend.Instance.
func (i *WazeroInstance) Call(ctx context.Context, funcIdx uint32, argv []uint32) error {
	if err := i.live(); err != nil {
		return err
	}
	e, err := i.export(backend.ExternFunc, funcIdx)
	if err != nil {
		return err
	}
	// api.Function is not safe for concurrent use; resolve one per call.
	fn := i.mod.ExportedFunction(e.Name)
	if fn == nil {
		return errors.NotFound(errors.PhaseCall, "function", e.Name)
	}
	def := fn.Definition()
	params := fromAPITypes(def.ParamTypes())
	results := fromAPITypes(def.ResultTypes())

	nParams, err := backend.SlotCount(params)
	if err != nil {
		return errors.Wrap(errors.PhaseCall, errors.KindUnsupported, err, e.Name+" params")
	}
	nResults, err := backend.SlotCount(results)
	if err != nil {
		return errors.Wrap(errors.PhaseCall, errors.KindUnsupported, err, e.Name+" results")
	}
	if len(argv) < max(nParams, nResults) {
		return errors.OutOfBounds(errors.PhaseCall, []string{e.Name}, max(nParams, nResults), len(argv))
	}

	stack := make([]uint64, max(len(params), len(results)))
	backend.UnpackSlots(params, argv, stack)

	if err := fn.CallWithStack(ctx, stack); err != nil {
		return &backend.CallError{Message: exceptionMessage(err), Err: err}
	}
	backend.PackSlots(results, stack, argv)
	return nil
}

// exceptionMessage reduces a wazero call error to its first line, without
// the recovery suffix and stack trace wazero appends.
func exceptionMessage(err error) string {
	var exit *sys.ExitError
	if stderrors.As(err, &exit) {
		return fmt.Sprintf("exit code %d", exit.ExitCode())
	}
	msg := err.Error()
	if n := strings.IndexByte(msg, '\n'); n >= 0 {
		msg = msg[:n]
	}
	return strings.TrimSuffix(msg, " (recovered by wazero)")
}

// FuncType implements backend.Instance.
func (i *WazeroInstance) FuncType(funcIdx uint32) (backend.FuncSig, error) {
	e, err := i.export(backend.ExternFunc, funcIdx)
	if err != nil {
		return backend.FuncSig{}, err
	}
	return i.module.ExportFuncType(e)
}

// GlobalType implements backend.Instance.
func (i *WazeroInstance) GlobalType(globalIdx uint32) (backend.GlobalSig, error) {
	e, err := i.export(backend.ExternGlobal, globalIdx)
	if err != nil {
		return backend.GlobalSig{}, err
	}
	return i.module.ExportGlobalType(e)
}

// TableType implements backend.Instance. wazero does not expose tables, so
// the declared limits are reported.
func (i *WazeroInstance) TableType(tableIdx uint32) (backend.TableSig, error) {
	e, err := i.export(backend.ExternTable, tableIdx)
	if err != nil {
		return backend.TableSig{}, err
	}
	return i.module.ExportTableType(e)
}

// MemoryType implements backend.Instance. Min reports the current size in
// pages.
func (i *WazeroInstance) MemoryType(memIdx uint32) (backend.MemorySig, error) {
	e, err := i.export(backend.ExternMemory, memIdx)
	if err != nil {
		return backend.MemorySig{}, err
	}
	sig, err := i.module.ExportMemoryType(e)
	if err != nil {
		return backend.MemorySig{}, err
	}
	if mem := i.mod.ExportedMemory(e.Name); mem != nil {
		sig.Min = mem.Size() / pageSize
	}
	return sig, nil
}

func (i *WazeroInstance) global(globalIdx uint32) (api.Global, string, error) {
	if err := i.live(); err != nil {
		return nil, "", err
	}
	e, err := i.export(backend.ExternGlobal, globalIdx)
	if err != nil {
		return nil, "", err
	}
	g := i.mod.ExportedGlobal(e.Name)
	if g == nil {
		return nil, "", errors.NotFound(errors.PhaseCall, "global", e.Name)
	}
	return g, e.Name, nil
}

// GlobalGet implements backend.Instance.
func (i *WazeroInstance) GlobalGet(globalIdx uint32) (uint64, error) {
	g, _, err := i.global(globalIdx)
	if err != nil {
		return 0, err
	}
	return g.Get(), nil
}

// GlobalSet implements backend.Instance.
func (i *WazeroInstance) GlobalSet(globalIdx uint32, bits uint64) error {
	g, name, err := i.global(globalIdx)
	if err != nil {
		return err
	}
	mg, ok := g.(api.MutableGlobal)
	if !ok {
		return errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Path(name).
			Detail("global is immutable").
			Build()
	}
	mg.Set(bits)
	return nil
}

const pageSize = 65536

func (i *WazeroInstance) memory(memIdx uint32) (api.Memory, error) {
	if err := i.live(); err != nil {
		return nil, err
	}
	e, err := i.export(backend.ExternMemory, memIdx)
	if err != nil {
		return nil, err
	}
	mem := i.mod.ExportedMemory(e.Name)
	if mem == nil {
		return nil, errors.NotFound(errors.PhaseCall, "memory", e.Name)
	}
	return mem, nil
}

// MemoryData implements backend.Instance. The slice aliases linear memory
// and is invalidated by a grow.
func (i *WazeroInstance) MemoryData(memIdx uint32) ([]byte, error) {
	mem, err := i.memory(memIdx)
	if err != nil {
		return nil, err
	}
	data, ok := mem.Read(0, mem.Size())
	if !ok {
		return nil, errors.OutOfBounds(errors.PhaseCall, nil, int(mem.Size()), int(mem.Size()))
	}
	return data, nil
}

// MemoryDataSize implements backend.Instance.
func (i *WazeroInstance) MemoryDataSize(memIdx uint32) (int, error) {
	mem, err := i.memory(memIdx)
	if err != nil {
		return 0, err
	}
	return int(mem.Size()), nil
}

// MemoryGrow implements backend.Instance.
func (i *WazeroInstance) MemoryGrow(memIdx uint32, delta uint32) (uint32, error) {
	mem, err := i.memory(memIdx)
	if err != nil {
		return 0, err
	}
	prev, ok := mem.Grow(delta)
	if !ok {
		return 0, errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Detail("cannot grow memory by %d pages from %d", delta, mem.Size()/pageSize).
			Build()
	}
	return prev, nil
}

// StackSize returns the stack budget requested at instantiation.
func (i *WazeroInstance) StackSize() uint32 {
	return i.stackSize
}

// HeapSize returns the heap budget requested at instantiation.
func (i *WazeroInstance) HeapSize() uint32 {
	return i.heapSize
}

// Deinstantiate implements backend.Instance. It closes the module and every
// host module linked into it.
func (i *WazeroInstance) Deinstantiate(ctx context.Context) error {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		return nil
	}
	i.closed = true
	i.mu.Unlock()
	return i.rt.Close(ctx)
}
