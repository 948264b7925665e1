package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/wasm"
)

// hostSuffix names the host module holding the functions of an import
// module that also imports globals; a glue module re-exports them.
const hostSuffix = "$host"

// WazeroModule is a loaded module. Links are recorded on the module and
// consumed by each Instantiate call.
type WazeroModule struct {
	engine  *WazeroEngine
	desc    *wasm.Module
	code    []byte
	imports []backend.Import
	fields  []string // unique field name per import slot, parallel to imports
	exports []backend.Export
	targets []wasm.Export // parallel to exports

	mu       sync.Mutex
	links    []importLink
	unloaded bool
}

var _ backend.Module = (*WazeroModule)(nil)

type importLink struct {
	fn     backend.HostFunc
	bits   uint64
	linked bool
}

func newWazeroModule(e *WazeroEngine, desc *wasm.Module, code []byte) (*WazeroModule, error) {
	m := &WazeroModule{
		engine: e,
		desc:   desc,
		code:   code,
		links:  make([]importLink, len(desc.Imports)),
	}

	for i, imp := range desc.Imports {
		bi := backend.Import{Module: imp.Module, Name: imp.Name}
		switch imp.Desc.Kind {
		case wasm.KindFunc:
			if int(imp.Desc.TypeIdx) >= len(desc.Types) {
				return nil, errors.OutOfBounds(errors.PhaseReflect, []string{imp.Module, imp.Name}, int(imp.Desc.TypeIdx), len(desc.Types))
			}
			sig := funcSig(&desc.Types[imp.Desc.TypeIdx])
			bi.Kind, bi.Func = backend.ExternFunc, &sig
		case wasm.KindGlobal:
			sig := globalSig(imp.Desc.Global)
			bi.Kind, bi.Global = backend.ExternGlobal, &sig
		case wasm.KindTable:
			sig := tableSig(imp.Desc.Table)
			bi.Kind, bi.Table = backend.ExternTable, &sig
		case wasm.KindMemory:
			sig := memorySig(imp.Desc.Memory)
			bi.Kind, bi.Memory = backend.ExternMemory, &sig
		default:
			return nil, errors.New(errors.PhaseReflect, errors.KindUnsupported).
				Path(imp.Module, imp.Name).
				Detail("import #%d has kind %s", i, wasm.KindName(imp.Desc.Kind)).
				Build()
		}
		m.imports = append(m.imports, bi)
	}

	fields, renamed := importFields(desc.Imports)
	m.fields = fields
	if renamed {
		rewritten, err := wasm.RenameImports(code, fields)
		if err != nil {
			return nil, errors.Load("rename duplicate imports", err)
		}
		m.code = rewritten
	}

	var ordinals [4]uint32
	for _, exp := range desc.Exports {
		kind, ok := externKind(exp.Kind)
		if !ok {
			return nil, errors.New(errors.PhaseReflect, errors.KindUnsupported).
				Path(exp.Name).
				Detail("export kind %s", wasm.KindName(exp.Kind)).
				Build()
		}
		idx := exp.Idx
		if e.mode == backend.ModeAOT {
			idx = ordinals[kind]
			ordinals[kind]++
		}
		m.exports = append(m.exports, backend.Export{Name: exp.Name, Kind: kind, Index: idx})
		m.targets = append(m.targets, exp)
	}
	return m, nil
}

// importFields assigns each import slot a field name unique within its
// import module. Repeated module/name pairs are legal wasm but would
// collapse into one host export, so later occurrences are renamed to
// name$<slot>.
func importFields(imports []wasm.Import) ([]string, bool) {
	fields := make([]string, len(imports))
	taken := make(map[[2]string]bool, len(imports))
	for _, imp := range imports {
		taken[[2]string{imp.Module, imp.Name}] = true
	}
	used := make(map[[2]string]bool, len(imports))
	renamed := false
	for i, imp := range imports {
		name := imp.Name
		if used[[2]string{imp.Module, name}] {
			name = fmt.Sprintf("%s$%d", imp.Name, i)
			for taken[[2]string{imp.Module, name}] || used[[2]string{imp.Module, name}] {
				name += "$"
			}
			renamed = true
		}
		used[[2]string{imp.Module, name}] = true
		fields[i] = name
	}
	return fields, renamed
}

// Imports implements backend.Module.
func (m *WazeroModule) Imports() []backend.Import {
	return m.imports
}

// ImportCount implements backend.Module. The interpreter counts one
// unified import list; AOT counts each kind separately.
func (m *WazeroModule) ImportCount() int {
	if m.engine.mode == backend.ModeAOT {
		return m.desc.CountImports().Total()
	}
	return len(m.desc.Imports)
}

// Exports implements backend.Module.
func (m *WazeroModule) Exports() []backend.Export {
	return m.exports
}

func (m *WazeroModule) target(e backend.Export) (wasm.Export, error) {
	for i, exp := range m.exports {
		if exp == e {
			return m.targets[i], nil
		}
	}
	return wasm.Export{}, errors.NotFound(errors.PhaseReflect, e.Kind.String()+" export", e.Name)
}

// ExportFuncType implements backend.Module.
func (m *WazeroModule) ExportFuncType(e backend.Export) (backend.FuncSig, error) {
	t, err := m.target(e)
	if err != nil {
		return backend.FuncSig{}, err
	}
	ft := m.desc.GetFuncType(t.Idx)
	if ft == nil {
		return backend.FuncSig{}, errors.NotFound(errors.PhaseReflect, "function type for", e.Name)
	}
	return funcSig(ft), nil
}

// ExportGlobalType implements backend.Module.
func (m *WazeroModule) ExportGlobalType(e backend.Export) (backend.GlobalSig, error) {
	t, err := m.target(e)
	if err != nil {
		return backend.GlobalSig{}, err
	}
	gt := m.desc.GetGlobalType(t.Idx)
	if gt == nil {
		return backend.GlobalSig{}, errors.NotFound(errors.PhaseReflect, "global type for", e.Name)
	}
	return globalSig(gt), nil
}

// ExportTableType implements backend.Module.
func (m *WazeroModule) ExportTableType(e backend.Export) (backend.TableSig, error) {
	t, err := m.target(e)
	if err != nil {
		return backend.TableSig{}, err
	}
	tt := m.desc.GetTableType(t.Idx)
	if tt == nil {
		return backend.TableSig{}, errors.NotFound(errors.PhaseReflect, "table type for", e.Name)
	}
	return tableSig(tt), nil
}

// ExportMemoryType implements backend.Module.
func (m *WazeroModule) ExportMemoryType(e backend.Export) (backend.MemorySig, error) {
	t, err := m.target(e)
	if err != nil {
		return backend.MemorySig{}, err
	}
	mt := m.desc.GetMemoryType(t.Idx)
	if mt == nil {
		return backend.MemorySig{}, errors.NotFound(errors.PhaseReflect, "memory type for", e.Name)
	}
	return memorySig(mt), nil
}

func (m *WazeroModule) checkImport(importIdx int, want backend.ExternKind) (backend.Import, error) {
	if importIdx < 0 || importIdx >= len(m.imports) {
		return backend.Import{}, errors.OutOfBounds(errors.PhaseLink, nil, importIdx, len(m.imports))
	}
	imp := m.imports[importIdx]
	if imp.Kind != want {
		return backend.Import{}, errors.TypeMismatch(errors.PhaseLink, []string{imp.Module, imp.Name}, want.String(), imp.Kind.String())
	}
	return imp, nil
}

// LinkFunc implements backend.Module.
func (m *WazeroModule) LinkFunc(importIdx int, fn backend.HostFunc) error {
	imp, err := m.checkImport(importIdx, backend.ExternFunc)
	if err != nil {
		return err
	}
	if _, err := backend.SlotCount(imp.Func.Params); err != nil {
		return errors.Wrap(errors.PhaseLink, errors.KindUnsupported, err, imp.Module+"."+imp.Name+" params")
	}
	if _, err := backend.SlotCount(imp.Func.Results); err != nil {
		return errors.Wrap(errors.PhaseLink, errors.KindUnsupported, err, imp.Module+"."+imp.Name+" results")
	}
	m.mu.Lock()
	m.links[importIdx] = importLink{fn: fn, linked: true}
	m.mu.Unlock()
	return nil
}

// LinkGlobal implements backend.Module.
func (m *WazeroModule) LinkGlobal(importIdx int, bits uint64) error {
	if _, err := m.checkImport(importIdx, backend.ExternGlobal); err != nil {
		return err
	}
	m.mu.Lock()
	m.links[importIdx] = importLink{bits: bits, linked: true}
	m.mu.Unlock()
	return nil
}

// Linked implements backend.Module.
func (m *WazeroModule) Linked() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.links {
		if l.linked {
			n++
		}
	}
	return n
}

// importGroup collects the imports of one import module name.
type importGroup struct {
	name    string
	funcs   []int
	globals []int
}

func (m *WazeroModule) groups() []*importGroup {
	var order []*importGroup
	byName := make(map[string]*importGroup)
	for i, imp := range m.imports {
		g := byName[imp.Module]
		if g == nil {
			g = &importGroup{name: imp.Module}
			byName[imp.Module] = g
			order = append(order, g)
		}
		switch imp.Kind {
		case backend.ExternFunc:
			g.funcs = append(g.funcs, i)
		case backend.ExternGlobal:
			g.globals = append(g.globals, i)
		}
	}
	return order
}

// Instantiate implements backend.Module. stackSize and heapSize are kept
// for reporting only; wazero sizes its stacks itself and linear memory is
// bounded by the engine's memory limit and allocator.
func (m *WazeroModule) Instantiate(ctx context.Context, stackSize, heapSize uint32) (backend.Instance, error) {
	m.mu.Lock()
	if m.unloaded {
		m.mu.Unlock()
		return nil, errors.Deleted(errors.PhaseInstantiate, "module")
	}
	links := append([]importLink(nil), m.links...)
	m.mu.Unlock()

	var missing []string
	for i, imp := range m.imports {
		switch imp.Kind {
		case backend.ExternTable, backend.ExternMemory:
			return nil, &errors.InstantiationError{
				Step:        errors.StepLink,
				ImportPath:  imp.Module + "." + imp.Name,
				ImportIndex: i,
				Reason:      imp.Kind.String() + " imports are not supported",
			}
		}
		if !links[i].linked {
			missing = append(missing, imp.Module+"."+imp.Name)
		}
	}
	if len(missing) > 0 {
		return nil, &errors.MissingImportsError{Imports: missing}
	}

	ctx = experimental.WithMemoryAllocator(ctx, m.engine.alloc)
	rt := wazero.NewRuntimeWithConfig(ctx, m.engine.runtimeConfig())

	for _, g := range m.groups() {
		if err := m.instantiateGroup(ctx, rt, g, links); err != nil {
			_ = rt.Close(ctx)
			return nil, err
		}
	}

	compiled, err := rt.CompileModule(ctx, m.code)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, &errors.InstantiationError{Step: errors.StepInstantiate, Cause: err}
	}
	mod, err := instantiateModule(ctx, rt, compiled)
	if err != nil {
		_ = rt.Close(ctx)
		var ie *errors.InstantiationError
		if stderrors.As(err, &ie) {
			return nil, err
		}
		return nil, &errors.InstantiationError{Step: errors.StepInstantiate, Reason: exceptionMessage(err), Cause: err}
	}

	Logger().Debug("instantiated module",
		zap.Int("imports", len(m.imports)),
		zap.Int("exports", len(m.exports)),
		zap.Uint32("stack_size", stackSize),
		zap.Uint32("heap_size", heapSize))

	return newWazeroInstance(m, rt, mod, stackSize, heapSize), nil
}

func (m *WazeroModule) instantiateGroup(ctx context.Context, rt wazero.Runtime, g *importGroup, links []importLink) error {
	hostName := g.name
	if len(g.globals) > 0 {
		hostName = g.name + hostSuffix
	}

	if len(g.funcs) > 0 {
		hb := rt.NewHostModuleBuilder(hostName)
		for _, idx := range g.funcs {
			imp := m.imports[idx]
			hb.NewFunctionBuilder().
				WithGoModuleFunction(hostFunction(links[idx].fn, *imp.Func), apiTypes(imp.Func.Params), apiTypes(imp.Func.Results)).
				WithName(imp.Name).
				Export(m.fields[idx])
		}
		if _, err := hb.Instantiate(ctx); err != nil {
			return &errors.InstantiationError{Step: errors.StepLink, ImportPath: g.name, Reason: "host functions", Cause: err}
		}
	}

	if len(g.globals) == 0 {
		return nil
	}

	glue := wasm.NewGlueBuilder(hostName)
	for _, idx := range g.funcs {
		imp := m.imports[idx]
		glue.AddFunc(m.fields[idx], wasmFuncType(*imp.Func))
	}
	for _, idx := range g.globals {
		imp := m.imports[idx]
		glue.AddGlobal(m.fields[idx], wasm.GlobalType{ValType: wasm.ValType(imp.Global.Type), Mutable: imp.Global.Mutable}, links[idx].bits)
	}
	compiled, err := rt.CompileModule(ctx, glue.Build())
	if err != nil {
		return &errors.InstantiationError{Step: errors.StepLink, ImportPath: g.name, Reason: "compile glue module", Cause: err}
	}
	if _, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(g.name).WithStartFunctions()); err != nil {
		return &errors.InstantiationError{Step: errors.StepLink, ImportPath: g.name, Reason: "instantiate glue module", Cause: err}
	}
	debugf("linked %q: %d funcs, %d globals via glue", g.name, len(g.funcs), len(g.globals))
	return nil
}

func instantiateModule(ctx context.Context, rt wazero.Runtime, compiled wazero.CompiledModule) (mod api.Module, err error) {
	defer func() {
		if r := recover(); r != nil {
			ae, ok := r.(allocError)
			if !ok {
				panic(r)
			}
			mod, err = nil, &errors.InstantiationError{Step: errors.StepAllocate, Cause: ae}
		}
	}()
	return rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName("").WithStartFunctions())
}

// Unload implements backend.Module.
func (m *WazeroModule) Unload(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unloaded = true
	m.links = nil
	return nil
}

// hostFunction adapts a slot-based host function to wazero's stack calling
// convention.
func hostFunction(fn backend.HostFunc, sig backend.FuncSig) api.GoModuleFunc {
	nParams, _ := backend.SlotCount(sig.Params)
	nResults, _ := backend.SlotCount(sig.Results)
	n := max(nParams, nResults)
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		slots := make([]uint32, n)
		backend.PackSlots(sig.Params, stack, slots)
		if err := fn(ctx, slots); err != nil {
			panic(err)
		}
		backend.UnpackSlots(sig.Results, slots, stack)
	}
}

func externKind(kind byte) (backend.ExternKind, bool) {
	switch kind {
	case wasm.KindFunc:
		return backend.ExternFunc, true
	case wasm.KindGlobal:
		return backend.ExternGlobal, true
	case wasm.KindTable:
		return backend.ExternTable, true
	case wasm.KindMemory:
		return backend.ExternMemory, true
	default:
		return 0, false
	}
}

func valTypes(types []wasm.ValType) []backend.ValType {
	out := make([]backend.ValType, len(types))
	for i, t := range types {
		out[i] = backend.ValType(t)
	}
	return out
}

func apiTypes(types []backend.ValType) []api.ValueType {
	out := make([]api.ValueType, len(types))
	for i, t := range types {
		out[i] = api.ValueType(t)
	}
	return out
}

func fromAPITypes(types []api.ValueType) []backend.ValType {
	out := make([]backend.ValType, len(types))
	for i, t := range types {
		out[i] = backend.ValType(t)
	}
	return out
}

func wasmFuncType(sig backend.FuncSig) wasm.FuncType {
	ft := wasm.FuncType{
		Params:  make([]wasm.ValType, len(sig.Params)),
		Results: make([]wasm.ValType, len(sig.Results)),
	}
	for i, t := range sig.Params {
		ft.Params[i] = wasm.ValType(t)
	}
	for i, t := range sig.Results {
		ft.Results[i] = wasm.ValType(t)
	}
	return ft
}

func funcSig(ft *wasm.FuncType) backend.FuncSig {
	return backend.FuncSig{Params: valTypes(ft.Params), Results: valTypes(ft.Results)}
}

func globalSig(gt *wasm.GlobalType) backend.GlobalSig {
	return backend.GlobalSig{Type: backend.ValType(gt.ValType), Mutable: gt.Mutable}
}

func tableSig(tt *wasm.TableType) backend.TableSig {
	sig := backend.TableSig{Elem: backend.ValType(tt.ElemType), Min: tt.Limits.Min}
	if tt.Limits.Max != nil {
		sig.Max, sig.HasMax = *tt.Limits.Max, true
	}
	return sig
}

func memorySig(mt *wasm.MemoryType) backend.MemorySig {
	sig := backend.MemorySig{Min: mt.Limits.Min}
	if mt.Limits.Max != nil {
		sig.Max, sig.HasMax = *mt.Limits.Max, true
	}
	return sig
}

func (m *WazeroModule) String() string {
	return fmt.Sprintf("module(%s, %d imports, %d exports)", m.engine.mode, len(m.imports), len(m.exports))
}
