package capi

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vec"
)

// Instance is an instantiated module. It is owned by its store; handles to
// its exports refer back to it by store and id and fail once it is gone.
type Instance struct {
	store  *Store
	module *Module
	inst   backend.Instance
	id     uint32

	links []*Func

	mu      sync.Mutex // guards names and exports against release
	names   []string
	exports ExternVec

	calls  atomic.Int64
	closed atomic.Bool
	once   sync.Once
}

// NewInstance links imports to module's import declarations by position and
// instantiates it in store. The externs are copied; the caller keeps
// ownership of imports.
func NewInstance(ctx context.Context, store *Store, module *Module, imports []*Extern) (*Instance, error) {
	if store == nil {
		return nil, errors.NotInitialized(errors.PhaseInstantiate, "store")
	}
	if module == nil {
		return nil, errors.NotInitialized(errors.PhaseInstantiate, "module")
	}
	if module.store != store {
		return nil, errors.InvalidInput(errors.PhaseInstantiate, "module belongs to another store")
	}
	if err := store.check(errors.PhaseInstantiate); err != nil {
		return nil, err
	}

	module.linkMu.Lock()
	defer module.linkMu.Unlock()

	links, err := link(module.mod, imports)
	if err != nil {
		Logger().Error("link imports", zap.Error(err))
		return nil, err
	}

	bi, err := module.mod.Instantiate(ctx, DefaultStackSize, DefaultHeapSize)
	if err != nil {
		deleteFuncs(links)
		Logger().Error("instantiate module", zap.Error(err))
		return nil, instantiationError(err)
	}

	inst := &Instance{
		store:  store,
		module: module,
		inst:   bi,
		id:     store.reserveID(),
		links:  links,
	}
	if err := inst.bindExports(); err != nil {
		inst.release(ctx)
		Logger().Error("bind exports", zap.Error(err))
		return nil, &errors.InstantiationError{Step: errors.StepExport, Cause: err}
	}
	count := inst.exports.Len()
	if err := store.addInstance(inst); err != nil {
		inst.release(ctx)
		return nil, &errors.InstantiationError{Step: errors.StepRegister, Cause: err}
	}
	debugf("instance %d created with %d exports", inst.id, count)
	return inst, nil
}

// link records every import on the backend module. It returns the function
// copies whose trampolines were linked.
func link(mod backend.Module, imports []*Extern) ([]*Func, error) {
	decls := mod.Imports()
	var (
		links   []*Func
		missing []string
	)
	fail := func(err error) ([]*Func, error) {
		deleteFuncs(links)
		return nil, err
	}

	for i, decl := range decls {
		path := decl.Module + "." + decl.Name
		if i >= len(imports) || imports[i] == nil {
			missing = append(missing, path)
			continue
		}
		ext := imports[i]
		linkErr := func(reason string, cause error) error {
			return &errors.InstantiationError{
				Step:        errors.StepLink,
				ImportPath:  path,
				ImportIndex: i,
				Reason:      reason,
				Cause:       cause,
			}
		}

		switch decl.Kind {
		case backend.ExternFunc:
			f, err := ext.AsFunc()
			if err != nil {
				return fail(linkErr("", err))
			}
			want := funcTypeFrom(*decl.Func)
			same := want.Same(f.typ)
			if !same {
				err = errors.TypeMismatch(errors.PhaseLink, []string{decl.Module, decl.Name}, want.String(), f.typ.String())
			}
			want.Delete()
			if !same {
				return fail(linkErr("function type mismatch", err))
			}
			c, err := f.Copy()
			if err != nil {
				return fail(linkErr("", err))
			}
			links = append(links, c)
			if err := mod.LinkFunc(i, c.trampoline()); err != nil {
				return fail(linkErr("", err))
			}

		case backend.ExternGlobal:
			g, err := ext.AsGlobal()
			if err != nil {
				return fail(linkErr("", err))
			}
			want := globalTypeFrom(*decl.Global)
			same := want.Same(g.typ)
			want.Delete()
			if !same {
				return fail(linkErr("global type mismatch", nil))
			}
			v, err := g.Get()
			if err != nil {
				return fail(linkErr("", err))
			}
			if v.kind.IsRef() {
				return fail(linkErr("reference globals cannot be linked", nil))
			}
			if err := mod.LinkGlobal(i, v.bits); err != nil {
				return fail(linkErr("", err))
			}

		default:
			return fail(linkErr(decl.Kind.String()+" imports are not supported", nil))
		}
	}

	if len(missing) > 0 {
		return fail(&errors.MissingImportsError{Imports: missing})
	}
	if mod.Linked() < mod.ImportCount() {
		return fail(&errors.MissingImportsError{})
	}
	return links, nil
}

func deleteFuncs(fns []*Func) {
	for _, f := range fns {
		f.Delete()
	}
}

func instantiationError(err error) error {
	var (
		ie *errors.InstantiationError
		me *errors.MissingImportsError
	)
	if stderrors.As(err, &ie) || stderrors.As(err, &me) {
		return err
	}
	return &errors.InstantiationError{Step: errors.StepInstantiate, Cause: err}
}

// bindExports creates a handle for every backend export.
func (i *Instance) bindExports() error {
	ref := instanceRef{store: i.store, id: i.id}
	exps := i.inst.Exports()
	exports := vec.UninitializedOwning[*Extern](len(exps))
	names := make([]string, 0, len(exps))

	for _, e := range exps {
		ext, err := i.bindExport(ref, e)
		if err != nil {
			exports.Delete()
			return err
		}
		exports.Append(ext)
		names = append(names, e.Name)
	}
	i.exports = exports
	i.names = names
	return nil
}

func (i *Instance) bindExport(ref instanceRef, e backend.Export) (*Extern, error) {
	switch e.Kind {
	case backend.ExternFunc:
		sig, err := i.inst.FuncType(e.Index)
		if err != nil {
			return nil, err
		}
		ft := funcTypeFrom(sig)
		return (&Func{typ: ft, inst: ref, index: e.Index, bound: true}).AsExtern(), nil
	case backend.ExternGlobal:
		sig, err := i.inst.GlobalType(e.Index)
		if err != nil {
			return nil, err
		}
		gt := globalTypeFrom(sig)
		return (&Global{typ: gt, inst: ref, index: e.Index, bound: true}).AsExtern(), nil
	case backend.ExternTable:
		sig, err := i.inst.TableType(e.Index)
		if err != nil {
			return nil, err
		}
		tt := tableTypeFrom(sig)
		return (&Table{typ: tt, inst: ref, index: e.Index, bound: true}).AsExtern(), nil
	case backend.ExternMemory:
		sig, err := i.inst.MemoryType(e.Index)
		if err != nil {
			return nil, err
		}
		return (&Memory{typ: memoryTypeFrom(sig), inst: ref, index: e.Index, bound: true}).AsExtern(), nil
	}
	return nil, errors.New(errors.PhaseInstantiate, errors.KindUnsupported).
		Path(e.Name).
		Detail("export kind %s", e.Kind).
		Build()
}

// Module returns the module the instance was created from.
func (i *Instance) Module() *Module {
	return i.module
}

// Exports returns the instance exports in module export order. The caller
// owns the result.
func (i *Instance) Exports() (ExternVec, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed.Load() {
		return vec.EmptyOwning[*Extern](), errors.Deleted(errors.PhaseReflect, "instance")
	}
	return i.exports.Copy()
}

// Export returns a copy of the export called name.
func (i *Instance) Export(name string) (*Extern, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed.Load() {
		return nil, errors.Deleted(errors.PhaseReflect, "instance")
	}
	for k, n := range i.names {
		if n == name {
			return i.exports.At(k).Copy()
		}
	}
	return nil, errors.NotFound(errors.PhaseReflect, "export", name)
}

// Delete is a no-op. Instances are released when their store is deleted.
func (i *Instance) Delete() {}

func (i *Instance) enter() error {
	i.calls.Add(1)
	if i.closed.Load() {
		i.leave()
		return errors.Deleted(errors.PhaseCall, "instance")
	}
	return nil
}

func (i *Instance) leave() {
	if i.calls.Add(-1) == 0 && i.closed.Load() {
		i.release(context.Background())
	}
}

// close marks the instance deleted and releases it once no call is in
// flight.
func (i *Instance) close(ctx context.Context) {
	i.closed.Store(true)
	if i.calls.Load() == 0 {
		i.release(ctx)
	}
}

func (i *Instance) release(ctx context.Context) {
	i.once.Do(func() {
		i.closed.Store(true)
		if err := i.inst.Deinstantiate(ctx); err != nil {
			Logger().Warn("deinstantiate", zap.Uint32("instance", i.id), zap.Error(err))
		}
		deleteFuncs(i.links)
		i.links = nil

		i.mu.Lock()
		i.exports.Delete()
		i.names = nil
		i.mu.Unlock()
		debugf("instance %d released", i.id)
	})
}
