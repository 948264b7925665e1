package capi

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
)

// Callback implements a host function. It reads args and fills results,
// both sized by the function type. A returned error traps the calling
// guest; any error that is not a *Trap is converted into one.
type Callback func(ctx context.Context, args, results []Val) error

// CallbackWithEnv is a Callback receiving the environment given to
// NewFuncWithEnv.
type CallbackWithEnv func(ctx context.Context, env any, args, results []Val) error

// Func is a callable extern. A host function wraps a callback; a bound
// function refers to an export of an instance through a non-owning handle.
type Func struct {
	typ *FuncType

	cb        Callback
	cbEnv     CallbackWithEnv
	env       any
	finalizer func(any)
	finalize  *sync.Once // nil on copies, which never run the finalizer

	inst  instanceRef
	index uint32
	bound bool
}

// NewFunc creates a host function. The type is copied.
func NewFunc(store *Store, typ *FuncType, cb Callback) (*Func, error) {
	return newHostFunc(store, typ, cb, nil, nil, nil)
}

// NewFuncWithEnv creates a host function whose callback receives env.
// finalizer, if non-nil, is called with env when the function is deleted.
func NewFuncWithEnv(store *Store, typ *FuncType, cb CallbackWithEnv, env any, finalizer func(any)) (*Func, error) {
	return newHostFunc(store, typ, nil, cb, env, finalizer)
}

func newHostFunc(store *Store, typ *FuncType, cb Callback, cbEnv CallbackWithEnv, env any, finalizer func(any)) (*Func, error) {
	if store == nil {
		return nil, errors.NotInitialized(errors.PhaseLink, "store")
	}
	if cb == nil && cbEnv == nil {
		return nil, errors.InvalidInput(errors.PhaseLink, "nil callback")
	}
	t, err := typ.Copy()
	if err != nil {
		return nil, err
	}
	return &Func{
		typ:       t,
		cb:        cb,
		cbEnv:     cbEnv,
		env:       env,
		finalizer: finalizer,
		finalize:  &sync.Once{},
	}, nil
}

// Type returns a copy of the function type.
func (f *Func) Type() (*FuncType, error) {
	return f.typ.Copy()
}

func (f *Func) ParamArity() int  { return f.typ.params.Len() }
func (f *Func) ResultArity() int { return f.typ.results.Len() }

// Copy duplicates the function. A copy of a host function shares its
// callback and environment but never runs the finalizer.
func (f *Func) Copy() (*Func, error) {
	t, err := f.typ.Copy()
	if err != nil {
		return nil, err
	}
	c := *f
	c.typ = t
	c.finalize = nil
	return &c, nil
}

// Delete runs the finalizer of an original host function.
func (f *Func) Delete() {
	if f.finalize != nil && f.finalizer != nil {
		f.finalize.Do(func() { f.finalizer(f.env) })
	}
	f.typ.Delete()
}

func (f *Func) AsExtern() *Extern {
	return &Extern{kind: ExternFunc, fn: f}
}

func (f *Func) isHost() bool {
	return f.cb != nil || f.cbEnv != nil
}

func (f *Func) invoke(ctx context.Context, args, results []Val) error {
	if f.cbEnv != nil {
		return f.cbEnv(ctx, f.env, args, results)
	}
	return f.cb(ctx, args, results)
}

// callFrame collects the trap raised by a host function during one call
// into the backend.
type callFrame struct {
	trap *Trap
}

type callFrameKey struct{}

func withCallFrame(ctx context.Context, fr *callFrame) context.Context {
	return context.WithValue(ctx, callFrameKey{}, fr)
}

func callFrameFrom(ctx context.Context) *callFrame {
	fr, _ := ctx.Value(callFrameKey{}).(*callFrame)
	return fr
}

// Call invokes the function with args and stores its results into results.
// Both must match the function type. On failure the returned error is a
// *Trap owned by the caller.
func (f *Func) Call(ctx context.Context, args, results []Val) error {
	if len(args) != f.typ.params.Len() || len(results) < f.typ.results.Len() {
		return NewTrap("argument or result count does not match the function type")
	}
	for i, t := range f.typ.params.Slice() {
		if args[i].kind != t.kind {
			return asTrap(errors.TypeMismatch(errors.PhaseCall, nil, t.kind.String(), args[i].kind.String()))
		}
	}

	if err := f.dispatch(ctx, args, results); err != nil {
		return asTrap(err)
	}
	return nil
}

func (f *Func) dispatch(ctx context.Context, args, results []Val) error {
	switch {
	case f.isHost():
		return f.invoke(ctx, args, results)
	case f.bound:
		return f.callBound(ctx, args, results)
	default:
		return NewTrap("failed to call unlinked function")
	}
}

func (f *Func) callBound(ctx context.Context, args, results []Val) error {
	inst, err := f.inst.acquire()
	if err != nil {
		return asTrap(err)
	}
	defer inst.leave()

	nParams, err := SlotCount(f.typ.params)
	if err != nil {
		return asTrap(err)
	}
	nResults, err := SlotCount(f.typ.results)
	if err != nil {
		return asTrap(err)
	}
	argv := make([]uint32, max(nParams, nResults))
	if err := ValsToSlots(f.typ.params, args, argv); err != nil {
		return asTrap(err)
	}

	fr := &callFrame{}
	if err := inst.inst.Call(withCallFrame(ctx, fr), f.index, argv); err != nil {
		if fr.trap != nil {
			return fr.trap
		}
		if msg := backend.Exception(err); msg != "" {
			return wrapTrap(msg, err)
		}
		return wrapTrap("call failed", err)
	}

	if err := SlotsToVals(f.typ.results, argv, results); err != nil {
		return asTrap(err)
	}
	return nil
}

// trampoline adapts f to the backend's slot convention so it can be linked
// as an import. Exports of other instances are called through their own
// instance.
func (f *Func) trampoline() backend.HostFunc {
	return func(ctx context.Context, slots []uint32) error {
		args := make([]Val, f.typ.params.Len())
		results := make([]Val, f.typ.results.Len())

		err := SlotsToVals(f.typ.params, slots, args)
		if err == nil {
			err = f.dispatch(ctx, args, results)
		}
		clear(slots)
		if err == nil {
			err = ValsToSlots(f.typ.results, results, slots)
		}
		if err == nil {
			return nil
		}

		trap := asTrap(err)
		Logger().Warn("host function trapped", zap.String("message", trap.Error()))
		if fr := callFrameFrom(ctx); fr != nil {
			fr.trap = trap
		}
		return trap
	}
}
