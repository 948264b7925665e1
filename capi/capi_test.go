package capi_test

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/backend/backendtest"
	"github.com/wippyai/wasm-capi/capi"
	"github.com/wippyai/wasm-capi/engine"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/testbed"
)

// newEngine creates the process engine over a counting interpreter backend.
// Tests using it must not run in parallel.
func newEngine(t *testing.T) (*capi.Engine, *backendtest.Counter) {
	t.Helper()
	ctx := context.Background()
	b, err := engine.NewInterp(ctx, nil)
	require.NoError(t, err)
	c := backendtest.New(b)
	e, err := capi.NewEngineWithConfig(ctx, capi.Config{Backend: c})
	require.NoError(t, err)
	t.Cleanup(func() { e.Delete(ctx) })
	return e, c
}

func newStore(t *testing.T) (*capi.Store, *backendtest.Counter) {
	t.Helper()
	e, c := newEngine(t)
	s, err := capi.NewStore(e)
	require.NoError(t, err)
	return s, c
}

func unary(from, to capi.ValKind) *capi.FuncType {
	return capi.NewFuncType(capi.ValTypes(from), capi.ValTypes(to))
}

func exportFunc(t *testing.T, inst *capi.Instance, name string) *capi.Func {
	t.Helper()
	ext, err := inst.Export(name)
	require.NoError(t, err)
	f, err := ext.AsFunc()
	require.NoError(t, err)
	return f
}

func incFunc(t *testing.T, s *capi.Store) *capi.Func {
	t.Helper()
	f, err := capi.NewFunc(s, unary(capi.KindI32, capi.KindI32), func(_ context.Context, args, results []capi.Val) error {
		results[0] = capi.ValI32(args[0].I32() + 1)
		return nil
	})
	require.NoError(t, err)
	return f
}

func TestEngine_Singleton(t *testing.T) {
	ctx := context.Background()
	e1, c := newEngine(t)

	e2, err := capi.NewEngine(ctx)
	require.NoError(t, err)
	require.Same(t, e1, e2, "a live engine is returned as is")
	assert.Equal(t, backend.ModeInterp, e2.Mode())

	e1.Delete(ctx)
	assert.True(t, c.Closed())
	_, err = capi.NewStore(e1)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseStore, Kind: errors.KindNotInitialized})

	e3, err := capi.NewEngine(ctx)
	require.NoError(t, err)
	defer e3.Delete(ctx)
	require.NotSame(t, e1, e3)
	e1.Delete(ctx) // deleting a stale engine leaves the live one alone

	s, err := capi.NewStore(e3)
	require.NoError(t, err)
	_, err = capi.NewModule(ctx, s, testbed.Empty())
	require.NoError(t, err)
}

func TestNewEngineWithArgs(t *testing.T) {
	ctx := context.Background()

	_, err := capi.NewEngineWithArgs(ctx, capi.AllocPool, capi.AllocOptions{}, backend.ModeInterp)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseEngine, Kind: errors.KindInvalidInput})

	_, err = capi.NewEngineWithArgs(ctx, capi.AllocAllocator, capi.AllocOptions{}, backend.ModeInterp)
	require.Error(t, err)

	require.Panics(t, func() {
		_, _ = capi.NewEngineWithArgs(ctx, capi.AllocSystem, capi.AllocOptions{}, backend.Mode(7))
	})

	pool := engine.NewPoolAllocator(4 * capi.PageSize)
	e, err := capi.NewEngineWithArgs(ctx, capi.AllocAllocator, capi.AllocOptions{Allocator: pool}, backend.ModeInterp)
	require.NoError(t, err)
	defer e.Delete(ctx)

	s, err := capi.NewStore(e)
	require.NoError(t, err)
	m, err := capi.NewModule(ctx, s, testbed.Mix())
	require.NoError(t, err)
	_, err = capi.NewInstance(ctx, s, m, nil)
	require.NoError(t, err)
	assert.Zero(t, pool.Used(), "module without memory allocates nothing")
}

func TestStore_DeleteCascades(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	link, err := capi.NewModule(ctx, s, testbed.Link())
	require.NoError(t, err)
	mix, err := capi.NewModule(ctx, s, testbed.Mix())
	require.NoError(t, err)
	inst, err := capi.NewInstance(ctx, s, mix, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, c.LiveModules())
	assert.Equal(t, 1, c.LiveInstances())

	wide := exportFunc(t, inst, "wide")
	inst.Delete()
	link.Delete()
	assert.Equal(t, 1, c.LiveInstances(), "Delete on instances and modules is a no-op")

	s.Delete(ctx)
	assert.Zero(t, c.LiveModules())
	assert.Zero(t, c.LiveInstances())

	results := make([]capi.Val, 1)
	err = wide.Call(ctx, []capi.Val{capi.ValI64(1)}, results)
	var trap *capi.Trap
	require.ErrorAs(t, err, &trap)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindDeleted})

	_, err = link.Imports()
	require.Error(t, err)
	_, err = capi.NewModule(ctx, s, testbed.Empty())
	require.Error(t, err)
	_, err = inst.Exports()
	require.Error(t, err)

	s.Delete(ctx)
}

func TestNewModule_Rejects(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)

	_, err := capi.NewModule(ctx, s, []byte("not wasm"))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindModeMismatch})

	_, err = capi.NewModule(ctx, s, append([]byte{0x00, 'a', 'o', 't'}, 1, 0, 0, 0))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindModeMismatch})

	_, err = capi.NewModule(ctx, s, []byte{0x00, 'a', 's', 'm', 1, 0, 0, 0, 1, 5})
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData})

	assert.Zero(t, c.Loads())
}

func TestModule_Reflect(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.State())
	require.NoError(t, err)
	assert.Equal(t, testbed.State(), m.Binary().Slice())

	imports, err := m.Imports()
	require.NoError(t, err)
	defer imports.Delete()
	require.Equal(t, 2, imports.Len())
	assert.Equal(t, "env", imports.At(0).ModuleName())
	assert.Equal(t, "base", imports.At(0).FieldName())
	gt, err := imports.At(0).Type().GlobalType()
	require.NoError(t, err)
	assert.Equal(t, capi.KindI32, gt.Content().Kind())
	assert.Equal(t, capi.Const, gt.Mutability())
	ft, err := imports.At(1).Type().FuncType()
	require.NoError(t, err)
	assert.True(t, ft.Same(unary(capi.KindI32, capi.KindI32)))

	exports, err := m.Exports()
	require.NoError(t, err)
	defer exports.Delete()
	want := []struct {
		name string
		kind capi.ExternKind
	}{
		{"get", capi.ExternFunc},
		{"counter", capi.ExternGlobal},
		{"limit", capi.ExternGlobal},
		{"mem", capi.ExternMemory},
		{"tbl", capi.ExternTable},
	}
	require.Equal(t, len(want), exports.Len())
	for i, w := range want {
		assert.Equal(t, w.name, exports.At(i).FieldName())
		assert.Equal(t, w.kind, exports.At(i).Type().Kind())
	}

	tt, err := exports.At(4).Type().TableType()
	require.NoError(t, err)
	assert.Equal(t, capi.Limits{Min: 2, Max: 8}, tt.Limits())
	assert.Equal(t, capi.KindFuncRef, tt.Element().Kind())
	mt, err := exports.At(3).Type().MemoryType()
	require.NoError(t, err)
	assert.Equal(t, capi.Limits{Min: 1, Max: 4}, mt.Limits())

	again, err := m.Exports()
	require.NoError(t, err)
	require.NotSame(t, exports.At(0), again.At(0), "every call returns fresh copies")
	assert.True(t, exports.At(0).Type().Same(again.At(0).Type()))
}

func TestFunc_LinkAndCall(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.Link())
	require.NoError(t, err)

	inc := incFunc(t, s)
	inst, err := capi.NewInstance(ctx, s, m, []*capi.Extern{inc.AsExtern()})
	require.NoError(t, err)
	inc.Delete() // the instance holds its own copy

	run := exportFunc(t, inst, "run")
	assert.Equal(t, 1, run.ParamArity())
	assert.Equal(t, 1, run.ResultArity())

	results := make([]capi.Val, 1)
	require.NoError(t, run.Call(ctx, []capi.Val{capi.ValI32(41)}, results))
	assert.Equal(t, int32(42), results[0].I32())

	require.Error(t, run.Call(ctx, []capi.Val{capi.ValI64(41)}, results), "kind mismatch")
	require.Error(t, run.Call(ctx, nil, results), "arity mismatch")
}

func TestFunc_CallMix(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.Mix())
	require.NoError(t, err)
	inst, err := capi.NewInstance(ctx, s, m, nil)
	require.NoError(t, err)

	mix := exportFunc(t, inst, "mix")
	results := make([]capi.Val, 2)
	args := []capi.Val{capi.ValI32(7), capi.ValI64(9000000000), capi.ValF32(1.5), capi.ValF64(2.25)}
	require.NoError(t, mix.Call(ctx, args, results))
	assert.Equal(t, capi.KindF64, results[0].Kind())
	assert.Equal(t, 2.25, results[0].F64())
	assert.Equal(t, int32(7), results[1].I32())

	wide := exportFunc(t, inst, "wide")
	out := make([]capi.Val, 1)
	require.NoError(t, wide.Call(ctx, []capi.Val{capi.ValI64(-1 << 40)}, out))
	assert.Equal(t, int64(-1<<40+1), out[0].I64())
}

func TestFunc_HostTrap(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.Link())
	require.NoError(t, err)

	boom := stderrors.New("boom")
	f, err := capi.NewFunc(s, unary(capi.KindI32, capi.KindI32), func(context.Context, []capi.Val, []capi.Val) error {
		return boom
	})
	require.NoError(t, err)
	inst, err := capi.NewInstance(ctx, s, m, []*capi.Extern{f.AsExtern()})
	require.NoError(t, err)

	err = exportFunc(t, inst, "run").Call(ctx, []capi.Val{capi.ValI32(1)}, make([]capi.Val, 1))
	var trap *capi.Trap
	require.ErrorAs(t, err, &trap)
	assert.Equal(t, "boom", string(trap.Message().Slice()))
	assert.ErrorIs(t, err, boom)

	own := capi.NewTrap("mine")
	f2, err := capi.NewFunc(s, unary(capi.KindI32, capi.KindI32), func(context.Context, []capi.Val, []capi.Val) error {
		return own
	})
	require.NoError(t, err)
	inst2, err := capi.NewInstance(ctx, s, m, []*capi.Extern{f2.AsExtern()})
	require.NoError(t, err)
	err = exportFunc(t, inst2, "run").Call(ctx, []capi.Val{capi.ValI32(1)}, make([]capi.Val, 1))
	require.ErrorAs(t, err, &trap)
	assert.Same(t, own, trap, "a host trap reaches the caller unchanged")
}

func TestFunc_Unreachable(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.Crash())
	require.NoError(t, err)
	inst, err := capi.NewInstance(ctx, s, m, nil)
	require.NoError(t, err)

	err = exportFunc(t, inst, "crash").Call(ctx, nil, nil)
	var trap *capi.Trap
	require.ErrorAs(t, err, &trap)
	assert.Contains(t, trap.Error(), "unreachable")
}

func TestFunc_HostDirect(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	inc := incFunc(t, s)
	results := make([]capi.Val, 1)
	require.NoError(t, inc.Call(ctx, []capi.Val{capi.ValI32(1)}, results))
	assert.Equal(t, int32(2), results[0].I32())

	_, err := capi.NewFunc(s, unary(capi.KindI32, capi.KindI32), nil)
	require.Error(t, err)
}

func TestFunc_EnvFinalizer(t *testing.T) {
	s, _ := newStore(t)

	var finalized []any
	env := &struct{ n int }{n: 3}
	f, err := capi.NewFuncWithEnv(s, unary(capi.KindI32, capi.KindI32),
		func(_ context.Context, env any, args, results []capi.Val) error {
			results[0] = capi.ValI32(args[0].I32() * int32(env.(*struct{ n int }).n))
			return nil
		},
		env,
		func(e any) { finalized = append(finalized, e) })
	require.NoError(t, err)

	c, err := f.Copy()
	require.NoError(t, err)
	results := make([]capi.Val, 1)
	require.NoError(t, c.Call(context.Background(), []capi.Val{capi.ValI32(5)}, results))
	assert.Equal(t, int32(15), results[0].I32())

	c.Delete()
	assert.Empty(t, finalized, "copies do not run the finalizer")
	f.Delete()
	f.Delete()
	require.Len(t, finalized, 1)
	assert.Same(t, env, finalized[0])
}

func TestNewInstance_LinkErrors(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)
	link, err := capi.NewModule(ctx, s, testbed.Link())
	require.NoError(t, err)

	_, err = capi.NewInstance(ctx, s, link, nil)
	var missing *errors.MissingImportsError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, []string{"env.inc"}, missing.Imports)

	wrong, err := capi.NewFunc(s, unary(capi.KindI64, capi.KindI64), func(context.Context, []capi.Val, []capi.Val) error { return nil })
	require.NoError(t, err)
	_, err = capi.NewInstance(ctx, s, link, []*capi.Extern{wrong.AsExtern()})
	var ie *errors.InstantiationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, errors.StepLink, ie.Step)
	assert.Equal(t, "env.inc", ie.ImportPath)

	g, err := capi.NewGlobal(s, capi.NewGlobalType(capi.NewValType(capi.KindI32), capi.Const), capi.ValI32(1))
	require.NoError(t, err)
	_, err = capi.NewInstance(ctx, s, link, []*capi.Extern{g.AsExtern()})
	require.ErrorAs(t, err, &ie)

	tblMod, err := capi.NewModule(ctx, s, testbed.TableImport())
	require.NoError(t, err)
	tbl, err := capi.NewTable(s, capi.NewTableType(capi.NewValType(capi.KindFuncRef), capi.Limits{Min: 1, Max: capi.LimitsMaxDefault}), capi.ValFuncRef(nil))
	require.NoError(t, err)
	_, err = capi.NewInstance(ctx, s, tblMod, []*capi.Extern{tbl.AsExtern()})
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, errors.StepLink, ie.Step)

	assert.Zero(t, c.Instantiates())
	assert.Zero(t, c.LiveInstances())
}

func TestNewInstance_DuplicateImports(t *testing.T) {
	for _, globals := range []bool{false, true} {
		name := "funcs"
		if globals {
			name = "funcs and globals"
		}
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s, _ := newStore(t)
			m, err := capi.NewModule(ctx, s, testbed.Duplicates(globals))
			require.NoError(t, err)

			imports, err := m.Imports()
			require.NoError(t, err)
			for _, it := range imports.Slice()[:2] {
				assert.Equal(t, "f", it.FieldName(), "reflection keeps declared names")
			}
			imports.Delete()

			constant := func(v int32) *capi.Extern {
				f, err := capi.NewFunc(s, capi.NewFuncType(capi.ValTypes(), capi.ValTypes(capi.KindI32)), func(_ context.Context, _, results []capi.Val) error {
					results[0] = capi.ValI32(v)
					return nil
				})
				require.NoError(t, err)
				return f.AsExtern()
			}
			externs := []*capi.Extern{constant(100), constant(200)}
			want := map[string]int32{"a": 100, "b": 200}
			if globals {
				for _, v := range []int32{10, 20} {
					g, err := capi.NewGlobal(s, capi.NewGlobalType(capi.NewValType(capi.KindI32), capi.Const), capi.ValI32(v))
					require.NoError(t, err)
					externs = append(externs, g.AsExtern())
				}
				want["c"], want["d"] = 10, 20
			}

			inst, err := capi.NewInstance(ctx, s, m, externs)
			require.NoError(t, err)
			results := make([]capi.Val, 1)
			for export, v := range want {
				require.NoError(t, exportFunc(t, inst, export).Call(ctx, nil, results))
				assert.Equal(t, v, results[0].I32(), "%s reads its own import slot", export)
			}
		})
	}
}

func TestModule_UnsupportedValueType(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.SIMD())
	require.NoError(t, err)

	exports, err := m.Exports()
	require.NoError(t, err)
	require.Equal(t, 2, exports.Len())
	ft, err := exports.At(0).Type().FuncType()
	require.NoError(t, err)
	assert.Equal(t, capi.KindAnyRef, ft.Params().At(0).Kind(), "v128 is reported as anyref")
	exports.Delete()

	inst, err := capi.NewInstance(ctx, s, m, nil)
	require.NoError(t, err)

	results := make([]capi.Val, 1)
	require.NoError(t, exportFunc(t, inst, "seven").Call(ctx, nil, results))
	assert.Equal(t, int32(7), results[0].I32())

	err = exportFunc(t, inst, "simd").Call(ctx, []capi.Val{capi.ValAnyRef(nil)}, nil)
	var trap *capi.Trap
	require.ErrorAs(t, err, &trap)
	assert.Contains(t, trap.Error(), "slots")
}

func TestNewInstance_BackendFailure(t *testing.T) {
	ctx := context.Background()
	s, c := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.Mix())
	require.NoError(t, err)

	c.InstantiateErr = stderrors.New("out of slots")
	_, err = capi.NewInstance(ctx, s, m, nil)
	var ie *errors.InstantiationError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, errors.StepInstantiate, ie.Step)
	assert.ErrorIs(t, err, c.InstantiateErr)

	c.InstantiateErr = nil
	_, err = capi.NewInstance(ctx, s, m, nil)
	require.NoError(t, err)
}

func TestInstance_State(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.State())
	require.NoError(t, err)

	base, err := capi.NewGlobal(s, capi.NewGlobalType(capi.NewValType(capi.KindI32), capi.Const), capi.ValI32(99))
	require.NoError(t, err)
	double, err := capi.NewFunc(s, unary(capi.KindI32, capi.KindI32), func(_ context.Context, args, results []capi.Val) error {
		results[0] = capi.ValI32(args[0].I32() * 2)
		return nil
	})
	require.NoError(t, err)

	inst, err := capi.NewInstance(ctx, s, m, []*capi.Extern{base.AsExtern(), double.AsExtern()})
	require.NoError(t, err)

	results := make([]capi.Val, 1)
	require.NoError(t, exportFunc(t, inst, "get").Call(ctx, nil, results))
	assert.Equal(t, int32(198), results[0].I32())

	exports, err := inst.Exports()
	require.NoError(t, err)
	require.Equal(t, 5, exports.Len())

	counter, err := exports.At(1).AsGlobal()
	require.NoError(t, err)
	v, err := counter.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v.I64())
	require.NoError(t, counter.Set(capi.ValI64(1<<40)))
	v, err = counter.Get()
	require.NoError(t, err)
	assert.Equal(t, int64(1<<40), v.I64())
	require.Error(t, counter.Set(capi.ValI32(1)), "kind mismatch")

	ext, err := inst.Export("counter")
	require.NoError(t, err)
	other, err := ext.AsGlobal()
	require.NoError(t, err)
	assert.True(t, counter.Same(other))

	limit, err := exports.At(2).AsGlobal()
	require.NoError(t, err)
	require.Error(t, limit.Set(capi.ValF32(2)))
	v, err = limit.Get()
	require.NoError(t, err)
	assert.Equal(t, float32(1.5), v.F32())
	assert.False(t, counter.Same(limit))

	mem, err := exports.At(3).AsMemory()
	require.NoError(t, err)
	data, err := mem.Data()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data[:5]))
	prev, err := mem.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), prev)
	pages, err := mem.Size()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), pages)
	mt, err := mem.Type()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), mt.Limits().Min)
	_, err = mem.Grow(10)
	require.Error(t, err, "beyond the declared maximum")

	tbl, err := exports.At(4).AsTable()
	require.NoError(t, err)
	size, err := tbl.Size()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), size)

	_, err = exports.At(4).AsFunc()
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindTypeMismatch})

	_, err = inst.Export("nope")
	require.Error(t, err)
}

func TestInstance_ExportAsImport(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)

	link, err := capi.NewModule(ctx, s, testbed.Link())
	require.NoError(t, err)
	first, err := capi.NewInstance(ctx, s, link, []*capi.Extern{incFunc(t, s).AsExtern()})
	require.NoError(t, err)

	// run of the first instance becomes env.inc of the second
	second, err := capi.NewInstance(ctx, s, link, []*capi.Extern{exportFunc(t, first, "run").AsExtern()})
	require.NoError(t, err)

	results := make([]capi.Val, 1)
	require.NoError(t, exportFunc(t, second, "run").Call(ctx, []capi.Val{capi.ValI32(1)}, results))
	assert.Equal(t, int32(2), results[0].I32())
}

func TestInstance_ConcurrentCalls(t *testing.T) {
	ctx := context.Background()
	s, _ := newStore(t)
	m, err := capi.NewModule(ctx, s, testbed.Link())
	require.NoError(t, err)
	inst, err := capi.NewInstance(ctx, s, m, []*capi.Extern{incFunc(t, s).AsExtern()})
	require.NoError(t, err)
	run := exportFunc(t, inst, "run")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for g := range errs {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			results := make([]capi.Val, 1)
			for i := int32(0); i < 50; i++ {
				if err := run.Call(ctx, []capi.Val{capi.ValI32(i)}, results); err != nil {
					errs[g] = err
					return
				}
				if results[0].I32() != i+1 {
					errs[g] = stderrors.New("wrong result")
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
}

func TestHostExterns(t *testing.T) {
	s, _ := newStore(t)

	g, err := capi.NewGlobal(s, capi.NewGlobalType(capi.NewValType(capi.KindF64), capi.Var), capi.ValF64(1))
	require.NoError(t, err)
	require.NoError(t, g.Set(capi.ValF64(2.5)))
	v, err := g.Get()
	require.NoError(t, err)
	assert.Equal(t, 2.5, v.F64())
	c, err := g.Copy()
	require.NoError(t, err)
	assert.True(t, g.Same(c))

	_, err = capi.NewGlobal(s, capi.NewGlobalType(capi.NewValType(capi.KindF64), capi.Var), capi.ValI32(1))
	require.Error(t, err)

	mem, err := capi.NewMemory(s, capi.NewMemoryType(capi.Limits{Min: 1, Max: 2}))
	require.NoError(t, err)
	n, err := mem.DataSize()
	require.NoError(t, err)
	assert.Equal(t, capi.PageSize, n)
	prev, err := mem.Grow(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), prev)
	_, err = mem.Grow(1)
	require.Error(t, err)

	tbl, err := capi.NewTable(s, capi.NewTableType(capi.NewValType(capi.KindAnyRef), capi.Limits{Min: 3, Max: capi.LimitsMaxDefault}), capi.ValAnyRef(nil))
	require.NoError(t, err)
	require.NoError(t, tbl.Set(1, capi.ValAnyRef("x")))
	e, err := tbl.Get(1)
	require.NoError(t, err)
	assert.Equal(t, "x", e.Ref())
	_, err = tbl.Get(3)
	require.Error(t, err)

	ext := tbl.AsExtern()
	typ, err := ext.Type()
	require.NoError(t, err)
	assert.Equal(t, capi.ExternTable, typ.Kind())
	_, err = ext.AsMemory()
	require.Error(t, err)
}
