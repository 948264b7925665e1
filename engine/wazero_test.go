package engine_test

import (
	"context"
	stderrors "errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/engine"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/testbed"
)

func newInterp(t *testing.T, cfg *engine.Config) *engine.WazeroEngine {
	t.Helper()
	ctx := context.Background()
	e, err := engine.NewInterp(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close(ctx) })
	return e
}

func findExport(t *testing.T, exports []backend.Export, name string) backend.Export {
	t.Helper()
	for _, e := range exports {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("export %q not found", name)
	return backend.Export{}
}

func TestNew(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		cfg  *engine.Config
		name string
	}{
		{nil, "nil config"},
		{&engine.Config{}, "default config"},
		{&engine.Config{MemoryLimitPages: 256}, "16MB limit"},
		{&engine.Config{CacheDir: t.TempDir()}, "file cache"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e, err := engine.NewInterp(ctx, tc.cfg)
			require.NoError(t, err)
			require.Equal(t, backend.ModeInterp, e.Mode())
			require.NotNil(t, e.Cache())
			require.NoError(t, e.Close(ctx))
			require.NoError(t, e.Close(ctx), "second close is a no-op")
		})
	}

	_, err := engine.New(ctx, backend.Mode(9), nil)
	require.Error(t, err)
}

func TestLoad_Reflect(t *testing.T) {
	e := newInterp(t, nil)
	m, err := e.Load(context.Background(), testbed.State())
	require.NoError(t, err)

	imports := m.Imports()
	require.Len(t, imports, 2)
	assert.Equal(t, backend.ExternGlobal, imports[0].Kind)
	assert.Equal(t, backend.GlobalSig{Type: backend.TypeI32}, *imports[0].Global)
	assert.Equal(t, backend.ExternFunc, imports[1].Kind)
	assert.Equal(t, []backend.ValType{backend.TypeI32}, imports[1].Func.Params)
	assert.Equal(t, 2, m.ImportCount())

	exports := m.Exports()
	require.Len(t, exports, 5)
	// interpreter indices live in each kind's index space, imports first
	assert.Equal(t, uint32(1), findExport(t, exports, "get").Index)
	assert.Equal(t, uint32(2), findExport(t, exports, "limit").Index)

	ft, err := m.ExportFuncType(findExport(t, exports, "get"))
	require.NoError(t, err)
	assert.Empty(t, ft.Params)
	assert.Equal(t, []backend.ValType{backend.TypeI32}, ft.Results)

	gt, err := m.ExportGlobalType(findExport(t, exports, "counter"))
	require.NoError(t, err)
	assert.Equal(t, backend.GlobalSig{Type: backend.TypeI64, Mutable: true}, gt)

	tt, err := m.ExportTableType(findExport(t, exports, "tbl"))
	require.NoError(t, err)
	assert.Equal(t, backend.TableSig{Elem: backend.TypeFuncRef, Min: 2, Max: 8, HasMax: true}, tt)

	mt, err := m.ExportMemoryType(findExport(t, exports, "mem"))
	require.NoError(t, err)
	assert.Equal(t, backend.MemorySig{Min: 1, Max: 4, HasMax: true}, mt)

	_, err = m.ExportFuncType(backend.Export{Name: "nope"})
	require.Error(t, err)
}

func TestLoad_Rejects(t *testing.T) {
	e := newInterp(t, nil)
	ctx := context.Background()

	_, err := e.Load(ctx, []byte("not wasm"))
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindModeMismatch})

	_, err = e.Load(ctx, []byte{0x00, 'a', 'o', 't', 1, 0, 0, 0})
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindModeMismatch})

	// valid header, truncated section
	_, err = e.Load(ctx, []byte{0x00, 'a', 's', 'm', 1, 0, 0, 0, 1, 5})
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindInvalidData})

	require.NoError(t, e.Close(ctx))
	_, err = e.Load(ctx, testbed.Empty())
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindDeleted})
}

func TestLinkAndCall(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Link())
	require.NoError(t, err)

	require.Error(t, m.LinkGlobal(0, 1), "import 0 is a function")
	require.Error(t, m.LinkFunc(3, nil))

	require.NoError(t, m.LinkFunc(0, func(_ context.Context, slots []uint32) error {
		slots[0]++
		return nil
	}))
	require.Equal(t, 1, m.Linked())

	inst, err := m.Instantiate(ctx, 16*1024, 16*1024)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	run := findExport(t, inst.Exports(), "run")
	argv := []uint32{41}
	require.NoError(t, inst.Call(ctx, run.Index, argv))
	require.Equal(t, uint32(42), argv[0])
}

func TestCall_HostError(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Link())
	require.NoError(t, err)

	boom := stderrors.New("boom")
	require.NoError(t, m.LinkFunc(0, func(context.Context, []uint32) error { return boom }))
	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	run := findExport(t, inst.Exports(), "run")
	err = inst.Call(ctx, run.Index, []uint32{1})
	require.ErrorIs(t, err, boom)
	require.Equal(t, "boom", backend.Exception(err))
}

func TestCall_Unreachable(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Crash())
	require.NoError(t, err)
	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	crash := findExport(t, inst.Exports(), "crash")
	err = inst.Call(ctx, crash.Index, nil)
	require.Error(t, err)
	require.Contains(t, backend.Exception(err), "unreachable")
}

func TestCall_ExceptionPerCall(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Crash())
	require.NoError(t, err)
	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	crash := findExport(t, inst.Exports(), "crash")
	ok := findExport(t, inst.Exports(), "ok")

	var wg sync.WaitGroup
	msgs := make([]string, 8)
	for g := range msgs {
		g := g
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 200; n++ {
				if g%2 == 1 {
					if err := inst.Call(ctx, ok.Index, nil); err != nil {
						msgs[g] = "ok failed: " + err.Error()
						return
					}
					continue
				}
				err := inst.Call(ctx, crash.Index, nil)
				if msg := backend.Exception(err); !strings.Contains(msg, "unreachable") {
					msgs[g] = "lost exception: " + msg
					return
				}
			}
		}()
	}
	wg.Wait()
	for _, msg := range msgs {
		require.Empty(t, msg)
	}
}

func TestCall_WideSlots(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Mix())
	require.NoError(t, err)
	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	wide := findExport(t, inst.Exports(), "wide")
	v := uint64(9000000000)
	argv := []uint32{uint32(v), uint32(v >> 32)}
	require.NoError(t, inst.Call(ctx, wide.Index, argv))
	require.Equal(t, v+1, uint64(argv[0])|uint64(argv[1])<<32)

	require.Error(t, inst.Call(ctx, wide.Index, []uint32{1}), "argv too short")
	require.Error(t, inst.Call(ctx, 99, argv), "no such function")
}

func TestInstantiate_MissingImport(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Link())
	require.NoError(t, err)

	_, err = m.Instantiate(ctx, 0, 0)
	var missing *errors.MissingImportsError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, []string{"env.inc"}, missing.Imports)
}

func TestInstantiate_TableImport(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.TableImport())
	require.NoError(t, err)
	require.Equal(t, backend.ExternTable, m.Imports()[0].Kind)

	_, err = m.Instantiate(ctx, 0, 0)
	var ie *errors.InstantiationError
	require.ErrorAs(t, err, &ie)
	require.Equal(t, errors.StepLink, ie.Step)
	require.Equal(t, "env.tbl", ie.ImportPath)
}

func TestState_GlobalsAndMemory(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.State())
	require.NoError(t, err)

	require.NoError(t, m.LinkGlobal(0, 99))
	require.NoError(t, m.LinkFunc(1, func(_ context.Context, slots []uint32) error {
		slots[0] *= 2
		return nil
	}))
	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	exports := inst.Exports()
	argv := make([]uint32, 1)
	require.NoError(t, inst.Call(ctx, findExport(t, exports, "get").Index, argv))
	require.Equal(t, uint32(198), argv[0])

	counter := findExport(t, exports, "counter").Index
	v, err := inst.GlobalGet(counter)
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
	require.NoError(t, inst.GlobalSet(counter, 1<<40))
	v, err = inst.GlobalGet(counter)
	require.NoError(t, err)
	require.Equal(t, uint64(1<<40), v)
	require.Error(t, inst.GlobalSet(findExport(t, exports, "limit").Index, 0), "immutable")

	mem := findExport(t, exports, "mem").Index
	data, err := inst.MemoryData(mem)
	require.NoError(t, err)
	require.Equal(t, "hello", string(data[:5]))
	size, err := inst.MemoryDataSize(mem)
	require.NoError(t, err)
	require.Equal(t, 65536, size)

	prev, err := inst.MemoryGrow(mem, 1)
	require.NoError(t, err)
	require.Equal(t, uint32(1), prev)
	mt, err := inst.MemoryType(mem)
	require.NoError(t, err)
	require.Equal(t, uint32(2), mt.Min)
	_, err = inst.MemoryGrow(mem, 10)
	require.Error(t, err, "beyond declared max")

	tt, err := inst.TableType(findExport(t, exports, "tbl").Index)
	require.NoError(t, err)
	require.Equal(t, uint32(2), tt.Min)

	require.NoError(t, inst.Deinstantiate(ctx))
	require.NoError(t, inst.Deinstantiate(ctx))
	_, err = inst.GlobalGet(counter)
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindDeleted})
	require.ErrorIs(t, inst.Call(ctx, 1, argv), &errors.Error{Phase: errors.PhaseCall, Kind: errors.KindDeleted})
}

func TestInstantiate_Independent(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.State())
	require.NoError(t, err)
	require.NoError(t, m.LinkGlobal(0, 1))
	require.NoError(t, m.LinkFunc(1, func(context.Context, []uint32) error { return nil }))

	a, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer a.Deinstantiate(ctx)
	b, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer b.Deinstantiate(ctx)

	counter := findExport(t, a.Exports(), "counter").Index
	require.NoError(t, a.GlobalSet(counter, 7))
	v, err := b.GlobalGet(counter)
	require.NoError(t, err)
	require.Equal(t, uint64(5), v)
}

func TestModule_Unload(t *testing.T) {
	ctx := context.Background()
	e := newInterp(t, nil)
	m, err := e.Load(ctx, testbed.Empty())
	require.NoError(t, err)
	require.NoError(t, m.Unload(ctx))
	_, err = m.Instantiate(ctx, 0, 0)
	require.Error(t, err)
}

func TestPoolAllocator_Engine(t *testing.T) {
	ctx := context.Background()
	pool := engine.NewPoolAllocator(2 * 65536)
	e := newInterp(t, &engine.Config{Allocator: pool})

	m, err := e.Load(ctx, testbed.State())
	require.NoError(t, err)
	require.NoError(t, m.LinkGlobal(0, 1))
	require.NoError(t, m.LinkFunc(1, func(context.Context, []uint32) error { return nil }))

	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(65536), pool.Used())

	mem := findExport(t, inst.Exports(), "mem").Index
	_, err = inst.MemoryGrow(mem, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(2*65536), pool.Used())
	_, err = inst.MemoryGrow(mem, 1)
	require.Error(t, err, "pool exhausted")

	require.NoError(t, inst.Deinstantiate(ctx))
	require.Zero(t, pool.Used())
}

func TestAOT(t *testing.T) {
	if !engine.AOTSupported() {
		t.Skip("native compilation not supported on " + engine.Target())
	}
	ctx := context.Background()
	e, err := engine.NewAOT(ctx, nil)
	require.NoError(t, err)
	defer e.Close(ctx)

	_, err = e.Load(ctx, testbed.Mix())
	require.ErrorIs(t, err, &errors.Error{Phase: errors.PhaseLoad, Kind: errors.KindModeMismatch})

	pkg, err := engine.CompileAOT(ctx, testbed.State(), e.Cache())
	require.NoError(t, err)
	require.Equal(t, backend.PackageAOT, backend.Classify(pkg))

	m, err := e.Load(ctx, pkg)
	require.NoError(t, err)

	// AOT indices are ordinals within each kind
	exports := m.Exports()
	assert.Equal(t, uint32(0), findExport(t, exports, "get").Index)
	assert.Equal(t, uint32(0), findExport(t, exports, "counter").Index)
	assert.Equal(t, uint32(1), findExport(t, exports, "limit").Index)
	assert.Equal(t, 2, m.ImportCount())

	require.NoError(t, m.LinkGlobal(0, 20))
	require.NoError(t, m.LinkFunc(1, func(_ context.Context, slots []uint32) error {
		slots[0] += 2
		return nil
	}))
	inst, err := m.Instantiate(ctx, 0, 0)
	require.NoError(t, err)
	defer inst.Deinstantiate(ctx)

	argv := make([]uint32, 1)
	require.NoError(t, inst.Call(ctx, 0, argv))
	require.Equal(t, uint32(22), argv[0])

	v, err := inst.GlobalGet(1)
	require.NoError(t, err)
	require.Equal(t, uint64(0x3fc00000), v)
}
