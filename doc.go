// Package wasmcapi provides a Go embedding API for WebAssembly core modules,
// modeled on the standard WebAssembly C API and executed by wazero.
//
// # Architecture Overview
//
//	wasmcapi/            Root package with the Memory and Allocator interfaces
//	├── capi/            Engine, Store, Module, Instance, externs, values, traps
//	├── backend/         Narrow interface between capi and an execution backend
//	├── engine/          wazero interpreter and AOT backends
//	├── wasm/            Core wasm binary decoding and encoding
//	├── vec/             Plain and owning vectors
//	├── errors/          Structured error types for debugging
//	└── cmd/capi/        inspect, run and compile from the command line
//
// # Quick Start
//
// Link a host function and call an export:
//
//	eng, _ := capi.NewEngine(ctx)
//	defer eng.Delete(ctx)
//	store, _ := capi.NewStore(eng)
//
//	mod, err := capi.NewModule(ctx, store, wasmBytes)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	inc, _ := capi.NewFunc(store,
//	    capi.NewFuncType(capi.ValTypes(capi.KindI32), capi.ValTypes(capi.KindI32)),
//	    func(ctx context.Context, args, results []capi.Val) error {
//	        results[0] = capi.ValI32(args[0].I32() + 1)
//	        return nil
//	    })
//
//	inst, err := capi.NewInstance(ctx, store, mod, []*capi.Extern{inc.AsExtern()})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ext, _ := inst.Export("run")
//	run, _ := ext.AsFunc()
//	results := make([]capi.Val, 1)
//	err = run.Call(ctx, []capi.Val{capi.ValI32(41)}, results) // results[0] == 42
//
// # Execution Modes
//
// The interpreter loads plain module binaries. The AOT mode loads packages
// produced by engine.CompileAOT; the package records the platform it was
// built for and native code is reused through the compilation cache.
//
// # Thread Safety
//
// Engine, Store and Module are safe for concurrent use. Exported functions
// may be called concurrently; each call carries its own trap slot. Deleting
// a store while calls are in flight is safe: running calls finish, new calls
// fail with a Trap.
//
// # Memory Model
//
// Linear memory only grows. Allocator replaces the buffers backing it;
// engine.PoolAllocator caps the total across all instances of an engine.
package wasmcapi
