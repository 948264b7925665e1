// Package capi is the embedding API: engine, store, module, instance,
// externs, values and traps.
//
// # Lifecycle
//
// At most one Engine is live per process. NewEngine returns it, creating it
// on first use; Engine.Delete releases it and everything it owns. A Store
// owns the modules and instances created in it:
//
//	eng, _ := capi.NewEngine(ctx)
//	defer eng.Delete(ctx)
//
//	store, _ := capi.NewStore(eng)
//	mod, _ := capi.NewModule(ctx, store, bin)
//	inst, _ := capi.NewInstance(ctx, store, mod, imports)
//
// Module.Delete and Instance.Delete are no-ops; Store.Delete releases both.
// Handles to instance exports stay valid as values but fail once their
// instance is gone.
//
// # Calls
//
// Func.Call marshals Vals into 32-bit slots (two per i64/f64, low word
// first), runs the export and unmarshals results. Host functions linked as
// imports are called through a trampoline doing the reverse. Every failed
// call returns a *Trap; a trap raised by a host function reaches the
// outermost caller unchanged.
//
// # Ownership
//
// Constructors taking a type copy it unless documented otherwise;
// NewFuncType takes ownership of its vectors. Values returned by Type,
// Imports, Exports and Copy belong to the caller.
package capi
