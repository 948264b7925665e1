// Package engine implements the execution backends on top of wazero.
//
// Two backends share one implementation and differ only in the wazero
// runtime configuration and in how they number imports and exports:
//
//	NewInterp  - wazero interpreter, loads plain bytecode modules
//	NewAOT     - wazero compiler, loads AOT packages produced by CompileAOT
//
// # Instantiation
//
// Every instance gets a private wazero.Runtime so instances never share
// host modules. Linked host functions become one host module per import
// module name. When an import module name also provides globals, the host
// functions move to "<name>$host" and a synthesized glue module named
// "<name>" re-exports them next to the global definitions.
//
// Compiled code is shared across runtimes through the engine's
// compilation cache, which can be persisted with Config.CacheDir.
//
// # Memory
//
// Config.MemoryLimitPages bounds each linear memory. Config.Allocator
// replaces the backing buffers; PoolAllocator implements a fixed budget
// shared by all instances of an engine.
//
// # Known Limitations
//
// Table and memory imports are not supported. wazero does not expose
// tables, so table types report declared limits.
package engine
