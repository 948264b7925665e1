// Package backend defines the narrow boundary between the embedding API and
// an execution backend.
//
// A Backend loads binaries into Modules, a Module accepts linked imports and
// instantiates into Instances, and an Instance runs functions over untagged
// 32-bit argument slots. The embedding API depends only on these interfaces;
// the interpreter and AOT implementations live in package engine.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// Mode is the execution mode of a backend.
type Mode uint8

const (
	ModeInterp Mode = iota
	ModeAOT
)

func (m Mode) String() string {
	switch m {
	case ModeInterp:
		return "interp"
	case ModeAOT:
		return "aot"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// ParseMode converts "interp" or "aot" to a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "interp", "interpreter":
		return ModeInterp, nil
	case "aot":
		return ModeAOT, nil
	default:
		return 0, fmt.Errorf("unknown execution mode %q", s)
	}
}

// Accepts reports whether a package of kind k can be loaded in mode m.
func (m Mode) Accepts(k PackageKind) bool {
	switch m {
	case ModeInterp:
		return k == PackageBytecode
	case ModeAOT:
		return k == PackageAOT
	default:
		return false
	}
}

// ExternKind identifies the kind of an import or export.
type ExternKind uint8

const (
	ExternFunc ExternKind = iota
	ExternGlobal
	ExternTable
	ExternMemory
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternGlobal:
		return "global"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	default:
		return fmt.Sprintf("extern(%d)", uint8(k))
	}
}

// ValType is a backend value type using the wasm binary encoding
// (0x7f i32, 0x7e i64, 0x7d f32, 0x7c f64, 0x70 funcref, 0x6f externref).
type ValType byte

// FuncSig is a function signature.
type FuncSig struct {
	Params  []ValType
	Results []ValType
}

// GlobalSig is a global's value type and mutability.
type GlobalSig struct {
	Type    ValType
	Mutable bool
}

// TableSig is a table's element type and size limits. HasMax is false
// when the table is unbounded.
type TableSig struct {
	Elem   ValType
	Min    uint32
	Max    uint32
	HasMax bool
}

// MemorySig is a memory's page limits. HasMax is false when unbounded.
type MemorySig struct {
	Min    uint32
	Max    uint32
	HasMax bool
}

// Import describes one import declaration. Exactly one of the signature
// fields is set, matching Kind.
type Import struct {
	Func   *FuncSig
	Global *GlobalSig
	Table  *TableSig
	Memory *MemorySig
	Module string
	Name   string
	Kind   ExternKind
}

// Export describes one export. Index is backend-specific: callers pass it
// back to the backend unchanged and never interpret it.
type Export struct {
	Name  string
	Index uint32
	Kind  ExternKind
}

// HostFunc is invoked by the backend when the guest calls a linked import.
// slots holds the arguments on entry and receives the results; it is sized
// to hold whichever of the two needs more slots. A non-nil error raises an
// exception on the calling instance and aborts the guest call.
type HostFunc func(ctx context.Context, slots []uint32) error

// Backend loads binaries for one execution mode.
type Backend interface {
	Mode() Mode
	// Load validates bin and returns a module ready for linking.
	Load(ctx context.Context, bin []byte) (Module, error)
	Close(ctx context.Context) error
}

// Module is a loaded, validated module.
type Module interface {
	// Imports lists import declarations in order.
	Imports() []Import
	// ImportCount is the number of import slots the backend expects to be linked.
	ImportCount() int
	Exports() []Export

	ExportFuncType(e Export) (FuncSig, error)
	ExportGlobalType(e Export) (GlobalSig, error)
	ExportTableType(e Export) (TableSig, error)
	ExportMemoryType(e Export) (MemorySig, error)

	// LinkFunc binds fn to the function import at importIdx (an index into Imports).
	LinkFunc(importIdx int, fn HostFunc) error
	// LinkGlobal sets the value of the global import at importIdx.
	LinkGlobal(importIdx int, bits uint64) error
	// Linked reports how many imports have been linked.
	Linked() int

	// Instantiate creates an instance from the currently linked imports.
	Instantiate(ctx context.Context, stackSize, heapSize uint32) (Instance, error)
	Unload(ctx context.Context) error
}

// Instance is a live instantiation of a Module.
type Instance interface {
	Exports() []Export

	// Call runs the function at funcIdx. argv holds the parameter slots on
	// entry and the result slots on successful return. A guest fault is
	// reported as a *CallError carrying the exception message.
	Call(ctx context.Context, funcIdx uint32, argv []uint32) error

	FuncType(funcIdx uint32) (FuncSig, error)
	GlobalType(globalIdx uint32) (GlobalSig, error)
	TableType(tableIdx uint32) (TableSig, error)
	MemoryType(memIdx uint32) (MemorySig, error)

	GlobalGet(globalIdx uint32) (uint64, error)
	GlobalSet(globalIdx uint32, bits uint64) error

	MemoryData(memIdx uint32) ([]byte, error)
	MemoryDataSize(memIdx uint32) (int, error)
	// MemoryGrow grows memory by delta pages and returns the previous page count.
	MemoryGrow(memIdx uint32, delta uint32) (uint32, error)

	Deinstantiate(ctx context.Context) error
}

// CallError is the exception raised by a failed guest call.
type CallError struct {
	Message string
	Err     error
}

func (e *CallError) Error() string { return e.Message }
func (e *CallError) Unwrap() error { return e.Err }

// Exception returns the exception message carried by err, or "".
func Exception(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Message
	}
	return ""
}
