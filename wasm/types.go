package wasm

import "fmt"

// Module represents the descriptor view of a parsed WebAssembly module.
// Function bodies are kept only when the module is built for encoding.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []uint32 // Type indices for declared functions
	Tables   []TableType
	Memories []MemoryType
	Globals  []Global
	Exports  []Export
	Start    *uint32
	Code     []FuncBody
	Data     []DataSegment
}

// FuncType represents a WebAssembly function signature with parameter and result types.
type FuncType struct {
	Params  []ValType
	Results []ValType
}

func (ft FuncType) String() string {
	return fmt.Sprintf("%v -> %v", ft.Params, ft.Results)
}

// ValType represents a WebAssembly value type.
type ValType byte

func (v ValType) String() string {
	switch v {
	case ValI32:
		return "i32"
	case ValI64:
		return "i64"
	case ValF32:
		return "f32"
	case ValF64:
		return "f64"
	case ValV128:
		return "v128"
	case ValFuncRef:
		return "funcref"
	case ValExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(v))
	}
}

// Limits bounds a table or memory. Max is nil when unbounded.
type Limits struct {
	Max *uint32
	Min uint32
}

// TableType describes a table's element type and size limits.
type TableType struct {
	Limits   Limits
	ElemType ValType
}

// MemoryType describes linear memory limits in pages.
type MemoryType struct {
	Limits Limits
}

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValType
	Mutable bool
}

// Global is a module-defined global with its constant initializer expression.
type Global struct {
	Init []byte
	Type GlobalType
}

// ImportDesc describes what an import provides.
type ImportDesc struct {
	Table   *TableType
	Memory  *MemoryType
	Global  *GlobalType
	TypeIdx uint32
	Kind    byte
}

// Import is a single entry of the import section.
type Import struct {
	Module string
	Name   string
	Desc   ImportDesc
}

// Export is a single entry of the export section.
type Export struct {
	Name string
	Kind byte
	Idx  uint32
}

// LocalEntry declares Count locals of one type.
type LocalEntry struct {
	Count   uint32
	ValType ValType
}

// FuncBody is a function's locals and instruction bytes (including the final end).
type FuncBody struct {
	Locals []LocalEntry
	Code   []byte
}

// DataSegment is an active data segment for memory 0.
type DataSegment struct {
	Offset []byte
	Init   []byte
}

// KindName returns the text name of an import/export kind.
func KindName(kind byte) string {
	switch kind {
	case KindFunc:
		return "func"
	case KindTable:
		return "table"
	case KindMemory:
		return "memory"
	case KindGlobal:
		return "global"
	case KindTag:
		return "tag"
	default:
		return fmt.Sprintf("kind(%d)", kind)
	}
}

// ImportCounts holds the number of imports of each kind.
type ImportCounts struct {
	Funcs    int
	Tables   int
	Memories int
	Globals  int
}

// Total sums all per-kind counts.
func (c ImportCounts) Total() int {
	return c.Funcs + c.Tables + c.Memories + c.Globals
}

// CountImports tallies imports per kind.
func (m *Module) CountImports() ImportCounts {
	var c ImportCounts
	for _, imp := range m.Imports {
		switch imp.Desc.Kind {
		case KindFunc:
			c.Funcs++
		case KindTable:
			c.Tables++
		case KindMemory:
			c.Memories++
		case KindGlobal:
			c.Globals++
		}
	}
	return c
}

// GetFuncType returns the signature of a function in the module's function
// index space (imports first), or nil if the index is out of range.
func (m *Module) GetFuncType(funcIdx uint32) *FuncType {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindFunc {
			continue
		}
		if n == funcIdx {
			return m.typeAt(imp.Desc.TypeIdx)
		}
		n++
	}
	local := funcIdx - n
	if local >= uint32(len(m.Funcs)) {
		return nil
	}
	return m.typeAt(m.Funcs[local])
}

// GetGlobalType returns the type of a global in the global index space.
func (m *Module) GetGlobalType(globalIdx uint32) *GlobalType {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindGlobal {
			continue
		}
		if n == globalIdx {
			return imp.Desc.Global
		}
		n++
	}
	local := globalIdx - n
	if local >= uint32(len(m.Globals)) {
		return nil
	}
	return &m.Globals[local].Type
}

// GetTableType returns the type of a table in the table index space.
func (m *Module) GetTableType(tableIdx uint32) *TableType {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindTable {
			continue
		}
		if n == tableIdx {
			return imp.Desc.Table
		}
		n++
	}
	local := tableIdx - n
	if local >= uint32(len(m.Tables)) {
		return nil
	}
	return &m.Tables[local]
}

// GetMemoryType returns the type of a memory in the memory index space.
func (m *Module) GetMemoryType(memIdx uint32) *MemoryType {
	var n uint32
	for _, imp := range m.Imports {
		if imp.Desc.Kind != KindMemory {
			continue
		}
		if n == memIdx {
			return imp.Desc.Memory
		}
		n++
	}
	local := memIdx - n
	if local >= uint32(len(m.Memories)) {
		return nil
	}
	return &m.Memories[local]
}

func (m *Module) typeAt(typeIdx uint32) *FuncType {
	if typeIdx >= uint32(len(m.Types)) {
		return nil
	}
	return &m.Types[typeIdx]
}

// AddType appends ft unless an identical signature exists and returns its index.
func (m *Module) AddType(ft FuncType) uint32 {
	for i, existing := range m.Types {
		if typesEqual(existing, ft) {
			return uint32(i)
		}
	}
	m.Types = append(m.Types, ft)
	return uint32(len(m.Types) - 1)
}

func typesEqual(a, b FuncType) bool {
	if len(a.Params) != len(b.Params) || len(a.Results) != len(b.Results) {
		return false
	}
	for i := range a.Params {
		if a.Params[i] != b.Params[i] {
			return false
		}
	}
	for i := range a.Results {
		if a.Results[i] != b.Results[i] {
			return false
		}
	}
	return true
}
