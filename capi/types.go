package capi

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vec"
)

// ValKind enumerates value types.
type ValKind uint8

const (
	KindI32     ValKind = 0
	KindI64     ValKind = 1
	KindF32     ValKind = 2
	KindF64     ValKind = 3
	KindAnyRef  ValKind = 128
	KindFuncRef ValKind = 129
)

func (k ValKind) String() string {
	switch k {
	case KindI32:
		return "i32"
	case KindI64:
		return "i64"
	case KindF32:
		return "f32"
	case KindF64:
		return "f64"
	case KindAnyRef:
		return "anyref"
	case KindFuncRef:
		return "funcref"
	default:
		return fmt.Sprintf("valkind(%d)", uint8(k))
	}
}

// IsNum reports whether k is a numeric kind.
func (k ValKind) IsNum() bool { return k <= KindF64 }

// IsRef reports whether k is a reference kind.
func (k ValKind) IsRef() bool { return k >= KindAnyRef }

func (k ValKind) backendType() (backend.ValType, bool) {
	switch k {
	case KindI32:
		return backend.TypeI32, true
	case KindI64:
		return backend.TypeI64, true
	case KindF32:
		return backend.TypeF32, true
	case KindF64:
		return backend.TypeF64, true
	case KindAnyRef:
		return backend.TypeExternRef, true
	case KindFuncRef:
		return backend.TypeFuncRef, true
	default:
		return 0, false
	}
}

// kindOf maps a backend value type to a kind. Types with no kind of their
// own, such as v128, are reported as anyref. Values of those types cannot
// cross the slot boundary.
func kindOf(t backend.ValType) ValKind {
	switch t {
	case backend.TypeI32:
		return KindI32
	case backend.TypeI64:
		return KindI64
	case backend.TypeF32:
		return KindF32
	case backend.TypeF64:
		return KindF64
	case backend.TypeExternRef:
		return KindAnyRef
	case backend.TypeFuncRef:
		return KindFuncRef
	default:
		Logger().Warn("unsupported value type, reported as anyref", zap.Stringer("type", t))
		return KindAnyRef
	}
}

// ValType is an immutable value type.
type ValType struct {
	kind ValKind
}

// NewValType returns a value type of kind.
func NewValType(kind ValKind) *ValType {
	return &ValType{kind: kind}
}

func (t *ValType) Kind() ValKind { return t.kind }
func (t *ValType) IsNum() bool   { return t.kind.IsNum() }
func (t *ValType) IsRef() bool   { return t.kind.IsRef() }

func (t *ValType) Same(o *ValType) bool {
	return t != nil && o != nil && t.kind == o.kind
}

func (t *ValType) Copy() (*ValType, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil value type")
	}
	return &ValType{kind: t.kind}, nil
}

// Delete is a no-op; value types hold no resources.
func (t *ValType) Delete() {}

func (t *ValType) String() string { return t.kind.String() }

// ValTypeVec is an owning vector of value types.
type ValTypeVec = vec.Owning[*ValType]

// ValTypes returns a populated vector of fresh value types.
func ValTypes(kinds ...ValKind) ValTypeVec {
	v := vec.UninitializedOwning[*ValType](len(kinds))
	for _, k := range kinds {
		v.Append(NewValType(k))
	}
	return v
}

func sameValTypes(a, b ValTypeVec) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if !a.At(i).Same(b.At(i)) {
			return false
		}
	}
	return true
}

func valTypesFrom(types []backend.ValType) ValTypeVec {
	v := vec.UninitializedOwning[*ValType](len(types))
	for _, t := range types {
		v.Append(NewValType(kindOf(t)))
	}
	return v
}

func backendTypes(v ValTypeVec) ([]backend.ValType, error) {
	out := make([]backend.ValType, v.Len())
	for i, t := range v.Slice() {
		bt, ok := t.kind.backendType()
		if !ok {
			return nil, errors.Unsupported(errors.PhaseMarshal, "value kind "+t.kind.String())
		}
		out[i] = bt
	}
	return out, nil
}

// FuncType is a function signature. It owns its parameter and result vectors.
type FuncType struct {
	params  ValTypeVec
	results ValTypeVec
}

// NewFuncType takes ownership of params and results.
func NewFuncType(params, results ValTypeVec) *FuncType {
	return &FuncType{params: params, results: results}
}

// Params returns the parameter types. The function type keeps ownership.
func (f *FuncType) Params() ValTypeVec { return f.params }

// Results returns the result types. The function type keeps ownership.
func (f *FuncType) Results() ValTypeVec { return f.results }

func (f *FuncType) Same(o *FuncType) bool {
	return f != nil && o != nil && sameValTypes(f.params, o.params) && sameValTypes(f.results, o.results)
}

func (f *FuncType) Copy() (*FuncType, error) {
	if f == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil function type")
	}
	params, err := f.params.Copy()
	if err != nil {
		return nil, err
	}
	results, err := f.results.Copy()
	if err != nil {
		params.Delete()
		return nil, err
	}
	return NewFuncType(params, results), nil
}

func (f *FuncType) Delete() {
	f.params.Delete()
	f.results.Delete()
}

// AsExternType returns an extern type view of f.
func (f *FuncType) AsExternType() *ExternType {
	return &ExternType{kind: ExternFunc, fn: f}
}

func (f *FuncType) String() string {
	return fmt.Sprintf("%v -> %v", f.params.Slice(), f.results.Slice())
}

func (f *FuncType) sig() (backend.FuncSig, error) {
	params, err := backendTypes(f.params)
	if err != nil {
		return backend.FuncSig{}, err
	}
	results, err := backendTypes(f.results)
	if err != nil {
		return backend.FuncSig{}, err
	}
	return backend.FuncSig{Params: params, Results: results}, nil
}

func funcTypeFrom(sig backend.FuncSig) *FuncType {
	return NewFuncType(valTypesFrom(sig.Params), valTypesFrom(sig.Results))
}

// FuncTypeVec is an owning vector of function types.
type FuncTypeVec = vec.Owning[*FuncType]

// Mutability of a global.
type Mutability uint8

const (
	Const Mutability = iota
	Var
)

// GlobalType is a global's content type and mutability.
type GlobalType struct {
	content    *ValType
	mutability Mutability
}

// NewGlobalType takes ownership of content.
func NewGlobalType(content *ValType, mutability Mutability) *GlobalType {
	return &GlobalType{content: content, mutability: mutability}
}

func (g *GlobalType) Content() *ValType      { return g.content }
func (g *GlobalType) Mutability() Mutability { return g.mutability }

// Same reports whether both the content type and the mutability match.
func (g *GlobalType) Same(o *GlobalType) bool {
	return g != nil && o != nil && g.content.Same(o.content) && g.mutability == o.mutability
}

func (g *GlobalType) Copy() (*GlobalType, error) {
	if g == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil global type")
	}
	content, err := g.content.Copy()
	if err != nil {
		return nil, err
	}
	return NewGlobalType(content, g.mutability), nil
}

func (g *GlobalType) Delete() { g.content.Delete() }

func (g *GlobalType) AsExternType() *ExternType {
	return &ExternType{kind: ExternGlobal, global: g}
}

func globalTypeFrom(sig backend.GlobalSig) *GlobalType {
	m := Const
	if sig.Mutable {
		m = Var
	}
	return NewGlobalType(NewValType(kindOf(sig.Type)), m)
}

// LimitsMaxDefault marks an unbounded maximum.
const LimitsMaxDefault = ^uint32(0)

// Limits bounds a table (in elements) or a memory (in pages).
type Limits struct {
	Min uint32
	Max uint32
}

func limitsFrom(min, max uint32, hasMax bool) Limits {
	if !hasMax {
		max = LimitsMaxDefault
	}
	return Limits{Min: min, Max: max}
}

// TableType is a table's element type and limits.
type TableType struct {
	element *ValType
	limits  Limits
}

// NewTableType takes ownership of element.
func NewTableType(element *ValType, limits Limits) *TableType {
	return &TableType{element: element, limits: limits}
}

func (t *TableType) Element() *ValType { return t.element }
func (t *TableType) Limits() Limits    { return t.limits }

func (t *TableType) Same(o *TableType) bool {
	return t != nil && o != nil && t.element.Same(o.element) && t.limits == o.limits
}

func (t *TableType) Copy() (*TableType, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil table type")
	}
	elem, err := t.element.Copy()
	if err != nil {
		return nil, err
	}
	return NewTableType(elem, t.limits), nil
}

func (t *TableType) Delete() { t.element.Delete() }

func (t *TableType) AsExternType() *ExternType {
	return &ExternType{kind: ExternTable, table: t}
}

func tableTypeFrom(sig backend.TableSig) *TableType {
	return NewTableType(NewValType(kindOf(sig.Elem)), limitsFrom(sig.Min, sig.Max, sig.HasMax))
}

// MemoryType is a memory's page limits.
type MemoryType struct {
	limits Limits
}

func NewMemoryType(limits Limits) *MemoryType {
	return &MemoryType{limits: limits}
}

func (m *MemoryType) Limits() Limits { return m.limits }

func (m *MemoryType) Same(o *MemoryType) bool {
	return m != nil && o != nil && m.limits == o.limits
}

func (m *MemoryType) Copy() (*MemoryType, error) {
	if m == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil memory type")
	}
	return NewMemoryType(m.limits), nil
}

func (m *MemoryType) Delete() {}

func (m *MemoryType) AsExternType() *ExternType {
	return &ExternType{kind: ExternMemory, memory: m}
}

func memoryTypeFrom(sig backend.MemorySig) *MemoryType {
	return NewMemoryType(limitsFrom(sig.Min, sig.Max, sig.HasMax))
}

// ExternKind discriminates extern types and externs.
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

// ExternType is one of FuncType, GlobalType, TableType or MemoryType.
// Exactly the payload matching kind is set; the accessors fail on any other
// kind.
type ExternType struct {
	fn     *FuncType
	global *GlobalType
	table  *TableType
	memory *MemoryType
	kind   ExternKind
}

func (t *ExternType) Kind() ExternKind { return t.kind }

func (t *ExternType) mismatch(want ExternKind) error {
	return errors.TypeMismatch(errors.PhaseReflect, nil, want.String()+" type", t.kind.String()+" type")
}

// FuncType returns the payload of a function extern type.
func (t *ExternType) FuncType() (*FuncType, error) {
	if t.kind != ExternFunc {
		return nil, t.mismatch(ExternFunc)
	}
	return t.fn, nil
}

func (t *ExternType) GlobalType() (*GlobalType, error) {
	if t.kind != ExternGlobal {
		return nil, t.mismatch(ExternGlobal)
	}
	return t.global, nil
}

func (t *ExternType) TableType() (*TableType, error) {
	if t.kind != ExternTable {
		return nil, t.mismatch(ExternTable)
	}
	return t.table, nil
}

func (t *ExternType) MemoryType() (*MemoryType, error) {
	if t.kind != ExternMemory {
		return nil, t.mismatch(ExternMemory)
	}
	return t.memory, nil
}

func (t *ExternType) Same(o *ExternType) bool {
	if t == nil || o == nil || t.kind != o.kind {
		return false
	}
	switch t.kind {
	case ExternFunc:
		return t.fn.Same(o.fn)
	case ExternGlobal:
		return t.global.Same(o.global)
	case ExternTable:
		return t.table.Same(o.table)
	default:
		return t.memory.Same(o.memory)
	}
}

// Copy duplicates the payload.
func (t *ExternType) Copy() (*ExternType, error) {
	if t == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil extern type")
	}
	switch t.kind {
	case ExternFunc:
		c, err := t.fn.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExternType(), nil
	case ExternGlobal:
		c, err := t.global.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExternType(), nil
	case ExternTable:
		c, err := t.table.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExternType(), nil
	case ExternMemory:
		c, err := t.memory.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExternType(), nil
	}
	return nil, errors.Unsupported(errors.PhaseReflect, t.kind.String())
}

// Delete deletes the payload.
func (t *ExternType) Delete() {
	switch t.kind {
	case ExternFunc:
		t.fn.Delete()
	case ExternGlobal:
		t.global.Delete()
	case ExternTable:
		t.table.Delete()
	case ExternMemory:
		t.memory.Delete()
	}
}

// ExternTypeVec is an owning vector of extern types.
type ExternTypeVec = vec.Owning[*ExternType]

func externTypeFromImport(imp backend.Import) (*ExternType, error) {
	switch imp.Kind {
	case backend.ExternFunc:
		return funcTypeFrom(*imp.Func).AsExternType(), nil
	case backend.ExternGlobal:
		return globalTypeFrom(*imp.Global).AsExternType(), nil
	case backend.ExternTable:
		return tableTypeFrom(*imp.Table).AsExternType(), nil
	case backend.ExternMemory:
		return memoryTypeFrom(*imp.Memory).AsExternType(), nil
	}
	return nil, errors.New(errors.PhaseReflect, errors.KindUnsupported).
		Path(imp.Module, imp.Name).
		Detail("import kind %s", imp.Kind).
		Build()
}

// ByteVec is a plain byte vector.
type ByteVec = vec.Plain[byte]

// Name is a byte vector holding a UTF-8 name.
type Name = ByteVec

// NameOf returns s as a name vector.
func NameOf(s string) Name {
	return vec.PlainOf([]byte(s)...)
}

// ImportType pairs an import's module and name with its type.
type ImportType struct {
	typ    *ExternType
	module Name
	name   Name
}

// NewImportType takes ownership of module, name and typ.
func NewImportType(module, name Name, typ *ExternType) *ImportType {
	return &ImportType{module: module, name: name, typ: typ}
}

func (i *ImportType) Module() Name       { return i.module }
func (i *ImportType) Name() Name         { return i.name }
func (i *ImportType) Type() *ExternType  { return i.typ }
func (i *ImportType) ModuleName() string { return string(i.module.Slice()) }
func (i *ImportType) FieldName() string  { return string(i.name.Slice()) }

func (i *ImportType) Copy() (*ImportType, error) {
	if i == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil import type")
	}
	typ, err := i.typ.Copy()
	if err != nil {
		return nil, err
	}
	return NewImportType(i.module.Copy(), i.name.Copy(), typ), nil
}

func (i *ImportType) Delete() {
	i.module.Delete()
	i.name.Delete()
	i.typ.Delete()
}

// ImportTypeVec is an owning vector of import types.
type ImportTypeVec = vec.Owning[*ImportType]

// ExportType pairs an export's name with its type.
type ExportType struct {
	typ  *ExternType
	name Name
}

// NewExportType takes ownership of name and typ.
func NewExportType(name Name, typ *ExternType) *ExportType {
	return &ExportType{name: name, typ: typ}
}

func (e *ExportType) Name() Name        { return e.name }
func (e *ExportType) Type() *ExternType { return e.typ }
func (e *ExportType) FieldName() string { return string(e.name.Slice()) }

func (e *ExportType) Copy() (*ExportType, error) {
	if e == nil {
		return nil, errors.InvalidInput(errors.PhaseReflect, "nil export type")
	}
	typ, err := e.typ.Copy()
	if err != nil {
		return nil, err
	}
	return NewExportType(e.name.Copy(), typ), nil
}

func (e *ExportType) Delete() {
	e.name.Delete()
	e.typ.Delete()
}

// ExportTypeVec is an owning vector of export types.
type ExportTypeVec = vec.Owning[*ExportType]
