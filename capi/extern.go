package capi

import (
	"sync"

	wasmcapi "github.com/wippyai/wasm-capi"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vec"
)

// Global is a global variable. A host global holds its own value; a bound
// global reads and writes an instance export through a non-owning handle.
//
// A host global linked as an import is copied into the instance when it is
// created. Later writes on either side are not shared.
type Global struct {
	typ *GlobalType

	mu  *sync.Mutex
	val *Val

	inst  instanceRef
	index uint32
	bound bool
}

// NewGlobal creates a host global of typ initialized to val. The type is
// copied.
func NewGlobal(store *Store, typ *GlobalType, val Val) (*Global, error) {
	if store == nil {
		return nil, errors.NotInitialized(errors.PhaseLink, "store")
	}
	if typ == nil {
		return nil, errors.InvalidInput(errors.PhaseLink, "nil global type")
	}
	if val.kind != typ.content.kind {
		return nil, errors.TypeMismatch(errors.PhaseLink, nil, typ.content.kind.String(), val.kind.String())
	}
	t, err := typ.Copy()
	if err != nil {
		return nil, err
	}
	v := val
	return &Global{typ: t, mu: &sync.Mutex{}, val: &v}, nil
}

// Type returns a copy of the global type.
func (g *Global) Type() (*GlobalType, error) {
	return g.typ.Copy()
}

// Get returns the current value.
func (g *Global) Get() (Val, error) {
	if !g.bound {
		g.mu.Lock()
		defer g.mu.Unlock()
		return *g.val, nil
	}
	inst, err := g.inst.acquire()
	if err != nil {
		return Val{}, err
	}
	defer inst.leave()
	bits, err := inst.inst.GlobalGet(g.index)
	if err != nil {
		return Val{}, err
	}
	return valBits(g.typ.content.kind, bits), nil
}

// Set stores val. It fails on immutable globals and on a kind mismatch.
func (g *Global) Set(val Val) error {
	if g.typ.mutability != Var {
		return errors.InvalidInput(errors.PhaseCall, "global is immutable")
	}
	if val.kind != g.typ.content.kind {
		return errors.TypeMismatch(errors.PhaseCall, nil, g.typ.content.kind.String(), val.kind.String())
	}
	if !g.bound {
		g.mu.Lock()
		*g.val = val
		g.mu.Unlock()
		return nil
	}
	if val.kind.IsRef() {
		return errors.Unsupported(errors.PhaseCall, "reference globals of an instance")
	}
	inst, err := g.inst.acquire()
	if err != nil {
		return err
	}
	defer inst.leave()
	return inst.inst.GlobalSet(g.index, val.bits)
}

// Same reports whether g and o refer to the same global.
func (g *Global) Same(o *Global) bool {
	if g == nil || o == nil {
		return false
	}
	if g.bound || o.bound {
		return g.bound == o.bound && g.inst == o.inst && g.index == o.index
	}
	return g.val == o.val
}

// Copy returns another handle to the same global.
func (g *Global) Copy() (*Global, error) {
	t, err := g.typ.Copy()
	if err != nil {
		return nil, err
	}
	c := *g
	c.typ = t
	return &c, nil
}

func (g *Global) Delete() {
	g.typ.Delete()
}

func (g *Global) AsExtern() *Extern {
	return &Extern{kind: ExternGlobal, global: g}
}

// Table is a table of references. Host tables hold their elements; tables
// exported by an instance report their type only.
type Table struct {
	typ *TableType

	mu    *sync.Mutex
	elems *[]Val

	inst  instanceRef
	index uint32
	bound bool
}

// NewTable creates a host table of typ with every element set to init.
func NewTable(store *Store, typ *TableType, init Val) (*Table, error) {
	if store == nil {
		return nil, errors.NotInitialized(errors.PhaseLink, "store")
	}
	if typ == nil {
		return nil, errors.InvalidInput(errors.PhaseLink, "nil table type")
	}
	if init.kind != typ.element.kind {
		return nil, errors.TypeMismatch(errors.PhaseLink, nil, typ.element.kind.String(), init.kind.String())
	}
	t, err := typ.Copy()
	if err != nil {
		return nil, err
	}
	elems := make([]Val, t.limits.Min)
	for i := range elems {
		elems[i] = init
	}
	return &Table{typ: t, mu: &sync.Mutex{}, elems: &elems}, nil
}

// Type returns a copy of the table type.
func (t *Table) Type() (*TableType, error) {
	return t.typ.Copy()
}

// Size returns the number of elements.
func (t *Table) Size() (uint32, error) {
	if !t.bound {
		t.mu.Lock()
		defer t.mu.Unlock()
		return uint32(len(*t.elems)), nil
	}
	inst, err := t.inst.acquire()
	if err != nil {
		return 0, err
	}
	defer inst.leave()
	sig, err := inst.inst.TableType(t.index)
	if err != nil {
		return 0, err
	}
	return sig.Min, nil
}

// Get returns the element at i of a host table.
func (t *Table) Get(i uint32) (Val, error) {
	if t.bound {
		return Val{}, errors.Unsupported(errors.PhaseCall, "element access on instance tables")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(i) >= len(*t.elems) {
		return Val{}, errors.OutOfBounds(errors.PhaseCall, nil, int(i), len(*t.elems))
	}
	return (*t.elems)[i], nil
}

// Set stores v at i of a host table.
func (t *Table) Set(i uint32, v Val) error {
	if t.bound {
		return errors.Unsupported(errors.PhaseCall, "element access on instance tables")
	}
	if v.kind != t.typ.element.kind {
		return errors.TypeMismatch(errors.PhaseCall, nil, t.typ.element.kind.String(), v.kind.String())
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(i) >= len(*t.elems) {
		return errors.OutOfBounds(errors.PhaseCall, nil, int(i), len(*t.elems))
	}
	(*t.elems)[i] = v
	return nil
}

func (t *Table) Copy() (*Table, error) {
	typ, err := t.typ.Copy()
	if err != nil {
		return nil, err
	}
	c := *t
	c.typ = typ
	return &c, nil
}

func (t *Table) Delete() {
	t.typ.Delete()
}

func (t *Table) AsExtern() *Extern {
	return &Extern{kind: ExternTable, table: t}
}

// Memory is a linear memory. A host memory owns a byte buffer sized in
// pages; a bound memory views an instance's linear memory.
type Memory struct {
	typ *MemoryType

	mu  *sync.Mutex
	buf *[]byte

	inst  instanceRef
	index uint32
	bound bool
}

var _ wasmcapi.Memory = (*Memory)(nil)

// PageSize is the size of one linear memory page in bytes.
const PageSize = 65536

// NewMemory creates a host memory of typ.Limits().Min pages.
func NewMemory(store *Store, typ *MemoryType) (*Memory, error) {
	if store == nil {
		return nil, errors.NotInitialized(errors.PhaseLink, "store")
	}
	if typ == nil {
		return nil, errors.InvalidInput(errors.PhaseLink, "nil memory type")
	}
	t, err := typ.Copy()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, int(t.limits.Min)*PageSize)
	return &Memory{typ: t, mu: &sync.Mutex{}, buf: &buf}, nil
}

// Type returns the memory type. For an instance memory Min is the current
// page count.
func (m *Memory) Type() (*MemoryType, error) {
	if !m.bound {
		return m.typ.Copy()
	}
	inst, err := m.inst.acquire()
	if err != nil {
		return nil, err
	}
	defer inst.leave()
	sig, err := inst.inst.MemoryType(m.index)
	if err != nil {
		return nil, err
	}
	return memoryTypeFrom(sig), nil
}

// Data returns the memory contents. The slice aliases the memory and is
// invalidated by Grow.
func (m *Memory) Data() ([]byte, error) {
	if !m.bound {
		m.mu.Lock()
		defer m.mu.Unlock()
		return *m.buf, nil
	}
	inst, err := m.inst.acquire()
	if err != nil {
		return nil, err
	}
	defer inst.leave()
	return inst.inst.MemoryData(m.index)
}

// DataSize returns the memory size in bytes.
func (m *Memory) DataSize() (int, error) {
	if !m.bound {
		m.mu.Lock()
		defer m.mu.Unlock()
		return len(*m.buf), nil
	}
	inst, err := m.inst.acquire()
	if err != nil {
		return 0, err
	}
	defer inst.leave()
	return inst.inst.MemoryDataSize(m.index)
}

// Size returns the memory size in pages.
func (m *Memory) Size() (uint32, error) {
	n, err := m.DataSize()
	if err != nil {
		return 0, err
	}
	return uint32(n / PageSize), nil
}

// Grow adds delta pages and returns the previous size in pages.
func (m *Memory) Grow(delta uint32) (uint32, error) {
	if m.bound {
		inst, err := m.inst.acquire()
		if err != nil {
			return 0, err
		}
		defer inst.leave()
		return inst.inst.MemoryGrow(m.index, delta)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	prev := uint32(len(*m.buf) / PageSize)
	next := uint64(prev) + uint64(delta)
	if limit := m.typ.limits.Max; next > uint64(limit) || next > 1<<16 {
		return 0, errors.New(errors.PhaseCall, errors.KindOutOfBounds).
			Detail("cannot grow memory by %d pages from %d", delta, prev).
			Build()
	}
	buf := make([]byte, int(next)*PageSize)
	copy(buf, *m.buf)
	*m.buf = buf
	return prev, nil
}

func (m *Memory) Copy() (*Memory, error) {
	t, err := m.typ.Copy()
	if err != nil {
		return nil, err
	}
	c := *m
	c.typ = t
	return &c, nil
}

func (m *Memory) Delete() {
	m.typ.Delete()
}

func (m *Memory) AsExtern() *Extern {
	return &Extern{kind: ExternMemory, memory: m}
}

// Extern is one of Func, Global, Table or Memory.
type Extern struct {
	fn     *Func
	global *Global
	table  *Table
	memory *Memory
	kind   ExternKind
}

func (e *Extern) Kind() ExternKind { return e.kind }

func (e *Extern) mismatch(want ExternKind) error {
	return errors.TypeMismatch(errors.PhaseLink, nil, want.String(), e.kind.String())
}

// AsFunc returns the function payload.
func (e *Extern) AsFunc() (*Func, error) {
	if e.kind != ExternFunc {
		return nil, e.mismatch(ExternFunc)
	}
	return e.fn, nil
}

func (e *Extern) AsGlobal() (*Global, error) {
	if e.kind != ExternGlobal {
		return nil, e.mismatch(ExternGlobal)
	}
	return e.global, nil
}

func (e *Extern) AsTable() (*Table, error) {
	if e.kind != ExternTable {
		return nil, e.mismatch(ExternTable)
	}
	return e.table, nil
}

func (e *Extern) AsMemory() (*Memory, error) {
	if e.kind != ExternMemory {
		return nil, e.mismatch(ExternMemory)
	}
	return e.memory, nil
}

// Type returns the extern's type. The caller owns the result.
func (e *Extern) Type() (*ExternType, error) {
	switch e.kind {
	case ExternFunc:
		t, err := e.fn.Type()
		if err != nil {
			return nil, err
		}
		return t.AsExternType(), nil
	case ExternGlobal:
		t, err := e.global.Type()
		if err != nil {
			return nil, err
		}
		return t.AsExternType(), nil
	case ExternTable:
		t, err := e.table.Type()
		if err != nil {
			return nil, err
		}
		return t.AsExternType(), nil
	case ExternMemory:
		t, err := e.memory.Type()
		if err != nil {
			return nil, err
		}
		return t.AsExternType(), nil
	}
	return nil, errors.Unsupported(errors.PhaseReflect, e.kind.String())
}

func (e *Extern) Copy() (*Extern, error) {
	switch e.kind {
	case ExternFunc:
		c, err := e.fn.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExtern(), nil
	case ExternGlobal:
		c, err := e.global.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExtern(), nil
	case ExternTable:
		c, err := e.table.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExtern(), nil
	case ExternMemory:
		c, err := e.memory.Copy()
		if err != nil {
			return nil, err
		}
		return c.AsExtern(), nil
	}
	return nil, errors.Unsupported(errors.PhaseLink, e.kind.String())
}

func (e *Extern) Delete() {
	switch e.kind {
	case ExternFunc:
		e.fn.Delete()
	case ExternGlobal:
		e.global.Delete()
	case ExternTable:
		e.table.Delete()
	case ExternMemory:
		e.memory.Delete()
	}
}

// ExternVec is an owning vector of externs.
type ExternVec = vec.Owning[*Extern]
