package wasm

// GlueBuilder builds a small module that stands in for one import module
// name. It re-exports functions provided by a host module and defines
// globals with fixed initial values, so a guest can import both functions
// and globals from a single module name.
type GlueBuilder struct {
	hostModuleName string
	funcs          []glueFunc
	globals        []glueGlobal
}

type glueFunc struct {
	name string
	typ  FuncType
}

type glueGlobal struct {
	name string
	typ  GlobalType
	bits uint64
}

// NewGlueBuilder creates a builder whose functions are imported from hostModuleName.
func NewGlueBuilder(hostModuleName string) *GlueBuilder {
	return &GlueBuilder{hostModuleName: hostModuleName}
}

// AddFunc imports name from the host module and re-exports it under the same name.
func (b *GlueBuilder) AddFunc(name string, typ FuncType) {
	b.funcs = append(b.funcs, glueFunc{name: name, typ: typ})
}

// AddGlobal defines an exported global initialized to the raw value bits.
func (b *GlueBuilder) AddGlobal(name string, typ GlobalType, bits uint64) {
	b.globals = append(b.globals, glueGlobal{name: name, typ: typ, bits: bits})
}

// Empty reports whether nothing was added.
func (b *GlueBuilder) Empty() bool {
	return len(b.funcs) == 0 && len(b.globals) == 0
}

// Module returns the glue module descriptor.
func (b *GlueBuilder) Module() *Module {
	m := &Module{}
	for i, f := range b.funcs {
		typeIdx := m.AddType(f.typ)
		m.Imports = append(m.Imports, Import{
			Module: b.hostModuleName,
			Name:   f.name,
			Desc:   ImportDesc{Kind: KindFunc, TypeIdx: typeIdx},
		})
		m.Exports = append(m.Exports, Export{Name: f.name, Kind: KindFunc, Idx: uint32(i)})
	}
	for i, g := range b.globals {
		m.Globals = append(m.Globals, Global{Type: g.typ, Init: ConstExpr(g.typ.ValType, g.bits)})
		m.Exports = append(m.Exports, Export{Name: g.name, Kind: KindGlobal, Idx: uint32(i)})
	}
	return m
}

// Build generates the glue module bytes, or nil when empty.
func (b *GlueBuilder) Build() []byte {
	if b.Empty() {
		return nil
	}
	return b.Module().Encode()
}
