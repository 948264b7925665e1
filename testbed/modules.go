// Package testbed builds the small WebAssembly modules used by the tests of
// the engine and capi packages, and holds the end-to-end tests that run them
// through the public API.
package testbed

import (
	"github.com/wippyai/wasm-capi/wasm"
)

var (
	i32 = wasm.ValI32
	i64 = wasm.ValI64
	f32 = wasm.ValF32
	f64 = wasm.ValF64
)

func u32(v uint32) *uint32 { return &v }

func body(c *wasm.Code) wasm.FuncBody {
	return wasm.FuncBody{Code: c.Op(wasm.OpEnd).Bytes()}
}

// Link imports env.inc (i32)->i32 and exports run (i32)->i32, which
// forwards its argument to env.inc and returns the result.
func Link() []byte {
	m := &wasm.Module{}
	t := m.AddType(wasm.FuncType{Params: []wasm.ValType{i32}, Results: []wasm.ValType{i32}})
	m.Imports = []wasm.Import{{Module: "env", Name: "inc", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: t}}}
	m.Funcs = []uint32{t}
	m.Code = []wasm.FuncBody{body(wasm.NewCode().OpIdx(wasm.OpLocalGet, 0).OpIdx(wasm.OpCall, 0))}
	m.Exports = []wasm.Export{{Name: "run", Kind: wasm.KindFunc, Idx: 1}}
	return m.Encode()
}

// Mix exports mix (i32, i64, f32, f64) -> (f64, i32) returning its fourth
// and first arguments, and wide (i64) -> i64 returning its argument plus one.
func Mix() []byte {
	m := &wasm.Module{}
	mix := m.AddType(wasm.FuncType{
		Params:  []wasm.ValType{i32, i64, f32, f64},
		Results: []wasm.ValType{f64, i32},
	})
	wide := m.AddType(wasm.FuncType{Params: []wasm.ValType{i64}, Results: []wasm.ValType{i64}})
	m.Funcs = []uint32{mix, wide}
	m.Code = []wasm.FuncBody{
		body(wasm.NewCode().OpIdx(wasm.OpLocalGet, 3).OpIdx(wasm.OpLocalGet, 0)),
		body(wasm.NewCode().OpIdx(wasm.OpLocalGet, 0).I64Const(1).Op(wasm.OpI64Add)),
	}
	m.Exports = []wasm.Export{
		{Name: "mix", Kind: wasm.KindFunc, Idx: 0},
		{Name: "wide", Kind: wasm.KindFunc, Idx: 1},
	}
	return m.Encode()
}

// State imports the global env.base (i32) and the function env.inc, and
// exports:
//
//	get     () -> i32    env.inc(env.base)
//	counter mutable i64 global, initially 5
//	limit   immutable f32 global, 1.5
//	mem     memory, 1 page min, 4 pages max, "hello" at offset 0
//	tbl     funcref table, 2 min, 8 max
func State() []byte {
	m := &wasm.Module{}
	unary := m.AddType(wasm.FuncType{Params: []wasm.ValType{i32}, Results: []wasm.ValType{i32}})
	getT := m.AddType(wasm.FuncType{Results: []wasm.ValType{i32}})
	m.Imports = []wasm.Import{
		{Module: "env", Name: "base", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: i32}}},
		{Module: "env", Name: "inc", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: unary}},
	}
	m.Funcs = []uint32{getT}
	m.Code = []wasm.FuncBody{body(wasm.NewCode().OpIdx(wasm.OpGlobalGet, 0).OpIdx(wasm.OpCall, 0))}
	m.Tables = []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2, Max: u32(8)}}}
	m.Memories = []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: u32(4)}}}
	m.Globals = []wasm.Global{
		{Type: wasm.GlobalType{ValType: i64, Mutable: true}, Init: wasm.ConstExpr(i64, 5)},
		{Type: wasm.GlobalType{ValType: f32}, Init: wasm.ConstExpr(f32, 0x3fc00000)},
	}
	m.Data = []wasm.DataSegment{{Offset: wasm.ConstExpr(i32, 0), Init: []byte("hello")}}
	m.Exports = []wasm.Export{
		{Name: "get", Kind: wasm.KindFunc, Idx: 1},
		{Name: "counter", Kind: wasm.KindGlobal, Idx: 1},
		{Name: "limit", Kind: wasm.KindGlobal, Idx: 2},
		{Name: "mem", Kind: wasm.KindMemory, Idx: 0},
		{Name: "tbl", Kind: wasm.KindTable, Idx: 0},
	}
	return m.Encode()
}

// Duplicates imports env.f () -> i32 twice and exports a and b, which call
// the first and second import. With globals set it also imports the i32
// global env.g twice and exports c and d reading the first and second.
func Duplicates(globals bool) []byte {
	m := &wasm.Module{}
	t := m.AddType(wasm.FuncType{Results: []wasm.ValType{i32}})
	f := wasm.Import{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: t}}
	m.Imports = []wasm.Import{f, f}
	m.Funcs = []uint32{t, t}
	m.Code = []wasm.FuncBody{
		body(wasm.NewCode().OpIdx(wasm.OpCall, 0)),
		body(wasm.NewCode().OpIdx(wasm.OpCall, 1)),
	}
	m.Exports = []wasm.Export{
		{Name: "a", Kind: wasm.KindFunc, Idx: 2},
		{Name: "b", Kind: wasm.KindFunc, Idx: 3},
	}
	if globals {
		g := wasm.Import{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: i32}}}
		m.Imports = append(m.Imports, g, g)
		m.Funcs = append(m.Funcs, t, t)
		m.Code = append(m.Code,
			body(wasm.NewCode().OpIdx(wasm.OpGlobalGet, 0)),
			body(wasm.NewCode().OpIdx(wasm.OpGlobalGet, 1)),
		)
		m.Exports = append(m.Exports,
			wasm.Export{Name: "c", Kind: wasm.KindFunc, Idx: 4},
			wasm.Export{Name: "d", Kind: wasm.KindFunc, Idx: 5},
		)
	}
	return m.Encode()
}

// SIMD exports simd (v128) -> () and seven () -> i32 returning 7.
func SIMD() []byte {
	m := &wasm.Module{}
	simd := m.AddType(wasm.FuncType{Params: []wasm.ValType{wasm.ValV128}})
	seven := m.AddType(wasm.FuncType{Results: []wasm.ValType{i32}})
	m.Funcs = []uint32{simd, seven}
	m.Code = []wasm.FuncBody{body(wasm.NewCode()), body(wasm.NewCode().I32Const(7))}
	m.Exports = []wasm.Export{
		{Name: "simd", Kind: wasm.KindFunc, Idx: 0},
		{Name: "seven", Kind: wasm.KindFunc, Idx: 1},
	}
	return m.Encode()
}

// TableImport imports the table env.tbl and exports nothing.
func TableImport() []byte {
	m := &wasm.Module{
		Imports: []wasm.Import{{
			Module: "env",
			Name:   "tbl",
			Desc:   wasm.ImportDesc{Kind: wasm.KindTable, Table: &wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1}}},
		}},
	}
	return m.Encode()
}

// Crash exports crash () -> () which executes unreachable, and ok () -> ()
// which returns.
func Crash() []byte {
	m := &wasm.Module{}
	t := m.AddType(wasm.FuncType{})
	m.Funcs = []uint32{t, t}
	m.Code = []wasm.FuncBody{body(wasm.NewCode().Op(wasm.OpUnreachable)), body(wasm.NewCode())}
	m.Exports = []wasm.Export{
		{Name: "crash", Kind: wasm.KindFunc, Idx: 0},
		{Name: "ok", Kind: wasm.KindFunc, Idx: 1},
	}
	return m.Encode()
}

// Empty is a module with no sections.
func Empty() []byte {
	return (&wasm.Module{}).Encode()
}
