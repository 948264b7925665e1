package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/wasm"
)

func TestGlueBuilder(t *testing.T) {
	b := wasm.NewGlueBuilder("env$host")
	require.True(t, b.Empty())
	require.Nil(t, b.Build())

	b.AddFunc("inc", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	b.AddFunc("dec", wasm.FuncType{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}})
	b.AddGlobal("limit", wasm.GlobalType{ValType: wasm.ValI64}, 42)

	parsed, err := wasm.ParseModule(b.Build())
	require.NoError(t, err)

	require.Len(t, parsed.Types, 1, "identical signatures share one type")
	require.Len(t, parsed.Imports, 2)
	for _, imp := range parsed.Imports {
		require.Equal(t, "env$host", imp.Module)
	}
	require.Equal(t, []wasm.Export{
		{Name: "inc", Kind: wasm.KindFunc, Idx: 0},
		{Name: "dec", Kind: wasm.KindFunc, Idx: 1},
		{Name: "limit", Kind: wasm.KindGlobal, Idx: 0},
	}, parsed.Exports)
	require.Equal(t, []byte{wasm.OpI64Const, 42, wasm.OpEnd}, parsed.Globals[0].Init)
}

func TestRenameImports(t *testing.T) {
	i32 := wasm.ValI32
	m := &wasm.Module{}
	ti := m.AddType(wasm.FuncType{Results: []wasm.ValType{i32}})
	m.Imports = []wasm.Import{
		{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: ti}},
		{Module: "env", Name: "f", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: ti}},
		{Module: "env", Name: "g", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: i32}}},
	}
	m.Funcs = []uint32{ti}
	m.Code = []wasm.FuncBody{{Code: wasm.NewCode().OpIdx(wasm.OpCall, 1).Op(wasm.OpEnd).Bytes()}}
	m.Exports = []wasm.Export{{Name: "a", Kind: wasm.KindFunc, Idx: 2}}
	bin := m.Encode()

	same, err := wasm.RenameImports(bin, []string{"f", "f", "g"})
	require.NoError(t, err)
	require.Equal(t, bin, same)

	out, err := wasm.RenameImports(bin, []string{"f", "f$1", "g"})
	require.NoError(t, err)
	parsed, err := wasm.ParseModule(out)
	require.NoError(t, err)
	require.Equal(t, "f", parsed.Imports[0].Name)
	require.Equal(t, "f$1", parsed.Imports[1].Name)
	require.Equal(t, "env", parsed.Imports[1].Module)
	require.Equal(t, wasm.KindGlobal, parsed.Imports[2].Desc.Kind)
	require.Equal(t, m.Exports, parsed.Exports)
	require.Equal(t, len(bin)+2, len(out))

	_, err = wasm.RenameImports(bin, []string{"f"})
	require.Error(t, err)
}
