package wasm_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wippyai/wasm-capi/wasm"
)

func ptrTo[T any](v T) *T { return &v }

func TestParseMinimalModule(t *testing.T) {
	data := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00}
	m, err := wasm.ParseModule(data)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.Empty(t, m.Imports)
}

func TestParseHeaderErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
		want error
	}{
		{name: "invalid magic", data: []byte{0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00}, want: wasm.ErrInvalidMagic},
		{name: "invalid version", data: []byte{0x00, 0x61, 0x73, 0x6D, 0x02, 0x00, 0x00, 0x00}, want: wasm.ErrInvalidVersion},
		{name: "truncated", data: []byte{0x00, 0x61, 0x73}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := wasm.ParseModule(tt.data)
			require.Error(t, err)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestParseDescriptors(t *testing.T) {
	m := &wasm.Module{
		Types: []wasm.FuncType{
			{Params: []wasm.ValType{wasm.ValI32}, Results: []wasm.ValType{wasm.ValI32}},
			{Params: []wasm.ValType{wasm.ValI64, wasm.ValF64}},
		},
		Imports: []wasm.Import{
			{Module: "env", Name: "inc", Desc: wasm.ImportDesc{Kind: wasm.KindFunc, TypeIdx: 0}},
			{Module: "env", Name: "counter", Desc: wasm.ImportDesc{Kind: wasm.KindGlobal, Global: &wasm.GlobalType{ValType: wasm.ValI64, Mutable: true}}},
			{Module: "env", Name: "tbl", Desc: wasm.ImportDesc{Kind: wasm.KindTable, Table: &wasm.TableType{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 1, Max: ptrTo(uint32(4))}}}},
			{Module: "env", Name: "mem", Desc: wasm.ImportDesc{Kind: wasm.KindMemory, Memory: &wasm.MemoryType{Limits: wasm.Limits{Min: 1}}}},
		},
		Funcs:    []uint32{1},
		Tables:   []wasm.TableType{{ElemType: wasm.ValFuncRef, Limits: wasm.Limits{Min: 2}}},
		Memories: []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: ptrTo(uint32(2))}}},
		Globals: []wasm.Global{
			{Type: wasm.GlobalType{ValType: wasm.ValF32}, Init: wasm.ConstExpr(wasm.ValF32, 0x3fc00000)},
		},
		Exports: []wasm.Export{
			{Name: "run", Kind: wasm.KindFunc, Idx: 1},
			{Name: "g", Kind: wasm.KindGlobal, Idx: 1},
		},
		Code: []wasm.FuncBody{{Code: []byte{wasm.OpEnd}}},
	}

	parsed, err := wasm.ParseModule(m.Encode())
	require.NoError(t, err)

	require.Len(t, parsed.Imports, 4)
	require.Equal(t, "counter", parsed.Imports[1].Name)
	require.Equal(t, wasm.GlobalType{ValType: wasm.ValI64, Mutable: true}, *parsed.Imports[1].Desc.Global)
	require.Equal(t, uint32(4), *parsed.Imports[2].Desc.Table.Limits.Max)
	require.Nil(t, parsed.Imports[3].Desc.Memory.Limits.Max)

	counts := parsed.CountImports()
	require.Equal(t, wasm.ImportCounts{Funcs: 1, Tables: 1, Memories: 1, Globals: 1}, counts)
	require.Equal(t, len(parsed.Imports), counts.Total())

	// Function index 1 is the first defined function (index 0 is the import).
	ft := parsed.GetFuncType(1)
	require.NotNil(t, ft)
	require.Equal(t, []wasm.ValType{wasm.ValI64, wasm.ValF64}, ft.Params)
	require.Equal(t, []wasm.ValType{wasm.ValI32}, parsed.GetFuncType(0).Results)
	require.Nil(t, parsed.GetFuncType(2))

	require.Equal(t, wasm.ValI64, parsed.GetGlobalType(0).ValType)
	require.Equal(t, wasm.ValF32, parsed.GetGlobalType(1).ValType)
	require.Equal(t, uint32(2), parsed.GetTableType(1).Limits.Min)
	require.Equal(t, uint32(2), *parsed.GetMemoryType(1).Limits.Max)
	require.Equal(t, wasm.ConstExpr(wasm.ValF32, 0x3fc00000), parsed.Globals[0].Init)
}

func TestParseRejectsMalformedSections(t *testing.T) {
	t.Run("out of order", func(t *testing.T) {
		data := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00,
			wasm.SectionFunction, 0x01, 0x00,
			wasm.SectionType, 0x01, 0x00,
		}
		_, err := wasm.ParseModule(data)
		require.ErrorContains(t, err, "out of order")
	})

	t.Run("duplicate export", func(t *testing.T) {
		m := &wasm.Module{
			Globals: []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: wasm.ConstExpr(wasm.ValI32, 1)}},
			Exports: []wasm.Export{
				{Name: "g", Kind: wasm.KindGlobal},
				{Name: "g", Kind: wasm.KindGlobal},
			},
		}
		_, err := wasm.ParseModule(m.Encode())
		require.ErrorContains(t, err, "duplicate export")
	})

	t.Run("truncated section", func(t *testing.T) {
		data := []byte{0x00, 0x61, 0x73, 0x6D, 0x01, 0x00, 0x00, 0x00, wasm.SectionType, 0x05, 0x01}
		_, err := wasm.ParseModule(data)
		require.Error(t, err)
	})
}

func TestConstExprNegativeI32(t *testing.T) {
	m := &wasm.Module{
		Globals: []wasm.Global{{Type: wasm.GlobalType{ValType: wasm.ValI32}, Init: wasm.ConstExpr(wasm.ValI32, uint64(0xFFFFFFFF))}},
	}
	parsed, err := wasm.ParseModule(m.Encode())
	require.NoError(t, err)
	// i32.const -1 is a single LEB128 byte 0x7f.
	require.Equal(t, []byte{wasm.OpI32Const, 0x7f, wasm.OpEnd}, parsed.Globals[0].Init)
}
