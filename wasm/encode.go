package wasm

import (
	"math"

	"github.com/wippyai/wasm-capi/wasm/internal/binary"
)

// Encode encodes the module to WebAssembly binary format
func (m *Module) Encode() []byte {
	w := binary.NewWriter()

	w.WriteU32LE(Magic)
	w.WriteU32LE(Version)

	if len(m.Types) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Types)))
		for _, ft := range m.Types {
			sec.Byte(FuncTypeByte)
			writeValTypes(sec, ft.Params)
			writeValTypes(sec, ft.Results)
		}
		writeSection(w, SectionType, sec.Bytes())
	}

	if len(m.Imports) > 0 {
		writeSection(w, SectionImport, encodeImports(m.Imports))
	}

	if len(m.Funcs) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Funcs)))
		for _, typeIdx := range m.Funcs {
			sec.WriteU32(typeIdx)
		}
		writeSection(w, SectionFunction, sec.Bytes())
	}

	if len(m.Tables) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Tables)))
		for _, t := range m.Tables {
			writeTableType(sec, t)
		}
		writeSection(w, SectionTable, sec.Bytes())
	}

	if len(m.Memories) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Memories)))
		for _, mem := range m.Memories {
			writeLimits(sec, mem.Limits)
		}
		writeSection(w, SectionMemory, sec.Bytes())
	}

	if len(m.Globals) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Globals)))
		for _, g := range m.Globals {
			writeGlobalType(sec, g.Type)
			sec.WriteBytes(g.Init)
		}
		writeSection(w, SectionGlobal, sec.Bytes())
	}

	if len(m.Exports) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Exports)))
		for _, exp := range m.Exports {
			sec.WriteName(exp.Name)
			sec.Byte(exp.Kind)
			sec.WriteU32(exp.Idx)
		}
		writeSection(w, SectionExport, sec.Bytes())
	}

	if m.Start != nil {
		sec := binary.NewWriter()
		sec.WriteU32(*m.Start)
		writeSection(w, SectionStart, sec.Bytes())
	}

	if len(m.Code) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Code)))
		for _, body := range m.Code {
			bodyBuf := binary.NewWriter()
			bodyBuf.WriteU32(uint32(len(body.Locals)))
			for _, local := range body.Locals {
				bodyBuf.WriteU32(local.Count)
				bodyBuf.Byte(byte(local.ValType))
			}
			bodyBuf.WriteBytes(body.Code)
			sec.WriteU32(uint32(bodyBuf.Len()))
			sec.WriteBytes(bodyBuf.Bytes())
		}
		writeSection(w, SectionCode, sec.Bytes())
	}

	if len(m.Data) > 0 {
		sec := binary.NewWriter()
		sec.WriteU32(uint32(len(m.Data)))
		for _, d := range m.Data {
			sec.WriteU32(0)
			sec.WriteBytes(d.Offset)
			sec.WriteU32(uint32(len(d.Init)))
			sec.WriteBytes(d.Init)
		}
		writeSection(w, SectionData, sec.Bytes())
	}

	return w.Bytes()
}

func encodeImports(imports []Import) []byte {
	sec := binary.NewWriter()
	sec.WriteU32(uint32(len(imports)))
	for _, imp := range imports {
		sec.WriteName(imp.Module)
		sec.WriteName(imp.Name)
		sec.Byte(imp.Desc.Kind)
		switch imp.Desc.Kind {
		case KindFunc:
			sec.WriteU32(imp.Desc.TypeIdx)
		case KindTable:
			if imp.Desc.Table != nil {
				writeTableType(sec, *imp.Desc.Table)
			}
		case KindMemory:
			if imp.Desc.Memory != nil {
				writeLimits(sec, imp.Desc.Memory.Limits)
			}
		case KindGlobal:
			if imp.Desc.Global != nil {
				writeGlobalType(sec, *imp.Desc.Global)
			}
		}
	}
	return sec.Bytes()
}

func writeSection(w *binary.Writer, id byte, data []byte) {
	w.Byte(id)
	w.WriteU32(uint32(len(data)))
	w.WriteBytes(data)
}

func writeValTypes(w *binary.Writer, types []ValType) {
	w.WriteU32(uint32(len(types)))
	for _, t := range types {
		w.Byte(byte(t))
	}
}

func writeLimits(w *binary.Writer, l Limits) {
	var flags byte
	if l.Max != nil {
		flags |= LimitsHasMax
	}
	w.Byte(flags)
	w.WriteU32(l.Min)
	if l.Max != nil {
		w.WriteU32(*l.Max)
	}
}

func writeTableType(w *binary.Writer, t TableType) {
	w.Byte(byte(t.ElemType))
	writeLimits(w, t.Limits)
}

func writeGlobalType(w *binary.Writer, g GlobalType) {
	w.Byte(byte(g.ValType))
	if g.Mutable {
		w.Byte(1)
	} else {
		w.Byte(0)
	}
}

// ConstExpr returns a constant expression producing the raw value bits as vt.
// Reference types produce ref.null.
func ConstExpr(vt ValType, bits uint64) []byte {
	w := binary.NewWriter()
	switch vt {
	case ValI32:
		w.Byte(OpI32Const)
		w.WriteS32(int32(uint32(bits)))
	case ValI64:
		w.Byte(OpI64Const)
		w.WriteS64(int64(bits))
	case ValF32:
		w.Byte(OpF32Const)
		w.WriteF32(math.Float32frombits(uint32(bits)))
	case ValF64:
		w.Byte(OpF64Const)
		w.WriteF64(math.Float64frombits(bits))
	default:
		w.Byte(OpRefNull)
		w.Byte(byte(vt))
	}
	w.Byte(OpEnd)
	return w.Bytes()
}

// Code assembles instruction bytes, encoding integer immediates as LEB128.
// It is meant for small generated bodies; callers append OpEnd themselves.
type Code struct {
	w *binary.Writer
}

// NewCode starts an empty instruction sequence.
func NewCode() *Code {
	return &Code{w: binary.NewWriter()}
}

// Op appends raw opcodes.
func (c *Code) Op(ops ...byte) *Code {
	for _, op := range ops {
		c.w.Byte(op)
	}
	return c
}

// OpIdx appends an opcode followed by an unsigned index immediate.
func (c *Code) OpIdx(op byte, idx uint32) *Code {
	c.w.Byte(op)
	c.w.WriteU32(idx)
	return c
}

// I32Const appends i32.const v.
func (c *Code) I32Const(v int32) *Code {
	c.w.Byte(OpI32Const)
	c.w.WriteS32(v)
	return c
}

// I64Const appends i64.const v.
func (c *Code) I64Const(v int64) *Code {
	c.w.Byte(OpI64Const)
	c.w.WriteS64(v)
	return c
}

// Bytes returns the assembled instructions.
func (c *Code) Bytes() []byte {
	return c.w.Bytes()
}
