package wasm

import (
	"errors"
	"fmt"

	"github.com/wippyai/wasm-capi/wasm/internal/binary"
)

// Parsing errors returned by ParseModule.
var (
	ErrInvalidMagic   = errors.New("invalid wasm magic number")
	ErrInvalidVersion = errors.New("invalid wasm version")
)

// ParseModule decodes the descriptor sections of a WebAssembly binary:
// types, imports, functions, tables, memories, globals, exports and start.
// Element, code and data sections are skipped; validating them is the
// execution backend's job.
func ParseModule(data []byte) (*Module, error) {
	r := binary.NewReader(data)

	magic, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if magic != Magic {
		return nil, ErrInvalidMagic
	}

	version, err := r.ReadU32LE()
	if err != nil {
		return nil, r.WrapError("header", err)
	}
	if version != Version {
		return nil, ErrInvalidVersion
	}

	m := &Module{}
	var lastSectionOrder int

	for r.Len() > 0 {
		sectionID, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}

		if sectionID != SectionCustom {
			order := sectionOrder(sectionID)
			if order == 0 {
				return nil, fmt.Errorf("unknown section ID: 0x%02x", sectionID)
			}
			if order <= lastSectionOrder {
				return nil, fmt.Errorf("section %d appears out of order", sectionID)
			}
			lastSectionOrder = order
		}

		sectionSize, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}

		sectionData, err := r.ReadBytes(int(sectionSize))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		sr := binary.NewReader(sectionData)

		switch sectionID {
		case SectionType:
			if err := parseTypeSection(sr, m); err != nil {
				return nil, fmt.Errorf("type section: %w", err)
			}
		case SectionImport:
			if err := parseImportSection(sr, m); err != nil {
				return nil, fmt.Errorf("import section: %w", err)
			}
		case SectionFunction:
			if err := parseFunctionSection(sr, m); err != nil {
				return nil, fmt.Errorf("function section: %w", err)
			}
		case SectionTable:
			if err := parseTableSection(sr, m); err != nil {
				return nil, fmt.Errorf("table section: %w", err)
			}
		case SectionMemory:
			if err := parseMemorySection(sr, m); err != nil {
				return nil, fmt.Errorf("memory section: %w", err)
			}
		case SectionGlobal:
			if err := parseGlobalSection(sr, m); err != nil {
				return nil, fmt.Errorf("global section: %w", err)
			}
		case SectionExport:
			if err := parseExportSection(sr, m); err != nil {
				return nil, fmt.Errorf("export section: %w", err)
			}
		case SectionStart:
			idx, err := sr.ReadU32()
			if err != nil {
				return nil, fmt.Errorf("start section: %w", err)
			}
			m.Start = &idx
		}
	}

	return m, nil
}

func parseTypeSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Types = make([]FuncType, count)
	for i := uint32(0); i < count; i++ {
		form, err := r.ReadByte()
		if err != nil {
			return err
		}
		if form != FuncTypeByte {
			return fmt.Errorf("type %d: unsupported type form 0x%02x", i, form)
		}
		params, err := readValTypes(r)
		if err != nil {
			return err
		}
		results, err := readValTypes(r)
		if err != nil {
			return err
		}
		m.Types[i] = FuncType{Params: params, Results: results}
	}
	return nil
}

func parseImportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Imports = make([]Import, count)
	for i := uint32(0); i < count; i++ {
		module, err := r.ReadName()
		if err != nil {
			return err
		}
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}

		imp := Import{Module: module, Name: name, Desc: ImportDesc{Kind: kind}}

		switch kind {
		case KindFunc:
			imp.Desc.TypeIdx, err = r.ReadU32()
			if err != nil {
				return err
			}
		case KindTable:
			table, err := readTableType(r)
			if err != nil {
				return err
			}
			imp.Desc.Table = &table
		case KindMemory:
			limits, err := readLimits(r)
			if err != nil {
				return err
			}
			imp.Desc.Memory = &MemoryType{Limits: limits}
		case KindGlobal:
			global, err := readGlobalType(r)
			if err != nil {
				return err
			}
			imp.Desc.Global = &global
		default:
			return fmt.Errorf("unknown import kind: %d", kind)
		}

		m.Imports[i] = imp
	}
	return nil
}

func parseFunctionSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Funcs = make([]uint32, count)
	for i := uint32(0); i < count; i++ {
		m.Funcs[i], err = r.ReadU32()
		if err != nil {
			return err
		}
	}
	return nil
}

func parseTableSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Tables = make([]TableType, count)
	for i := uint32(0); i < count; i++ {
		m.Tables[i], err = readTableType(r)
		if err != nil {
			return err
		}
	}
	return nil
}

func parseMemorySection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Memories = make([]MemoryType, count)
	for i := uint32(0); i < count; i++ {
		limits, err := readLimits(r)
		if err != nil {
			return err
		}
		m.Memories[i] = MemoryType{Limits: limits}
	}
	return nil
}

func parseGlobalSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Globals = make([]Global, count)
	for i := uint32(0); i < count; i++ {
		gt, err := readGlobalType(r)
		if err != nil {
			return err
		}
		init, err := readConstExpr(r)
		if err != nil {
			return fmt.Errorf("global %d init: %w", i, err)
		}
		m.Globals[i] = Global{Type: gt, Init: init}
	}
	return nil
}

func parseExportSection(r *binary.Reader, m *Module) error {
	count, err := r.ReadU32()
	if err != nil {
		return err
	}
	m.Exports = make([]Export, count)
	seen := make(map[string]struct{}, count)
	for i := uint32(0); i < count; i++ {
		name, err := r.ReadName()
		if err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate export name %q", name)
		}
		seen[name] = struct{}{}
		kind, err := r.ReadByte()
		if err != nil {
			return err
		}
		if kind > KindGlobal {
			return fmt.Errorf("export %q: unknown kind %d", name, kind)
		}
		idx, err := r.ReadU32()
		if err != nil {
			return err
		}
		m.Exports[i] = Export{Name: name, Kind: kind, Idx: idx}
	}
	return nil
}

func readValTypes(r *binary.Reader) ([]ValType, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, err
	}
	types := make([]ValType, count)
	for i := range types {
		b, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		vt := ValType(b)
		if !vt.valid() {
			return nil, fmt.Errorf("invalid value type 0x%02x", b)
		}
		types[i] = vt
	}
	return types, nil
}

func (v ValType) valid() bool {
	switch v {
	case ValI32, ValI64, ValF32, ValF64, ValV128, ValFuncRef, ValExternRef:
		return true
	}
	return false
}

func readLimits(r *binary.Reader) (Limits, error) {
	flags, err := r.ReadByte()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsMemory64 != 0 {
		return Limits{}, errors.New("64-bit limits are not supported")
	}

	var l Limits
	l.Min, err = r.ReadU32()
	if err != nil {
		return Limits{}, err
	}
	if flags&LimitsHasMax != 0 {
		maxVal, err := r.ReadU32()
		if err != nil {
			return Limits{}, err
		}
		if maxVal < l.Min {
			return Limits{}, fmt.Errorf("limits max %d below min %d", maxVal, l.Min)
		}
		l.Max = &maxVal
	}
	return l, nil
}

func readTableType(r *binary.Reader) (TableType, error) {
	elem, err := r.ReadByte()
	if err != nil {
		return TableType{}, err
	}
	if ValType(elem) != ValFuncRef && ValType(elem) != ValExternRef {
		return TableType{}, fmt.Errorf("invalid table element type 0x%02x", elem)
	}
	limits, err := readLimits(r)
	if err != nil {
		return TableType{}, err
	}
	return TableType{ElemType: ValType(elem), Limits: limits}, nil
}

func readGlobalType(r *binary.Reader) (GlobalType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	vt := ValType(b)
	if !vt.valid() {
		return GlobalType{}, fmt.Errorf("invalid global type 0x%02x", b)
	}
	mut, err := r.ReadByte()
	if err != nil {
		return GlobalType{}, err
	}
	if mut > 1 {
		return GlobalType{}, fmt.Errorf("invalid mutability flag %d", mut)
	}
	return GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

// readConstExpr returns the raw bytes of a constant expression including its end opcode.
func readConstExpr(r *binary.Reader) ([]byte, error) {
	start := r.Position()
	for {
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		switch op {
		case OpEnd:
			end := r.Position()
			return append([]byte(nil), r.Slice(start, end)...), nil
		case OpI32Const:
			_, err = r.ReadS32()
		case OpI64Const:
			_, err = r.ReadS64()
		case OpF32Const:
			err = r.Skip(4)
		case OpF64Const:
			err = r.Skip(8)
		case OpGlobalGet, OpRefFunc:
			_, err = r.ReadU32()
		case OpRefNull:
			_, err = r.ReadByte()
		case OpI32Add, OpI32Sub, OpI32Mul, OpI64Add, OpI64Sub, OpI64Mul:
		default:
			return nil, fmt.Errorf("opcode 0x%02x not allowed in constant expression", op)
		}
		if err != nil {
			return nil, err
		}
	}
}
