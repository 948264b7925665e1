package wasm

import (
	"fmt"

	"github.com/wippyai/wasm-capi/wasm/internal/binary"
)

// RenameImports returns a copy of data with the field name of import i
// replaced by names[i]. Every other section is copied byte for byte.
// names must have one entry per declared import.
func RenameImports(data []byte, names []string) ([]byte, error) {
	r := binary.NewReader(data)
	header, err := r.ReadBytes(8)
	if err != nil {
		return nil, r.WrapError("header", err)
	}

	w := binary.NewWriter()
	w.WriteBytes(header)
	seen := false

	for r.Len() > 0 {
		start := r.Position()
		id, err := r.ReadByte()
		if err != nil {
			return nil, r.WrapError("section header", err)
		}
		size, err := r.ReadU32()
		if err != nil {
			return nil, r.WrapError("section size", err)
		}
		body, err := r.ReadBytes(int(size))
		if err != nil {
			return nil, r.WrapError("section data", err)
		}

		if id != SectionImport {
			w.WriteBytes(r.Slice(start, r.Position()))
			continue
		}

		m := &Module{}
		if err := parseImportSection(binary.NewReader(body), m); err != nil {
			return nil, fmt.Errorf("import section: %w", err)
		}
		if len(m.Imports) != len(names) {
			return nil, fmt.Errorf("import section: %d imports, %d names", len(m.Imports), len(names))
		}
		for i := range m.Imports {
			m.Imports[i].Name = names[i]
		}
		writeSection(w, SectionImport, encodeImports(m.Imports))
		seen = true
	}

	if !seen && len(names) > 0 {
		return nil, fmt.Errorf("no import section for %d names", len(names))
	}
	return w.Bytes(), nil
}
