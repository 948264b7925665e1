// Package wasm reads and writes the core WebAssembly binary format.
//
// ParseModule decodes the descriptor sections of a module (types, imports,
// functions, tables, memories, globals, exports, start) so that callers can
// reflect a module's imports and exports without executing it. Code, element
// and data sections are skipped and left to the execution backend.
//
// Module.Encode writes a module back out, and GlueBuilder generates the small
// re-exporting modules used to link host functions and globals under one
// import module name.
//
//	m, err := wasm.ParseModule(bin)
//	if err != nil {
//	    return err
//	}
//	for _, imp := range m.Imports {
//	    fmt.Println(imp.Module, imp.Name, wasm.KindName(imp.Desc.Kind))
//	}
package wasm
