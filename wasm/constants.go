package wasm

// WebAssembly binary format magic number and version.
const (
	// Magic is the WebAssembly binary magic number ("\0asm" in little-endian).
	Magic uint32 = 0x6D736100

	// Version is the supported WebAssembly binary format version.
	Version uint32 = 0x01
)

// Section IDs define the binary identifiers for each module section.
// Sections must appear in increasing order by ID (except custom sections).
const (
	SectionCustom    byte = 0  // Custom section (can appear anywhere)
	SectionType      byte = 1  // Type section (function signatures)
	SectionImport    byte = 2  // Import section
	SectionFunction  byte = 3  // Function section (type indices)
	SectionTable     byte = 4  // Table section
	SectionMemory    byte = 5  // Memory section
	SectionGlobal    byte = 6  // Global section
	SectionExport    byte = 7  // Export section
	SectionStart     byte = 8  // Start section
	SectionElement   byte = 9  // Element section
	SectionCode      byte = 10 // Code section (function bodies)
	SectionData      byte = 11 // Data section
	SectionDataCount byte = 12 // Data count section (bulk memory)
	SectionTag       byte = 13 // Tag section (exception handling)
)

// Import/Export descriptor kinds identify the type of imported or exported item.
const (
	KindFunc   byte = 0
	KindTable  byte = 1
	KindMemory byte = 2
	KindGlobal byte = 3
	KindTag    byte = 4
)

// Value type encodings as defined in the WebAssembly binary format.
const (
	ValI32       ValType = 0x7F
	ValI64       ValType = 0x7E
	ValF32       ValType = 0x7D
	ValF64       ValType = 0x7C
	ValV128      ValType = 0x7B
	ValFuncRef   ValType = 0x70
	ValExternRef ValType = 0x6F
)

// FuncTypeByte prefixes a function type in the type section.
const FuncTypeByte byte = 0x60

// Limits flags
const (
	LimitsHasMax   byte = 0x01
	LimitsShared   byte = 0x02
	LimitsMemory64 byte = 0x04
)

// Opcodes used by constant expressions and the encoder helpers.
const (
	OpUnreachable byte = 0x00
	OpNop         byte = 0x01
	OpEnd         byte = 0x0B
	OpCall        byte = 0x10
	OpDrop        byte = 0x1A
	OpLocalGet    byte = 0x20
	OpLocalSet    byte = 0x21
	OpGlobalGet   byte = 0x23
	OpGlobalSet   byte = 0x24
	OpI32Const    byte = 0x41
	OpI64Const    byte = 0x42
	OpF32Const    byte = 0x43
	OpF64Const    byte = 0x44
	OpI32Add      byte = 0x6A
	OpI32Sub      byte = 0x6B
	OpI32Mul      byte = 0x6C
	OpI64Add      byte = 0x7C
	OpI64Sub      byte = 0x7D
	OpI64Mul      byte = 0x7E
	OpRefNull     byte = 0xD0
	OpRefFunc     byte = 0xD2
)

// sectionOrder returns the canonical ordering position for a section ID.
// Tag(13) sits between Memory and Global, DataCount(12) before Code.
func sectionOrder(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	default:
		return 0
	}
}
