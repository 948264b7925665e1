package backend

import "bytes"

// PackageKind classifies a binary by its header.
type PackageKind uint8

const (
	PackageUnknown PackageKind = iota
	PackageBytecode
	PackageAOT
)

func (k PackageKind) String() string {
	switch k {
	case PackageBytecode:
		return "bytecode"
	case PackageAOT:
		return "aot"
	default:
		return "unknown"
	}
}

// Package magics.
var (
	MagicBytecode = []byte{0x00, 'a', 's', 'm'}
	MagicAOT      = []byte{0x00, 'a', 'o', 't'}
)

// Classify sniffs the package kind of bin from its first four bytes.
func Classify(bin []byte) PackageKind {
	switch {
	case bytes.HasPrefix(bin, MagicBytecode):
		return PackageBytecode
	case bytes.HasPrefix(bin, MagicAOT):
		return PackageAOT
	default:
		return PackageUnknown
	}
}
