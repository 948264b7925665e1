package wasmcapi

import (
	"encoding/binary"
	"fmt"
)

// Memory is a linear memory as seen by an embedder. capi.Memory implements
// it for both host memories and instance exports.
type Memory interface {
	// Data returns the memory contents. The slice aliases the memory and
	// is invalidated by Grow.
	Data() ([]byte, error)
	DataSize() (int, error)
	// Size returns the size in pages.
	Size() (uint32, error)
	// Grow adds delta pages and returns the previous size in pages.
	Grow(delta uint32) (uint32, error)
}

// Allocator supplies the backing buffers of linear memories.
// Malloc and Realloc must return zeroed bytes beyond the preserved prefix,
// and return nil when the request cannot be satisfied.
type Allocator interface {
	Malloc(size uint64) []byte
	Realloc(buf []byte, size uint64) []byte
	Free(buf []byte)
}

func span(m Memory, offset, length uint32) ([]byte, error) {
	data, err := m.Data()
	if err != nil {
		return nil, err
	}
	end := uint64(offset) + uint64(length)
	if end > uint64(len(data)) {
		return nil, fmt.Errorf("memory access [%d, %d) out of bounds (size %d)", offset, end, len(data))
	}
	return data[offset:end], nil
}

// Read copies length bytes at offset.
func Read(m Memory, offset, length uint32) ([]byte, error) {
	b, err := span(m, offset, length)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), b...), nil
}

// Write copies data to offset.
func Write(m Memory, offset uint32, data []byte) error {
	b, err := span(m, offset, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(b, data)
	return nil
}

func ReadU32(m Memory, offset uint32) (uint32, error) {
	b, err := span(m, offset, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func ReadU64(m Memory, offset uint32) (uint64, error) {
	b, err := span(m, offset, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func WriteU32(m Memory, offset uint32, v uint32) error {
	b, err := span(m, offset, 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(b, v)
	return nil
}

func WriteU64(m Memory, offset uint32, v uint64) error {
	b, err := span(m, offset, 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(b, v)
	return nil
}
