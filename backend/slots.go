package backend

import "fmt"

// Value types.
const (
	TypeI32       ValType = 0x7f
	TypeI64       ValType = 0x7e
	TypeF32       ValType = 0x7d
	TypeF64       ValType = 0x7c
	TypeFuncRef   ValType = 0x70
	TypeExternRef ValType = 0x6f
)

func (t ValType) String() string {
	switch t {
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeF32:
		return "f32"
	case TypeF64:
		return "f64"
	case TypeFuncRef:
		return "funcref"
	case TypeExternRef:
		return "externref"
	default:
		return fmt.Sprintf("valtype(0x%02x)", byte(t))
	}
}

// SlotWidth returns how many 32-bit slots a value of type t occupies, or 0
// when t cannot be passed through slots.
func SlotWidth(t ValType) int {
	switch t {
	case TypeI32, TypeF32:
		return 1
	case TypeI64, TypeF64:
		return 2
	default:
		return 0
	}
}

// SlotCount sums the slot widths of types.
func SlotCount(types []ValType) (int, error) {
	n := 0
	for i, t := range types {
		w := SlotWidth(t)
		if w == 0 {
			return 0, fmt.Errorf("value %d: type %s has no slot encoding", i, t)
		}
		n += w
	}
	return n, nil
}

// PackSlots writes each 64-bit value in vals into slots according to types,
// low word first for two-slot types. slots must hold SlotCount(types) entries.
func PackSlots(types []ValType, vals []uint64, slots []uint32) {
	k := 0
	for i, t := range types {
		v := vals[i]
		slots[k] = uint32(v)
		if SlotWidth(t) == 2 {
			slots[k+1] = uint32(v >> 32)
			k += 2
		} else {
			k++
		}
	}
}

// UnpackSlots is the inverse of PackSlots.
func UnpackSlots(types []ValType, slots []uint32, vals []uint64) {
	k := 0
	for i, t := range types {
		v := uint64(slots[k])
		if SlotWidth(t) == 2 {
			v |= uint64(slots[k+1]) << 32
			k += 2
		} else {
			k++
		}
		vals[i] = v
	}
}
