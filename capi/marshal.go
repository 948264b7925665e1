package capi

import (
	"strconv"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
)

// SlotCount returns the number of 32-bit slots values of the given types
// occupy: one for i32 and f32, two for i64 and f64. Reference types have
// no slot encoding.
func SlotCount(types ValTypeVec) (int, error) {
	n := 0
	for i, t := range types.Slice() {
		w, err := slotWidth(t.kind, i)
		if err != nil {
			return 0, err
		}
		n += w
	}
	return n, nil
}

func slotWidth(kind ValKind, i int) (int, error) {
	bt, ok := kind.backendType()
	if ok {
		if w := backend.SlotWidth(bt); w > 0 {
			return w, nil
		}
	}
	return 0, errors.New(errors.PhaseMarshal, errors.KindUnsupported).
		Path(strconv.Itoa(i)).
		Detail("%s values cannot be passed through slots", kind).
		Build()
}

// ValsToSlots writes vals into slots in declaration order. Each value's kind
// must equal the declared type; 64-bit values are split low word first.
func ValsToSlots(types ValTypeVec, vals []Val, slots []uint32) error {
	if len(vals) < types.Len() {
		return errors.OutOfBounds(errors.PhaseMarshal, nil, types.Len(), len(vals))
	}
	k := 0
	for i, t := range types.Slice() {
		v := vals[i]
		if v.kind != t.kind {
			return errors.TypeMismatch(errors.PhaseMarshal, []string{strconv.Itoa(i)}, t.kind.String(), v.kind.String())
		}
		w, err := slotWidth(t.kind, i)
		if err != nil {
			return err
		}
		if k+w > len(slots) {
			return errors.OutOfBounds(errors.PhaseMarshal, []string{strconv.Itoa(i)}, k+w, len(slots))
		}
		slots[k] = uint32(v.bits)
		if w == 2 {
			slots[k+1] = uint32(v.bits >> 32)
		}
		k += w
	}
	return nil
}

// SlotsToVals reads values of the declared types from slots.
func SlotsToVals(types ValTypeVec, slots []uint32, vals []Val) error {
	if len(vals) < types.Len() {
		return errors.OutOfBounds(errors.PhaseMarshal, nil, types.Len(), len(vals))
	}
	k := 0
	for i, t := range types.Slice() {
		w, err := slotWidth(t.kind, i)
		if err != nil {
			return err
		}
		if k+w > len(slots) {
			return errors.OutOfBounds(errors.PhaseMarshal, []string{strconv.Itoa(i)}, k+w, len(slots))
		}
		bits := uint64(slots[k])
		if w == 2 {
			bits |= uint64(slots[k+1]) << 32
		}
		vals[i] = valBits(t.kind, bits)
		k += w
	}
	return nil
}
