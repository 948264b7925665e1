package capi

import (
	"fmt"
	"math"
)

// Val is a tagged runtime value. Numeric values are stored as raw bits;
// reference values hold the referenced object (nil for a null reference).
type Val struct {
	ref  any
	bits uint64
	kind ValKind
}

func ValI32(v int32) Val     { return Val{kind: KindI32, bits: uint64(uint32(v))} }
func ValI64(v int64) Val     { return Val{kind: KindI64, bits: uint64(v)} }
func ValF32(v float32) Val   { return Val{kind: KindF32, bits: uint64(math.Float32bits(v))} }
func ValF64(v float64) Val   { return Val{kind: KindF64, bits: math.Float64bits(v)} }
func ValFuncRef(f *Func) Val { return Val{kind: KindFuncRef, ref: f} }

// ValAnyRef wraps an arbitrary host reference.
func ValAnyRef(ref any) Val { return Val{kind: KindAnyRef, ref: ref} }

// valBits builds a numeric value of kind from raw bits.
func valBits(kind ValKind, bits uint64) Val {
	if kind == KindI32 || kind == KindF32 {
		bits = uint64(uint32(bits))
	}
	return Val{kind: kind, bits: bits}
}

func (v Val) Kind() ValKind  { return v.kind }
func (v Val) I32() int32     { return int32(uint32(v.bits)) }
func (v Val) I64() int64     { return int64(v.bits) }
func (v Val) F32() float32   { return math.Float32frombits(uint32(v.bits)) }
func (v Val) F64() float64   { return math.Float64frombits(v.bits) }
func (v Val) Ref() any       { return v.ref }
func (v Val) Bits() uint64   { return v.bits }
func (v Val) Copy() Val      { return v }
func (v Val) IsNull() bool   { return v.kind.IsRef() && v.ref == nil }
func (v Val) Type() *ValType { return NewValType(v.kind) }

// Same compares kind and payload. Floats compare by bit pattern and
// references by identity.
func (v Val) Same(o Val) bool {
	if v.kind != o.kind {
		return false
	}
	if v.kind.IsRef() {
		return sameRef(v.ref, o.ref)
	}
	return v.bits == o.bits
}

func sameRef(a, b any) (same bool) {
	// uncomparable dynamic types panic on ==
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (v Val) String() string {
	switch v.kind {
	case KindI32:
		return fmt.Sprintf("i32:%d", v.I32())
	case KindI64:
		return fmt.Sprintf("i64:%d", v.I64())
	case KindF32:
		return fmt.Sprintf("f32:%g", v.F32())
	case KindF64:
		return fmt.Sprintf("f64:%g", v.F64())
	default:
		if v.ref == nil {
			return v.kind.String() + ":null"
		}
		return fmt.Sprintf("%s:%T", v.kind, v.ref)
	}
}
