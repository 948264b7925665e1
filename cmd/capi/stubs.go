package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/wippyai/wasm-capi/capi"
)

// stubImports satisfies every import of mod: functions print their
// arguments to w and return zeros, globals hold zero.
func stubImports(store *capi.Store, mod *capi.Module, w io.Writer) ([]*capi.Extern, error) {
	imports, err := mod.Imports()
	if err != nil {
		return nil, err
	}
	defer imports.Delete()

	externs := make([]*capi.Extern, 0, imports.Len())
	for _, it := range imports.Slice() {
		path := it.ModuleName() + "." + it.FieldName()
		switch it.Type().Kind() {
		case capi.ExternFunc:
			ft, err := it.Type().FuncType()
			if err != nil {
				return nil, err
			}
			kinds := resultKinds(ft)
			f, err := capi.NewFunc(store, ft, func(_ context.Context, args, results []capi.Val) error {
				fmt.Fprintf(w, "  stub %s(%s)\n", path, formatVals(args))
				for i, k := range kinds {
					results[i] = zero(k)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			externs = append(externs, f.AsExtern())

		case capi.ExternGlobal:
			gt, err := it.Type().GlobalType()
			if err != nil {
				return nil, err
			}
			g, err := capi.NewGlobal(store, gt, zero(gt.Content().Kind()))
			if err != nil {
				return nil, err
			}
			externs = append(externs, g.AsExtern())

		default:
			return nil, fmt.Errorf("import %s: %s imports cannot be stubbed", path, it.Type().Kind())
		}
	}
	return externs, nil
}

func resultKinds(ft *capi.FuncType) []capi.ValKind {
	kinds := make([]capi.ValKind, 0, ft.Results().Len())
	for _, t := range ft.Results().Slice() {
		kinds = append(kinds, t.Kind())
	}
	return kinds
}

func zero(k capi.ValKind) capi.Val {
	switch k {
	case capi.KindI64:
		return capi.ValI64(0)
	case capi.KindF32:
		return capi.ValF32(0)
	case capi.KindF64:
		return capi.ValF64(0)
	case capi.KindFuncRef:
		return capi.ValFuncRef(nil)
	case capi.KindAnyRef:
		return capi.ValAnyRef(nil)
	default:
		return capi.ValI32(0)
	}
}

// exportedFuncs lists the names of mod's function exports.
func exportedFuncs(mod *capi.Module) ([]string, error) {
	exports, err := mod.Exports()
	if err != nil {
		return nil, err
	}
	defer exports.Delete()

	var names []string
	for _, et := range exports.Slice() {
		if et.Type().Kind() == capi.ExternFunc {
			names = append(names, et.FieldName())
		}
	}
	return names, nil
}

// entryPoint picks a common entry point, or the only function.
func entryPoint(funcs []string) string {
	for _, name := range []string{"_start", "run", "main"} {
		for _, f := range funcs {
			if f == name {
				return name
			}
		}
	}
	if len(funcs) == 1 {
		return funcs[0]
	}
	return ""
}

func parseArgs(ft *capi.FuncType, args []string) ([]capi.Val, error) {
	params := ft.Params().Slice()
	if len(args) != len(params) {
		return nil, fmt.Errorf("expected %d arguments (%s), got %d", len(params), ft, len(args))
	}
	vals := make([]capi.Val, len(params))
	for i, p := range params {
		v, err := parseVal(args[i], p.Kind())
		if err != nil {
			return nil, fmt.Errorf("argument %d: %w", i, err)
		}
		vals[i] = v
	}
	return vals, nil
}

func parseVal(s string, k capi.ValKind) (capi.Val, error) {
	switch k {
	case capi.KindI32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 0, 32)
			if uerr != nil {
				return capi.Val{}, err
			}
			v = int64(int32(uint32(u)))
		}
		return capi.ValI32(int32(v)), nil
	case capi.KindI64:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			u, uerr := strconv.ParseUint(s, 0, 64)
			if uerr != nil {
				return capi.Val{}, err
			}
			v = int64(u)
		}
		return capi.ValI64(v), nil
	case capi.KindF32:
		v, err := strconv.ParseFloat(s, 32)
		if err != nil {
			return capi.Val{}, err
		}
		return capi.ValF32(float32(v)), nil
	case capi.KindF64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return capi.Val{}, err
		}
		return capi.ValF64(v), nil
	default:
		return capi.Val{}, fmt.Errorf("%s arguments are not supported", k)
	}
}

func formatVals(vals []capi.Val) string {
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = v.String()
	}
	return strings.Join(parts, ", ")
}

func describe(t *capi.ExternType) string {
	switch t.Kind() {
	case capi.ExternFunc:
		ft, _ := t.FuncType()
		return "func " + ft.String()
	case capi.ExternGlobal:
		gt, _ := t.GlobalType()
		if gt.Mutability() == capi.Var {
			return "global mut " + gt.Content().String()
		}
		return "global " + gt.Content().String()
	case capi.ExternTable:
		tt, _ := t.TableType()
		return fmt.Sprintf("table %s %s", tt.Element(), limits(tt.Limits()))
	case capi.ExternMemory:
		mt, _ := t.MemoryType()
		return "memory " + limits(mt.Limits())
	}
	return t.Kind().String()
}

func limits(l capi.Limits) string {
	if l.Max == capi.LimitsMaxDefault {
		return fmt.Sprintf("{min %d}", l.Min)
	}
	return fmt.Sprintf("{min %d, max %d}", l.Min, l.Max)
}
