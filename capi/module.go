package capi

import (
	"context"
	"crypto/sha256"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/vec"
)

// Module is a loaded, validated module. It is a view into store-owned
// state: the store unloads it when the store is deleted.
type Module struct {
	store  *Store
	mod    backend.Module
	binary ByteVec
	digest [sha256.Size]byte

	// linkMu serializes link-then-instantiate sequences, since links are
	// recorded on the backend module.
	linkMu sync.Mutex
}

// moduleTypes is the cached reflection of a module binary.
type moduleTypes struct {
	imports []*ImportType
	exports []*ExportType
}

// NewModule validates binary against the engine mode, loads it and
// registers the module in store. The binary is copied.
func NewModule(ctx context.Context, store *Store, binary []byte) (*Module, error) {
	if store == nil {
		return nil, errors.NotInitialized(errors.PhaseLoad, "store")
	}
	if err := store.check(errors.PhaseLoad); err != nil {
		return nil, err
	}

	e := store.engine
	kind := backend.Classify(binary)
	if !e.mode.Accepts(kind) {
		err := errors.ModeMismatch(e.mode.String(), kind.String())
		Logger().Error("load module", zap.Error(err))
		return nil, err
	}

	mod, err := e.backend.Load(ctx, binary)
	if err != nil {
		Logger().Error("load module", zap.Stringer("package", kind), zap.Error(err))
		return nil, err
	}

	m := &Module{
		store:  store,
		mod:    mod,
		binary: vec.PlainOf(binary...),
		digest: sha256.Sum256(binary),
	}
	if err := store.addModule(m); err != nil {
		_ = mod.Unload(ctx)
		return nil, err
	}
	debugf("module loaded: %d imports, %d exports", len(mod.Imports()), len(mod.Exports()))
	return m, nil
}

// Binary returns a copy of the module's original bytes.
func (m *Module) Binary() ByteVec {
	return m.binary.Copy()
}

// Delete is a no-op. Modules are released when their store is deleted.
func (m *Module) Delete() {}

func (m *Module) unload(ctx context.Context) {
	if err := m.mod.Unload(ctx); err != nil {
		Logger().Warn("unload module", zap.Error(err))
	}
	m.binary.Delete()
}

// Imports returns the module's imports in declaration order. The caller
// owns the result.
func (m *Module) Imports() (ImportTypeVec, error) {
	t, err := m.types()
	if err != nil {
		return vec.EmptyOwning[*ImportType](), err
	}
	return vec.OwningOf(t.imports...).Copy()
}

// Exports returns the module's exports in declaration order. The caller
// owns the result.
func (m *Module) Exports() (ExportTypeVec, error) {
	t, err := m.types()
	if err != nil {
		return vec.EmptyOwning[*ExportType](), err
	}
	return vec.OwningOf(t.exports...).Copy()
}

func (m *Module) types() (*moduleTypes, error) {
	if err := m.store.check(errors.PhaseReflect); err != nil {
		return nil, err
	}
	cache := m.store.engine.types
	key := string(m.digest[:])
	if v, err := cache.Get(key); err == nil {
		return v.(*moduleTypes), nil
	}

	t, err := reflectModule(m.mod)
	if err != nil {
		Logger().Error("reflect module", zap.Error(err))
		return nil, err
	}
	_ = cache.Set(key, t)
	return t, nil
}

// reflectModule builds import and export types from the backend
// descriptors. Any failure discards everything built so far.
func reflectModule(mod backend.Module) (*moduleTypes, error) {
	imports := vec.UninitializedOwning[*ImportType](len(mod.Imports()))
	for _, imp := range mod.Imports() {
		typ, err := externTypeFromImport(imp)
		if err != nil {
			imports.Delete()
			return nil, err
		}
		imports.Append(NewImportType(NameOf(imp.Module), NameOf(imp.Name), typ))
	}

	exports := vec.UninitializedOwning[*ExportType](len(mod.Exports()))
	for _, exp := range mod.Exports() {
		typ, err := exportType(mod, exp)
		if err != nil {
			imports.Delete()
			exports.Delete()
			return nil, err
		}
		exports.Append(NewExportType(NameOf(exp.Name), typ))
	}
	return &moduleTypes{imports: imports.Slice(), exports: exports.Slice()}, nil
}

func exportType(mod backend.Module, exp backend.Export) (*ExternType, error) {
	switch exp.Kind {
	case backend.ExternFunc:
		sig, err := mod.ExportFuncType(exp)
		if err != nil {
			return nil, err
		}
		return funcTypeFrom(sig).AsExternType(), nil
	case backend.ExternGlobal:
		sig, err := mod.ExportGlobalType(exp)
		if err != nil {
			return nil, err
		}
		return globalTypeFrom(sig).AsExternType(), nil
	case backend.ExternTable:
		sig, err := mod.ExportTableType(exp)
		if err != nil {
			return nil, err
		}
		return tableTypeFrom(sig).AsExternType(), nil
	case backend.ExternMemory:
		sig, err := mod.ExportMemoryType(exp)
		if err != nil {
			return nil, err
		}
		return memoryTypeFrom(sig).AsExternType(), nil
	}
	return nil, errors.New(errors.PhaseReflect, errors.KindUnsupported).
		Path(exp.Name).
		Detail("export kind %s", exp.Kind).
		Build()
}
