package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/errors"
	"github.com/wippyai/wasm-capi/wasm"
)

// WazeroEngine implements backend.Backend on top of wazero. Each instance
// gets its own wazero runtime; compiled code is shared through one
// compilation cache per engine.
type WazeroEngine struct {
	cache  wazero.CompilationCache
	alloc  experimental.MemoryAllocator
	cfg    Config
	mode   backend.Mode
	closed atomic.Bool
}

var _ backend.Backend = (*WazeroEngine)(nil)

// Config holds configuration for engine creation
type Config struct {
	// Allocator backs linear memories. nil uses wazero's allocator.
	Allocator Allocator

	// CacheDir persists compiled code across processes. Empty keeps the
	// cache in memory for the lifetime of the engine.
	CacheDir string

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	// 256 = 16MB, 1024 = 64MB, 4096 = 256MB
	MemoryLimitPages uint32

	// EnableThreads enables the WebAssembly threads proposal (experimental).
	EnableThreads bool
}

// NewInterp creates an interpreter backend.
func NewInterp(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	return New(ctx, backend.ModeInterp, cfg)
}

// NewAOT creates a backend that runs natively compiled code. It fails on
// platforms without native compilation support.
func NewAOT(ctx context.Context, cfg *Config) (*WazeroEngine, error) {
	return New(ctx, backend.ModeAOT, cfg)
}

// New creates a backend for mode.
func New(_ context.Context, mode backend.Mode, cfg *Config) (*WazeroEngine, error) {
	var c Config
	if cfg != nil {
		c = *cfg
	}

	switch mode {
	case backend.ModeInterp:
	case backend.ModeAOT:
		if !AOTSupported() {
			return nil, errors.Unsupported(errors.PhaseEngine, "aot mode on "+Target())
		}
	default:
		return nil, errors.Unsupported(errors.PhaseEngine, mode.String())
	}

	cache := wazero.NewCompilationCache()
	if c.CacheDir != "" {
		var err error
		cache, err = wazero.NewCompilationCacheWithDir(c.CacheDir)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseEngine, errors.KindInvalidInput, err, "open compilation cache")
		}
	}

	Logger().Debug("engine created",
		zap.Stringer("mode", mode),
		zap.Uint32("memory_limit_pages", c.MemoryLimitPages),
		zap.String("cache_dir", c.CacheDir),
		zap.Bool("custom_allocator", c.Allocator != nil))

	return &WazeroEngine{
		cache: cache,
		alloc: MemoryAllocator(c.Allocator),
		cfg:   c,
		mode:  mode,
	}, nil
}

// Mode implements backend.Backend.
func (e *WazeroEngine) Mode() backend.Mode {
	return e.mode
}

// Cache returns the engine's compilation cache.
func (e *WazeroEngine) Cache() wazero.CompilationCache {
	return e.cache
}

func (e *WazeroEngine) runtimeConfig() wazero.RuntimeConfig {
	var rc wazero.RuntimeConfig
	if e.mode == backend.ModeAOT {
		rc = wazero.NewRuntimeConfigCompiler()
	} else {
		rc = wazero.NewRuntimeConfigInterpreter()
	}
	rc = rc.WithCompilationCache(e.cache)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}
	if e.cfg.EnableThreads {
		rc = rc.WithCoreFeatures(api.CoreFeaturesV2 | experimental.CoreFeaturesThreads)
	}
	return rc
}

// Load implements backend.Backend. The package kind must match the engine
// mode. The module is validated by compiling it once, which also warms the
// compilation cache for later instantiations.
func (e *WazeroEngine) Load(ctx context.Context, bin []byte) (backend.Module, error) {
	if e.closed.Load() {
		return nil, errors.Deleted(errors.PhaseLoad, "engine")
	}

	kind := backend.Classify(bin)
	if !e.mode.Accepts(kind) {
		return nil, errors.ModeMismatch(e.mode.String(), kind.String())
	}

	code := bin
	if kind == backend.PackageAOT {
		var err error
		if code, err = unwrapAOT(bin); err != nil {
			return nil, err
		}
	}

	desc, err := wasm.ParseModule(code)
	if err != nil {
		return nil, errors.Load("decode module", err)
	}

	m, err := newWazeroModule(e, desc, code)
	if err != nil {
		return nil, err
	}

	rt := wazero.NewRuntimeWithConfig(ctx, e.runtimeConfig())
	defer rt.Close(ctx)
	compiled, err := rt.CompileModule(ctx, m.code)
	if err != nil {
		return nil, errors.Load("validate module", err)
	}
	_ = compiled.Close(ctx)

	debugf("loaded %s module: %d imports, %d exports", e.mode, len(m.imports), len(m.exports))
	return m, nil
}

// Close implements backend.Backend. It releases the shared compilation
// cache, so every instance created by the engine must be deinstantiated first.
func (e *WazeroEngine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := e.cache.Close(ctx); err != nil {
		return fmt.Errorf("close compilation cache: %w", err)
	}
	return nil
}
