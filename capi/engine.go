package capi

import (
	"context"
	"sync"

	"github.com/bluele/gcache"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/backend"
	"github.com/wippyai/wasm-capi/engine"
	"github.com/wippyai/wasm-capi/errors"
)

// AllocType selects how linear memory is allocated.
type AllocType uint8

const (
	// AllocSystem uses the backend's default allocator.
	AllocSystem AllocType = iota
	// AllocPool serves every memory from one fixed-size pool.
	AllocPool
	// AllocAllocator uses the embedder-supplied allocator.
	AllocAllocator
)

func (a AllocType) String() string {
	switch a {
	case AllocSystem:
		return "system"
	case AllocPool:
		return "pool"
	case AllocAllocator:
		return "allocator"
	default:
		return "unknown"
	}
}

// Allocator is the custom allocation triple used with AllocAllocator.
type Allocator = engine.Allocator

// AllocOptions carries the parameters of the chosen AllocType.
type AllocOptions struct {
	// Allocator is required by AllocAllocator.
	Allocator Allocator
	// PoolSize is the pool size in bytes, required by AllocPool.
	PoolSize uint64
}

// Config configures engine creation.
type Config struct {
	// Backend replaces the wazero backend. Mode, allocation and cache
	// settings are ignored when it is set.
	Backend backend.Backend

	// Logger is installed for this package and the engine package.
	Logger *zap.Logger

	AllocOptions AllocOptions

	// CacheDir persists compiled code across processes.
	CacheDir string

	// ModuleCacheSize bounds the cache of reflected module types, keyed by
	// binary digest. 0 uses DefaultModuleCacheSize.
	ModuleCacheSize int

	// MemoryLimitPages bounds every linear memory; 0 means no extra limit.
	MemoryLimitPages uint32

	Mode  backend.Mode
	Alloc AllocType
}

const (
	DefaultModuleCacheSize = 64

	// Stack and heap budgets passed to every instantiation.
	DefaultStackSize = 16 * 1024
	DefaultHeapSize  = 16 * 1024
)

// DefaultMode is the execution mode used by NewEngine.
func DefaultMode() backend.Mode {
	return backend.ModeInterp
}

var (
	engineMu sync.Mutex
	current  *Engine
)

// Engine is the process-wide runtime handle. At most one engine is live at
// a time; it owns every store created against it.
type Engine struct {
	backend backend.Backend
	types   gcache.Cache
	mode    backend.Mode

	mu      sync.Mutex
	stores  []*Store
	deleted bool
}

// NewEngine returns the live engine, creating one with the system
// allocator and the default mode if none exists.
func NewEngine(ctx context.Context) (*Engine, error) {
	return NewEngineWithConfig(ctx, Config{Mode: DefaultMode()})
}

// NewEngineWithArgs is NewEngine with an explicit allocation strategy and mode.
func NewEngineWithArgs(ctx context.Context, alloc AllocType, opts AllocOptions, mode backend.Mode) (*Engine, error) {
	return NewEngineWithConfig(ctx, Config{Mode: mode, Alloc: alloc, AllocOptions: opts})
}

// NewEngineWithConfig returns the live engine, or creates one from cfg.
// An existing engine is returned unchanged even if cfg differs.
//
// It panics on an unknown mode or when AOT is requested on a platform
// without native compilation.
func NewEngineWithConfig(ctx context.Context, cfg Config) (*Engine, error) {
	engineMu.Lock()
	defer engineMu.Unlock()

	if current != nil {
		if cfg.Backend == nil && cfg.Mode != current.mode {
			Logger().Warn("engine already live in another mode",
				zap.Stringer("live", current.mode),
				zap.Stringer("requested", cfg.Mode))
		}
		return current, nil
	}

	if cfg.Logger != nil {
		SetLogger(cfg.Logger)
		engine.SetLogger(cfg.Logger)
	}

	b := cfg.Backend
	if b == nil {
		var err error
		if b, err = newBackend(ctx, cfg); err != nil {
			Logger().Error("create engine", zap.Error(err))
			return nil, err
		}
	}

	size := cfg.ModuleCacheSize
	if size <= 0 {
		size = DefaultModuleCacheSize
	}

	current = &Engine{
		backend: b,
		types:   gcache.New(size).LRU().Build(),
		mode:    b.Mode(),
	}
	debugf("engine created in %s mode", current.mode)
	return current, nil
}

func newBackend(ctx context.Context, cfg Config) (backend.Backend, error) {
	switch cfg.Mode {
	case backend.ModeInterp:
	case backend.ModeAOT:
		if !engine.AOTSupported() {
			panic("capi: aot mode is not supported on " + engine.Target())
		}
	default:
		panic("capi: unknown execution mode " + cfg.Mode.String())
	}

	ecfg := engine.Config{
		CacheDir:         cfg.CacheDir,
		MemoryLimitPages: cfg.MemoryLimitPages,
	}
	switch cfg.Alloc {
	case AllocSystem:
	case AllocPool:
		if cfg.AllocOptions.PoolSize == 0 {
			return nil, errors.InvalidInput(errors.PhaseEngine, "pool allocation requires a pool size")
		}
		ecfg.Allocator = engine.NewPoolAllocator(cfg.AllocOptions.PoolSize)
	case AllocAllocator:
		if cfg.AllocOptions.Allocator == nil {
			return nil, errors.InvalidInput(errors.PhaseEngine, "custom allocation requires an allocator")
		}
		ecfg.Allocator = cfg.AllocOptions.Allocator
	default:
		return nil, errors.InvalidInput(errors.PhaseEngine, "unknown allocation type "+cfg.Alloc.String())
	}
	return engine.New(ctx, cfg.Mode, &ecfg)
}

// Mode returns the execution mode.
func (e *Engine) Mode() backend.Mode {
	return e.mode
}

// Backend returns the execution backend.
func (e *Engine) Backend() backend.Backend {
	return e.backend
}

// Delete deletes every store, closes the backend and clears the singleton
// so the next NewEngine creates a fresh engine.
func (e *Engine) Delete(ctx context.Context) {
	engineMu.Lock()
	if current == e {
		current = nil
	}
	engineMu.Unlock()

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return
	}
	e.deleted = true
	stores := append([]*Store(nil), e.stores...)
	e.mu.Unlock()

	for _, s := range stores {
		s.Delete(ctx)
	}
	e.types.Purge()
	if err := e.backend.Close(ctx); err != nil {
		Logger().Warn("close backend", zap.Error(err))
	}
	debugf("engine deleted, %d stores released", len(stores))
}

func (e *Engine) live() bool {
	engineMu.Lock()
	defer engineMu.Unlock()
	return current == e
}

func (e *Engine) addStore(s *Store) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.deleted {
		return errors.Deleted(errors.PhaseStore, "engine")
	}
	e.stores = append(e.stores, s)
	return nil
}

func (e *Engine) removeStore(s *Store) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, st := range e.stores {
		if st == s {
			e.stores = append(e.stores[:i], e.stores[i+1:]...)
			return
		}
	}
}
