// Package backendtest provides an instrumented backend for tests: it wraps
// a real backend and counts the modules and instances that are still alive.
package backendtest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/wippyai/wasm-capi/backend"
)

// Counter wraps a backend and tracks live resources.
type Counter struct {
	backend.Backend

	// InstantiateErr, when set, makes every Instantiate fail with it.
	InstantiateErr error

	modules      atomic.Int64
	instances    atomic.Int64
	loads        atomic.Int64
	instantiates atomic.Int64
	closed       atomic.Bool
}

var _ backend.Backend = (*Counter)(nil)

// New wraps b.
func New(b backend.Backend) *Counter {
	return &Counter{Backend: b}
}

// LiveModules returns the number of loaded modules not yet unloaded.
func (c *Counter) LiveModules() int { return int(c.modules.Load()) }

// LiveInstances returns the number of instances not yet deinstantiated.
func (c *Counter) LiveInstances() int { return int(c.instances.Load()) }

// Loads returns the number of successful loads.
func (c *Counter) Loads() int { return int(c.loads.Load()) }

// Instantiates returns the number of successful instantiations.
func (c *Counter) Instantiates() int { return int(c.instantiates.Load()) }

// Closed reports whether Close was called.
func (c *Counter) Closed() bool { return c.closed.Load() }

// Load implements backend.Backend.
func (c *Counter) Load(ctx context.Context, bin []byte) (backend.Module, error) {
	m, err := c.Backend.Load(ctx, bin)
	if err != nil {
		return nil, err
	}
	c.modules.Add(1)
	c.loads.Add(1)
	return &module{Module: m, c: c}, nil
}

// Close implements backend.Backend.
func (c *Counter) Close(ctx context.Context) error {
	c.closed.Store(true)
	return c.Backend.Close(ctx)
}

type module struct {
	backend.Module
	c    *Counter
	once sync.Once
}

func (m *module) Instantiate(ctx context.Context, stackSize, heapSize uint32) (backend.Instance, error) {
	if m.c.InstantiateErr != nil {
		return nil, m.c.InstantiateErr
	}
	inst, err := m.Module.Instantiate(ctx, stackSize, heapSize)
	if err != nil {
		return nil, err
	}
	m.c.instances.Add(1)
	m.c.instantiates.Add(1)
	return &instance{Instance: inst, c: m.c}, nil
}

func (m *module) Unload(ctx context.Context) error {
	m.once.Do(func() { m.c.modules.Add(-1) })
	return m.Module.Unload(ctx)
}

type instance struct {
	backend.Instance
	c    *Counter
	once sync.Once
}

func (i *instance) Deinstantiate(ctx context.Context) error {
	i.once.Do(func() { i.c.instances.Add(-1) })
	return i.Instance.Deinstantiate(ctx)
}
