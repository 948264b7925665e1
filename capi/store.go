package capi

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-capi/errors"
)

// Store owns the modules and instances created in it. Deleting the store
// releases all of them.
type Store struct {
	engine *Engine

	mu        sync.Mutex
	modules   []*Module
	instances map[uint32]*Instance
	order     []uint32
	nextID    uint32
	deleted   bool
}

// NewStore creates a store on e, which must be the live engine.
func NewStore(e *Engine) (*Store, error) {
	if e == nil || !e.live() {
		return nil, errors.NotInitialized(errors.PhaseStore, "engine")
	}
	s := &Store{
		engine:    e,
		instances: make(map[uint32]*Instance),
	}
	if err := e.addStore(s); err != nil {
		return nil, err
	}
	return s, nil
}

// Engine returns the engine the store belongs to.
func (s *Store) Engine() *Engine {
	return s.engine
}

// Delete unregisters the store from its engine and deletes every instance
// and module it owns. Instances with calls in flight are released when
// their last call returns; new calls on them fail with a Trap.
func (s *Store) Delete(ctx context.Context) {
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return
	}
	s.deleted = true
	instances := make([]*Instance, 0, len(s.order))
	for _, id := range s.order {
		instances = append(instances, s.instances[id])
	}
	modules := s.modules
	s.instances, s.order, s.modules = nil, nil, nil
	s.mu.Unlock()

	s.engine.removeStore(s)

	for _, inst := range instances {
		inst.close(ctx)
	}
	for _, m := range modules {
		m.unload(ctx)
	}
	Logger().Debug("store deleted",
		zap.Int("instances", len(instances)),
		zap.Int("modules", len(modules)))
}

func (s *Store) check(phase errors.Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return errors.Deleted(phase, "store")
	}
	return nil
}

func (s *Store) addModule(m *Module) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return errors.Deleted(errors.PhaseLoad, "store")
	}
	s.modules = append(s.modules, m)
	return nil
}

func (s *Store) reserveID() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Store) addInstance(inst *Instance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleted {
		return errors.Deleted(errors.PhaseInstantiate, "store")
	}
	s.instances[inst.id] = inst
	s.order = append(s.order, inst.id)
	return nil
}

func (s *Store) instance(id uint32) (*Instance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, errors.Deleted(errors.PhaseCall, "instance")
	}
	return inst, nil
}

// instanceRef is a non-owning handle to an instance in a store.
type instanceRef struct {
	store *Store
	id    uint32
}

func (r instanceRef) valid() bool {
	return r.store != nil
}

// acquire resolves the instance and marks a call in flight. The caller
// must release the instance when done.
func (r instanceRef) acquire() (*Instance, error) {
	if r.store == nil {
		return nil, errors.NotInitialized(errors.PhaseCall, "instance")
	}
	inst, err := r.store.instance(r.id)
	if err != nil {
		return nil, err
	}
	if err := inst.enter(); err != nil {
		return nil, err
	}
	return inst, nil
}
