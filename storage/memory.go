package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/songzhibin97/flownet/types"
	"github.com/songzhibin97/flownet/workflow"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
type MemoryStorage struct {
	definitions map[string][]types.Definition // versions in order, version n at index n-1
	executions  map[uint64]types.ExecutionState
	variables   map[uint64]map[string]interface{}
	mu          sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		definitions: make(map[string][]types.Definition),
		executions:  make(map[uint64]types.ExecutionState),
		variables:   make(map[uint64]map[string]interface{}),
	}
}

// getItem is a standalone generic helper function.
func getItem[K comparable, T any](ctx context.Context, mu *sync.RWMutex, m map[K]T, id K, errNotFound error) (T, error) {
	return withContext(ctx, func() (T, error) {
		mu.RLock()
		defer mu.RUnlock()
		item, ok := m[id]
		if !ok {
			var zero T
			return zero, fmt.Errorf("%w: id=%v", errNotFound, id)
		}
		return item, nil
	})
}

// SaveDefinition stores def as the next version of its name.
func (s *MemoryStorage) SaveDefinition(ctx context.Context, def types.Definition) (int, error) {
	return withContext(ctx, func() (int, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		def.Version = len(s.definitions[def.Name]) + 1
		s.definitions[def.Name] = append(s.definitions[def.Name], def)
		return def.Version, nil
	})
}

// GetDefinition retrieves a definition from memory.
func (s *MemoryStorage) GetDefinition(ctx context.Context, name string, version int) (types.Definition, error) {
	return withContext(ctx, func() (types.Definition, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		versions := s.definitions[name]
		if version == 0 {
			version = len(versions)
		}
		if version < 1 || version > len(versions) {
			return types.Definition{}, fmt.Errorf("%w: %s version %d", ErrDefinitionNotFound, name, version)
		}
		return versions[version-1], nil
	})
}

// SaveExecution saves an execution checkpoint to memory.
func (s *MemoryStorage) SaveExecution(ctx context.Context, st types.ExecutionState) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.executions[st.ID] = st
		return nil
	})
}

// GetExecution retrieves an execution checkpoint from memory.
func (s *MemoryStorage) GetExecution(ctx context.Context, id uint64) (types.ExecutionState, error) {
	return getItem(ctx, &s.mu, s.executions, id, ErrExecutionNotFound)
}

// DeleteExecution removes an execution checkpoint. Handler variables are kept.
func (s *MemoryStorage) DeleteExecution(ctx context.Context, id uint64) error {
	return withContextError(ctx, func() error {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.executions, id)
		return nil
	})
}

// VariableHandler returns a handler keeping variables in memory, per execution.
func (s *MemoryStorage) VariableHandler() workflow.VariableHandler {
	return memoryVariables{s}
}

type memoryVariables struct {
	s *MemoryStorage
}

func (h memoryVariables) Load(ctx context.Context, e *workflow.Execution, name string) (interface{}, error) {
	return withContext(ctx, func() (interface{}, error) {
		h.s.mu.RLock()
		defer h.s.mu.RUnlock()
		return h.s.variables[e.ID()][name], nil
	})
}

func (h memoryVariables) Save(ctx context.Context, e *workflow.Execution, name string, value interface{}) error {
	return withContextError(ctx, func() error {
		h.s.mu.Lock()
		defer h.s.mu.Unlock()
		vars, ok := h.s.variables[e.ID()]
		if !ok {
			vars = make(map[string]interface{})
			h.s.variables[e.ID()] = vars
		}
		vars[name] = value
		return nil
	})
}
