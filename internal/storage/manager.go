// Copyright 2025 James Ross
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/flyingrobots/go-design-chunk-cache/internal/chunk"
	"go.uber.org/zap"
)

// Manager is a registry of storage adapters keyed by name, with thin
// delegations of every adapter operation against a configured default.
type Manager struct {
	mu          sync.RWMutex
	adapters    map[string]Adapter
	defaultName string
	log         *zap.Logger
}

// NewManager creates an empty manager.
func NewManager(log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		adapters: make(map[string]Adapter),
		log:      log,
	}
}

// Register adds an adapter under its name. The first registration becomes
// the default until SetDefault overrides it.
func (m *Manager) Register(name string, adapter Adapter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.adapters[name] = adapter
	if m.defaultName == "" {
		m.defaultName = name
	}
}

// SetDefault names the adapter used when callers do not pick one.
func (m *Manager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adapters[name]; !ok {
		return fmt.Errorf("%w: %q", ErrAdapterNotFound, name)
	}
	m.defaultName = name
	return nil
}

// Adapter returns the named adapter, or the default when name is empty.
func (m *Manager) Adapter(name string) (Adapter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if name == "" {
		name = m.defaultName
	}
	adapter, ok := m.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotFound, name)
	}
	return adapter, nil
}

// Names returns the registered adapter names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.adapters))
	for name := range m.adapters {
		names = append(names, name)
	}
	return names
}

func (m *Manager) Save(ctx context.Context, c *chunk.Chunk) error {
	adapter, err := m.Adapter("")
	if err != nil {
		return err
	}
	return adapter.Save(ctx, c)
}

func (m *Manager) Get(ctx context.Context, id string) (*chunk.Chunk, error) {
	adapter, err := m.Adapter("")
	if err != nil {
		return nil, err
	}
	return adapter.Get(ctx, id)
}

func (m *Manager) Has(ctx context.Context, id string) (bool, error) {
	adapter, err := m.Adapter("")
	if err != nil {
		return false, err
	}
	return adapter.Has(ctx, id)
}

func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	adapter, err := m.Adapter("")
	if err != nil {
		return false, err
	}
	return adapter.Delete(ctx, id)
}

func (m *Manager) List(ctx context.Context, f chunk.Filter) ([]chunk.Summary, error) {
	adapter, err := m.Adapter("")
	if err != nil {
		return nil, err
	}
	return adapter.List(ctx, f)
}

// SaveAll persists a batch, using the adapter's bulk path when it has one.
func (m *Manager) SaveAll(ctx context.Context, chunks []*chunk.Chunk) error {
	adapter, err := m.Adapter("")
	if err != nil {
		return err
	}
	if bulk, ok := adapter.(BulkWriter); ok {
		return bulk.BulkSave(ctx, chunks)
	}
	for _, c := range chunks {
		if err := adapter.Save(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// CleanupAll fans out to every registered adapter concurrently and returns
// per-adapter eviction counts. Individual failures are logged and the count
// the adapter returned alongside the error is reported as is; the sweep
// itself never fails.
func (m *Manager) CleanupAll(ctx context.Context) map[string]int {
	m.mu.RLock()
	adapters := make(map[string]Adapter, len(m.adapters))
	for name, adapter := range m.adapters {
		adapters[name] = adapter
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	var resultMu sync.Mutex
	results := make(map[string]int, len(adapters))

	for name, adapter := range adapters {
		wg.Add(1)
		go func(name string, adapter Adapter) {
			defer wg.Done()
			removed, err := adapter.Cleanup(ctx)
			if err != nil {
				m.log.Warn("cleanup failed", zap.String("adapter", name), zap.Error(err))
			}
			resultMu.Lock()
			results[name] = removed
			resultMu.Unlock()
		}(name, adapter)
	}
	wg.Wait()
	return results
}

// Dispose closes every adapter that exposes a close hook and clears the
// registry.
func (m *Manager) Dispose() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, adapter := range m.adapters {
		if err := adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close adapter %q: %w", name, err))
		}
	}
	m.adapters = make(map[string]Adapter)
	m.defaultName = ""

	if len(errs) > 0 {
		return fmt.Errorf("errors disposing adapters: %v", errs)
	}
	return nil
}
