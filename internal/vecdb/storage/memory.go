package storage

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-memory storage implementation, used for tests and for
// building databases before the first snapshot.
type Memory struct {
	vectors map[string]map[string]Vector // rank -> id -> vector
	graphs  map[string][]byte            // rank -> snapshot
	mu      sync.RWMutex
}

// NewMemory creates a new in-memory storage.
func NewMemory() *Memory {
	return &Memory{
		vectors: make(map[string]map[string]Vector),
		graphs:  make(map[string][]byte),
	}
}

// Save stores vectors for a rank.
func (m *Memory) Save(ctx context.Context, rank string, vectors []Vector) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byID := m.vectors[rank]
	if byID == nil {
		byID = make(map[string]Vector)
		m.vectors[rank] = byID
	}
	for _, v := range vectors {
		byID[v.ID] = v
	}
	return nil
}

// Load returns all stored vectors for a rank.
func (m *Memory) Load(ctx context.Context, rank string) ([]Vector, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	byID := m.vectors[rank]
	result := make([]Vector, 0, len(byID))
	for _, v := range byID {
		result = append(result, v)
	}
	return result, nil
}

// SaveGraph stores the graph snapshot for a rank.
func (m *Memory) SaveGraph(ctx context.Context, rank string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make([]byte, len(data))
	copy(snapshot, data)
	m.graphs[rank] = snapshot
	return nil
}

// LoadGraph returns the stored graph snapshot for a rank.
func (m *Memory) LoadGraph(ctx context.Context, rank string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.graphs[rank]
	if !ok {
		return nil, nil
	}
	result := make([]byte, len(data))
	copy(result, data)
	return result, nil
}

// Ranks lists ranks with a stored graph snapshot.
func (m *Memory) Ranks(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranks := make([]string, 0, len(m.graphs))
	for r := range m.graphs {
		ranks = append(ranks, r)
	}
	sort.Strings(ranks)
	return ranks, nil
}

// Close is a no-op for memory storage.
func (m *Memory) Close() error {
	return nil
}
