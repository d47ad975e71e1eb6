package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Memory is an in-process registry Store. It implements the full Store
// contract and is safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	entities map[string]*Entity
}

// NewMemory creates an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		entities: make(map[string]*Entity),
	}
}

// Seed inserts entities directly, replacing any existing entry with the
// same ID. It is the bootstrap path for tests and standalone deployments.
func (m *Memory) Seed(entities ...Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range entities {
		e := cloneEntity(&entities[i])
		m.entities[e.ID] = e
	}
}

// ListAll returns every entity ID in the registry, sorted.
func (m *Memory) ListAll(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.entities))
	for id := range m.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns a copy of the entity, or (nil, nil) when the registry does
// not know the ID.
func (m *Memory) Get(ctx context.Context, id string) (*Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[id]
	if !ok {
		return nil, nil
	}
	return cloneEntity(e), nil
}

// Remove deletes the entity. Removing an unknown ID is a no-op.
func (m *Memory) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entities, id)
	return nil
}

// Update applies a partial update. Updating an unknown ID is an error.
func (m *Memory) Update(ctx context.Context, id string, update EntityUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return fmt.Errorf("entity not found: %s", id)
	}
	if update.Name != nil {
		e.Name = *update.Name
	}
	if update.Disabled != nil {
		e.Disabled = *update.Disabled
		if *update.Disabled {
			if e.DisabledBy == "" {
				e.DisabledBy = "user"
			}
		} else {
			e.DisabledBy = ""
		}
	}
	if update.Attributes != nil {
		if e.Attributes == nil {
			e.Attributes = make(map[string]interface{}, len(update.Attributes))
		}
		for k, v := range update.Attributes {
			e.Attributes[k] = v
		}
	}
	return nil
}

// SetDisabled flips the disabled state directly, recording what disabled
// the entity. It exists so tests can stage registry drift without going
// through Update.
func (m *Memory) SetDisabled(id string, disabled bool, by string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entities[id]
	if !ok {
		return false
	}
	e.Disabled = disabled
	if disabled {
		e.DisabledBy = by
	} else {
		e.DisabledBy = ""
	}
	return true
}

// Len returns the number of entities in the registry.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entities)
}

func cloneEntity(e *Entity) *Entity {
	out := *e
	if e.Attributes != nil {
		out.Attributes = make(map[string]interface{}, len(e.Attributes))
		for k, v := range e.Attributes {
			out.Attributes[k] = v
		}
	}
	return &out
}
