package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/recoverydesk/case-service/internal/types"
)

// Memory is an in-process registry backed by a map
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]*types.Task
	watchers map[string]map[chan struct{}]struct{}
}

// NewMemory creates an empty in-process registry
func NewMemory() *Memory {
	return &Memory{
		tasks:    make(map[string]*types.Task),
		watchers: make(map[string]map[chan struct{}]struct{}),
	}
}

func (m *Memory) Create(_ context.Context, task *types.Task) (string, error) {
	t := task.Clone()
	if t.ID == "" {
		t.ID = NewTaskID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.Errors == nil {
		t.Errors = []string{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return "", fmt.Errorf("task %s already exists: %w", t.ID, types.ErrConflict)
	}
	m.tasks[t.ID] = t
	return t.ID, nil
}

func (m *Memory) Get(_ context.Context, id string) (*types.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	return t.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, fn Mutator) (*types.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}

	next := current.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = current.ID
	m.tasks[id] = next

	for ch := range m.watchers[id] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	return next.Clone(), nil
}

func (m *Memory) List(_ context.Context) ([]*types.Task, error) {
	m.mu.RLock()
	out := make([]*types.Task, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return fmt.Errorf("task %s: %w", id, types.ErrNotFound)
	}
	delete(m.tasks, id)
	return nil
}

func (m *Memory) Watch(_ context.Context, id string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	m.mu.Lock()
	set, ok := m.watchers[id]
	if !ok {
		set = make(map[chan struct{}]struct{})
		m.watchers[id] = set
	}
	set[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			delete(m.watchers[id], ch)
			if len(m.watchers[id]) == 0 {
				delete(m.watchers, id)
			}
		})
	}
	return ch, stop
}
