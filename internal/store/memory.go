package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/recoverydesk/case-service/internal/types"
)

// Memory is an in-process record store. Batches are buffered and applied
// under a single lock on commit.
type Memory struct {
	mu        sync.RWMutex
	customers map[string]*types.Customer // keyed by normalized email
	cases     []*types.Case

	// BeforeCommit, when set, can veto a batch
	BeforeCommit func(customers []*types.Customer, cases []*types.Case) error
}

// NewMemory creates an empty store
func NewMemory() *Memory {
	return &Memory{customers: make(map[string]*types.Customer)}
}

func (m *Memory) FindCustomerByEmail(_ context.Context, email string) (*types.Customer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.customers[strings.ToLower(email)]
	if !ok {
		return nil, types.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) Begin(_ context.Context) (Batch, error) {
	return &memoryBatch{store: m}, nil
}

// Customers returns a copy of all committed customers
func (m *Memory) Customers() []types.Customer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Customer, 0, len(m.customers))
	for _, c := range m.customers {
		out = append(out, *c)
	}
	return out
}

// Cases returns a copy of all committed cases in commit order
func (m *Memory) Cases() []types.Case {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Case, 0, len(m.cases))
	for _, c := range m.cases {
		out = append(out, *c)
	}
	return out
}

func (m *Memory) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Counts{Customers: len(m.customers), Cases: len(m.cases)}, nil
}

type memoryBatch struct {
	store     *Memory
	customers []*types.Customer
	cases     []*types.Case
	closed    bool
}

var errBatchClosed = errors.New("batch already closed")

func (b *memoryBatch) CreateCustomer(_ context.Context, c *types.Customer) error {
	if b.closed {
		return errBatchClosed
	}
	cp := *c
	b.customers = append(b.customers, &cp)
	return nil
}

func (b *memoryBatch) CreateCase(_ context.Context, c *types.Case) error {
	if b.closed {
		return errBatchClosed
	}
	cp := *c
	b.cases = append(b.cases, &cp)
	return nil
}

func (b *memoryBatch) Commit(_ context.Context) error {
	if b.closed {
		return errBatchClosed
	}
	b.closed = true

	m := b.store
	if m.BeforeCommit != nil {
		if err := m.BeforeCommit(b.customers, b.cases); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{}, len(b.customers))
	for _, c := range b.customers {
		key := strings.ToLower(c.Email)
		if _, exists := m.customers[key]; exists {
			return fmt.Errorf("%s: %w", c.Email, ErrDuplicateCustomer)
		}
		if _, dup := seen[key]; dup {
			return fmt.Errorf("%s: %w", c.Email, ErrDuplicateCustomer)
		}
		seen[key] = struct{}{}
	}
	for _, c := range b.customers {
		m.customers[strings.ToLower(c.Email)] = c
	}
	m.cases = append(m.cases, b.cases...)
	return nil
}

func (b *memoryBatch) Rollback(_ context.Context) error {
	b.closed = true
	b.customers = nil
	b.cases = nil
	return nil
}
