// Package store is the record store used by ingestion: counterparties
// (customers) and the cases that reference them. Writes happen only inside a
// batch transaction.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/recoverydesk/case-service/internal/types"
)

// RecordStore is the narrow record-store surface ingestion depends on
type RecordStore interface {
	// FindCustomerByEmail returns types.ErrNotFound when no customer has the address
	FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error)
	// Begin opens a batch; the caller must Commit or Rollback it
	Begin(ctx context.Context) (Batch, error)
}

// Batch is one commit unit. Nothing written through it is visible to other
// callers until Commit succeeds.
type Batch interface {
	CreateCustomer(ctx context.Context, c *types.Customer) error
	CreateCase(ctx context.Context, c *types.Case) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Counts summarizes store contents
type Counts struct {
	Customers int `json:"customers"`
	Cases     int `json:"cases"`
}

// Counter is implemented by stores that can report their size
type Counter interface {
	Counts(ctx context.Context) (Counts, error)
}

// ErrDuplicateCustomer is returned when a customer address already exists
var ErrDuplicateCustomer = fmt.Errorf("customer already exists: %w", types.ErrConflict)

// IsDuplicate reports whether err is a uniqueness violation
func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicateCustomer)
}
