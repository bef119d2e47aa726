// Package registry holds the state of ingestion tasks. All mutation goes
// through Update, which applies a mutator atomically with respect to
// concurrent readers and writers of the same task.
package registry

import (
	"context"

	"github.com/google/uuid"

	"github.com/recoverydesk/case-service/internal/types"
)

// Mutator edits a private copy of a task. Returning an error discards the
// edit and is passed through to the caller of Update.
type Mutator func(task *types.Task) error

// Registry is the task state store
type Registry interface {
	// Create stores task and returns its id, generating one when empty
	Create(ctx context.Context, task *types.Task) (string, error)
	// Get returns a copy of the task or types.ErrNotFound
	Get(ctx context.Context, id string) (*types.Task, error)
	// Update applies fn atomically and returns a copy of the stored result
	Update(ctx context.Context, id string, fn Mutator) (*types.Task, error)
	// List returns copies of all tasks
	List(ctx context.Context) ([]*types.Task, error)
	// Delete removes a task
	Delete(ctx context.Context, id string) error
}

// Watcher is implemented by registries that can signal task changes. The
// channel receives a value after any update to the task; signals may be
// coalesced. stop releases the subscription.
type Watcher interface {
	Watch(ctx context.Context, id string) (changes <-chan struct{}, stop func())
}

// NewTaskID returns a fresh opaque task identifier
func NewTaskID() string {
	return uuid.NewString()
}
