package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverydesk/case-service/internal/types"
)

type backend struct {
	name string
	make func(t *testing.T) Registry
}

func backends() []backend {
	return []backend{
		{"memory", func(t *testing.T) Registry { return NewMemory() }},
		{"redis", func(t *testing.T) Registry {
			s := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: s.Addr()})
			t.Cleanup(func() { _ = client.Close() })
			return NewRedis(client, RedisOptions{Prefix: "test"}, zerolog.Nop())
		}},
	}
}

func TestRegistryContract(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			reg := b.make(t)

			id, err := reg.Create(ctx, &types.Task{Status: types.StatusReceived, Filepath: "/tmp/a.csv"})
			require.NoError(t, err)
			require.NotEmpty(t, id)

			got, err := reg.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, types.StatusReceived, got.Status)
			assert.Equal(t, "/tmp/a.csv", got.Filepath)
			assert.NotNil(t, got.Errors)

			updated, err := reg.Update(ctx, id, func(task *types.Task) error {
				task.Status = types.StatusProcessing
				task.Message = "decoding"
				task.Errors = append(task.Errors, "row 1: bad")
				return nil
			})
			require.NoError(t, err)
			assert.Equal(t, types.StatusProcessing, updated.Status)
			assert.Equal(t, id, updated.ID)

			got, err = reg.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, "decoding", got.Message)
			assert.Equal(t, []string{"row 1: bad"}, got.Errors)

			list, err := reg.List(ctx)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			require.NoError(t, reg.Delete(ctx, id))
			_, err = reg.Get(ctx, id)
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestRegistryNotFound(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			reg := b.make(t)

			_, err := reg.Get(ctx, "missing")
			assert.ErrorIs(t, err, types.ErrNotFound)

			_, err = reg.Update(ctx, "missing", func(*types.Task) error { return nil })
			assert.ErrorIs(t, err, types.ErrNotFound)
		})
	}
}

func TestRegistryMutatorErrorAborts(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			reg := b.make(t)

			id, err := reg.Create(ctx, &types.Task{Status: types.StatusReceived})
			require.NoError(t, err)

			boom := errors.New("boom")
			_, err = reg.Update(ctx, id, func(task *types.Task) error {
				task.Status = types.StatusDone
				return boom
			})
			assert.ErrorIs(t, err, boom)

			got, err := reg.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, types.StatusReceived, got.Status)
		})
	}
}

func TestRegistryDuplicateID(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			reg := b.make(t)

			_, err := reg.Create(ctx, &types.Task{ID: "fixed"})
			require.NoError(t, err)
			_, err = reg.Create(ctx, &types.Task{ID: "fixed"})
			assert.ErrorIs(t, err, types.ErrConflict)
		})
	}
}

// Concurrent increments must not lose updates.
func TestRegistryConcurrentUpdates(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			reg := b.make(t)

			id, err := reg.Create(ctx, &types.Task{})
			require.NoError(t, err)

			const workers = 8
			var wg sync.WaitGroup
			for i := 0; i < workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					_, err := reg.Update(ctx, id, func(task *types.Task) error {
						task.CurrentProcessed++
						task.Message = "bumped"
						return nil
					})
					assert.NoError(t, err)
				}()
			}
			wg.Wait()

			got, err := reg.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, workers, got.CurrentProcessed)
		})
	}
}

func TestRegistryGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	reg := NewMemory()
	id, err := reg.Create(ctx, &types.Task{Message: "original"})
	require.NoError(t, err)

	got, err := reg.Get(ctx, id)
	require.NoError(t, err)
	got.Message = "mutated"

	again, err := reg.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "original", again.Message)
}

func TestWatchSignalsUpdates(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			ctx := context.Background()
			reg := b.make(t)
			w, ok := reg.(Watcher)
			require.True(t, ok)

			id, err := reg.Create(ctx, &types.Task{})
			require.NoError(t, err)

			changes, stop := w.Watch(ctx, id)
			defer stop()

			_, err = reg.Update(ctx, id, func(task *types.Task) error {
				task.Status = types.StatusProcessing
				return nil
			})
			require.NoError(t, err)

			select {
			case <-changes:
			case <-time.After(2 * time.Second):
				t.Fatal("no change signal received")
			}
		})
	}
}

func TestMemoryWatchStop(t *testing.T) {
	reg := NewMemory()
	id, err := reg.Create(context.Background(), &types.Task{})
	require.NoError(t, err)

	_, stop := reg.Watch(context.Background(), id)
	stop()
	stop()

	reg.mu.RLock()
	defer reg.mu.RUnlock()
	assert.Empty(t, reg.watchers)
}
