package progress

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/types"
)

// pollingOnly hides the Watch method so the streamer falls back to ticks
type pollingOnly struct {
	registry.Registry
}

func collect(t *testing.T, ch <-chan types.Snapshot, timeout time.Duration) []types.Snapshot {
	t.Helper()
	var out []types.Snapshot
	deadline := time.After(timeout)
	for {
		select {
		case snap, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, snap)
		case <-deadline:
			t.Errorf("stream not closed within %s, got %d snapshots", timeout, len(out))
			return out
		}
	}
}

func TestSubscribeUnknownTask(t *testing.T) {
	s := NewStreamer(registry.NewMemory(), 10*time.Millisecond, zerolog.Nop())
	_, err := s.Subscribe(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestSubscribeAfterDoneYieldsOneSnapshot(t *testing.T) {
	ctx := context.Background()
	reg := registry.NewMemory()
	id, err := reg.Create(ctx, &types.Task{
		Status:           types.StatusDone,
		Message:          "created 3 cases",
		TotalRows:        3,
		CurrentProcessed: 3,
		Result:           &types.TaskResult{CasesCreated: 3},
	})
	require.NoError(t, err)

	s := NewStreamer(reg, 10*time.Millisecond, zerolog.Nop())
	ch, err := s.Subscribe(ctx, id)
	require.NoError(t, err)

	snaps := collect(t, ch, time.Second)
	require.Len(t, snaps, 1)
	assert.Equal(t, types.StatusDone, snaps[0].Status)
	assert.Equal(t, 3, snaps[0].CurrentAssigned)
	assert.Equal(t, 3, snaps[0].Result.CasesCreated)
}

func TestSubscribeEmitsOnlyOnChange(t *testing.T) {
	for _, tc := range []struct {
		name string
		wrap func(*registry.Memory) registry.Registry
	}{
		{"watch", func(m *registry.Memory) registry.Registry { return m }},
		{"poll", func(m *registry.Memory) registry.Registry { return pollingOnly{m} }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			mem := registry.NewMemory()
			id, err := mem.Create(ctx, &types.Task{Status: types.StatusReceived})
			require.NoError(t, err)

			s := NewStreamer(tc.wrap(mem), 5*time.Millisecond, zerolog.Nop())
			ch, err := s.Subscribe(ctx, id)
			require.NoError(t, err)

			done := make(chan []types.Snapshot)
			go func() { done <- collect(t, ch, 2*time.Second) }()
			time.Sleep(30 * time.Millisecond)

			step := func(fn func(*types.Task)) {
				_, err := mem.Update(ctx, id, func(t *types.Task) error { fn(t); return nil })
				require.NoError(t, err)
				time.Sleep(30 * time.Millisecond)
			}

			step(func(t *types.Task) { t.Status = types.StatusProcessing })
			step(func(t *types.Task) { t.Message = "only the message changed" })
			step(func(t *types.Task) { t.Status = types.StatusAssigning; t.TotalRows = 20 })
			step(func(t *types.Task) { t.CurrentProcessed = 10 })
			step(func(t *types.Task) { t.CurrentProcessed = 20 })
			step(func(t *types.Task) { t.Status = types.StatusDone })

			snaps := <-done
			var statuses []types.TaskStatus
			var assigned []int
			for _, s := range snaps {
				statuses = append(statuses, s.Status)
				assigned = append(assigned, s.CurrentAssigned)
			}
			assert.Equal(t, []types.TaskStatus{
				types.StatusReceived, types.StatusProcessing, types.StatusAssigning, types.StatusAssigning,
				types.StatusAssigning, types.StatusDone,
			}, statuses)
			assert.Equal(t, []int{0, 0, 0, 10, 20, 20}, assigned)
		})
	}
}

func TestSubscribeCancelStopsPolling(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	id, err := mem.Create(ctx, &types.Task{Status: types.StatusProcessing})
	require.NoError(t, err)

	subCtx, cancel := context.WithCancel(ctx)
	s := NewStreamer(mem, 5*time.Millisecond, zerolog.Nop())
	ch, err := s.Subscribe(subCtx, id)
	require.NoError(t, err)

	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok, "no further snapshots after cancel")
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop after cancel")
	}

	// The task itself is unaffected.
	task, err := mem.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, task.Status)
}

func TestIndependentSubscribers(t *testing.T) {
	ctx := context.Background()
	mem := registry.NewMemory()
	id, err := mem.Create(ctx, &types.Task{Status: types.StatusAssigning, TotalRows: 2})
	require.NoError(t, err)

	s := NewStreamer(mem, 5*time.Millisecond, zerolog.Nop())
	a, err := s.Subscribe(ctx, id)
	require.NoError(t, err)
	b, err := s.Subscribe(ctx, id)
	require.NoError(t, err)

	_, err = mem.Update(ctx, id, func(t *types.Task) error {
		t.Status = types.StatusDone
		t.CurrentProcessed = 2
		return nil
	})
	require.NoError(t, err)

	for _, ch := range []<-chan types.Snapshot{a, b} {
		snaps := collect(t, ch, time.Second)
		require.NotEmpty(t, snaps)
		assert.Equal(t, types.StatusDone, snaps[len(snaps)-1].Status)
	}
}

func TestWriteEvent(t *testing.T) {
	var buf bytes.Buffer
	err := WriteEvent(&buf, types.Snapshot{TaskID: "t1", Status: types.StatusAssigning, Message: "m", CurrentAssigned: 10, TotalRows: 25})
	require.NoError(t, err)
	assert.Equal(t,
		"data: {\"taskId\":\"t1\",\"status\":\"assigning\",\"message\":\"m\",\"currentAssigned\":10,\"totalRows\":25}\n\n",
		buf.String())
}
