// Package progress turns task state into a stream of snapshots for any
// number of independent observers
package progress

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/recoverydesk/case-service/internal/metrics"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/types"
)

// DefaultInterval is the poll interval when none is configured
const DefaultInterval = 500 * time.Millisecond

// Streamer reads the registry on behalf of subscribers. It never writes.
type Streamer struct {
	registry registry.Registry
	interval time.Duration
	metrics  *metrics.Recorder
	logger   zerolog.Logger
}

// NewStreamer creates a streamer polling every interval
func NewStreamer(reg registry.Registry, interval time.Duration, logger zerolog.Logger) *Streamer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Streamer{
		registry: reg,
		interval: interval,
		metrics:  metrics.NewRecorder(),
		logger:   logger.With().Str("component", "progress").Logger(),
	}
}

// Subscribe returns a channel of snapshots for task id. A snapshot is sent
// when status or currentAssigned changes; the first terminal snapshot is
// always sent and then the channel is closed. Cancelling ctx stops the
// subscription and closes the channel. Unknown ids fail with
// types.ErrNotFound before any snapshot is produced.
func (s *Streamer) Subscribe(ctx context.Context, id string) (<-chan types.Snapshot, error) {
	var (
		changes <-chan struct{}
		stop    = func() {}
	)
	if w, ok := s.registry.(registry.Watcher); ok {
		changes, stop = w.Watch(ctx, id)
	}

	task, err := s.registry.Get(ctx, id)
	if err != nil {
		stop()
		return nil, err
	}

	out := make(chan types.Snapshot)
	s.metrics.SubscriberOpened()

	go func() {
		defer s.metrics.SubscriberClosed()
		defer close(out)
		defer stop()

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		var last *types.Snapshot
		for {
			if task != nil {
				snap := task.Snapshot()
				if shouldEmit(last, snap) {
					select {
					case out <- snap:
					case <-ctx.Done():
						return
					}
					last = &snap
				}
				if snap.Status.IsTerminal() {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			case <-changes:
			}

			next, err := s.registry.Get(ctx, id)
			switch {
			case err == nil:
				task = next
			case errors.Is(err, types.ErrNotFound):
				s.logger.Warn().Str("task_id", id).Msg("Task disappeared during subscription")
				return
			case ctx.Err() != nil:
				return
			default:
				// Skip this round and try again on the next tick.
				s.logger.Warn().Err(err).Str("task_id", id).Msg("Failed to read task state")
				task = nil
			}
		}
	}()

	return out, nil
}

func shouldEmit(last *types.Snapshot, snap types.Snapshot) bool {
	if last == nil {
		return true
	}
	if snap.Status.IsTerminal() {
		return true
	}
	return snap.Status != last.Status || snap.CurrentAssigned != last.CurrentAssigned
}
