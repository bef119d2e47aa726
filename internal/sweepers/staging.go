package sweepers

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/recoverydesk/case-service/internal/metrics"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/storage"
	"github.com/recoverydesk/case-service/internal/types"
)

// StagingSweeper periodically removes staged uploads that no task needs
// anymore. Files of terminal tasks finished before the retention window go,
// as do files whose task is unknown to the registry. With a task retention
// set, terminal tasks older than it are evicted from the registry once their
// file is gone.
type StagingSweeper struct {
	registry      registry.Registry
	staging       storage.Staging
	retention     time.Duration
	taskRetention time.Duration
	interval      time.Duration
	metrics       *metrics.Recorder
	logger        *zerolog.Logger
	now           func() time.Time
	stopChan      chan struct{}
}

// NewStagingSweeper creates a new sweeper for staged uploads. A zero
// taskRetention keeps tasks indefinitely.
func NewStagingSweeper(reg registry.Registry, staging storage.Staging, retention, taskRetention, interval time.Duration, logger *zerolog.Logger) *StagingSweeper {
	return &StagingSweeper{
		registry:      reg,
		staging:       staging,
		retention:     retention,
		taskRetention: taskRetention,
		interval:      interval,
		metrics:       metrics.NewRecorder(),
		logger:        logger,
		now:           time.Now,
		stopChan:      make(chan struct{}),
	}
}

// Start begins the periodic sweep
func (s *StagingSweeper) Start(ctx context.Context) {
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("retention", s.retention).
		Dur("task_retention", s.taskRetention).
		Msg("Starting staging sweeper")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Staging sweeper stopping (context cancelled)")
			return
		case <-s.stopChan:
			s.logger.Info().Msg("Staging sweeper stopping (stop signal)")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error().Err(err).Msg("Failed to sweep staged files")
			}
		}
	}
}

// Stop signals the sweeper to stop
func (s *StagingSweeper) Stop() {
	close(s.stopChan)
}

// Sweep runs one pass and returns the number of files removed
func (s *StagingSweeper) Sweep(ctx context.Context) (int, error) {
	s.logger.Debug().Msg("Running staging sweep")

	tasks, err := s.registry.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	keys, err := s.staging.List(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.retention)
	owners := make(map[string]*types.Task, len(tasks))
	for _, task := range tasks {
		if task.Filepath != "" {
			owners[filepath.Base(task.Filepath)] = task
		}
	}

	removed := 0
	staged := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		task, known := owners[filepath.Base(key)]
		if known && !expired(task, cutoff) {
			staged[filepath.Base(key)] = struct{}{}
			continue
		}
		if !known && !s.orphanExpired(ctx, key, cutoff) {
			continue
		}

		if err := s.staging.Delete(ctx, key); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("Failed to delete staged file")
			if known {
				staged[filepath.Base(key)] = struct{}{}
			}
			continue
		}
		removed++

		if known {
			_, err := s.registry.Update(ctx, task.ID, func(t *types.Task) error {
				t.FileSwept = true
				return nil
			})
			if err != nil {
				s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to mark staged file as swept")
			}
		}
	}

	if removed > 0 {
		s.metrics.FilesSwept(removed)
		s.logger.Info().Int("removed", removed).Msg("Swept staged files")
	}

	if s.taskRetention > 0 {
		s.evictTasks(ctx, tasks, staged)
	}
	return removed, nil
}

// evictTasks deletes terminal tasks finished before the task retention
// window whose staged file is no longer present
func (s *StagingSweeper) evictTasks(ctx context.Context, tasks []*types.Task, staged map[string]struct{}) {
	cutoff := s.now().Add(-s.taskRetention)
	evicted := 0
	for _, task := range tasks {
		if !expired(task, cutoff) {
			continue
		}
		if _, ok := staged[filepath.Base(task.Filepath)]; ok {
			continue
		}
		if err := s.registry.Delete(ctx, task.ID); err != nil {
			s.logger.Warn().Err(err).Str("task_id", task.ID).Msg("Failed to evict task")
			continue
		}
		evicted++
	}
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("Evicted finished tasks")
	}
}

func expired(task *types.Task, cutoff time.Time) bool {
	if !task.Status.IsTerminal() || task.FinishedAt == nil {
		return false
	}
	return task.FinishedAt.Before(cutoff)
}

func (s *StagingSweeper) orphanExpired(ctx context.Context, key string, cutoff time.Time) bool {
	if strings.HasPrefix(filepath.Base(key), ".") {
		return false
	}
	info, err := s.staging.Stat(ctx, key)
	if err != nil {
		return false
	}
	return info.ModifiedAt.Before(cutoff)
}
