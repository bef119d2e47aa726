// Package ingest runs ingestion tasks: decode the staged file, resolve rows
// into cases in commit batches and report progress through the registry.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/recoverydesk/case-service/internal/metrics"
	"github.com/recoverydesk/case-service/internal/parsers"
	"github.com/recoverydesk/case-service/internal/registry"
	"github.com/recoverydesk/case-service/internal/resolver"
	"github.com/recoverydesk/case-service/internal/telemetry"
	"github.com/recoverydesk/case-service/internal/types"
)

// ErrShuttingDown is returned by Trigger after Shutdown has begun
var ErrShuttingDown = errors.New("ingestion runner is shutting down")

// Dispatcher relays the decoded rows of a task to an external consumer
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID string, rows []types.DecodedRow) error
}

// Config controls batching and concurrency
type Config struct {
	BatchSize     int
	BatchDelay    time.Duration
	MaxConcurrent int
	Decode        parsers.Options

	// FinalWriteAttempts bounds retries of terminal registry writes
	FinalWriteAttempts int
	FinalWriteBackoff  time.Duration
}

// DefaultConfig returns the default runner configuration
func DefaultConfig() Config {
	return Config{
		BatchSize:          10,
		MaxConcurrent:      10,
		FinalWriteAttempts: 5,
		FinalWriteBackoff:  100 * time.Millisecond,
	}
}

// Runner owns the lifecycle of every triggered task. Each task runs in its
// own goroutine; tasks never communicate except through the registry.
type Runner struct {
	registry   registry.Registry
	resolver   *resolver.Resolver
	dispatcher Dispatcher
	cfg        Config
	metrics    *metrics.Recorder
	tracer     trace.Tracer
	logger     zerolog.Logger

	slots  chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewRunner creates a Runner. dispatcher may be nil.
func NewRunner(reg registry.Registry, res *resolver.Resolver, dispatcher Dispatcher, cfg Config, logger zerolog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.FinalWriteAttempts <= 0 {
		cfg.FinalWriteAttempts = 5
	}
	if cfg.FinalWriteBackoff <= 0 {
		cfg.FinalWriteBackoff = 100 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		registry:   reg,
		resolver:   res,
		dispatcher: dispatcher,
		cfg:        cfg,
		metrics:    metrics.NewRecorder(),
		tracer:     telemetry.Tracer(),
		logger:     logger.With().Str("component", "ingest").Logger(),
		slots:      make(chan struct{}, cfg.MaxConcurrent),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Trigger moves a received task to processing and starts its worker. It
// returns types.ErrNotFound for unknown ids and types.ErrConflict when the
// task was already triggered.
func (r *Runner) Trigger(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrShuttingDown
	}

	_, err := r.registry.Update(ctx, id, func(t *types.Task) error {
		if t.Status != types.StatusReceived {
			return fmt.Errorf("task %s is already %s: %w", id, t.Status, types.ErrConflict)
		}
		now := time.Now().UTC()
		t.Status = types.StatusProcessing
		t.Message = "processing started"
		t.StartedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	r.logger.Info().Str("task_id", id).Msg("Ingestion triggered")
	r.wg.Add(1)
	go r.run(id)
	return nil
}

// Shutdown stops accepting triggers and waits for running tasks until ctx is
// done, after which in-flight tasks are cancelled and marked as failed.
func (r *Runner) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.cancel()
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return ctx.Err()
	}
}

func (r *Runner) run(id string) {
	defer r.wg.Done()
	logger := r.logger.With().Str("task_id", id).Logger()

	select {
	case r.slots <- struct{}{}:
	default:
		r.metrics.TaskWaiting(1)
		r.setMessage(id, "waiting for a worker slot")
		logger.Info().Msg("Waiting for a worker slot")
		select {
		case r.slots <- struct{}{}:
			r.metrics.TaskWaiting(-1)
		case <-r.ctx.Done():
			r.metrics.TaskWaiting(-1)
			r.fail(id, errors.New("interrupted by shutdown"), logger)
			return
		}
	}
	defer func() { <-r.slots }()

	r.metrics.TaskStarted()
	start := time.Now()

	ctx, span := r.tracer.Start(r.ctx, "ingest.task", trace.WithAttributes(attribute.String("task.id", id)))
	defer span.End()

	status := r.process(ctx, id, logger)
	if status == types.StatusError {
		span.SetStatus(codes.Error, "task failed")
	}
	r.metrics.TaskFinished(string(status), time.Since(start))
}

// process runs one task to a terminal status and returns it
func (r *Runner) process(ctx context.Context, id string, logger zerolog.Logger) types.TaskStatus {
	task, err := r.registry.Get(ctx, id)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load task")
		r.fail(id, err, logger)
		return types.StatusError
	}

	r.setMessage(id, "decoding file")
	fields, rows, err := r.decode(ctx, task.Filepath)
	if err != nil {
		r.fail(id, err, logger)
		return types.StatusError
	}

	total := len(rows)
	if _, err := r.update(id, func(t *types.Task) error {
		t.Status = types.StatusAssigning
		t.TotalRows = total
		t.Message = fmt.Sprintf("decoded %d rows, assigning cases", total)
		return nil
	}); err != nil {
		r.fail(id, fmt.Errorf("failed to record decode result: %w", err), logger)
		return types.StatusError
	}
	logger.Info().Int("total_rows", total).Msg("File decoded")

	r.dispatch(id, rows, logger)

	b := &batcher{
		runner: r,
		id:     id,
		total:  total,
		run:    r.resolver.NewRun(id, fields),
		logger: logger,
	}
	defer b.run.Close()

	if err := b.consume(ctx, rows); err != nil {
		r.fail(id, err, logger)
		return types.StatusError
	}

	res := b.result
	msg := fmt.Sprintf("created %d cases and %d customers, skipped %d rows", res.CasesCreated, res.CustomersCreated, res.RowsSkipped)
	if res.BatchesFailed > 0 {
		msg += fmt.Sprintf(", %d batches rolled back", res.BatchesFailed)
	}

	if err := r.finalize(id, func(t *types.Task) error {
		now := time.Now().UTC()
		t.Status = types.StatusDone
		t.Message = msg
		t.Result = &res
		t.FinishedAt = &now
		return nil
	}); err != nil {
		r.fail(id, fmt.Errorf("failed to record completion: %w", err), logger)
		return types.StatusError
	}

	logger.Info().
		Int("cases_created", res.CasesCreated).
		Int("customers_created", res.CustomersCreated).
		Int("rows_skipped", res.RowsSkipped).
		Int("batches_failed", res.BatchesFailed).
		Msg("Ingestion completed")
	return types.StatusDone
}

func (r *Runner) decode(ctx context.Context, path string) ([]string, []types.DecodedRow, error) {
	_, span := r.tracer.Start(ctx, "ingest.decode")
	defer span.End()

	src, err := parsers.Open(path, r.cfg.Decode)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	defer src.Close()

	rows, err := parsers.ReadAll(src)
	if err != nil {
		span.RecordError(err)
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("rows", len(rows)))
	return src.Fields(), rows, nil
}

// dispatch starts the webhook delivery detached from the task
func (r *Runner) dispatch(id string, rows []types.DecodedRow, logger zerolog.Logger) {
	if r.dispatcher == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.dispatcher.Dispatch(r.ctx, id, rows); err != nil {
			logger.Warn().Err(err).Msg("Webhook delivery failed")
		}
	}()
}

// update applies fn unless the task is already terminal. Registry writes
// outlive runner cancellation so a final state is always recorded.
func (r *Runner) update(id string, fn registry.Mutator) (*types.Task, error) {
	return r.registry.Update(context.WithoutCancel(r.ctx), id, func(t *types.Task) error {
		if t.Status.IsTerminal() {
			return fmt.Errorf("task %s is already %s: %w", id, t.Status, types.ErrConflict)
		}
		return fn(t)
	})
}

func (r *Runner) setMessage(id, msg string) {
	if _, err := r.update(id, func(t *types.Task) error {
		t.Message = msg
		return nil
	}); err != nil {
		r.logger.Error().Err(err).Str("task_id", id).Msg("Failed to update task message")
	}
}

func (r *Runner) fail(id string, cause error, logger zerolog.Logger) {
	logger.Error().Err(cause).Msg("Ingestion failed")
	if err := r.finalize(id, func(t *types.Task) error {
		now := time.Now().UTC()
		t.Status = types.StatusError
		t.Message = "ingestion failed: " + cause.Error()
		t.FinishedAt = &now
		return nil
	}); err != nil {
		logger.Error().Err(err).Msg("Failed to record task failure")
	}
}

// finalize writes a terminal state, retrying failed registry writes with
// backoff. It ignores runner cancellation; a task that is already terminal
// or gone is not retried.
func (r *Runner) finalize(id string, fn registry.Mutator) error {
	backoff := r.cfg.FinalWriteBackoff
	var err error
	for attempt := 1; attempt <= r.cfg.FinalWriteAttempts; attempt++ {
		if _, err = r.update(id, fn); err == nil {
			return nil
		}
		if errors.Is(err, types.ErrConflict) || errors.Is(err, types.ErrNotFound) {
			return err
		}
		if attempt == r.cfg.FinalWriteAttempts {
			break
		}
		r.logger.Warn().Err(err).Str("task_id", id).Int("attempt", attempt).Msg("Retrying final task write")
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}
