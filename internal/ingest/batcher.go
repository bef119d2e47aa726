package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/recoverydesk/case-service/internal/resolver"
	"github.com/recoverydesk/case-service/internal/types"
)

// batcher walks the decoded rows in file order and flushes a batch every
// BatchSize rows and after the last row
type batcher struct {
	runner *Runner
	id     string
	total  int
	run    *resolver.Run
	logger zerolog.Logger

	constructed int
	errs        []string
	result      types.TaskResult
}

func (b *batcher) consume(ctx context.Context, rows []types.DecodedRow) error {
	size := b.runner.cfg.BatchSize

	for i, row := range rows {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("interrupted after %d of %d rows: %w", i, b.total, err)
		}

		b.resolve(ctx, row)

		if (i+1)%size == 0 || i == len(rows)-1 {
			if err := b.flush(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (b *batcher) resolve(ctx context.Context, row types.DecodedRow) {
	m := b.runner.metrics

	_, err := b.run.Resolve(ctx, row)
	if errors.Is(err, resolver.ErrFlushFirst) {
		b.logger.Debug().Int("row", row.Index).Msg("Flushing early to wait for an address lock")
		if ferr := b.flush(ctx); ferr != nil {
			err = &types.RowError{Row: row.Index, Message: "flush failed", Err: ferr}
		} else {
			_, err = b.run.Resolve(ctx, row)
		}
	}

	if err != nil {
		var rowErr *types.RowError
		if !errors.As(err, &rowErr) {
			err = &types.RowError{Row: row.Index, Err: err}
		}
		b.errs = append(b.errs, err.Error())
		b.result.RowsSkipped++
		m.RowSkipped()
		b.logger.Warn().Err(err).Int("row", row.Index).Msg("Row skipped")
		return
	}

	b.constructed++
	m.RowConstructed()
}

// flush commits the pending batch, publishes progress and then waits the
// configured delay. Only a cancelled context stops the task; a failed
// commit is recorded and processing continues.
func (b *batcher) flush(ctx context.Context) error {
	r := b.runner
	bctx, span := r.tracer.Start(ctx, "ingest.batch")
	start := time.Now()

	res, err := b.run.Commit(bctx)
	r.metrics.BatchCommitted(err == nil, time.Since(start))
	if err != nil {
		span.RecordError(err)
		b.result.BatchesFailed++
		b.errs = append(b.errs, err.Error())
		b.logger.Error().Err(err).Msg("Batch rolled back")
	} else {
		b.result.CasesCreated += res.CasesCreated
		b.result.CustomersCreated += res.CustomersCreated
		span.SetAttributes(
			attribute.Int("batch.first_row", res.FirstRow),
			attribute.Int("batch.last_row", res.LastRow),
			attribute.Int("batch.cases", res.CasesCreated),
		)
	}
	span.End()

	errs := b.errs
	b.errs = nil
	constructed := b.constructed
	if _, uerr := r.update(b.id, func(t *types.Task) error {
		t.CurrentProcessed = constructed
		t.Errors = append(t.Errors, errs...)
		t.Message = fmt.Sprintf("assigned %d of %d rows", constructed, b.total)
		return nil
	}); uerr != nil {
		return fmt.Errorf("failed to record progress: %w", uerr)
	}

	return sleep(ctx, r.cfg.BatchDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
