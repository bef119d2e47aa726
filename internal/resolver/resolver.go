// Package resolver turns decoded rows into customer and case records. A Run
// holds the per-task state: customers already resolved in this run, the
// pending batch and any address locks it holds.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/recoverydesk/case-service/internal/pkg/caseref"
	"github.com/recoverydesk/case-service/internal/store"
	"github.com/recoverydesk/case-service/internal/types"
)

// LockMode selects how customer creation is serialized across tasks
type LockMode string

const (
	// LockNone accepts that concurrent tasks may race on the same address
	LockNone LockMode = "none"
	// LockPerAddress holds a process-wide lock per address until the
	// creating batch is flushed
	LockPerAddress LockMode = "per_address"
)

// ParseLockMode validates a configured lock mode
func ParseLockMode(s string) (LockMode, error) {
	switch LockMode(s) {
	case "", LockNone:
		return LockNone, nil
	case LockPerAddress:
		return LockPerAddress, nil
	}
	return "", fmt.Errorf("unknown resolution lock %q", s)
}

// ErrFlushFirst is returned by Resolve when the row needs an address lock
// that is taken while this run holds locks of its own. The caller must
// Commit the pending batch and call Resolve again.
var ErrFlushFirst = errors.New("pending batch must be flushed before resolving this row")

// Options configures a Resolver
type Options struct {
	Mapping        FieldMapping
	RequiredFields []string
	DefaultStatus  string
	Lock           LockMode
}

// Resolver builds Runs sharing one record store and one address locker
type Resolver struct {
	store  store.RecordStore
	opts   Options
	locker *Locker
	logger zerolog.Logger
	now    func() time.Time
}

// New creates a Resolver. locker may be nil unless opts.Lock is LockPerAddress.
func New(st store.RecordStore, opts Options, locker *Locker, logger zerolog.Logger) *Resolver {
	if opts.Mapping == nil {
		opts.Mapping = DefaultFieldMapping()
	}
	if opts.RequiredFields == nil {
		opts.RequiredFields = []string{FieldCustomerEmail}
	}
	if opts.DefaultStatus == "" {
		opts.DefaultStatus = "new"
	}
	if opts.Lock == "" {
		opts.Lock = LockNone
	}
	if opts.Lock == LockPerAddress && locker == nil {
		locker = NewLocker()
	}
	return &Resolver{
		store:  st,
		opts:   opts,
		locker: locker,
		logger: logger.With().Str("component", "resolver").Logger(),
		now:    time.Now,
	}
}

// BatchResult describes one committed batch
type BatchResult struct {
	FirstRow         int
	LastRow          int
	CustomersCreated int
	CasesCreated     int
}

// Run resolves the rows of one task. It is not safe for concurrent use.
type Run struct {
	r       *Resolver
	taskID  string
	binding Binding
	logger  zerolog.Logger

	// known holds every customer resolved in this run, committed or pending
	known map[string]*types.Customer

	pendingCustomers []*types.Customer
	pendingCases     []*types.Case
	pendingRows      []int
	held             []string
}

// NewRun starts resolving a file with the given header
func (r *Resolver) NewRun(taskID string, fields []string) *Run {
	return &Run{
		r:       r,
		taskID:  taskID,
		binding: r.opts.Mapping.Bind(fields),
		logger:  r.logger.With().Str("task_id", taskID).Logger(),
		known:   make(map[string]*types.Customer),
	}
}

// Binding returns how the file header maps onto canonical fields
func (run *Run) Binding() Binding {
	return run.binding
}

// Pending returns the number of cases awaiting Commit
func (run *Run) Pending() int {
	return len(run.pendingCases)
}

type rowFields struct {
	email         string
	name          string
	amount        int64
	agingDays     int
	invoiceID     string
	accountNumber string
	status        string
	dueDate       string
	region        string
	accountType   string
}

func (run *Run) extract(row types.DecodedRow) (rowFields, error) {
	b := run.binding
	for _, f := range run.r.opts.RequiredFields {
		if b.Value(row, f) == "" {
			msg := "required field is missing"
			if b.Has(f) {
				msg = "required field is empty"
			}
			return rowFields{}, &types.RowError{Row: row.Index, Field: f, Message: msg}
		}
	}

	email := b.Value(row, FieldCustomerEmail)
	if email == "" {
		return rowFields{}, &types.RowError{Row: row.Index, Field: FieldCustomerEmail, Message: "required field is missing"}
	}
	email, err := normalizeEmail(email)
	if err != nil {
		return rowFields{}, &types.RowError{Row: row.Index, Field: FieldCustomerEmail, Err: err}
	}

	amount, err := ParseAmount(b.Value(row, FieldAmount))
	if err != nil {
		return rowFields{}, &types.RowError{Row: row.Index, Field: FieldAmount, Message: "invalid amount", Err: err}
	}

	aging, err := ParseAgingDays(b.Value(row, FieldAgingDays))
	if err != nil {
		return rowFields{}, &types.RowError{Row: row.Index, Field: FieldAgingDays, Message: "invalid aging days", Err: err}
	}

	f := rowFields{
		email:         email,
		name:          b.Value(row, FieldCustomerName),
		amount:        amount,
		agingDays:     aging,
		invoiceID:     b.Value(row, FieldInvoiceID),
		accountNumber: b.Value(row, FieldAccountNumber),
		status:        b.Value(row, FieldStatus),
		dueDate:       b.Value(row, FieldDueDate),
		region:        b.Value(row, FieldRegion),
		accountType:   b.Value(row, FieldAccountType),
	}
	if f.name == "" {
		f.name = email
	}
	if f.status == "" {
		f.status = run.r.opts.DefaultStatus
	}
	return f, nil
}

// Resolve validates row, finds or creates its customer and appends the case
// to the pending batch. Row failures are *types.RowError; ErrFlushFirst asks
// the caller to Commit and retry.
func (run *Run) Resolve(ctx context.Context, row types.DecodedRow) (*types.Case, error) {
	f, err := run.extract(row)
	if err != nil {
		return nil, err
	}

	customer, err := run.customerFor(ctx, row.Index, f)
	if err != nil {
		return nil, err
	}

	now := run.r.now().UTC()
	c := &types.Case{
		ID:                 uuid.NewString(),
		Reference:          caseref.New(now),
		CustomerID:         customer.ID,
		CustomerName:       customer.Name,
		InvoiceID:          f.invoiceID,
		AccountNumber:      f.accountNumber,
		InvoiceAmountCents: f.amount,
		AgingDays:          f.agingDays,
		Status:             f.status,
		DueDate:            f.dueDate,
		Region:             f.region,
		SourceTaskID:       run.taskID,
		SourceRow:          row.Index,
		CreatedAt:          now,
	}
	run.pendingCases = append(run.pendingCases, c)
	run.pendingRows = append(run.pendingRows, row.Index)
	return c, nil
}

func (run *Run) customerFor(ctx context.Context, rowIndex int, f rowFields) (*types.Customer, error) {
	if c, ok := run.known[f.email]; ok {
		return c, nil
	}

	locked := false
	if run.r.opts.Lock == LockPerAddress {
		if !run.r.locker.TryLock(f.email) {
			if len(run.held) > 0 {
				return nil, ErrFlushFirst
			}
			if err := run.r.locker.Lock(ctx, f.email); err != nil {
				return nil, &types.RowError{Row: rowIndex, Field: FieldCustomerEmail, Message: "waiting for address lock", Err: err}
			}
		}
		locked = true
	}

	existing, err := run.r.store.FindCustomerByEmail(ctx, f.email)
	switch {
	case err == nil:
		if locked {
			run.r.locker.Unlock(f.email)
		}
		run.known[f.email] = existing
		return existing, nil
	case !errors.Is(err, types.ErrNotFound):
		if locked {
			run.r.locker.Unlock(f.email)
		}
		return nil, &types.RowError{Row: rowIndex, Field: FieldCustomerEmail, Message: "customer lookup failed", Err: err}
	}

	c := &types.Customer{
		ID:            uuid.NewString(),
		Email:         f.email,
		Name:          f.name,
		AccountNumber: f.accountNumber,
		AccountType:   f.accountType,
		Region:        f.region,
		CreatedAt:     run.r.now().UTC(),
	}
	run.known[f.email] = c
	run.pendingCustomers = append(run.pendingCustomers, c)
	if locked {
		run.held = append(run.held, f.email)
	}
	return c, nil
}

// Commit writes the pending batch in one store transaction and releases any
// address locks. On failure the batch is rolled back, customers it would
// have created are forgotten and a *types.BatchCommitError is returned.
func (run *Run) Commit(ctx context.Context) (BatchResult, error) {
	defer run.release()

	if len(run.pendingCases) == 0 {
		return BatchResult{}, nil
	}

	res := BatchResult{
		FirstRow: run.pendingRows[0],
		LastRow:  run.pendingRows[len(run.pendingRows)-1],
	}

	err := run.write(ctx)
	if err != nil && store.IsDuplicate(err) && run.reconcile(ctx) {
		// Another task created one of our customers first.
		err = run.write(ctx)
	}

	if err != nil {
		for _, c := range run.pendingCustomers {
			delete(run.known, c.Email)
		}
		run.reset()
		return res, &types.BatchCommitError{FirstRow: res.FirstRow, LastRow: res.LastRow, Err: err}
	}

	res.CustomersCreated = len(run.pendingCustomers)
	res.CasesCreated = len(run.pendingCases)
	run.reset()
	return res, nil
}

func (run *Run) write(ctx context.Context) error {
	batch, err := run.r.store.Begin(ctx)
	if err != nil {
		return err
	}

	for _, c := range run.pendingCustomers {
		if err := batch.CreateCustomer(ctx, c); err != nil {
			run.rollback(ctx, batch)
			return err
		}
	}
	for _, c := range run.pendingCases {
		if err := batch.CreateCase(ctx, c); err != nil {
			run.rollback(ctx, batch)
			return err
		}
	}
	if err := batch.Commit(ctx); err != nil {
		run.rollback(ctx, batch)
		return err
	}
	return nil
}

func (run *Run) rollback(ctx context.Context, batch store.Batch) {
	if err := batch.Rollback(context.WithoutCancel(ctx)); err != nil {
		run.logger.Error().Err(err).Msg("Batch rollback failed")
	}
}

// reconcile swaps pending customers that now exist in the store for the
// stored records. It reports whether anything changed.
func (run *Run) reconcile(ctx context.Context) bool {
	changed := false
	kept := run.pendingCustomers[:0]
	for _, c := range run.pendingCustomers {
		existing, err := run.r.store.FindCustomerByEmail(ctx, c.Email)
		if err != nil {
			kept = append(kept, c)
			continue
		}
		for _, cs := range run.pendingCases {
			if cs.CustomerID == c.ID {
				cs.CustomerID = existing.ID
				cs.CustomerName = existing.Name
			}
		}
		run.known[c.Email] = existing
		changed = true
		run.logger.Warn().Str("email", c.Email).Msg("Customer created concurrently, reusing stored record")
	}
	run.pendingCustomers = kept
	return changed
}

func (run *Run) reset() {
	run.pendingCustomers = nil
	run.pendingCases = nil
	run.pendingRows = nil
}

func (run *Run) release() {
	for _, key := range run.held {
		run.r.locker.Unlock(key)
	}
	run.held = nil
}

// Close drops the pending batch and releases locks without writing
func (run *Run) Close() {
	run.release()
	run.reset()
}
