package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/recoverydesk/case-service/internal/types"
)

const pgUniqueViolation = "23505"

// Postgres is a record store on a pgx pool. Each batch is one transaction.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgres creates a store on an existing pool
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the tables when missing
func (p *Postgres) Migrate(ctx context.Context) error {
	ddl, err := Schema("postgres")
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(ddl) {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error) {
	var c types.Customer
	err := p.pool.QueryRow(ctx, `
		SELECT id, email, name, account_number, account_type, region, created_at
		FROM customers
		WHERE lower(email) = lower($1)
	`, email).Scan(&c.ID, &c.Email, &c.Name, &c.AccountNumber, &c.AccountType, &c.Region, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}
	return &c, nil
}

func (p *Postgres) Begin(ctx context.Context) (Batch, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}
	return &postgresBatch{tx: tx}, nil
}

func (p *Postgres) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := p.pool.QueryRow(ctx, `
		SELECT (SELECT count(*) FROM customers), (SELECT count(*) FROM cases)
	`).Scan(&c.Customers, &c.Cases)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}

type postgresBatch struct {
	tx pgx.Tx
}

func (b *postgresBatch) CreateCustomer(ctx context.Context, c *types.Customer) error {
	_, err := b.tx.Exec(ctx, `
		INSERT INTO customers (id, email, name, account_number, account_type, region, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Email, c.Name, c.AccountNumber, c.AccountType, c.Region, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%s: %w", c.Email, ErrDuplicateCustomer)
		}
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (b *postgresBatch) CreateCase(ctx context.Context, c *types.Case) error {
	_, err := b.tx.Exec(ctx, `
		INSERT INTO cases (
			id, reference, customer_id, customer_name, invoice_id, account_number,
			invoice_amount_cents, aging_days, status, due_date, region,
			source_task_id, source_row, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, c.ID, c.Reference, c.CustomerID, c.CustomerName, c.InvoiceID, c.AccountNumber,
		c.InvoiceAmountCents, c.AgingDays, c.Status, c.DueDate, c.Region,
		c.SourceTaskID, c.SourceRow, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (b *postgresBatch) Commit(ctx context.Context) error {
	return b.tx.Commit(ctx)
}

func (b *postgresBatch) Rollback(ctx context.Context) error {
	err := b.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}
