package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/recoverydesk/case-service/internal/types"
)

// SQLite is a record store on an embedded database, used for single-node
// deployments and the CLI
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at dsn and applies the schema
func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the tables when missing
func (s *SQLite) Migrate(ctx context.Context) error {
	ddl, err := Schema("sqlite")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	for _, stmt := range splitStatements(ddl) {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database
// Ping checks that the database file is usable
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) FindCustomerByEmail(ctx context.Context, email string) (*types.Customer, error) {
	var c types.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, account_number, account_type, region, created_at
		FROM customers
		WHERE email = ?
	`, email).Scan(&c.ID, &c.Email, &c.Name, &c.AccountNumber, &c.AccountType, &c.Region, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up customer: %w", err)
	}
	return &c, nil
}

func (s *SQLite) Begin(ctx context.Context) (Batch, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin batch: %w", err)
	}
	return &sqliteBatch{tx: tx}, nil
}

func (s *SQLite) Counts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT count(*) FROM customers), (SELECT count(*) FROM cases)
	`).Scan(&c.Customers, &c.Cases)
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}

type sqliteBatch struct {
	tx *sql.Tx
}

func (b *sqliteBatch) CreateCustomer(ctx context.Context, c *types.Customer) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO customers (id, email, name, account_number, account_type, region, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Email, c.Name, c.AccountNumber, c.AccountType, c.Region, c.CreatedAt)
	if err != nil {
		var se *sqlite.Error
		if errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return fmt.Errorf("%s: %w", c.Email, ErrDuplicateCustomer)
		}
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

func (b *sqliteBatch) CreateCase(ctx context.Context, c *types.Case) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO cases (
			id, reference, customer_id, customer_name, invoice_id, account_number,
			invoice_amount_cents, aging_days, status, due_date, region,
			source_task_id, source_row, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Reference, c.CustomerID, c.CustomerName, c.InvoiceID, c.AccountNumber,
		c.InvoiceAmountCents, c.AgingDays, c.Status, c.DueDate, c.Region,
		c.SourceTaskID, c.SourceRow, c.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert case: %w", err)
	}
	return nil
}

func (b *sqliteBatch) Commit(_ context.Context) error {
	return b.tx.Commit()
}

func (b *sqliteBatch) Rollback(_ context.Context) error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
