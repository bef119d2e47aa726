package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/recoverydesk/case-service/internal/types"
)

type storeUnderTest interface {
	RecordStore
	Counter
}

func newCustomer(email string) *types.Customer {
	return &types.Customer{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      "Test " + email,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func newCase(customer *types.Customer, row int) *types.Case {
	return &types.Case{
		ID:                 uuid.NewString(),
		Reference:          fmt.Sprintf("CS-TEST-%06d-%s", row, uuid.NewString()[:8]),
		CustomerID:         customer.ID,
		CustomerName:       customer.Name,
		InvoiceAmountCents: 12050,
		AgingDays:          30,
		Status:             "new",
		SourceTaskID:       "task-1",
		SourceRow:          row,
		CreatedAt:          time.Now().UTC().Truncate(time.Second),
	}
}

func runStoreContract(t *testing.T, s storeUnderTest) {
	ctx := context.Background()

	t.Run("commit makes records visible", func(t *testing.T) {
		cust := newCustomer("ana@example.com")
		batch, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, batch.CreateCustomer(ctx, cust))
		require.NoError(t, batch.CreateCase(ctx, newCase(cust, 1)))
		require.NoError(t, batch.Commit(ctx))

		found, err := s.FindCustomerByEmail(ctx, "ana@example.com")
		require.NoError(t, err)
		assert.Equal(t, cust.ID, found.ID)

		found, err = s.FindCustomerByEmail(ctx, "ANA@example.com")
		require.NoError(t, err, "lookup is case-insensitive")
		assert.Equal(t, cust.ID, found.ID)
	})

	t.Run("rollback discards the batch", func(t *testing.T) {
		before, err := s.Counts(ctx)
		require.NoError(t, err)

		cust := newCustomer("ivo@example.com")
		batch, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, batch.CreateCustomer(ctx, cust))
		require.NoError(t, batch.CreateCase(ctx, newCase(cust, 2)))
		require.NoError(t, batch.Rollback(ctx))

		_, err = s.FindCustomerByEmail(ctx, "ivo@example.com")
		assert.ErrorIs(t, err, types.ErrNotFound)

		after, err := s.Counts(ctx)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("duplicate address is rejected", func(t *testing.T) {
		batch, err := s.Begin(ctx)
		require.NoError(t, err)

		err = batch.CreateCustomer(ctx, newCustomer("ana@example.com"))
		if err == nil {
			err = batch.Commit(ctx)
		}
		assert.True(t, IsDuplicate(err), "got %v", err)
		assert.True(t, errors.Is(err, types.ErrConflict))
		_ = batch.Rollback(ctx)
	})

	t.Run("unknown address", func(t *testing.T) {
		_, err := s.FindCustomerByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, types.ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, NewMemory())
}

func TestMemoryStoreBeforeCommitVeto(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.BeforeCommit = func([]*types.Customer, []*types.Case) error { return errors.New("disk full") }

	cust := newCustomer("ana@example.com")
	batch, err := m.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, batch.CreateCustomer(ctx, cust))
	assert.Error(t, batch.Commit(ctx))
	assert.Empty(t, m.Customers())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQLite(context.Background(), "file:store_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s.Close()

	runStoreContract(t, s)
}

func TestSQLiteForeignKey(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, "file:store_fk_test?mode=memory&cache=shared")
	require.NoError(t, err)
	defer s.Close()

	batch, err := s.Begin(ctx)
	require.NoError(t, err)
	defer batch.Rollback(ctx)

	orphan := newCase(&types.Customer{ID: "missing", Name: "x"}, 1)
	assert.Error(t, batch.CreateCase(ctx, orphan))
}

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err, "Failed to start postgres container")
	defer testcontainers.TerminateContainer(container)

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	s := NewPostgres(pool)
	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx), "migration is idempotent")

	runStoreContract(t, s)
}
