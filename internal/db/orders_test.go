package db

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/craftshopapp/craftshop/internal/models"
)

// fakeTx records every statement run inside the transaction. Exec results
// can be scripted per call through tags; unscripted calls report one
// affected row.
type fakeTx struct {
	executed   []executedStatement
	tags       []pgconn.CommandTag
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	call := len(f.executed)
	f.executed = append(f.executed, executedStatement{sql: sql, args: args})
	if call < len(f.tags) {
		return f.tags[call], nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("nested transactions are not supported")
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row { return nil }
func (f *fakeTx) Conn() *pgx.Conn                                  { return nil }

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) { return f.tx, nil }

func (f *fakePool) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("unexpected statement outside the transaction")
}

func (f *fakePool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("unexpected query outside the transaction")
}

func (f *fakePool) QueryRow(context.Context, string, ...any) pgx.Row { return nil }

func transitionFixture(status OrderStatus) (*OrderStore, *fakeTx, *Order) {
	tx := &fakeTx{}
	store := &OrderStore{pool: &fakePool{tx: tx}, catalog: NewCatalogStore()}
	order := &Order{
		ID:     uuid.New(),
		UserID: uuid.New(),
		Status: status,
		Items: []models.OrderItem{
			{ProductID: uuid.New(), Quantity: 3},
		},
	}
	return store, tx, order
}

func historyInserts(tx *fakeTx) []executedStatement {
	var inserts []executedStatement
	for _, statement := range tx.executed {
		if strings.Contains(statement.sql, "order_status_history") {
			inserts = append(inserts, statement)
		}
	}
	return inserts
}

func restockStatements(tx *fakeTx) []executedStatement {
	var statements []executedStatement
	for _, statement := range tx.executed {
		if strings.Contains(statement.sql, "stock = stock +") {
			statements = append(statements, statement)
		}
	}
	return statements
}

func TestApplyTransitionCancelWritesHistoryAndRestocksOnce(t *testing.T) {
	t.Parallel()

	store, tx, order := transitionFixture(StatusPending)
	updated, err := store.ApplyTransition(context.Background(), order, StatusCancelled, TransitionUpdate{Actor: "admin"})
	if err != nil {
		t.Fatalf("ApplyTransition() error = %v", err)
	}
	if !tx.committed {
		t.Fatalf("transaction was not committed")
	}

	// The status update must be conditional on the status the caller read.
	first := tx.executed[0]
	if !strings.Contains(first.sql, "AND status =") {
		t.Fatalf("status update %q is not guarded on the previous status", first.sql)
	}
	if first.args[len(first.args)-1] != StatusPending {
		t.Fatalf("guard status = %v, want pending", first.args[len(first.args)-1])
	}

	inserts := historyInserts(tx)
	if len(inserts) != 1 {
		t.Fatalf("history inserts = %d, want exactly 1", len(inserts))
	}
	if inserts[0].args[1] != StatusCancelled || inserts[0].args[2] != StatusPending {
		t.Fatalf("history insert args = %v, want cancelled with previous pending", inserts[0].args)
	}

	if restocks := restockStatements(tx); len(restocks) != 1 {
		t.Fatalf("restock statements = %d, want 1", len(restocks))
	}

	if updated.Status != StatusCancelled {
		t.Fatalf("updated status = %s", updated.Status)
	}
	if updated.CancelledAt.IsZero() {
		t.Fatalf("cancelled timestamp was not stamped")
	}
	if len(updated.StatusHistory) != 1 || updated.StatusHistory[0].PreviousStatus != StatusPending {
		t.Fatalf("status history = %+v, want one entry from pending", updated.StatusHistory)
	}
}

func TestApplyTransitionConflictAbandonsTransaction(t *testing.T) {
	t.Parallel()

	store, tx, order := transitionFixture(StatusPending)
	tx.tags = []pgconn.CommandTag{pgconn.NewCommandTag("UPDATE 0")}

	if _, err := store.ApplyTransition(context.Background(), order, StatusCancelled, TransitionUpdate{}); !errors.Is(err, ErrInvalidStatusTransition) {
		t.Fatalf("ApplyTransition() error = %v, want ErrInvalidStatusTransition", err)
	}
	if tx.committed {
		t.Fatalf("lost conditional update must not commit")
	}
	if !tx.rolledBack {
		t.Fatalf("transaction was not rolled back")
	}
	if len(tx.executed) != 1 {
		t.Fatalf("statements after the lost update = %d, want none", len(tx.executed)-1)
	}
}

func TestApplyTransitionSkipsRestockBetweenTerminalStatuses(t *testing.T) {
	t.Parallel()

	store, tx, order := transitionFixture(StatusCancelled)
	if _, err := store.ApplyTransition(context.Background(), order, StatusRefunded, TransitionUpdate{Actor: "admin"}); err != nil {
		t.Fatalf("ApplyTransition() error = %v", err)
	}
	if restocks := restockStatements(tx); len(restocks) != 0 {
		t.Fatalf("restock statements = %d, stock was already restored on cancellation", len(restocks))
	}
	if len(historyInserts(tx)) != 1 {
		t.Fatalf("history inserts = %d, want 1", len(historyInserts(tx)))
	}
}

func TestApplyTransitionSkipsRestockForNonTerminalTarget(t *testing.T) {
	t.Parallel()

	store, tx, order := transitionFixture(StatusPending)
	if _, err := store.ApplyTransition(context.Background(), order, StatusProcessing, TransitionUpdate{Actor: "admin"}); err != nil {
		t.Fatalf("ApplyTransition() error = %v", err)
	}
	if restocks := restockStatements(tx); len(restocks) != 0 {
		t.Fatalf("restock statements = %d, want none for processing", len(restocks))
	}
}

func TestApplyTransitionShippedRecordsTracking(t *testing.T) {
	t.Parallel()

	store, tx, order := transitionFixture(StatusProcessing)
	updated, err := store.ApplyTransition(context.Background(), order, StatusShipped, TransitionUpdate{
		TrackingNumber: "TRK-1",
		Carrier:        "ups",
		Actor:          "admin",
	})
	if err != nil {
		t.Fatalf("ApplyTransition() error = %v", err)
	}
	if !strings.Contains(tx.executed[0].sql, "tracking_number") {
		t.Fatalf("status update %q does not set tracking", tx.executed[0].sql)
	}
	if updated.TrackingNumber != "TRK-1" || updated.Carrier != "ups" {
		t.Fatalf("tracking = %q/%q", updated.TrackingNumber, updated.Carrier)
	}
}
