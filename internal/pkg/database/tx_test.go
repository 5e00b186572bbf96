package database

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
)

func TestWithinTxCommitsOnSuccess(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer raw.Close()
	db := sqlx.NewDb(raw, "postgres")

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE things").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err = NewTransactor(db).WithinTx(context.Background(), func(ctx context.Context) error {
		if _, ok := Executor(ctx, db).(*sqlx.Tx); !ok {
			t.Fatal("expected executor to be the open transaction")
		}
		_, err := Executor(ctx, db).ExecContext(ctx, "UPDATE things SET x = 1")
		return err
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer raw.Close()
	db := sqlx.NewDb(raw, "postgres")

	boom := errors.New("boom")
	mock.ExpectBegin()
	mock.ExpectRollback()

	err = NewTransactor(db).WithinTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestExecutorWithoutTxReturnsPool(t *testing.T) {
	raw, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer raw.Close()
	db := sqlx.NewDb(raw, "postgres")

	if Executor(context.Background(), db) != sqlx.ExtContext(db) {
		t.Fatal("expected pool executor outside a transaction")
	}
}

func TestLocalTransactorNestedCallsRunInline(t *testing.T) {
	tx := NewLocalTransactor()
	calls := 0

	err := tx.WithinTx(context.Background(), func(ctx context.Context) error {
		calls++
		return tx.WithinTx(ctx, func(ctx context.Context) error {
			calls++
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithinTx: %v", err)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
}

func TestLocalTransactorPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	err := NewLocalTransactor().WithinTx(context.Background(), func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
}
