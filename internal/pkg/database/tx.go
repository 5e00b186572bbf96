package database

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Transactor runs a unit of work atomically. Repositories that receive the
// callback context pick up the open transaction through Executor.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// SQLTransactor implements Transactor on top of a sqlx connection pool.
type SQLTransactor struct {
	db *sqlx.DB
}

func NewTransactor(db *sqlx.DB) *SQLTransactor {
	return &SQLTransactor{db: db}
}

// WithinTx begins a transaction, commits when fn returns nil and rolls back
// otherwise. A context that already carries a transaction is reused as is.
func (t *SQLTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Executor returns the transaction stored in ctx, or db when there is none.
func Executor(ctx context.Context, db *sqlx.DB) sqlx.ExtContext {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return db
}

type localTxKey struct{}

// LocalTransactor backs the in-memory repositories. It serialises units of
// work with a mutex; nested calls on the same context run inline. Writes done
// before a failing step are not undone.
type LocalTransactor struct {
	mu sync.Mutex
}

func NewLocalTransactor() *LocalTransactor {
	return &LocalTransactor{}
}

func (t *LocalTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if held, _ := ctx.Value(localTxKey{}).(*LocalTransactor); held == t {
		return fn(ctx)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(context.WithValue(ctx, localTxKey{}, t))
}
