package evaluation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
)

// Repository defines pending evaluation data access interface
type Repository interface {
	// CreatePair inserts both rows or none; ErrAlreadyExists when either row is present.
	CreatePair(ctx context.Context, pair [2]PendingEvaluation) error
	HasOutstanding(ctx context.Context, evaluatorID int64) (bool, error)
	ListOutstanding(ctx context.Context, evaluatorID int64) ([]PendingEvaluation, error)
	// Find returns nil, nil when no row matches. Inside a transaction the row is locked.
	Find(ctx context.Context, operationID uuid.UUID, evaluatorID int64) (*PendingEvaluation, error)
	// Resolve marks an outstanding row completed; false when nothing was outstanding.
	Resolve(ctx context.Context, operationID uuid.UUID, evaluatorID int64, at time.Time) (bool, error)
	// ListByOperation returns every row of the operation. Inside a transaction the rows are locked.
	ListByOperation(ctx context.Context, operationID uuid.UUID) ([]PendingEvaluation, error)
	DeleteByOperation(ctx context.Context, operationID uuid.UUID) (int64, error)
}

type repository struct {
	db *sqlx.DB
	tx database.Transactor
}

// NewRepository creates new pending evaluation repository
func NewRepository(db *sqlx.DB, tx database.Transactor) Repository {
	return &repository{db: db, tx: tx}
}

const columns = `id, operation_id, evaluator_id, target_id, scope_id, completed, completed_at, created_at`

func (r *repository) CreatePair(ctx context.Context, pair [2]PendingEvaluation) error {
	query := `
		INSERT INTO pending_evaluations (id, operation_id, evaluator_id, target_id, scope_id, completed, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)`

	return r.tx.WithinTx(ctx, func(ctx context.Context) error {
		exec := database.Executor(ctx, r.db)
		for _, p := range pair {
			_, err := exec.ExecContext(ctx, query, p.ID, p.OperationID, p.EvaluatorID, p.TargetID, p.ScopeID, p.CreatedAt)
			if err != nil {
				var pqErr *pq.Error
				if errors.As(err, &pqErr) && pqErr.Code == "23505" {
					return ErrAlreadyExists
				}
				return fmt.Errorf("evaluation repository create: %w", err)
			}
		}
		return nil
	})
}

func (r *repository) HasOutstanding(ctx context.Context, evaluatorID int64) (bool, error) {
	var exists bool
	query := `SELECT EXISTS(SELECT 1 FROM pending_evaluations WHERE evaluator_id = $1 AND completed = false)`
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &exists, query, evaluatorID); err != nil {
		return false, fmt.Errorf("evaluation repository has outstanding: %w", err)
	}
	return exists, nil
}

func (r *repository) ListOutstanding(ctx context.Context, evaluatorID int64) ([]PendingEvaluation, error) {
	var rows []PendingEvaluation
	query := `
		SELECT ` + columns + `
		FROM pending_evaluations
		WHERE evaluator_id = $1 AND completed = false
		ORDER BY created_at`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &rows, query, evaluatorID); err != nil {
		return nil, fmt.Errorf("evaluation repository list outstanding: %w", err)
	}
	return rows, nil
}

func (r *repository) Find(ctx context.Context, operationID uuid.UUID, evaluatorID int64) (*PendingEvaluation, error) {
	exec := database.Executor(ctx, r.db)
	query := `SELECT ` + columns + ` FROM pending_evaluations WHERE operation_id = $1 AND evaluator_id = $2`
	if _, inTx := exec.(*sqlx.Tx); inTx {
		query += ` FOR UPDATE`
	}

	var p PendingEvaluation
	if err := sqlx.GetContext(ctx, exec, &p, query, operationID, evaluatorID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("evaluation repository find: %w", err)
	}
	return &p, nil
}

func (r *repository) Resolve(ctx context.Context, operationID uuid.UUID, evaluatorID int64, at time.Time) (bool, error) {
	query := `
		UPDATE pending_evaluations
		SET completed = true, completed_at = $3
		WHERE operation_id = $1 AND evaluator_id = $2 AND completed = false`

	result, err := database.Executor(ctx, r.db).ExecContext(ctx, query, operationID, evaluatorID, at)
	if err != nil {
		return false, fmt.Errorf("evaluation repository resolve: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("evaluation repository resolve: %w", err)
	}
	return rows > 0, nil
}

func (r *repository) ListByOperation(ctx context.Context, operationID uuid.UUID) ([]PendingEvaluation, error) {
	exec := database.Executor(ctx, r.db)
	query := `SELECT ` + columns + ` FROM pending_evaluations WHERE operation_id = $1 ORDER BY evaluator_id`
	if _, inTx := exec.(*sqlx.Tx); inTx {
		query += ` FOR UPDATE`
	}

	var rows []PendingEvaluation
	if err := sqlx.SelectContext(ctx, exec, &rows, query, operationID); err != nil {
		return nil, fmt.Errorf("evaluation repository list by operation: %w", err)
	}
	return rows, nil
}

func (r *repository) DeleteByOperation(ctx context.Context, operationID uuid.UUID) (int64, error) {
	result, err := database.Executor(ctx, r.db).ExecContext(ctx,
		`DELETE FROM pending_evaluations WHERE operation_id = $1`, operationID)
	if err != nil {
		return 0, fmt.Errorf("evaluation repository delete: %w", err)
	}
	return result.RowsAffected()
}
