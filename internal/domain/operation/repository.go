package operation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
)

// Patch describes a conditional update. The update applies only while the
// stored status is one of From and the optional guards still hold.
type Patch struct {
	From []Status
	To   Status

	// SetAcceptor stores the acceptor; ClearAcceptor nulls it.
	SetAcceptor   int64
	ClearAcceptor bool

	// ExpectAcceptor, when non-zero, requires the stored acceptor to match.
	ExpectAcceptor int64

	// SetScope attaches a scope to an offer that has none.
	SetScope int64
}

// Repository defines operation data access interface
type Repository interface {
	Create(ctx context.Context, op *Operation) error
	// GetByID returns nil, nil when the operation does not exist
	GetByID(ctx context.Context, id uuid.UUID) (*Operation, error)
	// UpdateConditional applies p and returns the updated row, or ErrConflict.
	UpdateConditional(ctx context.Context, id uuid.UUID, p Patch) (*Operation, error)
	SetMessageRef(ctx context.Context, id uuid.UUID, ref string) error
	// CancelExpired cancels every pending offer whose expiry is before now and returns them.
	CancelExpired(ctx context.Context, now time.Time) ([]Operation, error)

	ListByCreator(ctx context.Context, creatorID int64, limit int) ([]Operation, error)
	ListByAcceptor(ctx context.Context, acceptorID int64, limit int) ([]Operation, error)
	ListOpenInScope(ctx context.Context, scopeID int64, now time.Time, limit int) ([]Operation, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new operation repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const operationColumns = `id, creator_id, acceptor_id, scope_id, kind, assets, networks, amount, unit_price,
	quotation_mode, status, message_ref, expires_at, created_at, updated_at`

func (r *repository) Create(ctx context.Context, op *Operation) error {
	query := `
		INSERT INTO operations (
			id, creator_id, scope_id, kind, assets, networks, amount, unit_price,
			quotation_mode, status, expires_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

	_, err := database.Executor(ctx, r.db).ExecContext(ctx, query,
		op.ID, op.CreatorID, op.ScopeID, op.Kind, op.Assets, op.Networks, op.Amount, op.UnitPrice,
		op.QuotationMode, op.Status, op.ExpiresAt, op.CreatedAt, op.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("operation repository create: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id uuid.UUID) (*Operation, error) {
	var op Operation
	query := `SELECT ` + operationColumns + ` FROM operations WHERE id = $1`
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &op, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("operation repository get: %w", err)
	}
	return &op, nil
}

func (r *repository) UpdateConditional(ctx context.Context, id uuid.UUID, p Patch) (*Operation, error) {
	from := make([]string, len(p.From))
	for i, s := range p.From {
		from[i] = string(s)
	}

	set := []string{"status = $3", "updated_at = NOW()"}
	where := []string{"id = $1", "status = ANY($2)"}
	args := []interface{}{id, pq.Array(from), p.To}

	arg := func(v interface{}) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	switch {
	case p.SetAcceptor != 0:
		set = append(set, "acceptor_id = "+arg(p.SetAcceptor))
	case p.ClearAcceptor:
		set = append(set, "acceptor_id = NULL")
	}
	if p.ExpectAcceptor != 0 {
		where = append(where, "acceptor_id = "+arg(p.ExpectAcceptor))
	}
	if p.SetScope != 0 {
		set = append(set, "scope_id = "+arg(p.SetScope))
		where = append(where, "scope_id IS NULL")
	}

	query := `UPDATE operations SET ` + strings.Join(set, ", ") +
		` WHERE ` + strings.Join(where, " AND ") +
		` RETURNING ` + operationColumns

	var op Operation
	if err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &op, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflict
		}
		return nil, fmt.Errorf("operation repository update: %w", err)
	}
	return &op, nil
}

func (r *repository) SetMessageRef(ctx context.Context, id uuid.UUID, ref string) error {
	_, err := database.Executor(ctx, r.db).ExecContext(ctx,
		`UPDATE operations SET message_ref = $2 WHERE id = $1`, id, ref)
	if err != nil {
		return fmt.Errorf("operation repository set message ref: %w", err)
	}
	return nil
}

func (r *repository) CancelExpired(ctx context.Context, now time.Time) ([]Operation, error) {
	query := `
		UPDATE operations
		SET status = $1, updated_at = NOW()
		WHERE status = $2 AND expires_at < $3
		RETURNING ` + operationColumns

	var ops []Operation
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &ops, query, StatusCancelled, StatusPending, now); err != nil {
		return nil, fmt.Errorf("operation repository cancel expired: %w", err)
	}
	return ops, nil
}

func (r *repository) ListByCreator(ctx context.Context, creatorID int64, limit int) ([]Operation, error) {
	return r.list(ctx, `WHERE creator_id = $1 ORDER BY created_at DESC LIMIT $2`, creatorID, limit)
}

func (r *repository) ListByAcceptor(ctx context.Context, acceptorID int64, limit int) ([]Operation, error) {
	return r.list(ctx, `WHERE acceptor_id = $1 ORDER BY updated_at DESC LIMIT $2`, acceptorID, limit)
}

func (r *repository) ListOpenInScope(ctx context.Context, scopeID int64, now time.Time, limit int) ([]Operation, error) {
	return r.list(ctx, `WHERE scope_id = $1 AND status = $2 AND expires_at >= $3 ORDER BY created_at DESC LIMIT $4`,
		scopeID, StatusPending, now, limit)
}

func (r *repository) list(ctx context.Context, clause string, args ...interface{}) ([]Operation, error) {
	var ops []Operation
	query := `SELECT ` + operationColumns + ` FROM operations ` + clause
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &ops, query, args...); err != nil {
		return nil, fmt.Errorf("operation repository list: %w", err)
	}
	return ops, nil
}
