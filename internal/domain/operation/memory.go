package operation

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository keeps operations in process memory. Conditional updates
// run under the write lock, which gives them the same exclusivity as the
// SQL version.
type MemoryRepository struct {
	mu  sync.RWMutex
	ops map[uuid.UUID]Operation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ops: make(map[uuid.UUID]Operation)}
}

func clone(op Operation) *Operation {
	op.Assets = append([]string(nil), op.Assets...)
	op.Networks = append([]string(nil), op.Networks...)
	return &op
}

func (r *MemoryRepository) Create(ctx context.Context, op *Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ops[op.ID] = *clone(*op)
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id uuid.UUID) (*Operation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, nil
	}
	return clone(op), nil
}

func (r *MemoryRepository) UpdateConditional(ctx context.Context, id uuid.UUID, p Patch) (*Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return nil, ErrConflict
	}

	matched := false
	for _, s := range p.From {
		if op.Status == s {
			matched = true
			break
		}
	}
	if !matched {
		return nil, ErrConflict
	}
	if p.ExpectAcceptor != 0 && (!op.AcceptorID.Valid || op.AcceptorID.Int64 != p.ExpectAcceptor) {
		return nil, ErrConflict
	}
	if p.SetScope != 0 && op.ScopeID.Valid {
		return nil, ErrConflict
	}

	op.Status = p.To
	switch {
	case p.SetAcceptor != 0:
		op.AcceptorID = sql.NullInt64{Int64: p.SetAcceptor, Valid: true}
	case p.ClearAcceptor:
		op.AcceptorID = sql.NullInt64{}
	}
	if p.SetScope != 0 {
		op.ScopeID = sql.NullInt64{Int64: p.SetScope, Valid: true}
	}
	op.UpdatedAt = time.Now()

	r.ops[id] = op
	return clone(op), nil
}

func (r *MemoryRepository) SetMessageRef(ctx context.Context, id uuid.UUID, ref string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	op, ok := r.ops[id]
	if !ok {
		return nil
	}
	op.MessageRef = sql.NullString{String: ref, Valid: ref != ""}
	r.ops[id] = op
	return nil
}

func (r *MemoryRepository) CancelExpired(ctx context.Context, now time.Time) ([]Operation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Operation
	for id, op := range r.ops {
		if op.Status != StatusPending || !op.ExpiresAt.Before(now) {
			continue
		}
		op.Status = StatusCancelled
		op.UpdatedAt = now
		r.ops[id] = op
		out = append(out, *clone(op))
	}
	return out, nil
}

func (r *MemoryRepository) ListByCreator(ctx context.Context, creatorID int64, limit int) ([]Operation, error) {
	return r.filter(limit, func(op Operation) bool { return op.CreatorID == creatorID }), nil
}

func (r *MemoryRepository) ListByAcceptor(ctx context.Context, acceptorID int64, limit int) ([]Operation, error) {
	return r.filter(limit, func(op Operation) bool {
		return op.AcceptorID.Valid && op.AcceptorID.Int64 == acceptorID
	}), nil
}

func (r *MemoryRepository) ListOpenInScope(ctx context.Context, scopeID int64, now time.Time, limit int) ([]Operation, error) {
	return r.filter(limit, func(op Operation) bool {
		return op.ScopeID.Valid && op.ScopeID.Int64 == scopeID &&
			op.Status == StatusPending && !op.ExpiresAt.Before(now)
	}), nil
}

// filter returns matching operations, newest first.
func (r *MemoryRepository) filter(limit int, match func(Operation) bool) []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Operation
	for _, op := range r.ops {
		if match(op) {
			out = append(out, *clone(op))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
