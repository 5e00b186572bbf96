package evaluation

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type obligationKey struct {
	operationID uuid.UUID
	evaluatorID int64
}

// MemoryRepository keeps obligations in process memory.
type MemoryRepository struct {
	mu   sync.RWMutex
	rows map[obligationKey]PendingEvaluation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{rows: make(map[obligationKey]PendingEvaluation)}
}

func (r *MemoryRepository) CreatePair(ctx context.Context, pair [2]PendingEvaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range pair {
		if _, ok := r.rows[obligationKey{p.OperationID, p.EvaluatorID}]; ok {
			return ErrAlreadyExists
		}
	}
	for _, p := range pair {
		r.rows[obligationKey{p.OperationID, p.EvaluatorID}] = p
	}
	return nil
}

func (r *MemoryRepository) HasOutstanding(ctx context.Context, evaluatorID int64) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.rows {
		if p.EvaluatorID == evaluatorID && !p.Completed {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) ListOutstanding(ctx context.Context, evaluatorID int64) ([]PendingEvaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PendingEvaluation
	for _, p := range r.rows {
		if p.EvaluatorID == evaluatorID && !p.Completed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepository) Find(ctx context.Context, operationID uuid.UUID, evaluatorID int64) (*PendingEvaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.rows[obligationKey{operationID, evaluatorID}]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) Resolve(ctx context.Context, operationID uuid.UUID, evaluatorID int64, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := obligationKey{operationID, evaluatorID}
	p, ok := r.rows[key]
	if !ok || p.Completed {
		return false, nil
	}
	p.Completed = true
	p.CompletedAt = sql.NullTime{Time: at, Valid: true}
	r.rows[key] = p
	return true, nil
}

func (r *MemoryRepository) ListByOperation(ctx context.Context, operationID uuid.UUID) ([]PendingEvaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []PendingEvaluation
	for key, p := range r.rows {
		if key.operationID == operationID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EvaluatorID < out[j].EvaluatorID })
	return out, nil
}

func (r *MemoryRepository) DeleteByOperation(ctx context.Context, operationID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key := range r.rows {
		if key.operationID == operationID {
			delete(r.rows, key)
			n++
		}
	}
	return n, nil
}
