package evaluation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
)

// Gate is the bookkeeping of ratings owed after completed trades.
type Gate struct {
	repo Repository
	now  func() time.Time
}

func NewGate(repo Repository) *Gate {
	return &Gate{repo: repo, now: time.Now}
}

// CreateMutualObligations records that a owes a rating of b and b owes a rating of a.
func (g *Gate) CreateMutualObligations(ctx context.Context, operationID uuid.UUID, scopeID, partyA, partyB int64) error {
	if partyA == 0 || partyB == 0 || partyA == partyB {
		return ErrInvalidParties
	}
	now := g.now()
	pair := [2]PendingEvaluation{
		{ID: uuid.New(), OperationID: operationID, EvaluatorID: partyA, TargetID: partyB, ScopeID: scopeID, CreatedAt: now},
		{ID: uuid.New(), OperationID: operationID, EvaluatorID: partyB, TargetID: partyA, ScopeID: scopeID, CreatedAt: now},
	}
	return g.repo.CreatePair(ctx, pair)
}

// HasOutstanding reports whether userID still owes any rating.
func (g *Gate) HasOutstanding(ctx context.Context, userID int64) (bool, error) {
	return g.repo.HasOutstanding(ctx, userID)
}

func (g *Gate) ListOutstanding(ctx context.Context, userID int64) ([]PendingEvaluation, error) {
	return g.repo.ListOutstanding(ctx, userID)
}

// Resolve marks the obligation of evaluatorID for operationID completed.
// Callers record the karma evaluation first.
func (g *Gate) Resolve(ctx context.Context, operationID uuid.UUID, evaluatorID int64) error {
	ok, err := g.repo.Resolve(ctx, operationID, evaluatorID, g.now())
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	p, err := g.repo.Find(ctx, operationID, evaluatorID)
	if err != nil {
		return err
	}
	if p == nil {
		return ErrNotFound
	}
	return ErrAlreadyResolved
}

// HasResolved reports whether either party already rated the operation.
func (g *Gate) HasResolved(ctx context.Context, operationID uuid.UUID) (bool, error) {
	rows, err := g.repo.ListByOperation(ctx, operationID)
	if err != nil {
		return false, err
	}
	for _, p := range rows {
		if p.Completed {
			return true, nil
		}
	}
	return false, nil
}

// DiscardObligations drops every obligation of the operation, resolved or not.
func (g *Gate) DiscardObligations(ctx context.Context, operationID uuid.UUID) error {
	_, err := g.repo.DeleteByOperation(ctx, operationID)
	return err
}

// Ledger is the karma write path used when an obligation is settled.
type Ledger interface {
	RegisterStarEvaluation(ctx context.Context, evaluatorID, targetID, scopeID int64, stars int, comment string) (*karma.Record, error)
}

// Rater settles obligations: it records the star rating in the ledger, then resolves the obligation.
type Rater struct {
	gate   *Gate
	repo   Repository
	ledger Ledger
	tx     database.Transactor
}

func NewRater(gate *Gate, repo Repository, ledger Ledger, tx database.Transactor) *Rater {
	return &Rater{gate: gate, repo: repo, ledger: ledger, tx: tx}
}

// Rate settles the caller's obligation for operationID with a 1..5 star rating.
func (r *Rater) Rate(ctx context.Context, operationID uuid.UUID, evaluatorID int64, stars int, comment string) (*karma.Record, error) {
	if stars < karma.MinStars || stars > karma.MaxStars {
		return nil, karma.ErrInvalidRating
	}

	var rec *karma.Record
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		p, err := r.repo.Find(ctx, operationID, evaluatorID)
		if err != nil {
			return err
		}
		if p == nil {
			return ErrNotFound
		}
		if p.Completed {
			return ErrAlreadyResolved
		}

		rec, err = r.ledger.RegisterStarEvaluation(ctx, p.EvaluatorID, p.TargetID, p.ScopeID, stars, comment)
		if err != nil {
			return err
		}
		return r.gate.Resolve(ctx, operationID, evaluatorID)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
