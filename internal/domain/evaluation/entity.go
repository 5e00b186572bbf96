package evaluation

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// PendingEvaluation is a rating one trade party owes the other (matches pending_evaluations table)
type PendingEvaluation struct {
	ID          uuid.UUID    `db:"id"`
	OperationID uuid.UUID    `db:"operation_id"`
	EvaluatorID int64        `db:"evaluator_id"`
	TargetID    int64        `db:"target_id"`
	ScopeID     int64        `db:"scope_id"`
	Completed   bool         `db:"completed"`
	CompletedAt sql.NullTime `db:"completed_at"`
	CreatedAt   time.Time    `db:"created_at"`
}

// PendingEvaluationResponse for API response
type PendingEvaluationResponse struct {
	OperationID string `json:"operation_id"`
	TargetID    int64  `json:"target_id"`
	ScopeID     int64  `json:"scope_id"`
	CreatedAt   string `json:"created_at"`
}

func (p *PendingEvaluation) ToResponse() PendingEvaluationResponse {
	return PendingEvaluationResponse{
		OperationID: p.OperationID.String(),
		TargetID:    p.TargetID,
		ScopeID:     p.ScopeID,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
	}
}

// RateRequest is the body of POST /operations/{id}/rating
type RateRequest struct {
	Stars   int    `json:"stars" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=500"`
}
