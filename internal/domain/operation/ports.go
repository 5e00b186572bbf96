package operation

import (
	"context"

	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
)

// Dispatcher delivers lifecycle events to chat surfaces. Calls are bounded by
// the service's collaborator timeout and their failures never undo a transition.
type Dispatcher interface {
	// Announce posts the offer and returns a handle to the posted message.
	Announce(ctx context.Context, op *Operation) (string, error)
	AnnounceToScope(ctx context.Context, op *Operation, scopeID int64) (string, error)
	Retract(ctx context.Context, op *Operation) error
	NotifyAccepted(ctx context.Context, op *Operation, acceptorID int64) error
	NotifyCompletionRequested(ctx context.Context, op *Operation, requesterID int64) error
	NotifyCompleted(ctx context.Context, op *Operation) error
	// NotifyReverted gets the offer as reopened; formerAcceptorID is the party that was dropped.
	NotifyReverted(ctx context.Context, op *Operation, actorID, formerAcceptorID int64) error
}

// Gate is the pending evaluation bookkeeping consulted and updated by the lifecycle.
type Gate interface {
	HasOutstanding(ctx context.Context, userID int64) (bool, error)
	CreateMutualObligations(ctx context.Context, operationID uuid.UUID, scopeID, partyA, partyB int64) error
	HasResolved(ctx context.Context, operationID uuid.UUID) (bool, error)
	DiscardObligations(ctx context.Context, operationID uuid.UUID) error
}

// Reputation reads karma for display ordering.
type Reputation interface {
	Standing(ctx context.Context, userID, scopeID int64) (*karma.Standing, error)
}
