package notification

import (
	"time"

	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/operation"
)

// EventType of a lifecycle event delivered to chat gateways
type EventType string

const (
	EventAnnounced           EventType = "offer.announced"
	EventRetracted           EventType = "offer.retracted"
	EventAccepted            EventType = "offer.accepted"
	EventCompletionRequested EventType = "offer.completion_requested"
	EventCompleted           EventType = "offer.completed"
	EventReverted            EventType = "offer.reverted"
)

// Event is the payload published on the event stream. Gateways render it as a
// chat message; Recipients lists users that should get it privately.
type Event struct {
	ID          uuid.UUID                    `json:"id"`
	Type        EventType                    `json:"type"`
	OperationID uuid.UUID                    `json:"operation_id"`
	ScopeID     int64                        `json:"scope_id,omitempty"`
	ActorID     int64                        `json:"actor_id,omitempty"`
	Recipients  []int64                      `json:"recipients,omitempty"`
	MessageRef  string                       `json:"message_ref,omitempty"`
	Operation   *operation.OperationResponse `json:"operation"`
	CreatedAt   time.Time                    `json:"created_at"`
}

func newEvent(t EventType, op *operation.Operation, scopeID int64) *Event {
	return &Event{
		ID:          uuid.New(),
		Type:        t,
		OperationID: op.ID,
		ScopeID:     scopeID,
		MessageRef:  op.MessageRef.String,
		Operation:   op.ToResponse(),
		CreatedAt:   time.Now(),
	}
}

// addressedTo reports whether a client subscribed to scopes (or everything) for userID receives e.
func (e *Event) addressedTo(c *Client) bool {
	if c.all {
		return true
	}
	if e.ScopeID != 0 && c.scopes[e.ScopeID] {
		return true
	}
	for _, id := range e.Recipients {
		if id == c.UserID {
			return true
		}
	}
	return false
}
