package notification

import (
	"context"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/operation"
)

// Dispatcher turns lifecycle transitions into events on the hub. Chat gateways
// consume the stream and render the messages.
type Dispatcher struct {
	hub *Hub
}

var _ operation.Dispatcher = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher publishing to hub
func NewDispatcher(hub *Hub) *Dispatcher {
	return &Dispatcher{hub: hub}
}

// Announce publishes the offer to the global feed. The event id is the message handle.
func (d *Dispatcher) Announce(ctx context.Context, op *operation.Operation) (string, error) {
	e := newEvent(EventAnnounced, op, 0)
	if err := d.hub.Publish(ctx, e); err != nil {
		return "", err
	}
	return e.ID.String(), nil
}

// AnnounceToScope publishes the offer into one group.
func (d *Dispatcher) AnnounceToScope(ctx context.Context, op *operation.Operation, scopeID int64) (string, error) {
	e := newEvent(EventAnnounced, op, scopeID)
	if err := d.hub.Publish(ctx, e); err != nil {
		return "", err
	}
	return e.ID.String(), nil
}

func (d *Dispatcher) Retract(ctx context.Context, op *operation.Operation) error {
	e := newEvent(EventRetracted, op, op.Scope())
	e.ActorID = op.CreatorID
	return d.hub.Publish(ctx, e)
}

func (d *Dispatcher) NotifyAccepted(ctx context.Context, op *operation.Operation, acceptorID int64) error {
	e := newEvent(EventAccepted, op, op.Scope())
	e.ActorID = acceptorID
	e.Recipients = []int64{op.CreatorID, acceptorID}
	return d.hub.Publish(ctx, e)
}

func (d *Dispatcher) NotifyCompletionRequested(ctx context.Context, op *operation.Operation, requesterID int64) error {
	e := newEvent(EventCompletionRequested, op, 0)
	e.ActorID = requesterID
	e.Recipients = []int64{op.Counterparty(requesterID)}
	return d.hub.Publish(ctx, e)
}

// NotifyCompleted tells both parties the trade closed and that each owes a rating.
func (d *Dispatcher) NotifyCompleted(ctx context.Context, op *operation.Operation) error {
	e := newEvent(EventCompleted, op, op.Scope())
	e.Recipients = parties(op)
	return d.hub.Publish(ctx, e)
}

func (d *Dispatcher) NotifyReverted(ctx context.Context, op *operation.Operation, actorID, formerAcceptorID int64) error {
	e := newEvent(EventReverted, op, op.Scope())
	e.ActorID = actorID
	e.Recipients = parties(op)
	if formerAcceptorID != 0 && formerAcceptorID != op.CreatorID {
		e.Recipients = append(e.Recipients, formerAcceptorID)
	}
	return d.hub.Publish(ctx, e)
}

func parties(op *operation.Operation) []int64 {
	out := []int64{op.CreatorID}
	if op.AcceptorID.Valid {
		out = append(out, op.AcceptorID.Int64)
	}
	return out
}
