package notification

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/operation"
)

func testOperation(scope int64) *operation.Operation {
	op := &operation.Operation{
		ID:        uuid.New(),
		CreatorID: 10,
		Kind:      operation.KindSell,
		Status:    operation.StatusPending,
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if scope != 0 {
		op.ScopeID = sql.NullInt64{Int64: scope, Valid: true}
	}
	return op
}

func receive(t *testing.T, c *Client) *Event {
	t.Helper()
	select {
	case data := <-c.Send:
		var e Event
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		return &e
	case <-time.After(time.Second):
		t.Fatal("expected an event")
	}
	return nil
}

func assertEmpty(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("unexpected event: %s", data)
	default:
	}
}

func TestHubRoutesByScopeAndRecipient(t *testing.T) {
	hub := NewHub(nil, "test")
	defer hub.Shutdown()

	everything := NewClient(1, nil, nil)
	scoped := NewClient(2, nil, []int64{7})
	other := NewClient(3, nil, []int64{8})
	for _, c := range []*Client{everything, scoped, other} {
		hub.Register(c)
	}
	if hub.ClientCount() != 3 {
		t.Fatalf("expected 3 clients, got %d", hub.ClientCount())
	}

	d := NewDispatcher(hub)
	ref, err := d.AnnounceToScope(context.Background(), testOperation(7), 7)
	if err != nil {
		t.Fatalf("announce: %v", err)
	}
	if ref == "" {
		t.Fatal("expected message ref")
	}

	if e := receive(t, everything); e.Type != EventAnnounced || e.ID.String() != ref {
		t.Fatalf("unexpected event %+v", e)
	}
	if e := receive(t, scoped); e.ScopeID != 7 {
		t.Fatalf("expected scope 7, got %d", e.ScopeID)
	}
	assertEmpty(t, other)
}

func TestHubDirectRecipients(t *testing.T) {
	hub := NewHub(nil, "test")
	defer hub.Shutdown()

	creator := NewClient(10, nil, []int64{99})
	acceptor := NewClient(20, nil, []int64{99})
	bystander := NewClient(30, nil, []int64{99})
	for _, c := range []*Client{creator, acceptor, bystander} {
		hub.Register(c)
	}

	op := testOperation(0)
	op.AcceptorID = sql.NullInt64{Int64: 20, Valid: true}

	if err := NewDispatcher(hub).NotifyCompletionRequested(context.Background(), op, 10); err != nil {
		t.Fatalf("notify: %v", err)
	}

	e := receive(t, acceptor)
	if e.Type != EventCompletionRequested || e.ActorID != 10 {
		t.Fatalf("unexpected event %+v", e)
	}
	assertEmpty(t, creator)
	assertEmpty(t, bystander)
}

func TestRevertReachesDroppedAcceptor(t *testing.T) {
	hub := NewHub(nil, "test")
	defer hub.Shutdown()

	creator := NewClient(101, nil, []int64{999})
	dropped := NewClient(202, nil, []int64{999})
	bystander := NewClient(303, nil, []int64{999})
	for _, c := range []*Client{creator, dropped, bystander} {
		hub.Register(c)
	}

	// the offer is already back on the market: no acceptor, no scope
	op := testOperation(0)
	op.CreatorID = 101

	if err := NewDispatcher(hub).NotifyReverted(context.Background(), op, 101, 202); err != nil {
		t.Fatalf("notify: %v", err)
	}

	e := receive(t, dropped)
	if e.Type != EventReverted || e.ActorID != 101 {
		t.Fatalf("unexpected event %+v", e)
	}
	if e := receive(t, creator); e.Type != EventReverted {
		t.Fatalf("unexpected event %+v", e)
	}
	assertEmpty(t, bystander)
}

func TestHubSubscribeNarrowsFilter(t *testing.T) {
	hub := NewHub(nil, "test")
	defer hub.Shutdown()

	c := NewClient(1, nil, nil)
	hub.Register(c)
	hub.Subscribe(c, 5)

	d := NewDispatcher(hub)
	if _, err := d.AnnounceToScope(context.Background(), testOperation(6), 6); err != nil {
		t.Fatal(err)
	}
	assertEmpty(t, c)

	if _, err := d.AnnounceToScope(context.Background(), testOperation(5), 5); err != nil {
		t.Fatal(err)
	}
	receive(t, c)
}

func TestHubUnregisterClosesSend(t *testing.T) {
	hub := NewHub(nil, "test")
	defer hub.Shutdown()

	c := NewClient(1, nil, nil)
	hub.Register(c)
	hub.Unregister(c)
	hub.Unregister(c)

	if _, ok := <-c.Send; ok {
		t.Fatal("expected closed send channel")
	}
	if hub.ClientCount() != 0 {
		t.Fatalf("expected no clients, got %d", hub.ClientCount())
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(nil, "test")
	defer hub.Shutdown()

	c := NewClient(1, nil, nil)
	hub.Register(c)

	d := NewDispatcher(hub)
	for i := 0; i < cap(c.Send)+5; i++ {
		if err := d.Retract(context.Background(), testOperation(0)); err != nil {
			t.Fatal(err)
		}
	}
	if len(c.Send) != cap(c.Send) {
		t.Fatalf("expected full buffer, got %d", len(c.Send))
	}
}
