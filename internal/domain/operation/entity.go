package operation

import (
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
)

// Status is the lifecycle state of a trade offer
type Status string

const (
	StatusPending           Status = "pending"
	StatusAccepted          Status = "accepted"
	StatusPendingCompletion Status = "pending_completion"
	StatusCompleted         Status = "completed"
	StatusCancelled         Status = "cancelled"
	StatusClosed            Status = "closed"
)

// IsTerminal reports whether no further transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusClosed
}

// HasAcceptor reports whether an operation in state s must carry an acceptor.
func (s Status) HasAcceptor() bool {
	return s == StatusAccepted || s == StatusPendingCompletion || s == StatusCompleted
}

// Kind of trade offer
type Kind string

const (
	KindBuy      Kind = "buy"
	KindSell     Kind = "sell"
	KindAnnounce Kind = "announce"
	KindExchange Kind = "exchange"
)

func (k Kind) IsValid() bool {
	switch k {
	case KindBuy, KindSell, KindAnnounce, KindExchange:
		return true
	}
	return false
}

// QuotationMode tells how unit price was obtained
type QuotationMode string

const (
	QuotationManual        QuotationMode = "manual"
	QuotationExternalIndex QuotationMode = "external_index"
	QuotationLiveRate      QuotationMode = "live_rate"
)

func (q QuotationMode) IsValid() bool {
	switch q {
	case QuotationManual, QuotationExternalIndex, QuotationLiveRate:
		return true
	}
	return false
}

// transitions lists every edge of the state machine.
var transitions = map[Status][]Status{
	StatusPending:           {StatusAccepted, StatusCancelled, StatusClosed},
	StatusAccepted:          {StatusPendingCompletion, StatusCompleted, StatusPending, StatusCancelled},
	StatusPendingCompletion: {StatusCompleted, StatusPending, StatusCancelled},
	StatusCompleted:         {StatusPending},
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Operation is a P2P trade offer (matches operations table)
type Operation struct {
	ID            uuid.UUID       `db:"id"`
	CreatorID     int64           `db:"creator_id"`
	AcceptorID    sql.NullInt64   `db:"acceptor_id"`
	ScopeID       sql.NullInt64   `db:"scope_id"`
	Kind          Kind            `db:"kind"`
	Assets        pq.StringArray  `db:"assets"`
	Networks      pq.StringArray  `db:"networks"`
	Amount        decimal.Decimal `db:"amount"`
	UnitPrice     decimal.Decimal `db:"unit_price"`
	QuotationMode QuotationMode   `db:"quotation_mode"`
	Status        Status          `db:"status"`
	MessageRef    sql.NullString  `db:"message_ref"`
	ExpiresAt     time.Time       `db:"expires_at"`
	CreatedAt     time.Time       `db:"created_at"`
	UpdatedAt     time.Time       `db:"updated_at"`
}

// Scope returns the offer's group, karma.NoScope when it has none.
func (o *Operation) Scope() int64 {
	if !o.ScopeID.Valid {
		return karma.NoScope
	}
	return o.ScopeID.Int64
}

func (o *Operation) IsParticipant(userID int64) bool {
	return userID == o.CreatorID || (o.AcceptorID.Valid && userID == o.AcceptorID.Int64)
}

// Counterparty returns the other party of userID, 0 when there is none.
func (o *Operation) Counterparty(userID int64) int64 {
	switch {
	case userID == o.CreatorID && o.AcceptorID.Valid:
		return o.AcceptorID.Int64
	case o.AcceptorID.Valid && userID == o.AcceptorID.Int64:
		return o.CreatorID
	}
	return 0
}

func (o *Operation) IsExpired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// Total is amount * unit price.
func (o *Operation) Total() decimal.Decimal {
	return o.Amount.Mul(o.UnitPrice)
}

// CreateInput holds the parameters of a new offer.
type CreateInput struct {
	CreatorID     int64
	ScopeID       int64 // karma.NoScope for an unscoped offer
	Kind          Kind
	Assets        []string
	Networks      []string
	Amount        decimal.Decimal
	UnitPrice     decimal.Decimal
	QuotationMode QuotationMode
	TTL           time.Duration // 0 selects the configured default
}

func normalizeList(items []string, upper bool) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if upper {
			it = strings.ToUpper(it)
		}
		out = append(out, it)
	}
	return out
}

// TransferOrder recommends which party sends value first: the one with the lower score.
type TransferOrder struct {
	FirstSender int64          `json:"first_sender_id"`
	Creator     karma.Standing `json:"creator"`
	Acceptor    karma.Standing `json:"acceptor"`
}
