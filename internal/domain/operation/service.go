package operation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/errorhandler"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/logger"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/metrics"
)

const (
	DefaultOfferTTL            = 24 * time.Hour
	DefaultCollaboratorTimeout = 5 * time.Second
	defaultListLimit           = 50
)

// Options tune the lifecycle service.
type Options struct {
	OfferTTL            time.Duration
	CollaboratorTimeout time.Duration
	Now                 func() time.Time
}

// Service is the trade offer state machine.
type Service struct {
	repo       Repository
	tx         database.Transactor
	gate       Gate
	reputation Reputation
	dispatcher Dispatcher

	offerTTL            time.Duration
	collaboratorTimeout time.Duration
	now                 func() time.Time
}

// NewService creates the lifecycle service. dispatcher and reputation may be nil.
func NewService(repo Repository, tx database.Transactor, gate Gate, reputation Reputation, dispatcher Dispatcher, opts Options) *Service {
	if opts.OfferTTL <= 0 {
		opts.OfferTTL = DefaultOfferTTL
	}
	if opts.CollaboratorTimeout <= 0 {
		opts.CollaboratorTimeout = DefaultCollaboratorTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Service{
		repo:                repo,
		tx:                  tx,
		gate:                gate,
		reputation:          reputation,
		dispatcher:          dispatcher,
		offerTTL:            opts.OfferTTL,
		collaboratorTimeout: opts.CollaboratorTimeout,
		now:                 opts.Now,
	}
}

func (s *Service) checkGate(ctx context.Context, userID int64) error {
	pending, err := s.gate.HasOutstanding(ctx, userID)
	if err != nil {
		return err
	}
	if pending {
		return ErrEvaluationsPending
	}
	return nil
}

// Create stores a new pending offer and announces it.
func (s *Service) Create(ctx context.Context, in CreateInput) (*Operation, error) {
	if in.CreatorID == 0 {
		return nil, fmt.Errorf("%w: creator is required", ErrInvalidInput)
	}
	if err := s.checkGate(ctx, in.CreatorID); err != nil {
		return nil, err
	}

	assets := normalizeList(in.Assets, true)
	networks := normalizeList(in.Networks, true)
	switch {
	case !in.Kind.IsValid():
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidInput, in.Kind)
	case !in.QuotationMode.IsValid():
		return nil, fmt.Errorf("%w: unknown quotation mode %q", ErrInvalidInput, in.QuotationMode)
	case len(assets) == 0:
		return nil, fmt.Errorf("%w: at least one asset is required", ErrInvalidInput)
	case len(networks) == 0:
		return nil, fmt.Errorf("%w: at least one network is required", ErrInvalidInput)
	case !in.Amount.IsPositive():
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	case !in.UnitPrice.IsPositive():
		return nil, fmt.Errorf("%w: unit price must be positive", ErrInvalidInput)
	case in.TTL < 0:
		return nil, fmt.Errorf("%w: ttl must not be negative", ErrInvalidInput)
	}

	ttl := in.TTL
	if ttl == 0 {
		ttl = s.offerTTL
	}
	now := s.now()
	op := &Operation{
		ID:            uuid.New(),
		CreatorID:     in.CreatorID,
		Kind:          in.Kind,
		Assets:        assets,
		Networks:      networks,
		Amount:        in.Amount,
		UnitPrice:     in.UnitPrice,
		QuotationMode: in.QuotationMode,
		Status:        StatusPending,
		ExpiresAt:     now.Add(ttl),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if in.ScopeID != 0 {
		op.ScopeID = sql.NullInt64{Int64: in.ScopeID, Valid: true}
	}

	if err := s.repo.Create(ctx, op); err != nil {
		return nil, err
	}
	s.logTransition(ctx, op, "created")
	metrics.OperationTransition(string(StatusPending))

	s.announce(ctx, op)
	return op, nil
}

// announce posts the offer and remembers the message handle.
func (s *Service) announce(ctx context.Context, op *Operation) {
	var ref string
	s.dispatch(ctx, "announce", func(ctx context.Context) error {
		var (
			posted string
			err    error
		)
		if op.ScopeID.Valid {
			posted, err = s.dispatcher.AnnounceToScope(ctx, op, op.ScopeID.Int64)
		} else {
			posted, err = s.dispatcher.Announce(ctx, op)
		}
		if err != nil {
			return err
		}
		ref = posted
		return nil
	})
	if ref == "" {
		return
	}
	if err := s.repo.SetMessageRef(ctx, op.ID, ref); err != nil {
		logger.FromContext(ctx).Error().Err(err).Str("operation_id", op.ID.String()).Msg("Failed to store message ref")
		return
	}
	op.MessageRef = sql.NullString{String: ref, Valid: true}
}

// Get returns the operation or ErrNotFound.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Operation, error) {
	op, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if op == nil {
		return nil, ErrNotFound
	}
	return op, nil
}

// Accept hands a pending offer to acceptorID. Exactly one of several
// concurrent accepts wins; the others get ErrNotAvailable.
func (s *Service) Accept(ctx context.Context, id uuid.UUID, acceptorID int64) (*Operation, error) {
	if err := s.checkGate(ctx, acceptorID); err != nil {
		return nil, err
	}
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.CreatorID == acceptorID {
		return nil, ErrSelfAcceptForbidden
	}
	if op.Status != StatusPending {
		return nil, ErrNotAvailable
	}

	if op.IsExpired(s.now()) {
		cancelled, err := s.repo.UpdateConditional(ctx, id, Patch{From: []Status{StatusPending}, To: StatusCancelled})
		switch {
		case err == nil:
			s.logTransition(ctx, cancelled, "expired on accept")
			metrics.OperationTransition(string(StatusCancelled))
			s.dispatch(ctx, "retract", func(ctx context.Context) error { return s.dispatcher.Retract(ctx, cancelled) })
		case !errors.Is(err, ErrConflict):
			return nil, err
		}
		return nil, ErrExpired
	}

	updated, err := s.repo.UpdateConditional(ctx, id, Patch{
		From:        []Status{StatusPending},
		To:          StatusAccepted,
		SetAcceptor: acceptorID,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrNotAvailable
		}
		return nil, err
	}

	s.logTransition(ctx, updated, "accepted")
	metrics.OperationTransition(string(StatusAccepted))
	s.dispatch(ctx, "accepted", func(ctx context.Context) error {
		return s.dispatcher.NotifyAccepted(ctx, updated, acceptorID)
	})
	return updated, nil
}

// participantTransition loads the operation, checks that userID takes part
// in it and that its status is one of from, then applies the patch guarded
// by the acceptor observed at read time.
func (s *Service) participantTransition(ctx context.Context, id uuid.UUID, userID int64, from []Status, p Patch) (*Operation, error) {
	op, err := s.loadForParticipant(ctx, id, userID, from)
	if err != nil {
		return nil, err
	}
	return s.applyTransition(ctx, op, p)
}

func (s *Service) loadForParticipant(ctx context.Context, id uuid.UUID, userID int64, from []Status) (*Operation, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !op.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if !statusIn(op.Status, from) {
		return nil, ErrWrongState
	}
	return op, nil
}

// applyTransition writes p conditioned on the status and acceptor of the loaded op.
func (s *Service) applyTransition(ctx context.Context, op *Operation, p Patch) (*Operation, error) {
	p.From = []Status{op.Status}
	if op.AcceptorID.Valid {
		p.ExpectAcceptor = op.AcceptorID.Int64
	}
	updated, err := s.repo.UpdateConditional(ctx, op.ID, p)
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrWrongState
		}
		return nil, err
	}
	return updated, nil
}

// RequestCompletion moves an accepted offer to pending completion and pings the counterparty.
func (s *Service) RequestCompletion(ctx context.Context, id uuid.UUID, requesterID int64) (*Operation, error) {
	updated, err := s.participantTransition(ctx, id, requesterID,
		[]Status{StatusAccepted}, Patch{To: StatusPendingCompletion})
	if err != nil {
		return nil, err
	}

	s.logTransition(ctx, updated, "completion requested")
	metrics.OperationTransition(string(StatusPendingCompletion))
	s.dispatch(ctx, "completion_requested", func(ctx context.Context) error {
		return s.dispatcher.NotifyCompletionRequested(ctx, updated, requesterID)
	})
	return updated, nil
}

// Complete finishes the trade and creates the two mutual rating obligations atomically.
func (s *Service) Complete(ctx context.Context, id uuid.UUID, userID int64) (*Operation, error) {
	var updated *Operation
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		updated, err = s.participantTransition(ctx, id, userID,
			[]Status{StatusAccepted, StatusPendingCompletion}, Patch{To: StatusCompleted})
		if err != nil {
			return err
		}
		return s.gate.CreateMutualObligations(ctx, updated.ID, updated.Scope(), updated.CreatorID, updated.AcceptorID.Int64)
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(ctx, updated, "completed")
	metrics.OperationTransition(string(StatusCompleted))
	s.dispatch(ctx, "completed", func(ctx context.Context) error {
		return s.dispatcher.NotifyCompleted(ctx, updated)
	})
	return updated, nil
}

// Revert puts an accepted (or completed) offer back on the market and drops its obligations.
// A completed trade that either party already rated stays completed.
func (s *Service) Revert(ctx context.Context, id uuid.UUID, userID int64) (*Operation, error) {
	var (
		updated        *Operation
		formerAcceptor int64
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		op, err := s.loadForParticipant(ctx, id, userID,
			[]Status{StatusAccepted, StatusPendingCompletion, StatusCompleted})
		if err != nil {
			return err
		}
		if op.Status == StatusCompleted {
			rated, err := s.gate.HasResolved(ctx, op.ID)
			if err != nil {
				return err
			}
			if rated {
				return ErrAlreadyRated
			}
		}
		formerAcceptor = op.AcceptorID.Int64

		updated, err = s.applyTransition(ctx, op, Patch{To: StatusPending, ClearAcceptor: true})
		if err != nil {
			return err
		}
		return s.gate.DiscardObligations(ctx, updated.ID)
	})
	if err != nil {
		return nil, err
	}

	s.logTransition(ctx, updated, "reverted")
	metrics.OperationTransition(string(StatusPending))
	s.dispatch(ctx, "reverted", func(ctx context.Context) error {
		return s.dispatcher.NotifyReverted(ctx, updated, userID, formerAcceptor)
	})
	return updated, nil
}

// Cancel is the hard exit available to either party while the offer is still open.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, userID int64) (*Operation, error) {
	updated, err := s.participantTransition(ctx, id, userID,
		[]Status{StatusPending, StatusAccepted, StatusPendingCompletion},
		Patch{To: StatusCancelled, ClearAcceptor: true})
	if err != nil {
		return nil, err
	}

	s.logTransition(ctx, updated, "cancelled")
	metrics.OperationTransition(string(StatusCancelled))
	s.dispatch(ctx, "retract", func(ctx context.Context) error {
		return s.dispatcher.Retract(ctx, updated)
	})
	return updated, nil
}

// Close withdraws a pending offer; only its creator may do so.
func (s *Service) Close(ctx context.Context, id uuid.UUID, userID int64) (*Operation, error) {
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.CreatorID != userID {
		return nil, ErrForbidden
	}
	if op.Status != StatusPending {
		return nil, ErrWrongState
	}

	updated, err := s.repo.UpdateConditional(ctx, id, Patch{From: []Status{StatusPending}, To: StatusClosed})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrWrongState
		}
		return nil, err
	}

	s.logTransition(ctx, updated, "closed")
	metrics.OperationTransition(string(StatusClosed))
	s.dispatch(ctx, "retract", func(ctx context.Context) error {
		return s.dispatcher.Retract(ctx, updated)
	})
	return updated, nil
}

// Publish attaches a scope to an unscoped pending offer and announces it there.
func (s *Service) Publish(ctx context.Context, id uuid.UUID, userID, scopeID int64) (*Operation, error) {
	if scopeID == 0 {
		return nil, fmt.Errorf("%w: scope is required", ErrInvalidInput)
	}
	op, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if op.CreatorID != userID {
		return nil, ErrForbidden
	}
	if op.Status != StatusPending || op.ScopeID.Valid {
		return nil, ErrWrongState
	}

	updated, err := s.repo.UpdateConditional(ctx, id, Patch{
		From:     []Status{StatusPending},
		To:       StatusPending,
		SetScope: scopeID,
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return nil, ErrWrongState
		}
		return nil, err
	}

	s.logTransition(ctx, updated, "published")
	s.announce(ctx, updated)
	return updated, nil
}

func (s *Service) ListByCreator(ctx context.Context, creatorID int64, limit int) ([]Operation, error) {
	return s.repo.ListByCreator(ctx, creatorID, listLimit(limit))
}

func (s *Service) ListByAcceptor(ctx context.Context, acceptorID int64, limit int) ([]Operation, error) {
	return s.repo.ListByAcceptor(ctx, acceptorID, listLimit(limit))
}

// ListOpenInScope lists pending, unexpired offers of a group.
func (s *Service) ListOpenInScope(ctx context.Context, scopeID int64, limit int) ([]Operation, error) {
	return s.repo.ListOpenInScope(ctx, scopeID, s.now(), listLimit(limit))
}

// TransferOrder recommends which party sends value first. It is display only
// and never consulted by the state machine.
func (s *Service) TransferOrder(ctx context.Context, op *Operation) (*TransferOrder, error) {
	if !op.AcceptorID.Valid || s.reputation == nil {
		return nil, nil
	}
	creator, err := s.reputation.Standing(ctx, op.CreatorID, op.Scope())
	if err != nil {
		return nil, err
	}
	acceptor, err := s.reputation.Standing(ctx, op.AcceptorID.Int64, op.Scope())
	if err != nil {
		return nil, err
	}

	order := &TransferOrder{Creator: *creator, Acceptor: *acceptor, FirstSender: acceptor.UserID}
	if creator.Score < acceptor.Score {
		order.FirstSender = creator.UserID
	}
	return order, nil
}

// ExpirationSweep cancels every pending offer past its expiry. Running it
// again, or concurrently, cancels nothing twice.
func (s *Service) ExpirationSweep(ctx context.Context) (int, error) {
	cancelled, err := s.repo.CancelExpired(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if len(cancelled) == 0 {
		return 0, nil
	}

	metrics.SweepCancelled(len(cancelled))
	for i := range cancelled {
		op := &cancelled[i]
		s.logTransition(ctx, op, "expired")
		s.dispatch(ctx, "retract", func(ctx context.Context) error {
			return s.dispatcher.Retract(ctx, op)
		})
	}
	return len(cancelled), nil
}

// dispatch runs a dispatcher call bounded by the collaborator timeout. The
// call outlives a cancelled request context; its error is logged and counted.
func (s *Service) dispatch(ctx context.Context, event string, call func(ctx context.Context) error) {
	if s.dispatcher == nil {
		return
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.collaboratorTimeout)
	defer cancel()

	if err := call(callCtx); err != nil {
		metrics.DispatchFailure(event)
		errorhandler.LogCollaboratorError(ctx, "dispatcher", event, err)
	}
}

func (s *Service) logTransition(ctx context.Context, op *Operation, msg string) {
	l := logger.FromContext(ctx)
	event := l.Info()
	if msg == "expired" {
		event = l.Debug()
	}
	event.
		Str("operation_id", op.ID.String()).
		Int64("creator_id", op.CreatorID).
		Int64("scope_id", op.Scope()).
		Str("status", string(op.Status)).
		Func(func(e *zerolog.Event) {
			if op.AcceptorID.Valid {
				e.Int64("acceptor_id", op.AcceptorID.Int64)
			}
		}).
		Msg("Operation " + msg)
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func listLimit(limit int) int {
	if limit <= 0 || limit > defaultListLimit {
		return defaultListLimit
	}
	return limit
}
