package karma

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/reputation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/user"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/errorhandler"
	"github.com/p2pdesk/p2pdesk-api/internal/pkg/metrics"
)

const (
	historyLimit       = 20
	defaultRankLimit   = 10
	maxRankLimit       = 100
	identityCallBudget = 3 * time.Second
)

// Identity resolves chat users by id or handle.
type Identity interface {
	Resolve(ctx context.Context, query string) (*user.User, error)
	ResolveByID(ctx context.Context, id int64) (*user.User, error)
}

// Service is the karma ledger.
type Service struct {
	repo     Repository
	identity Identity
	cooldown Cooldown
	now      func() time.Time
}

func NewService(repo Repository, identity Identity, cooldown Cooldown) *Service {
	return &Service{
		repo:     repo,
		identity: identity,
		cooldown: cooldown,
		now:      time.Now,
	}
}

// RegisterEvaluation appends a raw delta for target, given by evaluator in scope.
func (s *Service) RegisterEvaluation(ctx context.Context, evaluatorID, targetID, scopeID int64, delta int, comment string) (*Record, error) {
	rec, err := s.register(ctx, Evaluation{
		EvaluatorID: evaluatorID,
		TargetID:    targetID,
		ScopeID:     scopeID,
		Delta:       delta,
		Comment:     comment,
	})
	if err != nil {
		return nil, err
	}
	metrics.KarmaEvaluation("delta")
	return rec, nil
}

// RegisterStarEvaluation records a 1..5 star rating; the delta comes from StarDelta.
func (s *Service) RegisterStarEvaluation(ctx context.Context, evaluatorID, targetID, scopeID int64, stars int, comment string) (*Record, error) {
	if stars < MinStars || stars > MaxStars {
		return nil, ErrInvalidRating
	}
	rec, err := s.register(ctx, Evaluation{
		EvaluatorID: evaluatorID,
		TargetID:    targetID,
		ScopeID:     scopeID,
		Delta:       StarDelta(stars),
		StarRating:  stars,
		Comment:     comment,
	})
	if err != nil {
		return nil, err
	}
	metrics.KarmaEvaluation("stars")
	return rec, nil
}

// React records a +1/-1 vote, at most once per cooldown window for the same
// evaluator, target and scope.
func (s *Service) React(ctx context.Context, evaluatorID, targetID, scopeID int64, positive bool, comment string) (*Record, error) {
	if evaluatorID == 0 || targetID == 0 {
		return nil, ErrInvalidUser
	}
	if evaluatorID == targetID {
		return nil, ErrSelfEvaluation
	}

	if s.cooldown != nil {
		key := fmt.Sprintf("%d:%d:%d", scopeID, evaluatorID, targetID)
		ok, err := s.cooldown.Allow(ctx, key)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrCooldown
		}
	}

	delta := ReactionDelta
	if !positive {
		delta = -ReactionDelta
	}
	rec, err := s.register(ctx, Evaluation{
		EvaluatorID: evaluatorID,
		TargetID:    targetID,
		ScopeID:     scopeID,
		Delta:       delta,
		Comment:     comment,
	})
	if err != nil {
		return nil, err
	}
	metrics.KarmaEvaluation("reaction")
	return rec, nil
}

func (s *Service) register(ctx context.Context, ev Evaluation) (*Record, error) {
	if ev.EvaluatorID == 0 || ev.TargetID == 0 {
		return nil, ErrInvalidUser
	}
	if ev.EvaluatorID == ev.TargetID {
		return nil, ErrSelfEvaluation
	}
	ev.EvaluatorName = s.evaluatorName(ctx, ev.EvaluatorID)
	ev.At = s.now()

	return s.repo.Apply(ctx, ev)
}

// evaluatorName is best effort: the entry is recorded without a name when the lookup fails.
func (s *Service) evaluatorName(ctx context.Context, evaluatorID int64) string {
	if s.identity == nil {
		return ""
	}
	callCtx, cancel := context.WithTimeout(ctx, identityCallBudget)
	defer cancel()

	u, err := s.identity.ResolveByID(callCtx, evaluatorID)
	if err != nil {
		if !errors.Is(err, user.ErrUserNotFound) {
			errorhandler.LogCollaboratorError(ctx, "identity", "resolve_by_id", err)
		}
		return ""
	}
	return u.Name()
}

// GetScore returns the user's record in scope with its recent history, or nil when there is none.
func (s *Service) GetScore(ctx context.Context, userID, scopeID int64) (*Record, error) {
	rec, err := s.repo.Get(ctx, userID, scopeID)
	if err != nil || rec == nil {
		return nil, err
	}
	rec.History, err = s.repo.History(ctx, userID, scopeID, historyLimit)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// GetAggregateScore resolves query to a user and sums their records over every scope.
// An identity backend failure degrades to an Unknown zero aggregate.
func (s *Service) GetAggregateScore(ctx context.Context, query string) (*Aggregate, error) {
	if s.identity == nil {
		id, ok := numericID(query)
		if !ok {
			return nil, ErrInvalidQuery
		}
		return s.aggregate(ctx, &user.User{ID: id})
	}

	callCtx, cancel := context.WithTimeout(ctx, identityCallBudget)
	u, err := s.identity.Resolve(callCtx, query)
	cancel()
	if err != nil {
		switch {
		case errors.Is(err, user.ErrUserNotFound):
			return s.aggregateUnregistered(ctx, query)
		case errors.Is(err, user.ErrEmptyQuery):
			return nil, ErrInvalidQuery
		}
		errorhandler.LogCollaboratorError(ctx, "identity", "resolve", err)
		return &Aggregate{Unknown: true, Level: reputation.Classify(0), StarTally: (&Record{}).StarTally()}, nil
	}
	return s.aggregate(ctx, u)
}

// aggregateUnregistered serves numeric ids the identity store has never seen.
// Karma is keyed by id alone, so such a user may still hold records.
func (s *Service) aggregateUnregistered(ctx context.Context, query string) (*Aggregate, error) {
	id, ok := numericID(query)
	if !ok {
		return nil, ErrUserNotFound
	}
	agg, err := s.aggregate(ctx, &user.User{ID: id})
	if err != nil {
		return nil, err
	}
	if agg.Scopes == 0 {
		return nil, ErrUserNotFound
	}
	return agg, nil
}

func numericID(query string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimPrefix(strings.TrimSpace(query), "@"), 10, 64)
	return id, err == nil
}

func (s *Service) aggregate(ctx context.Context, u *user.User) (*Aggregate, error) {
	records, err := s.repo.ListByUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}

	agg := &Aggregate{User: u, Scopes: len(records)}
	byScope := make(map[int64]Record, len(records))
	for _, rec := range records {
		agg.Score += rec.Score
		agg.GivenPositive += rec.GivenPositive
		agg.GivenNegative += rec.GivenNegative
		byScope[rec.ScopeID] = rec
	}
	agg.Level = reputation.Classify(agg.Score)

	counts, err := s.repo.HistoryCounts(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	richest, found := richestScope(counts)
	if !found {
		agg.StarTally = (&Record{}).StarTally()
		return agg, nil
	}

	rec := byScope[richest]
	agg.HistoryScope = richest
	agg.StarTally = rec.StarTally()
	agg.History, err = s.repo.History(ctx, u.ID, richest, historyLimit)
	if err != nil {
		return nil, err
	}
	return agg, nil
}

// richestScope picks the scope with the most history entries; ties go to the lower scope id.
func richestScope(counts map[int64]int) (int64, bool) {
	var (
		best  int64
		top   int
		found bool
	)
	for scope, n := range counts {
		if n > top || (n == top && found && scope < best) {
			best, top, found = scope, n, true
		}
	}
	return best, found
}

// Standing returns the exact-scope score when the user has a record in scope,
// the cross-scope aggregate otherwise.
func (s *Service) Standing(ctx context.Context, userID, scopeID int64) (*Standing, error) {
	rec, err := s.repo.Get(ctx, userID, scopeID)
	if err != nil {
		return nil, err
	}
	if rec != nil {
		return &Standing{
			UserID: userID,
			Scope:  scopeID,
			Score:  rec.Score,
			Level:  reputation.Classify(rec.Score),
			Source: StandingSourceScope,
		}, nil
	}

	records, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, r := range records {
		total += r.Score
	}
	return &Standing{
		UserID: userID,
		Scope:  scopeID,
		Score:  total,
		Level:  reputation.Classify(total),
		Source: StandingSourceAggregate,
	}, nil
}

func (s *Service) GetLeaderboard(ctx context.Context, scopeID int64, worstFirst bool, limit int) ([]RankEntry, error) {
	return s.repo.Leaderboard(ctx, scopeID, worstFirst, clampLimit(limit))
}

func (s *Service) GetTopGivers(ctx context.Context, scopeID int64, limit int) ([]RankEntry, error) {
	return s.repo.TopGivers(ctx, scopeID, clampLimit(limit))
}

// GetTopReceivedSince ranks users by the karma they received during the last window.
func (s *Service) GetTopReceivedSince(ctx context.Context, scopeID int64, window time.Duration, limit int) ([]RankEntry, error) {
	return s.repo.TopReceivedSince(ctx, scopeID, s.now().Add(-window), clampLimit(limit))
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultRankLimit
	}
	if limit > maxRankLimit {
		return maxRankLimit
	}
	return limit
}
