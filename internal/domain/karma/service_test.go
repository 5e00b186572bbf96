package karma_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/karma"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/reputation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/user"
)

const (
	groupA int64 = -1001
	groupB int64 = -1002
	groupC int64 = -1003
)

func newLedger(t *testing.T) (*karma.Service, *user.Service) {
	t.Helper()
	users := user.NewService(user.NewMemoryRepository())
	ctx := context.Background()
	for _, u := range []struct {
		id     int64
		handle string
	}{{1, "alice"}, {2, "bob"}, {3, "carol"}, {4, "dave"}} {
		if _, err := users.Register(ctx, u.id, u.handle, ""); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	return karma.NewService(karma.NewMemoryRepository(), users, karma.NewMemoryCooldown(time.Minute)), users
}

func TestStarDelta(t *testing.T) {
	want := map[int]int{1: -2, 2: -1, 3: 0, 4: 1, 5: 2}
	for stars, delta := range want {
		if got := karma.StarDelta(stars); got != delta {
			t.Fatalf("StarDelta(%d) = %d, want %d", stars, got, delta)
		}
	}
}

func TestScoreEqualsSumOfDeltas(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	deltas := []int{5, -3, 0, 7, -1}
	sum := 0
	for i, d := range deltas {
		evaluator := int64(2 + i%3)
		if _, err := svc.RegisterEvaluation(ctx, evaluator, 1, groupA, d, ""); err != nil {
			t.Fatalf("register: %v", err)
		}
		sum += d
	}

	rec, err := svc.GetScore(ctx, 1, groupA)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if rec.Score != sum {
		t.Fatalf("score = %d, want %d", rec.Score, sum)
	}
	total := 0
	for _, h := range rec.History {
		total += h.Delta
	}
	if total != rec.Score {
		t.Fatalf("history sum = %d, score = %d", total, rec.Score)
	}
	if len(rec.History) != len(deltas) {
		t.Fatalf("history len = %d, want %d", len(rec.History), len(deltas))
	}
}

func TestGivenCounters(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	for _, d := range []int{1, 2, -1, 0} {
		if _, err := svc.RegisterEvaluation(ctx, 2, 1, groupA, d, ""); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	rec, err := svc.GetScore(ctx, 2, groupA)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if rec.GivenPositive != 2 || rec.GivenNegative != 1 {
		t.Fatalf("given = +%d/-%d, want +2/-1", rec.GivenPositive, rec.GivenNegative)
	}
	if rec.Score != 0 {
		t.Fatalf("evaluator score changed: %d", rec.Score)
	}
}

func TestStarEvaluationTally(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	for _, stars := range []int{5, 5, 4, 1} {
		if _, err := svc.RegisterStarEvaluation(ctx, 2, 1, groupA, stars, "ok"); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	rec, err := svc.GetScore(ctx, 1, groupA)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if rec.Score != 2+2+1-2 {
		t.Fatalf("score = %d, want 3", rec.Score)
	}
	tally := rec.StarTally()
	if tally[5] != 2 || tally[4] != 1 || tally[1] != 1 || tally[3] != 0 {
		t.Fatalf("unexpected tally %v", tally)
	}
	if rec.History[0].EvaluatorName.String != "@bob" {
		t.Fatalf("evaluator name = %q", rec.History[0].EvaluatorName.String)
	}
}

func TestRegisterRejectsInvalidInput(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	if _, err := svc.RegisterStarEvaluation(ctx, 2, 1, groupA, 6, ""); !errors.Is(err, karma.ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if _, err := svc.RegisterStarEvaluation(ctx, 2, 1, groupA, 0, ""); !errors.Is(err, karma.ErrInvalidRating) {
		t.Fatalf("expected ErrInvalidRating, got %v", err)
	}
	if _, err := svc.RegisterEvaluation(ctx, 1, 1, groupA, 1, ""); !errors.Is(err, karma.ErrSelfEvaluation) {
		t.Fatalf("expected ErrSelfEvaluation, got %v", err)
	}
}

func TestGetScoreWithoutRecord(t *testing.T) {
	svc, _ := newLedger(t)

	rec, err := svc.GetScore(context.Background(), 1, groupA)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}

func TestAggregateAcrossScopes(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	mustRegister := func(scope int64, delta int) {
		t.Helper()
		if _, err := svc.RegisterEvaluation(ctx, 2, 1, scope, delta, ""); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	mustRegister(groupA, 10)
	mustRegister(groupB, -3)
	mustRegister(groupC, 20)
	mustRegister(groupC, 20)
	mustRegister(groupC, 10)

	agg, err := svc.GetAggregateScore(ctx, "@alice")
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.Score != 57 {
		t.Fatalf("aggregate score = %d, want 57", agg.Score)
	}
	if agg.Scopes != 3 {
		t.Fatalf("scopes = %d, want 3", agg.Scopes)
	}
	if agg.HistoryScope != groupC || len(agg.History) != 3 {
		t.Fatalf("history scope = %d (%d entries), want %d with 3", agg.HistoryScope, len(agg.History), groupC)
	}
	if agg.Level.Tier != reputation.TierBronze {
		t.Fatalf("level = %s, want bronze", agg.Level.Tier)
	}
}

func TestAggregateUnknownUser(t *testing.T) {
	svc, _ := newLedger(t)

	if _, err := svc.GetAggregateScore(context.Background(), "@nobody"); !errors.Is(err, karma.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	if _, err := svc.GetAggregateScore(context.Background(), "  "); !errors.Is(err, karma.ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
}

func TestAggregateByIDOfUnregisteredUser(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	// 101 and 202 traded without ever registering a handle
	rec, err := svc.RegisterStarEvaluation(ctx, 101, 202, groupA, 5, "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, q := range []string{"202", "@202", " 202 "} {
		agg, err := svc.GetAggregateScore(ctx, q)
		if err != nil {
			t.Fatalf("aggregate %q: %v", q, err)
		}
		if agg.User == nil || agg.User.ID != 202 || agg.Score != rec.Score || agg.Scopes != 1 {
			t.Fatalf("aggregate %q: unexpected %+v", q, agg)
		}
	}

	if _, err := svc.GetAggregateScore(ctx, "303"); !errors.Is(err, karma.ErrUserNotFound) {
		t.Fatalf("id without records: expected ErrUserNotFound, got %v", err)
	}
}

type brokenIdentity struct{}

func (brokenIdentity) Resolve(ctx context.Context, query string) (*user.User, error) {
	return nil, errors.New("identity backend unavailable")
}

func (brokenIdentity) ResolveByID(ctx context.Context, id int64) (*user.User, error) {
	return nil, errors.New("identity backend unavailable")
}

func TestAggregateDegradesWhenIdentityFails(t *testing.T) {
	svc := karma.NewService(karma.NewMemoryRepository(), brokenIdentity{}, nil)
	ctx := context.Background()

	// the write still succeeds, only the evaluator name is lost
	rec, err := svc.RegisterEvaluation(ctx, 2, 1, groupA, 4, "")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if rec.Score != 4 {
		t.Fatalf("score = %d", rec.Score)
	}

	agg, err := svc.GetAggregateScore(ctx, "alice")
	if err != nil {
		t.Fatalf("aggregate should degrade, got %v", err)
	}
	if !agg.Unknown || agg.Score != 0 {
		t.Fatalf("expected unknown zero aggregate, got %+v", agg)
	}
}

func TestStandingFallsBackToAggregate(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	if _, err := svc.RegisterEvaluation(ctx, 2, 1, groupA, 60, ""); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.RegisterEvaluation(ctx, 2, 1, groupB, 5, ""); err != nil {
		t.Fatalf("register: %v", err)
	}

	st, err := svc.Standing(ctx, 1, groupA)
	if err != nil {
		t.Fatalf("standing: %v", err)
	}
	if st.Source != karma.StandingSourceScope || st.Score != 60 {
		t.Fatalf("unexpected scoped standing %+v", st)
	}

	st, err = svc.Standing(ctx, 1, karma.NoScope)
	if err != nil {
		t.Fatalf("standing: %v", err)
	}
	if st.Source != karma.StandingSourceAggregate || st.Score != 65 {
		t.Fatalf("unexpected aggregate standing %+v", st)
	}
	if st.Level.Tier != reputation.TierBronze {
		t.Fatalf("level = %s", st.Level.Tier)
	}
}

func TestLeaderboards(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	register := func(evaluator, target int64, delta int) {
		t.Helper()
		if _, err := svc.RegisterEvaluation(ctx, evaluator, target, groupA, delta, ""); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	register(2, 1, 10)
	register(3, 1, 5)
	register(4, 3, 2)
	register(1, 4, -8)
	register(2, 4, 1)

	best, err := svc.GetLeaderboard(ctx, groupA, false, 2)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(best) != 2 || best[0].UserID != 1 || best[0].Value != 15 {
		t.Fatalf("unexpected best %+v", best)
	}

	worst, err := svc.GetLeaderboard(ctx, groupA, true, 1)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if worst[0].UserID != 4 || worst[0].Value != -7 {
		t.Fatalf("unexpected worst %+v", worst)
	}

	givers, err := svc.GetTopGivers(ctx, groupA, 10)
	if err != nil {
		t.Fatalf("givers: %v", err)
	}
	if givers[0].UserID != 2 || givers[0].Value != 2 {
		t.Fatalf("unexpected givers %+v", givers)
	}

	received, err := svc.GetTopReceivedSince(ctx, groupA, time.Hour, 10)
	if err != nil {
		t.Fatalf("received: %v", err)
	}
	for _, e := range received {
		if e.Value <= 0 {
			t.Fatalf("non-positive entry in received ranking: %+v", e)
		}
	}
	if len(received) != 2 || received[0].UserID != 1 {
		t.Fatalf("unexpected received %+v", received)
	}
}

func TestReactCooldown(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	if _, err := svc.React(ctx, 2, 1, groupA, true, ""); err != nil {
		t.Fatalf("first reaction: %v", err)
	}
	if _, err := svc.React(ctx, 2, 1, groupA, false, ""); !errors.Is(err, karma.ErrCooldown) {
		t.Fatalf("expected ErrCooldown, got %v", err)
	}
	// a different scope has its own window
	rec, err := svc.React(ctx, 2, 1, groupB, false, "")
	if err != nil {
		t.Fatalf("other scope reaction: %v", err)
	}
	if rec.Score != -1 {
		t.Fatalf("score = %d, want -1", rec.Score)
	}
	if _, err := svc.React(ctx, 1, 1, groupA, true, ""); !errors.Is(err, karma.ErrSelfEvaluation) {
		t.Fatalf("expected ErrSelfEvaluation, got %v", err)
	}
}

func TestConcurrentEvaluations(t *testing.T) {
	svc, _ := newLedger(t)
	ctx := context.Background()

	const workers = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.RegisterEvaluation(ctx, 2, 1, groupA, 1, ""); err != nil {
				t.Errorf("register: %v", err)
			}
		}()
	}
	wg.Wait()

	rec, err := svc.GetScore(ctx, 1, groupA)
	if err != nil {
		t.Fatalf("get score: %v", err)
	}
	if rec.Score != workers {
		t.Fatalf("score = %d, want %d", rec.Score, workers)
	}
}
