package karma

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
)

var recordCols = []string{
	"user_id", "scope_id", "score", "given_positive", "given_negative",
	"star_1", "star_2", "star_3", "star_4", "star_5", "updated_at",
}

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { raw.Close() })
	db := sqlx.NewDb(raw, "postgres")
	return NewRepository(db, database.NewTransactor(db)), mock
}

func TestApplyWritesInOneTransaction(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO karma_records`).
		WithArgs(int64(1), int64(-100), 2, 0, 0, 0, 0, 1, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(int64(1), int64(-100), 12, 0, 0, 0, 0, 0, 0, 3, now))
	mock.ExpectExec(`INSERT INTO karma_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO karma_records`).
		WithArgs(int64(2), int64(-100), 1, 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	rec, err := repo.Apply(context.Background(), Evaluation{
		EvaluatorID: 2, TargetID: 1, ScopeID: -100, Delta: 2, StarRating: 5, At: now,
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if rec.Score != 12 || rec.Star5 != 3 {
		t.Fatalf("unexpected record %+v", rec)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyZeroDeltaSkipsEvaluatorCounters(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO karma_records`).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(int64(1), int64(0), 0, 0, 0, 0, 0, 1, 0, 0, now))
	mock.ExpectExec(`INSERT INTO karma_history`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if _, err := repo.Apply(context.Background(), Evaluation{
		EvaluatorID: 2, TargetID: 1, ScopeID: NoScope, Delta: 0, StarRating: 3, At: now,
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestApplyRollsBackWhenHistoryFails(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO karma_records`).
		WillReturnRows(sqlmock.NewRows(recordCols).AddRow(int64(1), int64(0), 1, 0, 0, 0, 0, 0, 0, 0, now))
	mock.ExpectExec(`INSERT INTO karma_history`).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	if _, err := repo.Apply(context.Background(), Evaluation{
		EvaluatorID: 2, TargetID: 1, Delta: 1, At: now,
	}); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGetReturnsNilWhenMissing(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`FROM karma_records WHERE user_id = \$1 AND scope_id = \$2`).
		WithArgs(int64(7), int64(0)).
		WillReturnRows(sqlmock.NewRows(recordCols))

	rec, err := repo.Get(context.Background(), 7, NoScope)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil, got %+v", rec)
	}
}

func TestLeaderboardOrdering(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(`ORDER BY score ASC`).
		WithArgs(int64(-5), 3).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "value"}).AddRow(int64(4), -9).AddRow(int64(2), 0))

	entries, err := repo.Leaderboard(context.Background(), -5, true, 3)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(entries) != 2 || entries[0].UserID != 4 || entries[0].Value != -9 {
		t.Fatalf("unexpected entries %+v", entries)
	}
}

func TestRichestScope(t *testing.T) {
	scope, ok := richestScope(map[int64]int{-3: 4, -1: 4, -2: 1})
	if !ok || scope != -3 {
		t.Fatalf("richestScope = %d, %v; want -3", scope, ok)
	}
	if _, ok := richestScope(nil); ok {
		t.Fatal("expected no scope for empty history")
	}
}
