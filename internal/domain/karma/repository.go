package karma

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/p2pdesk/p2pdesk-api/internal/pkg/database"
)

// Repository defines karma ledger data access interface
type Repository interface {
	// Apply appends the history entry, adjusts the target's score and star
	// tally and the evaluator's given counters, all in one transaction.
	Apply(ctx context.Context, ev Evaluation) (*Record, error)
	// Get returns nil, nil when the user has no record in the scope.
	Get(ctx context.Context, userID, scopeID int64) (*Record, error)
	ListByUser(ctx context.Context, userID int64) ([]Record, error)
	History(ctx context.Context, userID, scopeID int64, limit int) ([]HistoryEntry, error)
	// HistoryCounts returns the number of history entries per scope.
	HistoryCounts(ctx context.Context, userID int64) (map[int64]int, error)

	Leaderboard(ctx context.Context, scopeID int64, worstFirst bool, limit int) ([]RankEntry, error)
	TopGivers(ctx context.Context, scopeID int64, limit int) ([]RankEntry, error)
	TopReceivedSince(ctx context.Context, scopeID int64, since time.Time, limit int) ([]RankEntry, error)
}

type repository struct {
	db *sqlx.DB
	tx database.Transactor
}

// NewRepository creates new karma repository
func NewRepository(db *sqlx.DB, tx database.Transactor) Repository {
	return &repository{db: db, tx: tx}
}

const recordColumns = `user_id, scope_id, score, given_positive, given_negative,
	star_1, star_2, star_3, star_4, star_5, updated_at`

const historyColumns = `id, user_id, scope_id, evaluator_id, delta, star_rating, comment, evaluator_name, created_at`

func (r *repository) Apply(ctx context.Context, ev Evaluation) (*Record, error) {
	var record Record
	err := r.tx.WithinTx(ctx, func(ctx context.Context) error {
		exec := database.Executor(ctx, r.db)

		var stars [5]int
		if ev.StarRating >= MinStars && ev.StarRating <= MaxStars {
			stars[ev.StarRating-1] = 1
		}

		upsertTarget := `
			INSERT INTO karma_records (user_id, scope_id, score, star_1, star_2, star_3, star_4, star_5, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (user_id, scope_id) DO UPDATE
			SET score = karma_records.score + EXCLUDED.score,
			    star_1 = karma_records.star_1 + EXCLUDED.star_1,
			    star_2 = karma_records.star_2 + EXCLUDED.star_2,
			    star_3 = karma_records.star_3 + EXCLUDED.star_3,
			    star_4 = karma_records.star_4 + EXCLUDED.star_4,
			    star_5 = karma_records.star_5 + EXCLUDED.star_5,
			    updated_at = EXCLUDED.updated_at
			RETURNING ` + recordColumns
		if err := sqlx.GetContext(ctx, exec, &record, upsertTarget,
			ev.TargetID, ev.ScopeID, ev.Delta,
			stars[0], stars[1], stars[2], stars[3], stars[4], ev.At,
		); err != nil {
			return fmt.Errorf("upsert target record: %w", err)
		}

		h := ev.historyEntry()
		insertHistory := `
			INSERT INTO karma_history (` + historyColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
		if _, err := exec.ExecContext(ctx, insertHistory,
			h.ID, h.UserID, h.ScopeID, h.EvaluatorID, h.Delta,
			h.StarRating, h.Comment, h.EvaluatorName, h.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert history: %w", err)
		}

		if ev.Delta == 0 {
			return nil
		}
		positive, negative := 0, 0
		if ev.Delta > 0 {
			positive = 1
		} else {
			negative = 1
		}
		upsertEvaluator := `
			INSERT INTO karma_records (user_id, scope_id, given_positive, given_negative, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, scope_id) DO UPDATE
			SET given_positive = karma_records.given_positive + EXCLUDED.given_positive,
			    given_negative = karma_records.given_negative + EXCLUDED.given_negative,
			    updated_at = EXCLUDED.updated_at`
		if _, err := exec.ExecContext(ctx, upsertEvaluator,
			ev.EvaluatorID, ev.ScopeID, positive, negative, ev.At,
		); err != nil {
			return fmt.Errorf("upsert evaluator record: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("karma repository apply: %w", err)
	}
	return &record, nil
}

func (r *repository) Get(ctx context.Context, userID, scopeID int64) (*Record, error) {
	var record Record
	query := `SELECT ` + recordColumns + ` FROM karma_records WHERE user_id = $1 AND scope_id = $2`
	err := sqlx.GetContext(ctx, database.Executor(ctx, r.db), &record, query, userID, scopeID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("karma repository get: %w", err)
	}
	return &record, nil
}

func (r *repository) ListByUser(ctx context.Context, userID int64) ([]Record, error) {
	var records []Record
	query := `SELECT ` + recordColumns + ` FROM karma_records WHERE user_id = $1 ORDER BY scope_id`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &records, query, userID); err != nil {
		return nil, fmt.Errorf("karma repository list by user: %w", err)
	}
	return records, nil
}

func (r *repository) History(ctx context.Context, userID, scopeID int64, limit int) ([]HistoryEntry, error) {
	var entries []HistoryEntry
	query := `
		SELECT ` + historyColumns + `
		FROM karma_history
		WHERE user_id = $1 AND scope_id = $2
		ORDER BY created_at DESC
		LIMIT $3`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &entries, query, userID, scopeID, limit); err != nil {
		return nil, fmt.Errorf("karma repository history: %w", err)
	}
	return entries, nil
}

func (r *repository) HistoryCounts(ctx context.Context, userID int64) (map[int64]int, error) {
	var rows []struct {
		ScopeID int64 `db:"scope_id"`
		Count   int   `db:"count"`
	}
	query := `SELECT scope_id, COUNT(*) AS count FROM karma_history WHERE user_id = $1 GROUP BY scope_id`
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &rows, query, userID); err != nil {
		return nil, fmt.Errorf("karma repository history counts: %w", err)
	}

	counts := make(map[int64]int, len(rows))
	for _, row := range rows {
		counts[row.ScopeID] = row.Count
	}
	return counts, nil
}

func (r *repository) Leaderboard(ctx context.Context, scopeID int64, worstFirst bool, limit int) ([]RankEntry, error) {
	order := "DESC"
	if worstFirst {
		order = "ASC"
	}
	query := `
		SELECT user_id, score AS value
		FROM karma_records
		WHERE scope_id = $1
		ORDER BY score ` + order + `, user_id
		LIMIT $2`

	var entries []RankEntry
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &entries, query, scopeID, limit); err != nil {
		return nil, fmt.Errorf("karma repository leaderboard: %w", err)
	}
	return entries, nil
}

func (r *repository) TopGivers(ctx context.Context, scopeID int64, limit int) ([]RankEntry, error) {
	query := `
		SELECT user_id, given_positive AS value
		FROM karma_records
		WHERE scope_id = $1 AND given_positive > 0
		ORDER BY given_positive DESC, user_id
		LIMIT $2`

	var entries []RankEntry
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &entries, query, scopeID, limit); err != nil {
		return nil, fmt.Errorf("karma repository top givers: %w", err)
	}
	return entries, nil
}

func (r *repository) TopReceivedSince(ctx context.Context, scopeID int64, since time.Time, limit int) ([]RankEntry, error) {
	query := `
		SELECT user_id, SUM(delta) AS value
		FROM karma_history
		WHERE scope_id = $1 AND created_at >= $2
		GROUP BY user_id
		HAVING SUM(delta) > 0
		ORDER BY value DESC, user_id
		LIMIT $3`

	var entries []RankEntry
	if err := sqlx.SelectContext(ctx, database.Executor(ctx, r.db), &entries, query, scopeID, since, limit); err != nil {
		return nil, fmt.Errorf("karma repository top received: %w", err)
	}
	return entries, nil
}
