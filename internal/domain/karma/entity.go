package karma

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/p2pdesk/p2pdesk-api/internal/domain/reputation"
	"github.com/p2pdesk/p2pdesk-api/internal/domain/user"
)

// NoScope is the scope id used for private conversations and offers that were
// never attached to a group.
const NoScope int64 = 0

const (
	MinStars = 1
	MaxStars = 5

	// ReactionDelta is the weight of a single "+1"/"-1" reaction vote.
	ReactionDelta = 1
)

// StarDelta maps a 1..5 star rating onto a karma delta: 1★=-2, 2★=-1, 3★=0, 4★=+1, 5★=+2.
func StarDelta(stars int) int {
	return stars - 3
}

// Record is the reputation of one user inside one scope (matches karma_records table)
type Record struct {
	UserID        int64     `db:"user_id" json:"user_id"`
	ScopeID       int64     `db:"scope_id" json:"scope_id"`
	Score         int       `db:"score" json:"score"`
	GivenPositive int       `db:"given_positive" json:"given_positive"`
	GivenNegative int       `db:"given_negative" json:"given_negative"`
	Star1         int       `db:"star_1" json:"-"`
	Star2         int       `db:"star_2" json:"-"`
	Star3         int       `db:"star_3" json:"-"`
	Star4         int       `db:"star_4" json:"-"`
	Star5         int       `db:"star_5" json:"-"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`

	History []HistoryEntry `db:"-" json:"history,omitempty"`
}

// StarTally returns how many ratings of each star value the user has received.
func (r *Record) StarTally() map[int]int {
	return map[int]int{1: r.Star1, 2: r.Star2, 3: r.Star3, 4: r.Star4, 5: r.Star5}
}

func (r *Record) addStar(stars int) {
	switch stars {
	case 1:
		r.Star1++
	case 2:
		r.Star2++
	case 3:
		r.Star3++
	case 4:
		r.Star4++
	case 5:
		r.Star5++
	}
}

// HistoryEntry is one append-only ledger line (matches karma_history table)
type HistoryEntry struct {
	ID            uuid.UUID      `db:"id"`
	UserID        int64          `db:"user_id"`
	ScopeID       int64          `db:"scope_id"`
	EvaluatorID   int64          `db:"evaluator_id"`
	Delta         int            `db:"delta"`
	StarRating    sql.NullInt16  `db:"star_rating"`
	Comment       sql.NullString `db:"comment"`
	EvaluatorName sql.NullString `db:"evaluator_name"`
	CreatedAt     time.Time      `db:"created_at"`
}

// Evaluation is the input of a single ledger write.
type Evaluation struct {
	EvaluatorID   int64
	TargetID      int64
	ScopeID       int64
	Delta         int
	StarRating    int // 0 when the evaluation carries no stars
	Comment       string
	EvaluatorName string
	At            time.Time
}

func (e Evaluation) historyEntry() HistoryEntry {
	h := HistoryEntry{
		ID:            uuid.New(),
		UserID:        e.TargetID,
		ScopeID:       e.ScopeID,
		EvaluatorID:   e.EvaluatorID,
		Delta:         e.Delta,
		Comment:       sql.NullString{String: e.Comment, Valid: e.Comment != ""},
		EvaluatorName: sql.NullString{String: e.EvaluatorName, Valid: e.EvaluatorName != ""},
		CreatedAt:     e.At,
	}
	if e.StarRating != 0 {
		h.StarRating = sql.NullInt16{Int16: int16(e.StarRating), Valid: true}
	}
	return h
}

// Aggregate is a user's reputation summed over every scope they have a record in.
type Aggregate struct {
	User          *user.User
	Score         int
	GivenPositive int
	GivenNegative int
	Scopes        int
	// HistoryScope is the scope with the richest history; History and StarTally come from it.
	HistoryScope int64
	History      []HistoryEntry
	StarTally    map[int]int
	Level        reputation.Level
	// Unknown is set when the identity lookup failed and the aggregate is a zero placeholder.
	Unknown bool
}

// Standing is the reputation shown for a user in a given context: the exact
// scope record when one exists, the cross-scope aggregate otherwise.
type Standing struct {
	UserID int64            `json:"user_id"`
	Scope  int64            `json:"scope_id"`
	Score  int              `json:"score"`
	Level  reputation.Level `json:"level"`
	Source string           `json:"source"`
}

const (
	StandingSourceScope     = "scope"
	StandingSourceAggregate = "aggregate"
)

// RankEntry is one row of a ranking query.
type RankEntry struct {
	UserID int64 `db:"user_id" json:"user_id"`
	Value  int   `db:"value" json:"value"`
}

// HistoryEntryResponse for API response
type HistoryEntryResponse struct {
	Delta       int    `json:"delta"`
	StarRating  int    `json:"star_rating,omitempty"`
	Comment     string `json:"comment,omitempty"`
	EvaluatorID int64  `json:"evaluator_id"`
	Evaluator   string `json:"evaluator,omitempty"`
	CreatedAt   string `json:"created_at"`
}

func (h HistoryEntry) ToResponse() HistoryEntryResponse {
	return HistoryEntryResponse{
		Delta:       h.Delta,
		StarRating:  int(h.StarRating.Int16),
		Comment:     h.Comment.String,
		EvaluatorID: h.EvaluatorID,
		Evaluator:   h.EvaluatorName.String,
		CreatedAt:   h.CreatedAt.Format(time.RFC3339),
	}
}

// RecordResponse for API response
type RecordResponse struct {
	UserID        int64                  `json:"user_id"`
	ScopeID       int64                  `json:"scope_id"`
	Score         int                    `json:"score"`
	Level         reputation.Level       `json:"level"`
	GivenPositive int                    `json:"given_positive"`
	GivenNegative int                    `json:"given_negative"`
	StarTally     map[int]int            `json:"star_tally"`
	History       []HistoryEntryResponse `json:"history"`
}

func (r *Record) ToResponse() *RecordResponse {
	resp := &RecordResponse{
		UserID:        r.UserID,
		ScopeID:       r.ScopeID,
		Score:         r.Score,
		Level:         reputation.Classify(r.Score),
		GivenPositive: r.GivenPositive,
		GivenNegative: r.GivenNegative,
		StarTally:     r.StarTally(),
		History:       make([]HistoryEntryResponse, 0, len(r.History)),
	}
	for _, h := range r.History {
		resp.History = append(resp.History, h.ToResponse())
	}
	return resp
}

// AggregateResponse for API response
type AggregateResponse struct {
	User          *user.UserResponse     `json:"user,omitempty"`
	Score         int                    `json:"score"`
	Level         reputation.Level       `json:"level"`
	GivenPositive int                    `json:"given_positive"`
	GivenNegative int                    `json:"given_negative"`
	Scopes        int                    `json:"scopes"`
	HistoryScope  int64                  `json:"history_scope_id"`
	StarTally     map[int]int            `json:"star_tally"`
	History       []HistoryEntryResponse `json:"history"`
	Unknown       bool                   `json:"unknown,omitempty"`
}

func (a *Aggregate) ToResponse() *AggregateResponse {
	resp := &AggregateResponse{
		Score:         a.Score,
		Level:         a.Level,
		GivenPositive: a.GivenPositive,
		GivenNegative: a.GivenNegative,
		Scopes:        a.Scopes,
		HistoryScope:  a.HistoryScope,
		StarTally:     a.StarTally,
		History:       make([]HistoryEntryResponse, 0, len(a.History)),
		Unknown:       a.Unknown,
	}
	if a.User != nil {
		resp.User = a.User.ToResponse()
	}
	for _, h := range a.History {
		resp.History = append(resp.History, h.ToResponse())
	}
	return resp
}

// ReactionRequest is a "+1"/"-1" vote
type ReactionRequest struct {
	TargetID int64  `json:"target_id" validate:"required"`
	Positive bool   `json:"positive"`
	Comment  string `json:"comment" validate:"max=500"`
}
