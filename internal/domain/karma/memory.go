package karma

import (
	"context"
	"sort"
	"sync"
	"time"
)

type recordKey struct {
	userID  int64
	scopeID int64
}

// MemoryRepository keeps the ledger in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	records map[recordKey]*Record
	history []HistoryEntry
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[recordKey]*Record)}
}

func (r *MemoryRepository) record(userID, scopeID int64) *Record {
	key := recordKey{userID: userID, scopeID: scopeID}
	rec, ok := r.records[key]
	if !ok {
		rec = &Record{UserID: userID, ScopeID: scopeID}
		r.records[key] = rec
	}
	return rec
}

func (r *MemoryRepository) Apply(ctx context.Context, ev Evaluation) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	target := r.record(ev.TargetID, ev.ScopeID)
	target.Score += ev.Delta
	target.addStar(ev.StarRating)
	target.UpdatedAt = ev.At

	r.history = append(r.history, ev.historyEntry())

	if ev.Delta != 0 {
		evaluator := r.record(ev.EvaluatorID, ev.ScopeID)
		if ev.Delta > 0 {
			evaluator.GivenPositive++
		} else {
			evaluator.GivenNegative++
		}
		evaluator.UpdatedAt = ev.At
	}

	out := *target
	return &out, nil
}

func (r *MemoryRepository) Get(ctx context.Context, userID, scopeID int64) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[recordKey{userID: userID, scopeID: scopeID}]
	if !ok {
		return nil, nil
	}
	out := *rec
	return &out, nil
}

func (r *MemoryRepository) ListByUser(ctx context.Context, userID int64) ([]Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Record
	for key, rec := range r.records {
		if key.userID == userID {
			out = append(out, *rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScopeID < out[j].ScopeID })
	return out, nil
}

func (r *MemoryRepository) History(ctx context.Context, userID, scopeID int64, limit int) ([]HistoryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []HistoryEntry
	for i := len(r.history) - 1; i >= 0 && len(out) < limit; i-- {
		h := r.history[i]
		if h.UserID == userID && h.ScopeID == scopeID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (r *MemoryRepository) HistoryCounts(ctx context.Context, userID int64) (map[int64]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[int64]int)
	for _, h := range r.history {
		if h.UserID == userID {
			counts[h.ScopeID]++
		}
	}
	return counts, nil
}

func (r *MemoryRepository) Leaderboard(ctx context.Context, scopeID int64, worstFirst bool, limit int) ([]RankEntry, error) {
	r.mu.RLock()
	var entries []RankEntry
	for key, rec := range r.records {
		if key.scopeID == scopeID {
			entries = append(entries, RankEntry{UserID: key.userID, Value: rec.Score})
		}
	}
	r.mu.RUnlock()

	return rank(entries, !worstFirst, limit), nil
}

func (r *MemoryRepository) TopGivers(ctx context.Context, scopeID int64, limit int) ([]RankEntry, error) {
	r.mu.RLock()
	var entries []RankEntry
	for key, rec := range r.records {
		if key.scopeID == scopeID && rec.GivenPositive > 0 {
			entries = append(entries, RankEntry{UserID: key.userID, Value: rec.GivenPositive})
		}
	}
	r.mu.RUnlock()

	return rank(entries, true, limit), nil
}

func (r *MemoryRepository) TopReceivedSince(ctx context.Context, scopeID int64, since time.Time, limit int) ([]RankEntry, error) {
	r.mu.RLock()
	sums := make(map[int64]int)
	for _, h := range r.history {
		if h.ScopeID == scopeID && !h.CreatedAt.Before(since) {
			sums[h.UserID] += h.Delta
		}
	}
	r.mu.RUnlock()

	var entries []RankEntry
	for userID, sum := range sums {
		if sum > 0 {
			entries = append(entries, RankEntry{UserID: userID, Value: sum})
		}
	}
	return rank(entries, true, limit), nil
}

// rank orders entries by value, ties broken by user id, and truncates to limit.
func rank(entries []RankEntry, descending bool, limit int) []RankEntry {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Value != entries[j].Value {
			if descending {
				return entries[i].Value > entries[j].Value
			}
			return entries[i].Value < entries[j].Value
		}
		return entries[i].UserID < entries[j].UserID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
