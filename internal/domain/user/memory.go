package user

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRepository keeps users in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[int64]User
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[int64]User)}
}

func (r *MemoryRepository) Upsert(ctx context.Context, user *User) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if existing, ok := r.users[user.ID]; ok {
		user.CreatedAt = existing.CreatedAt
	} else {
		user.CreatedAt = now
	}
	user.UpdatedAt = now
	r.users[user.ID] = *user
	return nil
}

func (r *MemoryRepository) GetByID(ctx context.Context, id int64) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (r *MemoryRepository) FindByHandle(ctx context.Context, handle string) (*User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(handle)
	ids := make([]int64, 0, len(r.users))
	for id := range r.users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// rank: 0 exact username, 1 exact display name, 2 username prefix,
	// 3 display name prefix, 4 substring
	best, bestRank := int64(0), 5
	for _, id := range ids {
		u := r.users[id]
		name := strings.ToLower(u.Username.String)
		display := strings.ToLower(u.DisplayName)

		rank := 5
		switch {
		case u.Username.Valid && name == q:
			rank = 0
		case display == q:
			rank = 1
		case u.Username.Valid && strings.HasPrefix(name, q):
			rank = 2
		case strings.HasPrefix(display, q):
			rank = 3
		case (u.Username.Valid && strings.Contains(name, q)) || strings.Contains(display, q):
			rank = 4
		}
		if rank < bestRank {
			best, bestRank = id, rank
		}
	}

	if bestRank == 5 {
		return nil, nil
	}
	u := r.users[best]
	return &u, nil
}
