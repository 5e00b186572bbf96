package user

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// Service resolves chat identities. It is the identity lookup consumed by the karma ledger.
type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// ResolveByID returns the user with the given chat id.
func (s *Service) ResolveByID(ctx context.Context, id int64) (*User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Resolve accepts either a numeric chat id or a display name / @handle.
func (s *Service) Resolve(ctx context.Context, query string) (*User, error) {
	q := normalizeHandle(query)
	if q == "" {
		return nil, ErrEmptyQuery
	}

	if id, err := strconv.ParseInt(q, 10, 64); err == nil {
		return s.ResolveByID(ctx, id)
	}

	u, err := s.repo.FindByHandle(ctx, q)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, ErrUserNotFound
	}
	return u, nil
}

// Register creates or refreshes a chat identity.
func (s *Service) Register(ctx context.Context, id int64, username, displayName string) (*User, error) {
	if id == 0 {
		return nil, ErrInvalidUser
	}
	username = normalizeHandle(username)
	u := &User{
		ID:          id,
		Username:    sql.NullString{String: username, Valid: username != ""},
		DisplayName: strings.TrimSpace(displayName),
	}
	if err := s.repo.Upsert(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}
