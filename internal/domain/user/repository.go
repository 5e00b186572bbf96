package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Repository defines user data access interface
type Repository interface {
	Upsert(ctx context.Context, user *User) error
	// GetByID returns nil, nil when the user is unknown
	GetByID(ctx context.Context, id int64) (*User, error)
	// FindByHandle matches username or display name exactly (case-insensitive),
	// then by prefix, then by substring. Returns nil, nil when nothing matches.
	FindByHandle(ctx context.Context, handle string) (*User, error)
}

type repository struct {
	db *sqlx.DB
}

// NewRepository creates new user repository
func NewRepository(db *sqlx.DB) Repository {
	return &repository{db: db}
}

const userColumns = `id, username, display_name, created_at, updated_at`

func (r *repository) Upsert(ctx context.Context, user *User) error {
	query := `
		INSERT INTO chat_users (id, username, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		SET username = EXCLUDED.username,
		    display_name = EXCLUDED.display_name,
		    updated_at = NOW()
		RETURNING ` + userColumns

	if err := r.db.GetContext(ctx, user, query, user.ID, user.Username, user.DisplayName); err != nil {
		return fmt.Errorf("user repository upsert: %w", err)
	}
	return nil
}

func (r *repository) GetByID(ctx context.Context, id int64) (*User, error) {
	var user User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM chat_users WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("user repository get: %w", err)
	}
	return &user, nil
}

func (r *repository) FindByHandle(ctx context.Context, handle string) (*User, error) {
	var user User
	err := r.db.GetContext(ctx, &user, `
		SELECT `+userColumns+` FROM chat_users
		WHERE lower(username) = lower($1) OR lower(display_name) = lower($1)
		ORDER BY (lower(username) = lower($1)) DESC NULLS LAST, id
		LIMIT 1
	`, handle)
	if err == nil {
		return &user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user repository exact lookup: %w", err)
	}

	pattern := escapeLike(strings.ToLower(handle))
	err = r.db.GetContext(ctx, &user, `
		SELECT `+userColumns+` FROM chat_users
		WHERE lower(username) LIKE '%' || $1 || '%' ESCAPE '\'
		   OR lower(display_name) LIKE '%' || $1 || '%' ESCAPE '\'
		ORDER BY CASE
		           WHEN lower(username) LIKE $1 || '%' ESCAPE '\' THEN 0
		           WHEN lower(display_name) LIKE $1 || '%' ESCAPE '\' THEN 1
		           ELSE 2
		         END, id
		LIMIT 1
	`, pattern)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("user repository fuzzy lookup: %w", err)
	}
	return &user, nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}
