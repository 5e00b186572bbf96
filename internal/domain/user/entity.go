package user

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// User is a chat participant as reported by a gateway (matches chat_users table)
type User struct {
	ID          int64          `db:"id"`
	Username    sql.NullString `db:"username"`
	DisplayName string         `db:"display_name"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
}

// Name returns the best human-readable name for the user
func (u *User) Name() string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	if u.Username.Valid && u.Username.String != "" {
		return "@" + u.Username.String
	}
	return strconv.FormatInt(u.ID, 10)
}

// UserResponse for API response
type UserResponse struct {
	ID          int64  `json:"id"`
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"display_name"`
}

func (u *User) ToResponse() *UserResponse {
	return &UserResponse{
		ID:          u.ID,
		Username:    u.Username.String,
		DisplayName: u.Name(),
	}
}

// RegisterRequest registers or refreshes the caller's identity
type RegisterRequest struct {
	Username    string `json:"username" validate:"omitempty,max=64"`
	DisplayName string `json:"display_name" validate:"max=128"`
}

// normalizeHandle strips the @ prefix and surrounding whitespace.
func normalizeHandle(q string) string {
	return strings.TrimPrefix(strings.TrimSpace(q), "@")
}
