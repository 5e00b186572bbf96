package user

import "errors"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidUser  = errors.New("invalid user")
	ErrEmptyQuery   = errors.New("empty identity query")
)
