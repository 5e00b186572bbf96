package evaluation

import "errors"

var (
	ErrNotFound        = errors.New("no obligation for this operation and evaluator")
	ErrAlreadyExists   = errors.New("obligations already exist for this operation")
	ErrAlreadyResolved = errors.New("obligation already resolved")
	ErrInvalidParties  = errors.New("obligations need two distinct parties")
)
