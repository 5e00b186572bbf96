package operation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid operation parameters")
	ErrNotFound            = errors.New("operation not found")
	ErrForbidden           = errors.New("action not allowed for this user")
	ErrNotParticipant      = fmt.Errorf("%w: user is not a participant", ErrForbidden)
	ErrWrongState          = errors.New("transition not allowed from current status")
	ErrNotAvailable        = fmt.Errorf("%w: operation is no longer available", ErrWrongState)
	ErrSelfAcceptForbidden = errors.New("creator cannot accept own operation")
	ErrExpired             = errors.New("operation has expired")
	ErrEvaluationsPending  = errors.New("pending evaluations must be completed first")
	ErrAlreadyRated        = fmt.Errorf("%w: the trade has already been rated", ErrWrongState)

	// ErrConflict is returned by repositories when a conditional update matched no row.
	ErrConflict = errors.New("operation changed concurrently")
)
