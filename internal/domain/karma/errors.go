package karma

import "errors"

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrInvalidRating  = errors.New("star rating must be between 1 and 5")
	ErrInvalidQuery   = errors.New("invalid identity query")
	ErrSelfEvaluation = errors.New("users cannot evaluate themselves")
	ErrInvalidUser    = errors.New("invalid user id")
	ErrCooldown       = errors.New("reaction cooldown is still active")
)
