package domain

import "errors"

// Domain errors
var (
	ErrAuthRequired        = errors.New("authentication required")
	ErrSaveNotFound        = errors.New("no save found for this game")
	ErrProfileNotFound     = errors.New("player profile not found")
	ErrAchievementNotFound = errors.New("achievement not found")
	ErrNotUnlocked         = errors.New("achievement not unlocked for this user")
	ErrFeaturedLimit       = errors.New("featured limit of 3 reached, unfeature one before adding another")
	ErrSandboxIncompatible = errors.New("sandbox does not support restore")
	ErrStorageFailure      = errors.New("save storage unavailable")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrInternalError       = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrSaveNotFound) ||
		errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrAchievementNotFound) ||
		errors.Is(err, ErrNotUnlocked)
}
