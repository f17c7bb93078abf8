package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("translation job not found")

	// ErrInvalidTransition is returned when a status update does not match the job's current status
	ErrInvalidTransition = errors.New("invalid translation job status transition")

	// ErrRateLimited marks an upstream capacity/429-class rejection. Translators wrap it.
	ErrRateLimited = errors.New("translation service rate limited")

	// ErrEmptyTranslation is returned when the upstream answers with no text
	ErrEmptyTranslation = errors.New("translation service returned empty text")
)

// IsRateLimited reports whether err carries the upstream rate-limit signal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
