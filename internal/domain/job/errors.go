package job

import "errors"

var (
	// ErrJobNotFound indicates the job doesn't exist.
	ErrJobNotFound = errors.New("job not found")
	// ErrStaleClaim indicates the presented claim token does not match the
	// job's current claim. The job was reclaimed after a lease expiry; the
	// late worker's completion must be rejected, not double-applied.
	ErrStaleClaim = errors.New("stale job claim")
	// ErrInvalidInput indicates invalid job input.
	ErrInvalidInput = errors.New("invalid job input")
)
