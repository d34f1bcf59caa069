package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrTimeout          = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Lookup errors
	ErrUserNotFound  = fmt.Errorf("user not found")
	ErrTrackNotFound = fmt.Errorf("track not found")
	ErrJobNotFound   = fmt.Errorf("job not found")
	ErrNoProgress    = fmt.Errorf("no progress recorded")

	// Precondition errors
	ErrNoEmbedding  = fmt.Errorf("track has no embedding")
	ErrNotInLibrary = fmt.Errorf("track is not in the user's library")

	// Per-track pipeline errors. These skip a single track and never abort a run.
	ErrFetch     = fmt.Errorf("audio fetch failed")
	ErrDecode    = fmt.Errorf("audio decode failed")
	ErrEmbedding = fmt.Errorf("embedding failed")

	// Job runner errors
	ErrQueueFull     = fmt.Errorf("job queue is full")
	ErrUnknownJob    = fmt.Errorf("unknown job kind")
	ErrRunnerStopped = fmt.Errorf("job runner stopped")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)
