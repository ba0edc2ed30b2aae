package scheduler

import "errors"

var (
	// ErrDuplicateSubmission means a non-finished job for the same URL exists
	ErrDuplicateSubmission = errors.New("a job for this URL already exists")

	// ErrJobNotFound means the job ID is unknown
	ErrJobNotFound = errors.New("job not found")

	// ErrJobFinished means the job is in a terminal state
	ErrJobFinished = errors.New("job is already finished")

	// ErrJobNotPaused means resume was called on a job that is not paused
	ErrJobNotPaused = errors.New("job is not paused")

	// ErrJobNotFailed means retry was called on a job that is not failed
	ErrJobNotFailed = errors.New("job is not in a failed state")

	// ErrJobStillActive means remove was called before the job finished
	ErrJobStillActive = errors.New("job is still active, cancel it first")

	// ErrShuttingDown means the scheduler no longer accepts submissions
	ErrShuttingDown = errors.New("scheduler is shutting down")
)
