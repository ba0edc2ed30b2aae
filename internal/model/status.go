package model

// Status represents the lifecycle state of a download job
type Status string

const (
	// StatusQueued means the job is waiting for an admission slot
	StatusQueued Status = "Queued"

	// StatusResolving means a resolver is turning the source URL into variants
	StatusResolving Status = "Resolving"

	// StatusDownloading means a transfer worker is bound to the job
	StatusDownloading Status = "Downloading"

	// StatusPaused means the transfer was suspended with partial bytes kept on disk
	StatusPaused Status = "Paused"

	// StatusCompleted means the final file was written and renamed into place
	StatusCompleted Status = "Completed"

	// StatusFailed means the job failed and retries are exhausted
	StatusFailed Status = "Failed"

	// StatusCancelled means the user cancelled the job
	StatusCancelled Status = "Cancelled"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if no further transitions are possible except
// explicit retry (Failed) or removal.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// IsActive returns true if a worker is currently bound to the job
func (s Status) IsActive() bool {
	return s == StatusResolving || s == StatusDownloading
}

// validTransitions lists the allowed status edges. Cancellation from any
// non-terminal state is handled separately in CanTransition.
var validTransitions = map[Status][]Status{
	StatusQueued:      {StatusResolving, StatusDownloading, StatusPaused, StatusFailed},
	StatusResolving:   {StatusDownloading, StatusPaused, StatusFailed},
	StatusDownloading: {StatusDownloading, StatusCompleted, StatusPaused, StatusFailed, StatusQueued},
	StatusPaused:      {StatusQueued},
	StatusFailed:      {StatusQueued},
}

// CanTransition reports whether moving from one status to another is a legal
// edge of the job state machine.
func (s Status) CanTransition(to Status) bool {
	if to == StatusCancelled {
		return !s.IsTerminal()
	}
	for _, next := range validTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
