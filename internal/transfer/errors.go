package transfer

import (
	"fmt"

	"github.com/mediaget/media-downloader/internal/fsutil"
)

// Kind classifies transfer failures
type Kind int

const (
	// KindNetwork covers connection failures, stalls, and truncated bodies.
	// The only kind eligible for automatic retry.
	KindNetwork Kind = iota

	// KindDiskFull means the destination filesystem is out of space
	KindDiskFull

	// KindPermission means the staging or final file could not be written
	KindPermission

	// KindRangeRejected means the server answered 416 to a resume request
	KindRangeRejected

	// KindCorrupt means bytes on disk do not match what the transfer wrote
	KindCorrupt
)

// Error is a typed transfer failure
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("transfer: %s: %v", e.Reason(), e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Reason returns a short human-readable description of the failure kind
func (e *Error) Reason() string {
	switch e.Kind {
	case KindNetwork:
		return "network error"
	case KindDiskFull:
		return "disk full"
	case KindPermission:
		return "permission denied"
	case KindRangeRejected:
		return "server rejected range request"
	case KindCorrupt:
		return "partial file corrupt"
	default:
		return "transfer failed"
	}
}

// Retryable reports whether the failure is transient enough for automatic retry
func (e *Error) Retryable() bool {
	return e.Kind == KindNetwork
}

// classifyDiskError maps filesystem errors to a transfer error kind
func classifyDiskError(err error) *Error {
	switch {
	case fsutil.IsDiskFull(err):
		return &Error{Kind: KindDiskFull, Err: err}
	case fsutil.IsPermission(err):
		return &Error{Kind: KindPermission, Err: err}
	default:
		// Unclassified local write failure leaves the partial in doubt
		return &Error{Kind: KindCorrupt, Err: err}
	}
}
