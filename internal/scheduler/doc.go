package scheduler

// Package scheduler owns the job table. All admission and state mutations go
// through one mutex so callers never see a torn view; everything handed out
// is a clone, and change is externalized through the event bus. Workers run
// one per admitted job up to the concurrency limit.
