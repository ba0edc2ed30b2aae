package store

// Package store keeps the job table on disk so queued and partially
// downloaded jobs survive a restart. It is an optional adapter: a nil *Store
// in the scheduler disables persistence entirely.
