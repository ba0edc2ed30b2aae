package model

// Package model defines domain data structures shared across the core: download
// jobs, media variants produced by resolvers, and status/priority enums with
// explicit state transition rules.
