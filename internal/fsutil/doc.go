package fsutil

// Package fsutil provides filesystem helpers for the download core: directory
// creation, destination filename collision handling, filename sanitizing, and
// classification of disk errors.
