package transfer

// Package transfer performs the byte transfer for one fetch descriptor: range
// probing and resume, staging-file writes with atomic rename on completion,
// throttled progress reporting, optional rate limiting, and cooperative
// pause/cancel at chunk granularity.
