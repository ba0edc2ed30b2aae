package metadata

// Package metadata writes a small JSON sidecar next to each completed
// download so the source and chosen format stay recoverable after the job
// record is gone.
